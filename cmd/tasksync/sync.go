package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/orion/tasksync/internal/datastore"
	"github.com/spf13/cobra"
)

var errNoRemote = errors.New("no remote configured: set remote.path or pass --remote")

var syncTimeout time.Duration

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run a full sync with the peer store",
	Long: `Start replication, wait for the first full cycle to finish, and stop.

The first cycle pushes every pending local change and then re-pulls all
records from the peer, ignoring the saved cursors.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if a.Replicator == nil {
			return errNoRemote
		}

		fmt.Printf("%s Syncing with %s...\n", renderAccent("🔄"), cfg.Remote.Path)
		start := time.Now()

		a.Start(ctx)
		outcome := a.WaitForInitialSync(ctx, syncTimeout)

		depth, _ := a.Store.OutboxDepth(ctx)
		if err := a.Stop(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", renderWarn("⚠"), err)
		}

		if jsonOutput {
			return printJSON(map[string]any{
				"outcome": outcome,
				"outbox":  depth,
				"state":   a.Machine.State(),
			})
		}

		switch outcome {
		case datastore.InitialSyncReady:
			fmt.Printf("%s Sync complete in %v\n", renderPass("✓"), time.Since(start).Round(time.Millisecond))
		case datastore.InitialSyncFailed:
			return fmt.Errorf("sync failed; see the log for the cause")
		default:
			return fmt.Errorf("sync did not finish within %v", syncTimeout)
		}
		fmt.Printf("   Pending: %d\n", depth)
		return nil
	},
}

func init() {
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 30*time.Second, "How long to wait for the sync")

	rootCmd.AddCommand(syncCmd)
}
