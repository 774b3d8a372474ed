package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	resetClear bool
	resetYes   bool
)

var resetCmd = &cobra.Command{
	Use:     "reset",
	GroupID: "sync",
	Short:   "Restart sync, optionally wiping local data first",
	Long: `Stop the sync engine and start it again so every record is re-pulled.

With --clear, local records, the outbox, sync cursors and stored
appointments are deleted before restarting. Pending local changes that
have not reached the peer are lost.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if resetClear {
			ok, err := confirm("Clear all local data?", "Unsynced changes will be lost.", resetYes)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Reset cancelled")
				return nil
			}
		}

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Reset(ctx, resetClear)
		if jsonOutput && result != nil {
			if perr := printJSON(result); perr != nil {
				return perr
			}
		}
		if err != nil {
			return fmt.Errorf("reset failed: %w", err)
		}
		defer a.Stop(context.Background())

		if !jsonOutput {
			fmt.Printf("%s Reset complete\n", renderPass("✓"))
			fmt.Printf("   Outbox drained: %v\n", result.OutboxEmptyObserved)
			fmt.Printf("   Stop: %s  Clear: %s  Start: %s\n", result.Stop, result.Clear, result.Start)
		}
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetClear, "clear", false, "Delete local data before restarting")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")

	rootCmd.AddCommand(resetCmd)
}
