package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/orion/tasksync/internal/appointment"
	"github.com/orion/tasksync/internal/schema"
	"github.com/orion/tasksync/internal/syncstate"
	"github.com/spf13/cobra"
)

var statusWait time.Duration

type statusReport struct {
	Store        string               `json:"store"`
	SizeBytes    int64                `json:"sizeBytes"`
	Remote       string               `json:"remote,omitempty"`
	KV           string               `json:"kv"`
	Counts       map[schema.Model]int `json:"counts"`
	Pending      int                  `json:"pending"`
	Appointments int                  `json:"appointments"`
	State        any                  `json:"state"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "data",
	Short:   "Show store contents and sync state",
	Long: `Display the local store location, record counts per type, pending
outbox entries, stored appointments and the sync state.

With --wait the store is started and the first sync is awaited before the
state is reported.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if statusWait > 0 {
			a.Start(ctx)
			a.WaitForInitialSync(ctx, statusWait)
			defer a.Stop(ctx)
		}

		report := statusReport{
			Store:  cfg.DBPath,
			Remote: cfg.Remote.Path,
			KV:     cfg.KV.Backend,
			Counts: make(map[schema.Model]int),
			State:  a.Machine.State(),
		}
		if info, err := os.Stat(cfg.DBPath); err == nil {
			report.SizeBytes = info.Size()
		}
		for _, model := range schema.AllModels() {
			n, err := a.Store.CountRecords(ctx, model)
			if err != nil {
				return err
			}
			report.Counts[model] = n
		}
		if report.Pending, err = a.Store.OutboxDepth(ctx); err != nil {
			return err
		}
		data, err := a.Appointments.Load(ctx)
		if err != nil {
			return err
		}
		report.Appointments = len(appointment.Live(data))

		if jsonOutput {
			return printJSON(report)
		}

		state := a.Machine.State()
		fmt.Printf("\n%s\n", renderHeader("Store"))
		fmt.Printf("   Path:    %s (%d KB)\n", report.Store, report.SizeBytes/1024)
		if report.Remote != "" {
			fmt.Printf("   Remote:  %s\n", report.Remote)
		} else {
			fmt.Printf("   Remote:  %s\n", renderMuted("none (local-only)"))
		}
		fmt.Printf("   KV:      %s\n", report.KV)

		fmt.Printf("\n%s\n", renderHeader("Records"))
		for _, model := range schema.AllModels() {
			fmt.Printf("   %-18s %d\n", model, report.Counts[model])
		}
		fmt.Printf("   %-18s %d\n", "Appointments", report.Appointments)

		fmt.Printf("\n%s\n", renderHeader("Sync"))
		syncLabel := string(state.SyncState)
		switch state.SyncState {
		case syncstate.Synced:
			syncLabel = renderPass(syncLabel)
		case syncstate.Error:
			syncLabel = renderFail(syncLabel)
		default:
			syncLabel = renderWarn(syncLabel)
		}
		fmt.Printf("   State:     %s\n", syncLabel)
		fmt.Printf("   Network:   %s\n", state.NetworkStatus)
		fmt.Printf("   Pending:   %d\n", report.Pending)
		fmt.Printf("   Conflicts: %d\n\n", state.ConflictCount)
		return nil
	},
}

func init() {
	statusCmd.Flags().DurationVar(&statusWait, "wait", 0, "Start sync and wait up to this long before reporting")

	rootCmd.AddCommand(statusCmd)
}
