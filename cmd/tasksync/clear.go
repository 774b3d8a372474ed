package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/orion/tasksync/internal/schema"
	"github.com/spf13/cobra"
)

var clearSeededYes bool

var clearSeededCmd = &cobra.Command{
	Use:     "clear-seeded",
	GroupID: "data",
	Short:   "Delete all records and appointments everywhere",
	Long: `Delete every task, activity, question, answer, result, history entry
and data point, and clear the stored appointments.

Unlike reset --clear, the deletes are ordinary changes: they are pushed to
the peer store and remove the records from every device that syncs with
it. Meant for test and demo data.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		ok, err := confirm("Delete all seeded data?", "Deletes replicate to every synced device.", clearSeededYes)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Clear cancelled")
			return nil
		}

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.ClearSeeded(ctx)
		if err != nil {
			return fmt.Errorf("clear failed: %w", err)
		}
		if jsonOutput {
			return printJSON(result)
		}

		fmt.Printf("%s Deleted %d records\n", renderPass("✓"), result.Total())
		for _, model := range schema.AllModels() {
			if n := result.Deleted[model]; n > 0 {
				fmt.Printf("   %-18s %d\n", model, n)
			}
		}
		if result.ClearedAppointments {
			fmt.Printf("   %-18s cleared\n", "Appointments")
		}
		return nil
	},
}

func init() {
	clearSeededCmd.Flags().BoolVarP(&clearSeededYes, "yes", "y", false, "Do not ask for confirmation")

	rootCmd.AddCommand(clearSeededCmd)
}
