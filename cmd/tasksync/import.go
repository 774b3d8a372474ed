package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/orion/tasksync/internal/fixture"
	"github.com/orion/tasksync/internal/schema"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	importUpdateExisting bool
	importPrune          bool
	importPruneDerived   bool
	importYes            bool
)

var importCmd = &cobra.Command{
	Use:     "import <fixture-file>",
	GroupID: "data",
	Short:   "Reconcile the store against a fixture file",
	Long: `Import a versioned fixture bundle (.json, .yaml, .yml or .toml).

Records are matched by business key: activities by pk and sk, tasks and
questions by pk. Matched records are updated with the fields the fixture
defines, missing ones are created, and re-running the same import changes
nothing.

With --prune, records absent from the fixture and duplicate records are
deleted. --prune-derived also wipes answers, results, history and data
points. Both ask for confirmation unless --yes is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if importPruneDerived && !importPrune {
			fmt.Fprintf(os.Stderr, "%s --prune-derived has no effect without --prune\n", renderWarn("⚠"))
		}
		if importPrune {
			desc := "Records not in the fixture will be deleted."
			if importPruneDerived {
				desc += " All answers, results, history and data points will be deleted too."
			}
			ok, err := confirm("Prune records not in "+args[0]+"?", desc, importYes)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Import cancelled")
				return nil
			}
		}

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		opts := &fixture.Options{
			UpdateExisting:     importUpdateExisting,
			PruneNonFixture:    importPrune,
			PruneDerivedModels: importPruneDerived,
		}
		result, err := a.Import(ctx, args[0], opts)
		if err != nil {
			if result != nil && !jsonOutput {
				printImportResult(result)
			}
			return fmt.Errorf("import failed: %w", err)
		}

		if a.Replicator != nil {
			if err := a.SyncOnce(ctx); err != nil {
				logger.Warn("imported records not pushed yet", zap.Error(err))
			}
		}

		if jsonOutput {
			return printJSON(result)
		}
		fmt.Printf("%s Imported %s\n", renderPass("✓"), args[0])
		printImportResult(result)
		return nil
	},
}

func printImportResult(r *fixture.Result) {
	rows := []struct {
		name   string
		counts fixture.Counts
	}{
		{"Activities", r.Activities},
		{"Questions", r.Questions},
		{"Tasks", r.Tasks},
	}
	for _, row := range rows {
		fmt.Printf("   %-12s %d created, %d updated, %d skipped\n",
			row.name, row.counts.Created, row.counts.Updated, row.counts.Skipped)
	}
	if r.Appointments.Saved {
		fmt.Printf("   %-12s saved\n", "Appointments")
	}
	if r.Pruned != nil {
		fmt.Printf("   %-12s %d deleted (%d activities, %d questions, %d tasks)\n", "Pruned",
			r.Pruned.Total(), r.Pruned.Activities, r.Pruned.Questions, r.Pruned.Tasks)
		for _, model := range schema.DerivedModels {
			if n := r.Pruned.Derived[model]; n > 0 {
				fmt.Printf("   %-12s %d %s\n", "", n, model)
			}
		}
	}
}

func init() {
	importCmd.Flags().BoolVar(&importUpdateExisting, "update-existing", true, "Overwrite matched records with fixture fields")
	importCmd.Flags().BoolVar(&importPrune, "prune", false, "Delete records not in the fixture and duplicates")
	importCmd.Flags().BoolVar(&importPruneDerived, "prune-derived", false, "With --prune, also delete all derived records")
	importCmd.Flags().BoolVarP(&importYes, "yes", "y", false, "Do not ask for confirmation")

	rootCmd.AddCommand(importCmd)
}
