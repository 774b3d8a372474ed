// Command tasksync manages the offline-first task, activity and
// appointment store.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/orion/tasksync/internal/app"
	"github.com/orion/tasksync/internal/config"
	"github.com/orion/tasksync/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configFile string
	jsonOutput bool

	v      = config.New()
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tasksync",
	Short: "Offline-first store for tasks, activities and appointments",
	Long: `tasksync keeps tasks, activities, questions and appointments in a local
store, replicates them with a peer store, and seeds them from fixture files.

Configuration is read from tasksync.{yaml,toml,json} in the working directory
or ~/.tasksync, from TASKSYNC_* environment variables, and from flags.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(v, configFile)
		if err != nil {
			return err
		}
		logger, err = logging.New(cfg.Log.Logging())
		if err != nil {
			return err
		}
		initColor()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "data", Title: "Data:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Config file (default: ./tasksync.yaml or ~/.tasksync/tasksync.yaml)")
	pf.String("data-dir", "", "Directory holding the local store")
	pf.String("remote", "", "Peer store to replicate with")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVar(&jsonOutput, "json", false, "Output JSON")

	_ = v.BindPFlag("data_dir", pf.Lookup("data-dir"))
	_ = v.BindPFlag("remote.path", pf.Lookup("remote"))
	_ = v.BindPFlag("log.level", pf.Lookup("log-level"))
}

// openApp opens the store and services for one command.
func openApp(ctx context.Context) (*app.App, error) {
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return a, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
