package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/orion/tasksync/internal/app"
	"github.com/orion/tasksync/internal/fixture"
	"github.com/spf13/cobra"
)

var (
	servePort     int
	serveHost     string
	serveWatchDir string
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Run sync in the foreground",
	Long: `Start the sync engine and keep it running until interrupted.

With --dashboard, a WebSocket dashboard streams sync state, live query
counts, imports and conflicts. With --watch, fixture files in the given
directory are re-imported whenever they change.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dash, _ := cmd.Flags().GetBool("dashboard")
		return serve(app.ServeOptions{
			Dashboard:     dash,
			DashboardHost: serveHost,
			DashboardPort: dashboardPort(cmd),
			WatchDir:      serveWatchDir,
			WatchOptions:  fixture.DefaultOptions(),
		})
	},
}

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Start the real-time WebSocket dashboard",
	Long: `Start sync and a WebSocket dashboard server for monitoring it.

WebSocket messages include:
- sync_state: sync state machine changes (also sent on connect)
- snapshot: activity, question and task counts after each live query
- import_complete: a fixture import finished
- conflict: a write conflict was resolved during sync

Example usage:
  tasksync dashboard                 # Start on the configured port (8080)
  tasksync dashboard --port 9000     # Start on a custom port

Connect with a WebSocket client:
  ws://localhost:8080/ws

Other endpoints: /health, /state and /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(app.ServeOptions{
			Dashboard:     true,
			DashboardHost: serveHost,
			DashboardPort: dashboardPort(cmd),
			WatchDir:      serveWatchDir,
			WatchOptions:  fixture.DefaultOptions(),
		})
	},
}

var watchCmd = &cobra.Command{
	Use:     "watch <dir>",
	GroupID: "data",
	Short:   "Re-import fixture files when they change",
	Long: `Import every fixture in dir, then watch it and re-import a file once it
has been quiet for watch.debounce. Records are updated in place; nothing is
pruned.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(app.ServeOptions{
			WatchDir:     args[0],
			WatchOptions: fixture.DefaultOptions(),
		})
	},
}

func dashboardPort(cmd *cobra.Command) int {
	if cmd.Flags().Changed("port") {
		return servePort
	}
	return cfg.Dashboard.Port
}

func serve(opts app.ServeOptions) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	opts.OnReady = func(addr string) {
		if addr != "" {
			fmt.Printf("Dashboard server started on http://%s\n", addr)
			fmt.Printf("WebSocket endpoint: ws://%s/ws\n", addr)
			fmt.Printf("Health check: http://%s/health\n", addr)
		}
		if opts.WatchDir != "" {
			fmt.Printf("%s Watching %s\n", renderAccent("👀"), opts.WatchDir)
		}
		if a.Replicator != nil {
			fmt.Printf("%s Syncing with %s\n", renderAccent("🔄"), cfg.Remote.Path)
		} else {
			fmt.Println(renderMuted("Local-only mode"))
		}
		fmt.Println("\nPress Ctrl+C to stop...")
	}

	if err := a.Serve(ctx, opts); err != nil {
		return err
	}
	fmt.Println("\nStopped")
	return nil
}

func init() {
	for _, c := range []*cobra.Command{serveCmd, dashboardCmd} {
		c.Flags().IntVarP(&servePort, "port", "p", 8080, "Dashboard port to listen on")
		c.Flags().StringVar(&serveHost, "host", "", "Dashboard host to bind (default: all interfaces)")
		c.Flags().StringVar(&serveWatchDir, "watch", "", "Also re-import fixtures from this directory")
	}
	serveCmd.Flags().Bool("dashboard", false, "Start the WebSocket dashboard")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(watchCmd)
}
