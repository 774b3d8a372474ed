package app

import (
	"context"
	"errors"

	"github.com/orion/tasksync/internal/dashboard"
	"github.com/orion/tasksync/internal/fixture"
	"github.com/orion/tasksync/internal/schema"
	"github.com/orion/tasksync/internal/syncstate"
	"github.com/orion/tasksync/internal/watch"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ServeOptions selects the long-running components Serve runs.
type ServeOptions struct {
	// Dashboard starts the WebSocket dashboard on DashboardPort
	Dashboard     bool
	DashboardHost string
	DashboardPort int

	// WatchDir re-imports fixtures from this directory when set
	WatchDir     string
	WatchOptions fixture.Options

	// OnReady is called once the dashboard (if any) is listening
	OnReady func(dashboardAddr string)
}

// Serve starts syncing and runs the selected components until ctx is
// cancelled. The store is stopped before Serve returns.
func (a *App) Serve(ctx context.Context, opts ServeOptions) error {
	g, gctx := errgroup.WithContext(ctx)

	var handler *dashboard.Handler
	var addr string
	if opts.Dashboard {
		server := dashboard.NewServer(&dashboard.Config{
			Host:   opts.DashboardHost,
			Port:   opts.DashboardPort,
			State:  func() any { return a.Machine.State() },
			Logger: a.Logger,
		})
		if err := server.Start(); err != nil {
			return err
		}
		addr = server.GetAddr()
		defer server.Stop()

		handler = dashboard.NewHandler(server, a.Logger)
		defer a.Machine.Subscribe(handler.OnSyncState)()
		defer handler.Listen(a.Store.Hub())()
		defer a.Activities.Subscribe(func(items []*schema.Activity, synced bool) {
			handler.OnSnapshot(schema.ModelActivity, len(items), synced)
		}, nil)()
		defer a.Questions.Subscribe(func(items []*schema.Question, synced bool) {
			handler.OnSnapshot(schema.ModelQuestion, len(items), synced)
		}, nil)()
		defer a.Tasks.Subscribe(func(items []*schema.Task, synced bool) {
			handler.OnSnapshot(schema.ModelTask, len(items), synced)
		}, nil)()
	}

	a.Start(gctx)
	defer func() {
		if err := a.Stop(context.Background()); err != nil {
			a.Logger.Warn("store did not stop cleanly", zap.Error(err))
		}
	}()

	g.Go(func() error {
		a.RunMonitor(gctx)
		return nil
	})

	if opts.WatchDir != "" {
		wcfg := watch.DefaultConfig()
		if a.Config.Watch.Debounce > 0 {
			wcfg.Debounce = a.Config.Watch.Debounce
		}
		wcfg.Options = opts.WatchOptions
		wcfg.Logger = a.Logger
		if handler != nil {
			wcfg.OnImport = handler.OnImportComplete
		}
		r, err := watch.New(opts.WatchDir, a.Importer, wcfg)
		if err != nil {
			return err
		}
		g.Go(func() error { return r.Run(gctx) })
	}

	if opts.OnReady != nil {
		opts.OnReady(addr)
	}

	<-gctx.Done()
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if state := a.Machine.State(); state.SyncState == syncstate.Error {
		a.Logger.Warn("stopped with sync in error state")
	}
	return nil
}
