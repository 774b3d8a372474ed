// Package app wires the store, sync engine, state machine and services
// into one handle used by the command line.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/orion/tasksync/internal/appointment"
	"github.com/orion/tasksync/internal/config"
	"github.com/orion/tasksync/internal/conflict"
	"github.com/orion/tasksync/internal/datastore"
	"github.com/orion/tasksync/internal/fixture"
	"github.com/orion/tasksync/internal/kv"
	"github.com/orion/tasksync/internal/logging"
	"github.com/orion/tasksync/internal/replica"
	"github.com/orion/tasksync/internal/schema"
	"github.com/orion/tasksync/internal/subscription"
	"github.com/orion/tasksync/internal/syncstate"
	"go.uber.org/zap"
)

// ErrLocalOnly is returned by operations that need a remote when none is
// configured.
var ErrLocalOnly = errors.New("no remote configured")

// App holds every long-lived component.
type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	Store       *datastore.Store
	Collections *datastore.Collections
	Machine     *syncstate.Machine

	// Replicator and Peer are nil in local-only mode
	Replicator *replica.Replicator
	Peer       *replica.PeerRemote

	// Monitor is nil unless remote.check_addr is set
	Monitor *syncstate.Monitor

	KV           kv.Store
	Appointments *appointment.Service
	Importer     *fixture.Importer

	// One subscription adapter per entity type
	Activities         *subscription.Adapter[*schema.Activity]
	Questions          *subscription.Adapter[*schema.Question]
	Tasks              *subscription.Adapter[*schema.Task]
	TaskAnswers        *subscription.Adapter[*schema.TaskAnswer]
	TaskResults        *subscription.Adapter[*schema.TaskResult]
	TaskHistories      *subscription.Adapter[*schema.TaskHistory]
	DataPoints         *subscription.Adapter[*schema.DataPoint]
	DataPointInstances *subscription.Adapter[*schema.DataPointInstance]

	closers []func() error
}

// Open builds the app from cfg. Nothing syncs until Start.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	logger = logging.OrNop(logger)
	a := &App{Config: cfg, Logger: logger}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	storeCfg := datastore.DefaultConfig()
	storeCfg.Logger = logger.Named("store")
	store, err := datastore.OpenWithConfig(cfg.DBPath, storeCfg)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	store.Configure(conflict.New(logger).Handler())

	if cfg.Remote.CheckAddr != "" {
		monCfg := syncstate.DefaultMonitorConfig()
		monCfg.Logger = logger
		a.Monitor = syncstate.NewMonitor(cfg.Remote.CheckAddr, monCfg)
	}

	if cfg.Remote.Path != "" {
		peer, err := replica.OpenPeer(cfg.Remote.Path, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Peer = peer
		a.closers = append(a.closers, peer.Close)

		repCfg := replica.DefaultConfig()
		repCfg.Interval = cfg.Remote.SyncInterval
		repCfg.Logger = logger
		if a.Monitor != nil {
			repCfg.Check = a.Monitor.Check
		}
		a.Replicator = replica.New(store, peer, repCfg)
		store.Attach(a.Replicator)
	}

	a.Machine = syncstate.NewMachine(logger)
	detach := a.Machine.Attach(store.Hub())
	a.closers = append(a.closers, func() error { detach(); return nil })

	a.KV, err = openKV(ctx, cfg.KV, store)
	if err != nil {
		a.Close()
		return nil, err
	}
	if c, ok := a.KV.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	a.Collections = datastore.NewCollections(store)
	a.Appointments = appointment.NewService(a.KV, logger)
	a.Importer = fixture.NewImporter(fixture.RepositoriesFor(a.Collections), a.Appointments, logger)

	subOpts := subscription.Options{
		RefreshOnDelete:       cfg.Subscription.RefreshOnDelete,
		DeleteRefreshThrottle: cfg.Subscription.DeleteRefreshThrottle,
		Debug:                 cfg.Subscription.Debug,
	}
	a.Activities = newAdapter(a.Collections.Activities, subOpts, logger)
	a.Questions = newAdapter(a.Collections.Questions, subOpts, logger)
	a.Tasks = newAdapter(a.Collections.Tasks, subOpts, logger)
	a.TaskAnswers = newAdapter(a.Collections.TaskAnswers, subOpts, logger)
	a.TaskResults = newAdapter(a.Collections.TaskResults, subOpts, logger)
	a.TaskHistories = newAdapter(a.Collections.TaskHistories, subOpts, logger)
	a.DataPoints = newAdapter(a.Collections.DataPoints, subOpts, logger)
	a.DataPointInstances = newAdapter(a.Collections.DataPointInstances, subOpts, logger)

	logger.Debug("app opened",
		zap.String("db", cfg.DBPath),
		zap.Bool("local_only", a.Replicator == nil),
		zap.String("kv", cfg.KV.Backend))
	return a, nil
}

func newAdapter[T schema.Entity](source subscription.Source[T], opts subscription.Options, logger *zap.Logger) *subscription.Adapter[T] {
	a := subscription.New[T](source, logger)
	a.SetDefaults(opts)
	return a
}

func openKV(ctx context.Context, cfg config.KVConfig, store *datastore.Store) (kv.Store, error) {
	switch cfg.Backend {
	case "redis":
		client, err := kv.NewRedisClient(ctx, kv.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return kv.NewRedis(client, "tasksync:"), nil
	default:
		return kv.NewSQLite(ctx, store.RawDB())
	}
}

// Start starts syncing. Failures move the state machine to Error and are
// not returned.
func (a *App) Start(ctx context.Context) {
	a.Machine.Start(ctx, a.Store)
}

// Stop stops the sync engine within the configured stop timeout.
func (a *App) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.Config.Lifecycle.StopTimeout)
	defer cancel()
	return a.Store.Stop(ctx)
}

// WaitForInitialSync blocks until the first sync is ready, fails or times
// out.
func (a *App) WaitForInitialSync(ctx context.Context, timeout time.Duration) datastore.InitialSyncOutcome {
	return datastore.WaitForInitialSync(ctx, a.Store, timeout)
}

// Reset restarts the store, clearing local data first when clear is set.
// Clearing also drops the stored appointments.
func (a *App) Reset(ctx context.Context, clear bool) (*datastore.ResetResult, error) {
	mode := datastore.ResetRestart
	if clear {
		mode = datastore.ResetClearAndRestart
	}
	opts := datastore.DefaultResetOptions(mode)
	lc := a.Config.Lifecycle
	if lc.StopTimeout > 0 {
		opts.StopTimeout = lc.StopTimeout
	}
	if lc.StartTimeout > 0 {
		opts.StartTimeout = lc.StartTimeout
	}
	if lc.ClearTimeout > 0 {
		opts.ClearTimeout = lc.ClearTimeout
	}
	if lc.OutboxTimeout > 0 {
		opts.OutboxTimeout = lc.OutboxTimeout
	}
	opts.Logger = a.Logger

	result, err := datastore.Reset(ctx, a.Store, opts)
	if err != nil {
		return result, err
	}
	if clear {
		if err := a.Appointments.Clear(ctx); err != nil {
			return result, err
		}
	}
	return result, nil
}

// SyncOnce runs a single replication cycle outside the background loop.
func (a *App) SyncOnce(ctx context.Context) error {
	if a.Replicator == nil {
		return ErrLocalOnly
	}
	return a.Replicator.RunOnce(ctx)
}

// RunMonitor feeds network check results into the state machine until ctx
// is cancelled. It returns at once when no check address is configured.
func (a *App) RunMonitor(ctx context.Context) {
	if a.Monitor == nil {
		return
	}
	a.Monitor.Run(ctx, a.Machine.SetNetwork)
}

// Import loads path and imports it.
func (a *App) Import(ctx context.Context, path string, opts *fixture.Options) (*fixture.Result, error) {
	fx, err := fixture.Load(path)
	if err != nil {
		return nil, err
	}
	return a.Importer.Import(ctx, fx, opts)
}

// ClearSeeded deletes every record and the stored appointments, then
// pushes the deletes when a remote is configured.
func (a *App) ClearSeeded(ctx context.Context) (*fixture.ClearResult, error) {
	result, err := a.Importer.ClearSeeded(ctx)
	if err != nil {
		return result, err
	}
	if a.Replicator != nil {
		if err := a.SyncOnce(ctx); err != nil {
			a.Logger.Warn("cleared records not pushed yet", zap.Error(err))
		}
	}
	return result, nil
}

// Close releases everything Open acquired, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
