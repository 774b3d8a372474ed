package replica

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/orion/tasksync/internal/datastore"
	"github.com/orion/tasksync/internal/logging"
	"github.com/orion/tasksync/internal/metrics"
	"github.com/orion/tasksync/internal/schema"
	"go.uber.org/zap"
)

// ErrOffline is returned by RunOnce when the remote cannot be reached.
var ErrOffline = errors.New("remote is offline")

// Config holds replicator configuration.
type Config struct {
	// Interval between replication cycles
	Interval time.Duration

	// MaxConflictAttempts is how many times a conflicting push is retried
	// with the resolved record before the remote copy is accepted
	MaxConflictAttempts int

	// Models to replicate (default: all stored models)
	Models []schema.Model

	// Check overrides Remote.Ping for the network check
	Check func(ctx context.Context) error

	// Logger for replication activity
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:            2 * time.Second,
		MaxConflictAttempts: 3,
		Models:              schema.AllModels(),
	}
}

// Replicator pushes the outbox to a Remote and pulls remote changes. It
// implements datastore.Engine.
type Replicator struct {
	store  *datastore.Store
	remote Remote
	config *Config
	logger *zap.Logger

	// cycleMu serializes cycles between Run and RunOnce
	cycleMu sync.Mutex
	started bool
	ready   bool
	online  *bool
	full    bool
}

// New creates a replicator. A nil config uses DefaultConfig.
func New(store *datastore.Store, remote Remote, config *Config) *Replicator {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.MaxConflictAttempts <= 0 {
		config.MaxConflictAttempts = defaults.MaxConflictAttempts
	}
	if len(config.Models) == 0 {
		config.Models = defaults.Models
	}
	return &Replicator{
		store:  store,
		remote: remote,
		config: config,
		logger: logging.OrNop(config.Logger).Named("sync"),
	}
}

// Run replicates every Interval until ctx is cancelled. The first cycle
// ignores the pull cursors so a restart re-pulls everything.
func (r *Replicator) Run(ctx context.Context) error {
	r.cycleMu.Lock()
	r.started, r.ready, r.online, r.full = false, false, nil, true
	r.cycleMu.Unlock()

	r.logger.Info("replication started", zap.Duration("interval", r.config.Interval))

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		if err := r.RunOnce(ctx); err != nil && !errors.Is(err, ErrOffline) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("replication cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			r.logger.Info("replication stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single push and pull cycle.
func (r *Replicator) RunOnce(ctx context.Context) error {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	start := time.Now()
	defer func() {
		metrics.SyncDuration.Observe(time.Since(start).Seconds())
	}()

	hub := r.store.Hub()

	online := r.ping(ctx) == nil
	if r.online == nil || *r.online != online {
		r.online = &online
		hub.Publish(datastore.Event{Name: datastore.EventNetworkStatus, Data: datastore.NetworkStatus{Active: online}})
	}
	if !online {
		metrics.SyncCycles.WithLabelValues("offline").Inc()
		return ErrOffline
	}

	if !r.started {
		r.started = true
		hub.Publish(datastore.Event{Name: datastore.EventSyncQueriesStarted})
	}

	if err := r.push(ctx); err != nil {
		return r.fail(fmt.Errorf("failed to push outbox: %w", err))
	}
	if err := r.pull(ctx, r.full); err != nil {
		return r.fail(fmt.Errorf("failed to pull changes: %w", err))
	}
	r.full = false

	if !r.ready {
		r.ready = true
		r.store.MarkSynced(true)
		hub.Publish(datastore.Event{Name: datastore.EventReady})
	}

	depth, err := r.store.OutboxDepth(ctx)
	if err != nil {
		return r.fail(err)
	}
	hub.Publish(datastore.Event{Name: datastore.EventOutboxStatus, Data: datastore.OutboxStatus{IsEmpty: depth == 0}})

	metrics.SyncCycles.WithLabelValues("ok").Inc()
	r.logger.Debug("replication cycle complete",
		zap.Int("outbox", depth),
		zap.Duration("took", time.Since(start)))
	return nil
}

func (r *Replicator) ping(ctx context.Context) error {
	if r.config.Check != nil {
		return r.config.Check(ctx)
	}
	return r.remote.Ping(ctx)
}

func (r *Replicator) fail(err error) error {
	metrics.SyncCycles.WithLabelValues("error").Inc()
	r.ready = false
	r.store.Hub().Publish(datastore.Event{Name: datastore.EventSyncQueriesError, Data: err})
	return err
}

// pendingRecord is the collapsed outbox state of one record.
type pendingRecord struct {
	model  schema.Model
	id     string
	maxSeq int64
}

func (r *Replicator) push(ctx context.Context) error {
	pending, err := r.store.PendingMutations(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	index := make(map[string]int)
	var records []pendingRecord
	for _, p := range pending {
		key := string(p.Model) + "/" + p.RecordID
		if i, ok := index[key]; ok {
			records[i].maxSeq = p.Seq
			continue
		}
		index[key] = len(records)
		records = append(records, pendingRecord{model: p.Model, id: p.RecordID, maxSeq: p.Seq})
	}

	r.logger.Debug("pushing outbox", zap.Int("entries", len(pending)), zap.Int("records", len(records)))

	for _, p := range records {
		local, err := r.store.GetAnyRecord(ctx, p.model, p.id)
		if err != nil {
			return err
		}
		if local == nil {
			if err := r.store.DropPending(ctx, p.model, p.id); err != nil {
				return err
			}
			continue
		}
		if err := r.pushRecord(ctx, local, p.maxSeq); err != nil {
			return err
		}
	}
	return nil
}

func (r *Replicator) pushRecord(ctx context.Context, local *datastore.Record, uptoSeq int64) error {
	op := datastore.OpUpdate
	switch {
	case local.Deleted:
		op = datastore.OpDelete
	case local.Version == 0:
		op = datastore.OpInsert
	}

	candidate, base := local, local.Version
	for attempt := 1; ; attempt++ {
		stored, err := r.remote.Push(ctx, candidate, base)
		if err == nil {
			if candidate != local {
				// The resolved record replaces the local copy.
				if err := r.store.ApplyRemote(ctx, stored); err != nil {
					return err
				}
			}
			return r.store.AckMutations(ctx, local.Model, local.ID, uptoSeq, stored.Version, stored.LastChangedAt)
		}

		var conflict *ConflictError
		if !errors.As(err, &conflict) {
			return err
		}
		remote := conflict.Remote

		r.store.Hub().Publish(datastore.Event{
			Name: datastore.EventConflictDetected,
			Data: datastore.ConflictInfo{Model: string(local.Model), ID: local.ID, Attempts: attempt},
		})
		r.logger.Info("conflict detected",
			zap.String("model", string(local.Model)),
			zap.String("id", local.ID),
			zap.Int64("local_version", base),
			zap.Int64("remote_version", remote.Version),
			zap.Int("attempts", attempt))

		if attempt >= r.config.MaxConflictAttempts {
			r.logger.Warn("conflict retries exhausted, accepting remote",
				zap.String("model", string(local.Model)),
				zap.String("id", local.ID))
			return r.acceptRemote(ctx, remote, uptoSeq)
		}

		resolved, err := r.store.ResolveConflict(ctx, datastore.ConflictData{
			Model:     local.Model,
			Local:     local,
			Remote:    remote,
			Operation: op,
			Attempts:  attempt,
		})
		if err != nil {
			return fmt.Errorf("failed to resolve conflict on %s %s: %w", local.Model, local.ID, err)
		}
		if resolved == nil || resolved == remote {
			return r.acceptRemote(ctx, remote, uptoSeq)
		}

		candidate = resolved.Clone()
		candidate.Model, candidate.ID = local.Model, local.ID
		base = remote.Version
	}
}

func (r *Replicator) acceptRemote(ctx context.Context, remote *datastore.Record, uptoSeq int64) error {
	if err := r.store.ApplyRemote(ctx, remote); err != nil {
		return err
	}
	return r.store.AckMutations(ctx, remote.Model, remote.ID, uptoSeq, remote.Version, remote.LastChangedAt)
}

func (r *Replicator) pull(ctx context.Context, full bool) error {
	for _, model := range r.config.Models {
		var since int64
		if !full {
			var err error
			since, err = r.store.SyncCursor(ctx, model)
			if err != nil {
				return err
			}
		}

		changed, err := r.remote.Pull(ctx, model, since)
		if err != nil {
			return err
		}

		cursor := since
		applied := 0
		for _, rec := range changed {
			cursor = max(cursor, rec.LastChangedAt)

			pending, err := r.store.HasPending(ctx, model, rec.ID)
			if err != nil {
				return err
			}
			if pending {
				// The next push sees this version as a conflict.
				continue
			}

			local, err := r.store.GetAnyRecord(ctx, model, rec.ID)
			if err != nil {
				return err
			}
			if local != nil && local.Version >= rec.Version {
				continue
			}
			if err := r.store.ApplyRemote(ctx, rec); err != nil {
				return err
			}
			applied++
		}

		if cursor != since || full {
			if err := r.store.SetSyncCursor(ctx, model, cursor); err != nil {
				return err
			}
		}
		if applied > 0 {
			r.logger.Debug("pulled changes", zap.String("model", string(model)), zap.Int("applied", applied))
		}
	}
	return nil
}
