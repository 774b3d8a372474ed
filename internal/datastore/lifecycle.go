package datastore

import (
	"context"
	"errors"
	"fmt"

	"github.com/orion/tasksync/internal/schema"
	"go.uber.org/zap"
)

// Engine is a sync engine driven by the store lifecycle. Run blocks until
// ctx is cancelled or the engine fails.
type Engine interface {
	Run(ctx context.Context) error
}

// ConflictData describes a write conflict between a pending local change
// and the remote copy of the same record.
type ConflictData struct {
	Model     schema.Model
	Local     *Record
	Remote    *Record
	Operation OpType
	Attempts  int
}

// ConflictHandler resolves a conflict to the record that should win.
// Returning the remote record discards the local change.
type ConflictHandler func(ctx context.Context, c ConflictData) (*Record, error)

// Configure installs the conflict handler. It is meant to be called once
// at process start, before Start.
func (s *Store) Configure(handler ConflictHandler) {
	s.mu.Lock()
	s.conflictHandler = handler
	s.mu.Unlock()
}

// ResolveConflict runs the configured handler. Without one, the remote
// record wins.
func (s *Store) ResolveConflict(ctx context.Context, c ConflictData) (*Record, error) {
	s.mu.Lock()
	handler := s.conflictHandler
	s.mu.Unlock()

	if handler == nil {
		return c.Remote, nil
	}
	return handler(ctx, c)
}

// Attach sets the sync engine started by Start. Passing nil detaches it.
func (s *Store) Attach(engine Engine) {
	s.mu.Lock()
	s.engine = engine
	s.mu.Unlock()
}

// IsRunning reports whether Start has been called without a matching Stop.
func (s *Store) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start begins syncing.
//
// With no engine attached the store is local-only: it publishes
// syncQueriesStarted and ready at once and marks itself synced. Otherwise
// the engine runs in the background until Stop.
func (s *Store) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	engine := s.engine

	if engine == nil {
		s.mu.Unlock()
		s.logger.Info("starting in local-only mode")
		s.hub.Publish(Event{Name: EventSyncQueriesStarted})
		s.MarkSynced(true)
		s.hub.Publish(Event{Name: EventReady})
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.engineCancel = cancel
	s.engineDone = done
	s.mu.Unlock()

	s.logger.Info("starting sync engine")
	go func() {
		defer close(done)
		if err := engine.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("sync engine stopped", zap.Error(err))
			s.hub.Publish(Event{Name: EventSyncQueriesError, Data: err})
		}
	}()
	return nil
}

// Stop cancels the sync engine and waits for it to exit or for ctx to
// expire, whichever comes first.
func (s *Store) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel, done := s.engineCancel, s.engineDone
	s.engineCancel, s.engineDone = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}

	s.logger.Info("stopping sync engine")
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to stop sync engine: %w", ctx.Err())
	}
}

// Clear wipes every record, the outbox and the sync cursors, and resets
// the synced flag. The store must be stopped.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrRunning
	}
	s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"records", "outbox", "sync_cursor"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("store cleared")
	s.MarkSynced(false)
	s.notifyAll()
	return nil
}
