package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/orion/tasksync/internal/schema"
)

// ErrVersionMismatch is matched by *VersionMismatchError.
var ErrVersionMismatch = errors.New("version mismatch")

// VersionMismatchError is returned by CompareAndPut when the stored
// version differs from the caller's base version.
type VersionMismatchError struct {
	Current *Record
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("version mismatch for %s %s (current version %d)", e.Current.Model, e.Current.ID, e.Current.Version)
}

func (e *VersionMismatchError) Is(target error) bool {
	return target == ErrVersionMismatch
}

// PendingMutation is one outbox entry.
type PendingMutation struct {
	Seq         int64
	Model       schema.Model
	RecordID    string
	Op          OpType
	BaseVersion int64
}

// PendingMutations returns the outbox in insertion order.
func (s *Store) PendingMutations(ctx context.Context) ([]PendingMutation, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT seq, model, record_id, op, base_version FROM outbox ORDER BY seq ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var pending []PendingMutation
	for rows.Next() {
		var p PendingMutation
		var model, op string
		if err := rows.Scan(&p.Seq, &model, &p.RecordID, &op, &p.BaseVersion); err != nil {
			return nil, fmt.Errorf("failed to scan outbox entry: %w", err)
		}
		p.Model = schema.Model(model)
		p.Op = OpType(op)
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox: %w", err)
	}
	return pending, nil
}

// OutboxDepth returns the number of pending outbox entries.
func (s *Store) OutboxDepth(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM outbox").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count outbox: %w", err)
	}
	return count, nil
}

// HasPending reports whether a record has unpushed local changes.
func (s *Store) HasPending(ctx context.Context, model schema.Model, id string) (bool, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM outbox WHERE model = ? AND record_id = ?", string(model), id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check outbox for %s %s: %w", model, id, err)
	}
	return count > 0, nil
}

// AckMutations records a successful push: outbox entries for the record up
// to and including uptoSeq are removed and the record takes the version
// and timestamp assigned by the remote.
func (s *Store) AckMutations(ctx context.Context, model schema.Model, id string, uptoSeq, version, lastChangedAt int64) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM outbox WHERE model = ? AND record_id = ? AND seq <= ?",
		string(model), id, uptoSeq); err != nil {
		return fmt.Errorf("failed to ack outbox for %s %s: %w", model, id, err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE records SET version = ?, last_changed_at = MAX(last_changed_at, ?) WHERE model = ? AND id = ?",
		version, lastChangedAt, string(model), id); err != nil {
		return fmt.Errorf("failed to update version for %s %s: %w", model, id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DropPending removes every outbox entry for a record without touching the
// record itself. Used when the remote copy wins a conflict.
func (s *Store) DropPending(ctx context.Context, model schema.Model, id string) error {
	if _, err := s.conn.ExecContext(ctx,
		"DELETE FROM outbox WHERE model = ? AND record_id = ?", string(model), id); err != nil {
		return fmt.Errorf("failed to drop outbox for %s %s: %w", model, id, err)
	}
	return nil
}

// RecordsChangedSince returns records of a model changed after since,
// tombstones included, oldest change first.
func (s *Store) RecordsChangedSince(ctx context.Context, model schema.Model, since int64) ([]*Record, error) {
	query := `
	SELECT model, id, pk, sk, data, version, last_changed_at, deleted
	FROM records
	WHERE model = ? AND last_changed_at > ?
	ORDER BY last_changed_at ASC, id ASC
	`
	rows, err := s.conn.QueryContext(ctx, query, string(model), since)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes for %s: %w", model, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// CompareAndPut writes rec if the stored version equals baseVersion (or the
// record is absent). The stored copy gets version baseVersion+1 and a fresh
// timestamp. No outbox entry is written. A mismatch returns
// *VersionMismatchError carrying the current record.
func (s *Store) CompareAndPut(ctx context.Context, rec *Record, baseVersion int64) (*Record, error) {
	data, err := stripMeta(rec.Data)
	if err != nil {
		return nil, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := s.getAny(ctx, tx, rec.Model, rec.ID)
	if err != nil {
		return nil, err
	}
	if current != nil && current.Version != baseVersion {
		return nil, &VersionMismatchError{Current: current}
	}

	stored := rec.Clone()
	stored.Data = data
	stored.Version = baseVersion + 1
	stored.LastChangedAt = s.now()
	if current != nil && stored.LastChangedAt <= current.LastChangedAt {
		stored.LastChangedAt = current.LastChangedAt + 1
	}

	if err := upsertRecord(ctx, tx, stored); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.emit(Mutation{Model: stored.Model, Op: mutationOp(current, stored), Record: stored.Clone(), Remote: true})
	return stored, nil
}

// ApplyRemote writes a record exactly as received from the remote,
// including version, timestamp and tombstone. No outbox entry is written.
// Observers see the change flagged Remote.
func (s *Store) ApplyRemote(ctx context.Context, rec *Record) error {
	data, err := stripMeta(rec.Data)
	if err != nil {
		return err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := s.getAny(ctx, tx, rec.Model, rec.ID)
	if err != nil {
		return err
	}

	stored := rec.Clone()
	stored.Data = data
	if err := upsertRecord(ctx, tx, stored); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	if current != nil && current.Deleted && stored.Deleted {
		return nil
	}
	s.emit(Mutation{Model: stored.Model, Op: mutationOp(current, stored), Record: stored.Clone(), Remote: true})
	return nil
}

func mutationOp(current, next *Record) OpType {
	switch {
	case next.Deleted:
		return OpDelete
	case current == nil || current.Deleted:
		return OpInsert
	default:
		return OpUpdate
	}
}

// SyncCursor returns the pull watermark for a model.
func (s *Store) SyncCursor(ctx context.Context, model schema.Model) (int64, error) {
	var last int64
	err := s.conn.QueryRowContext(ctx,
		"SELECT last_sync FROM sync_cursor WHERE model = ?", string(model)).Scan(&last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read sync cursor for %s: %w", model, err)
	}
	return last, nil
}

// SetSyncCursor stores the pull watermark for a model.
func (s *Store) SetSyncCursor(ctx context.Context, model schema.Model, last int64) error {
	query := `
	INSERT INTO sync_cursor (model, last_sync) VALUES (?, ?)
	ON CONFLICT(model) DO UPDATE SET last_sync = excluded.last_sync
	`
	if _, err := s.conn.ExecContext(ctx, query, string(model), last); err != nil {
		return fmt.Errorf("failed to write sync cursor for %s: %w", model, err)
	}
	return nil
}
