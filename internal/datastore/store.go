// Package datastore provides the local persistent store for tasksync.
//
// The store is an embedded SQLite database opened in WAL mode. Every record
// type lives in one records table keyed by (model, id). Each record has a
// JSON body, an optimistic version and a tombstone flag. Local writes
// append to an outbox that the replicator drains.
//
// Architecture:
//   - Database file: .tasksync/store.db
//   - WAL mode: concurrent readers during writes
//   - Schema: records, outbox, sync_cursor, kv tables
//   - Change feeds: Observe (per-mutation) and ObserveQuery (live snapshot)
//
// Workflow:
//  1. Application code saves and deletes through a Collection
//  2. The store stamps id, timestamp and version, and emits a Mutation
//  3. The attached sync engine pushes the outbox and pulls remote changes
//  4. Live queries re-read and re-emit after every change
package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orion/tasksync/internal/logging"
	"github.com/orion/tasksync/internal/metrics"
	"github.com/orion/tasksync/internal/schema"
	"go.uber.org/zap"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

var (
	// ErrNotFound is returned when a live record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrRunning is returned by Clear while the store is started.
	ErrRunning = errors.New("store is running")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store is closed")
)

// Config holds store configuration.
type Config struct {
	// Logger for store activity (default: no-op)
	Logger *zap.Logger

	// Clock supplies record timestamps (default: time.Now)
	Clock func() time.Time

	// ObserverBuffer is the per-observer mutation channel capacity
	ObserverBuffer int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Logger:         zap.NewNop(),
		Clock:          time.Now,
		ObserverBuffer: 256,
	}
}

// Store is the embedded record store.
type Store struct {
	conn   *sql.DB
	path   string
	config *Config
	logger *zap.Logger
	hub    *Hub

	mu        sync.Mutex
	observers map[schema.Model]map[*observer]struct{}
	watchers  map[schema.Model]map[chan struct{}]struct{}
	synced    bool
	gen       int64
	running   bool
	closed    bool

	engine          Engine
	engineCancel    context.CancelFunc
	engineDone      chan struct{}
	conflictHandler ConflictHandler
}

// Open creates a store at the specified path with default configuration.
//
// The database is opened in embedded mode with WAL for concurrent reads and
// the schema is created if missing.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	store, err := datastore.Open(".tasksync/store.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string) (*Store, error) {
	return OpenWithConfig(path, DefaultConfig())
}

// OpenWithConfig creates a store with custom configuration.
func OpenWithConfig(path string, config *Config) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.ObserverBuffer <= 0 {
		config.ObserverBuffer = DefaultConfig().ObserverBuffer
	}
	logger := logging.OrNop(config.Logger).Named("datastore")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Connection pragmas are set through the DSN so every pooled
	// connection carries them.
	connStr := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		conn:      conn,
		path:      path,
		config:    config,
		logger:    logger,
		hub:       NewHub(logger),
		observers: make(map[schema.Model]map[*observer]struct{}),
		watchers:  make(map[schema.Model]map[chan struct{}]struct{}),
	}

	if err := s.InitSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection.
// The kv package shares it for the key-value table.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Hub returns the lifecycle event hub.
func (s *Store) Hub() *Hub {
	return s.hub
}

// Close stops the sync engine and closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		s.logger.Warn("sync engine did not stop before close", zap.Error(err))
	}

	s.mu.Lock()
	s.closed = true
	for _, set := range s.observers {
		for o := range set {
			o.close()
		}
	}
	s.observers = make(map[schema.Model]map[*observer]struct{})
	s.mu.Unlock()

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn("failed to checkpoint WAL", zap.Error(err))
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// This is idempotent - safe to call multiple times.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS records (
		model TEXT NOT NULL,
		id TEXT NOT NULL,
		pk TEXT NOT NULL DEFAULT '',
		sk TEXT NOT NULL DEFAULT '',
		data TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		last_changed_at INTEGER NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (model, id)
	);

	-- Local mutations not yet pushed to the remote
	CREATE TABLE IF NOT EXISTS outbox (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		model TEXT NOT NULL,
		record_id TEXT NOT NULL,
		op TEXT NOT NULL,
		base_version INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	-- Pull watermark per model
	CREATE TABLE IF NOT EXISTS sync_cursor (
		model TEXT PRIMARY KEY,
		last_sync INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_live ON records(model, deleted);
	CREATE INDEX IF NOT EXISTS idx_records_business_key ON records(model, pk, sk);
	CREATE INDEX IF NOT EXISTS idx_records_changed ON records(model, last_changed_at);
	CREATE INDEX IF NOT EXISTS idx_outbox_record ON outbox(model, record_id);
	`

	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func (s *Store) now() int64 {
	return s.config.Clock().UnixMilli()
}

// QueryRecords returns all live records of a model.
func (s *Store) QueryRecords(model schema.Model) ([]*Record, error) {
	return s.QueryRecordsContext(context.Background(), model)
}

// QueryRecordsContext returns all live records of a model, oldest change first.
func (s *Store) QueryRecordsContext(ctx context.Context, model schema.Model) ([]*Record, error) {
	query := `
	SELECT model, id, pk, sk, data, version, last_changed_at, deleted
	FROM records
	WHERE model = ? AND deleted = 0
	ORDER BY last_changed_at ASC, id ASC
	`
	rows, err := s.conn.QueryContext(ctx, query, string(model))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", model, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// GetRecord returns a live record by id.
// Returns ErrNotFound if missing or deleted.
func (s *Store) GetRecord(ctx context.Context, model schema.Model, id string) (*Record, error) {
	rec, err := s.getAny(ctx, s.conn, model, id)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Deleted {
		return nil, fmt.Errorf("%s %s: %w", model, id, ErrNotFound)
	}
	return rec, nil
}

// GetAnyRecord returns a record by id including tombstones, or nil.
func (s *Store) GetAnyRecord(ctx context.Context, model schema.Model, id string) (*Record, error) {
	return s.getAny(ctx, s.conn, model, id)
}

// CountRecords returns the number of live records of a model.
func (s *Store) CountRecords(ctx context.Context, model schema.Model) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM records WHERE model = ? AND deleted = 0", string(model)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", model, err)
	}
	return count, nil
}

// SaveRecord inserts or updates a record.
//
// An empty ID creates a new record with a fresh id. Otherwise the existing
// record is updated in place; its version is left at the last value
// acknowledged by the remote and serves as the base for conflict detection.
func (s *Store) SaveRecord(ctx context.Context, rec *Record) (*Record, error) {
	if rec == nil {
		return nil, fmt.Errorf("record cannot be nil")
	}
	if rec.Model == "" {
		return nil, fmt.Errorf("record model is required")
	}

	data, err := stripMeta(rec.Data)
	if err != nil {
		return nil, err
	}

	stored := rec.Clone()
	stored.Data = data
	stored.Deleted = false
	stored.LastChangedAt = s.now()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	op := OpInsert
	if stored.ID == "" {
		stored.ID = uuid.NewString()
		stored.Version = 0
	} else {
		existing, err := s.getAny(ctx, tx, stored.Model, stored.ID)
		if err != nil {
			return nil, err
		}
		switch {
		case existing == nil:
			stored.Version = 0
		case existing.Deleted:
			return nil, fmt.Errorf("cannot save deleted %s %s: %w", stored.Model, stored.ID, ErrNotFound)
		default:
			op = OpUpdate
			stored.Version = existing.Version
			if stored.LastChangedAt <= existing.LastChangedAt {
				stored.LastChangedAt = existing.LastChangedAt + 1
			}
		}
	}

	if err := upsertRecord(ctx, tx, stored); err != nil {
		return nil, err
	}
	if err := appendOutbox(ctx, tx, stored, op, s.now()); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	metrics.StoreWrites.WithLabelValues(string(stored.Model), string(op)).Inc()
	s.emit(Mutation{Model: stored.Model, Op: op, Record: stored.Clone()})
	s.hub.Publish(Event{Name: EventOutboxStatus, Data: OutboxStatus{IsEmpty: false}})
	return stored, nil
}

// DeleteRecord marks a record deleted, leaving a tombstone for sync.
// Returns nil if the record is already deleted or doesn't exist (idempotent).
func (s *Store) DeleteRecord(ctx context.Context, model schema.Model, id string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := s.getAny(ctx, tx, model, id)
	if err != nil {
		return err
	}
	if existing == nil || existing.Deleted {
		return nil
	}

	existing.Deleted = true
	existing.LastChangedAt = max(s.now(), existing.LastChangedAt+1)
	if err := upsertRecord(ctx, tx, existing); err != nil {
		return err
	}
	if err := appendOutbox(ctx, tx, existing, OpDelete, s.now()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	metrics.StoreWrites.WithLabelValues(string(model), string(OpDelete)).Inc()
	s.emit(Mutation{Model: model, Op: OpDelete, Record: existing.Clone()})
	s.hub.Publish(Event{Name: EventOutboxStatus, Data: OutboxStatus{IsEmpty: false}})
	return nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) getAny(ctx context.Context, q queryer, model schema.Model, id string) (*Record, error) {
	query := `
	SELECT model, id, pk, sk, data, version, last_changed_at, deleted
	FROM records
	WHERE model = ? AND id = ?
	`
	row := q.QueryRowContext(ctx, query, string(model), id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", model, id, err)
	}
	return rec, nil
}

func upsertRecord(ctx context.Context, q queryer, rec *Record) error {
	query := `
	INSERT INTO records (model, id, pk, sk, data, version, last_changed_at, deleted)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(model, id) DO UPDATE SET
		pk = excluded.pk,
		sk = excluded.sk,
		data = excluded.data,
		version = excluded.version,
		last_changed_at = excluded.last_changed_at,
		deleted = excluded.deleted
	`
	data := string(rec.Data)
	if data == "" {
		data = "{}"
	}
	_, err := q.ExecContext(ctx, query,
		string(rec.Model),
		rec.ID,
		rec.PK,
		rec.SK,
		data,
		rec.Version,
		rec.LastChangedAt,
		boolToInt(rec.Deleted),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %s %s: %w", rec.Model, rec.ID, err)
	}
	return nil
}

func appendOutbox(ctx context.Context, q queryer, rec *Record, op OpType, now int64) error {
	query := `
	INSERT INTO outbox (model, record_id, op, base_version, created_at)
	VALUES (?, ?, ?, ?, ?)
	`
	if _, err := q.ExecContext(ctx, query, string(rec.Model), rec.ID, string(op), rec.Version, now); err != nil {
		return fmt.Errorf("failed to append outbox entry for %s %s: %w", rec.Model, rec.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var model, data string
	var deleted int
	if err := row.Scan(
		&model,
		&rec.ID,
		&rec.PK,
		&rec.SK,
		&data,
		&rec.Version,
		&rec.LastChangedAt,
		&deleted,
	); err != nil {
		return nil, err
	}
	rec.Model = schema.Model(model)
	rec.Data = []byte(data)
	rec.Deleted = deleted != 0
	return &rec, nil
}

// scanRecords is a helper function to scan multiple records from query results.
func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
