package datastore

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orion/tasksync/internal/schema"
	"github.com/tidwall/gjson"
)

// testStore opens a store in a temporary directory.
func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// fixedClock returns a clock that advances one millisecond per call.
func fixedClock(start time.Time) func() time.Time {
	var n atomic.Int64
	return func() time.Time {
		return start.Add(time.Duration(n.Add(1)) * time.Millisecond)
	}
}

func TestOpen_Success(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "store.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer store.Close()

	if store.Path() != path {
		t.Errorf("path = %q, want %q", store.Path(), path)
	}

	tables := []string{"records", "outbox", "sync_cursor"}
	for _, table := range tables {
		var count int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
		if err := store.RawDB().QueryRow(query, table).Scan(&count); err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	store := testStore(t)
	if err := store.InitSchema(); err != nil {
		t.Fatalf("Second InitSchema() failed: %v", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}

func TestCollection_SaveAssignsID(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	tasks := NewCollections(store).Tasks

	saved, err := tasks.Save(ctx, &schema.Task{PK: "TASK-1", SK: "SK-1", Title: "Morning survey"})
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("Save() did not assign an id")
	}
	if saved.LastChangedAt == 0 {
		t.Error("Save() did not stamp _lastChangedAt")
	}

	got, err := tasks.Get(ctx, saved.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Title != "Morning survey" || got.PK != "TASK-1" {
		t.Errorf("Get() = %+v", got)
	}
}

func TestCollection_SaveValidates(t *testing.T) {
	store := testStore(t)
	tasks := NewCollections(store).Tasks

	if _, err := tasks.Save(context.Background(), &schema.Task{Title: "no pk"}); err == nil {
		t.Fatal("expected validation error for missing pk")
	}
	count, err := store.CountRecords(context.Background(), schema.ModelTask)
	if err != nil {
		t.Fatalf("CountRecords() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("invalid task was stored (count = %d)", count)
	}
}

func TestCollection_UpdateKeepsID(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	tasks := NewCollections(store).Tasks

	saved, err := tasks.Save(ctx, &schema.Task{PK: "TASK-1", Title: "v1"})
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	saved.Title = "v2"
	updated, err := tasks.Save(ctx, saved)
	if err != nil {
		t.Fatalf("second Save() failed: %v", err)
	}
	if updated.ID != saved.ID {
		t.Errorf("update changed id: %s -> %s", saved.ID, updated.ID)
	}
	if updated.LastChangedAt <= saved.LastChangedAt {
		t.Errorf("_lastChangedAt did not advance: %d -> %d", saved.LastChangedAt, updated.LastChangedAt)
	}

	all, err := tasks.Query(ctx)
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(all) != 1 || all[0].Title != "v2" {
		t.Errorf("Query() = %+v, want one task titled v2", all)
	}
}

func TestDeleteRecord_Tombstone(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	tasks := NewCollections(store).Tasks

	saved, err := tasks.Save(ctx, &schema.Task{PK: "TASK-1", Title: "x"})
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if err := tasks.Delete(ctx, saved); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := tasks.Delete(ctx, saved); err != nil {
		t.Errorf("second Delete() should be idempotent: %v", err)
	}

	if _, err := tasks.Get(ctx, saved.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}

	rec, err := store.GetAnyRecord(ctx, schema.ModelTask, saved.ID)
	if err != nil {
		t.Fatalf("GetAnyRecord() failed: %v", err)
	}
	if rec == nil || !rec.Deleted {
		t.Errorf("expected tombstone, got %+v", rec)
	}

	if _, err := tasks.Save(ctx, saved); !errors.Is(err, ErrNotFound) {
		t.Errorf("Save() onto tombstone error = %v, want ErrNotFound", err)
	}
}

func TestSaveRecord_WritesOutbox(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	tasks := NewCollections(store).Tasks

	saved, err := tasks.Save(ctx, &schema.Task{PK: "TASK-1", Title: "x"})
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if err := tasks.Delete(ctx, saved); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	pending, err := store.PendingMutations(ctx)
	if err != nil {
		t.Fatalf("PendingMutations() failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 outbox entries, got %d", len(pending))
	}
	if pending[0].Op != OpInsert || pending[1].Op != OpDelete {
		t.Errorf("ops = %s, %s; want INSERT, DELETE", pending[0].Op, pending[1].Op)
	}

	if err := store.AckMutations(ctx, schema.ModelTask, saved.ID, pending[1].Seq, 1, 0); err != nil {
		t.Fatalf("AckMutations() failed: %v", err)
	}
	depth, err := store.OutboxDepth(ctx)
	if err != nil {
		t.Fatalf("OutboxDepth() failed: %v", err)
	}
	if depth != 0 {
		t.Errorf("OutboxDepth() = %d after ack, want 0", depth)
	}
}

func TestEncodeEntity_StripsMeta(t *testing.T) {
	task := &schema.Task{Meta: schema.Meta{ID: "abc", Version: 2}, PK: "TASK-1", SK: "SK-1", Title: "x"}
	rec, err := EncodeEntity(task)
	if err != nil {
		t.Fatalf("EncodeEntity() failed: %v", err)
	}
	if rec.ID != "abc" || rec.Version != 2 || rec.PK != "TASK-1" || rec.SK != "SK-1" {
		t.Errorf("record columns = %+v", rec)
	}
	for _, key := range metaKeys {
		if containsKey(rec.Data, key) {
			t.Errorf("data still contains %q: %s", key, rec.Data)
		}
	}

	var back schema.Task
	if err := rec.DecodeInto(&back); err != nil {
		t.Fatalf("DecodeInto() failed: %v", err)
	}
	if back.ID != "abc" || back.Version != 2 || back.Title != "x" {
		t.Errorf("DecodeInto() = %+v", back)
	}
}

func containsKey(data []byte, key string) bool {
	return gjson.GetBytes(data, key).Exists()
}

func TestCompareAndPut_VersionMismatch(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	rec := &Record{Model: schema.ModelTask, ID: "t1", PK: "TASK-1", Data: []byte(`{"pk":"TASK-1","title":"a"}`)}
	first, err := store.CompareAndPut(ctx, rec, 0)
	if err != nil {
		t.Fatalf("CompareAndPut() failed: %v", err)
	}
	if first.Version != 1 {
		t.Errorf("version = %d, want 1", first.Version)
	}

	_, err = store.CompareAndPut(ctx, rec, 0)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("stale CompareAndPut() error = %v, want ErrVersionMismatch", err)
	}
	var mismatch *VersionMismatchError
	if !errors.As(err, &mismatch) || mismatch.Current.Version != 1 {
		t.Errorf("mismatch error should carry current record, got %v", err)
	}

	second, err := store.CompareAndPut(ctx, rec, 1)
	if err != nil {
		t.Fatalf("CompareAndPut() with current base failed: %v", err)
	}
	if second.Version != 2 {
		t.Errorf("version = %d, want 2", second.Version)
	}

	depth, _ := store.OutboxDepth(ctx)
	if depth != 0 {
		t.Errorf("CompareAndPut wrote %d outbox entries", depth)
	}
}

func TestApplyRemote_EmitsRemoteMutation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := testStore(t)

	muts := store.Observe(ctx, schema.ModelTask)

	rec := &Record{Model: schema.ModelTask, ID: "t1", PK: "TASK-1", Data: []byte(`{"title":"a"}`), Version: 3, LastChangedAt: 1000}
	if err := store.ApplyRemote(ctx, rec); err != nil {
		t.Fatalf("ApplyRemote() failed: %v", err)
	}
	tomb := rec.Clone()
	tomb.Deleted = true
	tomb.Version = 4
	tomb.LastChangedAt = 2000
	if err := store.ApplyRemote(ctx, tomb); err != nil {
		t.Fatalf("ApplyRemote(tombstone) failed: %v", err)
	}

	want := []OpType{OpInsert, OpDelete}
	for i, op := range want {
		select {
		case m := <-muts:
			if m.Op != op || !m.Remote {
				t.Errorf("mutation %d = %s remote=%v, want %s remote", i, m.Op, m.Remote, op)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for mutation %d", i)
		}
	}

	got, err := store.GetAnyRecord(ctx, schema.ModelTask, "t1")
	if err != nil {
		t.Fatalf("GetAnyRecord() failed: %v", err)
	}
	if got.Version != 4 || got.LastChangedAt != 2000 || !got.Deleted {
		t.Errorf("stored record = %+v", got)
	}
}

func TestRecordsChangedSince(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	for i, ts := range []int64{100, 200, 300} {
		rec := &Record{Model: schema.ModelQuestion, ID: string(rune('a' + i)), Data: []byte(`{}`), LastChangedAt: ts}
		if err := store.ApplyRemote(ctx, rec); err != nil {
			t.Fatalf("ApplyRemote() failed: %v", err)
		}
	}

	changed, err := store.RecordsChangedSince(ctx, schema.ModelQuestion, 150)
	if err != nil {
		t.Fatalf("RecordsChangedSince() failed: %v", err)
	}
	if len(changed) != 2 || changed[0].ID != "b" || changed[1].ID != "c" {
		t.Errorf("RecordsChangedSince(150) = %v", changed)
	}
}

func TestSyncCursor(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	last, err := store.SyncCursor(ctx, schema.ModelTask)
	if err != nil {
		t.Fatalf("SyncCursor() failed: %v", err)
	}
	if last != 0 {
		t.Errorf("initial cursor = %d, want 0", last)
	}
	if err := store.SetSyncCursor(ctx, schema.ModelTask, 42); err != nil {
		t.Fatalf("SetSyncCursor() failed: %v", err)
	}
	if last, _ := store.SyncCursor(ctx, schema.ModelTask); last != 42 {
		t.Errorf("cursor = %d, want 42", last)
	}
}

func TestOpenWithConfig_Clock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store, err := OpenWithConfig(filepath.Join(t.TempDir(), "test.db"), &Config{Clock: fixedClock(start)})
	if err != nil {
		t.Fatalf("OpenWithConfig() failed: %v", err)
	}
	defer store.Close()

	saved, err := NewCollections(store).Activities.Save(context.Background(),
		&schema.Activity{PK: "A", SK: "S", Name: "n"})
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if saved.LastChangedAt <= start.UnixMilli() || saved.LastChangedAt > start.Add(time.Second).UnixMilli() {
		t.Errorf("_lastChangedAt = %d, want just after %d", saved.LastChangedAt, start.UnixMilli())
	}
}
