package datastore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/orion/tasksync/internal/schema"
)

func recvMutation(t *testing.T, ch <-chan Mutation) Mutation {
	t.Helper()
	select {
	case m, ok := <-ch:
		if !ok {
			t.Fatal("mutation channel closed")
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for mutation")
	}
	return Mutation{}
}

func recvSnapshot[T schema.Entity](t *testing.T, ch <-chan Snapshot[T]) Snapshot[T] {
	t.Helper()
	select {
	case s, ok := <-ch:
		if !ok {
			t.Fatal("snapshot channel closed")
		}
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return Snapshot[T]{}
}

func TestObserve_Operations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := testStore(t)
	tasks := NewCollections(store).Tasks

	muts := tasks.Observe(ctx)

	saved, err := tasks.Save(ctx, &schema.Task{PK: "TASK-1", Title: "a"})
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if m := recvMutation(t, muts); m.Op != OpInsert || m.Record.ID != saved.ID || m.Remote {
		t.Errorf("first mutation = %+v, want local INSERT", m)
	}

	saved.Title = "b"
	if _, err := tasks.Save(ctx, saved); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if m := recvMutation(t, muts); m.Op != OpUpdate {
		t.Errorf("second mutation op = %s, want UPDATE", m.Op)
	}

	if err := tasks.Delete(ctx, saved); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := tasks.Delete(ctx, saved); err != nil {
		t.Fatalf("second Delete() failed: %v", err)
	}
	if m := recvMutation(t, muts); m.Op != OpDelete {
		t.Errorf("third mutation op = %s, want DELETE", m.Op)
	}

	select {
	case m := <-muts:
		t.Errorf("repeated delete emitted %+v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestObserve_OtherModelsIgnored(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := testStore(t)
	cols := NewCollections(store)

	muts := cols.Tasks.Observe(ctx)
	if _, err := cols.Questions.Save(ctx, &schema.Question{PK: "Q-1"}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	select {
	case m := <-muts:
		t.Errorf("task observer received %s mutation", m.Model)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestObserve_ClosedOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := testStore(t)

	muts := store.Observe(ctx, schema.ModelTask)
	cancel()

	select {
	case _, ok := <-muts:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestObserve_DropsWhenFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := OpenWithConfig(t.TempDir()+"/test.db", &Config{ObserverBuffer: 1})
	if err != nil {
		t.Fatalf("OpenWithConfig() failed: %v", err)
	}
	defer store.Close()
	tasks := NewCollections(store).Tasks

	muts := tasks.Observe(ctx)
	for i := 0; i < 3; i++ {
		if _, err := tasks.Save(ctx, &schema.Task{PK: "TASK", Title: "x"}); err != nil {
			t.Fatalf("Save() failed: %v", err)
		}
	}

	recvMutation(t, muts)
	select {
	case m := <-muts:
		t.Errorf("expected dropped mutations, got %+v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestObserveQuery_Snapshots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := testStore(t)
	tasks := NewCollections(store).Tasks

	snaps := tasks.ObserveQuery(ctx)
	first := recvSnapshot(t, snaps)
	if first.Err != nil || len(first.Items) != 0 || first.IsSynced {
		t.Errorf("initial snapshot = %+v, want empty and not synced", first)
	}

	if _, err := tasks.Save(ctx, &schema.Task{PK: "TASK-1", Title: "a"}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	next := recvSnapshot(t, snaps)
	if len(next.Items) != 1 || next.Items[0].Title != "a" {
		t.Errorf("snapshot after save = %+v", next.Items)
	}
	if next.Gen <= first.Gen {
		t.Errorf("snapshot gen after save = %d, want more than %d", next.Gen, first.Gen)
	}
	if once := tasks.Snapshot(ctx); once.Err != nil || len(once.Items) != 1 || once.Gen < next.Gen {
		t.Errorf("Snapshot() = %d items gen %d err %v, want 1 item gen >= %d", len(once.Items), once.Gen, once.Err, next.Gen)
	}

	if err := store.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	synced := recvSnapshot(t, snaps)
	if !synced.IsSynced {
		t.Error("snapshot after Start should be synced")
	}
	if synced.Gen <= next.Gen {
		t.Errorf("snapshot gen after Start = %d, want more than %d", synced.Gen, next.Gen)
	}
}

func TestStart_LocalOnly(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	var events []EventName
	unsubscribe := store.Hub().Listen(func(ev Event) { events = append(events, ev.Name) })
	defer unsubscribe()

	if err := store.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !store.IsRunning() || !store.IsSynced() {
		t.Errorf("running=%v synced=%v, want both true", store.IsRunning(), store.IsSynced())
	}

	want := []EventName{EventSyncQueriesStarted, EventSyncQueriesReady}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, events[i], want[i])
		}
	}

	if err := store.Clear(ctx); !errors.Is(err, ErrRunning) {
		t.Errorf("Clear() while running error = %v, want ErrRunning", err)
	}
	if err := store.Stop(ctx); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}
	if store.IsSynced() {
		t.Error("Clear() should reset the synced flag")
	}
}

type blockingEngine struct {
	started chan struct{}
}

func (e *blockingEngine) Run(ctx context.Context) error {
	close(e.started)
	<-ctx.Done()
	return ctx.Err()
}

type failingEngine struct{}

func (failingEngine) Run(ctx context.Context) error {
	return errors.New("remote unreachable")
}

func TestStart_WithEngine(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	engine := &blockingEngine{started: make(chan struct{})}
	store.Attach(engine)

	if err := store.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	select {
	case <-engine.started:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not start")
	}
	if store.IsSynced() {
		t.Error("store should not be synced before the engine reports ready")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := store.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if store.IsRunning() {
		t.Error("store still running after Stop")
	}
}

func TestStart_EngineErrorPublished(t *testing.T) {
	store := testStore(t)
	store.Attach(failingEngine{})

	failed := make(chan struct{}, 1)
	unsubscribe := store.Hub().Listen(func(ev Event) {
		if ev.Name == EventSyncQueriesError {
			failed <- struct{}{}
		}
	})
	defer unsubscribe()

	if err := store.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("engine error was not published")
	}
}

func TestResolveConflict_DefaultRemoteWins(t *testing.T) {
	store := testStore(t)
	local := &Record{ID: "a", Data: []byte(`{"title":"local"}`)}
	remote := &Record{ID: "a", Data: []byte(`{"title":"remote"}`)}

	got, err := store.ResolveConflict(context.Background(), ConflictData{Local: local, Remote: remote})
	if err != nil {
		t.Fatalf("ResolveConflict() failed: %v", err)
	}
	if got != remote {
		t.Errorf("default handler returned %+v, want remote", got)
	}

	store.Configure(func(ctx context.Context, c ConflictData) (*Record, error) { return c.Local, nil })
	got, _ = store.ResolveConflict(context.Background(), ConflictData{Local: local, Remote: remote})
	if got != local {
		t.Errorf("configured handler returned %+v, want local", got)
	}
}
