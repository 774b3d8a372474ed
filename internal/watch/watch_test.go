package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/orion/tasksync/internal/fixture"
)

func writeFixture(t *testing.T, path, id string) {
	t.Helper()
	data := []byte(`{"version": 1, "fixtureId": "` + id + `", "activities": [], "tasks": []}`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}
}

func waitForEvent(t *testing.T, fw *FileWatcher, path string, op EventOp) FileEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-fw.Events():
			if ev.Path == path && ev.Op == op {
				return ev
			}
		case err := <-fw.Errors():
			t.Fatalf("watcher error: %v", err)
		case <-timeout:
			t.Fatalf("timed out waiting for %s %s", op, path)
		}
	}
}

func TestNewFileWatcher(t *testing.T) {
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	if fw.IsRunning() {
		t.Error("Newly created watcher should not be running")
	}
}

func TestFileWatcher_StartStop(t *testing.T) {
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}

	if err := fw.Start(t.TempDir()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !fw.IsRunning() {
		t.Error("Watcher should be running after Start()")
	}
	if err := fw.Start(t.TempDir()); err == nil {
		t.Error("Start() on a running watcher should fail")
	}

	if err := fw.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if fw.IsRunning() {
		t.Error("Watcher should not be running after Stop()")
	}
	if err := fw.Stop(); err != nil {
		t.Fatalf("second Stop() failed: %v", err)
	}

	if _, ok := <-fw.Events(); ok {
		t.Error("events channel should be closed")
	}
}

func TestFileWatcher_MissingDirectory(t *testing.T) {
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	if err := fw.Start(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestFileWatcher_FixtureEvents(t *testing.T) {
	dir := t.TempDir()
	absDir, _ := filepath.Abs(dir)

	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()
	if err := fw.Start(dir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	notes := filepath.Join(absDir, "notes.txt")
	if err := os.WriteFile(notes, []byte("ignored"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	path := filepath.Join(absDir, "seed.yaml")
	if err := os.WriteFile(path, []byte("version: 1\n"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	ev := waitForEvent(t, fw, path, OpCreate)
	if ev.Format != fixture.FormatYAML {
		t.Errorf("format = %s, want yaml", ev.Format)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("Failed to remove file: %v", err)
	}
	waitForEvent(t, fw, path, OpDelete)
}

func TestEventOp_String(t *testing.T) {
	tests := map[EventOp]string{OpCreate: "create", OpModify: "modify", OpDelete: "delete", EventOp(9): "unknown"}
	for op, want := range tests {
		if got := op.String(); got != want {
			t.Errorf("EventOp(%d).String() = %q, want %q", op, got, want)
		}
	}
}

// recordingImporter records the fixture ids it was asked to import.
type recordingImporter struct {
	mu   sync.Mutex
	ids  []string
	opts []fixture.Options
}

func (r *recordingImporter) Import(ctx context.Context, fx *fixture.Fixture, opts *fixture.Options) (*fixture.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, fx.FixtureID)
	r.opts = append(r.opts, *opts)
	return &fixture.Result{}, nil
}

func (r *recordingImporter) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

type importOutcome struct {
	path string
	err  error
}

func startReimporter(t *testing.T, dir string, imp Importer, initialScan bool) <-chan importOutcome {
	t.Helper()
	outcomes := make(chan importOutcome, 16)
	r, err := New(dir, imp, &Config{
		Debounce:    50 * time.Millisecond,
		InitialScan: initialScan,
		Options:     fixture.Options{UpdateExisting: true, PruneNonFixture: true},
		OnImport: func(path string, _ *fixture.Result, err error) {
			outcomes <- importOutcome{path: path, err: err}
		},
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	})
	return outcomes
}

func waitOutcome(t *testing.T, outcomes <-chan importOutcome) importOutcome {
	t.Helper()
	select {
	case o := <-outcomes:
		return o
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for import")
	}
	return importOutcome{}
}

func TestReimporter_InitialScan(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, filepath.Join(dir, "b.json"), "second")
	writeFixture(t, filepath.Join(dir, "a.json"), "first")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("skip"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	imp := &recordingImporter{}
	outcomes := startReimporter(t, dir, imp, true)

	for i := 0; i < 2; i++ {
		if o := waitOutcome(t, outcomes); o.err != nil {
			t.Fatalf("import %s failed: %v", o.path, o.err)
		}
	}
	ids := imp.IDs()
	if len(ids) != 2 || ids[0] != "first" || ids[1] != "second" {
		t.Errorf("imported %v, want [first second]", ids)
	}
	if !imp.opts[0].PruneNonFixture {
		t.Error("configured options were not passed to the importer")
	}
}

func TestReimporter_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	imp := &recordingImporter{}
	outcomes := startReimporter(t, dir, imp, false)

	// Give the watcher a moment to register
	time.Sleep(50 * time.Millisecond)

	path := filepath.Join(dir, "seed.json")
	for i := 0; i < 5; i++ {
		writeFixture(t, path, "seed")
	}

	o := waitOutcome(t, outcomes)
	if o.err != nil {
		t.Fatalf("import failed: %v", o.err)
	}
	if filepath.Base(o.path) != "seed.json" {
		t.Errorf("imported %s", o.path)
	}

	select {
	case extra := <-outcomes:
		t.Errorf("burst of writes imported more than once: %+v", extra)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestReimporter_ReportsInvalidFixture(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.json")
	if err := os.WriteFile(path, []byte(`{"version": `), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	imp := &recordingImporter{}
	outcomes := startReimporter(t, dir, imp, true)

	o := waitOutcome(t, outcomes)
	if o.err == nil {
		t.Fatal("expected parse error for broken fixture")
	}
	if len(imp.IDs()) != 0 {
		t.Errorf("importer called for a broken fixture: %v", imp.IDs())
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", &recordingImporter{}, nil); err == nil {
		t.Error("expected error for empty directory")
	}
	if _, err := New(t.TempDir(), nil, nil); err == nil {
		t.Error("expected error for nil importer")
	}

	r, err := New(t.TempDir(), &recordingImporter{}, &Config{})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if r.config.Debounce != DefaultConfig().Debounce {
		t.Errorf("debounce = %v, want default", r.config.Debounce)
	}
}
