package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/orion/tasksync/internal/datastore"
	"github.com/orion/tasksync/internal/schema"
)

func TestParseAt(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, loc)

	tests := []struct {
		in   string
		want time.Time
	}{
		{in: "", want: now},
		{in: "now", want: now},
		{in: "2026-03-14", want: time.Date(2026, 3, 14, 0, 0, 0, 0, loc)},
		{in: "2026-03-14T10:00:00-05:00", want: time.Date(2026, 3, 14, 10, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		got, err := parseAt(tt.in, now)
		if err != nil {
			t.Fatalf("parseAt(%q) failed: %v", tt.in, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseAt(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	tomorrow, err := parseAt("tomorrow", now)
	if err != nil {
		t.Fatalf("parseAt(tomorrow) failed: %v", err)
	}
	if y, m, d := tomorrow.Date(); y != 2026 || m != 3 || d != 11 {
		t.Errorf("tomorrow = %v, want March 11", tomorrow)
	}

	if _, err := parseAt("flibbertigibbet", now); err == nil {
		t.Error("expected error for unrecognized time")
	}
}

func run(t *testing.T, args ...string) {
	t.Helper()
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("tasksync %v failed: %v", args, err)
	}
}

func TestGenerateImportStatus(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	seed := filepath.Join(dir, "seed.yaml")

	run(t, "fixture", "generate", "--tasks", "3", "--date", "2026-03-10", "-o", seed)
	run(t, "--data-dir", dataDir, "import", seed)
	run(t, "--data-dir", dataDir, "--json", "status")
	run(t, "--data-dir", dataDir, "--json", "tasks", "--at", "2026-03-10")
	run(t, "--data-dir", dataDir, "--json", "reset", "--clear", "--yes")

	store, err := datastore.Open(filepath.Join(dataDir, "store.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer store.Close()
	n, err := store.CountRecords(t.Context(), schema.ModelTask)
	if err != nil {
		t.Fatalf("CountRecords() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("tasks after reset --clear = %d, want 0", n)
	}
}

func TestPruneRequiresConfirmation(t *testing.T) {
	dir := t.TempDir()
	seed := filepath.Join(dir, "seed.json")
	run(t, "fixture", "generate", "-o", seed)

	rootCmd.SetArgs([]string{"--data-dir", filepath.Join(dir, "data"), "import", "--prune", seed})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected prune without --yes to fail outside a terminal")
	}
	importPrune = false
}
