package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/orion/tasksync/internal/fixture"
	"github.com/orion/tasksync/internal/logging"
	"go.uber.org/zap"
)

// Importer applies a loaded fixture to the store.
type Importer interface {
	Import(ctx context.Context, fx *fixture.Fixture, opts *fixture.Options) (*fixture.Result, error)
}

// Config holds configuration for the re-import loop.
type Config struct {
	// Debounce is how long a file must be quiet before it is imported
	Debounce time.Duration

	// InitialScan imports every fixture already in the directory on start
	InitialScan bool

	// Options passed to every import
	Options fixture.Options

	// OnImport is called after each import attempt
	OnImport func(path string, result *fixture.Result, err error)

	// Logger for watch activity
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debounce:    200 * time.Millisecond,
		InitialScan: true,
		Options:     fixture.DefaultOptions(),
	}
}

// Reimporter watches a fixture directory and imports files after they
// settle.
type Reimporter struct {
	dir      string
	importer Importer
	config   *Config
	logger   *zap.Logger

	changeQueue   map[string]time.Time // path -> last event
	changeQueueMu sync.Mutex
}

// New creates a re-import loop for dir. A nil config uses DefaultConfig.
func New(dir string, importer Importer, config *Config) (*Reimporter, error) {
	if dir == "" {
		return nil, fmt.Errorf("fixture directory cannot be empty")
	}
	if importer == nil {
		return nil, fmt.Errorf("importer cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultConfig().Debounce
	}

	return &Reimporter{
		dir:         dir,
		importer:    importer,
		config:      config,
		logger:      logging.OrNop(config.Logger).Named("watch"),
		changeQueue: make(map[string]time.Time),
	}, nil
}

// Run watches until ctx is cancelled.
func (r *Reimporter) Run(ctx context.Context) error {
	fw, err := NewFileWatcher()
	if err != nil {
		return err
	}
	defer fw.Stop()

	if err := fw.Start(r.dir); err != nil {
		return err
	}
	r.logger.Info("watching fixtures", zap.String("dir", r.dir), zap.Duration("debounce", r.config.Debounce))

	if r.config.InitialScan {
		if err := r.scan(ctx); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(r.config.Debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("watch stopped")
			return ctx.Err()

		case ev, ok := <-fw.Events():
			if !ok {
				return nil
			}
			r.logger.Debug("file event", zap.String("op", ev.Op.String()), zap.String("path", ev.Path))
			if ev.Op == OpDelete {
				r.dequeue(ev.Path)
				continue
			}
			r.queueChange(ev.Path)

		case err, ok := <-fw.Errors():
			if !ok {
				return nil
			}
			r.logger.Warn("watcher error", zap.Error(err))

		case <-ticker.C:
			r.processPendingChanges(ctx)
		}
	}
}

// scan imports the fixtures present in the directory, in name order.
func (r *Reimporter) scan(ctx context.Context) error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("failed to read fixture directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := fixture.FormatFromPath(e.Name()); err != nil {
			continue
		}
		paths = append(paths, filepath.Join(r.dir, e.Name()))
	}
	sort.Strings(paths)

	for _, path := range paths {
		r.importFile(ctx, path)
	}
	return nil
}

func (r *Reimporter) queueChange(path string) {
	r.changeQueueMu.Lock()
	defer r.changeQueueMu.Unlock()

	r.changeQueue[path] = time.Now()
}

func (r *Reimporter) dequeue(path string) {
	r.changeQueueMu.Lock()
	defer r.changeQueueMu.Unlock()

	delete(r.changeQueue, path)
}

// processPendingChanges imports files that have been quiet for Debounce.
func (r *Reimporter) processPendingChanges(ctx context.Context) {
	now := time.Now()

	r.changeQueueMu.Lock()
	var due []string
	for path, queuedAt := range r.changeQueue {
		if now.Sub(queuedAt) < r.config.Debounce {
			continue
		}
		due = append(due, path)
		delete(r.changeQueue, path)
	}
	r.changeQueueMu.Unlock()

	sort.Strings(due)
	for _, path := range due {
		r.importFile(ctx, path)
	}
}

func (r *Reimporter) importFile(ctx context.Context, path string) {
	result, err := r.load(ctx, path)
	if err != nil {
		r.logger.Warn("fixture import failed", zap.String("path", path), zap.Error(err))
	} else {
		r.logger.Info("fixture imported",
			zap.String("path", path),
			zap.Int("tasks_created", result.Tasks.Created),
			zap.Int("tasks_updated", result.Tasks.Updated))
	}
	if r.config.OnImport != nil {
		r.config.OnImport(path, result, err)
	}
}

func (r *Reimporter) load(ctx context.Context, path string) (*fixture.Result, error) {
	fx, err := fixture.Load(path)
	if err != nil {
		return nil, err
	}
	opts := r.config.Options
	return r.importer.Import(ctx, fx, &opts)
}
