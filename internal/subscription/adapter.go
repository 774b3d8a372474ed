// Package subscription turns the store's live query and mutation streams
// into one callback feed per entity type.
//
// Live-query snapshots are delivered as they arrive. DELETE mutations
// additionally schedule a single throttled re-query so a delete that
// arrives through sync is reflected even when the live query lags.
package subscription

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orion/tasksync/internal/datastore"
	"github.com/orion/tasksync/internal/logging"
	"github.com/orion/tasksync/internal/metrics"
	"github.com/orion/tasksync/internal/schema"
	"go.uber.org/zap"
)

// Source is what an Adapter reads from. *datastore.Collection satisfies it.
type Source[T schema.Entity] interface {
	Model() schema.Model
	Snapshot(ctx context.Context) datastore.Snapshot[T]
	Observe(ctx context.Context) <-chan datastore.Mutation
	ObserveQuery(ctx context.Context) <-chan datastore.Snapshot[T]
}

// Callback receives the full current item list and whether the initial
// sync has completed.
type Callback[T any] func(items []T, synced bool)

// Options configures one subscription.
type Options struct {
	// RefreshOnDelete schedules a re-query after DELETE mutations
	RefreshOnDelete bool

	// DeleteRefreshThrottle is the delay between the first DELETE of a
	// burst and the re-query
	DeleteRefreshThrottle time.Duration

	// Debug logs every delivery at info level
	Debug bool
}

// DefaultOptions returns refresh on delete with a 500ms throttle.
func DefaultOptions() Options {
	return Options{
		RefreshOnDelete:       true,
		DeleteRefreshThrottle: 500 * time.Millisecond,
	}
}

// Adapter serves subscriptions for one entity type.
type Adapter[T schema.Entity] struct {
	source   Source[T]
	defaults Options
	logger   *zap.Logger
}

// New creates an adapter over source with DefaultOptions.
func New[T schema.Entity](source Source[T], logger *zap.Logger) *Adapter[T] {
	return &Adapter[T]{
		source:   source,
		defaults: DefaultOptions(),
		logger:   logging.OrNop(logger).Named("subscription").With(zap.String("model", string(source.Model()))),
	}
}

// SetDefaults replaces the options used when Subscribe gets nil.
func (a *Adapter[T]) SetDefaults(opts Options) {
	a.defaults = opts
}

// Model returns the entity type served by the adapter.
func (a *Adapter[T]) Model() schema.Model {
	return a.source.Model()
}

// Subscribe starts a feed and returns a function that ends it. A non-nil
// opts replaces the adapter defaults as a whole, so start from
// DefaultOptions() and change what you need; a zero RefreshOnDelete
// turns delete refreshes off. A zero throttle means 500ms. After
// unsubscribe returns, no further callbacks are started. Calling it more
// than once is safe.
//
// A live-query error delivers an empty list with synced=false once and
// ends the feed; it is not retried.
func (a *Adapter[T]) Subscribe(cb Callback[T], opts *Options) (unsubscribe func()) {
	o := a.defaults
	if opts != nil {
		o = *opts
	}
	if o.DeleteRefreshThrottle <= 0 {
		o.DeleteRefreshThrottle = DefaultOptions().DeleteRefreshThrottle
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription[T]{
		adapter: a,
		cb:      cb,
		opts:    o,
		cancel:  cancel,
	}

	snaps := a.source.ObserveQuery(ctx)
	var muts <-chan datastore.Mutation
	if o.RefreshOnDelete {
		muts = a.source.Observe(ctx)
	}

	go sub.loop(ctx, snaps, muts)
	return sub.unsubscribe
}

type subscription[T schema.Entity] struct {
	adapter *Adapter[T]
	cb      Callback[T]
	opts    Options
	cancel  context.CancelFunc

	closed atomic.Bool
	once   sync.Once
}

func (s *subscription[T]) unsubscribe() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
	})
}

// loop owns the pending refresh timer. Callbacks run on this goroutine.
// A live snapshot read before the last delivered one (lower Gen) is
// dropped, so a refresh is never followed by an older buffered snapshot.
func (s *subscription[T]) loop(ctx context.Context, snaps <-chan datastore.Snapshot[T], muts <-chan datastore.Mutation) {
	logger := s.adapter.logger

	var last int64 = -1
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case snap, ok := <-snaps:
			if !ok {
				snaps = nil
				continue
			}
			if snap.Err != nil {
				logger.Warn("live query failed", zap.Error(snap.Err))
				s.deliver([]T{}, false, "error")
				s.unsubscribe()
				return
			}
			if snap.Gen < last {
				if s.opts.Debug {
					logger.Info("stale snapshot dropped", zap.Int64("gen", snap.Gen), zap.Int64("last", last))
				}
				continue
			}
			last = snap.Gen
			s.deliver(snap.Items, snap.IsSynced, "snapshot")

		case m, ok := <-muts:
			if !ok {
				muts = nil
				continue
			}
			if m.Op != datastore.OpDelete {
				continue
			}
			if fire != nil {
				if s.opts.Debug {
					logger.Info("delete coalesced into pending refresh", zap.String("id", m.Record.ID))
				}
				continue
			}
			timer = time.NewTimer(s.opts.DeleteRefreshThrottle)
			fire = timer.C
			if s.opts.Debug {
				logger.Info("delete refresh scheduled",
					zap.String("id", m.Record.ID),
					zap.Duration("after", s.opts.DeleteRefreshThrottle))
			}

		case <-fire:
			timer, fire = nil, nil
			snap := s.adapter.source.Snapshot(ctx)
			if ctx.Err() != nil {
				return
			}
			if snap.Err != nil {
				logger.Warn("delete refresh query failed", zap.Error(snap.Err))
				continue
			}
			metrics.DeleteRefreshes.WithLabelValues(string(s.adapter.Model())).Inc()
			if snap.Gen > last {
				last = snap.Gen
			}
			s.deliver(snap.Items, true, "delete refresh")
		}
	}
}

func (s *subscription[T]) deliver(items []T, synced bool, reason string) {
	if s.closed.Load() {
		return
	}
	if s.opts.Debug {
		s.adapter.logger.Info("delivering items",
			zap.String("reason", reason),
			zap.Int("count", len(items)),
			zap.Bool("synced", synced))
	}
	s.cb(items, synced)
}
