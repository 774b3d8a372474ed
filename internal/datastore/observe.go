package datastore

import (
	"context"

	"github.com/orion/tasksync/internal/metrics"
	"github.com/orion/tasksync/internal/schema"
	"go.uber.org/zap"
)

// Mutation is one change applied to a record.
type Mutation struct {
	Model  schema.Model
	Op     OpType
	Record *Record
	// Remote is true when the change arrived through sync.
	Remote bool
}

// QuerySnapshot is the full live result of a model at one point in time.
type QuerySnapshot struct {
	Records  []*Record
	IsSynced bool
	Err      error
	// Gen is the store generation read before the query ran. A snapshot
	// with a higher Gen reflects at least every change a lower one does.
	Gen int64
}

type observer struct {
	ch     chan Mutation
	closed bool
}

// close must be called with Store.mu held.
func (o *observer) close() {
	if !o.closed {
		o.closed = true
		close(o.ch)
	}
}

// Observe streams every mutation of a model until ctx is cancelled.
//
// The channel is buffered. When an observer falls behind, further events
// are dropped and counted; live queries are not affected since they
// re-read the table.
func (s *Store) Observe(ctx context.Context, model schema.Model) <-chan Mutation {
	o := &observer{ch: make(chan Mutation, s.config.ObserverBuffer)}

	s.mu.Lock()
	if s.closed {
		o.close()
		s.mu.Unlock()
		return o.ch
	}
	set, ok := s.observers[model]
	if !ok {
		set = make(map[*observer]struct{})
		s.observers[model] = set
	}
	set[o] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.observers[model], o)
		o.close()
		s.mu.Unlock()
	}()

	return o.ch
}

// ObserveQuery streams live snapshots of a model until ctx is cancelled.
//
// An initial snapshot is sent immediately. After that, each batch of
// changes to the model (or a change of the synced flag) produces a fresh
// full re-read. A query error is delivered once with Err set and the
// channel is closed.
func (s *Store) ObserveQuery(ctx context.Context, model schema.Model) <-chan QuerySnapshot {
	out := make(chan QuerySnapshot, 1)
	wake := s.watch(model)

	go func() {
		defer close(out)
		defer s.unwatch(model, wake)

		for {
			gen, synced := s.state()
			records, err := s.QueryRecordsContext(ctx, model)
			if ctx.Err() != nil {
				return
			}
			snap := QuerySnapshot{Records: records, IsSynced: synced, Err: err, Gen: gen}

			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
			if err != nil {
				s.logger.Warn("live query failed", zap.String("model", string(model)), zap.Error(err))
				return
			}

			select {
			case <-wake:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func (s *Store) watch(model schema.Model) chan struct{} {
	wake := make(chan struct{}, 1)
	s.mu.Lock()
	set, ok := s.watchers[model]
	if !ok {
		set = make(map[chan struct{}]struct{})
		s.watchers[model] = set
	}
	set[wake] = struct{}{}
	s.mu.Unlock()
	return wake
}

func (s *Store) unwatch(model schema.Model, wake chan struct{}) {
	s.mu.Lock()
	delete(s.watchers[model], wake)
	s.mu.Unlock()
}

// emit fans a mutation out to observers and wakes live queries.
func (s *Store) emit(m Mutation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for o := range s.observers[m.Model] {
		if o.closed {
			continue
		}
		select {
		case o.ch <- m:
		default:
			metrics.ObserverDrops.WithLabelValues(string(m.Model)).Inc()
			s.logger.Warn("observer buffer full, dropping mutation",
				zap.String("model", string(m.Model)),
				zap.String("op", string(m.Op)),
				zap.String("id", m.Record.ID))
		}
	}
	s.gen++
	wakeAll(s.watchers[m.Model])
}

// notifyAll wakes every live query regardless of model.
func (s *Store) notifyAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	for _, set := range s.watchers {
		wakeAll(set)
	}
}

func wakeAll(set map[chan struct{}]struct{}) {
	for wake := range set {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

// Generation counts the mutations and synced flag changes the store has
// seen. It only grows.
func (s *Store) Generation() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *Store) state() (gen int64, synced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen, s.synced
}

// IsSynced reports whether the initial sync has completed since the last
// Clear.
func (s *Store) IsSynced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synced
}

// MarkSynced sets the synced flag and wakes live queries when it changes.
func (s *Store) MarkSynced(synced bool) {
	s.mu.Lock()
	changed := s.synced != synced
	s.synced = synced
	s.mu.Unlock()

	if changed {
		s.notifyAll()
	}
}
