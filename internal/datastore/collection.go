package datastore

import (
	"context"
	"fmt"

	"github.com/orion/tasksync/internal/schema"
)

// Snapshot is a typed live query result.
type Snapshot[T schema.Entity] struct {
	Items    []T
	IsSynced bool
	Err      error
	Gen      int64
}

// validator is implemented by entities with field rules.
type validator interface {
	Validate() error
}

// Collection is a typed view of one model in the store.
type Collection[T schema.Entity] struct {
	store *Store
	model schema.Model
	newFn func() T
}

// NewCollection creates a typed view. newFn must return a fresh zero
// entity, e.g. func() *schema.Task { return new(schema.Task) }.
func NewCollection[T schema.Entity](store *Store, newFn func() T) *Collection[T] {
	return &Collection[T]{
		store: store,
		model: newFn().ModelName(),
		newFn: newFn,
	}
}

// Model returns the model name of the collection.
func (c *Collection[T]) Model() schema.Model {
	return c.model
}

// Store returns the underlying store.
func (c *Collection[T]) Store() *Store {
	return c.store
}

// Query returns all live items.
func (c *Collection[T]) Query(ctx context.Context) ([]T, error) {
	records, err := c.store.QueryRecordsContext(ctx, c.model)
	if err != nil {
		return nil, err
	}
	return c.decodeAll(records)
}

// Snapshot reads all live items once, stamped with the store generation
// the same way ObserveQuery snapshots are.
func (c *Collection[T]) Snapshot(ctx context.Context) Snapshot[T] {
	gen, synced := c.store.state()
	snap := Snapshot[T]{IsSynced: synced, Gen: gen}
	records, err := c.store.QueryRecordsContext(ctx, c.model)
	if err != nil {
		snap.Err = err
		return snap
	}
	snap.Items, snap.Err = c.decodeAll(records)
	return snap
}

// Get returns a live item by store id.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	rec, err := c.store.GetRecord(ctx, c.model, id)
	if err != nil {
		return zero, err
	}
	return c.decode(rec)
}

// Save validates and stores item, returning the stored copy with its id,
// version and timestamp filled in.
func (c *Collection[T]) Save(ctx context.Context, item T) (T, error) {
	var zero T
	if v, ok := any(item).(validator); ok {
		if err := v.Validate(); err != nil {
			return zero, fmt.Errorf("invalid %s: %w", c.model, err)
		}
	}

	rec, err := EncodeEntity(item)
	if err != nil {
		return zero, err
	}
	stored, err := c.store.SaveRecord(ctx, rec)
	if err != nil {
		return zero, err
	}
	return c.decode(stored)
}

// Delete removes item by its store id.
func (c *Collection[T]) Delete(ctx context.Context, item T) error {
	id := item.Metadata().ID
	if id == "" {
		return fmt.Errorf("cannot delete %s without id", c.model)
	}
	return c.store.DeleteRecord(ctx, c.model, id)
}

// Observe streams mutations of the model until ctx is cancelled.
func (c *Collection[T]) Observe(ctx context.Context) <-chan Mutation {
	return c.store.Observe(ctx, c.model)
}

// ObserveQuery streams typed live snapshots until ctx is cancelled.
func (c *Collection[T]) ObserveQuery(ctx context.Context) <-chan Snapshot[T] {
	in := c.store.ObserveQuery(ctx, c.model)
	out := make(chan Snapshot[T], 1)

	go func() {
		defer close(out)
		for snap := range in {
			typed := Snapshot[T]{IsSynced: snap.IsSynced, Err: snap.Err, Gen: snap.Gen}
			if snap.Err == nil {
				typed.Items, typed.Err = c.decodeAll(snap.Records)
			}
			select {
			case out <- typed:
			case <-ctx.Done():
				return
			}
			if typed.Err != nil {
				return
			}
		}
	}()

	return out
}

func (c *Collection[T]) decode(rec *Record) (T, error) {
	item := c.newFn()
	if err := rec.DecodeInto(item); err != nil {
		var zero T
		return zero, err
	}
	return item, nil
}

func (c *Collection[T]) decodeAll(records []*Record) ([]T, error) {
	items := make([]T, 0, len(records))
	for _, rec := range records {
		item, err := c.decode(rec)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Collections groups a typed view for every stored model.
type Collections struct {
	Activities         *Collection[*schema.Activity]
	Questions          *Collection[*schema.Question]
	Tasks              *Collection[*schema.Task]
	TaskAnswers        *Collection[*schema.TaskAnswer]
	TaskResults        *Collection[*schema.TaskResult]
	TaskHistories      *Collection[*schema.TaskHistory]
	DataPoints         *Collection[*schema.DataPoint]
	DataPointInstances *Collection[*schema.DataPointInstance]
}

// NewCollections builds the typed views over store.
func NewCollections(store *Store) *Collections {
	return &Collections{
		Activities:         NewCollection(store, func() *schema.Activity { return new(schema.Activity) }),
		Questions:          NewCollection(store, func() *schema.Question { return new(schema.Question) }),
		Tasks:              NewCollection(store, func() *schema.Task { return new(schema.Task) }),
		TaskAnswers:        NewCollection(store, func() *schema.TaskAnswer { return new(schema.TaskAnswer) }),
		TaskResults:        NewCollection(store, func() *schema.TaskResult { return new(schema.TaskResult) }),
		TaskHistories:      NewCollection(store, func() *schema.TaskHistory { return new(schema.TaskHistory) }),
		DataPoints:         NewCollection(store, func() *schema.DataPoint { return new(schema.DataPoint) }),
		DataPointInstances: NewCollection(store, func() *schema.DataPointInstance { return new(schema.DataPointInstance) }),
	}
}
