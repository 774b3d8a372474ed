package replica

import (
	"context"
	"errors"
	"fmt"

	"github.com/orion/tasksync/internal/datastore"
	"github.com/orion/tasksync/internal/schema"
	"go.uber.org/zap"
)

// ErrConflict is matched by *ConflictError.
var ErrConflict = errors.New("remote conflict")

// ConflictError is returned by Remote.Push when the remote version of the
// record differs from the base version of the push.
type ConflictError struct {
	Remote *datastore.Record
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s %s: remote is at version %d", e.Remote.Model, e.Remote.ID, e.Remote.Version)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Remote is the cloud side of replication.
type Remote interface {
	// Ping reports whether the remote is reachable.
	Ping(ctx context.Context) error

	// Pull returns records of model changed after since, tombstones
	// included, oldest first.
	Pull(ctx context.Context, model schema.Model, since int64) ([]*datastore.Record, error)

	// Push stores rec if the remote copy is still at baseVersion and
	// returns the stored copy with its new version. A stale base returns
	// *ConflictError.
	Push(ctx context.Context, rec *datastore.Record, baseVersion int64) (*datastore.Record, error)
}

// PeerRemote is a Remote backed by another store file.
type PeerRemote struct {
	store *datastore.Store
	owned bool
}

// NewPeerRemote wraps an open store. The caller keeps ownership of it.
func NewPeerRemote(store *datastore.Store) *PeerRemote {
	return &PeerRemote{store: store}
}

// OpenPeer opens (creating if needed) the peer store at path. Close
// releases it.
func OpenPeer(path string, logger *zap.Logger) (*PeerRemote, error) {
	config := datastore.DefaultConfig()
	if logger != nil {
		config.Logger = logger.Named("peer")
	}
	store, err := datastore.OpenWithConfig(path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to open peer store: %w", err)
	}
	return &PeerRemote{store: store, owned: true}, nil
}

// Store returns the backing store.
func (p *PeerRemote) Store() *datastore.Store {
	return p.store
}

// Close closes the backing store if OpenPeer opened it.
func (p *PeerRemote) Close() error {
	if !p.owned {
		return nil
	}
	return p.store.Close()
}

// Ping implements Remote.
func (p *PeerRemote) Ping(ctx context.Context) error {
	if err := p.store.RawDB().PingContext(ctx); err != nil {
		return fmt.Errorf("failed to reach peer store: %w", err)
	}
	return nil
}

// Pull implements Remote.
func (p *PeerRemote) Pull(ctx context.Context, model schema.Model, since int64) ([]*datastore.Record, error) {
	return p.store.RecordsChangedSince(ctx, model, since)
}

// Push implements Remote.
func (p *PeerRemote) Push(ctx context.Context, rec *datastore.Record, baseVersion int64) (*datastore.Record, error) {
	stored, err := p.store.CompareAndPut(ctx, rec, baseVersion)
	if err != nil {
		var mismatch *datastore.VersionMismatchError
		if errors.As(err, &mismatch) {
			return nil, &ConflictError{Remote: mismatch.Current}
		}
		return nil, err
	}
	return stored, nil
}
