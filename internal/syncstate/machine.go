// Package syncstate tracks sync progress, network status and conflicts
// from store lifecycle events.
package syncstate

import (
	"context"
	"sync"

	"github.com/orion/tasksync/internal/datastore"
	"github.com/orion/tasksync/internal/logging"
	"go.uber.org/zap"
)

// SyncState is the sync axis of State.
type SyncState string

const (
	NotSynced SyncState = "NotSynced"
	Syncing   SyncState = "Syncing"
	Synced    SyncState = "Synced"
	Error     SyncState = "Error"
)

// NetworkStatus is the connectivity axis of State.
type NetworkStatus string

const (
	Online  NetworkStatus = "Online"
	Offline NetworkStatus = "Offline"
)

// State is a point-in-time view of the machine.
type State struct {
	// IsReady latches true on the first Synced and never reverts
	IsReady       bool          `json:"isReady"`
	NetworkStatus NetworkStatus `json:"networkStatus"`
	SyncState     SyncState     `json:"syncState"`
	ConflictCount int           `json:"conflictCount"`
}

// Initial is the state before any event.
func Initial() State {
	return State{NetworkStatus: Online, SyncState: NotSynced}
}

// Starter is the part of the store Start drives.
type Starter interface {
	Start(ctx context.Context) error
}

// Machine is safe for concurrent use. Listeners run on the goroutine that
// applied the change.
type Machine struct {
	mu        sync.Mutex
	state     State
	listeners map[int]func(State)
	nextID    int
	logger    *zap.Logger
}

// NewMachine creates a machine in the Initial state.
func NewMachine(logger *zap.Logger) *Machine {
	return &Machine{
		state:     Initial(),
		listeners: make(map[int]func(State)),
		logger:    logging.OrNop(logger).Named("syncstate"),
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn for state changes and returns a function that
// removes it.
func (m *Machine) Subscribe(fn func(State)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// Attach applies every event published on hub until the returned function
// is called.
func (m *Machine) Attach(hub *datastore.Hub) (detach func()) {
	return hub.Listen(m.Apply)
}

// Start starts the store. A failure moves the machine to Error; it is
// logged and never returned.
func (m *Machine) Start(ctx context.Context, starter Starter) {
	if err := starter.Start(ctx); err != nil {
		m.logger.Error("store start failed", zap.Error(err))
		m.update(func(s *State) { s.SyncState = Error })
	}
}

// Apply folds one lifecycle event into the state.
func (m *Machine) Apply(ev datastore.Event) {
	switch datastore.NormalizeEventName(ev.Name) {
	case datastore.EventSyncQueriesStarted:
		m.update(func(s *State) { s.SyncState = Syncing })
	case datastore.EventSyncQueriesReady:
		m.update(func(s *State) {
			s.SyncState = Synced
			s.IsReady = true
		})
	case datastore.EventSyncQueriesError:
		if err, ok := ev.Data.(error); ok {
			m.logger.Warn("sync error", zap.Error(err))
		}
		m.update(func(s *State) { s.SyncState = Error })
	case datastore.EventConflictDetected:
		m.update(func(s *State) { s.ConflictCount++ })
	case datastore.EventNetworkStatus:
		if active, ok := networkActive(ev.Data); ok {
			m.SetNetwork(active)
		}
	}
}

// SetNetwork sets the connectivity axis.
func (m *Machine) SetNetwork(online bool) {
	status := Offline
	if online {
		status = Online
	}
	m.update(func(s *State) { s.NetworkStatus = status })
}

func (m *Machine) update(fn func(*State)) {
	m.mu.Lock()
	prev := m.state
	fn(&m.state)
	next := m.state
	listeners := make([]func(State), 0, len(m.listeners))
	if next != prev {
		for _, l := range m.listeners {
			listeners = append(listeners, l)
		}
	}
	m.mu.Unlock()

	if next == prev {
		return
	}
	m.logger.Debug("state changed",
		zap.String("sync", string(next.SyncState)),
		zap.String("network", string(next.NetworkStatus)),
		zap.Bool("ready", next.IsReady),
		zap.Int("conflicts", next.ConflictCount))
	for _, l := range listeners {
		l(next)
	}
}

func networkActive(data any) (bool, bool) {
	switch v := data.(type) {
	case datastore.NetworkStatus:
		return v.Active, true
	case *datastore.NetworkStatus:
		if v == nil {
			return false, false
		}
		return v.Active, true
	case bool:
		return v, true
	case map[string]any:
		active, ok := v["active"].(bool)
		return active, ok
	}
	return false, false
}
