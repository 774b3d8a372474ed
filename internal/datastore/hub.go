package datastore

import (
	"sync"

	"go.uber.org/zap"
)

// EventName identifies a lifecycle event on the hub.
type EventName string

const (
	EventNetworkStatus      EventName = "networkStatus"
	EventSyncQueriesStarted EventName = "syncQueriesStarted"
	EventSyncQueriesReady   EventName = "syncQueriesReady"
	EventSyncQueriesError   EventName = "syncQueriesError"
	EventOutboxStatus       EventName = "outboxStatus"
	EventConflictDetected   EventName = "conflictDetected"

	// Aliases accepted on Publish.
	EventReady             EventName = "ready"
	EventSyncQueriesFailed EventName = "syncQueriesFailed"
)

// NormalizeEventName maps aliases onto their canonical names.
func NormalizeEventName(name EventName) EventName {
	switch name {
	case EventReady:
		return EventSyncQueriesReady
	case EventSyncQueriesFailed:
		return EventSyncQueriesError
	}
	return name
}

// Event is a lifecycle notification. Data carries one of the payload types
// below, an error for syncQueriesError, or nil.
type Event struct {
	Name EventName
	Data any
}

// NetworkStatus is the payload of networkStatus.
type NetworkStatus struct {
	Active bool `json:"active"`
}

// OutboxStatus is the payload of outboxStatus.
type OutboxStatus struct {
	IsEmpty bool `json:"isEmpty"`
}

// ConflictInfo is the payload of conflictDetected.
type ConflictInfo struct {
	Model    string `json:"model"`
	ID       string `json:"id"`
	Attempts int    `json:"attempts"`
}

// Listener receives hub events. Listeners run on the publisher's goroutine
// and must not block.
type Listener func(Event)

// Hub is the lifecycle event bus for the "datastore" channel.
type Hub struct {
	mu        sync.RWMutex
	listeners map[int]Listener
	nextID    int
	logger    *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		listeners: make(map[int]Listener),
		logger:    logger,
	}
}

// Listen registers fn and returns a function that removes it.
func (h *Hub) Listen(fn Listener) (unsubscribe func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}
}

// Publish delivers ev to every listener after normalizing its name.
func (h *Hub) Publish(ev Event) {
	ev.Name = NormalizeEventName(ev.Name)

	h.mu.RLock()
	listeners := make([]Listener, 0, len(h.listeners))
	for _, fn := range h.listeners {
		listeners = append(listeners, fn)
	}
	h.mu.RUnlock()

	h.logger.Debug("hub event", zap.String("event", string(ev.Name)))
	for _, fn := range listeners {
		fn(ev)
	}
}
