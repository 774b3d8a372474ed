package dashboard

import (
	"sync"

	"github.com/orion/tasksync/internal/datastore"
	"github.com/orion/tasksync/internal/fixture"
	"github.com/orion/tasksync/internal/logging"
	"github.com/orion/tasksync/internal/schema"
	"github.com/orion/tasksync/internal/syncstate"
	"go.uber.org/zap"
)

// SnapshotData reports the latest live query result for one entity
type SnapshotData struct {
	Model  schema.Model `json:"model"`
	Count  int          `json:"count"`
	Synced bool         `json:"synced"`
}

// ImportData reports a finished fixture import
type ImportData struct {
	Source string          `json:"source,omitempty"`
	Result *fixture.Result `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Stats is the running summary kept by the handler
type Stats struct {
	State     syncstate.State      `json:"state"`
	Counts    map[schema.Model]int `json:"counts"`
	Conflicts int                  `json:"conflicts"`
	Imports   int                  `json:"imports"`
}

// Handler turns store, sync state and import events into dashboard
// messages.
type Handler struct {
	server *Server
	logger *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *zap.Logger) *Handler {
	return &Handler{
		server: server,
		logger: logging.OrNop(logger).Named("dashboard"),
		stats: Stats{
			State:  syncstate.Initial(),
			Counts: make(map[schema.Model]int),
		},
	}
}

// Listen forwards conflict events from hub until the returned function is
// called.
func (h *Handler) Listen(hub *datastore.Hub) (unsubscribe func()) {
	return hub.Listen(func(ev datastore.Event) {
		if ev.Name != datastore.EventConflictDetected {
			return
		}
		switch info := ev.Data.(type) {
		case datastore.ConflictInfo:
			h.OnConflict(info)
		case *datastore.ConflictInfo:
			if info != nil {
				h.OnConflict(*info)
			}
		default:
			h.OnConflict(datastore.ConflictInfo{})
		}
	})
}

// OnSyncState handles sync state machine changes
func (h *Handler) OnSyncState(state syncstate.State) {
	h.mu.Lock()
	h.stats.State = state
	h.mu.Unlock()

	h.logger.Debug("sync state",
		zap.String("sync", string(state.SyncState)),
		zap.String("network", string(state.NetworkStatus)))
	h.server.BroadcastData(MessageTypeSyncState, state)
}

// OnSnapshot handles a live query delivery
func (h *Handler) OnSnapshot(model schema.Model, count int, synced bool) {
	h.mu.Lock()
	h.stats.Counts[model] = count
	h.mu.Unlock()

	h.server.BroadcastData(MessageTypeSnapshot, SnapshotData{
		Model:  model,
		Count:  count,
		Synced: synced,
	})
}

// OnImportComplete handles the end of a fixture import. err is the import
// error, if any.
func (h *Handler) OnImportComplete(source string, result *fixture.Result, err error) {
	h.mu.Lock()
	h.stats.Imports++
	h.mu.Unlock()

	data := ImportData{Source: source, Result: result}
	if err != nil {
		data.Error = err.Error()
		h.logger.Warn("import failed", zap.String("source", source), zap.Error(err))
	} else {
		h.logger.Info("import complete", zap.String("source", source))
	}
	h.server.BroadcastData(MessageTypeImportComplete, data)
}

// OnConflict handles a write conflict detected during sync
func (h *Handler) OnConflict(info datastore.ConflictInfo) {
	h.mu.Lock()
	h.stats.Conflicts++
	h.mu.Unlock()

	h.logger.Info("conflict", zap.String("model", info.Model), zap.String("id", info.ID))
	h.server.BroadcastData(MessageTypeConflict, info)
}

// Stats returns a copy of the running summary
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := h.stats
	out.Counts = make(map[schema.Model]int, len(h.stats.Counts))
	for k, v := range h.stats.Counts {
		out.Counts[k] = v
	}
	return out
}
