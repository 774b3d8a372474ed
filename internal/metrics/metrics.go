// Package metrics defines the prometheus collectors shared by the store,
// the replicator, the subscription adapters and the fixture importer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StoreWrites counts local record writes by model and operation
	StoreWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasksync_store_writes_total",
			Help: "Total number of local record writes",
		},
		[]string{"model", "op"},
	)

	// ObserverDrops counts mutation events dropped for slow observers
	ObserverDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasksync_observer_drops_total",
			Help: "Mutation events dropped because an observer buffer was full",
		},
		[]string{"model"},
	)

	// DeleteRefreshes counts throttled re-queries run after delete events
	DeleteRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasksync_delete_refreshes_total",
			Help: "Total number of delete-triggered subscription refreshes",
		},
		[]string{"model"},
	)

	// SyncCycles counts replication cycles by outcome
	SyncCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasksync_sync_cycles_total",
			Help: "Total number of replication cycles",
		},
		[]string{"outcome"},
	)

	// SyncDuration tracks replication cycle duration in seconds
	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tasksync_sync_duration_seconds",
			Help:    "Duration of replication cycles in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Conflicts counts conflicts seen while pushing local changes
	Conflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasksync_conflicts_total",
			Help: "Total number of write conflicts",
		},
		[]string{"model"},
	)

	// ImportRecords counts fixture reconciliation actions
	ImportRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasksync_import_records_total",
			Help: "Fixture records created, updated, skipped or deleted",
		},
		[]string{"model", "action"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
