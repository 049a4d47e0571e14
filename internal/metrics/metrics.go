// Package metrics holds the Prometheus collectors for the store engine and
// its backends. They register with the default registry on import and are
// exposed at /metrics by the serve command.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// KeysAssigned counts alternate keys handed out, by counter scope.
	KeysAssigned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "req",
		Subsystem: "idalloc",
		Name:      "keys_assigned_total",
		Help:      "Alternate keys assigned, by numbering strategy.",
	}, []string{"numbering"})

	// Rederivations counts bulk re-derivations by outcome.
	Rederivations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "req",
		Subsystem: "idalloc",
		Name:      "rederivations_total",
		Help:      "Bulk alternate key re-derivations, by result.",
	}, []string{"result"})

	// EdgeRejections counts relationship validations that failed.
	EdgeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "req",
		Subsystem: "graph",
		Name:      "edge_rejections_total",
		Help:      "Relationship edges rejected, by reason and mode.",
	}, []string{"reason", "mode"})

	// BackendOps counts backend loads and saves.
	BackendOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "req",
		Subsystem: "backend",
		Name:      "operations_total",
		Help:      "Backend operations, by backend, operation and result.",
	}, []string{"backend", "op", "result"})

	// LockWait observes how long the document backend waited for its lock.
	LockWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "req",
		Subsystem: "backend",
		Name:      "lock_wait_seconds",
		Help:      "Time spent acquiring the document file lock.",
		Buckets:   []float64{.001, .01, .05, .1, .5, 1, 2, 5},
	}, []string{"mode"})

	// Migrations counts backend migrations and interchange imports/exports.
	Migrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "req",
		Subsystem: "backend",
		Name:      "migrations_total",
		Help:      "Store migrations, by kind and result.",
	}, []string{"kind", "result"})

	// Reloads counts watcher-driven snapshot reloads.
	Reloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "req",
		Subsystem: "watcher",
		Name:      "reloads_total",
		Help:      "Store reloads triggered by external edits, by result.",
	}, []string{"result"})
)

// Result maps an error to the "result" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
