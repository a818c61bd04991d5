// Package metrics exposes Prometheus instrumentation for a bridge
// instance: counts of flushed batches, planned intents by kind, applied
// reconcile events, and errors by bridgeerr.Kind, plus a gauge for the
// collector's current pending-batch size. None of it is on the hot
// mutation path — Object.Set/Array.Set never touch a counter directly,
// only the bridge's own flush/apply/reconcile wiring does.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every counter/gauge one Bridge instance reports. Each
// instance gets its own Metrics; registering each under its own
// Registerer or namespace keeps several bridges in one process from
// colliding on metric names.
type Metrics struct {
	BatchesFlushed   prometheus.Counter
	IntentsPlanned   *prometheus.CounterVec // label: kind (MAP_SET, MAP_DELETE, LIST_INSERT, LIST_DELETE)
	ReconcileApplied prometheus.Counter
	Errors           *prometheus.CounterVec // label: kind (ValidationError, ReparentError, ...)
	PendingBatches   prometheus.Gauge
}

// New registers and returns a Metrics set. Registerer is typically
// prometheus.DefaultRegisterer; passing a fresh prometheus.NewRegistry()
// is how tests avoid collisions across bridge instances in the same
// process.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		BatchesFlushed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "batches_flushed_total",
			Help: "Number of microtask batches flushed to the planner.",
		}),
		IntentsPlanned: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "intents_planned_total",
			Help: "Number of CRDT intents produced by the planner, by kind.",
		}, []string{"kind"}),
		ReconcileApplied: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconcile_events_applied_total",
			Help: "Number of remote ContainerEvents applied to the local proxy graph.",
		}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "errors_total",
			Help: "Number of bridge errors raised, by kind.",
		}, []string{"kind"}),
		PendingBatches: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pending_batches",
			Help: "Number of containers with an unflushed op batch right now.",
		}),
	}
}
