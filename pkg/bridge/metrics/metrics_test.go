package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/nmxmxh/reactive-crdt-bridge/pkg/bridge/metrics"
)

func TestMetrics_CountersIncrementAndReportByLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "bridge_test")

	m.BatchesFlushed.Inc()
	m.BatchesFlushed.Inc()
	assert.InDelta(t, 2, testutil.ToFloat64(m.BatchesFlushed), 0)

	m.IntentsPlanned.WithLabelValues("MAP_SET").Inc()
	m.IntentsPlanned.WithLabelValues("LIST_INSERT").Inc()
	m.IntentsPlanned.WithLabelValues("LIST_INSERT").Inc()
	assert.InDelta(t, 1, testutil.ToFloat64(m.IntentsPlanned.WithLabelValues("MAP_SET")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.IntentsPlanned.WithLabelValues("LIST_INSERT")), 0)

	m.Errors.WithLabelValues("ReparentError").Inc()
	assert.InDelta(t, 1, testutil.ToFloat64(m.Errors.WithLabelValues("ReparentError")), 0)

	m.PendingBatches.Set(3)
	assert.InDelta(t, 3, testutil.ToFloat64(m.PendingBatches), 0)
	m.PendingBatches.Set(0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.PendingBatches), 0)
}

func TestMetrics_SeparateRegistriesAvoidNameCollisions(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()

	assert.NotPanics(t, func() {
		metrics.New(reg1, "bridge_a")
		metrics.New(reg2, "bridge_a")
	})
}
