package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.OrderSubmit.Inc()
	prom.Metrics.OrderAck.Inc()
	prom.Metrics.OrderReject.Inc()
	prom.Metrics.Fill.Inc()
	prom.Metrics.GuardBlock.Inc()
	prom.Metrics.GuardLatch.Inc()

	assertCounter(t, prom.Metrics.OrderSubmit.(promCounter).counter, 1)
	assertCounter(t, prom.Metrics.OrderAck.(promCounter).counter, 1)
	assertCounter(t, prom.Metrics.OrderReject.(promCounter).counter, 1)
	assertCounter(t, prom.Metrics.Fill.(promCounter).counter, 1)
	assertCounter(t, prom.Metrics.GuardBlock.(promCounter).counter, 1)
	assertCounter(t, prom.Metrics.GuardLatch.(promCounter).counter, 1)
}

func assertCounter(t *testing.T, counter prometheus.Counter, expected float64) {
	t.Helper()
	if got := testutil.ToFloat64(counter); got != expected {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}
