package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "hl_market_maker"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()

	newCounter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return c
	}

	orderSubmit := newCounter("order_submit_total", "Total number of orders submitted to the exchange.")
	orderAck := newCounter("order_ack_total", "Total number of orders acknowledged by the exchange.")
	orderReject := newCounter("order_reject_total", "Total number of orders rejected by the exchange.")
	fill := newCounter("fill_total", "Total number of fills applied to the FillLedger.")
	guardBlock := newCounter("guard_block_total", "Total number of orders blocked by the Guard.")
	guardLatch := newCounter("guard_latch_total", "Total number of kill-switch latch events.")
	hedgerStateChange := newCounter("hedger_state_change_total", "Total number of Hedger state transitions.")
	makerCycle := newCounter("maker_cycle_total", "Total number of MakerEngine quote cycles run.")
	reconcileSnap := newCounter("reconcile_snap_total", "Total number of account reconciliation snapshots taken.")
	ingestorReconnect := newCounter("ingestor_reconnect_total", "Total number of market stream reconnects.")

	m := &Metrics{
		OrderSubmit:       promCounter{orderSubmit},
		OrderAck:          promCounter{orderAck},
		OrderReject:       promCounter{orderReject},
		Fill:              promCounter{fill},
		GuardBlock:        promCounter{guardBlock},
		GuardLatch:        promCounter{guardLatch},
		HedgerStateChange: promCounter{hedgerStateChange},
		MakerCycle:        promCounter{makerCycle},
		ReconcileSnap:     promCounter{reconcileSnap},
		IngestorReconnect: promCounter{ingestorReconnect},
	}

	return &Prometheus{Metrics: m, registry: registry}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
