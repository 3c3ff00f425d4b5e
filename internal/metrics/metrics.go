package metrics

type Counter interface {
	Inc()
}

// Metrics mirrors the structured event list the trading core emits:
// order_submit, order_ack, order_reject, fill, guard_block, guard_latch,
// hedger_state_change, maker_cycle, reconcile_snap, ingestor_reconnect.
type Metrics struct {
	OrderSubmit       Counter
	OrderAck          Counter
	OrderReject       Counter
	Fill              Counter
	GuardBlock        Counter
	GuardLatch        Counter
	HedgerStateChange Counter
	MakerCycle        Counter
	ReconcileSnap     Counter
	IngestorReconnect Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		OrderSubmit:       n,
		OrderAck:          n,
		OrderReject:       n,
		Fill:              n,
		GuardBlock:        n,
		GuardLatch:        n,
		HedgerStateChange: n,
		MakerCycle:        n,
		ReconcileSnap:     n,
		IngestorReconnect: n,
	}
}
