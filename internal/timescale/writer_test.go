package timescale

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"hl-market-maker/internal/config"
)

func TestNewReturnsNilWriterWhenDisabled(t *testing.T) {
	w, err := New(config.TimescaleConfig{Enabled: false}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w != nil {
		t.Fatalf("expected a nil writer when timescale is disabled")
	}
}

func TestNewRequiresDSNWhenEnabled(t *testing.T) {
	if _, err := New(config.TimescaleConfig{Enabled: true}, zap.NewNop()); err == nil {
		t.Fatalf("expected an error for an enabled writer with no dsn")
	}
}

func TestNilWriterMethodsAreNoops(t *testing.T) {
	var w *Writer
	w.Start(nil)
	w.EnqueuePosition(PositionSnapshot{Time: time.Now(), Market: "BTC"})
	if err := w.Close(); err != nil {
		t.Fatalf("expected nil writer Close to be a no-op, got %v", err)
	}
}

func TestTableQualifiesWithSchema(t *testing.T) {
	w := &Writer{schema: "mm"}
	if got := w.table("position_snapshots"); got != "mm.position_snapshots" {
		t.Fatalf("unexpected qualified table name: %s", got)
	}
}

func TestEnqueuePositionDropsWhenQueueFull(t *testing.T) {
	w := &Writer{positions: make(chan PositionSnapshot, 1)}
	w.EnqueuePosition(PositionSnapshot{Market: "BTC"})
	w.EnqueuePosition(PositionSnapshot{Market: "ETH"})
	if w.dropPos.Load() != 1 {
		t.Fatalf("expected one dropped enqueue, got %d", w.dropPos.Load())
	}
}
