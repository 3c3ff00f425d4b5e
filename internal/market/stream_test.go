package market

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"

	"hl-market-maker/internal/ports"
)

func TestDecodeL2BookFrameProducesMidUpdate(t *testing.T) {
	msg := json.RawMessage(`{
		"channel": "l2Book",
		"data": {
			"coin": "BTC",
			"levels": [
				[{"px": "30000.5", "sz": "1.2"}],
				[{"px": "30001.0", "sz": "0.8"}]
			]
		}
	}`)
	frame, ok := decodeL2BookFrame(msg)
	if !ok {
		t.Fatalf("expected a decoded frame")
	}
	if frame.Kind != ports.FrameMidUpdate {
		t.Fatalf("expected FrameMidUpdate, got %v", frame.Kind)
	}
	if frame.Market != "BTC" {
		t.Fatalf("expected market BTC, got %s", frame.Market)
	}
	wantBid := decimal.RequireFromString("30000.5")
	wantAsk := decimal.RequireFromString("30001.0")
	if !frame.Bid.Equal(wantBid) || !frame.Ask.Equal(wantAsk) {
		t.Fatalf("unexpected bid/ask: %s/%s", frame.Bid, frame.Ask)
	}
}

func TestDecodeL2BookFrameIgnoresOtherChannels(t *testing.T) {
	msg := json.RawMessage(`{"channel": "trades", "data": {}}`)
	if _, ok := decodeL2BookFrame(msg); ok {
		t.Fatalf("expected non-l2Book channels to be ignored")
	}
}

func TestDecodeL2BookFrameReportsMalformedBook(t *testing.T) {
	msg := json.RawMessage(`{"channel": "l2Book", "data": {"coin": "BTC", "levels": [[]]}}`)
	frame, ok := decodeL2BookFrame(msg)
	if !ok {
		t.Fatalf("expected a frame to be produced even when malformed")
	}
	if frame.Kind != ports.FrameError {
		t.Fatalf("expected FrameError, got %v", frame.Kind)
	}
}

func TestDecodeL2BookFrameReportsInvalidJSON(t *testing.T) {
	frame, ok := decodeL2BookFrame(json.RawMessage(`not json`))
	if !ok {
		t.Fatalf("expected a frame to be produced for invalid json")
	}
	if frame.Kind != ports.FrameError {
		t.Fatalf("expected FrameError, got %v", frame.Kind)
	}
}
