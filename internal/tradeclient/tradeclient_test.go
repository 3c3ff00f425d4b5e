package tradeclient

import (
	"errors"
	"testing"

	"hl-market-maker/internal/ports"
	"hl-market-maker/internal/trading"
)

func TestClassifyMapsKnownRejections(t *testing.T) {
	cases := map[string]error{
		"Order has invalid nonce":       ports.ErrNonce,
		"rate limit exceeded":           ports.ErrRateLimited,
		"Order notional below minimum":  ports.ErrMinNotional,
		"Order would immediately match": ports.ErrCrossed,
		"Order would cross the book":    ports.ErrCrossed,
		"post only order would cross":   ports.ErrCrossed,
		"Unknown oid 123":               ports.ErrNotFound,
		"order not found":               ports.ErrNotFound,
		"something else entirely":       ports.ErrOther,
	}
	for text, want := range cases {
		if got := classify(text); !errors.Is(got, want) {
			t.Fatalf("classify(%q): expected %v, got %v", text, want, got)
		}
	}
}

func TestExtractRejectionFindsPerOrderError(t *testing.T) {
	resp := map[string]any{
		"response": map[string]any{
			"data": map[string]any{
				"statuses": []any{
					map[string]any{"resting": map[string]any{"oid": 1}},
					map[string]any{"error": "Order notional below minimum"},
				},
			},
		},
	}
	msg, ok := extractRejection(resp)
	if !ok {
		t.Fatalf("expected a rejection to be found")
	}
	if msg != "Order notional below minimum" {
		t.Fatalf("unexpected rejection message: %s", msg)
	}
}

func TestExtractRejectionAbsentOnCleanResponse(t *testing.T) {
	resp := map[string]any{
		"response": map[string]any{
			"data": map[string]any{
				"statuses": []any{
					map[string]any{"resting": map[string]any{"oid": 1}},
				},
			},
		},
	}
	if _, ok := extractRejection(resp); ok {
		t.Fatalf("expected no rejection for a clean response")
	}
}

func TestRoleForReportsRegisteredOrders(t *testing.T) {
	c := New(nil, nil, nil)
	c.orders["42"] = orderRecord{asset: 0, market: "BTC", role: trading.RoleHedger}

	role, ok := c.RoleFor("42")
	if !ok {
		t.Fatalf("expected order 42 to be known")
	}
	if role != trading.RoleHedger {
		t.Fatalf("expected role hedger, got %v", role)
	}

	if _, ok := c.RoleFor("missing"); ok {
		t.Fatalf("expected unknown order id to report not-ok")
	}
}
