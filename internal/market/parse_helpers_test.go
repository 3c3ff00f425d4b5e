package market

import "testing"

func TestParseL2Book(t *testing.T) {
	payload := map[string]any{
		"channel": "l2Book",
		"data": map[string]any{
			"coin": "BTC",
			"levels": []any{
				[]any{map[string]any{"px": "30000.5", "sz": "1.2"}},
				[]any{map[string]any{"px": "30001.0", "sz": "0.8"}},
			},
		},
	}
	asset, bid, ask, ok := parseL2Book(payload)
	if !ok {
		t.Fatalf("expected ok")
	}
	if asset != "BTC" {
		t.Fatalf("expected asset BTC, got %s", asset)
	}
	if bid != "30000.5" || ask != "30001.0" {
		t.Fatalf("expected bid/ask 30000.5/30001.0, got %s/%s", bid, ask)
	}
}

func TestParseL2BookMissingLevels(t *testing.T) {
	payload := map[string]any{
		"data": map[string]any{
			"coin":   "BTC",
			"levels": []any{[]any{}},
		},
	}
	if _, _, _, ok := parseL2Book(payload); ok {
		t.Fatalf("expected not ok for a single-sided book")
	}
}

func TestParseL2BookNotAMap(t *testing.T) {
	if _, _, _, ok := parseL2Book(map[string]any{"data": "not-a-map"}); ok {
		t.Fatalf("expected not ok when data isn't a map")
	}
}
