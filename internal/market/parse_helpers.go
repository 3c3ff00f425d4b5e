package market

import (
	"strings"
)

// parseL2Book extracts the best bid/ask price strings from an l2Book
// channel message. HL sends levels as [bids, asks], each level sorted
// best-first, with prices carried as strings so callers can parse them
// straight into decimal.Decimal without a float round-trip.
func parseL2Book(payload map[string]any) (asset, bestBid, bestAsk string, ok bool) {
	data, isMap := payload["data"].(map[string]any)
	if !isMap {
		return "", "", "", false
	}
	asset = stringFromAny(data["coin"])
	levels, hasLevels := toSlice(data["levels"])
	if asset == "" || !hasLevels || len(levels) < 2 {
		return "", "", "", false
	}
	bids, _ := toSlice(levels[0])
	asks, _ := toSlice(levels[1])
	if len(bids) == 0 || len(asks) == 0 {
		return "", "", "", false
	}
	bidLevel, ok := toMap(bids[0])
	if !ok {
		return "", "", "", false
	}
	askLevel, ok := toMap(asks[0])
	if !ok {
		return "", "", "", false
	}
	bestBid = stringFromMap(bidLevel, "px")
	bestAsk = stringFromMap(askLevel, "px")
	if bestBid == "" || bestAsk == "" {
		return "", "", "", false
	}
	return asset, bestBid, bestAsk, true
}

func toMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func toSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func stringFromMap(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if s := stringFromAny(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringFromAny(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
