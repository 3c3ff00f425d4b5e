// Package tradeclient implements ports.TradingClient directly against
// Hyperliquid's exchange action wire format. Prices and sizes are carried
// as decimal.Decimal end to end and handed to the wire as their exact
// string representation — no float round-trip, unlike the
// float64-oriented LimitOrderWire helper. Grounded on internal/exec's
// retry-with-backoff idiom, generalized from its float64 Order/cloid-cache
// shape to the decimal ports.TradingClient contract.
package tradeclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hl-market-maker/internal/hl/exchange"
	"hl-market-maker/internal/ports"
	"hl-market-maker/internal/trading"
)

type orderRecord struct {
	asset  int
	market string
	role   trading.Role
}

// Client adapts a signed exchange.Client plus a static market registry
// into a ports.TradingClient.
type Client struct {
	exchange *exchange.Client
	markets  map[string]trading.Market
	tif      exchange.Tif
	log      *zap.Logger

	mu     sync.Mutex
	orders map[string]orderRecord
}

func New(exClient *exchange.Client, markets []trading.Market, log *zap.Logger) *Client {
	byID := make(map[string]trading.Market, len(markets))
	for _, m := range markets {
		byID[m.ID] = m
	}
	return &Client{
		exchange: exClient,
		markets:  byID,
		tif:      exchange.TifGtc,
		log:      log,
		orders:   make(map[string]orderRecord),
	}
}

func (c *Client) SubmitLimit(ctx context.Context, market string, side trading.Side, price, size decimal.Decimal, postOnly bool, role trading.Role) (string, error) {
	m, ok := c.markets[market]
	if !ok {
		return "", fmt.Errorf("tradeclient: unknown market %s", market)
	}
	tif := exchange.TifGtc
	if postOnly {
		tif = exchange.TifAlo
	}
	wire := exchange.OrderWire{
		Asset:      m.AssetID,
		IsBuy:      side == trading.SideBid,
		Price:      price.String(),
		Size:       size.String(),
		ReduceOnly: false,
		OrderType:  exchange.OrderTypeWire{Limit: &exchange.LimitOrderType{Tif: tif}},
		Cloid:      newCloid(),
	}

	var resp map[string]any
	err := c.retry(ctx, func() error {
		var placeErr error
		resp, placeErr = c.exchange.PlaceOrder(ctx, wire)
		if placeErr != nil {
			return classify(placeErr.Error())
		}
		if rejection, ok := extractRejection(resp); ok {
			return classify(rejection)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	orderID := exchange.OrderIDFromResponse(resp)
	if orderID == "" {
		return "", ports.ErrOther
	}
	c.mu.Lock()
	c.orders[orderID] = orderRecord{asset: m.AssetID, market: market, role: role}
	c.mu.Unlock()
	return orderID, nil
}

// RoleFor reports which component (Maker or Hedger) placed orderID, so the
// AccountStream adapter's fill frames can be attributed without the
// TradingClient having to be threaded through the dispatcher's own registry.
func (c *Client) RoleFor(orderID string) (trading.Role, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.orders[orderID]
	return rec.role, ok
}

func (c *Client) Cancel(ctx context.Context, orderID string) error {
	c.mu.Lock()
	rec, ok := c.orders[orderID]
	c.mu.Unlock()
	if !ok {
		return ports.ErrNotFound
	}
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("tradeclient: invalid order id %s: %w", orderID, err)
	}
	err = c.retry(ctx, func() error {
		_, cancelErr := c.exchange.CancelOrder(ctx, rec.asset, oid)
		if cancelErr != nil {
			return classify(cancelErr.Error())
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.orders, orderID)
	c.mu.Unlock()
	return nil
}

func (c *Client) CancelAll(ctx context.Context, market string) (int, error) {
	c.mu.Lock()
	var ids []string
	for id, rec := range c.orders {
		if rec.market == market {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()
	var firstErr error
	count := 0
	for _, id := range ids {
		if err := c.Cancel(ctx, id); err != nil {
			if c.log != nil {
				c.log.Warn("tradeclient: cancel_all failed for order", zap.String("order_id", id), zap.Error(err))
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		count++
	}
	return count, firstErr
}

func (c *Client) retry(ctx context.Context, fn func() error) error {
	backoff := 200 * time.Millisecond
	const attempts = 3
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !errors.Is(err, ports.ErrRateLimited) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return lastErr
}

// extractRejection looks for a per-order "error" field inside a 200-OK
// exchange response; Hyperliquid reports order-level rejections this way
// rather than as an HTTP error.
func extractRejection(resp map[string]any) (string, bool) {
	response, ok := resp["response"].(map[string]any)
	if !ok {
		return "", false
	}
	data, ok := response["data"].(map[string]any)
	if !ok {
		return "", false
	}
	statuses, ok := data["statuses"].([]any)
	if !ok {
		return "", false
	}
	for _, s := range statuses {
		entry, ok := s.(map[string]any)
		if !ok {
			continue
		}
		if msg, ok := entry["error"].(string); ok && msg != "" {
			return msg, true
		}
	}
	return "", false
}

// classify maps Hyperliquid's free-text rejection reasons onto the
// ports sentinel error kinds every TradingClient must speak.
func classify(text string) error {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "nonce"):
		return fmt.Errorf("%s: %w", text, ports.ErrNonce)
	case strings.Contains(lower, "rate limit"):
		return fmt.Errorf("%s: %w", text, ports.ErrRateLimited)
	case strings.Contains(lower, "notional"):
		return fmt.Errorf("%s: %w", text, ports.ErrMinNotional)
	case strings.Contains(lower, "immediately match") || strings.Contains(lower, "would cross") || strings.Contains(lower, "post only"):
		return fmt.Errorf("%s: %w", text, ports.ErrCrossed)
	case strings.Contains(lower, "not found") || strings.Contains(lower, "unknown oid"):
		return fmt.Errorf("%s: %w", text, ports.ErrNotFound)
	default:
		return fmt.Errorf("%s: %w", text, ports.ErrOther)
	}
}

func newCloid() string {
	n := time.Now().UnixNano()
	return fmt.Sprintf("0x%032x", uint64(n))
}
