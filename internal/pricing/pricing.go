// Package pricing supplies the USD price of the chain's native token.
// Trade valuation and alert thresholds depend on it, so a Source never
// fails the caller: a fetch error serves the last good value, and with
// no prior value the configured fallback.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Source yields the native token price in USD. Implementations must be
// safe for concurrent use.
type Source interface {
	PriceUSD(ctx context.Context) decimal.Decimal
}

// Static always returns the same price.
type Static struct {
	Price decimal.Decimal
}

func (s Static) PriceUSD(context.Context) decimal.Decimal { return s.Price }

// HTTPSource fetches the price from a JSON endpoint and caches it for a
// fixed TTL. The endpoint may answer with {"usd": 1.23} or a bare number.
type HTTPSource struct {
	url      string
	fallback decimal.Decimal
	ttl      time.Duration
	client   *http.Client
	log      *zap.Logger

	mu      sync.Mutex
	cached  decimal.Decimal
	fetched time.Time
}

// NewHTTP builds an HTTPSource. A non-positive ttl defaults to one minute.
func NewHTTP(url string, fallback float64, ttl time.Duration, log *zap.Logger) *HTTPSource {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &HTTPSource{
		url:      url,
		fallback: decimal.NewFromFloat(fallback),
		ttl:      ttl,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

func (h *HTTPSource) PriceUSD(ctx context.Context) decimal.Decimal {
	h.mu.Lock()
	if !h.fetched.IsZero() && time.Since(h.fetched) < h.ttl {
		p := h.cached
		h.mu.Unlock()
		return p
	}
	h.mu.Unlock()

	p, err := h.fetch(ctx)
	if err != nil {
		h.log.Warn("price fetch failed", zap.String("url", h.url), zap.Error(err))
		h.mu.Lock()
		defer h.mu.Unlock()
		if !h.fetched.IsZero() {
			return h.cached
		}
		return h.fallback
	}

	h.mu.Lock()
	h.cached, h.fetched = p, time.Now()
	h.mu.Unlock()
	return p
}

func (h *HTTPSource) fetch(ctx context.Context) (decimal.Decimal, error) {
	if h.url == "" {
		return decimal.Zero, errors.New("no price endpoint configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("price endpoint returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return decimal.Zero, err
	}
	return parsePrice(body)
}

func parsePrice(body []byte) (decimal.Decimal, error) {
	var wrapped struct {
		USD json.Number `json:"usd"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.USD != "" {
		return decimal.NewFromString(wrapped.USD.String())
	}
	var bare json.Number
	if err := json.Unmarshal(body, &bare); err == nil && bare != "" {
		return decimal.NewFromString(bare.String())
	}
	if len(body) > 64 {
		body = body[:64]
	}
	return decimal.Zero, fmt.Errorf("unrecognized price payload %q", body)
}
