// Package processor owns the domain semantics behind decoded chain events:
// token lifecycle, trades and liquidity. Handlers decode and route; the
// processors here write durable state through the range transaction and
// defer everything else (contract reads, analytics, alerts, cache
// projection, channel publishes) onto the batch sink, where it runs after
// the range commits.
package processor

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/pumpwatch/pumpwatch/internal/contracts"
	"github.com/pumpwatch/pumpwatch/internal/kv"
	"github.com/pumpwatch/pumpwatch/internal/model"
	"github.com/pumpwatch/pumpwatch/internal/store"
)

// MetaReader is the slice of the contract reader used for token enrichment.
type MetaReader interface {
	TokenInfo(ctx context.Context, token common.Address) contracts.TokenInfo
	Extended(ctx context.Context, token common.Address) contracts.ExtendedInfo
}

// ReserveReader reads pool reserves from the chain.
type ReserveReader interface {
	Reserves(ctx context.Context, pair common.Address) (*big.Int, *big.Int, error)
}

// ReceiptSource fetches transaction receipts for gas accounting.
type ReceiptSource interface {
	Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Analyzer recomputes and persists a token's analytics row.
type Analyzer interface {
	Compute(ctx context.Context, tok model.Token) (model.TokenAnalytics, error)
}

// AlertSink routes one alert through dedupe and the severity fan-out.
type AlertSink interface {
	Route(ctx context.Context, a model.Alert) error
}

// Watcher grows the transfer monitor's token watch set.
type Watcher interface {
	Watch(token common.Address)
}

// TokenStore is the post-commit store surface of the token pipeline.
type TokenStore interface {
	UpdateTokenEnrichment(ctx context.Context, tok model.Token) error
	MarkTradingEnabled(ctx context.Context, addr string) (bool, error)
	AdjustRugScore(ctx context.Context, token string, delta int) (int, error)
	GetAnalytics(ctx context.Context, token string) (model.TokenAnalytics, bool, error)
}

// TradeStore is the post-commit store surface of the trade pipeline.
type TradeStore interface {
	GetAnalytics(ctx context.Context, token string) (model.TokenAnalytics, bool, error)
}

var (
	_ TokenStore = (*store.Store)(nil)
	_ TradeStore = (*store.Store)(nil)
)

// Bus is the KV surface processors project into.
type Bus interface {
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	ZAdd(ctx context.Context, set string, score float64, member string) error
	ZRangeByScore(ctx context.Context, set, min, max string) ([]string, error)
	ZRemRangeByScore(ctx context.Context, set, min, max string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	SAdd(ctx context.Context, key string, members ...string) error
	PushCapped(ctx context.Context, list string, v any, max int64, ttl time.Duration) error
	Publish(ctx context.Context, channel string, v any)
}

var _ Bus = (*kv.KV)(nil)

// PriceUpdate is the live pricing payload published after every fill.
type PriceUpdate struct {
	Token     string  `json:"token"`
	Pair      string  `json:"pair,omitempty"`
	PriceUSD  float64 `json:"price_usd"`
	Change24h float64 `json:"price_change_24h"`
	Volume1h  float64 `json:"volume_1h"`
	Volume24h float64 `json:"volume_24h"`
	Timestamp int64   `json:"timestamp"`
}

var oneE18 = decimal.New(1, 18)

// usdValue prices an 18-decimal base-token amount.
func usdValue(amount *big.Int, basePrice decimal.Decimal) float64 {
	if amount == nil || amount.Sign() <= 0 || basePrice.IsZero() {
		return 0
	}
	return decimal.NewFromBigInt(amount, -18).Mul(basePrice).InexactFloat64()
}

func parseBig(s string) (*big.Int, bool) {
	if s == "" {
		return nil, false
	}
	return new(big.Int).SetString(s, 10)
}

func isZero(v *big.Int) bool { return v == nil || v.Sign() == 0 }

// pctChange is (cur-prev)/prev in percent; zero when there is no baseline.
func pctChange(prev, cur float64) float64 {
	if prev <= 0 || cur <= 0 {
		return 0
	}
	return (cur - prev) / prev * 100
}
