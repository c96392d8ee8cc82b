package processor

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/pumpwatch/pumpwatch/internal/kv"
	"github.com/pumpwatch/pumpwatch/internal/model"
	"github.com/pumpwatch/pumpwatch/internal/monitor"
	"github.com/pumpwatch/pumpwatch/internal/pricing"
)

const (
	largeLiquidityUSD  = 50_000
	criticalRemovalPct = 80
	reserveShiftPct    = 50
	reserveSnapshotTTL = time.Hour
)

// Liquidity tracks pools: creation, depth changes and reserve sync.
type Liquidity struct {
	reader ReserveReader
	alerts AlertSink
	bus    Bus
	price  pricing.Source
	base   string
	log    *zap.Logger
}

var _ monitor.LiquidityProcessor = (*Liquidity)(nil)

func NewLiquidity(reader ReserveReader, alerts AlertSink, bus Bus, price pricing.Source, base common.Address, log *zap.Logger) *Liquidity {
	return &Liquidity{
		reader: reader,
		alerts: alerts,
		bus:    bus,
		price:  price,
		base:   model.Addr(base),
		log:    log.Named("liquidity"),
	}
}

// OnNewPair registers a discovered pool. Fresh pairs usually receive their
// launch liquidity in the creating transaction, so reserves are seeded from
// the chain when already available; Sync events own them from then on.
func (p *Liquidity) OnNewPair(ctx context.Context, tx monitor.Mutator, fx monitor.Sink, dex string, ev model.PairCreatedEvent) error {
	meta := ev.Meta()
	pr := model.Pair{
		Address:     model.Addr(ev.Pair),
		Token0:      model.Addr(ev.Token0),
		Token1:      model.Addr(ev.Token1),
		DexName:     dex,
		CreatedAt:   meta.Timestamp,
		BlockNumber: meta.BlockNumber,
	}
	if r0, r1, err := p.reader.Reserves(ctx, ev.Pair); err == nil {
		pr.Reserve0, pr.Reserve1 = r0.String(), r1.String()
	} else {
		p.log.Debug("reserves unavailable at pair creation",
			zap.String("pair", pr.Address), zap.Error(err))
	}
	if err := tx.UpsertPair(ctx, pr); err != nil {
		return err
	}
	fx.Defer("pair:new", func(ctx context.Context) error {
		return p.announcePair(ctx, dex, pr, meta)
	})
	return nil
}

func (p *Liquidity) announcePair(ctx context.Context, dex string, pr model.Pair, meta model.EventMeta) error {
	if err := p.bus.SAdd(ctx, kv.SetDexPairs(dex), pr.Address); err != nil {
		p.log.Warn("dex pair set update failed", zap.String("pair", pr.Address), zap.Error(err))
	}
	for _, t := range []string{pr.Token0, pr.Token1} {
		if t == p.base {
			continue
		}
		if err := p.bus.SAdd(ctx, kv.SetTokenPairs(t), pr.Address); err != nil {
			p.log.Warn("token pair set update failed", zap.String("token", t), zap.Error(err))
		}
	}
	p.bus.Publish(ctx, kv.ChannelPairEvents, kv.Event{
		Event:     "NEW_PAIR",
		Data:      pr,
		Timestamp: meta.Timestamp,
	})

	if pr.Token0 != p.base && pr.Token1 != p.base {
		return nil
	}
	return p.alerts.Route(ctx, model.Alert{
		ID:           "new-pair-" + pr.Address,
		Type:         model.AlertNewPair,
		Severity:     model.SeverityMedium,
		TokenAddress: p.tradedToken(pr),
		Message:      fmt.Sprintf("New %s pair %s", dex, pr.Address),
		Data:         map[string]any{"pair": pr.Address, "token0": pr.Token0, "token1": pr.Token1, "dex": dex},
		Timestamp:    meta.Timestamp,
	})
}

// OnMint appends an ADD event. Zero-amount mints are recorded but never
// alerted.
func (p *Liquidity) OnMint(ctx context.Context, tx monitor.Mutator, fx monitor.Sink, pair model.Pair, ev model.MintEvent) error {
	meta := ev.Meta()
	lev := model.LiquidityEvent{
		TxHash:       meta.TxHash.Hex(),
		LogIndex:     meta.LogIndex,
		BlockNumber:  meta.BlockNumber,
		Timestamp:    meta.Timestamp,
		Pair:         pair.Address,
		Provider:     model.Addr(ev.Sender),
		Token0Amount: model.BigString(ev.Amount0),
		Token1Amount: model.BigString(ev.Amount1),
		Type:         model.LiquidityAdd,
		ValueUSD:     p.eventValue(ctx, pair, ev.Amount0, ev.Amount1),
	}
	inserted, err := tx.InsertLiquidityEvent(ctx, lev)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}
	fx.Defer("liquidity:add", func(ctx context.Context) error {
		return p.added(ctx, pair, lev)
	})
	return nil
}

func (p *Liquidity) added(ctx context.Context, pair model.Pair, lev model.LiquidityEvent) error {
	p.bus.Publish(ctx, kv.ChannelLiquidityEvents, kv.Event{
		Event:     "LIQUIDITY_ADDED",
		Data:      lev,
		Timestamp: lev.Timestamp,
	})
	if lev.ValueUSD < largeLiquidityUSD {
		return nil
	}
	return p.alerts.Route(ctx, model.Alert{
		ID:           fmt.Sprintf("liquidity-added-%s-%d", lev.TxHash, lev.LogIndex),
		Type:         model.AlertLiquidityAdded,
		Severity:     model.SeverityHigh,
		TokenAddress: p.tradedToken(pair),
		Message:      fmt.Sprintf("$%.0f liquidity added to %s", lev.ValueUSD, pair.Address),
		Data:         map[string]any{"pair": pair.Address, "value_usd": lev.ValueUSD},
		Timestamp:    lev.Timestamp,
	})
}

// OnBurn appends a REMOVE event and escalates catastrophic pulls.
func (p *Liquidity) OnBurn(ctx context.Context, tx monitor.Mutator, fx monitor.Sink, pair model.Pair, ev model.BurnEvent) error {
	meta := ev.Meta()
	lev := model.LiquidityEvent{
		TxHash:       meta.TxHash.Hex(),
		LogIndex:     meta.LogIndex,
		BlockNumber:  meta.BlockNumber,
		Timestamp:    meta.Timestamp,
		Pair:         pair.Address,
		Provider:     model.Addr(ev.To),
		Token0Amount: model.BigString(ev.Amount0),
		Token1Amount: model.BigString(ev.Amount1),
		Type:         model.LiquidityRemove,
		ValueUSD:     p.eventValue(ctx, pair, ev.Amount0, ev.Amount1),
	}
	pct := removalPct(pair, ev.Amount0, ev.Amount1)
	inserted, err := tx.InsertLiquidityEvent(ctx, lev)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}
	fx.Defer("liquidity:remove", func(ctx context.Context) error {
		return p.removed(ctx, pair, lev, pct)
	})
	return nil
}

func (p *Liquidity) removed(ctx context.Context, pair model.Pair, lev model.LiquidityEvent, pct float64) error {
	p.bus.Publish(ctx, kv.ChannelLiquidityEvents, kv.Event{
		Event:     "LIQUIDITY_REMOVED",
		Data:      lev,
		Timestamp: lev.Timestamp,
	})
	switch {
	case pct >= criticalRemovalPct:
		return p.alerts.Route(ctx, model.Alert{
			ID:           "critical-liquidity-removal-" + lev.TxHash,
			Type:         model.AlertLiquidityRemoved,
			Severity:     model.SeverityCritical,
			TokenAddress: p.tradedToken(pair),
			Message:      fmt.Sprintf("%.0f%% of %s liquidity pulled", pct, pair.Address),
			Data:         map[string]any{"pair": pair.Address, "percentage": pct, "value_usd": lev.ValueUSD},
			Timestamp:    lev.Timestamp,
		})
	case lev.ValueUSD >= largeLiquidityUSD:
		return p.alerts.Route(ctx, model.Alert{
			ID:           fmt.Sprintf("liquidity-removed-%s-%d", lev.TxHash, lev.LogIndex),
			Type:         model.AlertLiquidityRemoved,
			Severity:     model.SeverityHigh,
			TokenAddress: p.tradedToken(pair),
			Message:      fmt.Sprintf("$%.0f liquidity removed from %s", lev.ValueUSD, pair.Address),
			Data:         map[string]any{"pair": pair.Address, "percentage": pct, "value_usd": lev.ValueUSD},
			Timestamp:    lev.Timestamp,
		})
	}
	return nil
}

// OnSync applies the authoritative reserve figures and defers the
// shift check.
func (p *Liquidity) OnSync(ctx context.Context, tx monitor.Mutator, fx monitor.Sink, pair model.Pair, ev model.SyncEvent) error {
	meta := ev.Meta()
	r0 := model.BigString(ev.Reserve0)
	r1 := model.BigString(ev.Reserve1)
	if err := tx.UpdateReserves(ctx, pair.Address, r0, r1); err != nil {
		return err
	}
	addr := pair.Address
	fx.Defer("pair:reserves", func(ctx context.Context) error {
		p.snapshotReserves(ctx, addr, r0, r1, meta.Timestamp)
		return nil
	})
	return nil
}

// reserveSnapshot is the cached view used to spot violent reserve moves
// between syncs.
type reserveSnapshot struct {
	Reserve0  string `json:"reserve0"`
	Reserve1  string `json:"reserve1"`
	Timestamp int64  `json:"ts"`
}

// snapshotReserves warns when either side moved more than half against the
// previous snapshot, then stores the new one. Shift detection is advisory;
// no alert is raised.
func (p *Liquidity) snapshotReserves(ctx context.Context, pair, r0, r1 string, ts int64) {
	var prev reserveSnapshot
	ok, err := p.bus.GetJSON(ctx, kv.KeyReserves(pair), &prev)
	if err != nil {
		p.log.Warn("reserve snapshot read failed", zap.String("pair", pair), zap.Error(err))
	}
	if ok {
		if d := shiftPct(prev.Reserve0, r0); d > reserveShiftPct {
			p.log.Warn("reserve shift",
				zap.String("pair", pair), zap.Int("side", 0), zap.Float64("pct", d))
		}
		if d := shiftPct(prev.Reserve1, r1); d > reserveShiftPct {
			p.log.Warn("reserve shift",
				zap.String("pair", pair), zap.Int("side", 1), zap.Float64("pct", d))
		}
	}
	snap := reserveSnapshot{Reserve0: r0, Reserve1: r1, Timestamp: ts}
	if err := p.bus.SetJSON(ctx, kv.KeyReserves(pair), snap, reserveSnapshotTTL); err != nil {
		p.log.Warn("reserve snapshot write failed", zap.String("pair", pair), zap.Error(err))
	}
}

// eventValue doubles the base leg: both sides of a balanced deposit or
// withdrawal carry equal value. Pairs without the base token value at zero.
func (p *Liquidity) eventValue(ctx context.Context, pair model.Pair, amount0, amount1 *big.Int) float64 {
	var baseAmount *big.Int
	switch p.base {
	case pair.Token0:
		baseAmount = amount0
	case pair.Token1:
		baseAmount = amount1
	default:
		return 0
	}
	return 2 * usdValue(baseAmount, p.price.PriceUSD(ctx))
}

func (p *Liquidity) tradedToken(pair model.Pair) string {
	if pair.Token0 == p.base {
		return pair.Token1
	}
	return pair.Token0
}

// removalPct is the larger share a burn drained from either side. Stored
// reserves are post-burn (the burn's Sync lands first in the transaction),
// so the burned amounts are added back for the pre-burn denominator.
func removalPct(pair model.Pair, amount0, amount1 *big.Int) float64 {
	return math.Max(sidePct(pair.Reserve0, amount0), sidePct(pair.Reserve1, amount1))
}

func sidePct(reserve string, removed *big.Int) float64 {
	if isZero(removed) {
		return 0
	}
	r, ok := parseBig(reserve)
	if !ok {
		r = new(big.Int)
	}
	pre := new(big.Int).Add(r, removed)
	if pre.Sign() <= 0 {
		return 0
	}
	pct := decimal.NewFromBigInt(removed, 0).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromBigInt(pre, 0)).
		InexactFloat64()
	return math.Min(pct, 100)
}

// shiftPct is the relative change between two reserve figures in percent.
func shiftPct(oldVal, newVal string) float64 {
	o, ok := parseBig(oldVal)
	if !ok || o.Sign() <= 0 {
		return 0
	}
	n, ok := parseBig(newVal)
	if !ok {
		return 0
	}
	diff := new(big.Int).Abs(new(big.Int).Sub(n, o))
	return decimal.NewFromBigInt(diff, 0).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromBigInt(o, 0)).
		InexactFloat64()
}
