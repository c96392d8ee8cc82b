package processor

import (
	"context"
	"errors"
	"fmt"
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
	whaleTradeUSD = 500
	largeTradeUSD = 100
	highImpactPct = 10

	recentTradesKeep = 100
	tokenTradesKeep  = 50
	tradeListTTL     = time.Hour
)

// Trades turns decoded pair swaps into persisted Trade rows with USD value,
// price impact and gas, then feeds the volume windows, trader profiles, the
// alert ladder and the live channels.
type Trades struct {
	store    TradeStore
	receipts ReceiptSource
	alerts   AlertSink
	bus      Bus
	price    pricing.Source
	window   *VolumeWindow
	base     string
	log      *zap.Logger
}

var _ monitor.TradeProcessor = (*Trades)(nil)

func NewTrades(st TradeStore, receipts ReceiptSource, alerts AlertSink, bus Bus, price pricing.Source, base common.Address, log *zap.Logger) *Trades {
	log = log.Named("trades")
	return &Trades{
		store:    st,
		receipts: receipts,
		alerts:   alerts,
		bus:      bus,
		price:    price,
		window:   NewVolumeWindow(bus, log),
		base:     model.Addr(base),
		log:      log,
	}
}

// OnSwap persists the trade and its trader-profile fold inside the range
// transaction, then defers the projection fan-out. A duplicate delivery
// inserts nothing and defers nothing.
func (p *Trades) OnSwap(ctx context.Context, tx monitor.Mutator, fx monitor.Sink, pair model.Pair, ev model.SwapEvent) error {
	tr := p.buildTrade(ctx, pair, ev)
	inserted, err := tx.InsertTrade(ctx, tr)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}
	profile, err := tx.RecordTrade(ctx, tr.Trader, tr.ValueUSD, tr.Timestamp)
	if err != nil {
		return err
	}
	fx.Defer("trade:fanout", func(ctx context.Context) error {
		return p.fanout(ctx, pair, tr, profile)
	})
	return nil
}

// buildTrade assembles the row from the swap's nonzero sides. Gas comes from
// the receipt and is best-effort: a failed lookup records a zero-gas trade
// rather than failing the range.
func (p *Trades) buildTrade(ctx context.Context, pair model.Pair, ev model.SwapEvent) model.Trade {
	meta := ev.Meta()
	amountIn, tokenIn := ev.Amount0In, pair.Token0
	if isZero(ev.Amount0In) {
		amountIn, tokenIn = ev.Amount1In, pair.Token1
	}
	amountOut, tokenOut := ev.Amount0Out, pair.Token0
	if isZero(ev.Amount0Out) {
		amountOut, tokenOut = ev.Amount1Out, pair.Token1
	}

	side := model.TradeBuy
	if tokenOut == p.base {
		side = model.TradeSell
	}

	reserveIn, reserveOut := pair.Reserve0, pair.Reserve1
	if tokenIn != pair.Token0 {
		reserveIn, reserveOut = pair.Reserve1, pair.Reserve0
	}

	tr := model.Trade{
		TxHash:      meta.TxHash.Hex(),
		LogIndex:    meta.LogIndex,
		BlockNumber: meta.BlockNumber,
		Timestamp:   meta.Timestamp,
		Pair:        pair.Address,
		Trader:      model.Addr(ev.To),
		TokenIn:     tokenIn,
		TokenOut:    tokenOut,
		AmountIn:    model.BigString(amountIn),
		AmountOut:   model.BigString(amountOut),
		PriceImpact: PriceImpact(reserveIn, reserveOut, amountIn, amountOut),
		ValueUSD:    p.tradeValue(ctx, pair, ev),
		Side:        side,
	}

	rcpt, err := p.receipts.Receipt(ctx, meta.TxHash)
	if err != nil {
		p.log.Warn("receipt unavailable", zap.String("tx", tr.TxHash), zap.Error(err))
		return tr
	}
	tr.GasUsed = rcpt.GasUsed
	if rcpt.EffectiveGasPrice != nil {
		tr.GasPrice = rcpt.EffectiveGasPrice.String()
	}
	return tr
}

// PriceImpact measures how far the executed rate strayed from the pre-trade
// spot rate, in percent. The pair's stored reserves already include this
// swap (its Sync lands first in the same transaction), so the swap is backed
// out before comparing.
func PriceImpact(reserveIn, reserveOut string, amountIn, amountOut *big.Int) float64 {
	if isZero(amountIn) || isZero(amountOut) {
		return 0
	}
	rin, ok := parseBig(reserveIn)
	if !ok {
		return 0
	}
	rout, ok := parseBig(reserveOut)
	if !ok {
		return 0
	}
	preIn := new(big.Int).Sub(rin, amountIn)
	preOut := new(big.Int).Add(rout, amountOut)
	if preIn.Sign() <= 0 || preOut.Sign() <= 0 {
		return 0
	}

	expected := decimal.NewFromBigInt(preOut, 0).Mul(oneE18).Div(decimal.NewFromBigInt(preIn, 0))
	if expected.IsZero() {
		return 0
	}
	actual := decimal.NewFromBigInt(amountOut, 0).Mul(oneE18).Div(decimal.NewFromBigInt(amountIn, 0))
	return expected.Sub(actual).Abs().Mul(decimal.NewFromInt(100)).Div(expected).InexactFloat64()
}

// tradeValue prices the base-token leg. Pairs without the base token have no
// trustworthy valuation and record zero.
func (p *Trades) tradeValue(ctx context.Context, pair model.Pair, ev model.SwapEvent) float64 {
	var baseAmount *big.Int
	switch p.base {
	case pair.Token0:
		baseAmount = nonZeroSide(ev.Amount0In, ev.Amount0Out)
	case pair.Token1:
		baseAmount = nonZeroSide(ev.Amount1In, ev.Amount1Out)
	default:
		return 0
	}
	return usdValue(baseAmount, p.price.PriceUSD(ctx))
}

func nonZeroSide(in, out *big.Int) *big.Int {
	if !isZero(in) {
		return in
	}
	return out
}

// fanout projects one committed trade: volume windows, recent-trade lists,
// the alert ladder and the live channels.
func (p *Trades) fanout(ctx context.Context, pair model.Pair, tr model.Trade, profile model.TraderProfile) error {
	token := p.tradedToken(pair)

	p.window.Record(ctx, kv.KeyVolume(pair.Address), tr.TxHash, tr.LogIndex, tr.ValueUSD, tr.Timestamp)
	p.window.Record(ctx, kv.KeyVolume(token), tr.TxHash, tr.LogIndex, tr.ValueUSD, tr.Timestamp)

	var errs []error
	if err := p.bus.PushCapped(ctx, kv.ListRecentTrades(pair.Address), tr, recentTradesKeep, tradeListTTL); err != nil {
		errs = append(errs, err)
	}
	if err := p.bus.PushCapped(ctx, kv.ListTokenTrades(token), tr, tokenTradesKeep, tradeListTTL); err != nil {
		errs = append(errs, err)
	}

	if a, ok := classify(token, tr, profile); ok {
		if err := p.alerts.Route(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}

	p.bus.Publish(ctx, kv.ChannelTradeEvents, kv.Event{
		Event:     "NEW_TRADE",
		Data:      tr,
		Timestamp: tr.Timestamp,
	})
	p.bus.Publish(ctx, kv.ChannelWSTrade, tr)
	p.publishPrice(ctx, pair, token, tr)
	return errors.Join(errs...)
}

// tradedToken is the pair's non-base side, the token a human would say was
// traded.
func (p *Trades) tradedToken(pair model.Pair) string {
	if pair.Token0 == p.base {
		return pair.Token1
	}
	return pair.Token0
}

// classify applies the alert ladder. Size outranks impact, first match wins.
func classify(token string, tr model.Trade, profile model.TraderProfile) (model.Alert, bool) {
	key := fmt.Sprintf("%s-%d", tr.TxHash, tr.LogIndex)
	switch {
	case tr.ValueUSD >= whaleTradeUSD:
		return model.Alert{
			ID:           "whale-trade-" + key,
			Type:         model.AlertWhaleActivity,
			Severity:     model.SeverityHigh,
			TokenAddress: token,
			Message:      fmt.Sprintf("Whale %s: $%.2f on %s", tr.Side, tr.ValueUSD, tr.Pair),
			Data: map[string]any{
				"trade":             tr,
				"trader_volume_usd": profile.VolumeUSD,
				"is_whale":          profile.IsWhale,
			},
			Timestamp: tr.Timestamp,
		}, true
	case tr.ValueUSD >= largeTradeUSD:
		typ, prefix := model.AlertLargeBuy, "large-buy-"
		if tr.Side == model.TradeSell {
			typ, prefix = model.AlertLargeSell, "large-sell-"
		}
		return model.Alert{
			ID:           prefix + key,
			Type:         typ,
			Severity:     model.SeverityMedium,
			TokenAddress: token,
			Message:      fmt.Sprintf("Large %s: $%.2f on %s", tr.Side, tr.ValueUSD, tr.Pair),
			Data:         map[string]any{"trade": tr},
			Timestamp:    tr.Timestamp,
		}, true
	case tr.PriceImpact > highImpactPct:
		return model.Alert{
			ID:           "price-impact-" + key,
			Type:         model.AlertWhaleActivity,
			Severity:     model.SeverityMedium,
			TokenAddress: token,
			Message:      fmt.Sprintf("Trade moved %s price by %.1f%%", token, tr.PriceImpact),
			Data:         map[string]any{"trade": tr, "price_impact": tr.PriceImpact},
			Timestamp:    tr.Timestamp,
		}, true
	}
	return model.Alert{}, false
}

// publishPrice pushes the post-trade spot price with its 24h context.
func (p *Trades) publishPrice(ctx context.Context, pair model.Pair, token string, tr model.Trade) {
	cur := spotPrice(pair, p.base, p.price.PriceUSD(ctx))
	if cur <= 0 {
		return
	}
	var change float64
	if prev, ok, err := p.store.GetAnalytics(ctx, token); err == nil && ok {
		change = pctChange(prev.PriceUSD, cur)
	}
	vol1h, vol24h := p.window.Windows(ctx, kv.KeyVolume(token), tr.Timestamp)

	p.bus.Publish(ctx, kv.ChannelWSPriceUpdate, PriceUpdate{
		Token:     token,
		Pair:      pair.Address,
		PriceUSD:  cur,
		Change24h: change,
		Volume1h:  vol1h,
		Volume24h: vol24h,
		Timestamp: tr.Timestamp,
	})
}

// spotPrice derives the non-base token's USD price from the pair's stored
// reserves. Assumes 18-decimal sides, which holds for every factory token.
func spotPrice(pair model.Pair, base string, basePrice decimal.Decimal) float64 {
	var baseReserve, tokenReserve string
	switch base {
	case pair.Token0:
		baseReserve, tokenReserve = pair.Reserve0, pair.Reserve1
	case pair.Token1:
		baseReserve, tokenReserve = pair.Reserve1, pair.Reserve0
	default:
		return 0
	}
	rb, ok := parseBig(baseReserve)
	if !ok {
		return 0
	}
	rt, ok := parseBig(tokenReserve)
	if !ok || rt.Sign() == 0 || basePrice.IsZero() {
		return 0
	}
	return decimal.NewFromBigInt(rb, 0).Div(decimal.NewFromBigInt(rt, 0)).Mul(basePrice).InexactFloat64()
}
