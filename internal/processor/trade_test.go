package processor

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pumpwatch/pumpwatch/internal/kv"
	"github.com/pumpwatch/pumpwatch/internal/model"
	"github.com/pumpwatch/pumpwatch/internal/monitor"
	"github.com/pumpwatch/pumpwatch/internal/pricing"
)

type tradesEnv struct {
	tx       *fakeTx
	st       *fakeTokenStore
	receipts *fakeReceipts
	alerts   *fakeAlerts
	bus      *fakeBus
	p        *Trades
}

func newTradesEnv(price float64) *tradesEnv {
	env := &tradesEnv{
		tx: newFakeTx(),
		st: newFakeTokenStore(),
		receipts: &fakeReceipts{receipt: &types.Receipt{
			GasUsed:           21_000,
			EffectiveGasPrice: big.NewInt(5_000_000_000),
		}},
		alerts: &fakeAlerts{},
		bus:    newFakeBus(),
	}
	env.p = NewTrades(env.st, env.receipts, env.alerts, env.bus,
		pricing.Static{Price: decimal.NewFromFloat(price)}, testBase, zap.NewNop())
	return env
}

// basePair builds a pool with the base token on side 0 and the stored
// reserves already reflecting the swap under test, the way the pair row
// looks after the swap's own Sync.
func basePair(r0, r1 *big.Int) model.Pair {
	return model.Pair{
		Address:  model.Addr(testPair),
		Token0:   model.Addr(testBase),
		Token1:   model.Addr(testToken),
		Reserve0: r0.String(),
		Reserve1: r1.String(),
		DexName:  "pumpswap",
	}
}

func TestPriceImpact(t *testing.T) {
	cases := []struct {
		name string
		rin  string
		rout string
		in   *big.Int
		out  *big.Int
		want float64
	}{
		{
			name: "sell backed out of post-swap reserves",
			rin:  eth(110).String(),
			rout: eth(20_000).String(),
			in:   eth(10),
			out:  eth(2000),
			want: 9.0909, // executed 200 vs spot 220
		},
		{
			name: "trade at spot has no impact",
			rin:  eth(10_300).String(),
			rout: eth(4850).String(),
			in:   eth(300),
			out:  eth(150),
			want: 0,
		},
		{
			name: "thin pool moves hard",
			rin:  eth(110).String(),
			rout: eth(915).String(),
			in:   eth(10),
			out:  eth(85),
			want: 15,
		},
		{
			name: "zero amount in",
			rin:  eth(100).String(),
			rout: eth(100).String(),
			in:   new(big.Int),
			out:  eth(1),
			want: 0,
		},
		{
			name: "zero amount out",
			rin:  eth(100).String(),
			rout: eth(100).String(),
			in:   eth(1),
			out:  new(big.Int),
			want: 0,
		},
		{
			name: "reserves not yet known",
			rin:  "",
			rout: "",
			in:   eth(1),
			out:  eth(1),
			want: 0,
		},
		{
			name: "reserve smaller than amount in",
			rin:  "5",
			rout: eth(100).String(),
			in:   big.NewInt(10),
			out:  eth(1),
			want: 0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := PriceImpact(tc.rin, tc.rout, tc.in, tc.out)
			require.InDelta(t, tc.want, got, 0.01)
		})
	}
}

func TestOnSwapLargeSell(t *testing.T) {
	ctx := context.Background()
	env := newTradesEnv(0.10)
	token := model.Addr(testToken)

	// post-swap reserves: 20000 base / 110 token
	pair := basePair(eth(20_000), eth(110))
	ev := model.SwapEvent{
		EventMeta:  meta(500, 1_700_010_000, 0x10, 7),
		Sender:     testCreator,
		To:         testTrader,
		Amount1In:  eth(10),
		Amount0Out: eth(2000),
		Amount0In:  new(big.Int),
		Amount1Out: new(big.Int),
	}

	b := monitor.NewBatch(env.tx)
	require.NoError(t, env.p.OnSwap(ctx, b.Tx, b, pair, ev))

	require.Len(t, env.tx.trades, 1)
	tr := env.tx.trades[0]
	require.Equal(t, model.TradeSell, tr.Side)
	require.Equal(t, token, tr.TokenIn)
	require.Equal(t, model.Addr(testBase), tr.TokenOut)
	require.Equal(t, eth(10).String(), tr.AmountIn)
	require.Equal(t, eth(2000).String(), tr.AmountOut)
	require.Equal(t, model.Addr(testTrader), tr.Trader)
	require.InDelta(t, 200, tr.ValueUSD, 1e-9)
	require.InDelta(t, 9.0909, tr.PriceImpact, 0.01)
	require.Equal(t, uint64(21_000), tr.GasUsed)
	require.Equal(t, "5000000000", tr.GasPrice)

	require.InDelta(t, 200, env.tx.profiles[tr.Trader].VolumeUSD, 1e-9)

	require.Len(t, b.Effects(), 1)
	runEffects(t, b)

	require.Len(t, env.alerts.routed, 1)
	al := env.alerts.routed[0]
	require.Equal(t, "large-sell-"+tr.TxHash+"-7", al.ID)
	require.Equal(t, model.AlertLargeSell, al.Type)
	require.Equal(t, model.SeverityMedium, al.Severity)
	require.Equal(t, token, al.TokenAddress)

	evt := busEvent(t, env.bus, kv.ChannelTradeEvents, "NEW_TRADE")
	require.Equal(t, tr, evt.Data.(model.Trade))
	require.Len(t, env.bus.published[kv.ChannelWSTrade], 1)

	require.Len(t, env.bus.published[kv.ChannelWSPriceUpdate], 1)
	pu := env.bus.published[kv.ChannelWSPriceUpdate][0].(PriceUpdate)
	require.Equal(t, token, pu.Token)
	require.Equal(t, pair.Address, pu.Pair)
	require.InDelta(t, 18.1818, pu.PriceUSD, 0.001) // 20000/110 at $0.10
	require.InDelta(t, 200, pu.Volume1h, 1e-9)
	require.InDelta(t, 200, pu.Volume24h, 1e-9)

	require.Len(t, env.bus.zsets[kv.KeyVolume(pair.Address)], 1)
	require.Len(t, env.bus.zsets[kv.KeyVolume(token)], 1)
	require.Len(t, env.bus.lists[kv.ListRecentTrades(pair.Address)], 1)
	require.Len(t, env.bus.lists[kv.ListTokenTrades(token)], 1)
}

func TestOnSwapWhaleAlert(t *testing.T) {
	ctx := context.Background()
	env := newTradesEnv(2)
	trader := model.Addr(testTrader)
	env.tx.profiles[trader] = model.TraderProfile{Address: trader, TradeCount: 7, VolumeUSD: 99_500}

	// 300 base in at $2 is $600; amounts sit exactly on the spot rate
	pair := basePair(eth(10_300), eth(4850))
	ev := model.SwapEvent{
		EventMeta:  meta(501, 1_700_010_100, 0x11, 0),
		To:         testTrader,
		Amount0In:  eth(300),
		Amount1Out: eth(150),
		Amount1In:  new(big.Int),
		Amount0Out: new(big.Int),
	}

	b := monitor.NewBatch(env.tx)
	require.NoError(t, env.p.OnSwap(ctx, b.Tx, b, pair, ev))
	runEffects(t, b)

	tr := env.tx.trades[0]
	require.Equal(t, model.TradeBuy, tr.Side)
	require.InDelta(t, 600, tr.ValueUSD, 1e-9)
	require.InDelta(t, 0, tr.PriceImpact, 1e-9)

	require.Len(t, env.alerts.routed, 1)
	al := env.alerts.routed[0]
	require.Equal(t, "whale-trade-"+tr.TxHash+"-0", al.ID)
	require.Equal(t, model.AlertWhaleActivity, al.Type)
	require.Equal(t, model.SeverityHigh, al.Severity)
	require.Equal(t, true, al.Data["is_whale"])
	require.InDelta(t, 100_100, al.Data["trader_volume_usd"].(float64), 1e-9)
}

func TestOnSwapImpactAlert(t *testing.T) {
	ctx := context.Background()
	env := newTradesEnv(2)

	// $20 of base in, far below the size thresholds, but 15% off spot
	pair := basePair(eth(110), eth(915))
	ev := model.SwapEvent{
		EventMeta:  meta(502, 1_700_010_200, 0x12, 4),
		To:         testTrader,
		Amount0In:  eth(10),
		Amount1Out: eth(85),
		Amount1In:  new(big.Int),
		Amount0Out: new(big.Int),
	}

	b := monitor.NewBatch(env.tx)
	require.NoError(t, env.p.OnSwap(ctx, b.Tx, b, pair, ev))
	runEffects(t, b)

	tr := env.tx.trades[0]
	require.InDelta(t, 20, tr.ValueUSD, 1e-9)
	require.InDelta(t, 15, tr.PriceImpact, 0.01)

	require.Len(t, env.alerts.routed, 1)
	al := env.alerts.routed[0]
	require.Equal(t, "price-impact-"+tr.TxHash+"-4", al.ID)
	require.Equal(t, model.AlertWhaleActivity, al.Type)
	require.Equal(t, model.SeverityMedium, al.Severity)
	require.InDelta(t, 15, al.Data["price_impact"].(float64), 0.01)
}

func TestOnSwapBaseOnSideOne(t *testing.T) {
	ctx := context.Background()
	env := newTradesEnv(2)

	// base on side 1: 50 base in for 100 token out, exactly at spot
	pair := model.Pair{
		Address:  model.Addr(testPair),
		Token0:   model.Addr(testToken),
		Token1:   model.Addr(testBase),
		Reserve0: eth(1900).String(),
		Reserve1: eth(1050).String(),
		DexName:  "pumpswap",
	}
	ev := model.SwapEvent{
		EventMeta:  meta(503, 1_700_010_300, 0x13, 1),
		To:         testTrader,
		Amount1In:  eth(50),
		Amount0Out: eth(100),
		Amount0In:  new(big.Int),
		Amount1Out: new(big.Int),
	}

	b := monitor.NewBatch(env.tx)
	require.NoError(t, env.p.OnSwap(ctx, b.Tx, b, pair, ev))
	runEffects(t, b)

	tr := env.tx.trades[0]
	require.Equal(t, model.TradeBuy, tr.Side)
	require.InDelta(t, 100, tr.ValueUSD, 1e-9) // $100 is the large-trade floor
	require.InDelta(t, 0, tr.PriceImpact, 1e-9)

	require.Len(t, env.alerts.routed, 1)
	al := env.alerts.routed[0]
	require.Equal(t, "large-buy-"+tr.TxHash+"-1", al.ID)
	require.Equal(t, model.AlertLargeBuy, al.Type)
	require.Equal(t, model.SeverityMedium, al.Severity)

	pu := env.bus.published[kv.ChannelWSPriceUpdate][0].(PriceUpdate)
	require.Equal(t, model.Addr(testToken), pu.Token)
	require.InDelta(t, 1.1052, pu.PriceUSD, 0.001) // 1050/1900 at $2
}

func TestOnSwapQuietBelowThresholds(t *testing.T) {
	ctx := context.Background()
	env := newTradesEnv(2)

	// $40 and exactly 10% impact: both gates stay shut
	pair := basePair(eth(100_020), eth(49_991))
	ev := model.SwapEvent{
		EventMeta:  meta(504, 1_700_010_400, 0x14, 0),
		To:         testTrader,
		Amount0In:  eth(20),
		Amount1Out: eth(9),
		Amount1In:  new(big.Int),
		Amount0Out: new(big.Int),
	}

	b := monitor.NewBatch(env.tx)
	require.NoError(t, env.p.OnSwap(ctx, b.Tx, b, pair, ev))
	runEffects(t, b)

	tr := env.tx.trades[0]
	require.InDelta(t, 40, tr.ValueUSD, 1e-9)
	require.InDelta(t, 10, tr.PriceImpact, 1e-9)
	require.Empty(t, env.alerts.routed)
	require.Equal(t, 1, busEventCount(env.bus, kv.ChannelTradeEvents, "NEW_TRADE"))
}

func TestOnSwapDuplicateDelivery(t *testing.T) {
	ctx := context.Background()
	env := newTradesEnv(0.10)

	pair := basePair(eth(20_000), eth(110))
	ev := model.SwapEvent{
		EventMeta:  meta(500, 1_700_010_000, 0x10, 7),
		To:         testTrader,
		Amount1In:  eth(10),
		Amount0Out: eth(2000),
		Amount0In:  new(big.Int),
		Amount1Out: new(big.Int),
	}

	b := monitor.NewBatch(env.tx)
	require.NoError(t, env.p.OnSwap(ctx, b.Tx, b, pair, ev))
	runEffects(t, b)

	b2 := monitor.NewBatch(env.tx)
	require.NoError(t, env.p.OnSwap(ctx, b2.Tx, b2, pair, ev))
	require.Empty(t, b2.Effects())

	require.Len(t, env.tx.trades, 1)
	require.Len(t, env.alerts.routed, 1)
	require.Equal(t, 1, busEventCount(env.bus, kv.ChannelTradeEvents, "NEW_TRADE"))
	// the profile folded the trade once
	require.InDelta(t, 200, env.tx.profiles[model.Addr(testTrader)].VolumeUSD, 1e-9)
}

func TestOnSwapReceiptUnavailable(t *testing.T) {
	ctx := context.Background()
	env := newTradesEnv(0.10)
	env.receipts.err = errNoReceipt

	pair := basePair(eth(20_000), eth(110))
	ev := model.SwapEvent{
		EventMeta:  meta(500, 1_700_010_000, 0x10, 7),
		To:         testTrader,
		Amount1In:  eth(10),
		Amount0Out: eth(2000),
		Amount0In:  new(big.Int),
		Amount1Out: new(big.Int),
	}

	b := monitor.NewBatch(env.tx)
	require.NoError(t, env.p.OnSwap(ctx, b.Tx, b, pair, ev))
	runEffects(t, b)

	// the trade lands without gas rather than failing the range
	require.Len(t, env.tx.trades, 1)
	tr := env.tx.trades[0]
	require.Zero(t, tr.GasUsed)
	require.Empty(t, tr.GasPrice)
	require.InDelta(t, 200, tr.ValueUSD, 1e-9)
}

func TestOnSwapNonBasePair(t *testing.T) {
	ctx := context.Background()
	env := newTradesEnv(2)

	other := model.Addr(testCreator)
	pair := model.Pair{
		Address:  model.Addr(testPair),
		Token0:   model.Addr(testToken),
		Token1:   other,
		Reserve0: eth(1000).String(),
		Reserve1: eth(1000).String(),
	}
	ev := model.SwapEvent{
		EventMeta:  meta(505, 1_700_010_500, 0x15, 2),
		To:         testTrader,
		Amount0In:  eth(10),
		Amount1Out: eth(10),
		Amount1In:  new(big.Int),
		Amount0Out: new(big.Int),
	}

	b := monitor.NewBatch(env.tx)
	require.NoError(t, env.p.OnSwap(ctx, b.Tx, b, pair, ev))
	runEffects(t, b)

	// no base leg, no valuation, no price stream
	tr := env.tx.trades[0]
	require.Zero(t, tr.ValueUSD)
	require.Empty(t, env.alerts.routed)
	require.Empty(t, env.bus.published[kv.ChannelWSPriceUpdate])
	require.Equal(t, 1, busEventCount(env.bus, kv.ChannelTradeEvents, "NEW_TRADE"))
}

func TestPublishPriceUsesStoredBaseline(t *testing.T) {
	ctx := context.Background()
	env := newTradesEnv(0.10)
	token := model.Addr(testToken)
	env.st.analytics[token] = model.TokenAnalytics{PriceUSD: 20}

	pair := basePair(eth(20_000), eth(110))
	ev := model.SwapEvent{
		EventMeta:  meta(500, 1_700_010_000, 0x10, 7),
		To:         testTrader,
		Amount1In:  eth(10),
		Amount0Out: eth(2000),
		Amount0In:  new(big.Int),
		Amount1Out: new(big.Int),
	}

	b := monitor.NewBatch(env.tx)
	require.NoError(t, env.p.OnSwap(ctx, b.Tx, b, pair, ev))
	runEffects(t, b)

	pu := env.bus.published[kv.ChannelWSPriceUpdate][0].(PriceUpdate)
	// 18.18 against a stored 20: about -9.1%
	require.InDelta(t, -9.09, pu.Change24h, 0.01)
}
