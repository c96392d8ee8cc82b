package monitor

import (
	"context"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/pumpwatch/pumpwatch/internal/config"
	"github.com/pumpwatch/pumpwatch/internal/contracts"
	"github.com/pumpwatch/pumpwatch/internal/metrics"
	"github.com/pumpwatch/pumpwatch/internal/model"
)

// PairLister seeds the pair watch set from durable state on startup.
type PairLister interface {
	PairAddresses(ctx context.Context, dexName string) ([]string, error)
}

// DexHandler follows one DEX: PairCreated on its factory plus Swap, Mint,
// Burn and Sync on every watched pair. The pair set is dynamic; a pair
// created in range N enters the filter for range N+1, so a swap in the very
// block that created its pair is picked up one poll later at the earliest.
type DexHandler struct {
	dex      string
	factory  common.Address
	initHash common.Hash
	times    TimeSource
	trades   TradeProcessor
	liq      LiquidityProcessor
	met      *metrics.Metrics
	log      *zap.Logger

	pairs mapset.Set[common.Address]
}

func NewDexHandler(ctx context.Context, cfg config.DexConfig, known PairLister, times TimeSource, trades TradeProcessor, liq LiquidityProcessor, met *metrics.Metrics, log *zap.Logger) (*DexHandler, error) {
	h := &DexHandler{
		dex:      cfg.Name,
		factory:  common.HexToAddress(cfg.Factory),
		initHash: common.HexToHash(cfg.InitCodeHash),
		times:    times,
		trades:   trades,
		liq:      liq,
		met:      met,
		log:      log.Named("dex").With(zap.String("dex", cfg.Name)),
		pairs:    mapset.NewSet[common.Address](),
	}
	existing, err := known.PairAddresses(ctx, cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("seed pair watch set %s: %w", cfg.Name, err)
	}
	for _, p := range existing {
		h.pairs.Add(model.HexAddr(p))
	}
	h.log.Info("pair watch set seeded", zap.Int("pairs", len(existing)))
	return h, nil
}

func (h *DexHandler) Name() string { return "dex:" + h.dex }

// WatchedPairs reports the current pair set size.
func (h *DexHandler) WatchedPairs() int { return h.pairs.Cardinality() }

func (h *DexHandler) Filter() ([]common.Address, [][]common.Hash) {
	addrs := make([]common.Address, 0, h.pairs.Cardinality()+1)
	addrs = append(addrs, h.factory)
	addrs = append(addrs, h.pairs.ToSlice()...)
	topics := append([]common.Hash{contracts.TopicPairCreated}, contracts.PairTopics()...)
	return addrs, [][]common.Hash{topics}
}

func (h *DexHandler) HandleLogs(ctx context.Context, b *Batch, logs []types.Log) error {
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		ts, err := h.times.BlockTime(ctx, lg.BlockNumber)
		if err != nil {
			return err
		}
		if lg.Address == h.factory {
			if err := h.handlePairCreated(ctx, b, lg, ts); err != nil {
				return err
			}
			continue
		}
		if err := h.handlePairLog(ctx, b, lg, ts); err != nil {
			return err
		}
	}
	return nil
}

func (h *DexHandler) handlePairCreated(ctx context.Context, b *Batch, lg types.Log, ts int64) error {
	ev, err := contracts.DecodeDexFactoryLog(lg, ts)
	if err != nil {
		h.met.DecodeErrors.WithLabelValues(h.Name()).Inc()
		h.log.Warn("skipping undecodable factory log",
			zap.Uint64("block", lg.BlockNumber), zap.Error(err))
		return nil
	}
	created, ok := ev.(model.PairCreatedEvent)
	if !ok {
		return nil
	}
	// With an init code hash configured, the reported pair address must match
	// its CREATE2 derivation. A mismatch means the factory emitted an address
	// it did not deploy; watching it would ingest arbitrary events as trades.
	if h.initHash != (common.Hash{}) {
		derived := contracts.DerivePairAddress(h.factory, created.Token0, created.Token1, h.initHash)
		if derived != created.Pair {
			h.log.Warn("pair address fails CREATE2 derivation, not watching",
				zap.String("pair", model.Addr(created.Pair)),
				zap.String("derived", model.Addr(derived)))
			return nil
		}
	}
	if err := h.liq.OnNewPair(ctx, b.Tx, b, h.dex, created); err != nil {
		return err
	}
	h.pairs.Add(created.Pair)
	h.log.Info("watching new pair",
		zap.String("pair", model.Addr(created.Pair)),
		zap.String("token0", model.Addr(created.Token0)),
		zap.String("token1", model.Addr(created.Token1)))
	return nil
}

func (h *DexHandler) handlePairLog(ctx context.Context, b *Batch, lg types.Log, ts int64) error {
	ev, err := contracts.DecodePairLog(lg, ts)
	if err != nil {
		h.met.DecodeErrors.WithLabelValues(h.Name()).Inc()
		h.log.Warn("skipping undecodable pair log",
			zap.Uint64("block", lg.BlockNumber), zap.Error(err))
		return nil
	}
	pair, ok, err := b.Tx.GetPair(ctx, model.Addr(lg.Address))
	if err != nil {
		return err
	}
	if !ok {
		h.log.Warn("log from unknown pair, skipping", zap.String("pair", model.Addr(lg.Address)))
		return nil
	}
	switch e := ev.(type) {
	case model.SwapEvent:
		return h.trades.OnSwap(ctx, b.Tx, b, pair, e)
	case model.MintEvent:
		return h.liq.OnMint(ctx, b.Tx, b, pair, e)
	case model.BurnEvent:
		return h.liq.OnBurn(ctx, b.Tx, b, pair, e)
	case model.SyncEvent:
		return h.liq.OnSync(ctx, b.Tx, b, pair, e)
	}
	return nil
}

func (h *DexHandler) OnRange(context.Context, *Batch, uint64, uint64) error { return nil }
