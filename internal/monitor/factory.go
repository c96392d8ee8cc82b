package monitor

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/pumpwatch/pumpwatch/internal/contracts"
	"github.com/pumpwatch/pumpwatch/internal/metrics"
	"github.com/pumpwatch/pumpwatch/internal/model"
)

// FactoryHandler follows the launchpad factory: token creation, bonding-curve
// purchases and sales, graduation to a DEX pair, and fee administration.
type FactoryHandler struct {
	addr   common.Address
	times  TimeSource
	tokens TokenProcessor
	met    *metrics.Metrics
	log    *zap.Logger
}

func NewFactoryHandler(addr common.Address, times TimeSource, tokens TokenProcessor, met *metrics.Metrics, log *zap.Logger) *FactoryHandler {
	return &FactoryHandler{
		addr:   addr,
		times:  times,
		tokens: tokens,
		met:    met,
		log:    log.Named("factory"),
	}
}

func (h *FactoryHandler) Name() string { return "factory" }

func (h *FactoryHandler) Filter() ([]common.Address, [][]common.Hash) {
	return []common.Address{h.addr}, [][]common.Hash{contracts.FactoryTopics()}
}

func (h *FactoryHandler) HandleLogs(ctx context.Context, b *Batch, logs []types.Log) error {
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		ts, err := h.times.BlockTime(ctx, lg.BlockNumber)
		if err != nil {
			return err
		}
		ev, err := contracts.DecodeFactoryLog(lg, ts)
		if err != nil {
			h.met.DecodeErrors.WithLabelValues(h.Name()).Inc()
			h.log.Warn("skipping undecodable factory log",
				zap.Uint64("block", lg.BlockNumber), zap.Error(err))
			continue
		}
		if err := h.dispatch(ctx, b, ev); err != nil {
			return err
		}
	}
	return nil
}

func (h *FactoryHandler) dispatch(ctx context.Context, b *Batch, ev model.ChainEvent) error {
	switch e := ev.(type) {
	case model.TokenCreatedEvent:
		return h.tokens.OnNewToken(ctx, b.Tx, b, e)
	case model.TokenPurchasedEvent:
		return h.tokens.OnCurvePurchase(ctx, b.Tx, b, e)
	case model.TokenSoldEvent:
		return h.tokens.OnCurveSale(ctx, b.Tx, b, e)
	case model.TokenLaunchedEvent:
		return h.tokens.OnLaunch(ctx, b.Tx, b, e)
	case model.FeesWithdrawnEvent:
		h.log.Info("protocol fees withdrawn",
			zap.String("to", model.Addr(e.To)),
			zap.String("amount", model.BigString(e.Amount)))
	case model.CreationFeeUpdatedEvent:
		h.log.Info("creation fee updated",
			zap.String("old", model.BigString(e.OldFee)),
			zap.String("new", model.BigString(e.NewFee)))
	case model.TradingFeeUpdatedEvent:
		h.log.Info("trading fee updated",
			zap.String("old", model.BigString(e.OldFee)),
			zap.String("new", model.BigString(e.NewFee)))
	}
	return nil
}

func (h *FactoryHandler) OnRange(context.Context, *Batch, uint64, uint64) error { return nil }
