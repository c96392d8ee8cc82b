package monitor

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/pumpwatch/pumpwatch/internal/contracts"
	"github.com/pumpwatch/pumpwatch/internal/kv"
	"github.com/pumpwatch/pumpwatch/internal/metrics"
	"github.com/pumpwatch/pumpwatch/internal/model"
)

// StakeBus mirrors tier changes into the KV hash and the staking channel.
type StakeBus interface {
	Publish(ctx context.Context, channel string, v any)
	HSet(ctx context.Context, key string, fields map[string]any) error
}

// StakingHandler keeps the wallet -> tier ledger in step with the staking
// contract. The writes are plain bookkeeping, so it skips the processor
// seam and applies them directly.
type StakingHandler struct {
	addr  common.Address
	times TimeSource
	bus   StakeBus
	met   *metrics.Metrics
	log   *zap.Logger
}

func NewStakingHandler(addr common.Address, times TimeSource, bus StakeBus, met *metrics.Metrics, log *zap.Logger) *StakingHandler {
	return &StakingHandler{
		addr:  addr,
		times: times,
		bus:   bus,
		met:   met,
		log:   log.Named("staking"),
	}
}

func (h *StakingHandler) Name() string { return "staking" }

func (h *StakingHandler) Filter() ([]common.Address, [][]common.Hash) {
	return []common.Address{h.addr}, [][]common.Hash{contracts.StakingTopics()}
}

func (h *StakingHandler) HandleLogs(ctx context.Context, b *Batch, logs []types.Log) error {
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		ts, err := h.times.BlockTime(ctx, lg.BlockNumber)
		if err != nil {
			return err
		}
		ev, err := contracts.DecodeStakingLog(lg, ts)
		if err != nil {
			h.met.DecodeErrors.WithLabelValues(h.Name()).Inc()
			h.log.Warn("skipping undecodable staking log",
				zap.Uint64("block", lg.BlockNumber), zap.Error(err))
			continue
		}
		if err := h.dispatch(ctx, b, ev); err != nil {
			return err
		}
	}
	return nil
}

func (h *StakingHandler) dispatch(ctx context.Context, b *Batch, ev model.ChainEvent) error {
	switch e := ev.(type) {
	case model.StakedEvent:
		user := model.Addr(e.User)
		if err := b.Tx.ApplyStakeDelta(ctx, user, model.BigString(e.Amount), false, e.Tier); err != nil {
			return err
		}
		h.mirror(b, "STAKED", user, e.Tier, map[string]any{
			"user": user, "amount": model.BigString(e.Amount), "tier": e.Tier,
		})

	case model.UnstakedEvent:
		user := model.Addr(e.User)
		if err := b.Tx.ApplyStakeDelta(ctx, user, model.BigString(e.Amount), true, e.Tier); err != nil {
			return err
		}
		h.mirror(b, "UNSTAKED", user, e.Tier, map[string]any{
			"user": user, "amount": model.BigString(e.Amount), "tier": e.Tier,
		})

	case model.TierUpgradedEvent:
		user := model.Addr(e.User)
		if err := b.Tx.SetStakeTier(ctx, user, e.NewTier); err != nil {
			return err
		}
		h.mirror(b, "TIER_UPGRADED", user, e.NewTier, map[string]any{
			"user": user, "old_tier": e.OldTier, "new_tier": e.NewTier,
		})
	}
	return nil
}

// mirror defers the KV projection of one staking event: the tier hash entry
// and the channel publish.
func (h *StakingHandler) mirror(fx Sink, event, user string, tier uint8, data map[string]any) {
	fx.Defer("staking mirror "+user, func(ctx context.Context) error {
		if err := h.bus.HSet(ctx, kv.HashStakeTiers, map[string]any{user: tier}); err != nil {
			return err
		}
		h.bus.Publish(ctx, kv.ChannelStakingEvents, kv.Event{
			Event: event, Data: data, Timestamp: time.Now().Unix(),
		})
		return nil
	})
}

func (h *StakingHandler) OnRange(context.Context, *Batch, uint64, uint64) error { return nil }
