package store

import (
	"context"
	"fmt"

	"github.com/pumpwatch/pumpwatch/internal/model"
)

// RecordTrade folds one trade into the trader's profile and returns the
// updated row. The whale flag latches once cumulative volume crosses the
// threshold. Runs inside the range transaction, gated on the trade insert
// actually happening, so re-deliveries never double-count.
func (t Tx) RecordTrade(ctx context.Context, trader string, valueUSD float64, ts int64) (model.TraderProfile, error) {
	var p model.TraderProfile
	err := t.tx.QueryRow(ctx, `
		INSERT INTO trader_profiles (address, trade_count, volume_usd,
			avg_trade_usd, first_seen, last_seen, is_whale)
		VALUES ($1, 1, $2, $2, $3, $3, $2 >= $4)
		ON CONFLICT (address) DO UPDATE SET
			trade_count = trader_profiles.trade_count + 1,
			volume_usd = trader_profiles.volume_usd + EXCLUDED.volume_usd,
			avg_trade_usd = (trader_profiles.volume_usd + EXCLUDED.volume_usd)
				/ (trader_profiles.trade_count + 1),
			last_seen = EXCLUDED.last_seen,
			is_whale = trader_profiles.is_whale
				OR (trader_profiles.volume_usd + EXCLUDED.volume_usd) >= $4
		RETURNING address, trade_count, volume_usd, avg_trade_usd, first_seen,
			last_seen, is_whale`,
		trader, valueUSD, ts, float64(model.WhaleVolumeUSD)).Scan(
		&p.Address, &p.TradeCount, &p.VolumeUSD, &p.AvgTradeUSD,
		&p.FirstSeen, &p.LastSeen, &p.IsWhale)
	if err != nil {
		return model.TraderProfile{}, fmt.Errorf("record trade %s: %w", trader, err)
	}
	return p, nil
}

// ApplyStakeDelta folds a Staked or Unstaked event into the wallet's row.
// Negative deltas clamp at zero.
func (t Tx) ApplyStakeDelta(ctx context.Context, addr string, delta string, negative bool, tier uint8) error {
	var err error
	if negative {
		_, err = t.tx.Exec(ctx, `
			INSERT INTO stake_tiers (address, tier, amount, updated_at)
			VALUES ($1, $2, 0, now())
			ON CONFLICT (address) DO UPDATE SET
				amount = GREATEST(stake_tiers.amount - $3::numeric, 0),
				tier = $2,
				updated_at = now()`,
			addr, int16(tier), delta)
	} else {
		_, err = t.tx.Exec(ctx, `
			INSERT INTO stake_tiers (address, tier, amount, updated_at)
			VALUES ($1, $2, $3::numeric, now())
			ON CONFLICT (address) DO UPDATE SET
				amount = stake_tiers.amount + $3::numeric,
				tier = $2,
				updated_at = now()`,
			addr, int16(tier), delta)
	}
	if err != nil {
		return fmt.Errorf("apply stake delta %s: %w", addr, err)
	}
	return nil
}

// SetStakeTier overwrites just the tier, for TierUpgraded events.
func (t Tx) SetStakeTier(ctx context.Context, addr string, tier uint8) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO stake_tiers (address, tier, amount, updated_at)
		VALUES ($1, $2, 0, now())
		ON CONFLICT (address) DO UPDATE SET tier = $2, updated_at = now()`,
		addr, int16(tier))
	if err != nil {
		return fmt.Errorf("set stake tier %s: %w", addr, err)
	}
	return nil
}

