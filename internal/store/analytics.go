package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pumpwatch/pumpwatch/internal/model"
)

// SaveAnalytics upserts the derived view of a token. Runs outside batch
// transactions; analytics are recomputable so last-writer-wins is fine.
func (s *Store) SaveAnalytics(ctx context.Context, a model.TokenAnalytics) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO token_analytics (token_address, rug_score, is_honeypot,
			ownership_concentration, liquidity_usd, volume_24h, holders,
			transactions_24h, price_usd, price_change_24h, market_cap_usd,
			circulating_supply, max_wallet_pct, max_tx_pct, buy_tax, sell_tax,
			is_renounced, liquidity_locked, liquidity_lock_expiry, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::numeric,
			$13, $14, $15, $16, $17, $18, $19, now())
		ON CONFLICT (token_address) DO UPDATE SET
			rug_score = EXCLUDED.rug_score,
			is_honeypot = EXCLUDED.is_honeypot,
			ownership_concentration = EXCLUDED.ownership_concentration,
			liquidity_usd = EXCLUDED.liquidity_usd,
			volume_24h = EXCLUDED.volume_24h,
			holders = EXCLUDED.holders,
			transactions_24h = EXCLUDED.transactions_24h,
			price_usd = EXCLUDED.price_usd,
			price_change_24h = EXCLUDED.price_change_24h,
			market_cap_usd = EXCLUDED.market_cap_usd,
			circulating_supply = EXCLUDED.circulating_supply,
			max_wallet_pct = EXCLUDED.max_wallet_pct,
			max_tx_pct = EXCLUDED.max_tx_pct,
			buy_tax = EXCLUDED.buy_tax,
			sell_tax = EXCLUDED.sell_tax,
			is_renounced = EXCLUDED.is_renounced,
			liquidity_locked = EXCLUDED.liquidity_locked,
			liquidity_lock_expiry = EXCLUDED.liquidity_lock_expiry,
			updated_at = now()`,
		a.TokenAddress, a.RugScore, a.IsHoneypot, a.OwnershipConcentration,
		a.LiquidityUSD, a.Volume24h, a.Holders, a.Transactions24h, a.PriceUSD,
		a.PriceChange24h, a.MarketCapUSD, zeroIfEmpty(a.CirculatingSupply),
		a.MaxWalletPct, a.MaxTxPct, a.BuyTax, a.SellTax, a.IsRenounced,
		a.LiquidityLocked, a.LiquidityLockExpiry)
	if err != nil {
		return fmt.Errorf("save analytics %s: %w", a.TokenAddress, err)
	}
	return nil
}

// GetAnalytics loads the stored view; ok is false when the token has never
// been scored.
func (s *Store) GetAnalytics(ctx context.Context, token string) (model.TokenAnalytics, bool, error) {
	var a model.TokenAnalytics
	err := s.pool.QueryRow(ctx, `
		SELECT token_address, rug_score, is_honeypot, ownership_concentration,
			liquidity_usd, volume_24h, holders, transactions_24h, price_usd,
			price_change_24h, market_cap_usd, circulating_supply::text,
			max_wallet_pct, max_tx_pct, buy_tax, sell_tax, is_renounced,
			liquidity_locked, liquidity_lock_expiry, updated_at
		FROM token_analytics WHERE token_address = $1`, token).Scan(
		&a.TokenAddress, &a.RugScore, &a.IsHoneypot, &a.OwnershipConcentration,
		&a.LiquidityUSD, &a.Volume24h, &a.Holders, &a.Transactions24h,
		&a.PriceUSD, &a.PriceChange24h, &a.MarketCapUSD, &a.CirculatingSupply,
		&a.MaxWalletPct, &a.MaxTxPct, &a.BuyTax, &a.SellTax, &a.IsRenounced,
		&a.LiquidityLocked, &a.LiquidityLockExpiry, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.TokenAnalytics{}, false, nil
	}
	if err != nil {
		return model.TokenAnalytics{}, false, fmt.Errorf("get analytics %s: %w", token, err)
	}
	return a, true, nil
}

// AdjustRugScore shifts a token's stored score by delta, clamped to [0,100].
// Used when ownership renouncement lowers risk after the initial scoring.
func (s *Store) AdjustRugScore(ctx context.Context, token string, delta int) (int, error) {
	var score int
	err := s.pool.QueryRow(ctx, `
		UPDATE token_analytics
		SET rug_score = LEAST(GREATEST(rug_score + $2, 0), 100), updated_at = now()
		WHERE token_address = $1
		RETURNING rug_score`, token, delta).Scan(&score)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("adjust rug score %s: %w", token, err)
	}
	return score, nil
}
