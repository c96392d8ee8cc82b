package store

import (
	"context"
	"fmt"

	"github.com/pumpwatch/pumpwatch/internal/model"
)

// InsertTrade appends a trade. Returns false when the (tx_hash, log_index)
// key already exists, which is how re-delivered ranges stay side-effect
// free.
func (t Tx) InsertTrade(ctx context.Context, tr model.Trade) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO trades (tx_hash, log_index, block_number, timestamp, pair,
			trader, token_in, token_out, amount_in, amount_out, price_impact,
			value_usd, side, gas_used, gas_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10::numeric,
			$11, $12, $13, $14, $15::numeric)
		ON CONFLICT (tx_hash, log_index) DO NOTHING`,
		tr.TxHash, int32(tr.LogIndex), int64(tr.BlockNumber), tr.Timestamp,
		tr.Pair, tr.Trader, tr.TokenIn, tr.TokenOut,
		zeroIfEmpty(tr.AmountIn), zeroIfEmpty(tr.AmountOut),
		tr.PriceImpact, tr.ValueUSD, string(tr.Side),
		int64(tr.GasUsed), zeroIfEmpty(tr.GasPrice))
	if err != nil {
		return false, fmt.Errorf("insert trade %s/%d: %w", tr.TxHash, tr.LogIndex, err)
	}
	return tag.RowsAffected() == 1, nil
}

// InsertLiquidityEvent appends a Mint or Burn record, idempotently.
func (t Tx) InsertLiquidityEvent(ctx context.Context, ev model.LiquidityEvent) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO liquidity_events (tx_hash, log_index, block_number,
			timestamp, pair, provider, token0_amount, token1_amount, liquidity,
			type, value_usd)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10, $11)
		ON CONFLICT (tx_hash, log_index) DO NOTHING`,
		ev.TxHash, int32(ev.LogIndex), int64(ev.BlockNumber), ev.Timestamp,
		ev.Pair, ev.Provider, zeroIfEmpty(ev.Token0Amount), zeroIfEmpty(ev.Token1Amount),
		zeroIfEmpty(ev.Liquidity), string(ev.Type), ev.ValueUSD)
	if err != nil {
		return false, fmt.Errorf("insert liquidity event %s/%d: %w", ev.TxHash, ev.LogIndex, err)
	}
	return tag.RowsAffected() == 1, nil
}

// InsertTransfer appends a transfer. Returns false on duplicate delivery, in
// which case the caller must skip the balance mutations too.
func (t Tx) InsertTransfer(ctx context.Context, ev model.TransferEvent) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO transfer_events (tx_hash, log_index, token_address,
			from_address, to_address, value, block_number, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8)
		ON CONFLICT (tx_hash, log_index) DO NOTHING`,
		ev.TxHash, int32(ev.LogIndex), ev.TokenAddress, ev.From, ev.To,
		zeroIfEmpty(ev.Value), int64(ev.BlockNumber), ev.Timestamp)
	if err != nil {
		return false, fmt.Errorf("insert transfer %s/%d: %w", ev.TxHash, ev.LogIndex, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CreditHolder adds value to a holder's balance, creating the row if needed.
func (t Tx) CreditHolder(ctx context.Context, token, addr, value string) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO token_holders (token_address, address, balance, last_updated)
		VALUES ($1, $2, $3::numeric, now())
		ON CONFLICT (token_address, address) DO UPDATE SET
			balance = token_holders.balance + EXCLUDED.balance,
			last_updated = now()`,
		token, addr, value)
	if err != nil {
		return fmt.Errorf("credit holder %s/%s: %w", token, addr, err)
	}
	return nil
}

// DebitHolder subtracts value clamping at zero, then removes the row if the
// balance reached zero. Balances never go negative and zero rows never
// linger. The returned flag reports whether the holder row was removed, so
// callers can keep their in-memory holder sets exact.
func (t Tx) DebitHolder(ctx context.Context, token, addr, value string) (bool, error) {
	_, err := t.tx.Exec(ctx, `
		UPDATE token_holders SET
			balance = GREATEST(balance - $3::numeric, 0),
			last_updated = now()
		WHERE token_address = $1 AND address = $2`,
		token, addr, value)
	if err != nil {
		return false, fmt.Errorf("debit holder %s/%s: %w", token, addr, err)
	}
	tag, err := t.tx.Exec(ctx, `
		DELETE FROM token_holders
		WHERE token_address = $1 AND address = $2 AND balance = 0`,
		token, addr)
	if err != nil {
		return false, fmt.Errorf("prune holder %s/%s: %w", token, addr, err)
	}
	return tag.RowsAffected() > 0, nil
}

// HolderCount counts positive-balance rows for a token.
func (s *Store) HolderCount(ctx context.Context, token string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM token_holders WHERE token_address = $1`, token).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("holder count %s: %w", token, err)
	}
	return n, nil
}

// HolderAddresses lists the current holder set of a token, used to rebuild
// the in-memory set after an eviction or restart.
func (s *Store) HolderAddresses(ctx context.Context, token string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT address FROM token_holders WHERE token_address = $1`, token)
	if err != nil {
		return nil, fmt.Errorf("holder addresses %s: %w", token, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}

// TopHolders returns the largest balances for concentration math.
func (s *Store) TopHolders(ctx context.Context, token string, limit int) ([]model.HolderBalance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT token_address, address, balance::text, last_updated
		FROM token_holders WHERE token_address = $1
		ORDER BY balance DESC LIMIT $2`, token, limit)
	if err != nil {
		return nil, fmt.Errorf("top holders %s: %w", token, err)
	}
	defer rows.Close()

	var out []model.HolderBalance
	for rows.Next() {
		var h model.HolderBalance
		if err := rows.Scan(&h.TokenAddress, &h.Address, &h.Balance, &h.LastUpdated); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// TokenVolumeSince aggregates traded USD value and count for a token on
// either side of its trades.
func (s *Store) TokenVolumeSince(ctx context.Context, token string, since int64) (float64, int, error) {
	var vol float64
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(sum(value_usd), 0), count(*)
		FROM trades WHERE (token_in = $1 OR token_out = $1) AND timestamp >= $2`,
		token, since).Scan(&vol, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("token volume since %s: %w", token, err)
	}
	return vol, count, nil
}
