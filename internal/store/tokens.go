package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pumpwatch/pumpwatch/internal/model"
)

const tokenColumns = `
	address, name, symbol, decimals, total_supply::text, creator, created_at,
	block_number, tx_hash, status, ownership_renounced, description, image_url,
	twitter, telegram, website, max_wallet::text, max_transaction::text,
	trading_enabled, holders_count, pair_address`

func scanToken(row pgx.Row) (model.Token, error) {
	var t model.Token
	var block, created int64
	err := row.Scan(
		&t.Address, &t.Name, &t.Symbol, &t.Decimals, &t.TotalSupply, &t.Creator,
		&created, &block, &t.TxHash, &t.Status, &t.Renounced, &t.Description,
		&t.ImageURL, &t.Twitter, &t.Telegram, &t.Website, &t.MaxWallet,
		&t.MaxTransaction, &t.TradingEnabled, &t.HoldersCount, &t.PairAddress,
	)
	t.CreatedAt = created
	t.BlockNumber = uint64(block)
	return t, err
}

// UpsertToken writes the lifecycle columns observed from factory logs. The
// enrichment and holder columns are owned by other writers and left alone on
// conflict.
func (t Tx) UpsertToken(ctx context.Context, tok model.Token) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO tokens (address, name, symbol, decimals, total_supply,
			creator, created_at, block_number, tx_hash, status)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10)
		ON CONFLICT (address) DO UPDATE SET
			name = EXCLUDED.name,
			symbol = EXCLUDED.symbol,
			decimals = EXCLUDED.decimals,
			total_supply = EXCLUDED.total_supply,
			creator = EXCLUDED.creator,
			created_at = EXCLUDED.created_at,
			block_number = EXCLUDED.block_number,
			tx_hash = EXCLUDED.tx_hash,
			status = EXCLUDED.status`,
		tok.Address, tok.Name, tok.Symbol, int16(tok.Decimals), tok.TotalSupply,
		tok.Creator, tok.CreatedAt, int64(tok.BlockNumber), tok.TxHash, string(tok.Status))
	if err != nil {
		return fmt.Errorf("upsert token %s: %w", tok.Address, err)
	}
	return nil
}

// SetTokenLaunched flips a token to LAUNCHED and records its pair.
func (t Tx) SetTokenLaunched(ctx context.Context, addr, pair string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE tokens SET status = $2, pair_address = $3 WHERE address = $1`,
		addr, string(model.TokenLaunched), pair)
	if err != nil {
		return fmt.Errorf("set token launched %s: %w", addr, err)
	}
	return nil
}

// UpdateTokenEnrichment writes the contract-read columns: metadata, trading
// controls and the renounced flag. Runs in its own short transaction because
// enrichment happens after the range commit.
func (s *Store) UpdateTokenEnrichment(ctx context.Context, tok model.Token) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE tokens SET
			name = CASE WHEN $2 <> '' THEN $2 ELSE name END,
			symbol = CASE WHEN $3 <> '' THEN $3 ELSE symbol END,
			decimals = $4,
			total_supply = CASE WHEN $5::numeric > 0 THEN $5::numeric ELSE total_supply END,
			ownership_renounced = $6,
			description = $7, image_url = $8, twitter = $9, telegram = $10, website = $11,
			max_wallet = $12::numeric, max_transaction = $13::numeric,
			trading_enabled = $14
		WHERE address = $1`,
		tok.Address, tok.Name, tok.Symbol, int16(tok.Decimals), tok.TotalSupply,
		tok.Renounced, tok.Description, tok.ImageURL, tok.Twitter, tok.Telegram,
		tok.Website, zeroIfEmpty(tok.MaxWallet), zeroIfEmpty(tok.MaxTransaction),
		tok.TradingEnabled)
	if err != nil {
		return fmt.Errorf("update token enrichment %s: %w", tok.Address, err)
	}
	return nil
}

// RenounceToken sets the renounced flag inside the batch and reports whether
// this call flipped it. Re-delivered ranges return false, which keeps the
// score adjustment and alert single-shot.
func (t Tx) RenounceToken(ctx context.Context, addr string) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE tokens SET ownership_renounced = TRUE
		WHERE address = $1 AND NOT ownership_renounced`, addr)
	if err != nil {
		return false, fmt.Errorf("renounce token %s: %w", addr, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkTradingEnabled promotes a CREATED token to TRADING_ENABLED. The status
// guard makes repeated enrichment reads publish the transition only once.
func (s *Store) MarkTradingEnabled(ctx context.Context, addr string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tokens SET status = $2, trading_enabled = TRUE
		WHERE address = $1 AND status = $3`,
		addr, string(model.TokenTradingEnabled), string(model.TokenCreated))
	if err != nil {
		return false, fmt.Errorf("mark trading enabled %s: %w", addr, err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetHoldersCount writes the denormalised holder counter.
func (t Tx) SetHoldersCount(ctx context.Context, addr string, count int) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE tokens SET holders_count = $2 WHERE address = $1`, addr, count)
	if err != nil {
		return fmt.Errorf("set holders count %s: %w", addr, err)
	}
	return nil
}

// RecentTokens returns the newest tokens by creation time, used to bootstrap
// the transfer watch set.
func (s *Store) RecentTokens(ctx context.Context, limit int) ([]model.Token, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tokenColumns+` FROM tokens ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent tokens: %w", err)
	}
	defer rows.Close()

	var out []model.Token
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		out = append(out, tok)
	}
	return out, rows.Err()
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
