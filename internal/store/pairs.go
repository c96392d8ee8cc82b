package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pumpwatch/pumpwatch/internal/model"
)

const pairColumns = `
	address, token0, token1, reserve0::text, reserve1::text, dex_name,
	created_at, block_number`

func scanPair(row pgx.Row) (model.Pair, error) {
	var p model.Pair
	var block int64
	err := row.Scan(&p.Address, &p.Token0, &p.Token1, &p.Reserve0, &p.Reserve1,
		&p.DexName, &p.CreatedAt, &block)
	p.BlockNumber = uint64(block)
	return p, err
}

// GetPair loads one pair; ok is false when unknown.
func (s *Store) GetPair(ctx context.Context, addr string) (model.Pair, bool, error) {
	return getPair(ctx, s.pool, addr)
}

func (t Tx) GetPair(ctx context.Context, addr string) (model.Pair, bool, error) {
	return getPair(ctx, t.tx, addr)
}

func getPair(ctx context.Context, q querier, addr string) (model.Pair, bool, error) {
	p, err := scanPair(q.QueryRow(ctx,
		`SELECT `+pairColumns+` FROM pairs WHERE address = $1`, addr))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Pair{}, false, nil
	}
	if err != nil {
		return model.Pair{}, false, fmt.Errorf("get pair %s: %w", addr, err)
	}
	return p, true, nil
}

// UpsertPair records a discovered pair. Reserves only move forward via
// UpdateReserves, so conflicts keep the stored values.
func (t Tx) UpsertPair(ctx context.Context, p model.Pair) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO pairs (address, token0, token1, reserve0, reserve1,
			dex_name, created_at, block_number)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8)
		ON CONFLICT (address) DO UPDATE SET
			token0 = EXCLUDED.token0,
			token1 = EXCLUDED.token1,
			dex_name = EXCLUDED.dex_name`,
		p.Address, p.Token0, p.Token1, zeroIfEmpty(p.Reserve0), zeroIfEmpty(p.Reserve1),
		p.DexName, p.CreatedAt, int64(p.BlockNumber))
	if err != nil {
		return fmt.Errorf("upsert pair %s: %w", p.Address, err)
	}
	return nil
}

// UpdateReserves applies a Sync.
func (t Tx) UpdateReserves(ctx context.Context, addr, reserve0, reserve1 string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE pairs SET reserve0 = $2::numeric, reserve1 = $3::numeric
		WHERE address = $1`,
		addr, reserve0, reserve1)
	if err != nil {
		return fmt.Errorf("update reserves %s: %w", addr, err)
	}
	return nil
}

// PairAddresses lists every known pair for one DEX, used to rebuild the
// dynamic watch set on restart.
func (s *Store) PairAddresses(ctx context.Context, dexName string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT address FROM pairs WHERE dex_name = $1 ORDER BY block_number`, dexName)
	if err != nil {
		return nil, fmt.Errorf("pair addresses %s: %w", dexName, err)
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

// PairsForToken returns pairs containing the token on either side.
func (s *Store) PairsForToken(ctx context.Context, token string) ([]model.Pair, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pairColumns+` FROM pairs WHERE token0 = $1 OR token1 = $1`, token)
	if err != nil {
		return nil, fmt.Errorf("pairs for token %s: %w", token, err)
	}
	defer rows.Close()

	var out []model.Pair
	for rows.Next() {
		p, err := scanPair(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
