// Package store is the durable state layer on postgres via pgx. All derived
// writes for one block range commit in a single transaction together with
// the cursor advance; that pairing is what turns at-least-once delivery into
// exactly-one-effect.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pumpwatch/pumpwatch/internal/chain"
	"github.com/pumpwatch/pumpwatch/internal/config"
)

// querier is satisfied by both the pool and a transaction so read helpers
// work inside and outside a batch.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store owns the connection pool.
type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// Tx is one open batch transaction. Writes performed through it become
// visible atomically with the cursor advance.
type Tx struct {
	tx pgx.Tx
}

// Open connects and pings the database.
func Open(ctx context.Context, cfg config.StoreConfig, log *zap.Logger) (*Store, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse store dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}
	return &Store{pool: pool, log: log.Named("store")}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Migrate applies the idempotent schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.log.Info("schema ready")
	return nil
}

// isConflict reports a serialization or deadlock failure worth one retry.
func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// WithTx runs fn inside a transaction, committing on success. A
// serialization conflict is retried exactly once before surfacing tagged as
// KindStoreConflict, which the monitor retries like any transient failure.
func (s *Store) WithTx(ctx context.Context, fn func(Tx) error) error {
	err := s.runTx(ctx, fn)
	if err != nil && isConflict(err) {
		s.log.Warn("store conflict, retrying batch once", zap.Error(err))
		err = s.runTx(ctx, fn)
		if err != nil && isConflict(err) {
			return chain.WrapKind(chain.KindStoreConflict, err)
		}
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(Tx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// CommitRange runs fn and advances the named cursor to `to` in the same
// transaction. Either every write of the range lands together with the
// cursor, or none do.
func (s *Store) CommitRange(ctx context.Context, name string, to uint64, fn func(Tx) error) error {
	return s.WithTx(ctx, func(tx Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return tx.SetCursor(ctx, name, to)
	})
}

// GetCursor returns the last committed block for a monitor; ok is false on
// first run.
func (s *Store) GetCursor(ctx context.Context, name string) (uint64, bool, error) {
	return getCursor(ctx, s.pool, name)
}

func (t Tx) GetCursor(ctx context.Context, name string) (uint64, bool, error) {
	return getCursor(ctx, t.tx, name)
}

func getCursor(ctx context.Context, q querier, name string) (uint64, bool, error) {
	var block int64
	err := q.QueryRow(ctx, `SELECT last_block FROM cursors WHERE processor = $1`, name).Scan(&block)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get cursor %s: %w", name, err)
	}
	return uint64(block), true, nil
}

// SetCursor advances the named cursor inside the batch.
func (t Tx) SetCursor(ctx context.Context, name string, block uint64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO cursors (processor, last_block) VALUES ($1, $2)
		ON CONFLICT (processor) DO UPDATE SET last_block = EXCLUDED.last_block`,
		name, int64(block))
	if err != nil {
		return fmt.Errorf("set cursor %s: %w", name, err)
	}
	return nil
}
