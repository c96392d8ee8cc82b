package monitor

import (
	"context"

	"github.com/pumpwatch/pumpwatch/internal/model"
	"github.com/pumpwatch/pumpwatch/internal/store"
)

// Mutator is the write surface handlers and processors see inside a range
// transaction. It mirrors store.Tx so tests can substitute an in-memory
// implementation without a database.
type Mutator interface {
	GetCursor(ctx context.Context, name string) (uint64, bool, error)
	SetCursor(ctx context.Context, name string, block uint64) error

	UpsertToken(ctx context.Context, tok model.Token) error
	SetTokenLaunched(ctx context.Context, addr, pair string) error
	RenounceToken(ctx context.Context, addr string) (bool, error)
	SetHoldersCount(ctx context.Context, addr string, count int) error

	InsertTrade(ctx context.Context, tr model.Trade) (bool, error)
	InsertLiquidityEvent(ctx context.Context, ev model.LiquidityEvent) (bool, error)
	InsertTransfer(ctx context.Context, ev model.TransferEvent) (bool, error)
	CreditHolder(ctx context.Context, token, addr, value string) error
	DebitHolder(ctx context.Context, token, addr, value string) (bool, error)
	RecordTrade(ctx context.Context, trader string, valueUSD float64, ts int64) (model.TraderProfile, error)

	ApplyStakeDelta(ctx context.Context, addr string, delta string, negative bool, tier uint8) error
	SetStakeTier(ctx context.Context, addr string, tier uint8) error

	GetPair(ctx context.Context, addr string) (model.Pair, bool, error)
	UpsertPair(ctx context.Context, p model.Pair) error
	UpdateReserves(ctx context.Context, addr, reserve0, reserve1 string) error
}

var _ Mutator = store.Tx{}

// Effect is a side effect deferred until after the range commits: cache
// writes, channel publishes, alerts, contract-read enrichment. Effects run on
// the shared worker pool and must tolerate crash-induced re-execution or
// loss.
type Effect struct {
	Name string
	Fn   func(context.Context) error
}

// Sink collects deferred effects during a batch.
type Sink interface {
	Defer(name string, fn func(context.Context) error)
}

// Batch is the unit handed to a handler for one block range: a transaction
// to write through and a sink for post-commit work.
type Batch struct {
	Tx Mutator
	fx []Effect
}

func NewBatch(tx Mutator) *Batch { return &Batch{Tx: tx} }

// Defer schedules fn to run after the surrounding transaction commits.
func (b *Batch) Defer(name string, fn func(context.Context) error) {
	b.fx = append(b.fx, Effect{Name: name, Fn: fn})
}

// Effects returns everything deferred so far, in submission order.
func (b *Batch) Effects() []Effect { return b.fx }
