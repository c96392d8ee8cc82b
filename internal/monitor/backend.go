package monitor

import (
	"context"

	"github.com/pumpwatch/pumpwatch/internal/store"
)

// StoreBackend adapts *store.Store to the Mutator-typed seams the runners
// and handlers consume, so tests can substitute in-memory fakes while
// production keeps the one postgres transaction scope.
type StoreBackend struct {
	*store.Store
}

func (s StoreBackend) CommitRange(ctx context.Context, name string, to uint64, fn func(Mutator) error) error {
	return s.Store.CommitRange(ctx, name, to, func(tx store.Tx) error { return fn(tx) })
}

func (s StoreBackend) WithTx(ctx context.Context, fn func(Mutator) error) error {
	return s.Store.WithTx(ctx, func(tx store.Tx) error { return fn(tx) })
}

var (
	_ RangeStore    = StoreBackend{}
	_ TransferStore = StoreBackend{}
)
