package monitor

import (
	"context"

	"github.com/pumpwatch/pumpwatch/internal/model"
)

// The processor interfaces below are the seam between log dispatch and
// domain semantics. Handlers decode and route; processors own the writes,
// the derived analytics and the fan-out. All methods run inside the range
// transaction and defer their side effects on the sink.

// TokenProcessor reacts to the token lifecycle observed on the launchpad
// factory and on the tokens themselves.
type TokenProcessor interface {
	OnNewToken(ctx context.Context, tx Mutator, fx Sink, ev model.TokenCreatedEvent) error
	OnCurvePurchase(ctx context.Context, tx Mutator, fx Sink, ev model.TokenPurchasedEvent) error
	OnCurveSale(ctx context.Context, tx Mutator, fx Sink, ev model.TokenSoldEvent) error
	OnLaunch(ctx context.Context, tx Mutator, fx Sink, ev model.TokenLaunchedEvent) error
	OnRenounced(ctx context.Context, tx Mutator, fx Sink, ev model.OwnershipTransferredEvent) error
}

// TradeProcessor turns pair swaps into trades.
type TradeProcessor interface {
	OnSwap(ctx context.Context, tx Mutator, fx Sink, pair model.Pair, ev model.SwapEvent) error
}

// LiquidityProcessor tracks pools: creation, depth changes and reserve sync.
type LiquidityProcessor interface {
	OnNewPair(ctx context.Context, tx Mutator, fx Sink, dex string, ev model.PairCreatedEvent) error
	OnMint(ctx context.Context, tx Mutator, fx Sink, pair model.Pair, ev model.MintEvent) error
	OnBurn(ctx context.Context, tx Mutator, fx Sink, pair model.Pair, ev model.BurnEvent) error
	OnSync(ctx context.Context, tx Mutator, fx Sink, pair model.Pair, ev model.SyncEvent) error
}
