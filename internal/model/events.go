package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind discriminates decoded chain events.
type EventKind string

const (
	KindTokenCreated      EventKind = "TokenCreated"
	KindTokenPurchased    EventKind = "TokenPurchased"
	KindTokenSold         EventKind = "TokenSold"
	KindTokenLaunched     EventKind = "TokenLaunched"
	KindFeesWithdrawn     EventKind = "FeesWithdrawn"
	KindCreationFeeUpdate EventKind = "CreationFeeUpdated"
	KindTradingFeeUpdate  EventKind = "TradingFeeUpdated"
	KindPairCreated       EventKind = "PairCreated"
	KindSwap              EventKind = "Swap"
	KindMint              EventKind = "Mint"
	KindBurn              EventKind = "Burn"
	KindSync              EventKind = "Sync"
	KindTransfer          EventKind = "Transfer"
	KindOwnershipTransfer EventKind = "OwnershipTransferred"
	KindStaked            EventKind = "Staked"
	KindUnstaked          EventKind = "Unstaked"
	KindTierUpgraded      EventKind = "TierUpgraded"
)

// EventMeta carries the on-chain position shared by every decoded event.
// Ordering inside a range is (BlockNumber asc, LogIndex asc).
type EventMeta struct {
	BlockNumber uint64
	Timestamp   int64
	TxHash      common.Hash
	LogIndex    uint
	Address     common.Address
	Removed     bool
}

// ChainEvent is the decoded form of one log. Handlers switch on the concrete
// type; Meta gives the position for ordering and idempotency keys.
type ChainEvent interface {
	Kind() EventKind
	Meta() EventMeta
}

func (m EventMeta) Meta() EventMeta { return m }

// Factory lifecycle events.

type TokenCreatedEvent struct {
	EventMeta
	Token   common.Address
	Creator common.Address
	Name    string
	Symbol  string
	Time    *big.Int
}

type TokenPurchasedEvent struct {
	EventMeta
	Token     common.Address
	Buyer     common.Address
	AmountIn  *big.Int
	AmountOut *big.Int
	NewPrice  *big.Int
}

type TokenSoldEvent struct {
	EventMeta
	Token     common.Address
	Seller    common.Address
	AmountIn  *big.Int
	AmountOut *big.Int
	NewPrice  *big.Int
}

type TokenLaunchedEvent struct {
	EventMeta
	Token     common.Address
	Pair      common.Address
	Liquidity *big.Int
	Time      *big.Int
}

type FeesWithdrawnEvent struct {
	EventMeta
	To     common.Address
	Amount *big.Int
}

type CreationFeeUpdatedEvent struct {
	EventMeta
	OldFee *big.Int
	NewFee *big.Int
}

type TradingFeeUpdatedEvent struct {
	EventMeta
	OldFee *big.Int
	NewFee *big.Int
}

// DEX events, in the standard constant-product shape.

type PairCreatedEvent struct {
	EventMeta
	Token0 common.Address
	Token1 common.Address
	Pair   common.Address
	Index  *big.Int
}

type SwapEvent struct {
	EventMeta
	Sender     common.Address
	To         common.Address
	Amount0In  *big.Int
	Amount1In  *big.Int
	Amount0Out *big.Int
	Amount1Out *big.Int
}

type MintEvent struct {
	EventMeta
	Sender  common.Address
	Amount0 *big.Int
	Amount1 *big.Int
}

type BurnEvent struct {
	EventMeta
	Sender  common.Address
	To      common.Address
	Amount0 *big.Int
	Amount1 *big.Int
}

type SyncEvent struct {
	EventMeta
	Reserve0 *big.Int
	Reserve1 *big.Int
}

// TransferLogEvent is a raw ERC-20 Transfer before holder accounting.
type TransferLogEvent struct {
	EventMeta
	From  common.Address
	To    common.Address
	Value *big.Int
}

// OwnershipTransferredEvent is the Ownable handover log. A transfer to the
// zero or dead address is a renounce.
type OwnershipTransferredEvent struct {
	EventMeta
	Previous common.Address
	New      common.Address
}

// Staking contract events.

type StakedEvent struct {
	EventMeta
	User   common.Address
	Amount *big.Int
	Tier   uint8
}

type UnstakedEvent struct {
	EventMeta
	User   common.Address
	Amount *big.Int
	Tier   uint8
}

type TierUpgradedEvent struct {
	EventMeta
	User    common.Address
	OldTier uint8
	NewTier uint8
}

func (TokenCreatedEvent) Kind() EventKind         { return KindTokenCreated }
func (TokenPurchasedEvent) Kind() EventKind       { return KindTokenPurchased }
func (TokenSoldEvent) Kind() EventKind            { return KindTokenSold }
func (TokenLaunchedEvent) Kind() EventKind        { return KindTokenLaunched }
func (FeesWithdrawnEvent) Kind() EventKind        { return KindFeesWithdrawn }
func (CreationFeeUpdatedEvent) Kind() EventKind   { return KindCreationFeeUpdate }
func (TradingFeeUpdatedEvent) Kind() EventKind    { return KindTradingFeeUpdate }
func (PairCreatedEvent) Kind() EventKind          { return KindPairCreated }
func (SwapEvent) Kind() EventKind                 { return KindSwap }
func (MintEvent) Kind() EventKind                 { return KindMint }
func (BurnEvent) Kind() EventKind                 { return KindBurn }
func (SyncEvent) Kind() EventKind                 { return KindSync }
func (TransferLogEvent) Kind() EventKind          { return KindTransfer }
func (OwnershipTransferredEvent) Kind() EventKind { return KindOwnershipTransfer }
func (StakedEvent) Kind() EventKind               { return KindStaked }
func (UnstakedEvent) Kind() EventKind             { return KindUnstaked }
func (TierUpgradedEvent) Kind() EventKind         { return KindTierUpgraded }
