package contracts

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/pumpwatch/pumpwatch/internal/chain"
	"github.com/pumpwatch/pumpwatch/internal/model"
)

// metaOf lifts the log position into the event meta. The block timestamp is
// supplied by the monitor, which caches headers per range.
func metaOf(lg types.Log, ts int64) model.EventMeta {
	return model.EventMeta{
		BlockNumber: lg.BlockNumber,
		Timestamp:   ts,
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
		Address:     lg.Address,
		Removed:     lg.Removed,
	}
}

func indexedArgs(events abi.ABI, name string) abi.Arguments {
	var out abi.Arguments
	for _, in := range events.Events[name].Inputs {
		if in.Indexed {
			out = append(out, in)
		}
	}
	return out
}

func decodeErr(format string, args ...any) error {
	return chain.WrapKind(chain.KindDecode, fmt.Errorf(format, args...))
}

// unpack fills indexed fields from topics and the rest from data.
func unpack(contract abi.ABI, name string, lg types.Log, indexed any, data any) error {
	if indexed != nil {
		if err := abi.ParseTopics(indexed, indexedArgs(contract, name), lg.Topics[1:]); err != nil {
			return decodeErr("%s topics: %w", name, err)
		}
	}
	if data != nil {
		if err := contract.UnpackIntoInterface(data, name, lg.Data); err != nil {
			return decodeErr("%s data: %w", name, err)
		}
	}
	return nil
}

// DecodeFactoryLog turns a factory contract log into its event variant.
func DecodeFactoryLog(lg types.Log, ts int64) (model.ChainEvent, error) {
	if len(lg.Topics) == 0 {
		return nil, decodeErr("factory log without topics")
	}
	meta := metaOf(lg, ts)
	switch lg.Topics[0] {
	case TopicTokenCreated:
		var idx struct{ Token, Creator common.Address }
		var data struct {
			Name      string
			Symbol    string
			Timestamp *big.Int
		}
		if err := unpack(FactoryABI, "TokenCreated", lg, &idx, &data); err != nil {
			return nil, err
		}
		return model.TokenCreatedEvent{
			EventMeta: meta, Token: idx.Token, Creator: idx.Creator,
			Name: data.Name, Symbol: data.Symbol, Time: data.Timestamp,
		}, nil

	case TopicTokenPurchased:
		var idx struct{ Token, Buyer common.Address }
		var data struct{ AmountIn, AmountOut, NewPrice *big.Int }
		if err := unpack(FactoryABI, "TokenPurchased", lg, &idx, &data); err != nil {
			return nil, err
		}
		return model.TokenPurchasedEvent{
			EventMeta: meta, Token: idx.Token, Buyer: idx.Buyer,
			AmountIn: data.AmountIn, AmountOut: data.AmountOut, NewPrice: data.NewPrice,
		}, nil

	case TopicTokenSold:
		var idx struct{ Token, Seller common.Address }
		var data struct{ AmountIn, AmountOut, NewPrice *big.Int }
		if err := unpack(FactoryABI, "TokenSold", lg, &idx, &data); err != nil {
			return nil, err
		}
		return model.TokenSoldEvent{
			EventMeta: meta, Token: idx.Token, Seller: idx.Seller,
			AmountIn: data.AmountIn, AmountOut: data.AmountOut, NewPrice: data.NewPrice,
		}, nil

	case TopicTokenLaunched:
		var idx struct{ Token, Pair common.Address }
		var data struct{ Liquidity, Timestamp *big.Int }
		if err := unpack(FactoryABI, "TokenLaunched", lg, &idx, &data); err != nil {
			return nil, err
		}
		return model.TokenLaunchedEvent{
			EventMeta: meta, Token: idx.Token, Pair: idx.Pair,
			Liquidity: data.Liquidity, Time: data.Timestamp,
		}, nil

	case TopicFeesWithdrawn:
		var idx struct{ To common.Address }
		var data struct{ Amount *big.Int }
		if err := unpack(FactoryABI, "FeesWithdrawn", lg, &idx, &data); err != nil {
			return nil, err
		}
		return model.FeesWithdrawnEvent{EventMeta: meta, To: idx.To, Amount: data.Amount}, nil

	case TopicCreationFeeUpdated:
		var data struct{ OldFee, NewFee *big.Int }
		if err := unpack(FactoryABI, "CreationFeeUpdated", lg, nil, &data); err != nil {
			return nil, err
		}
		return model.CreationFeeUpdatedEvent{EventMeta: meta, OldFee: data.OldFee, NewFee: data.NewFee}, nil

	case TopicTradingFeeUpdated:
		var data struct{ OldFee, NewFee *big.Int }
		if err := unpack(FactoryABI, "TradingFeeUpdated", lg, nil, &data); err != nil {
			return nil, err
		}
		return model.TradingFeeUpdatedEvent{EventMeta: meta, OldFee: data.OldFee, NewFee: data.NewFee}, nil
	}
	return nil, decodeErr("unknown factory topic %s", lg.Topics[0])
}

// DecodeDexFactoryLog decodes PairCreated.
func DecodeDexFactoryLog(lg types.Log, ts int64) (model.ChainEvent, error) {
	if len(lg.Topics) == 0 || lg.Topics[0] != TopicPairCreated {
		return nil, decodeErr("unexpected dex factory log")
	}
	var idx struct{ Token0, Token1 common.Address }
	var data struct {
		Pair      common.Address
		PairIndex *big.Int
	}
	if err := unpack(DexFactoryABI, "PairCreated", lg, &idx, &data); err != nil {
		return nil, err
	}
	return model.PairCreatedEvent{
		EventMeta: metaOf(lg, ts), Token0: idx.Token0, Token1: idx.Token1,
		Pair: data.Pair, Index: data.PairIndex,
	}, nil
}

// DecodePairLog decodes Swap, Mint, Burn and Sync from a watched pair.
func DecodePairLog(lg types.Log, ts int64) (model.ChainEvent, error) {
	if len(lg.Topics) == 0 {
		return nil, decodeErr("pair log without topics")
	}
	meta := metaOf(lg, ts)
	switch lg.Topics[0] {
	case TopicSwap:
		var idx struct{ Sender, To common.Address }
		var data struct{ Amount0In, Amount1In, Amount0Out, Amount1Out *big.Int }
		if err := unpack(PairABI, "Swap", lg, &idx, &data); err != nil {
			return nil, err
		}
		return model.SwapEvent{
			EventMeta: meta, Sender: idx.Sender, To: idx.To,
			Amount0In: data.Amount0In, Amount1In: data.Amount1In,
			Amount0Out: data.Amount0Out, Amount1Out: data.Amount1Out,
		}, nil

	case TopicMint:
		var idx struct{ Sender common.Address }
		var data struct{ Amount0, Amount1 *big.Int }
		if err := unpack(PairABI, "Mint", lg, &idx, &data); err != nil {
			return nil, err
		}
		return model.MintEvent{EventMeta: meta, Sender: idx.Sender, Amount0: data.Amount0, Amount1: data.Amount1}, nil

	case TopicBurn:
		var idx struct{ Sender, To common.Address }
		var data struct{ Amount0, Amount1 *big.Int }
		if err := unpack(PairABI, "Burn", lg, &idx, &data); err != nil {
			return nil, err
		}
		return model.BurnEvent{
			EventMeta: meta, Sender: idx.Sender, To: idx.To,
			Amount0: data.Amount0, Amount1: data.Amount1,
		}, nil

	case TopicSync:
		var data struct{ Reserve0, Reserve1 *big.Int }
		if err := unpack(PairABI, "Sync", lg, nil, &data); err != nil {
			return nil, err
		}
		return model.SyncEvent{EventMeta: meta, Reserve0: data.Reserve0, Reserve1: data.Reserve1}, nil
	}
	return nil, decodeErr("unknown pair topic %s", lg.Topics[0])
}

// DecodeTokenLog decodes the watched token-contract events: the ERC-20
// Transfer and the Ownable handover.
func DecodeTokenLog(lg types.Log, ts int64) (model.ChainEvent, error) {
	if len(lg.Topics) == 0 {
		return nil, decodeErr("token log without topics")
	}
	meta := metaOf(lg, ts)
	switch lg.Topics[0] {
	case TopicTransfer:
		var idx struct{ From, To common.Address }
		var data struct{ Value *big.Int }
		if err := unpack(ERC20ABI, "Transfer", lg, &idx, &data); err != nil {
			return nil, err
		}
		return model.TransferLogEvent{
			EventMeta: meta, From: idx.From, To: idx.To, Value: data.Value,
		}, nil

	case TopicOwnershipTransfer:
		var idx struct{ PreviousOwner, NewOwner common.Address }
		if err := unpack(ERC20ABI, "OwnershipTransferred", lg, &idx, nil); err != nil {
			return nil, err
		}
		return model.OwnershipTransferredEvent{
			EventMeta: meta, Previous: idx.PreviousOwner, New: idx.NewOwner,
		}, nil
	}
	return nil, decodeErr("unknown token topic %s", lg.Topics[0])
}

// DecodeStakingLog decodes the staking contract events.
func DecodeStakingLog(lg types.Log, ts int64) (model.ChainEvent, error) {
	if len(lg.Topics) == 0 {
		return nil, decodeErr("staking log without topics")
	}
	meta := metaOf(lg, ts)
	switch lg.Topics[0] {
	case TopicStaked:
		var idx struct{ User common.Address }
		var data struct {
			Amount *big.Int
			Tier   uint8
		}
		if err := unpack(StakingABI, "Staked", lg, &idx, &data); err != nil {
			return nil, err
		}
		return model.StakedEvent{EventMeta: meta, User: idx.User, Amount: data.Amount, Tier: data.Tier}, nil

	case TopicUnstaked:
		var idx struct{ User common.Address }
		var data struct {
			Amount *big.Int
			Tier   uint8
		}
		if err := unpack(StakingABI, "Unstaked", lg, &idx, &data); err != nil {
			return nil, err
		}
		return model.UnstakedEvent{EventMeta: meta, User: idx.User, Amount: data.Amount, Tier: data.Tier}, nil

	case TopicTierUpgraded:
		var idx struct{ User common.Address }
		var data struct{ OldTier, NewTier uint8 }
		if err := unpack(StakingABI, "TierUpgraded", lg, &idx, &data); err != nil {
			return nil, err
		}
		return model.TierUpgradedEvent{EventMeta: meta, User: idx.User, OldTier: data.OldTier, NewTier: data.NewTier}, nil
	}
	return nil, decodeErr("unknown staking topic %s", lg.Topics[0])
}
