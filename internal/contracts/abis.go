// Package contracts carries the ABIs of the watched contracts, decodes their
// logs into model events and wraps the revert-tolerant view calls the
// processors enrich records with.
package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const factoryABIJSON = `[
{"type":"event","name":"TokenCreated","inputs":[{"name":"token","type":"address","indexed":true},{"name":"creator","type":"address","indexed":true},{"name":"name","type":"string","indexed":false},{"name":"symbol","type":"string","indexed":false},{"name":"timestamp","type":"uint256","indexed":false}]},
{"type":"event","name":"TokenPurchased","inputs":[{"name":"token","type":"address","indexed":true},{"name":"buyer","type":"address","indexed":true},{"name":"amountIn","type":"uint256","indexed":false},{"name":"amountOut","type":"uint256","indexed":false},{"name":"newPrice","type":"uint256","indexed":false}]},
{"type":"event","name":"TokenSold","inputs":[{"name":"token","type":"address","indexed":true},{"name":"seller","type":"address","indexed":true},{"name":"amountIn","type":"uint256","indexed":false},{"name":"amountOut","type":"uint256","indexed":false},{"name":"newPrice","type":"uint256","indexed":false}]},
{"type":"event","name":"TokenLaunched","inputs":[{"name":"token","type":"address","indexed":true},{"name":"pair","type":"address","indexed":true},{"name":"liquidity","type":"uint256","indexed":false},{"name":"timestamp","type":"uint256","indexed":false}]},
{"type":"event","name":"FeesWithdrawn","inputs":[{"name":"to","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]},
{"type":"event","name":"CreationFeeUpdated","inputs":[{"name":"oldFee","type":"uint256","indexed":false},{"name":"newFee","type":"uint256","indexed":false}]},
{"type":"event","name":"TradingFeeUpdated","inputs":[{"name":"oldFee","type":"uint256","indexed":false},{"name":"newFee","type":"uint256","indexed":false}]}
]`

const dexFactoryABIJSON = `[
{"type":"event","name":"PairCreated","inputs":[{"name":"token0","type":"address","indexed":true},{"name":"token1","type":"address","indexed":true},{"name":"pair","type":"address","indexed":false},{"name":"pairIndex","type":"uint256","indexed":false}]},
{"type":"function","name":"getPair","stateMutability":"view","inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"}],"outputs":[{"name":"pair","type":"address"}]}
]`

const pairABIJSON = `[
{"type":"event","name":"Swap","inputs":[{"name":"sender","type":"address","indexed":true},{"name":"amount0In","type":"uint256","indexed":false},{"name":"amount1In","type":"uint256","indexed":false},{"name":"amount0Out","type":"uint256","indexed":false},{"name":"amount1Out","type":"uint256","indexed":false},{"name":"to","type":"address","indexed":true}]},
{"type":"event","name":"Mint","inputs":[{"name":"sender","type":"address","indexed":true},{"name":"amount0","type":"uint256","indexed":false},{"name":"amount1","type":"uint256","indexed":false}]},
{"type":"event","name":"Burn","inputs":[{"name":"sender","type":"address","indexed":true},{"name":"amount0","type":"uint256","indexed":false},{"name":"amount1","type":"uint256","indexed":false},{"name":"to","type":"address","indexed":true}]},
{"type":"event","name":"Sync","inputs":[{"name":"reserve0","type":"uint112","indexed":false},{"name":"reserve1","type":"uint112","indexed":false}]},
{"type":"function","name":"getReserves","stateMutability":"view","inputs":[],"outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]},
{"type":"function","name":"token0","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"token1","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

const erc20ABIJSON = `[
{"type":"event","name":"Transfer","inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]},
{"type":"event","name":"OwnershipTransferred","inputs":[{"name":"previousOwner","type":"address","indexed":true},{"name":"newOwner","type":"address","indexed":true}]},
{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// Optional getters exposed by factory-minted tokens. Any of these may be
// absent on a given token; reads default on revert.
const curveTokenABIJSON = `[
{"type":"function","name":"description","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
{"type":"function","name":"image","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
{"type":"function","name":"twitter","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
{"type":"function","name":"telegram","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
{"type":"function","name":"website","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
{"type":"function","name":"maxWallet","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"maxTransaction","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"tradingEnabled","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"launchBlock","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"buyTax","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"sellTax","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"liquidityLocked","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"liquidityLockExpiry","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

const stakingABIJSON = `[
{"type":"event","name":"Staked","inputs":[{"name":"user","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"tier","type":"uint8","indexed":false}]},
{"type":"event","name":"Unstaked","inputs":[{"name":"user","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"tier","type":"uint8","indexed":false}]},
{"type":"event","name":"TierUpgraded","inputs":[{"name":"user","type":"address","indexed":true},{"name":"oldTier","type":"uint8","indexed":false},{"name":"newTier","type":"uint8","indexed":false}]}
]`

var (
	FactoryABI    = mustABI(factoryABIJSON)
	DexFactoryABI = mustABI(dexFactoryABIJSON)
	PairABI       = mustABI(pairABIJSON)
	ERC20ABI      = mustABI(erc20ABIJSON)
	CurveTokenABI = mustABI(curveTokenABIJSON)
	StakingABI    = mustABI(stakingABIJSON)
)

// Topic hashes used to build getLogs filters.
var (
	TopicTokenCreated       = FactoryABI.Events["TokenCreated"].ID
	TopicTokenPurchased     = FactoryABI.Events["TokenPurchased"].ID
	TopicTokenSold          = FactoryABI.Events["TokenSold"].ID
	TopicTokenLaunched      = FactoryABI.Events["TokenLaunched"].ID
	TopicFeesWithdrawn      = FactoryABI.Events["FeesWithdrawn"].ID
	TopicCreationFeeUpdated = FactoryABI.Events["CreationFeeUpdated"].ID
	TopicTradingFeeUpdated  = FactoryABI.Events["TradingFeeUpdated"].ID
	TopicPairCreated        = DexFactoryABI.Events["PairCreated"].ID
	TopicSwap               = PairABI.Events["Swap"].ID
	TopicMint               = PairABI.Events["Mint"].ID
	TopicBurn               = PairABI.Events["Burn"].ID
	TopicSync               = PairABI.Events["Sync"].ID
	TopicTransfer           = ERC20ABI.Events["Transfer"].ID
	TopicOwnershipTransfer  = ERC20ABI.Events["OwnershipTransferred"].ID
	TopicStaked             = StakingABI.Events["Staked"].ID
	TopicUnstaked           = StakingABI.Events["Unstaked"].ID
	TopicTierUpgraded       = StakingABI.Events["TierUpgraded"].ID
)

// FactoryTopics is the first-position topic filter for the factory monitor.
func FactoryTopics() []common.Hash {
	return []common.Hash{
		TopicTokenCreated, TopicTokenPurchased, TopicTokenSold,
		TopicTokenLaunched, TopicFeesWithdrawn,
		TopicCreationFeeUpdated, TopicTradingFeeUpdated,
	}
}

// PairTopics is the first-position topic filter for watched pairs.
func PairTopics() []common.Hash {
	return []common.Hash{TopicSwap, TopicMint, TopicBurn, TopicSync}
}

// TokenTopics is the first-position topic filter for watched token contracts.
func TokenTopics() []common.Hash {
	return []common.Hash{TopicTransfer, TopicOwnershipTransfer}
}

// StakingTopics is the first-position topic filter for the staking monitor.
func StakingTopics() []common.Hash {
	return []common.Hash{TopicStaked, TopicUnstaked, TopicTierUpgraded}
}

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
