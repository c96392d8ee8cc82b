// Package model holds the persistent records and chain event variants the
// monitors and processors exchange. Addresses are stored as lowercase hex
// strings; big integers are string-encoded to survive any storage driver.
package model

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TokenStatus tracks a token's lifecycle on the bonding curve.
type TokenStatus string

const (
	TokenCreated        TokenStatus = "CREATED"
	TokenLaunched       TokenStatus = "LAUNCHED"
	TokenGraduated      TokenStatus = "GRADUATED"
	TokenTradingEnabled TokenStatus = "TRADING_ENABLED"
)

// Token is the registry record for a factory-created token. FactoryMonitor
// owns the lifecycle fields, TransferMonitor owns HoldersCount; the two never
// write the same column.
type Token struct {
	Address     string      `json:"address"`
	Name        string      `json:"name"`
	Symbol      string      `json:"symbol"`
	Decimals    uint8       `json:"decimals"`
	TotalSupply string      `json:"total_supply"`
	Creator     string      `json:"creator"`
	CreatedAt   int64       `json:"created_at"`
	BlockNumber uint64      `json:"block_number"`
	TxHash      string      `json:"tx_hash"`
	Status      TokenStatus `json:"status"`
	Renounced   bool        `json:"ownership_renounced"`

	// Optional metadata read from the contract, empty when the getter reverts.
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	Twitter     string `json:"twitter,omitempty"`
	Telegram    string `json:"telegram,omitempty"`
	Website     string `json:"website,omitempty"`

	// Trading controls, zero when the contract does not expose them.
	MaxWallet      string `json:"max_wallet,omitempty"`
	MaxTransaction string `json:"max_transaction,omitempty"`
	TradingEnabled bool   `json:"trading_enabled"`

	HoldersCount int    `json:"holders_count"`
	PairAddress  string `json:"pair_address,omitempty"`
}

// Pair is a constant-product DEX pair. Reserves are refreshed on every Sync.
type Pair struct {
	Address     string `json:"address"`
	Token0      string `json:"token0"`
	Token1      string `json:"token1"`
	Reserve0    string `json:"reserve0"`
	Reserve1    string `json:"reserve1"`
	DexName     string `json:"dex_name"`
	CreatedAt   int64  `json:"created_at"`
	BlockNumber uint64 `json:"block_number"`
}

// TradeSide distinguishes which way the base token moved.
type TradeSide string

const (
	TradeBuy  TradeSide = "BUY"
	TradeSell TradeSide = "SELL"
)

// Trade is one decoded Swap. Append-only, keyed by (tx_hash, log_index) so a
// router transaction carrying several swaps keeps them all.
type Trade struct {
	TxHash      string    `json:"tx_hash"`
	LogIndex    uint      `json:"log_index"`
	BlockNumber uint64    `json:"block_number"`
	Timestamp   int64     `json:"timestamp"`
	Pair        string    `json:"pair"`
	Trader      string    `json:"trader"`
	TokenIn     string    `json:"token_in"`
	TokenOut    string    `json:"token_out"`
	AmountIn    string    `json:"amount_in"`
	AmountOut   string    `json:"amount_out"`
	PriceImpact float64   `json:"price_impact"`
	ValueUSD    float64   `json:"value_usd"`
	Side        TradeSide `json:"side"`
	GasUsed     uint64    `json:"gas_used"`
	GasPrice    string    `json:"gas_price"`
}

// LiquidityEventType is ADD for Mint, REMOVE for Burn.
type LiquidityEventType string

const (
	LiquidityAdd    LiquidityEventType = "ADD"
	LiquidityRemove LiquidityEventType = "REMOVE"
)

// LiquidityEvent records one Mint or Burn on a pair. Append-only.
type LiquidityEvent struct {
	TxHash       string             `json:"tx_hash"`
	LogIndex     uint               `json:"log_index"`
	BlockNumber  uint64             `json:"block_number"`
	Timestamp    int64              `json:"timestamp"`
	Pair         string             `json:"pair"`
	Provider     string             `json:"provider"`
	Token0Amount string             `json:"token0_amount"`
	Token1Amount string             `json:"token1_amount"`
	Liquidity    string             `json:"liquidity"`
	Type         LiquidityEventType `json:"type"`
	ValueUSD     float64            `json:"value_usd"`
}

// TransferEvent is one ERC-20 Transfer log. The (tx_hash, log_index) unique
// key is what makes holder accounting at-most-once under re-delivery.
type TransferEvent struct {
	TxHash       string `json:"tx_hash"`
	LogIndex     uint   `json:"log_index"`
	TokenAddress string `json:"token_address"`
	From         string `json:"from"`
	To           string `json:"to"`
	Value        string `json:"value"`
	BlockNumber  uint64 `json:"block_number"`
	Timestamp    int64  `json:"timestamp"`
}

// HolderBalance is one positive balance row. Rows at zero are deleted, never
// kept.
type HolderBalance struct {
	TokenAddress string    `json:"token_address"`
	Address      string    `json:"address"`
	Balance      string    `json:"balance"`
	LastUpdated  time.Time `json:"last_updated"`
}

// TokenAnalytics is the derived risk and market view of a token.
type TokenAnalytics struct {
	TokenAddress           string  `json:"token_address"`
	RugScore               int     `json:"rug_score"`
	IsHoneypot             bool    `json:"is_honeypot"`
	OwnershipConcentration float64 `json:"ownership_concentration"`
	LiquidityUSD           float64 `json:"liquidity_usd"`
	Volume24h              float64 `json:"volume_24h"`
	Holders                int     `json:"holders"`
	Transactions24h        int     `json:"transactions_24h"`
	PriceUSD               float64 `json:"price_usd"`
	PriceChange24h         float64 `json:"price_change_24h"`
	MarketCapUSD           float64 `json:"market_cap_usd"`
	CirculatingSupply      string  `json:"circulating_supply"`
	MaxWalletPct           float64 `json:"max_wallet_pct"`
	MaxTxPct               float64 `json:"max_tx_pct"`
	BuyTax                 float64 `json:"buy_tax"`
	SellTax                float64 `json:"sell_tax"`
	IsRenounced            bool    `json:"is_renounced"`
	LiquidityLocked        bool    `json:"liquidity_locked"`
	LiquidityLockExpiry    int64   `json:"liquidity_lock_expiry"`
	UpdatedAt              time.Time
}

// Severity orders alerts for routing. Higher reaches more sinks.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Alert types emitted by the processors.
const (
	AlertNewToken         = "NEW_TOKEN"
	AlertNewPair          = "NEW_PAIR"
	AlertTokenLaunched    = "TOKEN_LAUNCHED"
	AlertHoneypotDetected = "HONEYPOT_DETECTED"
	AlertRugWarning       = "RUG_WARNING"
	AlertWhaleActivity    = "WHALE_ACTIVITY"
	AlertLargeBuy         = "LARGE_BUY"
	AlertLargeSell        = "LARGE_SELL"
	AlertLiquidityAdded   = "LIQUIDITY_ADDED"
	AlertLiquidityRemoved = "LIQUIDITY_REMOVED"
	AlertRenounced        = "OWNERSHIP_RENOUNCED"
)

// Alert is a routed notification. ID is deterministic from the triggering
// event so duplicate emissions collapse on insert.
type Alert struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Severity     Severity       `json:"severity"`
	TokenAddress string         `json:"token_address"`
	Message      string         `json:"message"`
	Data         map[string]any `json:"data,omitempty"`
	Timestamp    int64          `json:"timestamp"`
	Sent         bool           `json:"sent"`
}

// Cursor is the durable per-monitor progress marker.
type Cursor struct {
	Processor string `json:"processor"`
	LastBlock uint64 `json:"last_block"`
}

// TraderProfile aggregates per-wallet trade stats. A wallet is flagged whale
// once cumulative volume crosses the threshold.
type TraderProfile struct {
	Address     string  `json:"address"`
	TradeCount  int     `json:"trade_count"`
	VolumeUSD   float64 `json:"volume_usd"`
	AvgTradeUSD float64 `json:"avg_trade_usd"`
	FirstSeen   int64   `json:"first_seen"`
	LastSeen    int64   `json:"last_seen"`
	IsWhale     bool    `json:"is_whale"`
}

// WhaleVolumeUSD is the cumulative volume at which a trader is marked whale.
const WhaleVolumeUSD = 100_000

// StakeTier is the staking contract's view of a wallet.
type StakeTier struct {
	Address   string    `json:"address"`
	Tier      uint8     `json:"tier"`
	Amount    string    `json:"amount"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Addr normalises a chain address to the lowercase hex form used as a key
// everywhere in the store and KV.
func Addr(a common.Address) string {
	return strings.ToLower(a.Hex())
}

// HexAddr parses a stored lowercase address back to its binary form.
func HexAddr(s string) common.Address {
	return common.HexToAddress(s)
}

// BigString renders a big integer for storage; nil becomes "0".
func BigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// ZeroAddress is the mint/burn sentinel in ERC-20 transfers.
var ZeroAddress = common.Address{}
