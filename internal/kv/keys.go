package kv

// Channel names on the pub/sub bus.
const (
	ChannelTokenEvents     = "token-events"
	ChannelTradeEvents     = "trade-events"
	ChannelPairEvents      = "pair-events"
	ChannelLiquidityEvents = "liquidity-events"
	ChannelStakingEvents   = "staking-events"
	ChannelTokenUpdate     = "token:update"
	ChannelWSNewToken      = "websocket:new_token"
	ChannelWSTrade         = "websocket:trade"
	ChannelWSPriceUpdate   = "websocket:price_update"
	ChannelWSAlerts        = "websocket:alerts"
)

// Queue lists drained by external workers.
const (
	QueueTelegramAlerts = "telegram:alerts"
	QueueWebhooks       = "webhooks:queue"
)

// Sorted sets ranking tokens.
const (
	ZSetTokensByCreation  = "tokens:by_creation"
	ZSetTokensByRugScore  = "tokens:by_rug_score"
	ZSetTokensByLiquidity = "tokens:by_liquidity"
)

// Singleton keys.
const (
	KeyStatus      = "status"
	HashStakeTiers = "staking:tiers"
)

func KeyToken(addr string) string         { return "token:" + addr }
func KeyHolders(addr string) string       { return "holders:" + addr }
func KeyReserves(pair string) string      { return "reserves:" + pair }
func KeyVolume(addr string) string        { return "volume:" + addr }
func ListRecentTrades(pair string) string { return "trades:recent:" + pair }
func ListTokenTrades(token string) string { return "trades:token:" + token }
func SetDexPairs(dex string) string       { return "pairs:" + dex }
func SetTokenPairs(token string) string   { return "token:pairs:" + token }

// Event is the common envelope published on the semantic channels.
type Event struct {
	Event     string `json:"event"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}
