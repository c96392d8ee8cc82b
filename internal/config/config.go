// Package config loads and validates the runtime configuration. Everything
// is carried in one explicit struct handed to constructors; nothing reads
// configuration at package init.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Config is the full runtime configuration of the indexer.
type Config struct {
	Network   string          `mapstructure:"network"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Store     StoreConfig     `mapstructure:"store"`
	KV        KVConfig        `mapstructure:"kv"`
	Contracts ContractsConfig `mapstructure:"contracts"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Workers   WorkerConfig    `mapstructure:"workers"`
	Price     PriceConfig     `mapstructure:"price"`
	Alerts    AlertConfig     `mapstructure:"alerts"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`
}

// ChainConfig covers the RPC endpoints and ingestion pacing.
type ChainConfig struct {
	RPCURL        string        `mapstructure:"rpc_url"`
	WSURL         string        `mapstructure:"ws_url"`
	StartBlock    uint64        `mapstructure:"start_block"`
	Confirmations uint64        `mapstructure:"confirmations"`
	BatchSize     uint64        `mapstructure:"batch_size"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	RPCTimeout    time.Duration `mapstructure:"rpc_timeout"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
}

type StoreConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type KVConfig struct {
	URL string `mapstructure:"url"`
}

// DexConfig identifies one DEX factory to follow. InitCodeHash lets the
// monitor cross-check CREATE2-derived pair addresses; FeeBps is informational.
type DexConfig struct {
	Name         string `mapstructure:"name"`
	Factory      string `mapstructure:"factory"`
	InitCodeHash string `mapstructure:"init_code_hash"`
	FeeBps       int    `mapstructure:"fee_bps"`
}

// ContractsConfig pins the watched contract addresses for the selected
// network.
type ContractsConfig struct {
	Factory   string      `mapstructure:"factory"`
	Staking   string      `mapstructure:"staking"`
	Treasury  string      `mapstructure:"treasury"`
	BaseToken string      `mapstructure:"base_token"`
	Dexes     []DexConfig `mapstructure:"dexes"`
}

// WatchConfig seeds the transfer watch set. Tokens lists explicit addresses;
// BootstrapTop pulls the most recently created tokens from the store on top.
type WatchConfig struct {
	Tokens           []string `mapstructure:"tokens"`
	BootstrapTop     int      `mapstructure:"bootstrap_top"`
	HistoricalBlocks uint64   `mapstructure:"historical_blocks"`
	HistoricalWindow uint64   `mapstructure:"historical_window"`
}

// WorkerConfig bounds derived work per monitor.
type WorkerConfig struct {
	Concurrency int     `mapstructure:"concurrency"`
	RatePerSec  float64 `mapstructure:"rate_per_sec"`
}

type PriceConfig struct {
	APIURL      string        `mapstructure:"api_url"`
	FallbackUSD float64       `mapstructure:"fallback_usd"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

type AlertConfig struct {
	WebhookURLs []string `mapstructure:"webhook_urls"`
}

type HTTPConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	JSON       bool   `mapstructure:"json"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load reads configuration from an optional YAML file plus PUMPWATCH_*
// environment overrides. Path may be empty, in which case the usual config
// locations are searched.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pumpwatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/pumpwatch")
	}
	v.SetEnvPrefix("PUMPWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine when no explicit path was given; env and
		// defaults still apply.
		if path != "" {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("network", "mainnet")

	v.SetDefault("chain.confirmations", 3)
	v.SetDefault("chain.batch_size", 100)
	v.SetDefault("chain.retry_attempts", 3)
	v.SetDefault("chain.retry_delay", time.Second)
	v.SetDefault("chain.rpc_timeout", 10*time.Second)
	v.SetDefault("chain.poll_interval", 5*time.Second)

	v.SetDefault("store.max_conns", 10)

	v.SetDefault("kv.url", "redis://localhost:6379/0")

	v.SetDefault("watch.bootstrap_top", 100)
	v.SetDefault("watch.historical_blocks", 0)
	v.SetDefault("watch.historical_window", 1000)

	v.SetDefault("workers.concurrency", 10)
	v.SetDefault("workers.rate_per_sec", 50)

	v.SetDefault("price.fallback_usd", 1.0)
	v.SetDefault("price.cache_ttl", time.Minute)

	v.SetDefault("http.listen_addr", ":8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	switch c.Network {
	case "mainnet", "testnet":
	default:
		return fmt.Errorf("config: unknown network %q", c.Network)
	}
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("config: chain.rpc_url is required")
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("config: store.dsn is required")
	}
	if c.KV.URL == "" {
		return fmt.Errorf("config: kv.url is required")
	}
	if c.Contracts.Factory == "" {
		return fmt.Errorf("config: contracts.factory is required")
	}
	if !common.IsHexAddress(c.Contracts.Factory) {
		return fmt.Errorf("config: contracts.factory %q is not an address", c.Contracts.Factory)
	}
	for _, a := range []struct{ name, addr string }{
		{"contracts.staking", c.Contracts.Staking},
		{"contracts.treasury", c.Contracts.Treasury},
		{"contracts.base_token", c.Contracts.BaseToken},
	} {
		if a.addr != "" && !common.IsHexAddress(a.addr) {
			return fmt.Errorf("config: %s %q is not an address", a.name, a.addr)
		}
	}
	for _, d := range c.Contracts.Dexes {
		if d.Name == "" {
			return fmt.Errorf("config: dex entry without a name")
		}
		if !common.IsHexAddress(d.Factory) {
			return fmt.Errorf("config: dex %s factory %q is not an address", d.Name, d.Factory)
		}
	}
	for _, t := range c.Watch.Tokens {
		if !common.IsHexAddress(t) {
			return fmt.Errorf("config: watch token %q is not an address", t)
		}
	}
	if c.Chain.BatchSize == 0 {
		return fmt.Errorf("config: chain.batch_size must be positive")
	}
	if c.Chain.Confirmations == 0 {
		return fmt.Errorf("config: chain.confirmations must be positive")
	}
	if c.Workers.Concurrency <= 0 || c.Workers.RatePerSec <= 0 {
		return fmt.Errorf("config: workers.concurrency and workers.rate_per_sec must be positive")
	}
	return nil
}

// RedactedDSN returns the store DSN with any password blanked for logging.
func (c Config) RedactedDSN() string {
	dsn := c.Store.DSN
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return dsn
	}
	scheme := strings.Index(dsn, "://")
	if scheme < 0 {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		return dsn[:scheme+3] + creds[:colon] + ":***" + dsn[at:]
	}
	return dsn
}
