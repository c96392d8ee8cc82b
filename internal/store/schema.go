package store

// Schema is applied at startup. Every statement is idempotent so repeated
// boots converge; uint256 values live in NUMERIC(78,0).
const schema = `
CREATE TABLE IF NOT EXISTS tokens (
	address             TEXT PRIMARY KEY,
	name                TEXT NOT NULL DEFAULT '',
	symbol              TEXT NOT NULL DEFAULT '',
	decimals            SMALLINT NOT NULL DEFAULT 18,
	total_supply        NUMERIC(78,0) NOT NULL DEFAULT 0,
	creator             TEXT NOT NULL DEFAULT '',
	created_at          BIGINT NOT NULL DEFAULT 0,
	block_number        BIGINT NOT NULL DEFAULT 0,
	tx_hash             TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT 'CREATED',
	ownership_renounced BOOLEAN NOT NULL DEFAULT FALSE,
	description         TEXT NOT NULL DEFAULT '',
	image_url           TEXT NOT NULL DEFAULT '',
	twitter             TEXT NOT NULL DEFAULT '',
	telegram            TEXT NOT NULL DEFAULT '',
	website             TEXT NOT NULL DEFAULT '',
	max_wallet          NUMERIC(78,0) NOT NULL DEFAULT 0,
	max_transaction     NUMERIC(78,0) NOT NULL DEFAULT 0,
	trading_enabled     BOOLEAN NOT NULL DEFAULT FALSE,
	holders_count       INTEGER NOT NULL DEFAULT 0,
	pair_address        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS tokens_created_at_idx ON tokens (created_at DESC);

CREATE TABLE IF NOT EXISTS pairs (
	address      TEXT PRIMARY KEY,
	token0       TEXT NOT NULL,
	token1       TEXT NOT NULL,
	reserve0     NUMERIC(78,0) NOT NULL DEFAULT 0,
	reserve1     NUMERIC(78,0) NOT NULL DEFAULT 0,
	dex_name     TEXT NOT NULL DEFAULT '',
	created_at   BIGINT NOT NULL DEFAULT 0,
	block_number BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS pairs_token0_idx ON pairs (token0);
CREATE INDEX IF NOT EXISTS pairs_token1_idx ON pairs (token1);

CREATE TABLE IF NOT EXISTS trades (
	tx_hash      TEXT NOT NULL,
	log_index    INTEGER NOT NULL,
	block_number BIGINT NOT NULL,
	timestamp    BIGINT NOT NULL,
	pair         TEXT NOT NULL,
	trader       TEXT NOT NULL,
	token_in     TEXT NOT NULL,
	token_out    TEXT NOT NULL,
	amount_in    NUMERIC(78,0) NOT NULL DEFAULT 0,
	amount_out   NUMERIC(78,0) NOT NULL DEFAULT 0,
	price_impact DOUBLE PRECISION NOT NULL DEFAULT 0,
	value_usd    DOUBLE PRECISION NOT NULL DEFAULT 0,
	side         TEXT NOT NULL DEFAULT '',
	gas_used     BIGINT NOT NULL DEFAULT 0,
	gas_price    NUMERIC(78,0) NOT NULL DEFAULT 0,
	PRIMARY KEY (tx_hash, log_index)
);
CREATE INDEX IF NOT EXISTS trades_timestamp_idx ON trades (timestamp);
CREATE INDEX IF NOT EXISTS trades_pair_idx ON trades (pair);

CREATE TABLE IF NOT EXISTS liquidity_events (
	tx_hash       TEXT NOT NULL,
	log_index     INTEGER NOT NULL,
	block_number  BIGINT NOT NULL DEFAULT 0,
	timestamp     BIGINT NOT NULL DEFAULT 0,
	pair          TEXT NOT NULL,
	provider      TEXT NOT NULL DEFAULT '',
	token0_amount NUMERIC(78,0) NOT NULL DEFAULT 0,
	token1_amount NUMERIC(78,0) NOT NULL DEFAULT 0,
	liquidity     NUMERIC(78,0) NOT NULL DEFAULT 0,
	type          TEXT NOT NULL,
	value_usd     DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (tx_hash, log_index)
);
CREATE INDEX IF NOT EXISTS liquidity_events_pair_idx ON liquidity_events (pair, timestamp);

CREATE TABLE IF NOT EXISTS transfer_events (
	tx_hash       TEXT NOT NULL,
	log_index     INTEGER NOT NULL,
	token_address TEXT NOT NULL,
	from_address  TEXT NOT NULL,
	to_address    TEXT NOT NULL,
	value         NUMERIC(78,0) NOT NULL DEFAULT 0,
	block_number  BIGINT NOT NULL DEFAULT 0,
	timestamp     BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (tx_hash, log_index)
);
CREATE INDEX IF NOT EXISTS transfer_events_token_block_idx
	ON transfer_events (token_address, block_number);

CREATE TABLE IF NOT EXISTS token_holders (
	token_address TEXT NOT NULL,
	address       TEXT NOT NULL,
	balance       NUMERIC(78,0) NOT NULL,
	last_updated  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (token_address, address)
);
CREATE INDEX IF NOT EXISTS token_holders_balance_idx
	ON token_holders (token_address, balance DESC);

CREATE TABLE IF NOT EXISTS token_analytics (
	token_address           TEXT PRIMARY KEY,
	rug_score               INTEGER NOT NULL DEFAULT 0,
	is_honeypot             BOOLEAN NOT NULL DEFAULT FALSE,
	ownership_concentration DOUBLE PRECISION NOT NULL DEFAULT 0,
	liquidity_usd           DOUBLE PRECISION NOT NULL DEFAULT 0,
	volume_24h              DOUBLE PRECISION NOT NULL DEFAULT 0,
	holders                 INTEGER NOT NULL DEFAULT 0,
	transactions_24h        INTEGER NOT NULL DEFAULT 0,
	price_usd               DOUBLE PRECISION NOT NULL DEFAULT 0,
	price_change_24h        DOUBLE PRECISION NOT NULL DEFAULT 0,
	market_cap_usd          DOUBLE PRECISION NOT NULL DEFAULT 0,
	circulating_supply      NUMERIC(78,0) NOT NULL DEFAULT 0,
	max_wallet_pct          DOUBLE PRECISION NOT NULL DEFAULT 0,
	max_tx_pct              DOUBLE PRECISION NOT NULL DEFAULT 0,
	buy_tax                 DOUBLE PRECISION NOT NULL DEFAULT 0,
	sell_tax                DOUBLE PRECISION NOT NULL DEFAULT 0,
	is_renounced            BOOLEAN NOT NULL DEFAULT FALSE,
	liquidity_locked        BOOLEAN NOT NULL DEFAULT FALSE,
	liquidity_lock_expiry   BIGINT NOT NULL DEFAULT 0,
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS alerts (
	id            TEXT PRIMARY KEY,
	type          TEXT NOT NULL,
	severity      TEXT NOT NULL,
	token_address TEXT NOT NULL DEFAULT '',
	message       TEXT NOT NULL DEFAULT '',
	data          JSONB,
	timestamp     BIGINT NOT NULL DEFAULT 0,
	sent          BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS alerts_timestamp_idx ON alerts (timestamp DESC);

CREATE TABLE IF NOT EXISTS cursors (
	processor  TEXT PRIMARY KEY,
	last_block BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS trader_profiles (
	address       TEXT PRIMARY KEY,
	trade_count   INTEGER NOT NULL DEFAULT 0,
	volume_usd    DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_trade_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
	first_seen    BIGINT NOT NULL DEFAULT 0,
	last_seen     BIGINT NOT NULL DEFAULT 0,
	is_whale      BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS stake_tiers (
	address    TEXT PRIMARY KEY,
	tier       SMALLINT NOT NULL DEFAULT 0,
	amount     NUMERIC(78,0) NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
