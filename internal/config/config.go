// Package config defines the top-level configuration for the trading engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by POLYBOT_* environment
// variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Notify     NotifyConfig     `toml:"notify"`

	Settings  SettingsConfig                    `toml:"settings"`
	Risk      RiskConfig                        `toml:"risk"`
	Sizing    SizingConfig                      `toml:"sizing"`
	Execution ExecutionConfig                   `toml:"execution"`
	Filters   FiltersConfig                     `toml:"filters"`
	Strategies map[string]StrategyInstanceConfig `toml:"strategies"`

	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	SafeAddress      string `toml:"safe_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds exchange API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	WsHost        string `toml:"ws_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr            string `toml:"addr"`
	Password        string `toml:"password"`
	DB              int    `toml:"db"`
	PoolSize        int    `toml:"pool_size"`
	MaxRetries      int    `toml:"max_retries"`
	TLSEnabled      bool   `toml:"tls_enabled"`
	CacheTTLMinutes int    `toml:"cache_ttl_minutes"`
	StreamMaxLen    int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters, used for
// archiving trades, orders, and decisions to cold storage.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// SettingsConfig holds engine-wide timing parameters.
type SettingsConfig struct {
	ScanIntervalSeconds int `toml:"scan_interval_seconds"`
}

// RiskConfig holds the account-level limits the State Manager enforces
// before every trade, plus the gate thresholds the Execution & Safety
// Pipeline applies ahead of the State Manager's own checks.
type RiskConfig struct {
	MaxPositionUSD          float64 `toml:"max_position_usd"`
	MaxTotalExposureUSD     float64 `toml:"max_total_exposure_usd"`
	MaxPositions            int     `toml:"max_positions"`
	MaxPositionsPerStrategy int     `toml:"max_positions_per_strategy"`
	MaxDrawdownPct          float64 `toml:"max_drawdown_pct"`

	MaxPriceDeviationBps     int64 `toml:"max_price_deviation_bps"`
	MaxSpreadBps             int64 `toml:"max_spread_bps"`
	MaxFeeRateBps            int64 `toml:"max_fee_rate_bps"`
	MinOrderGapSeconds       int   `toml:"min_order_gap_seconds"`
	PostTradeCooldownMinutes int   `toml:"post_trade_cooldown_minutes"`
}

// SizingConfig controls how a strategy's action size is computed when the
// strategy itself does not set one explicitly.
type SizingConfig struct {
	Method         string  `toml:"method"` // fixed, kelly, vol_scaled
	FixedAmountUSD float64 `toml:"fixed_amount_usd"`
	KellyFraction  float64 `toml:"kelly_fraction"`
	MaxSizeUSD     float64 `toml:"max_size_usd"`
}

// ExecutionConfig controls order placement and the limit-to-market upgrade
// path.
type ExecutionConfig struct {
	DefaultOrderType     string `toml:"default_order_type"` // market, limit
	LimitOffsetBps       int64  `toml:"limit_offset_bps"`
	SpreadTimeoutSeconds int    `toml:"spread_timeout_seconds"`
	MarketSlippageBps    int64  `toml:"market_slippage_bps"`
	MaxRetryAttempts     int    `toml:"max_retry_attempts"`
	MaxLegGapMs          int64  `toml:"max_leg_gap_ms"`
	ShutdownGraceSeconds int    `toml:"shutdown_grace_seconds"`
}

// FiltersConfig screens which markets the engine will ever consider.
type FiltersConfig struct {
	MinLiquidityUSD  float64  `toml:"min_liquidity_usd"`
	ExcludedKeywords []string `toml:"excluded_keywords"`
}

// StrategyInstanceConfig configures one named strategy instance. Execution
// and Sizing override the top-level ExecutionConfig/SizingConfig for this
// strategy only; a zero field means "inherit the global value".
type StrategyInstanceConfig struct {
	Enabled      bool           `toml:"enabled"`
	MarketIDs    []string       `toml:"market_ids"`
	TokenIDs     []string       `toml:"token_ids"`
	SizeUSD      float64        `toml:"size_usd"`
	MaxPositions int            `toml:"max_positions"`
	TakeProfit   float64        `toml:"take_profit"`
	StopLoss     float64        `toml:"stop_loss"`
	Params       map[string]any `toml:"params"`
	Execution    ExecutionConfig `toml:"execution"`
	Sizing       SizingConfig    `toml:"sizing"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:       137,
			SignatureType: 2,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:            "localhost:6379",
			DB:              0,
			PoolSize:        20,
			MaxRetries:      3,
			TLSEnabled:      false,
			CacheTTLMinutes: 5,
			StreamMaxLen:    10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polyengine-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"order_filled", "position_closed", "position_resolved", "error"},
		},
		Settings: SettingsConfig{
			ScanIntervalSeconds: 5,
		},
		Risk: RiskConfig{
			MaxPositionUSD:           50.0,
			MaxTotalExposureUSD:      500.0,
			MaxPositions:             10,
			MaxPositionsPerStrategy:  3,
			MaxDrawdownPct:           20.0,
			MaxPriceDeviationBps:     200,
			MaxSpreadBps:             300,
			MaxFeeRateBps:            200,
			MinOrderGapSeconds:       600,
			PostTradeCooldownMinutes: 5,
		},
		Sizing: SizingConfig{
			Method:         "fixed",
			FixedAmountUSD: 10.0,
			KellyFraction:  0.25,
			MaxSizeUSD:     50.0,
		},
		Execution: ExecutionConfig{
			DefaultOrderType:     "limit",
			LimitOffsetBps:       20,
			SpreadTimeoutSeconds: 15,
			MarketSlippageBps:    100,
			MaxRetryAttempts:     1,
			MaxLegGapMs:          2000,
			ShutdownGraceSeconds: 10,
		},
		Filters: FiltersConfig{
			MinLiquidityUSD:  100.0,
			ExcludedKeywords: []string{},
		},
		Strategies: map[string]StrategyInstanceConfig{},
		Mode:       "paper",
		LogLevel:   "info",
	}
}

var validModes = map[string]bool{
	"paper": true,
	"live":  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validSizingMethods = map[string]bool{
	"fixed":      true,
	"kelly":      true,
	"vol_scaled": true,
}

var validOrderTypes = map[string]bool{
	"market": true,
	"limit":  true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, live)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if strings.EqualFold(c.Mode, "live") {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for live mode")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType < 0 || c.Polymarket.SignatureType > 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 0 (EOA), 1 (POLY_PROXY) or 2 (POLY_GNOSIS_SAFE), got %d", c.Polymarket.SignatureType))
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	if c.Settings.ScanIntervalSeconds <= 0 {
		errs = append(errs, "settings: scan_interval_seconds must be > 0")
	}

	if c.Risk.MaxPositions < 1 {
		errs = append(errs, "risk: max_positions must be >= 1")
	}
	if c.Risk.MaxPositionUSD <= 0 {
		errs = append(errs, "risk: max_position_usd must be > 0")
	}
	if c.Risk.MaxTotalExposureUSD <= 0 {
		errs = append(errs, "risk: max_total_exposure_usd must be > 0")
	}
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct > 100 {
		errs = append(errs, "risk: max_drawdown_pct must be between 0 and 100")
	}

	if !validSizingMethods[strings.ToLower(c.Sizing.Method)] {
		errs = append(errs, fmt.Sprintf("sizing: unknown method %q (valid: fixed, kelly, vol_scaled)", c.Sizing.Method))
	}
	if c.Sizing.MaxSizeUSD <= 0 {
		errs = append(errs, "sizing: max_size_usd must be > 0")
	}

	if !validOrderTypes[strings.ToLower(c.Execution.DefaultOrderType)] {
		errs = append(errs, fmt.Sprintf("execution: unknown default_order_type %q (valid: market, limit)", c.Execution.DefaultOrderType))
	}
	if c.Execution.MaxRetryAttempts < 0 {
		errs = append(errs, "execution: max_retry_attempts must be >= 0")
	}

	for name, strat := range c.Strategies {
		if strat.Enabled && strat.SizeUSD <= 0 && c.Sizing.FixedAmountUSD <= 0 {
			errs = append(errs, fmt.Sprintf("strategies.%s: size_usd must be > 0 (no global sizing.fixed_amount_usd fallback configured)", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
