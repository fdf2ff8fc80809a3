package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "POLYBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.SafeAddress, "POLYBOT_WALLET_SAFE_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POLYBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLYBOT_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYBOT_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYBOT_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "POLYBOT_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "POLYBOT_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "POLYBOT_POLYMARKET_SIGNATURE_TYPE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POLYBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYBOT_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.CacheTTLMinutes, "POLYBOT_REDIS_CACHE_TTL_MINUTES")
	setInt(&cfg.Redis.StreamMaxLen, "POLYBOT_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POLYBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYBOT_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYBOT_NOTIFY_EVENTS")

	// ── Settings ──
	setInt(&cfg.Settings.ScanIntervalSeconds, "POLYBOT_SETTINGS_SCAN_INTERVAL_SECONDS")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxPositionUSD, "POLYBOT_RISK_MAX_POSITION_USD")
	setFloat64(&cfg.Risk.MaxTotalExposureUSD, "POLYBOT_RISK_MAX_TOTAL_EXPOSURE_USD")
	setInt(&cfg.Risk.MaxPositions, "POLYBOT_RISK_MAX_POSITIONS")
	setInt(&cfg.Risk.MaxPositionsPerStrategy, "POLYBOT_RISK_MAX_POSITIONS_PER_STRATEGY")
	setFloat64(&cfg.Risk.MaxDrawdownPct, "POLYBOT_RISK_MAX_DRAWDOWN_PCT")
	setInt64(&cfg.Risk.MaxPriceDeviationBps, "POLYBOT_RISK_MAX_PRICE_DEVIATION_BPS")
	setInt64(&cfg.Risk.MaxSpreadBps, "POLYBOT_RISK_MAX_SPREAD_BPS")
	setInt64(&cfg.Risk.MaxFeeRateBps, "POLYBOT_RISK_MAX_FEE_RATE_BPS")
	setInt(&cfg.Risk.MinOrderGapSeconds, "POLYBOT_RISK_MIN_ORDER_GAP_SECONDS")
	setInt(&cfg.Risk.PostTradeCooldownMinutes, "POLYBOT_RISK_POST_TRADE_COOLDOWN_MINUTES")

	// ── Sizing ──
	setStr(&cfg.Sizing.Method, "POLYBOT_SIZING_METHOD")
	setFloat64(&cfg.Sizing.FixedAmountUSD, "POLYBOT_SIZING_FIXED_AMOUNT_USD")
	setFloat64(&cfg.Sizing.KellyFraction, "POLYBOT_SIZING_KELLY_FRACTION")
	setFloat64(&cfg.Sizing.MaxSizeUSD, "POLYBOT_SIZING_MAX_SIZE_USD")

	// ── Execution ──
	setStr(&cfg.Execution.DefaultOrderType, "POLYBOT_EXECUTION_DEFAULT_ORDER_TYPE")
	setInt64(&cfg.Execution.LimitOffsetBps, "POLYBOT_EXECUTION_LIMIT_OFFSET_BPS")
	setInt(&cfg.Execution.SpreadTimeoutSeconds, "POLYBOT_EXECUTION_SPREAD_TIMEOUT_SECONDS")
	setInt64(&cfg.Execution.MarketSlippageBps, "POLYBOT_EXECUTION_MARKET_SLIPPAGE_BPS")
	setInt(&cfg.Execution.MaxRetryAttempts, "POLYBOT_EXECUTION_MAX_RETRY_ATTEMPTS")
	setInt64(&cfg.Execution.MaxLegGapMs, "POLYBOT_EXECUTION_MAX_LEG_GAP_MS")
	setInt(&cfg.Execution.ShutdownGraceSeconds, "POLYBOT_EXECUTION_SHUTDOWN_GRACE_SECONDS")

	// ── Filters ──
	setFloat64(&cfg.Filters.MinLiquidityUSD, "POLYBOT_FILTERS_MIN_LIQUIDITY_USD")
	setStringSlice(&cfg.Filters.ExcludedKeywords, "POLYBOT_FILTERS_EXCLUDED_KEYWORDS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYBOT_MODE")
	setStr(&cfg.LogLevel, "POLYBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
