package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Wallet
	out.Wallet = cfg.Wallet
	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)

	// Postgres
	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// S3
	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Notify
	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Filters.ExcludedKeywords != nil {
		out.Filters.ExcludedKeywords = make([]string, len(cfg.Filters.ExcludedKeywords))
		copy(out.Filters.ExcludedKeywords, cfg.Filters.ExcludedKeywords)
	}

	// Copy the strategy map so mutations to the redacted copy do not affect
	// the original, and redact nothing inside it: strategy params are tuning
	// knobs, not secrets.
	if cfg.Strategies != nil {
		out.Strategies = make(map[string]StrategyInstanceConfig, len(cfg.Strategies))
		for name, strat := range cfg.Strategies {
			if strat.MarketIDs != nil {
				ids := make([]string, len(strat.MarketIDs))
				copy(ids, strat.MarketIDs)
				strat.MarketIDs = ids
			}
			if strat.TokenIDs != nil {
				ids := make([]string, len(strat.TokenIDs))
				copy(ids, strat.TokenIDs)
				strat.TokenIDs = ids
			}
			if strat.Params != nil {
				params := make(map[string]any, len(strat.Params))
				for k, v := range strat.Params {
					params[k] = v
				}
				strat.Params = params
			}
			out.Strategies[name] = strat
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
