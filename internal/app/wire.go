package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/polyengine/internal/blob/s3"
	"github.com/alanyoungcy/polyengine/internal/cache/redis"
	"github.com/alanyoungcy/polyengine/internal/config"
	"github.com/alanyoungcy/polyengine/internal/crypto"
	"github.com/alanyoungcy/polyengine/internal/domain"
	"github.com/alanyoungcy/polyengine/internal/executor"
	"github.com/alanyoungcy/polyengine/internal/feed"
	"github.com/alanyoungcy/polyengine/internal/notify"
	"github.com/alanyoungcy/polyengine/internal/platform/exchange"
	"github.com/alanyoungcy/polyengine/internal/router"
	"github.com/alanyoungcy/polyengine/internal/service"
	"github.com/alanyoungcy/polyengine/internal/store/postgres"
	"github.com/alanyoungcy/polyengine/internal/strategy"
)

// ErrStoreUnavailable wraps any error encountered while connecting to a
// persistent store (Postgres, Redis, S3) during Wire, so cmd/engine can map
// it to its dedicated exit code.
var ErrStoreUnavailable = errors.New("persistent store unavailable")

// ErrCredentials wraps any error encountered while loading the wallet key
// or authenticating against the exchange during Wire, so cmd/engine can map
// it to its dedicated exit code.
var ErrCredentials = errors.New("credentials or authentication error")

// Dependencies holds every wired component the engine's run loop needs.
// It is built once by Wire and torn down by the accompanying cleanup func.
type Dependencies struct {
	Postgres *postgres.Client
	Redis    *redis.Client

	MarketStore        domain.MarketStore
	OrderStore         domain.OrderStore
	PositionStore      domain.PositionStore
	TradeStore         domain.TradeStore
	DecisionStore      domain.DecisionStore
	SpreadStore        domain.SpreadStore
	StrategyStateStore domain.StrategyStateStore
	CooldownStore      domain.CooldownStore
	LegStore           domain.LegStore

	PriceCache  domain.PriceCache
	BookCache   domain.OrderbookCache
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	Archiver domain.Archiver

	Signer         *crypto.Signer
	ExchangeClient *exchange.Client
	GammaClient    *exchange.GammaClient

	MarketService     *service.MarketService
	PositionService   *service.PositionService
	PriceService      *service.PriceService
	SettlementService *service.SettlementService
	TradeService      *service.TradeService
	StateManager      *service.StateManager

	Notifier *notify.Notifier

	Feed     *feed.ExchangeWSFeed
	Router   *router.Router
	Registry *strategy.Registry
	Engine   *strategy.Engine
	Executor *executor.Executor

	ActionCh chan domain.Action
}

// Wire constructs every dependency the engine needs from cfg: connects to
// Postgres and Redis, opens the S3 archiver, loads or decrypts the trading
// key in live mode, builds the service layer, and assembles the Execution &
// Safety Pipeline with the mode-appropriate order placer. The returned
// cleanup func releases every resource that was successfully opened, even if
// Wire itself returns an error partway through.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	logger := slog.Default()
	mode := strings.ToLower(cfg.Mode)

	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, cleanup, fmt.Errorf("app: connect postgres: %w: %w", ErrStoreUnavailable, err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, cleanup, fmt.Errorf("app: run migrations: %w: %w", ErrStoreUnavailable, err)
		}
	}

	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, cleanup, fmt.Errorf("app: connect redis: %w: %w", ErrStoreUnavailable, err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	pool := pgClient.Pool()

	orderStore := postgres.NewOrderStore(pool)
	decisionStore := postgres.NewDecisionStore(pool)

	deps := &Dependencies{
		Postgres: pgClient,
		Redis:    redisClient,

		MarketStore:        postgres.NewMarketStore(pool),
		OrderStore:         orderStore,
		PositionStore:      postgres.NewPositionStore(pool),
		TradeStore:         postgres.NewTradeStore(pool),
		DecisionStore:      decisionStore,
		SpreadStore:        postgres.NewSpreadStore(pool),
		StrategyStateStore: postgres.NewStrategyStateStore(pool),
		CooldownStore:      postgres.NewCooldownStore(pool),
		LegStore:           postgres.NewLegStore(pool),

		PriceCache:  redis.NewPriceCache(redisClient),
		BookCache:   redis.NewOrderbookCache(redisClient),
		MarketCache: redis.NewMarketCache(redisClient),
		RateLimiter: redis.NewRateLimiter(redisClient),
		LockManager: redis.NewLockManager(redisClient),
		SignalBus:   redis.NewSignalBus(redisClient),

		ActionCh: make(chan domain.Action, 256),
	}

	s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		Bucket:         cfg.S3.Bucket,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		UseSSL:         cfg.S3.UseSSL,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
	if err != nil {
		cleanup()
		return nil, cleanup, fmt.Errorf("app: connect s3: %w: %w", ErrStoreUnavailable, err)
	}
	blobWriter := s3blob.NewWriter(s3Client)
	deps.Archiver = s3blob.NewArchiver(blobWriter, postgres.NewTradeStore(pool), orderStore, decisionStore)

	// Notification senders. Either channel is optional; Notifier tolerates
	// an empty sender list by simply never delivering anything.
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	wallet := cfg.Wallet.SafeAddress
	if strings.EqualFold(mode, "live") {
		keyHex, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, cleanup, fmt.Errorf("app: load wallet key: %w: %w", ErrCredentials, err)
		}
		signer, err := crypto.NewSigner(keyHex, cfg.Polymarket.ChainID)
		if err != nil {
			cleanup()
			return nil, cleanup, fmt.Errorf("app: create signer: %w: %w", ErrCredentials, err)
		}
		deps.Signer = signer
		if wallet == "" {
			wallet = signer.Address().Hex()
		}

		exClient := exchange.NewClient(cfg.Polymarket.ClobHost, signer, &crypto.HMACAuth{})
		if err := exClient.DeriveAPIKey(ctx); err != nil {
			cleanup()
			return nil, cleanup, fmt.Errorf("app: derive exchange api key: %w: %w", ErrCredentials, err)
		}
		deps.ExchangeClient = exClient
	}
	if wallet == "" {
		wallet = "paper"
	}

	deps.GammaClient = exchange.NewGammaClient(cfg.Polymarket.GammaHost)

	deps.MarketService = service.NewMarketService(deps.MarketStore, deps.MarketCache, deps.SignalBus, logger)
	deps.PositionService = service.NewPositionService(deps.PositionStore, deps.PriceCache, deps.SignalBus, logger)
	deps.PriceService = service.NewPriceService(deps.PriceCache, deps.BookCache, deps.SignalBus, logger)
	deps.SettlementService = service.NewSettlementService(deps.PositionStore, deps.MarketStore, deps.StrategyStateStore, deps.LockManager, deps.SignalBus, logger)
	deps.TradeService = service.NewTradeService(deps.TradeStore, deps.SignalBus, logger)
	deps.StateManager = service.NewStateManager(
		deps.PositionStore,
		deps.PriceCache,
		deps.PositionService,
		deps.LegStore,
		deps.StrategyStateStore,
		deps.CooldownStore,
		deps.SpreadStore,
		deps.LockManager,
		service.StateManagerConfig{
			MaxPositions:    cfg.Risk.MaxPositions,
			MaxTradeAmount:  cfg.Sizing.MaxSizeUSD,
			MaxSlippageBps:  float64(cfg.Execution.MarketSlippageBps),
			MaxExposure:     cfg.Risk.MaxTotalExposureUSD,
			StartingCapital: cfg.Risk.MaxTotalExposureUSD,
			MaxDrawdownBps:  int64(cfg.Risk.MaxDrawdownPct * 100),
		}, logger)

	tokenIDs := collectTokenIDs(cfg)

	deps.Router = router.New(deps.MarketCache, logger)
	deps.Feed = feed.NewExchangeWSFeed(cfg.Polymarket.WsHost, tokenIDs, deps.Router, deps.SignalBus, logger)

	books := feedBookSource{feed: deps.Feed}

	var placer executor.OrderPlacer
	if strings.EqualFold(mode, "live") {
		orderSvc := service.NewOrderService(deps.OrderStore, deps.RateLimiter, deps.SignalBus, deps.Signer, logger)
		if deps.ExchangeClient != nil {
			orderSvc = orderSvc.WithClobClient(deps.ExchangeClient)
		}
		placer = orderSvc
	} else {
		placer = service.NewPaperPlacer(deps.BookCache, deps.OrderStore, deps.SignalBus, service.PaperConfig{
			FeeBps:        float64(cfg.Risk.MaxFeeRateBps) / 2,
			SlippageBps:   float64(cfg.Execution.MarketSlippageBps),
			LatencyMeanMs: 150,
			LatencyP95Ms:  400,
			Seed:          1,
		}, logger)
	}

	var feeSource executor.FeeRateSource
	if deps.ExchangeClient != nil {
		feeSource = deps.ExchangeClient
	}

	gates := executor.Gates(
		books,
		feeSource,
		deps.PositionStore,
		deps.OrderStore,
		deps.StateManager,
		deps.CooldownStore,
		executor.GateConfig{
			MaxPriceDeviationBps: cfg.Risk.MaxPriceDeviationBps,
			MaxSpreadBps:         cfg.Risk.MaxSpreadBps,
			MaxFeeRateBps:        cfg.Risk.MaxFeeRateBps,
			MinOrderGap:          time.Duration(cfg.Risk.MinOrderGapSeconds) * time.Second,
		},
		wallet,
	)
	pricer := executor.NewPricer(books, cfg.Execution.MarketSlippageBps)

	deps.Executor = executor.NewExecutor(
		deps.ActionCh,
		gates,
		pricer,
		placer,
		deps.DecisionStore,
		deps.CooldownStore,
		deps.StateManager,
		wallet,
		cfg.Execution.MaxLegGapMs,
		time.Duration(cfg.Risk.PostTradeCooldownMinutes)*time.Minute,
		logger,
	)
	deps.Executor.OnDecision(notifyOnDecision(deps.Notifier, logger))

	deps.Registry = strategy.NewRegistry()
	registerStrategies(deps.Registry, cfg, deps, logger)
	deps.Engine = strategy.NewEngine(deps.Registry, deps.Router, deps.ActionCh, logger)
	deps.StateManager.SetNotifier(deps.Engine)
	deps.SettlementService.SetNotifier(deps.Engine)

	var active []string
	for name, sc := range cfg.Strategies {
		if sc.Enabled {
			active = append(active, name)
		}
	}
	if len(active) > 0 {
		if err := deps.Engine.SetActiveNames(active); err != nil {
			logger.Warn("app: failed to activate configured strategies", slog.String("error", err.Error()))
		}
	}

	return deps, cleanup, nil
}

// notifyOnDecision adapts a domain.TradeDecision into the title/message
// shape notify.Notifier expects, and is attached to the executor so every
// finalized decision produces an alert on the configured channels.
func notifyOnDecision(n *notify.Notifier, logger *slog.Logger) func(domain.TradeDecision) {
	return func(d domain.TradeDecision) {
		ctx := context.Background()
		switch d.Status {
		case domain.DecisionStatusExecuted:
			_ = n.Notify(ctx, "order_filled",
				fmt.Sprintf("%s executed on %s", d.Strategy, d.MarketID),
				fmt.Sprintf("token=%s order=%s", d.TokenID, d.OrderID),
			)
		case domain.DecisionStatusRejected:
			_ = n.Notify(ctx, "rejected",
				fmt.Sprintf("%s rejected on %s", d.Strategy, d.MarketID),
				fmt.Sprintf("gate=%s reason=%s", d.RejectedGate, d.RejectReason),
			)
		}
		if logger != nil {
			logger.Debug("decision finalized", slog.String("id", d.ID), slog.String("status", string(d.Status)))
		}
	}
}

// collectTokenIDs gathers every token ID named across all strategy
// instances so the Market Data Gateway subscribes to exactly what the
// active strategies need.
func collectTokenIDs(cfg *config.Config) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, sc := range cfg.Strategies {
		if !sc.Enabled {
			continue
		}
		for _, t := range sc.TokenIDs {
			if !seen[t] {
				seen[t] = true
				ids = append(ids, t)
			}
		}
	}
	return ids
}

// feedBookSource adapts feed.ExchangeWSFeed's per-token market.Book mirrors
// to the executor's BookSource interface, computing the mid price the
// gates and pricer both need but market.Book's own BestBidAsk does not
// return.
type feedBookSource struct {
	feed *feed.ExchangeWSFeed
}

func (f feedBookSource) BestBidAsk(_ context.Context, tokenID string) (bid, ask, mid float64, ok bool) {
	book := f.feed.Book(tokenID)
	if book == nil {
		return 0, 0, 0, false
	}
	bid, ask, ok = book.BestBidAsk()
	if !ok {
		return 0, 0, 0, false
	}
	mid, _ = book.MidPrice()
	return bid, ask, mid, true
}

// registerStrategies builds and registers every configured strategy
// instance. no_bias is intentionally never registered: its
// ReferenceQuoteProvider needs an external fair-value feed that has no
// implementation in this tree (see DESIGN.md).
func registerStrategies(reg *strategy.Registry, cfg *config.Config, deps *Dependencies, logger *slog.Logger) {
	tracker := strategy.NewPriceTracker(deps.PriceCache, 10*time.Minute)

	for name, sc := range cfg.Strategies {
		if !sc.Enabled {
			continue
		}
		strategyCfg := strategy.Config{
			Name:         name,
			MarketIDs:    sc.MarketIDs,
			TokenIDs:     sc.TokenIDs,
			SizeUSD:      sizingFor(cfg, sc),
			MaxPositions: sc.MaxPositions,
			TakeProfit:   sc.TakeProfit,
			StopLoss:     sc.StopLoss,
			Params:       sc.Params,
		}

		variant, ok := strategyKind(sc.Params)
		if !ok {
			variant = name
		}

		switch variant {
		case "scalp":
			reg.Register(name, strategy.NewScalp(strategyCfg, tracker, logger))
		case "favorite_hedge":
			reg.Register(name, strategy.NewFavoriteHedge(strategyCfg, tracker, deps.BookCache, logger))
		case "swing_rebalance":
			reg.Register(name, strategy.NewSwingRebalance(strategyCfg, tracker, logger))
		case "map_longshot":
			reg.Register(name, strategy.NewMapLongshot(strategyCfg, tracker, logger))
		case "book_imbalance":
			reg.Register(name, strategy.NewBookImbalance(strategyCfg, logger))
		case "longshot":
			reg.Register(name, strategy.NewLongshot(strategyCfg, deps.MarketStore, tracker, logger))
		case "mean_reversion":
			reg.Register(name, strategy.NewMeanReversion(strategyCfg, tracker, logger))
		default:
			logger.Warn("app: unknown strategy variant, skipping", slog.String("name", name), slog.String("variant", variant))
		}
	}
}

// strategyKind reads the "variant" param that selects which concrete
// Strategy implementation an instance uses; instances may otherwise be
// named after the variant directly (e.g. a "scalp" section with no
// "variant" param).
func strategyKind(params map[string]any) (string, bool) {
	v, ok := params["variant"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// sizingFor resolves the effective per-trade USD size for a strategy
// instance: its own size_usd if set, else the global sizing config's
// fixed amount.
func sizingFor(cfg *config.Config, sc config.StrategyInstanceConfig) float64 {
	if sc.SizeUSD > 0 {
		return sc.SizeUSD
	}
	return cfg.Sizing.FixedAmountUSD
}
