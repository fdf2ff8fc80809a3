package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

const (
	defaultLSMaxYesPrice     = 0.08
	defaultLSHaircut         = 0.75
	defaultLSMinPremium      = 0.20
	defaultLSMaxVelocity     = 0.0005 // price units per second; above this the longshot is actively moving, skip it
	defaultLSMinDaysToExp    = 1
	defaultLSMaxDaysToExp    = 120
	defaultLSRefreshMinutes  = 10
	defaultLSMaxWatch        = 500
	defaultLSSizePerPosition = 15.0
	defaultLSTTLSeconds      = 300
	defaultLSCooldownSec     = 60
)

type longshotWatch struct {
	conditionID string
	noTokenID   string
	closeTime   time.Time
}

// Longshot periodically scans the entire active catalog for deep
// longshot YES tokens (price below max_yes_price, close date within the
// configured window) and builds a watchlist, independent of any
// statically configured MarketIDs/TokenIDs. It then fades a watched
// token once its price implies more overpricing than min_premium and
// its 1-minute velocity shows it isn't in the middle of an active move
// (a real move toward resolution is not the bias this strategy targets).
//
// This is the catalog-wide counterpart to map_longshot, which only
// evaluates a fixed, pre-configured set of markets.
type Longshot struct {
	cfg     Config
	markets domain.MarketStore
	tracker *PriceTracker
	logger  *slog.Logger

	mu          sync.Mutex
	watch       map[string]longshotWatch // YES tokenID -> watch entry
	lastRefresh time.Time
	lastEmit    map[string]time.Time // YES tokenID -> last signal
}

// NewLongshot creates a Longshot strategy. markets is used to discover
// the catalog-wide watchlist; it may be nil, in which case the strategy
// never builds a watchlist and stays dormant. Params:
//
//   - "max_yes_price" (float64): upper bound on YES price to watch. Defaults to 0.08.
//   - "fair_value_haircut" (float64): assumed fair value as a fraction of price. Defaults to 0.75.
//   - "min_premium" (float64): minimum fractional overpricing to act on. Defaults to 0.20.
//   - "max_velocity" (float64): maximum |price/sec| to still consider dormant. Defaults to 0.0005.
//   - "min_days_to_exp" / "max_days_to_exp" (number): watch window. Defaults 1/120.
//   - "refresh_minutes" (number): catalog rescan interval. Defaults to 10.
//   - "max_watch" (number): cap on watchlist size. Defaults to 500.
//   - "size_per_position" (float64): USD notional per trade. Defaults to 15.0.
//   - "ttl_seconds" (number): action expiry. Defaults to 300.
//   - "cooldown_sec" (number): minimum gap between signals for the same token. Defaults to 60.
func NewLongshot(cfg Config, markets domain.MarketStore, tracker *PriceTracker, logger *slog.Logger) *Longshot {
	return &Longshot{
		cfg:      cfg,
		markets:  markets,
		tracker:  tracker,
		logger:   logger.With(slog.String("strategy", "longshot")),
		watch:    make(map[string]longshotWatch),
		lastEmit: make(map[string]time.Time),
	}
}

func (l *Longshot) Name() string { return "longshot" }

func (l *Longshot) Caps() Capabilities {
	return Capabilities{
		Kinds: []domain.TickKind{domain.TickKindBook, domain.TickKindPriceChange, domain.TickKindTrade},
		// MarketIDs/TokenIDs left empty: this strategy discovers its own
		// scope from the catalog rather than a static configuration.
	}
}

func (l *Longshot) Init(ctx context.Context) error {
	return l.refreshWatchlist(ctx, time.Now().UTC())
}

func (l *Longshot) OnTick(ctx context.Context, tick domain.Tick) ([]domain.Action, error) {
	switch tick.Kind {
	case domain.TickKindTrade:
		if tick.Trade != nil {
			l.tracker.Track(tick.TokenID, tick.Trade.Price, tick.Trade.Timestamp)
		}
		return nil, nil
	case domain.TickKindPriceChange:
		if tick.Change != nil {
			l.tracker.Track(tick.TokenID, tick.Change.Price, tick.Change.Timestamp)
		}
		return nil, nil
	}
	if tick.Book == nil {
		return nil, nil
	}

	now := tick.Book.Timestamp
	if l.markets != nil && now.Sub(l.lastRefresh) > time.Duration(l.refreshMinutes())*time.Minute {
		_ = l.refreshWatchlist(ctx, now)
	}

	l.mu.Lock()
	w, watched := l.watch[tick.TokenID]
	l.mu.Unlock()
	if !watched {
		return nil, nil
	}

	yesPrice := tick.Book.MidPrice
	if yesPrice <= 0 {
		yesPrice = bestBid(*tick.Book)
	}
	if yesPrice <= 0 || yesPrice > l.maxYesPrice() {
		return nil, nil
	}

	if abs(tick.Velocity1m) > l.maxVelocity() {
		return nil, nil
	}

	if l.recentlyEmitted(tick.TokenID, now) {
		return nil, nil
	}

	fairValue := yesPrice * l.fairValueHaircut()
	premium := (yesPrice - fairValue) / yesPrice
	if premium < l.minPremium() {
		return nil, nil
	}

	l.markEmitted(tick.TokenID, now)
	noAsk := 1.0 - yesPrice
	a := domain.Action{
		ID:           fmt.Sprintf("ls-%s-%d", w.conditionID, now.UnixNano()),
		Strategy:     l.Name(),
		MarketID:     w.conditionID,
		TokenID:      w.noTokenID,
		Side:         domain.OrderSideBuy,
		Kind:         domain.OrderKindLimit,
		PriceTicks:   int64(noAsk * 1e6),
		SizeUSDTicks: int64(l.sizePerPosition() * 1e6),
		Urgency:      domain.ActionUrgencyLow,
		Reason:       fmt.Sprintf("longshot fade: yes=%.4f fair=%.4f premium=%.2f%% velocity=%.6f", yesPrice, fairValue, premium*100, tick.Velocity1m),
		Metadata: map[string]string{
			"fair_value": fmt.Sprintf("%.6f", fairValue),
			"premium":    fmt.Sprintf("%.4f", premium),
			"velocity":   fmt.Sprintf("%.6f", tick.Velocity1m),
		},
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Duration(l.ttlSeconds()) * time.Second),
		SourceTickSeq:  tick.Seq,
		SignalMidTicks: int64(yesPrice * 1e6),
	}
	l.logger.Info("longshot watchlist fade emitted",
		slog.String("market", w.conditionID),
		slog.Float64("yes_price", yesPrice),
		slog.Float64("premium", premium),
	)
	return []domain.Action{a}, nil
}

func (l *Longshot) OnPositionUpdate(_ context.Context, _ domain.Position) error { return nil }

func (l *Longshot) Close() error { return nil }

func (l *Longshot) refreshWatchlist(ctx context.Context, now time.Time) error {
	if l.markets == nil {
		return nil
	}
	active, err := l.markets.ListActive(ctx, domain.ListOpts{Limit: 2000})
	if err != nil {
		l.logger.Warn("longshot: list active markets failed", slog.String("error", err.Error()))
		return err
	}

	minDays := float64(l.minDaysToExp())
	maxDays := float64(l.maxDaysToExp())
	maxWatch := l.maxWatch()

	watch := make(map[string]longshotWatch, maxWatch)
	for _, m := range active {
		if m.YesTokenID == "" || m.NoTokenID == "" || m.CloseTime.IsZero() {
			continue
		}
		daysToExp := m.CloseTime.Sub(now).Hours() / 24
		if daysToExp < minDays || daysToExp > maxDays {
			continue
		}
		watch[m.YesTokenID] = longshotWatch{
			conditionID: m.ConditionID,
			noTokenID:   m.NoTokenID,
			closeTime:   m.CloseTime,
		}
		if len(watch) >= maxWatch {
			break
		}
	}

	l.mu.Lock()
	l.watch = watch
	l.lastRefresh = now
	l.mu.Unlock()

	l.logger.Debug("longshot watchlist refreshed", slog.Int("count", len(watch)))
	return nil
}

func (l *Longshot) recentlyEmitted(tokenID string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	last, ok := l.lastEmit[tokenID]
	if !ok {
		return false
	}
	return now.Sub(last) < time.Duration(l.cooldownSec())*time.Second
}

func (l *Longshot) markEmitted(tokenID string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastEmit[tokenID] = now
}

func (l *Longshot) maxYesPrice() float64     { return floatParam(l.cfg.Params, "max_yes_price", defaultLSMaxYesPrice) }
func (l *Longshot) fairValueHaircut() float64 {
	return floatParam(l.cfg.Params, "fair_value_haircut", defaultLSHaircut)
}
func (l *Longshot) minPremium() float64 { return floatParam(l.cfg.Params, "min_premium", defaultLSMinPremium) }
func (l *Longshot) maxVelocity() float64 {
	return floatParam(l.cfg.Params, "max_velocity", defaultLSMaxVelocity)
}
func (l *Longshot) minDaysToExp() int { return numberParam(l.cfg.Params, "min_days_to_exp", defaultLSMinDaysToExp) }
func (l *Longshot) maxDaysToExp() int { return numberParam(l.cfg.Params, "max_days_to_exp", defaultLSMaxDaysToExp) }
func (l *Longshot) refreshMinutes() int {
	return numberParam(l.cfg.Params, "refresh_minutes", defaultLSRefreshMinutes)
}
func (l *Longshot) maxWatch() int { return numberParam(l.cfg.Params, "max_watch", defaultLSMaxWatch) }
func (l *Longshot) sizePerPosition() float64 {
	return floatParam(l.cfg.Params, "size_per_position", defaultLSSizePerPosition)
}
func (l *Longshot) ttlSeconds() int  { return numberParam(l.cfg.Params, "ttl_seconds", defaultLSTTLSeconds) }
func (l *Longshot) cooldownSec() int { return numberParam(l.cfg.Params, "cooldown_sec", defaultLSCooldownSec) }

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
