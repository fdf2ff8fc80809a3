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
	defaultNoBiasMinEdgeBps  = 60
	defaultNoBiasSizePerLeg  = 5.0
	defaultNoBiasTTLSeconds  = 30
	defaultNoBiasRefreshSec  = 5
	defaultNoBiasCooldownSec = 3
)

// ReferenceQuoteProvider supplies a debiased fair-value probability for
// the YES side of a market, independent of the exchange's own order
// book (e.g. a model, an external data feed, or a slower-moving
// consensus estimate). NoBias trades toward this reference whenever
// the live book has drifted away from it by more than its edge
// threshold, on the premise that order-book pricing is systematically
// biased relative to the reference (favorite-longshot bias being the
// textbook example) while the reference is not.
type ReferenceQuoteProvider interface {
	GetFairYesPrice(ctx context.Context, conditionID string) (float64, error)
}

type fairQuote struct {
	yesPrice float64
	at       time.Time
}

// NoBias compares the live order book against an external reference
// and trades the divergence.
type NoBias struct {
	cfg     Config
	tracker *PriceTracker
	source  ReferenceQuoteProvider
	logger  *slog.Logger

	mu       sync.Mutex
	quotes   map[string]fairQuote // conditionID -> cached reference
	lastEmit map[string]time.Time // conditionID -> last signal
}

// NewNoBias creates a NoBias strategy. source may be nil, in which case
// the strategy never emits (no reference to compare against). Params:
//
//   - "min_edge_bps" (number): minimum probability-point gap to act on. Defaults to 60.
//   - "size_per_leg" (float64): USD notional per trade. Defaults to 5.0.
//   - "ttl_seconds" (number): action expiry. Defaults to 30.
//   - "refresh_sec" (number): how long a cached reference quote is reused. Defaults to 5.
//   - "cooldown_sec" (number): minimum gap between signals for the same market. Defaults to 3.
func NewNoBias(cfg Config, tracker *PriceTracker, source ReferenceQuoteProvider, logger *slog.Logger) *NoBias {
	return &NoBias{
		cfg:      cfg,
		tracker:  tracker,
		source:   source,
		logger:   logger.With(slog.String("strategy", "no_bias")),
		quotes:   make(map[string]fairQuote),
		lastEmit: make(map[string]time.Time),
	}
}

func (n *NoBias) Name() string { return "no_bias" }

func (n *NoBias) Caps() Capabilities {
	return Capabilities{
		Kinds:     []domain.TickKind{domain.TickKindBook, domain.TickKindPriceChange, domain.TickKindTrade},
		MarketIDs: n.cfg.MarketIDs,
		TokenIDs:  n.cfg.TokenIDs,
	}
}

func (n *NoBias) Init(_ context.Context) error { return nil }

func (n *NoBias) OnTick(ctx context.Context, tick domain.Tick) ([]domain.Action, error) {
	switch tick.Kind {
	case domain.TickKindTrade:
		if tick.Trade != nil {
			n.tracker.Track(tick.TokenID, tick.Trade.Price, tick.Trade.Timestamp)
		}
		return nil, nil
	case domain.TickKindPriceChange:
		if tick.Change != nil {
			n.tracker.Track(tick.TokenID, tick.Change.Price, tick.Change.Timestamp)
		}
		return nil, nil
	}
	if tick.Book == nil || n.source == nil {
		return nil, nil
	}

	mkt := tick.Market
	side, ok := mkt.SideForToken(tick.TokenID)
	if !ok {
		return nil, nil
	}

	now := tick.Book.Timestamp
	if n.recentlyEmitted(mkt.ConditionID, now) {
		return nil, nil
	}

	fair, err := n.getFairQuote(ctx, mkt.ConditionID, now)
	if err != nil {
		return nil, nil
	}

	ask, bid := bestAsk(*tick.Book), bestBid(*tick.Book)
	var impliedYesAsk, impliedYesBid float64
	if side == domain.TokenYes {
		impliedYesAsk, impliedYesBid = ask, bid
	} else {
		if bid > 0 {
			impliedYesAsk = 1 - bid
		}
		if ask > 0 {
			impliedYesBid = 1 - ask
		}
	}

	minEdge := float64(n.minEdgeBps()) / 10_000
	sizePerLeg := n.sizePerLeg()
	ttl := time.Duration(n.ttlSeconds()) * time.Second

	if impliedYesAsk > 0 && fair.yesPrice-impliedYesAsk > minEdge && ask > 0 {
		n.markEmitted(mkt.ConditionID, now)
		a := domain.Action{
			ID:           fmt.Sprintf("nb-buy-%s-%d", tick.TokenID, now.UnixNano()),
			Strategy:     n.Name(),
			MarketID:     mkt.ConditionID,
			TokenID:      tick.TokenID,
			Side:         domain.OrderSideBuy,
			Kind:         domain.OrderKindLimit,
			PriceTicks:   int64(ask * 1e6),
			SizeUSDTicks: int64(sizePerLeg * 1e6),
			Urgency:      domain.ActionUrgencyHigh,
			Reason:       fmt.Sprintf("no_bias buy: fair_yes=%.4f implied_ask=%.4f edge_bps=%.1f", fair.yesPrice, impliedYesAsk, (fair.yesPrice-impliedYesAsk)*10_000),
			Metadata: map[string]string{
				"fair_yes_price": fmt.Sprintf("%.6f", fair.yesPrice),
			},
			CreatedAt:      now,
			ExpiresAt:      now.Add(ttl),
			SourceTickSeq:  tick.Seq,
			SignalMidTicks: int64(tick.MidPrice * 1e6),
		}
		return []domain.Action{a}, nil
	}

	if impliedYesBid > 0 && impliedYesBid-fair.yesPrice > minEdge && bid > 0 {
		n.markEmitted(mkt.ConditionID, now)
		a := domain.Action{
			ID:           fmt.Sprintf("nb-sell-%s-%d", tick.TokenID, now.UnixNano()),
			Strategy:     n.Name(),
			MarketID:     mkt.ConditionID,
			TokenID:      tick.TokenID,
			Side:         domain.OrderSideSell,
			Kind:         domain.OrderKindLimit,
			PriceTicks:   int64(bid * 1e6),
			SizeUSDTicks: int64(sizePerLeg * 1e6),
			Urgency:      domain.ActionUrgencyHigh,
			Reason:       fmt.Sprintf("no_bias sell: fair_yes=%.4f implied_bid=%.4f edge_bps=%.1f", fair.yesPrice, impliedYesBid, (impliedYesBid-fair.yesPrice)*10_000),
			Metadata: map[string]string{
				"fair_yes_price": fmt.Sprintf("%.6f", fair.yesPrice),
			},
			CreatedAt:      now,
			ExpiresAt:      now.Add(ttl),
			SourceTickSeq:  tick.Seq,
			SignalMidTicks: int64(tick.MidPrice * 1e6),
		}
		return []domain.Action{a}, nil
	}

	return nil, nil
}

func (n *NoBias) OnPositionUpdate(_ context.Context, _ domain.Position) error { return nil }

func (n *NoBias) Close() error { return nil }

func (n *NoBias) getFairQuote(ctx context.Context, conditionID string, now time.Time) (fairQuote, error) {
	n.mu.Lock()
	cached, ok := n.quotes[conditionID]
	n.mu.Unlock()

	refreshTTL := time.Duration(n.refreshSec()) * time.Second
	if ok && now.Sub(cached.at) <= refreshTTL {
		return cached, nil
	}

	price, err := n.source.GetFairYesPrice(ctx, conditionID)
	if err != nil {
		return fairQuote{}, err
	}
	q := fairQuote{yesPrice: price, at: now}
	n.mu.Lock()
	n.quotes[conditionID] = q
	n.mu.Unlock()
	return q, nil
}

func (n *NoBias) recentlyEmitted(conditionID string, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	last, ok := n.lastEmit[conditionID]
	if !ok {
		return false
	}
	return now.Sub(last) < time.Duration(n.cooldownSec())*time.Second
}

func (n *NoBias) markEmitted(conditionID string, now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastEmit[conditionID] = now
}

func (n *NoBias) minEdgeBps() int {
	return numberParam(n.cfg.Params, "min_edge_bps", defaultNoBiasMinEdgeBps)
}

func (n *NoBias) sizePerLeg() float64 {
	return floatParam(n.cfg.Params, "size_per_leg", defaultNoBiasSizePerLeg)
}

func (n *NoBias) ttlSeconds() int {
	return numberParam(n.cfg.Params, "ttl_seconds", defaultNoBiasTTLSeconds)
}

func (n *NoBias) refreshSec() int {
	return numberParam(n.cfg.Params, "refresh_sec", defaultNoBiasRefreshSec)
}

func (n *NoBias) cooldownSec() int {
	return numberParam(n.cfg.Params, "cooldown_sec", defaultNoBiasCooldownSec)
}
