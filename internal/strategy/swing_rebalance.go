package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

const (
	defaultSwingThresholdBps = 50
	defaultSwingSizePerLeg   = 5.0
	defaultSwingTTLSeconds   = 30
	defaultSwingMaxStaleSec  = 5
	defaultSwingCooldownSec  = 5
)

// basketPriceState tracks the latest mid price seen for every token in a
// configured basket, used to detect when one token has swung away from
// the basket's average relative to the others.
type basketPriceState struct {
	lastPrice  map[string]float64
	lastUpdate map[string]time.Time
}

// SwingRebalance watches a configured basket of tokens and, once every
// member has a fresh price, looks for the pair with the widest spread
// between their swing since last rebalance and the basket average
// swing. When that spread clears swing_threshold_bps it sells the
// token that swung up the most and buys the one that swung down the
// most, nudging the basket back toward balance.
type SwingRebalance struct {
	cfg     Config
	tracker *PriceTracker
	logger  *slog.Logger

	mu       sync.Mutex
	state    basketPriceState
	basis    map[string]float64 // token -> price at last rebalance, the swing reference point
	lastEmit time.Time
}

// NewSwingRebalance creates a SwingRebalance strategy over the tokens in
// cfg.TokenIDs. Params:
//
//   - "swing_threshold_bps" (number): minimum basis-point gap between the
//     two most divergent tokens' swings to trigger a rebalance. Defaults to 50.
//   - "size_per_leg" (number): USD notional per leg. Defaults to 5.0.
//   - "ttl_seconds" (number): action expiry. Defaults to 30.
//   - "max_stale_sec" (number): maximum age tolerated for any basket member's price. Defaults to 5.
//   - "cooldown_sec" (number): minimum gap between rebalances. Defaults to 5.
func NewSwingRebalance(cfg Config, tracker *PriceTracker, logger *slog.Logger) *SwingRebalance {
	return &SwingRebalance{
		cfg:     cfg,
		tracker: tracker,
		logger:  logger.With(slog.String("strategy", "swing_rebalance")),
		state: basketPriceState{
			lastPrice:  make(map[string]float64),
			lastUpdate: make(map[string]time.Time),
		},
		basis: make(map[string]float64),
	}
}

func (r *SwingRebalance) Name() string { return "swing_rebalance" }

func (r *SwingRebalance) Caps() Capabilities {
	return Capabilities{
		Kinds:     []domain.TickKind{domain.TickKindBook, domain.TickKindPriceChange, domain.TickKindTrade},
		MarketIDs: r.cfg.MarketIDs,
		TokenIDs:  r.cfg.TokenIDs,
	}
}

func (r *SwingRebalance) Init(_ context.Context) error { return nil }

func (r *SwingRebalance) OnTick(_ context.Context, tick domain.Tick) ([]domain.Action, error) {
	switch tick.Kind {
	case domain.TickKindTrade:
		if tick.Trade != nil {
			r.tracker.Track(tick.TokenID, tick.Trade.Price, tick.Trade.Timestamp)
		}
		return nil, nil
	case domain.TickKindPriceChange:
		if tick.Change != nil {
			r.tracker.Track(tick.TokenID, tick.Change.Price, tick.Change.Timestamp)
		}
		return nil, nil
	}
	if tick.Book == nil {
		return nil, nil
	}

	mid := tick.Book.MidPrice
	if mid <= 0 {
		mid = bestBid(*tick.Book)
	}
	now := tick.Book.Timestamp
	r.tracker.Track(tick.TokenID, mid, now)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.lastPrice[tick.TokenID] = mid
	r.state.lastUpdate[tick.TokenID] = now
	if _, ok := r.basis[tick.TokenID]; !ok {
		r.basis[tick.TokenID] = mid
	}

	return r.checkBasketLocked(tick, now)
}

// checkBasketLocked must be called with r.mu held.
func (r *SwingRebalance) checkBasketLocked(tick domain.Tick, now time.Time) ([]domain.Action, error) {
	basket := r.cfg.TokenIDs
	if len(basket) < 2 {
		return nil, nil
	}
	maxStale := time.Duration(r.maxStaleSec()) * time.Second

	type swing struct {
		tokenID string
		price   float64
		pct     float64
	}
	swings := make([]swing, 0, len(basket))
	var sumPct float64
	for _, tok := range basket {
		ts, ok := r.state.lastUpdate[tok]
		if !ok || now.Sub(ts) > maxStale {
			return nil, nil
		}
		price := r.state.lastPrice[tok]
		basis := r.basis[tok]
		if basis <= 0 {
			return nil, nil
		}
		pct := (price - basis) / basis
		swings = append(swings, swing{tokenID: tok, price: price, pct: pct})
		sumPct += pct
	}
	avgPct := sumPct / float64(len(swings))

	var top, bottom swing
	topSet, bottomSet := false, false
	for _, s := range swings {
		rel := s.pct - avgPct
		if !topSet || rel > top.pct-avgPct {
			top = s
			topSet = true
		}
		if !bottomSet || rel < bottom.pct-avgPct {
			bottom = s
			bottomSet = true
		}
	}
	if !topSet || !bottomSet || top.tokenID == bottom.tokenID {
		return nil, nil
	}

	gap := (top.pct - avgPct) - (bottom.pct - avgPct)
	threshold := float64(r.swingThresholdBps()) / 10_000
	if gap < threshold {
		return nil, nil
	}
	if now.Sub(r.lastEmit) < time.Duration(r.cooldownSec())*time.Second {
		return nil, nil
	}

	sizePerLeg := r.sizePerLeg()
	ttl := time.Duration(r.ttlSeconds()) * time.Second
	spreadID := uuid.New().String()
	reason := fmt.Sprintf("swing_rebalance gap=%.2f%% avg=%.4f", gap*100, avgPct)

	actions := []domain.Action{
		{
			ID:           fmt.Sprintf("sw-sell-%s-%d", top.tokenID, now.UnixNano()),
			Strategy:     r.Name(),
			MarketID:     tick.Market.ConditionID,
			TokenID:      top.tokenID,
			Side:         domain.OrderSideSell,
			Kind:         domain.OrderKindLimit,
			PriceTicks:   int64(top.price * 1e6),
			SizeUSDTicks: int64(sizePerLeg * 1e6),
			Urgency:      domain.ActionUrgencyMedium,
			Reason:       reason,
			Metadata: map[string]string{
				"spread_id":  spreadID,
				"leg_count":  "2",
				"leg_policy": string(domain.LegPolicyBestEffort),
			},
			CreatedAt:      now,
			ExpiresAt:      now.Add(ttl),
			SourceTickSeq:  tick.Seq,
			SignalMidTicks: int64(top.price * 1e6),
		},
		{
			ID:           fmt.Sprintf("sw-buy-%s-%d", bottom.tokenID, now.UnixNano()),
			Strategy:     r.Name(),
			MarketID:     tick.Market.ConditionID,
			TokenID:      bottom.tokenID,
			Side:         domain.OrderSideBuy,
			Kind:         domain.OrderKindLimit,
			PriceTicks:   int64(bottom.price * 1e6),
			SizeUSDTicks: int64(sizePerLeg * 1e6),
			Urgency:      domain.ActionUrgencyMedium,
			Reason:       reason,
			Metadata: map[string]string{
				"spread_id":  spreadID,
				"leg_count":  "2",
				"leg_policy": string(domain.LegPolicyBestEffort),
			},
			CreatedAt:      now,
			ExpiresAt:      now.Add(ttl),
			SourceTickSeq:  tick.Seq,
			SignalMidTicks: int64(bottom.price * 1e6),
		},
	}

	r.lastEmit = now
	r.basis[top.tokenID] = top.price
	r.basis[bottom.tokenID] = bottom.price

	r.logger.Info("swing rebalance emitted",
		slog.String("sell_token", top.tokenID),
		slog.String("buy_token", bottom.tokenID),
		slog.Float64("gap", gap),
	)
	return actions, nil
}

func (r *SwingRebalance) OnPositionUpdate(_ context.Context, _ domain.Position) error { return nil }

func (r *SwingRebalance) Close() error { return nil }

func (r *SwingRebalance) swingThresholdBps() int {
	return numberParam(r.cfg.Params, "swing_threshold_bps", defaultSwingThresholdBps)
}

func (r *SwingRebalance) sizePerLeg() float64 {
	return floatParam(r.cfg.Params, "size_per_leg", defaultSwingSizePerLeg)
}

func (r *SwingRebalance) ttlSeconds() int {
	return numberParam(r.cfg.Params, "ttl_seconds", defaultSwingTTLSeconds)
}

func (r *SwingRebalance) maxStaleSec() int {
	return numberParam(r.cfg.Params, "max_stale_sec", defaultSwingMaxStaleSec)
}

func (r *SwingRebalance) cooldownSec() int {
	return numberParam(r.cfg.Params, "cooldown_sec", defaultSwingCooldownSec)
}
