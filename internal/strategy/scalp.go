package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

const (
	defaultScalpDropThreshold  = 0.10
	defaultScalpRecoveryTarget = 0.05
)

// Scalp buys when the best bid drops sharply relative to its recent
// average, on the expectation that a transient liquidity dislocation
// reverts quickly, and sets a short-lived limit target partway back to
// the average.
type Scalp struct {
	cfg     Config
	tracker *PriceTracker
	logger  *slog.Logger
}

// NewScalp creates a Scalp strategy. Params:
//
//   - "drop_threshold" (float64): minimum fractional drop to trigger.
//     Defaults to 0.10 (10%).
//   - "recovery_target" (float64): fraction of the distance back to the
//     average used as the limit price. Defaults to 0.05 (5%).
func NewScalp(cfg Config, tracker *PriceTracker, logger *slog.Logger) *Scalp {
	return &Scalp{
		cfg:     cfg,
		tracker: tracker,
		logger:  logger.With(slog.String("strategy", "scalp")),
	}
}

func (s *Scalp) Name() string { return "scalp" }

func (s *Scalp) Caps() Capabilities {
	return Capabilities{
		Kinds:     []domain.TickKind{domain.TickKindBook, domain.TickKindPriceChange, domain.TickKindTrade},
		MarketIDs: s.cfg.MarketIDs,
		TokenIDs:  s.cfg.TokenIDs,
	}
}

func (s *Scalp) Init(_ context.Context) error { return nil }

func (s *Scalp) OnTick(ctx context.Context, tick domain.Tick) ([]domain.Action, error) {
	switch tick.Kind {
	case domain.TickKindTrade:
		if tick.Trade != nil {
			s.tracker.Track(tick.TokenID, tick.Trade.Price, tick.Trade.Timestamp)
		}
		return nil, nil
	case domain.TickKindPriceChange:
		if tick.Change != nil {
			s.tracker.Track(tick.TokenID, tick.Change.Price, tick.Change.Timestamp)
		}
		return nil, nil
	}
	if tick.Book == nil {
		return nil, nil
	}

	bestBid := tick.Book.BestBid
	s.tracker.Track(tick.TokenID, bestBid, tick.Book.Timestamp)

	threshold := s.dropThreshold()
	if !s.tracker.DetectFlashCrash(tick.TokenID, threshold) {
		return nil, nil
	}

	avg := s.tracker.GetAverage(tick.TokenID)
	recovery := s.recoveryTarget()
	targetPrice := bestBid + (avg-bestBid)*recovery

	now := time.Now().UTC()
	a := domain.Action{
		ID:           fmt.Sprintf("scalp-%s-%d", tick.TokenID, now.UnixNano()),
		Strategy:     s.Name(),
		MarketID:     tick.Market.ConditionID,
		TokenID:      tick.TokenID,
		Side:         domain.OrderSideBuy,
		Kind:         domain.OrderKindLimit,
		PriceTicks:   int64(targetPrice * 1e6),
		SizeUSDTicks: int64(s.cfg.SizeUSD * 1e6),
		Urgency:      domain.ActionUrgencyHigh,
		Reason:       fmt.Sprintf("flash crash detected: bid=%.6f avg=%.6f drop=%.2f%%", bestBid, avg, threshold*100),
		Metadata: map[string]string{
			"avg_price":       fmt.Sprintf("%.6f", avg),
			"drop_threshold":  fmt.Sprintf("%.4f", threshold),
			"recovery_target": fmt.Sprintf("%.4f", recovery),
		},
		CreatedAt:      now,
		ExpiresAt:      now.Add(30 * time.Second),
		SourceTickSeq:  tick.Seq,
		SignalMidTicks: int64(tick.MidPrice * 1e6),
	}

	s.logger.Info("scalp signal emitted",
		slog.String("token", tick.TokenID),
		slog.Float64("best_bid", bestBid),
		slog.Float64("avg", avg),
		slog.Float64("target_price", targetPrice),
	)
	return []domain.Action{a}, nil
}

func (s *Scalp) OnPositionUpdate(_ context.Context, _ domain.Position) error { return nil }

func (s *Scalp) Close() error { return nil }

func (s *Scalp) dropThreshold() float64 {
	if v, ok := s.cfg.Params["drop_threshold"]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return defaultScalpDropThreshold
}

func (s *Scalp) recoveryTarget() float64 {
	if v, ok := s.cfg.Params["recovery_target"]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return defaultScalpRecoveryTarget
}
