package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

const (
	defaultStdDevThreshold = 2.0
	defaultLookbackWindow  = "5m"
)

// MeanReversion buys when the current price is significantly below the
// recent mean and sells when it is significantly above, "significantly"
// measured in multiples of the trailing standard deviation
// (std_dev_threshold).
type MeanReversion struct {
	cfg     Config
	tracker *PriceTracker
	logger  *slog.Logger
}

// NewMeanReversion creates a MeanReversion strategy. Params:
//
//   - "lookback_window" (string, parseable by time.ParseDuration): the
//     PriceTracker window for mean/volatility. Defaults to "5m".
//   - "std_dev_threshold" (float64): sigma distance that triggers a
//     signal. Defaults to 2.0.
func NewMeanReversion(cfg Config, tracker *PriceTracker, logger *slog.Logger) *MeanReversion {
	return &MeanReversion{
		cfg:     cfg,
		tracker: tracker,
		logger:  logger.With(slog.String("strategy", "mean_reversion")),
	}
}

func (mr *MeanReversion) Name() string { return "mean_reversion" }

func (mr *MeanReversion) Caps() Capabilities {
	return Capabilities{
		Kinds:     []domain.TickKind{domain.TickKindBook, domain.TickKindPriceChange, domain.TickKindTrade},
		MarketIDs: mr.cfg.MarketIDs,
		TokenIDs:  mr.cfg.TokenIDs,
	}
}

func (mr *MeanReversion) Init(_ context.Context) error { return nil }

// OnTick tracks every tick's price observation and, on book ticks,
// evaluates whether the mid price deviates enough from the historical
// average to warrant a buy or sell action.
func (mr *MeanReversion) OnTick(ctx context.Context, tick domain.Tick) ([]domain.Action, error) {
	switch tick.Kind {
	case domain.TickKindTrade:
		if tick.Trade != nil {
			mr.tracker.Track(tick.TokenID, tick.Trade.Price, tick.Trade.Timestamp)
		}
		return nil, nil
	case domain.TickKindPriceChange:
		if tick.Change != nil {
			mr.tracker.Track(tick.TokenID, tick.Change.Price, tick.Change.Timestamp)
		}
		return nil, nil
	}

	if tick.Book == nil {
		return nil, nil
	}
	mid := tick.Book.MidPrice
	mr.tracker.Track(tick.TokenID, mid, tick.Book.Timestamp)

	avg := mr.tracker.GetAverage(tick.TokenID)
	vol := mr.tracker.GetVolatility(tick.TokenID)
	if vol == 0 || avg == 0 {
		return nil, nil
	}

	threshold := mr.stdDevThreshold()
	deviation := (mid - avg) / vol
	now := time.Now().UTC()
	sizeUSDTicks := int64(mr.cfg.SizeUSD * 1e6)
	priceTicks := int64(mid * 1e6)

	if deviation <= -threshold {
		a := domain.Action{
			ID:           fmt.Sprintf("mr-buy-%s-%d", tick.TokenID, now.UnixNano()),
			Strategy:     mr.Name(),
			MarketID:     tick.Market.ConditionID,
			TokenID:      tick.TokenID,
			Side:         domain.OrderSideBuy,
			Kind:         domain.OrderKindLimit,
			PriceTicks:   priceTicks,
			SizeUSDTicks: sizeUSDTicks,
			Urgency:      domain.ActionUrgencyMedium,
			Reason:       fmt.Sprintf("mean reversion buy: mid=%.6f avg=%.6f dev=%.2f sigma", mid, avg, deviation),
			Metadata: map[string]string{
				"avg":       fmt.Sprintf("%.6f", avg),
				"vol":       fmt.Sprintf("%.6f", vol),
				"deviation": fmt.Sprintf("%.4f", deviation),
				"threshold": fmt.Sprintf("%.4f", threshold),
			},
			CreatedAt:      now,
			ExpiresAt:      now.Add(60 * time.Second),
			SourceTickSeq:  tick.Seq,
			SignalMidTicks: priceTicks,
		}
		mr.logger.Info("mean reversion BUY", slog.String("token", tick.TokenID), slog.Float64("mid", mid), slog.Float64("deviation", deviation))
		return []domain.Action{a}, nil
	}

	if deviation >= threshold {
		a := domain.Action{
			ID:           fmt.Sprintf("mr-sell-%s-%d", tick.TokenID, now.UnixNano()),
			Strategy:     mr.Name(),
			MarketID:     tick.Market.ConditionID,
			TokenID:      tick.TokenID,
			Side:         domain.OrderSideSell,
			Kind:         domain.OrderKindLimit,
			PriceTicks:   priceTicks,
			SizeUSDTicks: sizeUSDTicks,
			Urgency:      domain.ActionUrgencyMedium,
			Reason:       fmt.Sprintf("mean reversion sell: mid=%.6f avg=%.6f dev=%.2f sigma", mid, avg, deviation),
			Metadata: map[string]string{
				"avg":       fmt.Sprintf("%.6f", avg),
				"vol":       fmt.Sprintf("%.6f", vol),
				"deviation": fmt.Sprintf("%.4f", deviation),
				"threshold": fmt.Sprintf("%.4f", threshold),
			},
			CreatedAt:      now,
			ExpiresAt:      now.Add(60 * time.Second),
			SourceTickSeq:  tick.Seq,
			SignalMidTicks: priceTicks,
		}
		mr.logger.Info("mean reversion SELL", slog.String("token", tick.TokenID), slog.Float64("mid", mid), slog.Float64("deviation", deviation))
		return []domain.Action{a}, nil
	}

	return nil, nil
}

func (mr *MeanReversion) OnPositionUpdate(_ context.Context, _ domain.Position) error { return nil }

func (mr *MeanReversion) Close() error { return nil }

func (mr *MeanReversion) stdDevThreshold() float64 {
	if v, ok := mr.cfg.Params["std_dev_threshold"]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return defaultStdDevThreshold
}

// LookbackWindow returns the configured lookback duration, falling back
// to 5 minutes, used by callers constructing this strategy's PriceTracker.
func (mr *MeanReversion) LookbackWindow() time.Duration {
	if v, ok := mr.cfg.Params["lookback_window"]; ok {
		if s, ok := v.(string); ok {
			if d, err := time.ParseDuration(s); err == nil {
				return d
			}
		}
	}
	d, _ := time.ParseDuration(defaultLookbackWindow)
	return d
}
