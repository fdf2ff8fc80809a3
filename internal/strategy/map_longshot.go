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
	defaultLongshotMaxYesPrice  = 0.10
	defaultLongshotHaircut      = 0.70 // fair value assumed to be this fraction of market price
	defaultLongshotMinPremium   = 0.15 // minimum (price-fair)/price to act on
	defaultLongshotMaxDaysToExp = 90
	defaultLongshotMinDaysToExp = 1
	defaultLongshotMaxPositions = 10
	defaultLongshotSizePerLeg   = 25.0
)

// MapLongshot fades the well-documented longshot bias: bettors
// systematically overpay for low-probability outcomes near market
// close. When a market's YES price sits in the deep-longshot range and
// implies a premium over an assumed fair value beyond min_premium, it
// buys the NO token and holds to resolution.
type MapLongshot struct {
	cfg     Config
	tracker *PriceTracker
	logger  *slog.Logger

	mu   sync.Mutex
	open int
}

// NewMapLongshot creates a MapLongshot strategy. Params:
//
//   - "max_yes_price" (float64): upper bound on the YES price to be considered a longshot. Defaults to 0.10.
//   - "fair_value_haircut" (float64): fraction of market price assumed fair. Defaults to 0.70.
//   - "min_premium" (float64): minimum fractional overpricing to act on. Defaults to 0.15.
//   - "max_days_to_exp" / "min_days_to_exp" (number): eligible window to close. Defaults 90/1.
//   - "max_positions" (number): cap on concurrently open longshot fades. Defaults to 10.
//   - "size_per_position" (float64): USD notional per trade. Defaults to 25.0.
func NewMapLongshot(cfg Config, tracker *PriceTracker, logger *slog.Logger) *MapLongshot {
	return &MapLongshot{
		cfg:     cfg,
		tracker: tracker,
		logger:  logger.With(slog.String("strategy", "map_longshot")),
	}
}

func (m *MapLongshot) Name() string { return "map_longshot" }

func (m *MapLongshot) Caps() Capabilities {
	return Capabilities{
		Kinds:     []domain.TickKind{domain.TickKindBook, domain.TickKindPriceChange, domain.TickKindTrade},
		MarketIDs: m.cfg.MarketIDs,
		TokenIDs:  m.cfg.TokenIDs,
	}
}

func (m *MapLongshot) Init(_ context.Context) error { return nil }

func (m *MapLongshot) OnTick(_ context.Context, tick domain.Tick) ([]domain.Action, error) {
	switch tick.Kind {
	case domain.TickKindTrade:
		if tick.Trade != nil {
			m.tracker.Track(tick.TokenID, tick.Trade.Price, tick.Trade.Timestamp)
		}
		return nil, nil
	case domain.TickKindPriceChange:
		if tick.Change != nil {
			m.tracker.Track(tick.TokenID, tick.Change.Price, tick.Change.Timestamp)
		}
		return nil, nil
	}
	if tick.Book == nil {
		return nil, nil
	}

	mkt := tick.Market
	side, ok := mkt.SideForToken(tick.TokenID)
	if !ok || side != domain.TokenYes {
		return nil, nil
	}

	yesPrice := tick.Book.MidPrice
	if yesPrice <= 0 {
		yesPrice = bestBid(*tick.Book)
	}
	if yesPrice <= 0 || yesPrice > m.maxYesPrice() {
		return nil, nil
	}

	if mkt.CloseTime.IsZero() {
		return nil, nil
	}
	daysToExp := mkt.CloseTime.Sub(tick.Book.Timestamp).Hours() / 24
	if daysToExp < float64(m.minDaysToExp()) || daysToExp > float64(m.maxDaysToExp()) {
		return nil, nil
	}

	fairValue := yesPrice * m.fairValueHaircut()
	premium := (yesPrice - fairValue) / yesPrice
	if premium < m.minPremium() {
		return nil, nil
	}

	m.mu.Lock()
	if m.open >= m.maxPositions() {
		m.mu.Unlock()
		return nil, nil
	}
	m.open++
	m.mu.Unlock()

	now := tick.Book.Timestamp
	noToken := mkt.NoTokenID
	noAsk := 1.0 - yesPrice
	a := domain.Action{
		ID:           fmt.Sprintf("longshot-%s-%d", mkt.ConditionID, now.UnixNano()),
		Strategy:     m.Name(),
		MarketID:     mkt.ConditionID,
		TokenID:      noToken,
		Side:         domain.OrderSideBuy,
		Kind:         domain.OrderKindLimit,
		PriceTicks:   int64(noAsk * 1e6),
		SizeUSDTicks: int64(m.sizePerPosition() * 1e6),
		Urgency:      domain.ActionUrgencyMedium,
		Reason:       fmt.Sprintf("longshot fade: yes=%.4f fair=%.4f premium=%.2f%% days=%.0f", yesPrice, fairValue, premium*100, daysToExp),
		Metadata: map[string]string{
			"fair_value": fmt.Sprintf("%.6f", fairValue),
			"premium":    fmt.Sprintf("%.4f", premium),
		},
		CreatedAt:      now,
		ExpiresAt:      now.Add(5 * time.Minute),
		SourceTickSeq:  tick.Seq,
		SignalMidTicks: int64(tick.MidPrice * 1e6),
	}
	m.logger.Info("longshot fade emitted",
		slog.String("market", mkt.ConditionID),
		slog.Float64("yes_price", yesPrice),
		slog.Float64("premium", premium),
	)
	return []domain.Action{a}, nil
}

// OnPositionUpdate releases the open-position slot once a held longshot
// fade reaches a terminal state.
func (m *MapLongshot) OnPositionUpdate(_ context.Context, pos domain.Position) error {
	if pos.Strategy != m.Name() {
		return nil
	}
	if pos.IsTerminal() {
		m.mu.Lock()
		if m.open > 0 {
			m.open--
		}
		m.mu.Unlock()
	}
	return nil
}

func (m *MapLongshot) Close() error { return nil }

func (m *MapLongshot) maxYesPrice() float64 {
	return floatParam(m.cfg.Params, "max_yes_price", defaultLongshotMaxYesPrice)
}

func (m *MapLongshot) fairValueHaircut() float64 {
	return floatParam(m.cfg.Params, "fair_value_haircut", defaultLongshotHaircut)
}

func (m *MapLongshot) minPremium() float64 {
	return floatParam(m.cfg.Params, "min_premium", defaultLongshotMinPremium)
}

func (m *MapLongshot) maxDaysToExp() int {
	return numberParam(m.cfg.Params, "max_days_to_exp", defaultLongshotMaxDaysToExp)
}

func (m *MapLongshot) minDaysToExp() int {
	return numberParam(m.cfg.Params, "min_days_to_exp", defaultLongshotMinDaysToExp)
}

func (m *MapLongshot) maxPositions() int {
	return numberParam(m.cfg.Params, "max_positions", defaultLongshotMaxPositions)
}

func (m *MapLongshot) sizePerPosition() float64 {
	return floatParam(m.cfg.Params, "size_per_position", defaultLongshotSizePerLeg)
}
