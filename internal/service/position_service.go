package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

// PositionService manages trading positions including opening, price updates,
// closing, and stop-loss / take-profit monitoring.
type PositionService struct {
	positions domain.PositionStore
	prices    domain.PriceCache
	bus       domain.SignalBus
	logger    *slog.Logger
}

// NewPositionService creates a PositionService with all required dependencies.
func NewPositionService(
	positions domain.PositionStore,
	prices domain.PriceCache,
	bus domain.SignalBus,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		positions: positions,
		prices:    prices,
		bus:       bus,
		logger:    logger,
	}
}

// OpenPosition creates a new position from a filled order and the fill price.
func (s *PositionService) OpenPosition(ctx context.Context, order domain.Order, fillPrice float64) (domain.Position, error) {
	now := time.Now().UTC()

	pos := domain.Position{
		ID:              order.ID, // use order ID as position ID
		MarketID:        order.MarketID,
		TokenID:         order.TokenID,
		Wallet:          order.Wallet,
		Direction:       order.Side,
		EntryPrice:      fillPrice,
		CurrentPrice:    fillPrice,
		Size:            order.Size(),
		RemainingShares: order.Size(),
		CostBasis:       fillPrice * order.Size(),
		Status:          domain.PositionStatusOpen,
		Strategy:        order.Strategy,
		OpenedAt:        now,
	}

	if err := s.positions.Create(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("position_service: create position: %w", err)
	}

	s.publish(ctx, "position_opened", map[string]any{
		"position_id": pos.ID,
		"market":      pos.MarketID,
		"direction":   string(pos.Direction),
		"entry_price": pos.EntryPrice,
		"size":        pos.Size,
	})

	s.logger.InfoContext(ctx, "position_service: position opened",
		slog.String("position_id", pos.ID),
		slog.String("market", pos.MarketID),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("size", pos.Size),
	)

	return pos, nil
}

// UpdatePrice updates the current price and unrealized PnL for a position.
func (s *PositionService) UpdatePrice(ctx context.Context, posID string, currentPrice float64) error {
	pos, err := s.positions.GetByID(ctx, posID)
	if err != nil {
		return fmt.Errorf("position_service: get position %q: %w", posID, err)
	}

	pos.CurrentPrice = currentPrice
	pos.UnrealizedPnL = unrealizedPnL(pos, currentPrice)

	if err := s.positions.Update(ctx, pos); err != nil {
		return fmt.Errorf("position_service: update position %q: %w", posID, err)
	}

	return nil
}

// ClosePosition closes a position at the given exit price for the given
// reason, computes realized PnL, and publishes a closure event.
func (s *PositionService) ClosePosition(ctx context.Context, posID string, exitPrice float64, reason domain.CloseReason) error {
	pos, err := s.positions.GetByID(ctx, posID)
	if err != nil {
		return fmt.Errorf("position_service: get position %q: %w", posID, err)
	}

	realizedPnL := unrealizedPnL(pos, exitPrice)

	if err := s.positions.Close(ctx, posID, exitPrice, reason); err != nil {
		return fmt.Errorf("position_service: close position %q: %w", posID, err)
	}

	s.publish(ctx, "position_closed", map[string]any{
		"position_id":  posID,
		"market":       pos.MarketID,
		"exit_price":   exitPrice,
		"reason":       string(reason),
		"realized_pnl": realizedPnL,
	})

	s.logger.InfoContext(ctx, "position_service: position closed",
		slog.String("position_id", posID),
		slog.String("reason", string(reason)),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("realized_pnl", realizedPnL),
	)

	return nil
}

func unrealizedPnL(pos domain.Position, price float64) float64 {
	switch pos.Direction {
	case domain.OrderSideBuy:
		return (price - pos.EntryPrice) * pos.RemainingShares
	case domain.OrderSideSell:
		return (pos.EntryPrice - price) * pos.RemainingShares
	default:
		return 0
	}
}

func (s *PositionService) publish(ctx context.Context, event string, fields map[string]any) {
	fields["event"] = event
	evt, _ := json.Marshal(fields)
	if err := s.bus.Publish(ctx, "positions", evt); err != nil {
		s.logger.WarnContext(ctx, "position_service: publish event failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// GetOpen returns all open positions for the given wallet.
func (s *PositionService) GetOpen(ctx context.Context, wallet string) ([]domain.Position, error) {
	positions, err := s.positions.GetOpen(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("position_service: get open for %q: %w", wallet, err)
	}
	return positions, nil
}

// CheckStopLoss returns open positions whose current price has breached
// the configured stop-loss level.
func (s *PositionService) CheckStopLoss(ctx context.Context, wallet string) ([]domain.Position, error) {
	return s.checkTrigger(ctx, wallet, "stop-loss", func(pos domain.Position, price float64) bool {
		if pos.StopLoss == nil {
			return false
		}
		sl := *pos.StopLoss
		switch pos.Direction {
		case domain.OrderSideBuy:
			return price <= sl
		case domain.OrderSideSell:
			return price >= sl
		default:
			return false
		}
	})
}

// CheckTakeProfit returns open positions whose current price has reached
// the configured take-profit level.
func (s *PositionService) CheckTakeProfit(ctx context.Context, wallet string) ([]domain.Position, error) {
	return s.checkTrigger(ctx, wallet, "take-profit", func(pos domain.Position, price float64) bool {
		if pos.TakeProfit == nil {
			return false
		}
		tp := *pos.TakeProfit
		switch pos.Direction {
		case domain.OrderSideBuy:
			return price >= tp
		case domain.OrderSideSell:
			return price <= tp
		default:
			return false
		}
	})
}

func (s *PositionService) checkTrigger(ctx context.Context, wallet, label string, hit func(domain.Position, float64) bool) ([]domain.Position, error) {
	openPositions, err := s.positions.GetOpen(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("position_service: get open for %s check: %w", label, err)
	}

	var triggered []domain.Position
	for _, pos := range openPositions {
		price, _, priceErr := s.prices.GetPrice(ctx, pos.TokenID)
		if priceErr != nil {
			s.logger.WarnContext(ctx, "position_service: price fetch failed for "+label+" check",
				slog.String("position_id", pos.ID),
				slog.String("token_id", pos.TokenID),
				slog.String("error", priceErr.Error()),
			)
			continue
		}

		if hit(pos, price) {
			pos.CurrentPrice = price
			triggered = append(triggered, pos)
		}
	}

	return triggered, nil
}
