package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

// StateManagerConfig holds the tunable limits the State Manager enforces
// before every trade.
type StateManagerConfig struct {
	MaxPositions    int
	MaxTradeAmount  float64
	MaxSlippageBps  float64
	MaxExposure     float64 // total USD notional across open positions
	StartingCapital float64
	MaxDrawdownBps  int64 // against StartingCapital, peak-to-trough
}

const (
	lockRetryInterval = 20 * time.Millisecond
	lockMaxWait       = 500 * time.Millisecond
	lockTTL           = 5 * time.Second
)

// StateManager is the engine's single authoritative writer of trading
// state: it implements the executor's RiskChecker gate (the seventh
// stage of the Execution & Safety Pipeline) and, once an order fills,
// serializes every mutation of a position or its owning strategy's
// capital ledger behind a per-(strategy, market) distributed lock so
// concurrent fills and the settlement cron never race each other.
type StateManager struct {
	positions domain.PositionStore
	prices    domain.PriceCache
	posSvc    *PositionService
	legs      domain.LegStore
	states    domain.StrategyStateStore
	cooldowns domain.CooldownStore
	spreads   domain.SpreadStore
	locks     domain.LockManager
	notifier  StrategyNotifier
	cfg       StateManagerConfig
	logger    *slog.Logger

	peakEquity float64
}

// SetNotifier attaches the strategy notifier. It is injected after
// construction because the strategy Engine is itself wired from the
// StateManager's owning Dependencies and would otherwise create a
// construction cycle.
func (s *StateManager) SetNotifier(n StrategyNotifier) {
	s.notifier = n
}

func (s *StateManager) notify(ctx context.Context, pos domain.Position) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyPositionUpdate(ctx, pos); err != nil {
		s.logger.WarnContext(ctx, "state_manager: strategy position notification failed",
			slog.String("strategy", pos.Strategy),
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

// NewStateManager creates a StateManager with all required dependencies.
// legs, states, cooldowns, spreads, and locks may be nil to disable the
// mutation surface they back (e.g. in tests exercising only
// PreTradeCheck); RecordFill and ClosePosition degrade to no-ops for the
// ledgers they can't reach.
func NewStateManager(
	positions domain.PositionStore,
	prices domain.PriceCache,
	posSvc *PositionService,
	legs domain.LegStore,
	states domain.StrategyStateStore,
	cooldowns domain.CooldownStore,
	spreads domain.SpreadStore,
	locks domain.LockManager,
	cfg StateManagerConfig,
	logger *slog.Logger,
) *StateManager {
	return &StateManager{
		positions:  positions,
		prices:     prices,
		posSvc:     posSvc,
		legs:       legs,
		states:     states,
		cooldowns:  cooldowns,
		spreads:    spreads,
		locks:      locks,
		cfg:        cfg,
		logger:     logger,
		peakEquity: cfg.StartingCapital,
	}
}

// PreTradeCheck validates an action against the configured risk limits for
// the given wallet, satisfying executor.RiskChecker. It returns the first
// failed check as one of the risk gate sentinel errors, or nil if all
// checks pass.
//
// Checks performed, in order:
//  1. Maximum number of open positions
//  2. Maximum total exposure across open positions
//  3. Trade size within configured limits (insufficient available capital)
//  4. Estimated slippage within bounds
//  5. Drawdown against starting capital
func (s *StateManager) PreTradeCheck(ctx context.Context, action domain.Action, wallet string) error {
	openPositions, err := s.positions.GetOpen(ctx, wallet)
	if err != nil {
		return fmt.Errorf("state_manager: get open positions: %w", err)
	}
	if s.cfg.MaxPositions > 0 && len(openPositions) >= s.cfg.MaxPositions {
		s.logger.WarnContext(ctx, "state_manager: max positions reached",
			slog.String("wallet", wallet),
			slog.Int("open", len(openPositions)),
			slog.Int("max", s.cfg.MaxPositions),
		)
		return fmt.Errorf("%w: %d/%d open", domain.ErrPositionLimit, len(openPositions), s.cfg.MaxPositions)
	}

	exposure, err := s.exposure(ctx, openPositions)
	if err != nil {
		return err
	}
	if s.cfg.MaxExposure > 0 && exposure >= s.cfg.MaxExposure {
		s.logger.WarnContext(ctx, "state_manager: max exposure reached",
			slog.String("wallet", wallet),
			slog.Float64("exposure", exposure),
			slog.Float64("max", s.cfg.MaxExposure),
		)
		return fmt.Errorf("%w: %.2f/%.2f", domain.ErrExposureLimit, exposure, s.cfg.MaxExposure)
	}

	tradeAmount := action.SizeUSD()
	if s.cfg.MaxTradeAmount > 0 && tradeAmount > s.cfg.MaxTradeAmount {
		s.logger.WarnContext(ctx, "state_manager: trade amount exceeds available capital",
			slog.String("wallet", wallet),
			slog.Float64("amount", tradeAmount),
			slog.Float64("max", s.cfg.MaxTradeAmount),
		)
		return fmt.Errorf("%w: trade %.2f exceeds max %.2f", domain.ErrInsufficientCapital, tradeAmount, s.cfg.MaxTradeAmount)
	}
	if s.cfg.StartingCapital > 0 && exposure+tradeAmount > s.cfg.StartingCapital {
		s.logger.WarnContext(ctx, "state_manager: trade would exceed available capital",
			slog.String("wallet", wallet),
			slog.Float64("exposure", exposure),
			slog.Float64("amount", tradeAmount),
			slog.Float64("capital", s.cfg.StartingCapital),
		)
		return fmt.Errorf("%w: exposure %.2f + trade %.2f exceeds capital %.2f", domain.ErrInsufficientCapital, exposure, tradeAmount, s.cfg.StartingCapital)
	}

	if err := s.checkSlippage(ctx, action); err != nil {
		return err
	}

	return s.checkDrawdown(ctx, wallet, exposure)
}

func (s *StateManager) checkSlippage(ctx context.Context, action domain.Action) error {
	if action.Kind != domain.OrderKindLimit || s.cfg.MaxSlippageBps <= 0 {
		return nil
	}

	currentPrice, _, priceErr := s.prices.GetPrice(ctx, action.TokenID)
	if priceErr != nil {
		// Cannot estimate slippage without a reference price; don't block.
		s.logger.WarnContext(ctx, "state_manager: could not fetch price for slippage check",
			slog.String("token_id", action.TokenID),
			slog.String("error", priceErr.Error()),
		)
		return nil
	}
	if currentPrice <= 0 {
		return nil
	}

	actionPrice := action.Price()
	var slippageBps float64
	switch action.Side {
	case domain.OrderSideBuy:
		slippageBps = ((actionPrice - currentPrice) / currentPrice) * 10_000
	case domain.OrderSideSell:
		slippageBps = ((currentPrice - actionPrice) / currentPrice) * 10_000
	}

	if slippageBps > s.cfg.MaxSlippageBps {
		s.logger.WarnContext(ctx, "state_manager: slippage exceeds limit",
			slog.Float64("slippage_bps", slippageBps),
			slog.Float64("max_slippage_bps", s.cfg.MaxSlippageBps),
		)
		return fmt.Errorf("%w: %.1f bps exceeds max %.1f bps", domain.ErrPriceDeviation, slippageBps, s.cfg.MaxSlippageBps)
	}
	return nil
}

func (s *StateManager) checkDrawdown(ctx context.Context, wallet string, exposure float64) error {
	if s.cfg.MaxDrawdownBps <= 0 || s.cfg.StartingCapital <= 0 {
		return nil
	}

	equity := s.cfg.StartingCapital - exposure
	if equity > s.peakEquity {
		s.peakEquity = equity
	}
	if s.peakEquity <= 0 {
		return nil
	}

	drawdownBps := int64(((s.peakEquity - equity) / s.peakEquity) * 10_000)
	if drawdownBps >= s.cfg.MaxDrawdownBps {
		s.logger.WarnContext(ctx, "state_manager: drawdown limit breached",
			slog.String("wallet", wallet),
			slog.Int64("drawdown_bps", drawdownBps),
			slog.Int64("max_drawdown_bps", s.cfg.MaxDrawdownBps),
		)
		return fmt.Errorf("%w: %d bps against peak equity %.2f", domain.ErrDrawdownBreached, drawdownBps, s.peakEquity)
	}
	return nil
}

// PositionExposure computes the total notional exposure across all open
// positions for the given wallet. Notional is current_price * remaining
// shares for each open position.
func (s *StateManager) PositionExposure(ctx context.Context, wallet string) (float64, error) {
	openPositions, err := s.positions.GetOpen(ctx, wallet)
	if err != nil {
		return 0, fmt.Errorf("state_manager: get open positions: %w", err)
	}
	return s.exposure(ctx, openPositions)
}

func (s *StateManager) exposure(ctx context.Context, openPositions []domain.Position) (float64, error) {
	tokenIDs := make([]string, 0, len(openPositions))
	for _, p := range openPositions {
		tokenIDs = append(tokenIDs, p.TokenID)
	}

	prices, err := s.prices.GetPrices(ctx, tokenIDs)
	if err != nil {
		return 0, fmt.Errorf("state_manager: get prices for exposure: %w", err)
	}

	var total float64
	for _, p := range openPositions {
		price, ok := prices[p.TokenID]
		if !ok {
			price = p.CurrentPrice
		}
		total += price * p.RemainingShares
	}
	return total, nil
}

// RecordFill is the authoritative write path for an executed order: it
// opens a new position or adds to an existing same-direction one,
// appends the fill to the position's leg ledger, and debits the
// strategy's available capital by the fill's cost basis. It satisfies
// executor.PositionRecorder and is called by the executor immediately
// after a successful PlaceOrder, before the decision is finalized.
func (s *StateManager) RecordFill(ctx context.Context, action domain.Action, order domain.Order, result domain.OrderResult) error {
	if s.positions == nil {
		return nil
	}

	unlock, err := acquireLockRetry(ctx, s.locks, smLockKey(action.Strategy, action.MarketID))
	if err != nil {
		return fmt.Errorf("state_manager: acquire lock for %s/%s: %w", action.Strategy, action.MarketID, err)
	}
	defer unlock()

	shares := order.Size()
	price := result.FilledPrice
	if price <= 0 {
		price = order.Price()
	}
	costDelta := price * shares
	now := time.Now().UTC()

	opened := false
	existing, err := s.positions.GetOpenByMarket(ctx, action.MarketID, action.TokenID)
	switch {
	case err == nil && existing.Direction == action.Side:
		existing.RemainingShares += shares
		existing.Size += shares
		existing.CostBasis += costDelta
		existing.CurrentPrice = price
		existing.UnrealizedPnL = unrealizedPnL(existing, price)
		if err := s.positions.Update(ctx, existing); err != nil {
			return fmt.Errorf("state_manager: update position %s: %w", existing.ID, err)
		}
		if err := s.appendLeg(ctx, existing.ID, shares, price, costDelta, "fill", now); err != nil {
			return err
		}
		s.notify(ctx, existing)
	case err == nil:
		return fmt.Errorf("state_manager: %w: existing %s position open for %s/%s, use ClosePosition to reduce it",
			domain.ErrStateInconsistent, existing.Direction, action.MarketID, action.TokenID)
	case errors.Is(err, domain.ErrNotFound):
		if s.posSvc == nil {
			return fmt.Errorf("state_manager: no position service configured to open %s/%s", action.MarketID, action.TokenID)
		}
		pos, openErr := s.posSvc.OpenPosition(ctx, order, price)
		if openErr != nil {
			return fmt.Errorf("state_manager: open position: %w", openErr)
		}
		if err := s.appendLeg(ctx, pos.ID, shares, price, costDelta, "fill", now); err != nil {
			return err
		}
		s.notify(ctx, pos)
		opened = true
	default:
		return fmt.Errorf("state_manager: get open position %s/%s: %w", action.MarketID, action.TokenID, err)
	}

	return s.applyFillToStrategyState(ctx, action.Strategy, costDelta, opened, now)
}

// ClosePosition closes out the whole remaining size of a position at
// the given exit price, appends the closing leg, and
// credits the proceeds and realized PnL back into the owning strategy's
// capital ledger.
func (s *StateManager) ClosePosition(ctx context.Context, positionID string, exitPrice float64, reason domain.CloseReason) error {
	if s.positions == nil {
		return nil
	}

	pos, err := s.positions.GetByID(ctx, positionID)
	if err != nil {
		return fmt.Errorf("state_manager: get position %s: %w", positionID, err)
	}

	unlock, err := acquireLockRetry(ctx, s.locks, smLockKey(pos.Strategy, pos.MarketID))
	if err != nil {
		return fmt.Errorf("state_manager: acquire lock for %s/%s: %w", pos.Strategy, pos.MarketID, err)
	}
	defer unlock()

	realizedPnL := unrealizedPnL(pos, exitPrice)
	if err := s.positions.Close(ctx, positionID, exitPrice, reason); err != nil {
		return fmt.Errorf("state_manager: close position %s: %w", positionID, err)
	}

	now := time.Now().UTC()
	if err := s.appendLeg(ctx, positionID, -pos.RemainingShares, exitPrice, -pos.CostBasis, string(reason), now); err != nil {
		return err
	}

	pos.Status = domain.PositionStatusClosed
	pos.CloseReason = reason
	pos.ExitPrice = &exitPrice
	pos.RealizedPnL = realizedPnL
	s.notify(ctx, pos)

	proceeds := pos.CostBasis + realizedPnL
	return s.applyCloseToStrategyState(ctx, pos.Strategy, proceeds, realizedPnL, now)
}

func (s *StateManager) appendLeg(ctx context.Context, positionID string, deltaShares, price, costDelta float64, reason string, at time.Time) error {
	if s.legs == nil {
		return nil
	}
	leg := domain.FillLeg{
		ID:            uuid.New().String(),
		PositionID:    positionID,
		DeltaShares:   deltaShares,
		Price:         price,
		CostDelta:     costDelta,
		TriggerReason: reason,
		CreatedAt:     at,
	}
	if err := s.legs.Append(ctx, leg); err != nil {
		return fmt.Errorf("state_manager: append leg for position %s: %w", positionID, err)
	}
	return nil
}

func (s *StateManager) applyFillToStrategyState(ctx context.Context, strategy string, costDelta float64, opened bool, at time.Time) error {
	if s.states == nil || strategy == "" {
		return nil
	}
	st, err := s.loadOrInitStrategyState(ctx, strategy)
	if err != nil {
		return err
	}
	if opened {
		st.OpenPositions++
	}
	st.ApplyFill(costDelta, at)
	if err := s.states.Upsert(ctx, st); err != nil {
		return fmt.Errorf("state_manager: upsert strategy state %s: %w", strategy, err)
	}
	return nil
}

func (s *StateManager) applyCloseToStrategyState(ctx context.Context, strategy string, proceeds, realizedPnL float64, at time.Time) error {
	if s.states == nil || strategy == "" {
		return nil
	}
	st, err := s.loadOrInitStrategyState(ctx, strategy)
	if err != nil {
		return err
	}
	st.ApplyClose(proceeds, realizedPnL, at)
	if err := s.states.Upsert(ctx, st); err != nil {
		return fmt.Errorf("state_manager: upsert strategy state %s: %w", strategy, err)
	}
	return nil
}

func (s *StateManager) loadOrInitStrategyState(ctx context.Context, strategy string) (domain.StrategyState, error) {
	st, err := s.states.Get(ctx, strategy)
	if err == nil {
		return st, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return domain.StrategyState{Name: strategy, IsActive: true, AllocatedUSD: s.cfg.StartingCapital, AvailableUSD: s.cfg.StartingCapital}, nil
	}
	return domain.StrategyState{}, fmt.Errorf("state_manager: get strategy state %s: %w", strategy, err)
}

// SetCooldown records a post-trade or post-loss cooldown for a
// (strategy, market, token), blocking further actions until it expires.
func (s *StateManager) SetCooldown(ctx context.Context, c domain.Cooldown) error {
	if s.cooldowns == nil {
		return nil
	}
	if err := s.cooldowns.Set(ctx, c); err != nil {
		return fmt.Errorf("state_manager: set cooldown: %w", err)
	}
	return nil
}

// IsInCooldown reports whether a (strategy, market, token) is currently
// cooling down.
func (s *StateManager) IsInCooldown(ctx context.Context, strategy, marketID, tokenID string) (bool, error) {
	if s.cooldowns == nil {
		return false, nil
	}
	c, err := s.cooldowns.Get(ctx, strategy, marketID, tokenID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("state_manager: get cooldown: %w", err)
	}
	return c.Active(time.Now().UTC()), nil
}

// HasCapacity reports whether the wallet has room for another open
// position under the configured position limit.
func (s *StateManager) HasCapacity(ctx context.Context, wallet string) (bool, error) {
	if s.cfg.MaxPositions <= 0 {
		return true, nil
	}
	openPositions, err := s.positions.GetOpen(ctx, wallet)
	if err != nil {
		return false, fmt.Errorf("state_manager: get open positions: %w", err)
	}
	return len(openPositions) < s.cfg.MaxPositions, nil
}

// GetPosition returns the open position for a market/token pair, if any.
func (s *StateManager) GetPosition(ctx context.Context, marketID, tokenID string) (domain.Position, error) {
	pos, err := s.positions.GetOpenByMarket(ctx, marketID, tokenID)
	if err != nil {
		return domain.Position{}, err
	}
	return pos, nil
}

// GetSpread returns a multi-leg spread by ID, used by strategies
// coordinating all-or-none or best-effort leg groups.
func (s *StateManager) GetSpread(ctx context.Context, spreadID string) (domain.Spread, error) {
	if s.spreads == nil {
		return domain.Spread{}, domain.ErrNotFound
	}
	return s.spreads.GetByID(ctx, spreadID)
}

func smLockKey(strategy, marketID string) string {
	return fmt.Sprintf("sm:%s:%s", strategy, marketID)
}

// acquireLockRetry wraps a non-blocking LockManager.Acquire with a short
// bounded retry loop so callers actually serialize on contention instead
// of failing on the first collision. A nil LockManager disables locking
// (e.g. single-writer tests) and returns a no-op unlock.
func acquireLockRetry(ctx context.Context, lm domain.LockManager, key string) (func(), error) {
	if lm == nil {
		return func() {}, nil
	}
	deadline := time.Now().Add(lockMaxWait)
	for {
		unlock, err := lm.Acquire(ctx, key, lockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}
