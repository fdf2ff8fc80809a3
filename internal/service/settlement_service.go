package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

// SettlementService closes out every open position in a market once it
// resolves, paying out $1 per share for the winning TokenType and $0 for
// the losing one. The teacher has no equivalent: it trades spot markets
// that never resolve to a binary payout.
type SettlementService struct {
	positions domain.PositionStore
	markets   domain.MarketStore
	states    domain.StrategyStateStore
	locks     domain.LockManager
	notifier  StrategyNotifier
	bus       domain.SignalBus
	logger    *slog.Logger
}

// SetNotifier attaches the strategy notifier, injected post-construction
// for the same reason StateManager's is: the strategy Engine depends on
// Dependencies fields that are themselves built after the service layer.
func (s *SettlementService) SetNotifier(n StrategyNotifier) {
	s.notifier = n
}

// NewSettlementService creates a SettlementService with all required
// dependencies. locks may be nil, disabling serialization (e.g. tests);
// in that case the caller must otherwise guarantee ApplyResolution is
// not run concurrently with a fill against the same strategy/market.
func NewSettlementService(
	positions domain.PositionStore,
	markets domain.MarketStore,
	states domain.StrategyStateStore,
	locks domain.LockManager,
	bus domain.SignalBus,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		positions: positions,
		markets:   markets,
		states:    states,
		locks:     locks,
		bus:       bus,
		logger:    logger,
	}
}

// ApplyResolution settles every open position a wallet holds in the given
// market against the winning outcome. winner is the TokenType whose
// holders are paid $1/share; the other side pays $0.
func (s *SettlementService) ApplyResolution(ctx context.Context, wallet, marketID string, winner domain.TokenType) error {
	market, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return fmt.Errorf("settlement_service: get market %q: %w", marketID, err)
	}

	openPositions, err := s.positions.GetOpen(ctx, wallet)
	if err != nil {
		return fmt.Errorf("settlement_service: get open positions for %q: %w", wallet, err)
	}

	var settled int
	for _, pos := range openPositions {
		if pos.MarketID != marketID {
			continue
		}

		tokenType, ok := market.SideForToken(pos.TokenID)
		if !ok {
			s.logger.WarnContext(ctx, "settlement_service: position token not in market",
				slog.String("position_id", pos.ID),
				slog.String("token_id", pos.TokenID),
				slog.String("market_id", marketID),
			)
			continue
		}

		payout := 0.0
		if tokenType == winner {
			payout = 1.0
		}

		if err := s.settleOne(ctx, pos, payout); err != nil {
			return err
		}

		settled++
	}

	s.logger.InfoContext(ctx, "settlement_service: applied resolution",
		slog.String("market_id", marketID),
		slog.String("winner", string(winner)),
		slog.Int("settled", settled),
	)

	return nil
}

// settleOne closes a single position at its resolution payout under the
// same per-(strategy, market) lock a live fill or close would take, so
// settlement can never race a concurrent trade against the same
// strategy/market capital ledger.
func (s *SettlementService) settleOne(ctx context.Context, pos domain.Position, payout float64) error {
	unlock, err := acquireLockRetry(ctx, s.locks, smLockKey(pos.Strategy, pos.MarketID))
	if err != nil {
		return fmt.Errorf("settlement_service: acquire lock for %s/%s: %w", pos.Strategy, pos.MarketID, err)
	}
	defer unlock()

	realizedPnL := unrealizedPnL(pos, payout)

	if err := s.positions.Close(ctx, pos.ID, payout, domain.CloseReasonResolution); err != nil {
		return fmt.Errorf("settlement_service: close position %q: %w", pos.ID, err)
	}
	pos.Status = domain.PositionStatusResolved
	pos.CloseReason = domain.CloseReasonResolution
	pos.ExitPrice = &payout
	pos.RealizedPnL = realizedPnL

	s.publishSettled(ctx, pos, payout, realizedPnL)
	if s.notifier != nil {
		if err := s.notifier.NotifyPositionUpdate(ctx, pos); err != nil {
			s.logger.WarnContext(ctx, "settlement_service: strategy position notification failed",
				slog.String("strategy", pos.Strategy),
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := s.bumpStrategyState(ctx, pos, realizedPnL); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: strategy state update failed",
			slog.String("strategy", pos.Strategy),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (s *SettlementService) publishSettled(ctx context.Context, pos domain.Position, payout, realizedPnL float64) {
	evt, _ := json.Marshal(map[string]any{
		"event":        "position_settled",
		"position_id":  pos.ID,
		"market":       pos.MarketID,
		"payout":       payout,
		"realized_pnl": realizedPnL,
		"strategy":     pos.Strategy,
	})
	if err := s.bus.Publish(ctx, "positions", evt); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: publish settled event failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *SettlementService) bumpStrategyState(ctx context.Context, pos domain.Position, realizedPnL float64) error {
	if pos.Strategy == "" {
		return nil
	}
	st, err := s.states.Get(ctx, pos.Strategy)
	if err != nil {
		return err
	}
	proceeds := pos.CostBasis + realizedPnL
	st.ApplyClose(proceeds, realizedPnL, time.Now().UTC())
	return s.states.Upsert(ctx, st)
}
