package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

// OrderPlacer submits an order for execution, either against the
// exchange (live mode) or a simulated fill engine (paper mode).
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error)
}

// OrderCanceller is implemented by OrderPlacers that support cancelling
// a resting limit order, used both by the limit-to-market upgrade path
// and to unwind an all-or-none spread when one leg fails.
type OrderCanceller interface {
	CancelOrder(ctx context.Context, orderID string) error
}

// PositionRecorder is the authoritative write path for an executed
// order: it is invoked immediately after a successful PlaceOrder so the
// fill actually opens or grows a position, appends its leg, and debits
// the strategy's available capital, under the same lock a concurrent
// close or settlement would take.
type PositionRecorder interface {
	RecordFill(ctx context.Context, action domain.Action, order domain.Order, result domain.OrderResult) error
}

// Executor is the Execution & Safety Pipeline: it reads actions emitted
// by strategies, runs each through the ordered gate sequence, prices
// the survivors against the live book, and places the resulting order.
// Every action produces a domain.TradeDecision audit record whether it
// is executed or rejected.
type Executor struct {
	actionCh <-chan domain.Action
	gates    []Gate
	pricer   *Pricer
	placer   OrderPlacer

	decisions domain.DecisionStore
	cooldowns domain.CooldownStore
	recorder  PositionRecorder

	dedup   *Dedup
	spreads *SpreadAccumulator

	wallet            string
	logger            *slog.Logger
	cleanupInterval   time.Duration
	postTradeCooldown time.Duration

	onDecision func(domain.TradeDecision)
}

// NewExecutor wires an Executor from its dependencies. maxLegGapMs
// bounds how long a multi-leg spread's legs may arrive apart before the
// group is abandoned. After an action executes, a cooldown of
// postTradeCooldown is set for that strategy/market/token pair so the
// cooldown gate prevents the strategy from immediately re-entering.
func NewExecutor(
	actionCh <-chan domain.Action,
	gates []Gate,
	pricer *Pricer,
	placer OrderPlacer,
	decisions domain.DecisionStore,
	cooldowns domain.CooldownStore,
	recorder PositionRecorder,
	wallet string,
	maxLegGapMs int64,
	postTradeCooldown time.Duration,
	logger *slog.Logger,
) *Executor {
	e := &Executor{
		actionCh:          actionCh,
		gates:             gates,
		pricer:            pricer,
		placer:            placer,
		decisions:         decisions,
		cooldowns:         cooldowns,
		recorder:          recorder,
		dedup:             NewDedup(2 * time.Minute),
		wallet:            wallet,
		logger:            logger.With(slog.String("component", "executor")),
		cleanupInterval:   5 * time.Minute,
		postTradeCooldown: postTradeCooldown,
	}
	e.spreads = NewSpreadAccumulator(maxLegGapMs, e.executeSpread, e.logger)
	return e
}

// SetDedupTTL replaces the dedup instance with a new one using the given TTL.
func (e *Executor) SetDedupTTL(ttl time.Duration) {
	e.dedup = NewDedup(ttl)
}

// SetCleanupInterval changes how often the dedup map is garbage-collected.
// Must be called before Run.
func (e *Executor) SetCleanupInterval(d time.Duration) {
	e.cleanupInterval = d
}

// OnDecision registers a callback invoked after every finalized
// decision, used to wire alerting without coupling the pipeline to a
// specific notifier.
func (e *Executor) OnDecision(fn func(domain.TradeDecision)) {
	e.onDecision = fn
}

// Wallet returns the wallet address this executor is configured with.
func (e *Executor) Wallet() string { return e.wallet }

var _ fmt.Stringer = (*Executor)(nil)

// String returns a human-readable description of the executor.
func (e *Executor) String() string {
	return fmt.Sprintf("Executor(wallet=%s, gates=%d)", e.wallet, len(e.gates))
}

// Run starts the executor's main loop. It processes actions until the
// context is cancelled, at which point it drains whatever remains
// buffered and returns.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started")
	defer e.logger.Info("executor stopped")

	cleanupTicker := time.NewTicker(e.cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return ctx.Err()

		case action, ok := <-e.actionCh:
			if !ok {
				return nil
			}
			e.process(ctx, action)

		case <-cleanupTicker.C:
			e.dedup.Cleanup()
		}
	}
}

// process routes a single action through leg buffering, dedup, and the
// gate pipeline.
func (e *Executor) process(ctx context.Context, action domain.Action) {
	if e.dedup.IsDuplicate(action.ID) {
		e.logger.Debug("duplicate action dropped", slog.String("action_id", action.ID))
		return
	}
	if e.spreads.Add(ctx, action) {
		return // leg buffered; executeSpread fires once the group completes (a timed-out group is discarded)
	}
	if _, err := e.executeLeg(ctx, action); err != nil {
		e.logger.Debug("action not executed",
			slog.String("strategy", action.Strategy),
			slog.String("action_id", action.ID),
			slog.String("error", err.Error()),
		)
	}
}

// executeSpread places every leg of a completed multi-leg group. Under
// an all-or-none policy, any leg rejection cancels the legs already
// placed; under best-effort and sequential policies each leg's outcome
// stands on its own.
func (e *Executor) executeSpread(ctx context.Context, legs []domain.Action, policy domain.LegPolicy) error {
	var placedOrderIDs []string
	var firstErr error

	for _, leg := range legs {
		orderID, err := e.executeLeg(ctx, leg)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if policy == domain.LegPolicyAllOrNone {
				break
			}
			continue
		}
		placedOrderIDs = append(placedOrderIDs, orderID)
	}

	if policy == domain.LegPolicyAllOrNone && firstErr != nil {
		if canceller, ok := e.placer.(OrderCanceller); ok {
			for _, orderID := range placedOrderIDs {
				if err := canceller.CancelOrder(ctx, orderID); err != nil {
					e.logger.Error("failed to unwind spread leg after all-or-none rejection",
						slog.String("order_id", orderID), slog.String("error", err.Error()))
				}
			}
		}
	}
	return firstErr
}

// executeLeg runs one action through the gate pipeline, prices it, and
// places it, recording a TradeDecision at every outcome. It returns the
// placed order's ID on success.
func (e *Executor) executeLeg(ctx context.Context, action domain.Action) (string, error) {
	now := time.Now().UTC()
	decision := domain.TradeDecision{
		ID:        action.ID,
		ActionID:  action.ID,
		Strategy:  action.Strategy,
		MarketID:  action.MarketID,
		TokenID:   action.TokenID,
		Status:    domain.DecisionStatusPending,
		CreatedAt: now,
	}
	if e.decisions != nil {
		if err := e.decisions.Create(ctx, decision); err != nil {
			e.logger.Error("failed to record pending decision", slog.String("error", err.Error()))
		}
	}

	for _, gate := range e.gates {
		if err := gate.Check(ctx, action); err != nil {
			e.reject(ctx, decision, gate.Name(), err)
			return "", err
		}
	}

	quote, err := e.pricer.Quote(ctx, action)
	if err != nil {
		e.reject(ctx, decision, "pricer", err)
		return "", err
	}

	order := domain.Order{
		ID:            action.ID,
		MarketID:      action.MarketID,
		TokenID:       action.TokenID,
		Wallet:        e.wallet,
		Side:          action.Side,
		Kind:          quote.Kind,
		PriceTicks:    int64(quote.Price * 1e6),
		SizeUnits:     action.SizeUSDTicks,
		Strategy:      action.Strategy,
		IdempotencyID: action.ID,
		CreatedAt:     now,
	}

	result, err := e.placer.PlaceOrder(ctx, order)
	if err != nil || !result.Success {
		if result.ShouldRetry && !action.Stale(time.Now().UTC()) {
			result, err = e.retryOrder(ctx, order)
		}
		if err != nil || !result.Success {
			msg := orderFailureMessage(result, err)
			e.reject(ctx, decision, "order_placement", fmt.Errorf("%s", msg))
			return "", fmt.Errorf("order placement failed: %s", msg)
		}
	}

	if e.recorder != nil && result.Status == domain.OrderStatusMatched {
		if err := e.recorder.RecordFill(ctx, action, order, result); err != nil {
			e.logger.Error("failed to record fill against state manager",
				slog.String("strategy", action.Strategy),
				slog.String("order_id", result.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}

	e.finalize(ctx, decision, domain.DecisionStatusExecuted, result.OrderID, "", "")
	e.logger.Info("action executed",
		slog.String("strategy", action.Strategy),
		slog.String("market", action.MarketID),
		slog.String("order_id", result.OrderID),
		slog.Float64("price", quote.Price),
	)
	e.startPostTradeCooldown(ctx, action, now)

	if quote.Kind == domain.OrderKindLimit {
		e.scheduleUpgrade(action, result.OrderID)
	}
	return result.OrderID, nil
}

// retryOrder makes a single retry attempt for a failed order after a
// short pause. A production system would use exponential back-off and a
// bounded retry count; this performs one retry.
func (e *Executor) retryOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	select {
	case <-ctx.Done():
		return domain.OrderResult{}, ctx.Err()
	case <-time.After(500 * time.Millisecond):
	}
	e.logger.Warn("retrying order placement", slog.String("order_id", order.ID))
	return e.placer.PlaceOrder(ctx, order)
}

// scheduleUpgrade cancels a resting limit order and replaces it with a
// market order if it has not filled within its urgency-scaled deadline.
// It fires once and is best-effort: a failure to cancel or replace is
// logged, not retried.
func (e *Executor) scheduleUpgrade(action domain.Action, orderID string) {
	if orderID == "" {
		return
	}
	canceller, ok := e.placer.(OrderCanceller)
	if !ok {
		return
	}
	deadline := UpgradeDeadline(action.Urgency)
	time.AfterFunc(deadline, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if action.Stale(time.Now().UTC()) {
			return
		}
		if err := canceller.CancelOrder(ctx, orderID); err != nil {
			return // likely already filled or cancelled
		}

		quote, err := e.pricer.Quote(ctx, action)
		if err != nil {
			return
		}
		marketOrder := domain.Order{
			ID:            action.ID + "-upgrade",
			MarketID:      action.MarketID,
			TokenID:       action.TokenID,
			Wallet:        e.wallet,
			Side:          action.Side,
			Kind:          domain.OrderKindMarket,
			PriceTicks:    int64(quote.Price * 1e6),
			SizeUnits:     action.SizeUSDTicks,
			Strategy:      action.Strategy,
			IdempotencyID: action.ID + "-upgrade",
			CreatedAt:     time.Now().UTC(),
		}
		if result, err := e.placer.PlaceOrder(ctx, marketOrder); err != nil || !result.Success {
			e.logger.Warn("limit upgrade to market failed",
				slog.String("action_id", action.ID), slog.String("error", orderFailureMessage(result, err)))
		} else {
			e.logger.Info("limit order upgraded to market after timeout",
				slog.String("action_id", action.ID), slog.String("order_id", result.OrderID))
		}
	})
}

func (e *Executor) reject(ctx context.Context, decision domain.TradeDecision, gate string, cause error) {
	e.finalize(ctx, decision, domain.DecisionStatusRejected, "", gate, cause.Error())
	e.logger.Debug("action rejected",
		slog.String("strategy", decision.Strategy),
		slog.String("market", decision.MarketID),
		slog.String("gate", gate),
		slog.String("reason", cause.Error()),
	)
}

func (e *Executor) finalize(ctx context.Context, decision domain.TradeDecision, status domain.DecisionStatus, orderID, gate, reason string) {
	decision.Status = status
	decision.OrderID = orderID
	decision.RejectedGate = gate
	decision.RejectReason = reason
	now := time.Now().UTC()
	decision.FinalizedAt = &now

	if e.decisions != nil {
		if err := e.decisions.Finalize(ctx, decision.ID, status, orderID, gate, reason, now); err != nil {
			e.logger.Error("failed to finalize decision", slog.String("error", err.Error()))
		}
	}
	if e.onDecision != nil {
		e.onDecision(decision)
	}
}

func (e *Executor) startPostTradeCooldown(ctx context.Context, action domain.Action, now time.Time) {
	if e.cooldowns == nil || e.postTradeCooldown <= 0 {
		return
	}
	c := domain.Cooldown{
		Strategy:  action.Strategy,
		MarketID:  action.MarketID,
		TokenID:   action.TokenID,
		Reason:    "post_trade",
		StartedAt: now,
		ExpiresAt: now.Add(e.postTradeCooldown),
	}
	if err := e.cooldowns.Set(ctx, c); err != nil {
		e.logger.Error("failed to set post-trade cooldown", slog.String("error", err.Error()))
	}
}

func orderFailureMessage(result domain.OrderResult, err error) string {
	if err != nil {
		return err.Error()
	}
	if result.Message != "" {
		return result.Message
	}
	return "order rejected"
}

// drain processes whatever is already buffered on actionCh under a
// bounded timeout, so an in-flight tick's actions are not silently lost
// on shutdown.
func (e *Executor) drain() {
	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case action, ok := <-e.actionCh:
			if !ok {
				return
			}
			e.logger.Warn("draining action after shutdown", slog.String("action_id", action.ID))
			e.process(drainCtx, action)
		default:
			return
		}
	}
}
