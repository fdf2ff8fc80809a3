package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/polyengine/internal/domain"
	"github.com/alanyoungcy/polyengine/internal/router"
)

// Engine owns the lifecycle of the active strategy set: it initializes
// each one, registers it with the Tick Router under its declared
// Capabilities, and forwards every Action the strategy returns to the
// Execution & Safety Pipeline's action channel.
type Engine struct {
	registry *Registry
	rt       *router.Router
	actionCh chan<- domain.Action
	logger   *slog.Logger

	mu            sync.Mutex
	active        []string
	recentSignals []domain.Action
	recentLimit   int
}

// NewEngine creates an Engine. actionCh is the output channel consumed by
// the executor; rt is the Tick Router that fans ticks out to strategies.
func NewEngine(registry *Registry, rt *router.Router, actionCh chan<- domain.Action, logger *slog.Logger) *Engine {
	return &Engine{
		registry:    registry,
		rt:          rt,
		actionCh:    actionCh,
		logger:      logger.With(slog.String("component", "strategy_engine")),
		recentLimit: 500,
	}
}

// ActiveName returns a comma-separated list of active strategy names.
func (e *Engine) ActiveName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return strings.Join(e.active, ",")
}

// ListNames returns the names of all registered strategies in sorted order.
func (e *Engine) ListNames() []string {
	return e.registry.List()
}

// RecentSignals returns up to limit most recently emitted actions, newest first.
func (e *Engine) RecentSignals(limit int) []domain.Action {
	if limit <= 0 {
		limit = 20
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.recentSignals)
	if n == 0 {
		return []domain.Action{}
	}
	if limit > n {
		limit = n
	}
	out := make([]domain.Action, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, e.recentSignals[i])
	}
	return out
}

// SetActiveNames selects which registered strategies RunAll will start.
// Names must already be registered.
func (e *Engine) SetActiveNames(names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("active names cannot be empty")
	}
	for _, name := range names {
		if _, err := e.registry.Get(name); err != nil {
			return fmt.Errorf("strategy %q: %w", name, err)
		}
	}
	e.mu.Lock()
	e.active = names
	e.mu.Unlock()
	e.logger.Info("active strategies set", slog.Any("strategies", names))
	return nil
}

// RunAll initializes every active strategy, registers it with the Tick
// Router, and blocks until ctx is cancelled, then closes each strategy.
func (e *Engine) RunAll(ctx context.Context) error {
	e.mu.Lock()
	names := append([]string(nil), e.active...)
	e.mu.Unlock()
	if len(names) == 0 {
		e.logger.Info("RunAll: no active strategies, blocking until context done")
		<-ctx.Done()
		return ctx.Err()
	}

	e.logger.Info("strategy engine starting", slog.Any("strategies", names))

	started := make([]Strategy, 0, len(names))
	for _, name := range names {
		strat, err := e.registry.Get(name)
		if err != nil {
			return err
		}
		if err := strat.Init(ctx); err != nil {
			e.logger.Error("strategy init failed", slog.String("strategy", name), slog.String("error", err.Error()))
			return fmt.Errorf("init strategy %s: %w", name, err)
		}
		started = append(started, strat)

		caps := strat.Caps()
		filter := router.Filter{MarketIDs: caps.MarketIDs, TokenIDs: caps.TokenIDs, Kinds: caps.Kinds}
		e.rt.Register(ctx, name, filter, e.handlerFor(strat))
	}

	defer func() {
		for _, name := range names {
			e.rt.Unregister(name)
		}
		for _, strat := range started {
			_ = strat.Close()
		}
		e.logger.Info("strategy engine stopped")
	}()

	<-ctx.Done()
	return ctx.Err()
}

// NotifyPositionUpdate forwards a position lifecycle event to the
// strategy that owns it, if that strategy is registered. It satisfies
// service.StrategyNotifier. An unknown or unregistered strategy name is
// not an error: positions opened before a strategy was deregistered
// still settle, they just have no one left to notify.
func (e *Engine) NotifyPositionUpdate(ctx context.Context, pos domain.Position) error {
	if pos.Strategy == "" {
		return nil
	}
	strat, err := e.registry.Get(pos.Strategy)
	if err != nil {
		return nil
	}
	return strat.OnPositionUpdate(ctx, pos)
}

func (e *Engine) handlerFor(strat Strategy) router.Handler {
	name := strat.Name()
	return func(ctx context.Context, tick domain.Tick) {
		actions, err := strat.OnTick(ctx, tick)
		if err != nil {
			e.logger.Warn("strategy OnTick error", slog.String("strategy", name), slog.String("error", err.Error()))
			return
		}
		e.emit(ctx, actions)
	}
}

// emit sends each action to the action channel. It respects context cancellation.
func (e *Engine) emit(ctx context.Context, actions []domain.Action) {
	for i := range actions {
		select {
		case <-ctx.Done():
			e.logger.Warn("context cancelled while emitting actions",
				slog.Int("remaining", len(actions)-i),
			)
			return
		case e.actionCh <- actions[i]:
			e.rememberSignal(actions[i])
			e.logger.Debug("action emitted",
				slog.String("action_id", actions[i].ID),
				slog.String("strategy", actions[i].Strategy),
				slog.String("side", string(actions[i].Side)),
			)
		}
	}
}

func (e *Engine) rememberSignal(a domain.Action) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recentSignals = append(e.recentSignals, a)
	if overflow := len(e.recentSignals) - e.recentLimit; overflow > 0 {
		e.recentSignals = append([]domain.Action(nil), e.recentSignals[overflow:]...)
	}
}
