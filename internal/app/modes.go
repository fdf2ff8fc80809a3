package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

// RunEngine starts the three long-lived subsystems, supervising them with an
// errgroup so that the failure of any one tears down the others: the Market
// Data Gateway (deps.Feed), the Strategy Runtime (deps.Engine), and the
// Execution & Safety Pipeline (deps.Executor). It blocks until ctx is
// cancelled or one of the subsystems returns a non-nil error.
func (a *App) RunEngine(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine")

	a.reconcilePendingDecisions(ctx, deps)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Feed.Run(ctx)
	})

	g.Go(func() error {
		return deps.Executor.Run(ctx)
	})

	g.Go(func() error {
		return deps.Engine.RunAll(ctx)
	})

	if deps.Archiver != nil {
		g.Go(func() error {
			a.runArchiveCron(ctx, deps)
			return nil
		})
	}

	if deps.GammaClient != nil && deps.SettlementService != nil {
		g.Go(func() error {
			a.runSettlementCron(ctx, deps)
			return nil
		})
	}

	if deps.PositionService != nil && deps.StateManager != nil {
		g.Go(func() error {
			a.runPositionManagementCron(ctx, deps)
			return nil
		})
	}

	err := g.Wait()

	a.logger.InfoContext(ctx, "engine stopped, awaiting in-flight work",
		slog.Int("grace_seconds", a.cfg.Execution.ShutdownGraceSeconds),
	)
	a.awaitShutdownGrace()

	return err
}

// reconcilePendingDecisions logs any TradeDecision left in the pending state
// by a prior crash. It does not attempt to resolve them: the executor itself
// is the only writer of decision outcomes, and a decision stuck pending means
// the process died between order placement and finalization. Operators are
// expected to reconcile against the exchange's order history.
func (a *App) reconcilePendingDecisions(ctx context.Context, deps *Dependencies) {
	if deps.DecisionStore == nil {
		return
	}
	pending, err := deps.DecisionStore.ListPending(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "failed to list pending decisions on startup",
			slog.String("error", err.Error()),
		)
		return
	}
	if len(pending) == 0 {
		return
	}
	a.logger.WarnContext(ctx, "found decisions left pending from a prior run",
		slog.Int("count", len(pending)),
	)
	for _, d := range pending {
		a.logger.WarnContext(ctx, "pending decision needs manual reconciliation",
			slog.String("decision_id", d.ID),
			slog.String("strategy", d.Strategy),
			slog.String("market_id", d.MarketID),
			slog.String("token_id", d.TokenID),
			slog.Time("created_at", d.CreatedAt),
		)
	}
}

// runArchiveCron periodically moves settled trades, orders, and decisions
// older than the retention window into blob storage. It runs until ctx is
// cancelled.
func (a *App) runArchiveCron(ctx context.Context, deps *Dependencies) {
	const (
		interval  = 6 * time.Hour
		retention = 30 * 24 * time.Hour
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			before := time.Now().Add(-retention)
			if n, err := deps.Archiver.ArchiveTrades(ctx, before); err != nil {
				a.logger.WarnContext(ctx, "archive trades failed", slog.String("error", err.Error()))
			} else if n > 0 {
				a.logger.InfoContext(ctx, "archived trades", slog.Int64("count", n))
			}
			if n, err := deps.Archiver.ArchiveOrders(ctx, before); err != nil {
				a.logger.WarnContext(ctx, "archive orders failed", slog.String("error", err.Error()))
			} else if n > 0 {
				a.logger.InfoContext(ctx, "archived orders", slog.Int64("count", n))
			}
			if n, err := deps.Archiver.ArchiveDecisions(ctx, before); err != nil {
				a.logger.WarnContext(ctx, "archive decisions failed", slog.String("error", err.Error()))
			} else if n > 0 {
				a.logger.InfoContext(ctx, "archived decisions", slog.Int64("count", n))
			}
		}
	}
}

// runSettlementCron periodically checks every market with an open
// position for resolution and applies settlement as soon as one closes.
// It runs until ctx is cancelled.
func (a *App) runSettlementCron(ctx context.Context, deps *Dependencies) {
	const interval = 2 * time.Minute

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.checkSettlements(ctx, deps)
		}
	}
}

// checkSettlements polls the Gamma API for every distinct market with an
// open position and settles the ones that have resolved.
func (a *App) checkSettlements(ctx context.Context, deps *Dependencies) {
	wallet := deps.Executor.Wallet()

	openPositions, err := deps.PositionService.GetOpen(ctx, wallet)
	if err != nil {
		a.logger.WarnContext(ctx, "settlement cron: get open positions failed", slog.String("error", err.Error()))
		return
	}

	seen := make(map[string]bool)
	for _, pos := range openPositions {
		if seen[pos.MarketID] {
			continue
		}
		seen[pos.MarketID] = true

		closed, winner, err := deps.GammaClient.GetMarketResolution(ctx, pos.MarketID)
		if err != nil {
			a.logger.WarnContext(ctx, "settlement cron: resolution check failed",
				slog.String("market_id", pos.MarketID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !closed {
			continue
		}

		if err := deps.SettlementService.ApplyResolution(ctx, wallet, pos.MarketID, winner); err != nil {
			a.logger.WarnContext(ctx, "settlement cron: apply resolution failed",
				slog.String("market_id", pos.MarketID),
				slog.String("error", err.Error()),
			)
			continue
		}
		a.logger.InfoContext(ctx, "settlement cron: market settled",
			slog.String("market_id", pos.MarketID),
			slog.String("winner", string(winner)),
		)
	}
}

// runPositionManagementCron periodically checks every open position
// against its stop-loss and take-profit levels and closes the ones that
// have triggered, routing the close through the State Manager so the
// owning strategy's capital ledger and notification fire the same way a
// strategy-initiated exit would.
func (a *App) runPositionManagementCron(ctx context.Context, deps *Dependencies) {
	const interval = 15 * time.Second

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.checkPositionTriggers(ctx, deps)
		}
	}
}

func (a *App) checkPositionTriggers(ctx context.Context, deps *Dependencies) {
	wallet := deps.Executor.Wallet()

	stopLosses, err := deps.PositionService.CheckStopLoss(ctx, wallet)
	if err != nil {
		a.logger.WarnContext(ctx, "position management cron: stop-loss check failed", slog.String("error", err.Error()))
	}
	for _, pos := range stopLosses {
		a.closeTriggered(ctx, deps, pos, domain.CloseReasonStopLoss)
	}

	takeProfits, err := deps.PositionService.CheckTakeProfit(ctx, wallet)
	if err != nil {
		a.logger.WarnContext(ctx, "position management cron: take-profit check failed", slog.String("error", err.Error()))
	}
	for _, pos := range takeProfits {
		a.closeTriggered(ctx, deps, pos, domain.CloseReasonTakeProfit)
	}
}

func (a *App) closeTriggered(ctx context.Context, deps *Dependencies, pos domain.Position, reason domain.CloseReason) {
	if err := deps.StateManager.ClosePosition(ctx, pos.ID, pos.CurrentPrice, reason); err != nil {
		a.logger.WarnContext(ctx, "position management cron: close failed",
			slog.String("position_id", pos.ID),
			slog.String("reason", string(reason)),
			slog.String("error", err.Error()),
		)
		return
	}
	a.logger.InfoContext(ctx, "position management cron: position closed",
		slog.String("position_id", pos.ID),
		slog.String("reason", string(reason)),
		slog.Float64("price", pos.CurrentPrice),
	)
}

// awaitShutdownGrace sleeps for the configured shutdown grace period,
// giving any in-flight ESP submission time to finish before Close runs.
func (a *App) awaitShutdownGrace() {
	grace := time.Duration(a.cfg.Execution.ShutdownGraceSeconds) * time.Second
	if grace <= 0 {
		return
	}
	time.Sleep(grace)
}
