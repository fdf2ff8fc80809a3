package executor

import (
	"context"
	"errors"
	"time"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

// BookSource gives the pipeline read access to the live order book a
// strategy's action is measured against, without depending on the feed
// package directly.
type BookSource interface {
	BestBidAsk(ctx context.Context, tokenID string) (bid, ask, mid float64, ok bool)
}

// FeeRateSource reports the exchange's current taker fee for a token, in
// basis points.
type FeeRateSource interface {
	GetFeeRate(ctx context.Context, tokenID string) (bps int64, err error)
}

// RiskChecker encapsulates the risk limits the State Manager enforces:
// open position count, notional exposure, available capital, and
// drawdown. It returns one of domain.ErrPositionLimit,
// domain.ErrExposureLimit, domain.ErrInsufficientCapital, or
// domain.ErrDrawdownBreached when a limit is hit.
type RiskChecker interface {
	PreTradeCheck(ctx context.Context, action domain.Action, wallet string) error
}

// Gate is one stage of the Execution & Safety Pipeline. Check returns nil
// to let the action proceed, or one of the sentinel gate errors in
// domain/errors.go to reject it.
type Gate interface {
	Name() string
	Check(ctx context.Context, action domain.Action) error
}

// Gates builds the eight-gate pipeline in spec order. Any dependency left
// nil disables that gate (it always passes) rather than panicking, so
// callers can assemble a partial pipeline for paper trading or tests.
func Gates(
	books BookSource,
	fees FeeRateSource,
	positions domain.PositionStore,
	orders domain.OrderStore,
	risk RiskChecker,
	cooldowns domain.CooldownStore,
	cfg GateConfig,
	wallet string,
) []Gate {
	return []Gate{
		freshnessGate{},
		priceDeviationGate{books: books, maxDeviationBps: cfg.MaxPriceDeviationBps},
		spreadGate{books: books, maxSpreadBps: cfg.MaxSpreadBps},
		feeRateGate{fees: fees, maxFeeBps: cfg.MaxFeeRateBps},
		duplicatePositionGate{positions: positions, wallet: wallet},
		recentOrderGate{orders: orders, minGap: cfg.MinOrderGap},
		riskLimitGate{risk: risk, wallet: wallet},
		cooldownGate{cooldowns: cooldowns},
	}
}

// GateConfig holds the tunable thresholds for the pipeline's gates.
type GateConfig struct {
	MaxPriceDeviationBps int64
	MaxSpreadBps         int64
	MaxFeeRateBps        int64
	MinOrderGap          time.Duration
}

// --- 1. signal freshness ---

type freshnessGate struct{}

func (freshnessGate) Name() string { return "freshness" }

func (freshnessGate) Check(_ context.Context, action domain.Action) error {
	if action.Stale(time.Now().UTC()) {
		return domain.ErrSignalStale
	}
	return nil
}

// --- 2. price deviation ---

type priceDeviationGate struct {
	books           BookSource
	maxDeviationBps int64
}

func (priceDeviationGate) Name() string { return "price_deviation" }

func (g priceDeviationGate) Check(ctx context.Context, action domain.Action) error {
	if g.books == nil || action.SignalMidTicks <= 0 {
		return nil
	}
	_, _, liveMid, ok := g.books.BestBidAsk(ctx, action.TokenID)
	if !ok || liveMid <= 0 {
		return domain.ErrPriceDeviation // no live book to compare against: fail closed
	}
	signalMid := action.SignalMid()
	deviation := abs(liveMid-signalMid) / signalMid
	if deviation*10_000 > float64(g.maxDeviationBps) {
		return domain.ErrPriceDeviation
	}
	return nil
}

// --- 3. spread ---

type spreadGate struct {
	books        BookSource
	maxSpreadBps int64
}

func (spreadGate) Name() string { return "spread" }

func (g spreadGate) Check(ctx context.Context, action domain.Action) error {
	if g.books == nil {
		return nil
	}
	bid, ask, mid, ok := g.books.BestBidAsk(ctx, action.TokenID)
	if !ok || mid <= 0 || bid <= 0 || ask <= 0 {
		return nil
	}
	spreadBps := (ask - bid) / mid * 10_000
	if spreadBps > float64(g.maxSpreadBps) {
		return domain.ErrSpreadTooWide
	}
	return nil
}

// --- 4. fee rate ---

type feeRateGate struct {
	fees      FeeRateSource
	maxFeeBps int64
}

func (feeRateGate) Name() string { return "fee_rate" }

func (g feeRateGate) Check(ctx context.Context, action domain.Action) error {
	if g.fees == nil {
		return nil
	}
	bps, err := g.fees.GetFeeRate(ctx, action.TokenID)
	if err != nil {
		return nil // fee rate unavailable: fail open, same as a stale cache miss
	}
	if bps > g.maxFeeBps {
		return domain.ErrFeeRateExceeded
	}
	return nil
}

// --- 5. duplicate position ---

type duplicatePositionGate struct {
	positions domain.PositionStore
	wallet    string
}

func (duplicatePositionGate) Name() string { return "duplicate_position" }

func (g duplicatePositionGate) Check(ctx context.Context, action domain.Action) error {
	if g.positions == nil {
		return nil
	}
	pos, err := g.positions.GetOpenByMarket(ctx, action.MarketID, action.TokenID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return nil // store error: fail open, gate is advisory not authoritative
	}
	if pos.Direction == action.Side {
		return domain.ErrDuplicatePosition
	}
	return nil
}

// --- 6. recent order ---

type recentOrderGate struct {
	orders domain.OrderStore
	minGap time.Duration
}

func (recentOrderGate) Name() string { return "recent_order" }

func (g recentOrderGate) Check(ctx context.Context, action domain.Action) error {
	if g.orders == nil || g.minGap <= 0 {
		return nil
	}
	since := time.Now().UTC().Add(-g.minGap)
	recent, err := g.orders.ListRecent(ctx, action.MarketID, action.TokenID, since)
	if err != nil {
		return nil
	}
	for _, o := range recent {
		if o.Strategy == action.Strategy {
			return domain.ErrRecentOrder
		}
	}
	return nil
}

// --- 7. risk limits (State Manager) ---

type riskLimitGate struct {
	risk   RiskChecker
	wallet string
}

func (riskLimitGate) Name() string { return "risk_limit" }

func (g riskLimitGate) Check(ctx context.Context, action domain.Action) error {
	if g.risk == nil {
		return nil
	}
	return g.risk.PreTradeCheck(ctx, action, g.wallet)
}

// --- 8. cooldown ---

type cooldownGate struct {
	cooldowns domain.CooldownStore
}

func (cooldownGate) Name() string { return "cooldown" }

func (g cooldownGate) Check(ctx context.Context, action domain.Action) error {
	if g.cooldowns == nil {
		return nil
	}
	c, err := g.cooldowns.Get(ctx, action.Strategy, action.MarketID, action.TokenID)
	if err != nil {
		return nil
	}
	if c.Active(time.Now().UTC()) {
		return domain.ErrInCooldown
	}
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
