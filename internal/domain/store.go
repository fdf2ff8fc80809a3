package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists market metadata.
type MarketStore interface {
	Upsert(ctx context.Context, market Market) error
	UpsertBatch(ctx context.Context, markets []Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	GetByTokenID(ctx context.Context, tokenID string) (Market, error)
	GetBySlug(ctx context.Context, slug string) (Market, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// OrderStore persists trading orders.
type OrderStore interface {
	Create(ctx context.Context, order Order) error
	UpdateStatus(ctx context.Context, id string, status OrderStatus) error
	GetByID(ctx context.Context, id string) (Order, error)
	ListOpen(ctx context.Context, wallet string) ([]Order, error)
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Order, error)
	ListRecent(ctx context.Context, marketID, tokenID string, since time.Time) ([]Order, error)
}

// PositionStore persists positions.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Update(ctx context.Context, pos Position) error
	Close(ctx context.Context, id string, exitPrice float64, reason CloseReason) error
	GetOpen(ctx context.Context, wallet string) ([]Position, error)
	GetOpenByMarket(ctx context.Context, marketID, tokenID string) (Position, error)
	GetByID(ctx context.Context, id string) (Position, error)
	ListHistory(ctx context.Context, wallet string, opts ListOpts) ([]Position, error)
}

// TradeStore persists enriched trade fills.
type TradeStore interface {
	InsertBatch(ctx context.Context, trades []Trade) error
	GetLastTimestamp(ctx context.Context) (time.Time, error)
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Trade, error)
	ListByWallet(ctx context.Context, wallet string, opts ListOpts) ([]Trade, error)
}

// DecisionStore persists the two-phase execution decision audit trail.
type DecisionStore interface {
	Create(ctx context.Context, d TradeDecision) error
	Finalize(ctx context.Context, id string, status DecisionStatus, orderID, rejectGate, rejectReason string, at time.Time) error
	GetByID(ctx context.Context, id string) (TradeDecision, error)
	ListPending(ctx context.Context) ([]TradeDecision, error) // used for crash reconciliation on startup
	List(ctx context.Context, opts ListOpts) ([]TradeDecision, error)
}

// SpreadStore persists multi-leg position groups and their legs.
type SpreadStore interface {
	Create(ctx context.Context, s Spread) error
	AddLeg(ctx context.Context, leg PositionLeg) error
	Update(ctx context.Context, s Spread) error
	GetByID(ctx context.Context, id string) (Spread, error)
	ListLegs(ctx context.Context, spreadID string) ([]PositionLeg, error)
	ListOpen(ctx context.Context, strategy string) ([]Spread, error)
}

// LegStore persists the append-only per-fill ledger: one row per partial
// fill or partial close against a Position, in sequence order, so the
// position's current state can always be reconstructed by summing its
// legs.
type LegStore interface {
	Append(ctx context.Context, leg FillLeg) error
	ListByPosition(ctx context.Context, positionID string) ([]FillLeg, error)
}

// StrategyStateStore persists per-strategy operational state across restarts.
type StrategyStateStore interface {
	Get(ctx context.Context, name string) (StrategyState, error)
	Upsert(ctx context.Context, s StrategyState) error
	List(ctx context.Context) ([]StrategyState, error)
}

// CooldownStore persists active cooldowns.
type CooldownStore interface {
	Set(ctx context.Context, c Cooldown) error
	Get(ctx context.Context, strategy, marketID, tokenID string) (Cooldown, error)
	Clear(ctx context.Context, strategy, marketID, tokenID string) error
}
