package strategy

import (
	"context"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

// Capabilities declares which tick kinds and market/token scopes a
// strategy wants routed to it; the Tick Router uses this to build the
// strategy's Filter.
type Capabilities struct {
	Kinds     []domain.TickKind
	MarketIDs []string // empty means all markets
	TokenIDs  []string // empty means all tokens
}

// Strategy defines the contract every trading strategy variant implements.
type Strategy interface {
	Name() string
	Caps() Capabilities
	Init(ctx context.Context) error
	// OnTick is called for every tick matching the strategy's Capabilities.
	// It may return zero or more actions for the Execution & Safety
	// Pipeline to gate.
	OnTick(ctx context.Context, tick domain.Tick) ([]domain.Action, error)
	// OnPositionUpdate notifies the strategy of a fill, close, or
	// resolution on one of its own positions.
	OnPositionUpdate(ctx context.Context, pos domain.Position) error
	Close() error
}

// Config holds strategy configuration loaded from TOML.
type Config struct {
	Name         string
	MarketIDs    []string
	TokenIDs     []string
	SizeUSD      float64
	MaxPositions int
	TakeProfit   float64
	StopLoss     float64
	Params       map[string]any
}
