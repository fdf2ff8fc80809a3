package domain

import "time"

// ActionUrgency indicates how quickly an action should be acted upon.
type ActionUrgency int

const (
	ActionUrgencyLow ActionUrgency = iota
	ActionUrgencyMedium
	ActionUrgencyHigh
	ActionUrgencyImmediate
)

// Action is emitted by a strategy on a tick to request order execution.
// It is the unit the Execution & Safety Pipeline consumes and gates.
type Action struct {
	ID            string // UUID, also used as the idempotency key
	Strategy      string
	MarketID      string
	TokenID       string
	Side          OrderSide
	Kind          OrderKind
	PriceTicks    int64 // fixed-point limit price, 1e6 ticks (0 for market)
	SizeUSDTicks  int64 // fixed-point USD notional, 1e6 ticks
	Urgency       ActionUrgency
	Reason        string
	Metadata      map[string]string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	SourceTickSeq int64 // sequence number of the tick that produced this action

	// SignalMidTicks is the book mid price at the moment the strategy
	// emitted this action, fixed-point 1e6 ticks. The price deviation gate
	// measures drift from this value rather than from the action's own
	// limit price, so market orders (which carry no limit price) are
	// gated too.
	SignalMidTicks int64
}

// Price returns the display price from fixed-point ticks.
func (a Action) Price() float64 {
	return float64(a.PriceTicks) / 1e6
}

// SignalMid returns the book mid price at signal time from fixed-point ticks.
func (a Action) SignalMid() float64 {
	return float64(a.SignalMidTicks) / 1e6
}

// SizeUSD returns the display USD notional from fixed-point ticks.
func (a Action) SizeUSD() float64 {
	return float64(a.SizeUSDTicks) / 1e6
}

// Stale reports whether the action has expired as of now.
func (a Action) Stale(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}

// BotStatus is a summary of the engine's current operational state.
type BotStatus struct {
	Mode             string
	WSConnected      bool
	UptimeSeconds    int64
	OpenPositions    int32
	OpenOrders       int32
	ActiveStrategies []string
}
