package domain

import "time"

// FillLeg is one append-only entry in a position's fill ledger: a single
// partial fill or partial close. Summing a position's legs in sequence
// order reconstructs its RemainingShares and CostBasis at any point in
// its history.
type FillLeg struct {
	ID            string
	PositionID    string
	Sequence      int
	DeltaShares   float64 // positive on open/add, negative on partial close
	Price         float64
	CostDelta     float64 // signed USD change to the position's cost basis
	TriggerReason string  // e.g. "fill", "take_profit", "stop_loss", "market_resolution"
	CreatedAt     time.Time
}
