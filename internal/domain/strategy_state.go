package domain

import "time"

// StrategyState is the persisted, per-strategy capital ledger and
// operational snapshot. The State Manager is the only writer: every
// field outside Name/UpdatedAt changes exclusively through ApplyFill,
// ApplyClose, or the signal/error counters below, so the invariant
// AvailableUSD + Σ(open cost_basis) <= AllocatedUSD + TotalRealizedPnL
// holds at rest.
type StrategyState struct {
	Name     string
	IsActive bool

	AllocatedUSD      float64
	AvailableUSD      float64
	TotalRealizedPnL  float64
	TotalUnrealizedPnL float64
	TradeCount        int64
	WinCount          int64
	LossCount         int64
	HighWaterMark     float64
	MaxDrawdown       float64

	OpenPositions int
	SignalsSent   int64
	ErrorCount    int64
	LastSignalAt  *time.Time
	LastError     string
	UpdatedAt     time.Time
}

// Equity returns the strategy's current marked-to-market capital:
// available cash plus realized and unrealized PnL since allocation.
func (s StrategyState) Equity() float64 {
	return s.AvailableUSD + s.TotalUnrealizedPnL
}

// ApplyFill debits available capital by the fill's cost basis when a
// position opens or adds, and tracks the open count. It is the only
// path by which capital leaves AvailableUSD.
func (s *StrategyState) ApplyFill(costDelta float64, at time.Time) {
	s.AvailableUSD -= costDelta
	s.TradeCount++
	s.UpdatedAt = at
}

// ApplyClose credits available capital with the proceeds of a close and
// folds the realized PnL into the running total, updating the
// high-water mark and max drawdown off the strategy's equity curve.
func (s *StrategyState) ApplyClose(proceeds, realizedPnL float64, at time.Time) {
	s.AvailableUSD += proceeds
	s.TotalRealizedPnL += realizedPnL
	if realizedPnL >= 0 {
		s.WinCount++
	} else {
		s.LossCount++
	}
	if s.OpenPositions > 0 {
		s.OpenPositions--
	}
	equity := s.Equity()
	if equity > s.HighWaterMark {
		s.HighWaterMark = equity
	}
	if s.HighWaterMark > 0 {
		dd := (s.HighWaterMark - equity) / s.HighWaterMark
		if dd > s.MaxDrawdown {
			s.MaxDrawdown = dd
		}
	}
	s.UpdatedAt = at
}
