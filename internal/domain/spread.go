package domain

import "time"

// SpreadStatus tracks the lifecycle of a multi-leg position group.
type SpreadStatus string

const (
	SpreadStatusOpening SpreadStatus = "opening" // legs submitted, awaiting fills
	SpreadStatusOpen    SpreadStatus = "open"    // all required legs filled
	SpreadStatusClosing SpreadStatus = "closing"
	SpreadStatusClosed  SpreadStatus = "closed"
	SpreadStatusFailed  SpreadStatus = "failed" // all-or-none policy aborted
)

// Spread groups the positions opened together by a multi-leg strategy
// (e.g. favorite-hedge buying YES and NO across two correlated markets).
type Spread struct {
	ID         string
	Strategy   string
	Policy     LegPolicy
	Status     SpreadStatus
	LegIDs     []string // Position.ID values belonging to this spread
	MaxLegGap  time.Duration
	OpenedAt   time.Time
	ClosedAt   *time.Time
}
