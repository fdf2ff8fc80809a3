package domain

import "time"

// DecisionStatus tracks the two-phase write used to make execution
// decisions crash-recoverable: a decision is recorded pending before any
// order is placed, then finalized once the outcome is known.
type DecisionStatus string

const (
	DecisionStatusPending  DecisionStatus = "pending"
	DecisionStatusExecuted DecisionStatus = "executed"
	DecisionStatusRejected DecisionStatus = "rejected"
)

// TradeDecision is the audit record of one action passing through the
// Execution & Safety Pipeline: every gate outcome, not just accepted
// trades, is recorded so that rejections are explainable after the fact.
type TradeDecision struct {
	ID            string // idempotency key, shared with the originating Action.ID
	ActionID      string
	Strategy      string
	MarketID      string
	TokenID       string
	Status        DecisionStatus
	RejectedGate  string // name of the gate that rejected, empty if executed
	RejectReason  string
	OrderID       string // populated once an order is placed
	Detail        map[string]any
	CreatedAt     time.Time
	FinalizedAt   *time.Time
}

// Pending reports whether this decision is still awaiting finalization,
// the case that drives crash-reconciliation on startup.
func (d TradeDecision) Pending() bool {
	return d.Status == DecisionStatusPending
}
