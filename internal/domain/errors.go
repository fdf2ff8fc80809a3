package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrSigningFailed = errors.New("signing failed")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrContextDone   = errors.New("context cancelled")
	ErrLockHeld      = errors.New("lock already held")

	// Execution & Safety Pipeline gate rejections, in gate order.
	ErrSignalStale         = errors.New("signal freshness gate: action expired")
	ErrPriceDeviation      = errors.New("price deviation gate: book moved past tolerance")
	ErrSpreadTooWide       = errors.New("spread gate: bid/ask spread exceeds limit")
	ErrFeeRateExceeded     = errors.New("fee rate gate: exchange fee exceeds limit")
	ErrDuplicatePosition   = errors.New("duplicate position gate: position already open")
	ErrRecentOrder         = errors.New("recent order gate: order placed too recently")
	ErrPositionLimit       = errors.New("risk gate: max open positions reached")
	ErrExposureLimit       = errors.New("risk gate: max exposure reached")
	ErrInsufficientCapital = errors.New("risk gate: insufficient available capital")
	ErrDrawdownBreached    = errors.New("risk gate: drawdown limit breached")
	ErrInCooldown          = errors.New("cooldown gate: strategy/market in cooldown")

	ErrStateInconsistent = errors.New("state inconsistent")
)
