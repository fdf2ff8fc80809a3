package service

import (
	"context"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

// StrategyNotifier delivers a position lifecycle event (opened, added to,
// closed, or settled) back to the strategy that owns it, so strategies
// tracking their own inventory (e.g. releasing a held slot) learn about
// fills the same tick loop they were emitted from never sees directly.
type StrategyNotifier interface {
	NotifyPositionUpdate(ctx context.Context, pos domain.Position) error
}
