package executor

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

// PendingSpread holds actions that share a spread_id until the group is
// complete or the leg gap times out.
type PendingSpread struct {
	SpreadID  string
	Legs      []domain.Action
	Expected  int
	Policy    domain.LegPolicy
	FirstSeen time.Time
	timer     *time.Timer
}

// SpreadAccumulator buffers the individual legs a multi-leg strategy
// emits under a shared spread_id and invokes a callback once every
// expected leg has arrived. A group still incomplete maxGapMs after its
// first leg is discarded without invoking the callback.
type SpreadAccumulator struct {
	mu         sync.Mutex
	groups     map[string]*PendingSpread
	maxGapMs   int64
	onComplete func(ctx context.Context, legs []domain.Action, policy domain.LegPolicy) error
	logger     *slog.Logger
}

// NewSpreadAccumulator creates an accumulator. maxGapMs is the maximum
// time allowed between the first and last leg of a spread; when
// exceeded the group is discarded and never reaches onComplete.
func NewSpreadAccumulator(
	maxGapMs int64,
	onComplete func(ctx context.Context, legs []domain.Action, policy domain.LegPolicy) error,
	logger *slog.Logger,
) *SpreadAccumulator {
	return &SpreadAccumulator{
		groups:     make(map[string]*PendingSpread),
		maxGapMs:   maxGapMs,
		onComplete: onComplete,
		logger:     logger.With(slog.String("component", "spread_accumulator")),
	}
}

// Add adds an action to its spread group, keyed by the spread_id/
// leg_count/leg_policy metadata a multi-leg strategy attaches to each
// leg it emits. An action without a spread_id is a single-leg action
// and Add returns false so the caller routes it through the pipeline
// directly. Returns true once the action has been absorbed into a
// group, whether or not that group is now complete.
func (a *SpreadAccumulator) Add(ctx context.Context, action domain.Action) (grouped bool) {
	spreadID, ok := action.Metadata["spread_id"]
	if !ok || spreadID == "" {
		return false
	}
	expected := 1
	if n, err := strconv.Atoi(action.Metadata["leg_count"]); err == nil && n > 0 {
		expected = n
	}
	policy := domain.LegPolicyBestEffort
	if p := action.Metadata["leg_policy"]; p != "" {
		policy = domain.LegPolicy(p)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	g, exists := a.groups[spreadID]
	if !exists {
		g = &PendingSpread{
			SpreadID:  spreadID,
			Expected:  expected,
			Policy:    policy,
			FirstSeen: time.Now().UTC(),
		}
		g.timer = time.AfterFunc(time.Duration(a.maxGapMs)*time.Millisecond, func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			if pending, ok := a.groups[spreadID]; ok {
				delete(a.groups, spreadID)
				a.logger.Warn("spread timed out",
					slog.String("spread_id", spreadID),
					slog.Int("received", len(pending.Legs)),
					slog.Int("expected", expected),
				)
			}
		})
		a.groups[spreadID] = g
	}

	g.Legs = append(g.Legs, action)
	if len(g.Legs) < g.Expected {
		return true
	}

	g.timer.Stop()
	delete(a.groups, spreadID)
	legs := make([]domain.Action, len(g.Legs))
	copy(legs, g.Legs)
	a.mu.Unlock()
	err := a.onComplete(ctx, legs, g.Policy)
	a.mu.Lock()
	if err != nil {
		a.logger.Error("spread onComplete failed",
			slog.String("spread_id", spreadID),
			slog.String("error", err.Error()),
		)
	}
	return true
}
