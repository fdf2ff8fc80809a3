package executor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

func TestSpreadAccumulatorFiresOnceComplete(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var got []domain.Action
	done := make(chan struct{}, 1)

	acc := NewSpreadAccumulator(2000, func(_ context.Context, legs []domain.Action, policy domain.LegPolicy) error {
		mu.Lock()
		got = legs
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, testLogger())

	leg1 := domain.Action{ID: "a1", Metadata: map[string]string{"spread_id": "s1", "leg_count": "2", "leg_policy": "all_or_none"}}
	leg2 := domain.Action{ID: "a2", Metadata: map[string]string{"spread_id": "s1", "leg_count": "2", "leg_policy": "all_or_none"}}

	if grouped := acc.Add(context.Background(), leg1); !grouped {
		t.Fatal("expected first leg to be absorbed into the group")
	}
	if grouped := acc.Add(context.Background(), leg2); !grouped {
		t.Fatal("expected second leg to be absorbed into the group")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onComplete")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected 2 legs, got %d", len(got))
	}
}

func TestSpreadAccumulatorIgnoresSingleLegActions(t *testing.T) {
	t.Parallel()
	acc := NewSpreadAccumulator(2000, func(context.Context, []domain.Action, domain.LegPolicy) error {
		t.Fatal("onComplete should not fire for a single-leg action")
		return nil
	}, testLogger())

	if grouped := acc.Add(context.Background(), domain.Action{ID: "solo"}); grouped {
		t.Fatal("expected single-leg action to bypass the accumulator")
	}
}

func TestSpreadAccumulatorDropsGroupOnTimeout(t *testing.T) {
	t.Parallel()
	fired := make(chan struct{}, 1)
	acc := NewSpreadAccumulator(30, func(context.Context, []domain.Action, domain.LegPolicy) error {
		fired <- struct{}{}
		return nil
	}, testLogger())

	leg := domain.Action{ID: "a1", Metadata: map[string]string{"spread_id": "s1", "leg_count": "2"}}
	acc.Add(context.Background(), leg)

	select {
	case <-fired:
		t.Fatal("onComplete should not fire when the group never completes")
	case <-time.After(200 * time.Millisecond):
	}

	acc.mu.Lock()
	_, exists := acc.groups["s1"]
	acc.mu.Unlock()
	if exists {
		t.Fatal("expected timed-out group to be removed")
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard,&slog.HandlerOptions{Level: slog.LevelError}))
}
