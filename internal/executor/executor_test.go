package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

type fakeDecisions struct {
	mu      sync.Mutex
	created []domain.TradeDecision
	final   []domain.TradeDecision
}

func (f *fakeDecisions) Create(_ context.Context, d domain.TradeDecision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, d)
	return nil
}

func (f *fakeDecisions) Finalize(_ context.Context, id string, status domain.DecisionStatus, orderID, gate, reason string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.final = append(f.final, domain.TradeDecision{ID: id, Status: status, OrderID: orderID, RejectedGate: gate, RejectReason: reason})
	return nil
}

func (f *fakeDecisions) GetByID(context.Context, string) (domain.TradeDecision, error) {
	return domain.TradeDecision{}, nil
}
func (f *fakeDecisions) ListPending(context.Context) ([]domain.TradeDecision, error) { return nil, nil }
func (f *fakeDecisions) List(context.Context, domain.ListOpts) ([]domain.TradeDecision, error) {
	return nil, nil
}

func (f *fakeDecisions) statuses() []domain.DecisionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.DecisionStatus, len(f.final))
	for i, d := range f.final {
		out[i] = d.Status
	}
	return out
}

type fakePlacer struct {
	mu        sync.Mutex
	placed    []domain.Order
	cancelled []string
	result    domain.OrderResult
	err       error
}

func (f *fakePlacer) PlaceOrder(_ context.Context, order domain.Order) (domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, order)
	if f.result.OrderID == "" && f.err == nil {
		return domain.OrderResult{Success: true, OrderID: "ord-" + order.ID, Status: domain.OrderStatusOpen}, nil
	}
	return f.result, f.err
}

func (f *fakePlacer) CancelOrder(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func freshAction(id string) domain.Action {
	return domain.Action{
		ID:           id,
		Strategy:     "test",
		MarketID:     "m1",
		TokenID:      "tok1",
		Side:         domain.OrderSideBuy,
		Kind:         domain.OrderKindMarket,
		SizeUSDTicks: int64(5 * 1e6),
		CreatedAt:    time.Now().UTC(),
		ExpiresAt:    time.Now().UTC().Add(time.Minute),
	}
}

func TestExecutorExecutesSingleLegAction(t *testing.T) {
	t.Parallel()
	actionCh := make(chan domain.Action, 1)
	decisions := &fakeDecisions{}
	placer := &fakePlacer{}
	pricer := NewPricer(fakeBooks{bid: 0.49, ask: 0.51, mid: 0.50, ok: true}, 200)

	e := NewExecutor(actionCh, nil, pricer, placer, decisions, nil, nil, "wallet-1", 2000, 0, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go e.Run(ctx)

	actionCh <- freshAction("a1")
	waitFor(t, func() bool { return len(decisions.statuses()) == 1 })

	statuses := decisions.statuses()
	if statuses[0] != domain.DecisionStatusExecuted {
		t.Fatalf("expected executed, got %v", statuses[0])
	}

	placer.mu.Lock()
	defer placer.mu.Unlock()
	if len(placer.placed) != 1 {
		t.Fatalf("expected 1 order placed, got %d", len(placer.placed))
	}
}

func TestExecutorRejectsStaleAction(t *testing.T) {
	t.Parallel()
	actionCh := make(chan domain.Action, 1)
	decisions := &fakeDecisions{}
	placer := &fakePlacer{}
	pricer := NewPricer(fakeBooks{bid: 0.49, ask: 0.51, mid: 0.50, ok: true}, 200)

	e := NewExecutor(actionCh, []Gate{freshnessGate{}}, pricer, placer, decisions, nil, nil, "wallet-1", 2000, 0, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go e.Run(ctx)

	stale := freshAction("a-stale")
	stale.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	actionCh <- stale

	waitFor(t, func() bool { return len(decisions.statuses()) == 1 })

	statuses := decisions.statuses()
	if statuses[0] != domain.DecisionStatusRejected {
		t.Fatalf("expected rejected, got %v", statuses[0])
	}

	placer.mu.Lock()
	defer placer.mu.Unlock()
	if len(placer.placed) != 0 {
		t.Fatalf("expected no order placed for a stale action, got %d", len(placer.placed))
	}
}

func TestExecutorDeduplicatesRepeatedActionID(t *testing.T) {
	t.Parallel()
	actionCh := make(chan domain.Action, 2)
	decisions := &fakeDecisions{}
	placer := &fakePlacer{}
	pricer := NewPricer(fakeBooks{bid: 0.49, ask: 0.51, mid: 0.50, ok: true}, 200)

	e := NewExecutor(actionCh, nil, pricer, placer, decisions, nil, nil, "wallet-1", 2000, 0, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go e.Run(ctx)

	actionCh <- freshAction("dup")
	waitFor(t, func() bool { return len(decisions.statuses()) == 1 })
	actionCh <- freshAction("dup")

	time.Sleep(100 * time.Millisecond)
	if n := len(decisions.statuses()); n != 1 {
		t.Fatalf("expected duplicate to be dropped before reaching the pipeline, got %d decisions", n)
	}
}

func TestExecutorUnwindsAllOrNoneSpreadOnLegFailure(t *testing.T) {
	t.Parallel()
	actionCh := make(chan domain.Action, 2)
	decisions := &fakeDecisions{}
	placer := &fakePlacer{}
	pricer := NewPricer(fakeBooks{bid: 0.49, ask: 0.51, mid: 0.50, ok: true}, 200)

	failing := failOnToken{tokenID: "tok-fail"}
	e := NewExecutor(actionCh, []Gate{failing}, pricer, placer, decisions, nil, nil, "wallet-1", 2000, 0, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go e.Run(ctx)

	leg1 := freshAction("leg1")
	leg1.Metadata = map[string]string{"spread_id": "sp1", "leg_count": "2", "leg_policy": "all_or_none"}
	leg2 := freshAction("leg2")
	leg2.TokenID = "tok-fail"
	leg2.Metadata = map[string]string{"spread_id": "sp1", "leg_count": "2", "leg_policy": "all_or_none"}

	actionCh <- leg1
	actionCh <- leg2

	waitFor(t, func() bool {
		placer.mu.Lock()
		defer placer.mu.Unlock()
		return len(placer.cancelled) == 1
	})

	placer.mu.Lock()
	defer placer.mu.Unlock()
	if len(placer.placed) != 1 || placer.placed[0].ID != "leg1" {
		t.Fatalf("expected only leg1 to be placed, got %+v", placer.placed)
	}
	if len(placer.cancelled) != 1 || placer.cancelled[0] != "ord-leg1" {
		t.Fatalf("expected leg1's order to be cancelled, got %+v", placer.cancelled)
	}
}

type failOnToken struct{ tokenID string }

func (failOnToken) Name() string { return "fail_on_token" }
func (f failOnToken) Check(_ context.Context, action domain.Action) error {
	if action.TokenID == f.tokenID {
		return domain.ErrPriceDeviation
	}
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for condition")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
