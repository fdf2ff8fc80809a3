package service

import (
	"context"
	"testing"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

type fakeMarketStore struct {
	market domain.Market
}

func (f *fakeMarketStore) Upsert(context.Context, domain.Market) error      { return nil }
func (f *fakeMarketStore) UpsertBatch(context.Context, []domain.Market) error { return nil }
func (f *fakeMarketStore) GetByID(context.Context, string) (domain.Market, error) {
	return f.market, nil
}
func (f *fakeMarketStore) GetByTokenID(context.Context, string) (domain.Market, error) {
	return f.market, nil
}
func (f *fakeMarketStore) GetBySlug(context.Context, string) (domain.Market, error) {
	return f.market, nil
}
func (f *fakeMarketStore) ListActive(context.Context, domain.ListOpts) ([]domain.Market, error) {
	return nil, nil
}
func (f *fakeMarketStore) Count(context.Context) (int64, error) { return 0, nil }

type closingPositionStore struct {
	fakePositionStore
	closed []string
}

func (c *closingPositionStore) Close(_ context.Context, id string, exitPrice float64, reason domain.CloseReason) error {
	c.closed = append(c.closed, id)
	return nil
}

type fakeStrategyStateStore struct {
	states map[string]domain.StrategyState
}

func (f *fakeStrategyStateStore) Get(_ context.Context, name string) (domain.StrategyState, error) {
	return f.states[name], nil
}
func (f *fakeStrategyStateStore) Upsert(_ context.Context, s domain.StrategyState) error {
	f.states[s.Name] = s
	return nil
}
func (f *fakeStrategyStateStore) List(context.Context) ([]domain.StrategyState, error) { return nil, nil }

type fakeBus struct {
	published int
}

func (f *fakeBus) Publish(context.Context, string, []byte) error { f.published++; return nil }
func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (f *fakeBus) StreamAppend(context.Context, string, []byte) error       { return nil }
func (f *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestSettlementServiceSettlesWinningAndLosingLegs(t *testing.T) {
	t.Parallel()
	market := domain.Market{ConditionID: "m1", YesTokenID: "yes1", NoTokenID: "no1"}
	positions := &closingPositionStore{fakePositionStore: fakePositionStore{open: []domain.Position{
		{ID: "pos-yes", MarketID: "m1", TokenID: "yes1", Direction: domain.OrderSideBuy, EntryPrice: 0.4, RemainingShares: 10, Strategy: "s1"},
		{ID: "pos-no", MarketID: "m1", TokenID: "no1", Direction: domain.OrderSideBuy, EntryPrice: 0.6, RemainingShares: 10, Strategy: "s1"},
	}}}
	states := &fakeStrategyStateStore{states: map[string]domain.StrategyState{"s1": {Name: "s1", OpenPositions: 2}}}
	bus := &fakeBus{}

	svc := NewSettlementService(positions, &fakeMarketStore{market: market}, states, nil, bus, testLogger())
	if err := svc.ApplyResolution(context.Background(), "wallet-1", "m1", domain.TokenYes); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(positions.closed) != 2 {
		t.Fatalf("expected both positions closed, got %v", positions.closed)
	}
	if states.states["s1"].OpenPositions != 0 {
		t.Fatalf("expected open positions decremented to 0, got %d", states.states["s1"].OpenPositions)
	}
	if bus.published != 2 {
		t.Fatalf("expected 2 settlement events published, got %d", bus.published)
	}
}

func TestSettlementServiceSkipsPositionsInOtherMarkets(t *testing.T) {
	t.Parallel()
	market := domain.Market{ConditionID: "m1", YesTokenID: "yes1", NoTokenID: "no1"}
	positions := &closingPositionStore{fakePositionStore: fakePositionStore{open: []domain.Position{
		{ID: "pos-other", MarketID: "m2", TokenID: "yes2", Strategy: "s1"},
	}}}
	states := &fakeStrategyStateStore{states: map[string]domain.StrategyState{}}

	svc := NewSettlementService(positions, &fakeMarketStore{market: market}, states, nil, &fakeBus{}, testLogger())
	if err := svc.ApplyResolution(context.Background(), "wallet-1", "m1", domain.TokenYes); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions.closed) != 0 {
		t.Fatalf("expected no positions closed, got %v", positions.closed)
	}
}
