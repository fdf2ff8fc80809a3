package service

import (
	"context"
	"testing"
	"time"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

type fakeBookQuoter struct {
	bid, ask float64
	err      error
}

func (f fakeBookQuoter) GetBBO(context.Context, string) (float64, float64, error) {
	return f.bid, f.ask, f.err
}

type fakeOrderStore struct {
	created      []domain.Order
	statuses     map[string]domain.OrderStatus
	openByWallet map[string][]domain.Order
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{statuses: map[string]domain.OrderStatus{}}
}

func (f *fakeOrderStore) Create(_ context.Context, o domain.Order) error {
	f.created = append(f.created, o)
	f.statuses[o.ID] = o.Status
	return nil
}
func (f *fakeOrderStore) UpdateStatus(_ context.Context, id string, status domain.OrderStatus) error {
	f.statuses[id] = status
	return nil
}
func (f *fakeOrderStore) GetByID(context.Context, string) (domain.Order, error) {
	return domain.Order{}, nil
}
func (f *fakeOrderStore) ListOpen(_ context.Context, wallet string) ([]domain.Order, error) {
	return f.openByWallet[wallet], nil
}
func (f *fakeOrderStore) ListByMarket(context.Context, string, domain.ListOpts) ([]domain.Order, error) {
	return nil, nil
}
func (f *fakeOrderStore) ListRecent(context.Context, string, string, time.Time) ([]domain.Order, error) {
	return nil, nil
}

func TestPaperPlacerFillsMarketOrderImmediately(t *testing.T) {
	t.Parallel()
	orders := newFakeOrderStore()
	placer := NewPaperPlacer(fakeBookQuoter{bid: 0.49, ask: 0.51}, orders, &fakeBus{}, PaperConfig{FeeBps: 10, SlippageBps: 0}, testLogger())

	order := domain.Order{ID: "o1", TokenID: "tok1", Side: domain.OrderSideBuy, Kind: domain.OrderKindMarket, SizeUnits: int64(5 * 1e6)}
	result, err := placer.PlaceOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.OrderStatusMatched {
		t.Fatalf("expected matched, got %v", result.Status)
	}
	if result.FilledPrice < 0.51 {
		t.Fatalf("expected fill price >= ask 0.51, got %f", result.FilledPrice)
	}
}

func TestPaperPlacerRestsNonCrossingLimitOrder(t *testing.T) {
	t.Parallel()
	orders := newFakeOrderStore()
	placer := NewPaperPlacer(fakeBookQuoter{bid: 0.49, ask: 0.51}, orders, &fakeBus{}, PaperConfig{}, testLogger())

	order := domain.Order{ID: "o2", TokenID: "tok1", Side: domain.OrderSideBuy, Kind: domain.OrderKindLimit, PriceTicks: int64(0.40 * 1e6)}
	result, err := placer.PlaceOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.OrderStatusOpen {
		t.Fatalf("expected resting open order, got %v", result.Status)
	}
}

func TestPaperPlacerFillsCrossingLimitOrder(t *testing.T) {
	t.Parallel()
	orders := newFakeOrderStore()
	placer := NewPaperPlacer(fakeBookQuoter{bid: 0.49, ask: 0.51}, orders, &fakeBus{}, PaperConfig{}, testLogger())

	order := domain.Order{ID: "o3", TokenID: "tok1", Side: domain.OrderSideBuy, Kind: domain.OrderKindLimit, PriceTicks: int64(0.60 * 1e6)}
	result, err := placer.PlaceOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.OrderStatusMatched {
		t.Fatalf("expected immediate fill for crossing limit order, got %v", result.Status)
	}
}

func TestPaperPlacerCancelOrderMarksCancelled(t *testing.T) {
	t.Parallel()
	orders := newFakeOrderStore()
	placer := NewPaperPlacer(fakeBookQuoter{bid: 0.49, ask: 0.51}, orders, &fakeBus{}, PaperConfig{}, testLogger())

	if _, err := placer.PlaceOrder(context.Background(), domain.Order{ID: "o4", TokenID: "tok1", Kind: domain.OrderKindLimit, PriceTicks: int64(0.10 * 1e6), Side: domain.OrderSideBuy}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := placer.CancelOrder(context.Background(), "o4"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if orders.statuses["o4"] != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled status, got %v", orders.statuses["o4"])
	}
}
