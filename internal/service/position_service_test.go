package service

import (
	"context"
	"testing"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

type recordingPositionStore struct {
	byID    map[string]domain.Position
	updated []domain.Position
	closed  []string
}

func newRecordingPositionStore() *recordingPositionStore {
	return &recordingPositionStore{byID: map[string]domain.Position{}}
}

func (r *recordingPositionStore) Create(_ context.Context, pos domain.Position) error {
	r.byID[pos.ID] = pos
	return nil
}
func (r *recordingPositionStore) Update(_ context.Context, pos domain.Position) error {
	r.updated = append(r.updated, pos)
	r.byID[pos.ID] = pos
	return nil
}
func (r *recordingPositionStore) Close(_ context.Context, id string, exitPrice float64, reason domain.CloseReason) error {
	r.closed = append(r.closed, id)
	return nil
}
func (r *recordingPositionStore) GetOpen(context.Context, string) ([]domain.Position, error) {
	out := make([]domain.Position, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	return out, nil
}
func (r *recordingPositionStore) GetOpenByMarket(context.Context, string, string) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}
func (r *recordingPositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	p, ok := r.byID[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}
func (r *recordingPositionStore) ListHistory(context.Context, string, domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

func TestPositionServiceOpenPositionSetsRemainingShares(t *testing.T) {
	t.Parallel()
	store := newRecordingPositionStore()
	svc := NewPositionService(store, &fakePriceCache{}, &fakeBus{}, testLogger())

	order := domain.Order{ID: "ord-1", MarketID: "m1", TokenID: "tok1", Wallet: "wallet-1", Side: domain.OrderSideBuy, SizeUnits: int64(10 * 1e6)}
	pos, err := svc.OpenPosition(context.Background(), order, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos.RemainingShares != 10 || pos.CostBasis != 5 {
		t.Fatalf("expected remaining shares 10 and cost basis 5, got %+v", pos)
	}
}

func TestPositionServiceClosePositionRecordsReason(t *testing.T) {
	t.Parallel()
	store := newRecordingPositionStore()
	store.byID["pos-1"] = domain.Position{ID: "pos-1", Direction: domain.OrderSideBuy, EntryPrice: 0.4, RemainingShares: 10}
	svc := NewPositionService(store, &fakePriceCache{}, &fakeBus{}, testLogger())

	if err := svc.ClosePosition(context.Background(), "pos-1", 0.6, domain.CloseReasonTakeProfit); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.closed) != 1 || store.closed[0] != "pos-1" {
		t.Fatalf("expected pos-1 closed, got %v", store.closed)
	}
}

func TestPositionServiceCheckStopLossTriggersOnBreach(t *testing.T) {
	t.Parallel()
	store := newRecordingPositionStore()
	sl := 0.3
	store.byID["pos-1"] = domain.Position{ID: "pos-1", TokenID: "tok1", Direction: domain.OrderSideBuy, StopLoss: &sl}
	prices := &fakePriceCache{prices: map[string]float64{"tok1": 0.25}}
	svc := NewPositionService(store, prices, &fakeBus{}, testLogger())

	triggered, err := svc.CheckStopLoss(context.Background(), "wallet-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(triggered) != 1 {
		t.Fatalf("expected 1 triggered position, got %d", len(triggered))
	}
}

func TestPositionServiceCheckTakeProfitIgnoresUnsetTarget(t *testing.T) {
	t.Parallel()
	store := newRecordingPositionStore()
	store.byID["pos-1"] = domain.Position{ID: "pos-1", TokenID: "tok1", Direction: domain.OrderSideBuy}
	prices := &fakePriceCache{prices: map[string]float64{"tok1": 10}}
	svc := NewPositionService(store, prices, &fakeBus{}, testLogger())

	triggered, err := svc.CheckTakeProfit(context.Background(), "wallet-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(triggered) != 0 {
		t.Fatalf("expected no triggered positions, got %d", len(triggered))
	}
}
