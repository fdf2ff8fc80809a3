package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakePositionStore struct {
	open []domain.Position
}

func (f *fakePositionStore) Create(context.Context, domain.Position) error { return nil }
func (f *fakePositionStore) Update(context.Context, domain.Position) error { return nil }
func (f *fakePositionStore) Close(context.Context, string, float64, domain.CloseReason) error {
	return nil
}
func (f *fakePositionStore) GetOpen(context.Context, string) ([]domain.Position, error) {
	return f.open, nil
}
func (f *fakePositionStore) GetOpenByMarket(context.Context, string, string) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}
func (f *fakePositionStore) GetByID(context.Context, string) (domain.Position, error) {
	return domain.Position{}, nil
}
func (f *fakePositionStore) ListHistory(context.Context, string, domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

type fakePriceCache struct {
	prices map[string]float64
}

func (f *fakePriceCache) SetPrice(_ context.Context, assetID string, price float64, _ time.Time) error {
	if f.prices == nil {
		f.prices = map[string]float64{}
	}
	f.prices[assetID] = price
	return nil
}
func (f *fakePriceCache) GetPrice(_ context.Context, assetID string) (float64, time.Time, error) {
	return f.prices[assetID], time.Now(), nil
}
func (f *fakePriceCache) GetPrices(_ context.Context, assetIDs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(assetIDs))
	for _, id := range assetIDs {
		out[id] = f.prices[id]
	}
	return out, nil
}

func TestStateManagerRejectsAtMaxPositions(t *testing.T) {
	t.Parallel()
	positions := &fakePositionStore{open: []domain.Position{{TokenID: "t1"}, {TokenID: "t2"}}}
	sm := NewStateManager(positions, &fakePriceCache{}, nil, nil, nil, nil, nil, nil, StateManagerConfig{MaxPositions: 2}, testLogger())

	err := sm.PreTradeCheck(context.Background(), domain.Action{Kind: domain.OrderKindMarket}, "wallet-1")
	if !errors.Is(err, domain.ErrPositionLimit) {
		t.Fatalf("expected ErrPositionLimit, got %v", err)
	}
}

func TestStateManagerRejectsAboveMaxExposure(t *testing.T) {
	t.Parallel()
	positions := &fakePositionStore{open: []domain.Position{{TokenID: "t1", RemainingShares: 100, CurrentPrice: 0.5}}}
	prices := &fakePriceCache{prices: map[string]float64{"t1": 0.6}}
	sm := NewStateManager(positions, prices, nil, nil, nil, nil, nil, nil, StateManagerConfig{MaxPositions: 10, MaxExposure: 50}, testLogger())

	err := sm.PreTradeCheck(context.Background(), domain.Action{Kind: domain.OrderKindMarket}, "wallet-1")
	if !errors.Is(err, domain.ErrExposureLimit) {
		t.Fatalf("expected ErrExposureLimit, got %v", err)
	}
}

func TestStateManagerRejectsTradeOverMaxAmount(t *testing.T) {
	t.Parallel()
	sm := NewStateManager(&fakePositionStore{}, &fakePriceCache{}, nil, nil, nil, nil, nil, nil, StateManagerConfig{MaxPositions: 10, MaxTradeAmount: 10}, testLogger())

	action := domain.Action{Kind: domain.OrderKindMarket, SizeUSDTicks: int64(20 * 1e6)}
	err := sm.PreTradeCheck(context.Background(), action, "wallet-1")
	if !errors.Is(err, domain.ErrInsufficientCapital) {
		t.Fatalf("expected ErrInsufficientCapital, got %v", err)
	}
}

func TestStateManagerRejectsExcessiveSlippage(t *testing.T) {
	t.Parallel()
	prices := &fakePriceCache{prices: map[string]float64{"tok1": 0.50}}
	sm := NewStateManager(&fakePositionStore{}, prices, nil, nil, nil, nil, nil, nil, StateManagerConfig{MaxPositions: 10, MaxSlippageBps: 100}, testLogger())

	action := domain.Action{Kind: domain.OrderKindLimit, TokenID: "tok1", Side: domain.OrderSideBuy, PriceTicks: int64(0.60 * 1e6)}
	err := sm.PreTradeCheck(context.Background(), action, "wallet-1")
	if !errors.Is(err, domain.ErrPriceDeviation) {
		t.Fatalf("expected ErrPriceDeviation, got %v", err)
	}
}

func TestStateManagerPassesWithinLimits(t *testing.T) {
	t.Parallel()
	prices := &fakePriceCache{prices: map[string]float64{"tok1": 0.50}}
	sm := NewStateManager(&fakePositionStore{}, prices, nil, nil, nil, nil, nil, nil, StateManagerConfig{MaxPositions: 10, MaxTradeAmount: 1000, MaxSlippageBps: 500}, testLogger())

	action := domain.Action{Kind: domain.OrderKindLimit, TokenID: "tok1", Side: domain.OrderSideBuy, PriceTicks: int64(0.51 * 1e6), SizeUSDTicks: int64(5 * 1e6)}
	if err := sm.PreTradeCheck(context.Background(), action, "wallet-1"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestStateManagerTracksDrawdownAgainstPeakEquity(t *testing.T) {
	t.Parallel()
	positions := &fakePositionStore{open: []domain.Position{{TokenID: "t1", RemainingShares: 100}}}
	prices := &fakePriceCache{prices: map[string]float64{"t1": 9}}
	sm := NewStateManager(positions, prices, nil, nil, nil, nil, nil, nil, StateManagerConfig{
		MaxPositions:    10,
		StartingCapital: 1000,
		MaxDrawdownBps:  500, // 5%
	}, testLogger())

	// exposure 900 => equity 100, deep drawdown vs starting peak of 1000.
	err := sm.PreTradeCheck(context.Background(), domain.Action{Kind: domain.OrderKindMarket}, "wallet-1")
	if !errors.Is(err, domain.ErrDrawdownBreached) {
		t.Fatalf("expected ErrDrawdownBreached, got %v", err)
	}
}

func TestStateManagerPositionExposureSumsNotional(t *testing.T) {
	t.Parallel()
	positions := &fakePositionStore{open: []domain.Position{
		{TokenID: "t1", RemainingShares: 10},
		{TokenID: "t2", RemainingShares: 20},
	}}
	prices := &fakePriceCache{prices: map[string]float64{"t1": 0.5, "t2": 0.25}}
	sm := NewStateManager(positions, prices, nil, nil, nil, nil, nil, nil, StateManagerConfig{}, testLogger())

	exposure, err := sm.PositionExposure(context.Background(), "wallet-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exposure != 10*0.5+20*0.25 {
		t.Fatalf("expected 10, got %f", exposure)
	}
}
