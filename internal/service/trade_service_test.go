package service

import (
	"context"
	"testing"
	"time"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

type fakeTradeStore struct {
	inserted []domain.Trade
	lastTS   time.Time
}

func (f *fakeTradeStore) InsertBatch(_ context.Context, trades []domain.Trade) error {
	f.inserted = append(f.inserted, trades...)
	return nil
}
func (f *fakeTradeStore) GetLastTimestamp(context.Context) (time.Time, error) { return f.lastTS, nil }
func (f *fakeTradeStore) ListByMarket(context.Context, string, domain.ListOpts) ([]domain.Trade, error) {
	return f.inserted, nil
}
func (f *fakeTradeStore) ListByWallet(context.Context, string, domain.ListOpts) ([]domain.Trade, error) {
	return f.inserted, nil
}

func TestTradeServiceIngestTradesPublishesPerTrade(t *testing.T) {
	t.Parallel()
	trades := &fakeTradeStore{}
	bus := &fakeBus{}
	svc := NewTradeService(trades, bus, testLogger())

	batch := []domain.Trade{
		{ID: 1, MarketID: "m1", Price: 0.5, USDAmount: 10, Timestamp: time.Now()},
		{ID: 2, MarketID: "m1", Price: 0.6, USDAmount: 5, Timestamp: time.Now()},
	}
	if err := svc.IngestTrades(context.Background(), batch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades.inserted) != 2 {
		t.Fatalf("expected 2 trades inserted, got %d", len(trades.inserted))
	}
	if bus.published != 2 {
		t.Fatalf("expected 2 publish events, got %d", bus.published)
	}
}

func TestTradeServiceIngestEmptyBatchIsNoop(t *testing.T) {
	t.Parallel()
	trades := &fakeTradeStore{}
	svc := NewTradeService(trades, &fakeBus{}, testLogger())

	if err := svc.IngestTrades(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades.inserted) != 0 {
		t.Fatalf("expected no trades inserted, got %d", len(trades.inserted))
	}
}
