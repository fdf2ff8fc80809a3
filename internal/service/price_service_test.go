package service

import (
	"context"
	"testing"
	"time"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

type fakeOrderbookCache struct {
	bid, ask float64
}

func (f *fakeOrderbookCache) SetSnapshot(context.Context, string, domain.OrderbookSnapshot) error {
	return nil
}
func (f *fakeOrderbookCache) GetSnapshot(context.Context, string) (domain.OrderbookSnapshot, error) {
	return domain.OrderbookSnapshot{}, nil
}
func (f *fakeOrderbookCache) UpdateLevel(_ context.Context, _ string, side string, price, _ float64) error {
	if side == "BUY" {
		f.bid = price
	} else {
		f.ask = price
	}
	return nil
}
func (f *fakeOrderbookCache) GetBBO(context.Context, string) (float64, float64, error) {
	return f.bid, f.ask, nil
}

func TestPriceServiceHandlePriceChangeUpdatesMidPrice(t *testing.T) {
	t.Parallel()
	priceCache := &fakePriceCache{prices: map[string]float64{}}
	bookCache := &fakeOrderbookCache{bid: 0.49, ask: 0.51}
	svc := NewPriceService(priceCache, bookCache, &fakeBus{}, testLogger())

	change := domain.PriceChange{AssetID: "tok1", Side: "BUY", Price: 0.48, Size: 10, Timestamp: time.Now()}
	if err := svc.HandlePriceChange(context.Background(), change); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	price, _, err := svc.GetPrice(context.Background(), "tok1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := (0.48 + 0.51) / 2
	if price != want {
		t.Fatalf("expected mid price %f, got %f", want, price)
	}
}

func TestPriceServiceHandleBookUpdateStoresSnapshot(t *testing.T) {
	t.Parallel()
	priceCache := &fakePriceCache{prices: map[string]float64{}}
	bookCache := &fakeOrderbookCache{}
	svc := NewPriceService(priceCache, bookCache, &fakeBus{}, testLogger())

	snap := domain.OrderbookSnapshot{AssetID: "tok1", BestBid: 0.4, BestAsk: 0.6, MidPrice: 0.5, Timestamp: time.Now()}
	if err := svc.HandleBookUpdate(context.Background(), snap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	price, _, err := svc.GetPrice(context.Background(), "tok1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != 0.5 {
		t.Fatalf("expected mid price 0.5, got %f", price)
	}
}
