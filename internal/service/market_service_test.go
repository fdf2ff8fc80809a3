package service

import (
	"context"
	"testing"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

type fakeMarketCache struct {
	byID    map[string]domain.Market
	byToken map[string]domain.Market
	sets    int
}

func (f *fakeMarketCache) Set(_ context.Context, m domain.Market) error {
	f.sets++
	if f.byID == nil {
		f.byID = map[string]domain.Market{}
	}
	f.byID[m.ConditionID] = m
	return nil
}
func (f *fakeMarketCache) Get(_ context.Context, id string) (domain.Market, error) {
	m, ok := f.byID[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}
func (f *fakeMarketCache) GetByToken(_ context.Context, tokenID string) (domain.Market, error) {
	m, ok := f.byToken[tokenID]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}
func (f *fakeMarketCache) Invalidate(context.Context, string) error { return nil }

func TestMarketServiceGetMarketFallsBackToStoreOnCacheMiss(t *testing.T) {
	t.Parallel()
	store := &fakeMarketStore{market: domain.Market{ConditionID: "m1", Question: "will it?"}}
	cache := &fakeMarketCache{}
	svc := NewMarketService(store, cache, &fakeBus{}, testLogger())

	m, err := svc.GetMarket(context.Background(), "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.ConditionID != "m1" {
		t.Fatalf("expected market m1, got %+v", m)
	}
	if cache.sets != 1 {
		t.Fatalf("expected cache back-fill on miss, got %d sets", cache.sets)
	}
}

func TestMarketServiceSyncMarketsUpsertsAndInvalidates(t *testing.T) {
	t.Parallel()
	store := &fakeMarketStore{}
	svc := NewMarketService(store, &fakeMarketCache{}, &fakeBus{}, testLogger())

	if err := svc.SyncMarkets(context.Background(), []domain.Market{{ConditionID: "m1"}, {ConditionID: "m2"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
