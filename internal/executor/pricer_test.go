package executor

import (
	"context"
	"testing"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

func TestPricerMarketOrderUsesTouchPrice(t *testing.T) {
	t.Parallel()
	p := NewPricer(fakeBooks{bid: 0.49, ask: 0.51, mid: 0.50, ok: true}, 200)
	action := domain.Action{Kind: domain.OrderKindMarket, Side: domain.OrderSideBuy}
	q, err := p.Quote(context.Background(), action)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Price != 0.51 || q.Kind != domain.OrderKindMarket {
		t.Fatalf("expected ask 0.51/market, got %+v", q)
	}
}

func TestPricerMarketOrderUsesTouchPriceOnWideBook(t *testing.T) {
	t.Parallel()
	p := NewPricer(fakeBooks{bid: 0.30, ask: 0.70, mid: 0.50, ok: true}, 100)
	action := domain.Action{Kind: domain.OrderKindMarket, Side: domain.OrderSideBuy}
	q, err := p.Quote(context.Background(), action)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Price != 0.70 {
		t.Fatalf("expected ask 0.70, got %f", q.Price)
	}
}

func TestPricerLimitOrderClampsToSlippageCap(t *testing.T) {
	t.Parallel()
	p := NewPricer(fakeBooks{bid: 0.49, ask: 0.51, mid: 0.50, ok: true}, 200) // +/- 2% => [0.49, 0.51]
	action := domain.Action{Kind: domain.OrderKindLimit, PriceTicks: int64(0.90 * 1e6)}
	q, err := p.Quote(context.Background(), action)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Price != 0.51 {
		t.Fatalf("expected price clamped to 0.51, got %f", q.Price)
	}
}

func TestPricerLimitOrderKeepsRequestedPriceWithinCap(t *testing.T) {
	t.Parallel()
	p := NewPricer(fakeBooks{bid: 0.45, ask: 0.55, mid: 0.50, ok: true}, 500)
	action := domain.Action{Kind: domain.OrderKindLimit, PriceTicks: int64(0.505 * 1e6)}
	q, err := p.Quote(context.Background(), action)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Price != 0.505 {
		t.Fatalf("expected requested price preserved, got %f", q.Price)
	}
}

func TestPricerFallsBackWithoutBookSource(t *testing.T) {
	t.Parallel()
	p := NewPricer(nil, 0)
	action := domain.Action{Kind: domain.OrderKindLimit, PriceTicks: int64(0.42 * 1e6)}
	q, err := p.Quote(context.Background(), action)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Price != 0.42 {
		t.Fatalf("expected action's own price, got %f", q.Price)
	}
}

func TestUpgradeDeadlineScalesWithUrgency(t *testing.T) {
	t.Parallel()
	if UpgradeDeadline(domain.ActionUrgencyImmediate) >= UpgradeDeadline(domain.ActionUrgencyLow) {
		t.Fatal("expected immediate urgency to have a shorter deadline than low urgency")
	}
}
