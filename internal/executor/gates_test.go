package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

type fakeBooks struct {
	bid, ask, mid float64
	ok            bool
}

func (f fakeBooks) BestBidAsk(context.Context, string) (float64, float64, float64, bool) {
	return f.bid, f.ask, f.mid, f.ok
}

func TestFreshnessGateRejectsExpired(t *testing.T) {
	t.Parallel()
	g := freshnessGate{}
	action := domain.Action{ExpiresAt: time.Now().UTC().Add(-time.Minute)}
	if err := g.Check(context.Background(), action); !errors.Is(err, domain.ErrSignalStale) {
		t.Fatalf("expected ErrSignalStale, got %v", err)
	}
}

func TestFreshnessGatePassesFresh(t *testing.T) {
	t.Parallel()
	g := freshnessGate{}
	action := domain.Action{ExpiresAt: time.Now().UTC().Add(time.Minute)}
	if err := g.Check(context.Background(), action); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestPriceDeviationGateRejectsBeyondThreshold(t *testing.T) {
	t.Parallel()
	g := priceDeviationGate{books: fakeBooks{bid: 0.49, ask: 0.51, mid: 0.50, ok: true}, maxDeviationBps: 100}
	action := domain.Action{Kind: domain.OrderKindLimit, PriceTicks: int64(0.60 * 1e6), SignalMidTicks: int64(0.60 * 1e6)}
	if err := g.Check(context.Background(), action); !errors.Is(err, domain.ErrPriceDeviation) {
		t.Fatalf("expected ErrPriceDeviation, got %v", err)
	}
}

func TestPriceDeviationGatePassesWithoutSignalMid(t *testing.T) {
	t.Parallel()
	g := priceDeviationGate{books: fakeBooks{bid: 0.49, ask: 0.51, mid: 0.50, ok: true}, maxDeviationBps: 10}
	action := domain.Action{Kind: domain.OrderKindMarket, PriceTicks: int64(0.90 * 1e6)}
	if err := g.Check(context.Background(), action); err != nil {
		t.Fatalf("expected nil when the action carries no signal mid, got %v", err)
	}
}

func TestSpreadGateRejectsWideSpread(t *testing.T) {
	t.Parallel()
	g := spreadGate{books: fakeBooks{bid: 0.40, ask: 0.60, mid: 0.50, ok: true}, maxSpreadBps: 500}
	if err := g.Check(context.Background(), domain.Action{}); !errors.Is(err, domain.ErrSpreadTooWide) {
		t.Fatalf("expected ErrSpreadTooWide, got %v", err)
	}
}

type fakeFees struct {
	bps int64
	err error
}

func (f fakeFees) GetFeeRate(context.Context, string) (int64, error) { return f.bps, f.err }

func TestFeeRateGateRejectsAboveLimit(t *testing.T) {
	t.Parallel()
	g := feeRateGate{fees: fakeFees{bps: 150}, maxFeeBps: 100}
	if err := g.Check(context.Background(), domain.Action{}); !errors.Is(err, domain.ErrFeeRateExceeded) {
		t.Fatalf("expected ErrFeeRateExceeded, got %v", err)
	}
}

type fakePositions struct {
	pos domain.Position
	err error
}

func (f fakePositions) Create(context.Context, domain.Position) error { return nil }
func (f fakePositions) Update(context.Context, domain.Position) error { return nil }
func (f fakePositions) Close(context.Context, string, float64, domain.CloseReason) error {
	return nil
}
func (f fakePositions) GetOpen(context.Context, string) ([]domain.Position, error) { return nil, nil }
func (f fakePositions) GetOpenByMarket(context.Context, string, string) (domain.Position, error) {
	return f.pos, f.err
}
func (f fakePositions) GetByID(context.Context, string) (domain.Position, error) {
	return domain.Position{}, nil
}
func (f fakePositions) ListHistory(context.Context, string, domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

func TestDuplicatePositionGateRejectsSameDirection(t *testing.T) {
	t.Parallel()
	g := duplicatePositionGate{positions: fakePositions{pos: domain.Position{Direction: domain.OrderSideBuy}}}
	action := domain.Action{Side: domain.OrderSideBuy}
	if err := g.Check(context.Background(), action); !errors.Is(err, domain.ErrDuplicatePosition) {
		t.Fatalf("expected ErrDuplicatePosition, got %v", err)
	}
}

func TestDuplicatePositionGatePassesWhenNoneOpen(t *testing.T) {
	t.Parallel()
	g := duplicatePositionGate{positions: fakePositions{err: domain.ErrNotFound}}
	if err := g.Check(context.Background(), domain.Action{Side: domain.OrderSideBuy}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

type fakeCooldowns struct {
	c   domain.Cooldown
	err error
}

func (f fakeCooldowns) Set(context.Context, domain.Cooldown) error { return nil }
func (f fakeCooldowns) Get(context.Context, string, string, string) (domain.Cooldown, error) {
	return f.c, f.err
}
func (f fakeCooldowns) Clear(context.Context, string, string, string) error { return nil }

func TestCooldownGateRejectsWhileActive(t *testing.T) {
	t.Parallel()
	g := cooldownGate{cooldowns: fakeCooldowns{c: domain.Cooldown{ExpiresAt: time.Now().UTC().Add(time.Minute)}}}
	if err := g.Check(context.Background(), domain.Action{}); !errors.Is(err, domain.ErrInCooldown) {
		t.Fatalf("expected ErrInCooldown, got %v", err)
	}
}

func TestCooldownGatePassesWhenExpired(t *testing.T) {
	t.Parallel()
	g := cooldownGate{cooldowns: fakeCooldowns{c: domain.Cooldown{ExpiresAt: time.Now().UTC().Add(-time.Minute)}}}
	if err := g.Check(context.Background(), domain.Action{}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestGateOrderMatchesSpec(t *testing.T) {
	t.Parallel()
	gates := Gates(nil, nil, nil, nil, nil, nil, GateConfig{}, "wallet")
	want := []string{
		"freshness", "price_deviation", "spread", "fee_rate",
		"duplicate_position", "recent_order", "risk_limit", "cooldown",
	}
	if len(gates) != len(want) {
		t.Fatalf("expected %d gates, got %d", len(want), len(gates))
	}
	for i, g := range gates {
		if g.Name() != want[i] {
			t.Fatalf("gate %d: expected %q, got %q", i, want[i], g.Name())
		}
	}
}

func TestGatesWithNilDepsAlwaysPass(t *testing.T) {
	t.Parallel()
	gates := Gates(nil, nil, nil, nil, nil, nil, GateConfig{}, "wallet")
	action := domain.Action{Kind: domain.OrderKindLimit, ExpiresAt: time.Now().UTC().Add(time.Minute)}
	for _, g := range gates {
		if err := g.Check(context.Background(), action); err != nil {
			t.Fatalf("gate %s: expected nil with nil deps, got %v", g.Name(), err)
		}
	}
}
