package service

import (
	"context"
	"testing"
	"time"

	"github.com/alanyoungcy/polyengine/internal/crypto"
	"github.com/alanyoungcy/polyengine/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

type fakeRateLimiter struct {
	allowed bool
}

func (f fakeRateLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return f.allowed, nil
}
func (f fakeRateLimiter) Wait(context.Context, string) error { return nil }

type fakeSigner struct {
	addr common.Address
}

func (f fakeSigner) SignOrder(crypto.OrderPayload) (string, error) { return "0xsig", nil }
func (f fakeSigner) Address() common.Address                      { return f.addr }

type fakeClobPoster struct {
	result domain.OrderResult
	err    error
}

func (f fakeClobPoster) PostOrder(context.Context, domain.Order) (domain.OrderResult, error) {
	return f.result, f.err
}

func TestOrderServicePlaceOrderLocalOnly(t *testing.T) {
	t.Parallel()
	orders := newFakeOrderStore()
	svc := NewOrderService(orders, fakeRateLimiter{allowed: true}, &fakeBus{}, fakeSigner{}, testLogger())

	result, err := svc.PlaceOrder(context.Background(), domain.Order{ID: "o1", TokenID: "tok1", Side: domain.OrderSideBuy, Kind: domain.OrderKindLimit, PriceTicks: int64(0.5 * 1e6), SizeUnits: int64(5 * 1e6)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || result.OrderID != "o1" {
		t.Fatalf("expected success with order id o1, got %+v", result)
	}
	if len(orders.created) != 1 || orders.created[0].Signature == "" {
		t.Fatalf("expected order persisted with a signature, got %+v", orders.created)
	}
}

func TestOrderServicePlaceOrderRejectsWhenRateLimited(t *testing.T) {
	t.Parallel()
	orders := newFakeOrderStore()
	svc := NewOrderService(orders, fakeRateLimiter{allowed: false}, &fakeBus{}, fakeSigner{}, testLogger())

	_, err := svc.PlaceOrder(context.Background(), domain.Order{ID: "o2"})
	if err != domain.ErrRateLimited {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestOrderServicePlaceOrderViaClob(t *testing.T) {
	t.Parallel()
	orders := newFakeOrderStore()
	svc := NewOrderService(orders, fakeRateLimiter{allowed: true}, &fakeBus{}, fakeSigner{}, testLogger()).
		WithClobClient(fakeClobPoster{result: domain.OrderResult{Success: true, OrderID: "clob-1", Status: domain.OrderStatusOpen}})

	result, err := svc.PlaceOrder(context.Background(), domain.Order{ID: "o3", TokenID: "tok1", Kind: domain.OrderKindMarket, SizeUnits: int64(1e6)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OrderID != "clob-1" || result.Status != domain.OrderStatusOpen {
		t.Fatalf("expected clob result passthrough, got %+v", result)
	}
}

func TestOrderServiceCancelAllCancelsEveryOpenOrder(t *testing.T) {
	t.Parallel()
	orders := newFakeOrderStore()
	orders.openByWallet = map[string][]domain.Order{"wallet-1": {{ID: "a"}, {ID: "b"}}}
	svc := NewOrderService(orders, fakeRateLimiter{allowed: true}, &fakeBus{}, fakeSigner{}, testLogger())

	if err := svc.CancelAll(context.Background(), "wallet-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if orders.statuses["a"] != domain.OrderStatusCancelled || orders.statuses["b"] != domain.OrderStatusCancelled {
		t.Fatalf("expected both orders cancelled, got %+v", orders.statuses)
	}
}
