package router

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

type fakeCatalog struct {
	market domain.Market
}

func (f fakeCatalog) GetByToken(ctx context.Context, tokenID string) (domain.Market, error) {
	return f.market, nil
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRouteDispatchesToMatchingFilter(t *testing.T) {
	t.Parallel()

	catalog := fakeCatalog{market: domain.Market{ConditionID: "m1", YesTokenID: "tok1"}}
	r := New(catalog, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var received []domain.Tick
	done := make(chan struct{}, 1)

	r.Register(ctx, "strat-a", Filter{TokenIDs: []string{"tok1"}}, func(_ context.Context, tick domain.Tick) {
		mu.Lock()
		received = append(received, tick)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})

	r.Route(ctx, domain.Tick{Kind: domain.TickKindBook, TokenID: "tok1"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 tick, got %d", len(received))
	}
	if received[0].Market.ConditionID != "m1" {
		t.Fatalf("expected enriched market, got %+v", received[0].Market)
	}
	if received[0].Seq != 1 {
		t.Fatalf("expected seq 1, got %d", received[0].Seq)
	}
}

func TestRouteSkipsNonMatchingFilter(t *testing.T) {
	t.Parallel()

	r := New(fakeCatalog{}, newTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	called := make(chan struct{}, 1)
	r.Register(ctx, "strat-a", Filter{TokenIDs: []string{"other"}}, func(_ context.Context, _ domain.Tick) {
		called <- struct{}{}
	})

	r.Route(ctx, domain.Tick{TokenID: "tok1"})

	select {
	case <-called:
		t.Fatal("handler should not have been called")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRouteDropsOldestOnFullQueue(t *testing.T) {
	t.Parallel()

	r := New(fakeCatalog{}, newTestLogger())
	r.queueSize = 1
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	r.Register(ctx, "slow", Filter{}, func(_ context.Context, _ domain.Tick) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
	})

	r.Route(ctx, domain.Tick{TokenID: "a"}) // consumed by worker immediately
	<-started
	r.Route(ctx, domain.Tick{TokenID: "b"}) // fills queue
	r.Route(ctx, domain.Tick{TokenID: "c"}) // should drop "b", queue "c"

	close(block)

	r.mu.RLock()
	sub := r.subs["slow"]
	r.mu.RUnlock()

	deadline := time.After(time.Second)
	for sub.dropped.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("expected a dropped tick")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
