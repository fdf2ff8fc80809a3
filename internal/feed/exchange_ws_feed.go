// Package feed is the Market Data Gateway: it owns the WebSocket
// connection to the exchange, maintains the local order-book mirror per
// token, and hands every event to the Tick Router as a normalized Tick.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/polyengine/internal/domain"
	"github.com/alanyoungcy/polyengine/internal/market"
	"github.com/alanyoungcy/polyengine/internal/platform/exchange"
)

// TickRouter is the sink every tick is routed through. Satisfied by
// *router.Router.
type TickRouter interface {
	Route(ctx context.Context, tick domain.Tick)
}

// ExchangeWSFeed connects to the exchange's market data WebSocket,
// subscribes to book/price_change/last_trade_price for the configured
// token IDs, maintains a local market.Book per token, and routes every
// event to the Tick Router. It reconnects on disconnect (handled inside
// exchange.WSClient) and republishes raw snapshots to the signal bus for
// durability when one is configured.
type ExchangeWSFeed struct {
	wsURL    string
	tokenIDs []string
	router   TickRouter
	bus      domain.SignalBus // optional, may be nil
	logger   *slog.Logger

	mu     sync.RWMutex
	books  map[string]*market.Book

	closeOnce sync.Once
	done      chan struct{}
}

// NewExchangeWSFeed creates a feed that subscribes to the given token IDs.
func NewExchangeWSFeed(wsURL string, tokenIDs []string, router TickRouter, bus domain.SignalBus, logger *slog.Logger) *ExchangeWSFeed {
	books := make(map[string]*market.Book, len(tokenIDs))
	for _, id := range tokenIDs {
		books[id] = market.NewBook(id)
	}
	return &ExchangeWSFeed{
		wsURL:    wsURL,
		tokenIDs: tokenIDs,
		router:   router,
		bus:      bus,
		logger:   logger.With(slog.String("component", "exchange_ws_feed")),
		books:    books,
		done:     make(chan struct{}),
	}
}

// Book returns the local order book mirror for a token, or nil if the
// token isn't subscribed.
func (f *ExchangeWSFeed) Book(tokenID string) *market.Book {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.books[tokenID]
}

// Run connects, subscribes, and routes ticks until ctx is cancelled.
// Reconnection with backoff happens transparently inside the underlying
// WebSocket client.
func (f *ExchangeWSFeed) Run(ctx context.Context) error {
	if len(f.tokenIDs) == 0 {
		f.logger.Info("no token IDs to subscribe, exiting")
		return nil
	}

	client := exchange.NewWSClient(f.wsURL)
	defer client.Close()

	client.OnBookUpdate(func(snap domain.OrderbookSnapshot) {
		f.handleBook(ctx, snap)
	})
	client.OnPriceChange(func(change domain.PriceChange) {
		f.handlePriceChange(ctx, change)
	})
	client.OnLastTradePrice(func(trade domain.LastTradePrice) {
		f.handleTrade(ctx, trade)
	})

	if err := client.Connect(ctx); err != nil {
		return err
	}
	channels := []string{"book", "price_change", "last_trade_price"}
	if err := client.Subscribe(ctx, channels, f.tokenIDs); err != nil {
		return err
	}
	f.logger.Info("exchange ws feed subscribed", slog.Int("tokens", len(f.tokenIDs)))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return nil
	}
}

// Close stops the feed.
func (f *ExchangeWSFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

func (f *ExchangeWSFeed) book(tokenID string) *market.Book {
	f.mu.RLock()
	b, ok := f.books[tokenID]
	f.mu.RUnlock()
	if ok {
		return b
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.books[tokenID]; ok {
		return b
	}
	b = market.NewBook(tokenID)
	f.books[tokenID] = b
	return b
}

func (f *ExchangeWSFeed) handleBook(ctx context.Context, snap domain.OrderbookSnapshot) {
	now := time.Now()
	b := f.book(snap.AssetID)
	b.ApplySnapshot(snap.Bids, snap.Asks, now)
	mid, _ := b.MidPrice()

	f.router.Route(ctx, domain.Tick{
		Kind:       domain.TickKindBook,
		TokenID:    snap.AssetID,
		Book:       &snap,
		MidPrice:   mid,
		Velocity1m: b.Velocity1m(now),
		ReceivedAt: now,
	})
	f.publishDurable("prices", snap)
}

func (f *ExchangeWSFeed) handlePriceChange(ctx context.Context, change domain.PriceChange) {
	now := time.Now()
	b := f.book(change.AssetID)
	b.ApplyPriceChange(change)
	mid, _ := b.MidPrice()

	f.router.Route(ctx, domain.Tick{
		Kind:       domain.TickKindPriceChange,
		TokenID:    change.AssetID,
		Change:     &change,
		MidPrice:   mid,
		Velocity1m: b.Velocity1m(now),
		ReceivedAt: now,
	})
}

func (f *ExchangeWSFeed) handleTrade(ctx context.Context, trade domain.LastTradePrice) {
	now := time.Now()
	b := f.book(trade.AssetID)
	mid, _ := b.MidPrice()

	f.router.Route(ctx, domain.Tick{
		Kind:       domain.TickKindTrade,
		TokenID:    trade.AssetID,
		Trade:      &trade,
		MidPrice:   mid,
		Velocity1m: b.Velocity1m(now),
		ReceivedAt: now,
	})
}

func (f *ExchangeWSFeed) publishDurable(channel string, snap domain.OrderbookSnapshot) {
	if f.bus == nil {
		return
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return
	}
	// Best-effort: durability to the signal bus is a convenience for
	// downstream consumers, not on the tick's critical path.
	go func() {
		_ = f.bus.Publish(context.Background(), channel, payload)
	}()
}
