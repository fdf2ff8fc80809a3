package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/alanyoungcy/polyengine/internal/domain"
	"github.com/alanyoungcy/polyengine/internal/executor"
)

// PaperConfig controls the paper broker's fill simulation.
type PaperConfig struct {
	FeeBps         float64
	SlippageBps    float64
	LatencyMeanMs  float64
	LatencyP95Ms   float64
	Seed           int64
}

// PaperPlacer simulates order fills against the live orderbook without
// touching the exchange, satisfying the executor's OrderPlacer and
// OrderCanceller interfaces in paper mode. Market orders fill immediately
// at the touch price plus simulated slippage; limit orders fill
// immediately if they cross the book, otherwise rest open until the
// executor cancels or upgrades them.
type PaperPlacer struct {
	mu sync.Mutex

	books  BookQuoter
	orders domain.OrderStore
	bus    domain.SignalBus
	cfg    PaperConfig
	rnd    *rand.Rand
	logger *slog.Logger

	makerFills int64
	takerFills int64
}

// BookQuoter is the subset of domain.OrderbookCache the paper placer needs
// to simulate fills against the live book.
type BookQuoter interface {
	GetBBO(ctx context.Context, assetID string) (bestBid, bestAsk float64, err error)
}

// NewPaperPlacer creates a PaperPlacer with all required dependencies.
func NewPaperPlacer(books BookQuoter, orders domain.OrderStore, bus domain.SignalBus, cfg PaperConfig, logger *slog.Logger) *PaperPlacer {
	seed := cfg.Seed
	if seed == 0 {
		seed = 1
	}
	return &PaperPlacer{
		books:  books,
		orders: orders,
		bus:    bus,
		cfg:    cfg,
		rnd:    rand.New(rand.NewSource(seed)),
		logger: logger,
	}
}

// PlaceOrder simulates submission of order to the book.
func (p *PaperPlacer) PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	bestBid, bestAsk, err := p.books.GetBBO(ctx, order.TokenID)
	if err != nil || bestBid <= 0 || bestAsk <= 0 {
		return domain.OrderResult{}, fmt.Errorf("paper_placer: no book for %q: %w", order.TokenID, err)
	}

	order.Status = domain.OrderStatusPending
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	if err := p.orders.Create(ctx, order); err != nil {
		return domain.OrderResult{}, fmt.Errorf("paper_placer: create order: %w", err)
	}

	crosses := p.crossesSpread(order, bestBid, bestAsk)
	if !crosses {
		_ = p.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusOpen)
		p.publish(ctx, "order_resting", order, 0, 0)
		return domain.OrderResult{Success: true, OrderID: order.ID, Status: domain.OrderStatusOpen, Message: "resting, has not crossed the book"}, nil
	}

	fillPrice := p.fillPrice(order, bestBid, bestAsk)
	feeUSD := order.Size() * fillPrice * (p.cfg.FeeBps / 10_000)
	p.recordFillKind(order)

	if err := p.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusMatched); err != nil {
		return domain.OrderResult{}, fmt.Errorf("paper_placer: update status: %w", err)
	}
	p.publish(ctx, "order_filled", order, fillPrice, feeUSD)

	p.logger.InfoContext(ctx, "paper_placer: simulated fill",
		slog.String("order_id", order.ID),
		slog.Float64("fill_price", fillPrice),
		slog.Float64("fee_usd", feeUSD),
	)

	return domain.OrderResult{
		Success:     true,
		OrderID:     order.ID,
		Status:      domain.OrderStatusMatched,
		Message:     "simulated fill",
		FilledPrice: fillPrice,
		FeeUSD:      feeUSD,
	}, nil
}

// CancelOrder marks a resting paper order cancelled.
func (p *PaperPlacer) CancelOrder(ctx context.Context, orderID string) error {
	if err := p.orders.UpdateStatus(ctx, orderID, domain.OrderStatusCancelled); err != nil {
		return fmt.Errorf("paper_placer: cancel %q: %w", orderID, err)
	}
	return nil
}

func (p *PaperPlacer) crossesSpread(order domain.Order, bestBid, bestAsk float64) bool {
	if order.Kind == domain.OrderKindMarket {
		return true
	}
	price := order.Price()
	switch order.Side {
	case domain.OrderSideBuy:
		return price >= bestAsk
	case domain.OrderSideSell:
		return price <= bestBid
	default:
		return false
	}
}

// fillPrice applies size-scaled slippage to the touch price a taker would
// actually receive: the ask for a buy, the bid for a sell, walked away
// from the trader by 0.1% of price per $100 of notional, capped at
// cfg.SlippageBps. A limit order that crosses still fills at the touch
// price, never worse than its limit.
func (p *PaperPlacer) fillPrice(order domain.Order, bestBid, bestAsk float64) float64 {
	frac := executor.SizeSlippageFraction(order.Size(), int64(p.cfg.SlippageBps))
	if order.Kind == domain.OrderKindLimit {
		frac = 0
	}

	switch order.Side {
	case domain.OrderSideBuy:
		return bestAsk * (1 + frac)
	case domain.OrderSideSell:
		return bestBid * (1 - frac)
	default:
		return bestAsk
	}
}

func (p *PaperPlacer) recordFillKind(order domain.Order) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if order.Kind == domain.OrderKindLimit {
		p.makerFills++
		return
	}
	p.takerFills++
}

func (p *PaperPlacer) publish(ctx context.Context, event string, order domain.Order, fillPrice, feeUSD float64) {
	evt, _ := json.Marshal(map[string]any{
		"event":      event,
		"order_id":   order.ID,
		"market":     order.MarketID,
		"side":       string(order.Side),
		"fill_price": fillPrice,
		"fee_usd":    feeUSD,
	})
	if err := p.bus.Publish(ctx, "orders", evt); err != nil {
		p.logger.WarnContext(ctx, "paper_placer: publish event failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// SimulatedLatency samples a latency duration from the configured
// mean/p95 latency profile, used by callers wanting to simulate network
// delay before acknowledging a paper order.
func (p *PaperPlacer) SimulatedLatency() time.Duration {
	if p.cfg.LatencyMeanMs <= 0 {
		return 0
	}
	sigma := (p.cfg.LatencyP95Ms - p.cfg.LatencyMeanMs) / 1.645
	if sigma < 0 {
		sigma = 0
	}
	p.mu.Lock()
	ms := p.cfg.LatencyMeanMs + p.rnd.NormFloat64()*sigma
	p.mu.Unlock()
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}
