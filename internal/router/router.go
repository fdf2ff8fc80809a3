// Package router implements the Tick Router: it enriches raw market data
// events with their market catalog entry, assigns a per-token sequence
// number, and fans each tick out to every strategy whose filter matches,
// via a bounded per-strategy queue so one slow strategy cannot stall the
// feed or its peers.
package router

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

const defaultQueueSize = 256

// Filter selects which ticks a registered strategy receives. A zero-value
// field matches anything; a non-empty field restricts the match.
type Filter struct {
	MarketIDs []string
	TokenIDs  []string
	Kinds     []domain.TickKind
}

func (f Filter) matches(t domain.Tick) bool {
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, t.Kind) {
		return false
	}
	if len(f.MarketIDs) > 0 && !contains(f.MarketIDs, t.Market.ConditionID) {
		return false
	}
	if len(f.TokenIDs) > 0 && !contains(f.TokenIDs, t.TokenID) {
		return false
	}
	return true
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsKind(haystack []domain.TickKind, needle domain.TickKind) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// Handler processes one routed tick for a single strategy.
type Handler func(ctx context.Context, tick domain.Tick)

// subscriber is one registered strategy's bounded tick queue and worker.
type subscriber struct {
	name    string
	filter  Filter
	handler Handler
	queue   chan domain.Tick

	dropped atomic.Int64
	failed  atomic.Int64
}

// MarketLookup resolves a token ID to its market catalog entry. Satisfied
// by domain.MarketCache.
type MarketLookup interface {
	GetByToken(ctx context.Context, tokenID string) (domain.Market, error)
}

// Router enriches and fans out market data ticks to registered strategies.
type Router struct {
	catalog MarketLookup
	logger  *slog.Logger

	mu   sync.RWMutex
	subs map[string]*subscriber
	seq  map[string]*atomic.Int64 // per-token sequence counters

	queueSize int
}

// New creates a Router backed by the given market catalog lookup.
func New(catalog MarketLookup, logger *slog.Logger) *Router {
	return &Router{
		catalog:   catalog,
		logger:    logger.With(slog.String("component", "router")),
		subs:      make(map[string]*subscriber),
		seq:       make(map[string]*atomic.Int64),
		queueSize: defaultQueueSize,
	}
}

// Register adds a strategy subscription and starts its worker goroutine.
// ctx governs the worker's lifetime; it should be the same context passed
// to the component driving the Route calls.
func (r *Router) Register(ctx context.Context, name string, filter Filter, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub := &subscriber{
		name:    name,
		filter:  filter,
		handler: handler,
		queue:   make(chan domain.Tick, r.queueSize),
	}
	r.subs[name] = sub
	go r.runWorker(ctx, sub)
}

// Unregister stops routing ticks to a strategy and closes its queue.
func (r *Router) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subs[name]; ok {
		close(sub.queue)
		delete(r.subs, name)
	}
}

func (r *Router) runWorker(ctx context.Context, sub *subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-sub.queue:
			if !ok {
				return
			}
			r.dispatch(ctx, sub, tick)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, sub *subscriber, tick domain.Tick) {
	defer func() {
		if rec := recover(); rec != nil {
			sub.failed.Add(1)
			r.logger.Error("strategy handler panicked",
				slog.String("strategy", sub.name),
				slog.Any("recover", rec),
			)
		}
	}()
	sub.handler(ctx, tick)
}

// Route enriches a raw tick with its market catalog entry and sequence
// number, then fans it out to every matching strategy's queue. A full
// queue drops its oldest pending tick to make room, preserving recency
// over completeness; per-token ordering is preserved since ticks for a
// given token are always produced in order by the single-goroutine feed.
func (r *Router) Route(ctx context.Context, tick domain.Tick) {
	if tick.Market.ConditionID == "" && r.catalog != nil {
		if m, err := r.catalog.GetByToken(ctx, tick.TokenID); err == nil {
			tick.Market = m
		}
	}
	tick.Seq = r.nextSeq(tick.TokenID)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sub := range r.subs {
		if !sub.filter.matches(tick) {
			continue
		}
		select {
		case sub.queue <- tick:
		default:
			select {
			case <-sub.queue:
				sub.dropped.Add(1)
			default:
			}
			select {
			case sub.queue <- tick:
			default:
				sub.dropped.Add(1)
			}
		}
	}
}

func (r *Router) nextSeq(tokenID string) int64 {
	r.mu.Lock()
	counter, ok := r.seq[tokenID]
	if !ok {
		counter = &atomic.Int64{}
		r.seq[tokenID] = counter
	}
	r.mu.Unlock()
	return counter.Add(1)
}

// Stats reports per-strategy dropped and failed tick counters.
type Stats struct {
	Name    string
	Dropped int64
	Failed  int64
}

// Stats returns the current counters for every registered strategy.
func (r *Router) Stats() []Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Stats, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, Stats{Name: sub.name, Dropped: sub.dropped.Load(), Failed: sub.failed.Load()})
	}
	return out
}
