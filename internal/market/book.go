// Package market maintains the local order book mirror for each token and
// derives the signals (mid price, spread, imbalance, velocity) strategies
// and the Execution & Safety Pipeline read on every tick.
package market

import (
	"sync"
	"time"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

const velocityWindow = 60 * time.Second

// midSample is one historical mid-price observation, used to compute
// the trailing one-minute price velocity.
type midSample struct {
	mid float64
	at  time.Time
}

// Book mirrors the CLOB order book for a single token, updated from
// REST snapshots (initial load) and WebSocket book/price_change events.
// It is concurrency-safe and provides the derived values the Tick Router
// attaches to every Tick.
type Book struct {
	mu       sync.RWMutex
	tokenID  string
	bids     []domain.PriceLevel // descending by price
	asks     []domain.PriceLevel // ascending by price
	updated  time.Time
	history  []midSample // ring buffer trimmed to velocityWindow
}

// NewBook creates an empty local order book for a token.
func NewBook(tokenID string) *Book {
	return &Book{tokenID: tokenID}
}

// ApplySnapshot replaces the full book state for the token.
func (b *Book) ApplySnapshot(bids, asks []domain.PriceLevel, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids = append([]domain.PriceLevel(nil), bids...)
	b.asks = append([]domain.PriceLevel(nil), asks...)
	sortLevels(b.bids, true)
	sortLevels(b.asks, false)
	b.updated = at
	b.recordMid(at)
}

// ApplyPriceChange applies an incremental level update. A zero size
// removes the level.
func (b *Book) ApplyPriceChange(change domain.PriceChange) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if change.Side == "BUY" {
		b.bids = upsertLevel(b.bids, change.Price, change.Size, true)
	} else {
		b.asks = upsertLevel(b.asks, change.Price, change.Size, false)
	}
	b.updated = change.Timestamp
	b.recordMid(change.Timestamp)
}

func upsertLevel(levels []domain.PriceLevel, price, size float64, desc bool) []domain.PriceLevel {
	for i, lvl := range levels {
		if lvl.Price == price {
			if size == 0 {
				return append(levels[:i], levels[i+1:]...)
			}
			levels[i].Size = size
			return levels
		}
	}
	if size == 0 {
		return levels
	}
	levels = append(levels, domain.PriceLevel{Price: price, Size: size})
	sortLevels(levels, desc)
	return levels
}

func sortLevels(levels []domain.PriceLevel, desc bool) {
	for i := 1; i < len(levels); i++ {
		for j := i; j > 0; j-- {
			swap := levels[j-1].Price < levels[j].Price
			if desc {
				swap = levels[j-1].Price > levels[j].Price
			}
			if swap {
				break
			}
			levels[j-1], levels[j] = levels[j], levels[j-1]
		}
	}
}

// BestBidAsk returns the top of book. ok is false if either side is empty.
func (b *Book) BestBidAsk() (bid, ask float64, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return 0, 0, false
	}
	return b.bids[0].Price, b.asks[0].Price, true
}

// MidPrice returns (bestBid+bestAsk)/2, or false when the book is empty
// on either side.
func (b *Book) MidPrice() (float64, bool) {
	bid, ask, ok := b.BestBidAsk()
	if !ok {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// Spread returns bestAsk - bestBid.
func (b *Book) Spread() (float64, bool) {
	bid, ask, ok := b.BestBidAsk()
	if !ok {
		return 0, false
	}
	return ask - bid, true
}

// Imbalance returns the order-flow imbalance over the top k levels:
// (bidVol - askVol) / (bidVol + askVol), in [-1, 1]. Positive means
// buy-side pressure. Returns false when there is no liquidity on either
// side within the requested depth.
func (b *Book) Imbalance(k int) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bidVol := sumSize(b.bids, k)
	askVol := sumSize(b.asks, k)
	total := bidVol + askVol
	if total <= 0 {
		return 0, false
	}
	return (bidVol - askVol) / total, true
}

func sumSize(levels []domain.PriceLevel, k int) float64 {
	var sum float64
	for i, lvl := range levels {
		if i >= k {
			break
		}
		sum += lvl.Size
	}
	return sum
}

// recordMid appends a mid-price sample and trims history older than
// velocityWindow. Must be called with mu held.
func (b *Book) recordMid(at time.Time) {
	mid, ok := b.midLocked()
	if !ok {
		return
	}
	b.history = append(b.history, midSample{mid: mid, at: at})
	cutoff := at.Add(-velocityWindow)
	i := 0
	for i < len(b.history) && b.history[i].at.Before(cutoff) {
		i++
	}
	b.history = b.history[i:]
}

func (b *Book) midLocked() (float64, bool) {
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return 0, false
	}
	return (b.bids[0].Price + b.asks[0].Price) / 2, true
}

// Velocity1m returns (mid(t) - mid(t-60s)) / 60s. When no sample older
// than the window exists yet, it falls back to the oldest available
// sample rather than reporting zero velocity on a thin history.
func (b *Book) Velocity1m(now time.Time) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	mid, ok := b.midLocked()
	if !ok || len(b.history) == 0 {
		return 0
	}
	oldest := b.history[0]
	elapsed := now.Sub(oldest.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return (mid - oldest.mid) / elapsed
}

// IsStale reports whether the book hasn't updated within maxAge.
func (b *Book) IsStale(maxAge time.Duration, now time.Time) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.updated.IsZero() {
		return true
	}
	return now.Sub(b.updated) > maxAge
}

// LastUpdated returns the timestamp of the last applied update.
func (b *Book) LastUpdated() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}

// Snapshot returns a domain.OrderbookSnapshot copy of the current state.
func (b *Book) Snapshot() domain.OrderbookSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	mid, _ := b.midLocked()
	var bestBid, bestAsk float64
	if len(b.bids) > 0 {
		bestBid = b.bids[0].Price
	}
	if len(b.asks) > 0 {
		bestAsk = b.asks[0].Price
	}
	return domain.OrderbookSnapshot{
		AssetID:   b.tokenID,
		Bids:      append([]domain.PriceLevel(nil), b.bids...),
		Asks:      append([]domain.PriceLevel(nil), b.asks...),
		BestBid:   bestBid,
		BestAsk:   bestAsk,
		MidPrice:  mid,
		Timestamp: b.updated,
	}
}
