package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

const (
	defaultBIHalfSpreadBps    = 50
	defaultBIRequoteThreshold = 0.005
	defaultBISize             = 10.0
	defaultBIImbalanceDepth   = 5
	defaultBISkewFactor       = 0.5
)

// biQuote holds the last quote placed for a token, used to decide
// whether a fresh book update warrants requoting.
type biQuote struct {
	bidPrice    float64
	askPrice    float64
	lastMid     float64
	lastQuoteAt time.Time
}

// BookImbalance is a two-sided market maker that skews its bid/ask
// quotes toward the side of heavier resting volume: a book stacked
// with bids implies upward pressure, so both quotes lean up, and
// symmetrically for a book stacked with asks. It requotes whenever the
// mid moves beyond requote_threshold.
type BookImbalance struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	quotes map[string]*biQuote
}

// NewBookImbalance creates a BookImbalance strategy. Params:
//
//   - "half_spread_bps" (number): quote half-spread in basis points. Defaults to 50.
//   - "requote_threshold" (float64): minimum mid move to requote. Defaults to 0.005.
//   - "size" (float64): USD notional per side. Defaults to 10.0.
//   - "imbalance_depth" (number): book levels considered for the imbalance ratio. Defaults to 5.
//   - "skew_factor" (float64): fraction of the half-spread applied as skew per unit of imbalance. Defaults to 0.5.
func NewBookImbalance(cfg Config, logger *slog.Logger) *BookImbalance {
	return &BookImbalance{
		cfg:    cfg,
		logger: logger.With(slog.String("strategy", "book_imbalance")),
		quotes: make(map[string]*biQuote),
	}
}

func (b *BookImbalance) Name() string { return "book_imbalance" }

func (b *BookImbalance) Caps() Capabilities {
	return Capabilities{
		Kinds:     []domain.TickKind{domain.TickKindBook},
		MarketIDs: b.cfg.MarketIDs,
		TokenIDs:  b.cfg.TokenIDs,
	}
}

func (b *BookImbalance) Init(_ context.Context) error { return nil }

func (b *BookImbalance) OnTick(_ context.Context, tick domain.Tick) ([]domain.Action, error) {
	if tick.Kind != domain.TickKindBook || tick.Book == nil {
		return nil, nil
	}
	snap := *tick.Book

	mid := snap.MidPrice
	if mid <= 0 && snap.BestBid > 0 && snap.BestAsk > 0 {
		mid = (snap.BestBid + snap.BestAsk) / 2
	}
	if mid <= 0 {
		return nil, nil
	}

	imbalance, ok := topOfBookImbalance(snap.Bids, snap.Asks, b.imbalanceDepth())
	if !ok {
		return nil, nil
	}

	b.mu.Lock()
	q, exists := b.quotes[tick.TokenID]
	if !exists {
		q = &biQuote{}
		b.quotes[tick.TokenID] = q
	}
	threshold := b.requoteThreshold()
	shouldQuote := q.lastQuoteAt.IsZero() || mid-q.lastMid > threshold || q.lastMid-mid > threshold
	if !shouldQuote {
		b.mu.Unlock()
		return nil, nil
	}

	halfSpread := float64(b.halfSpreadBps()) / 10_000
	skew := imbalance * b.skewFactor() * halfSpread
	bidPrice := mid - halfSpread + skew
	askPrice := mid + halfSpread + skew
	if bidPrice < 0 {
		bidPrice = 0
	}
	if askPrice > 1 {
		askPrice = 1
	}
	q.bidPrice, q.askPrice = bidPrice, askPrice
	q.lastMid = mid
	q.lastQuoteAt = snap.Timestamp
	b.mu.Unlock()

	size := b.size()
	now := snap.Timestamp
	idBase := fmt.Sprintf("bi-%s-%d", tick.TokenID, now.UnixNano())
	reason := fmt.Sprintf("book_imbalance ratio=%.4f mid=%.4f", imbalance, mid)
	actions := []domain.Action{
		{
			ID:            idBase + "-bid",
			Strategy:      b.Name(),
			MarketID:      tick.Market.ConditionID,
			TokenID:       tick.TokenID,
			Side:          domain.OrderSideBuy,
			Kind:          domain.OrderKindLimit,
			PriceTicks:    int64(bidPrice * 1e6),
			SizeUSDTicks:  int64(size * 1e6),
			Urgency:       domain.ActionUrgencyLow,
			Reason:        reason,
			CreatedAt:      now,
			ExpiresAt:      now.Add(2 * time.Minute),
			SourceTickSeq:  tick.Seq,
			SignalMidTicks: int64(mid * 1e6),
		},
		{
			ID:            idBase + "-ask",
			Strategy:      b.Name(),
			MarketID:      tick.Market.ConditionID,
			TokenID:       tick.TokenID,
			Side:          domain.OrderSideSell,
			Kind:          domain.OrderKindLimit,
			PriceTicks:    int64(askPrice * 1e6),
			SizeUSDTicks:  int64(size * 1e6),
			Urgency:       domain.ActionUrgencyLow,
			Reason:        reason,
			CreatedAt:      now,
			ExpiresAt:      now.Add(2 * time.Minute),
			SourceTickSeq:  tick.Seq,
			SignalMidTicks: int64(mid * 1e6),
		},
	}
	return actions, nil
}

func (b *BookImbalance) OnPositionUpdate(_ context.Context, _ domain.Position) error { return nil }

func (b *BookImbalance) Close() error { return nil }

func (b *BookImbalance) halfSpreadBps() int {
	return numberParam(b.cfg.Params, "half_spread_bps", defaultBIHalfSpreadBps)
}

func (b *BookImbalance) requoteThreshold() float64 {
	return floatParam(b.cfg.Params, "requote_threshold", defaultBIRequoteThreshold)
}

func (b *BookImbalance) size() float64 {
	return floatParam(b.cfg.Params, "size", defaultBISize)
}

func (b *BookImbalance) imbalanceDepth() int {
	return numberParam(b.cfg.Params, "imbalance_depth", defaultBIImbalanceDepth)
}

func (b *BookImbalance) skewFactor() float64 {
	return floatParam(b.cfg.Params, "skew_factor", defaultBISkewFactor)
}

// topOfBookImbalance returns (bidVolume-askVolume)/(bidVolume+askVolume)
// over the top k levels of each side, in [-1, 1]. ok is false when both
// sides are empty.
func topOfBookImbalance(bids, asks []domain.PriceLevel, k int) (float64, bool) {
	var bidVol, askVol float64
	for i := 0; i < k && i < len(bids); i++ {
		bidVol += bids[i].Size
	}
	for i := 0; i < k && i < len(asks); i++ {
		askVol += asks[i].Size
	}
	total := bidVol + askVol
	if total <= 0 {
		return 0, false
	}
	return (bidVol - askVol) / total, true
}
