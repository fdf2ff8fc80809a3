package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

const (
	defaultHedgeMinEdgeBps = 40
	defaultHedgeSizePerLeg = 5.0
	defaultHedgeTTLSeconds = 30
	defaultHedgeMaxStale   = 5
	defaultHedgeCooldown   = 2
)

// FavoriteHedge detects classic binary Dutch-book opportunities on a
// single market's YES/NO pair: buy both legs when ask_yes+ask_no is
// enough below 1.0 to clear min_edge_bps, or sell both when
// bid_yes+bid_no is enough above 1.0. The two legs are emitted as one
// spread under an all-or-none policy.
type FavoriteHedge struct {
	cfg     Config
	tracker *PriceTracker
	books   domain.OrderbookCache
	logger  *slog.Logger

	mu       sync.Mutex
	lastEmit map[string]time.Time // conditionID -> last signal time
}

// NewFavoriteHedge creates a FavoriteHedge strategy. books is used to
// fetch the orderbook of whichever leg did not produce the triggering
// tick. Params:
//
//   - "min_edge_bps" (number): minimum basis-point edge to trigger. Defaults to 40.
//   - "size_per_leg" (number): USD notional per leg. Defaults to 5.0.
//   - "ttl_seconds" (number): action expiry. Defaults to 30.
//   - "max_stale_sec" (number): maximum age of the sibling leg's snapshot. Defaults to 5.
//   - "cooldown_sec" (number): minimum gap between signals for the same market. Defaults to 2.
func NewFavoriteHedge(cfg Config, tracker *PriceTracker, books domain.OrderbookCache, logger *slog.Logger) *FavoriteHedge {
	return &FavoriteHedge{
		cfg:      cfg,
		tracker:  tracker,
		books:    books,
		logger:   logger.With(slog.String("strategy", "favorite_hedge")),
		lastEmit: make(map[string]time.Time),
	}
}

func (h *FavoriteHedge) Name() string { return "favorite_hedge" }

func (h *FavoriteHedge) Caps() Capabilities {
	return Capabilities{
		Kinds:     []domain.TickKind{domain.TickKindBook, domain.TickKindPriceChange, domain.TickKindTrade},
		MarketIDs: h.cfg.MarketIDs,
		TokenIDs:  h.cfg.TokenIDs,
	}
}

func (h *FavoriteHedge) Init(_ context.Context) error { return nil }

func (h *FavoriteHedge) OnTick(ctx context.Context, tick domain.Tick) ([]domain.Action, error) {
	switch tick.Kind {
	case domain.TickKindTrade:
		if tick.Trade != nil {
			h.tracker.Track(tick.TokenID, tick.Trade.Price, tick.Trade.Timestamp)
		}
		return nil, nil
	case domain.TickKindPriceChange:
		if tick.Change != nil {
			h.tracker.Track(tick.TokenID, tick.Change.Price, tick.Change.Timestamp)
		}
		return nil, nil
	}
	if tick.Book == nil || h.books == nil {
		return nil, nil
	}

	mkt := tick.Market
	yesToken, noToken := mkt.YesTokenID, mkt.NoTokenID
	if yesToken == "" || noToken == "" {
		return nil, nil
	}

	side, ok := mkt.SideForToken(tick.TokenID)
	if !ok {
		return nil, nil
	}

	now := time.Now().UTC()
	maxStale := time.Duration(h.maxStaleSec()) * time.Second

	yesSnap, noSnap := *tick.Book, domain.OrderbookSnapshot{}
	if side == domain.TokenYes {
		sibling, err := h.books.GetSnapshot(ctx, noToken)
		if err != nil || now.Sub(sibling.Timestamp) > maxStale {
			return nil, nil
		}
		noSnap = sibling
	} else {
		sibling, err := h.books.GetSnapshot(ctx, yesToken)
		if err != nil || now.Sub(sibling.Timestamp) > maxStale {
			return nil, nil
		}
		yesSnap, noSnap = sibling, *tick.Book
	}

	yesAsk, yesBid := bestAsk(yesSnap), bestBid(yesSnap)
	noAsk, noBid := bestAsk(noSnap), bestBid(noSnap)
	minEdge := float64(h.minEdgeBps()) / 10_000

	if h.recentlyEmitted(mkt.ConditionID, now) {
		return nil, nil
	}

	emit := func(actionSide domain.OrderSide, yesPx, noPx, edge float64, reasonFmt string) []domain.Action {
		sizePerLeg := h.sizePerLeg()
		ttl := time.Duration(h.ttlSeconds()) * time.Second
		spreadID := uuid.New().String()
		reason := fmt.Sprintf(reasonFmt, yesPx+noPx, edge*10_000)
		return []domain.Action{
			{
				ID:           fmt.Sprintf("fh-%s-yes-%d", actionSide, now.UnixNano()),
				Strategy:     h.Name(),
				MarketID:     mkt.ConditionID,
				TokenID:      yesToken,
				Side:         actionSide,
				Kind:         domain.OrderKindLimit,
				PriceTicks:   int64(yesPx * 1e6),
				SizeUSDTicks: int64(sizePerLeg * 1e6),
				Urgency:      domain.ActionUrgencyImmediate,
				Reason:       reason,
				Metadata: map[string]string{
					"spread_id":  spreadID,
					"leg_count":  "2",
					"leg_policy": string(domain.LegPolicyAllOrNone),
				},
				CreatedAt:      now,
				ExpiresAt:      now.Add(ttl),
				SourceTickSeq:  tick.Seq,
				SignalMidTicks: int64(yesPx * 1e6),
			},
			{
				ID:           fmt.Sprintf("fh-%s-no-%d", actionSide, now.UnixNano()),
				Strategy:     h.Name(),
				MarketID:     mkt.ConditionID,
				TokenID:      noToken,
				Side:         actionSide,
				Kind:         domain.OrderKindLimit,
				PriceTicks:   int64(noPx * 1e6),
				SizeUSDTicks: int64(sizePerLeg * 1e6),
				Urgency:      domain.ActionUrgencyImmediate,
				Reason:       reason,
				Metadata: map[string]string{
					"spread_id":  spreadID,
					"leg_count":  "2",
					"leg_policy": string(domain.LegPolicyAllOrNone),
				},
				CreatedAt:      now,
				ExpiresAt:      now.Add(ttl),
				SourceTickSeq:  tick.Seq,
				SignalMidTicks: int64(noPx * 1e6),
			},
		}
	}

	if yesAsk > 0 && noAsk > 0 {
		sumAsk := yesAsk + noAsk
		edge := 1.0 - sumAsk
		if edge > minEdge {
			h.markEmitted(mkt.ConditionID, now)
			return emit(domain.OrderSideBuy, yesAsk, noAsk, edge, "favorite_hedge buy_pair sum_ask=%.4f edge_bps=%.1f"), nil
		}
	}

	if yesBid > 0 && noBid > 0 {
		sumBid := yesBid + noBid
		edge := sumBid - 1.0
		if edge > minEdge {
			h.markEmitted(mkt.ConditionID, now)
			return emit(domain.OrderSideSell, yesBid, noBid, edge, "favorite_hedge sell_pair sum_bid=%.4f edge_bps=%.1f"), nil
		}
	}

	return nil, nil
}

func (h *FavoriteHedge) OnPositionUpdate(_ context.Context, _ domain.Position) error { return nil }

func (h *FavoriteHedge) Close() error { return nil }

func (h *FavoriteHedge) recentlyEmitted(conditionID string, now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	last, ok := h.lastEmit[conditionID]
	if !ok {
		return false
	}
	return now.Sub(last) < time.Duration(h.cooldownSec())*time.Second
}

func (h *FavoriteHedge) markEmitted(conditionID string, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastEmit[conditionID] = now
}

func (h *FavoriteHedge) minEdgeBps() int {
	return numberParam(h.cfg.Params, "min_edge_bps", defaultHedgeMinEdgeBps)
}

func (h *FavoriteHedge) sizePerLeg() float64 {
	return floatParam(h.cfg.Params, "size_per_leg", defaultHedgeSizePerLeg)
}

func (h *FavoriteHedge) ttlSeconds() int {
	return numberParam(h.cfg.Params, "ttl_seconds", defaultHedgeTTLSeconds)
}

func (h *FavoriteHedge) maxStaleSec() int {
	return numberParam(h.cfg.Params, "max_stale_sec", defaultHedgeMaxStale)
}

func (h *FavoriteHedge) cooldownSec() int {
	return numberParam(h.cfg.Params, "cooldown_sec", defaultHedgeCooldown)
}

// bestAsk returns the best ask from a snapshot, preferring the
// precomputed field and falling back to the top of the ladder.
func bestAsk(s domain.OrderbookSnapshot) float64 {
	if s.BestAsk > 0 {
		return s.BestAsk
	}
	if len(s.Asks) > 0 && s.Asks[0].Price > 0 {
		return s.Asks[0].Price
	}
	return 0
}

// bestBid returns the best bid from a snapshot, preferring the
// precomputed field and falling back to the top of the ladder.
func bestBid(s domain.OrderbookSnapshot) float64 {
	if s.BestBid > 0 {
		return s.BestBid
	}
	if len(s.Bids) > 0 && s.Bids[0].Price > 0 {
		return s.Bids[0].Price
	}
	return 0
}

// numberParam reads an int-valued Params entry tolerating JSON/TOML's
// int, int64, and float64 decodings.
func numberParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// floatParam reads a float64-valued Params entry tolerating TOML's
// int/int64 decodings for whole numbers.
func floatParam(params map[string]any, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}
