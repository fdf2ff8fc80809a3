package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

const defaultMaxSlippageBps = 200 // 2%

// Quote is the execution price and kind the Pricer derived for an action.
type Quote struct {
	Price float64
	Kind  domain.OrderKind
}

// Pricer turns a gated action into a concrete order price against the
// live book: market orders take the prevailing touch price capped by
// max slippage, limit orders rest at the action's requested price
// clamped to stay within the same cap of the current mid.
type Pricer struct {
	books          BookSource
	maxSlippageBps int64
}

// NewPricer creates a Pricer. maxSlippageBps <= 0 uses the default 2%.
func NewPricer(books BookSource, maxSlippageBps int64) *Pricer {
	if maxSlippageBps <= 0 {
		maxSlippageBps = defaultMaxSlippageBps
	}
	return &Pricer{books: books, maxSlippageBps: maxSlippageBps}
}

// SizeSlippageFraction returns the fractional price impact a paper or
// live fill should bear for a size_usd notional: 0.1% per $100 traded,
// capped at maxSlippageBps. Both the Pricer and the paper placer derive
// their execution price off this same curve so simulated fills behave
// like the real book impact they stand in for.
func SizeSlippageFraction(sizeUSD float64, maxSlippageBps int64) float64 {
	capFrac := float64(maxSlippageBps) / 10_000
	frac := 0.001 * (sizeUSD / 100)
	if frac < 0 {
		frac = 0
	}
	if frac > capFrac {
		frac = capFrac
	}
	return frac
}

// Quote resolves the action's execution price. Market orders walk the
// touch price by the size-scaled slippage fraction; limit orders rest at
// the action's requested price clamped to the same cap from mid. If the
// book is unavailable it falls back to the action's own price unchanged.
func (p *Pricer) Quote(_ context.Context, action domain.Action) (Quote, error) {
	if p.books == nil {
		return Quote{Price: action.Price(), Kind: action.Kind}, nil
	}
	bid, ask, mid, ok := p.books.BestBidAsk(context.Background(), action.TokenID)
	if !ok || mid <= 0 {
		return Quote{Price: action.Price(), Kind: action.Kind}, nil
	}

	capFrac := float64(p.maxSlippageBps) / 10_000

	if action.Kind == domain.OrderKindMarket {
		touch := ask
		if action.Side == domain.OrderSideSell {
			touch = bid
		}
		if touch <= 0 {
			return Quote{}, fmt.Errorf("pricer: no touch price available for %s", action.TokenID)
		}
		frac := SizeSlippageFraction(action.SizeUSD(), p.maxSlippageBps)
		price := touch
		if action.Side == domain.OrderSideBuy {
			price = touch * (1 + frac)
		} else {
			price = touch * (1 - frac)
		}
		return Quote{Price: price, Kind: domain.OrderKindMarket}, nil
	}

	price := action.Price()
	if price <= 0 {
		price = mid
	}
	lo, hi := mid*(1-capFrac), mid*(1+capFrac)
	if price < lo {
		price = lo
	}
	if price > hi {
		price = hi
	}
	return Quote{Price: price, Kind: domain.OrderKindLimit}, nil
}

// UpgradeDeadline is how long a resting limit order is given to fill
// before the executor cancels it and replaces it with a market order at
// the then-current touch price, provided the originating action has not
// expired by that point.
func UpgradeDeadline(urgency domain.ActionUrgency) time.Duration {
	switch urgency {
	case domain.ActionUrgencyImmediate:
		return 2 * time.Second
	case domain.ActionUrgencyHigh:
		return 5 * time.Second
	case domain.ActionUrgencyMedium:
		return 15 * time.Second
	default:
		return 30 * time.Second
	}
}
