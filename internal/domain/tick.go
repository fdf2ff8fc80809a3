package domain

import "time"

// TickKind distinguishes the raw event types the Market Data Gateway emits.
type TickKind string

const (
	TickKindBook        TickKind = "book"
	TickKindPriceChange TickKind = "price_change"
	TickKindTrade       TickKind = "trade"
)

// Tick is the normalized, enriched unit the Tick Router fans out to
// strategies. It carries the raw market-data event plus the catalog
// lookup (Market) so strategies never need to query storage inline.
type Tick struct {
	Seq       int64 // monotonically increasing per token, assigned by the router
	Kind      TickKind
	TokenID   string
	Market    Market
	Book      *OrderbookSnapshot // set when Kind == TickKindBook or PriceChange
	Change    *PriceChange       // set when Kind == TickKindPriceChange
	Trade     *LastTradePrice    // set when Kind == TickKindTrade
	MidPrice  float64
	Velocity1m float64 // (mid(t) - mid(t-60s)) / 60s, 0 if no history yet
	ReceivedAt time.Time
}
