package exchange

import (
	"math/big"
	"strconv"
	"time"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

// --------------------------------------------------------------------------
// CLOB REST DTOs
// --------------------------------------------------------------------------

// APIOrder represents an order as returned by the exchange's order API.
type APIOrder struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	MarketID      string  `json:"market"`
	AssetID       string  `json:"asset_id"`
	Side          string  `json:"side"` // "BUY" or "SELL"
	Type          string  `json:"type"` // "market" or "limit"
	OriginalSize  string  `json:"original_size"`
	SizeMatched   string  `json:"size_matched"`
	Price         string  `json:"price"`
	MakerAmount   string  `json:"maker_amount"`
	TakerAmount   string  `json:"taker_amount"`
	Owner         string  `json:"owner"`
	Signature     string  `json:"signature"`
	FeeRateBps    string  `json:"fee_rate_bps"`
	SignatureType int     `json:"signature_type"`
	CreatedAt     string  `json:"created_at"`
	FilledAt      *string `json:"filled_at,omitempty"`
	CancelledAt   *string `json:"cancelled_at,omitempty"`
}

// APIOrderResult is the response from placing an order via the exchange API.
type APIOrderResult struct {
	Success     bool    `json:"success"`
	ErrorMsg    string  `json:"errorMsg,omitempty"`
	OrderID     string  `json:"orderID,omitempty"`
	Status      string  `json:"status,omitempty"`
	FilledPrice float64 `json:"filledPrice,omitempty"`
	FeeUSD      float64 `json:"feeUsd,omitempty"`
	ShouldRetry bool    `json:"shouldRetry,omitempty"`
}

// APIBookResponse is the REST response for a single token's order book.
type APIBookResponse struct {
	AssetID string         `json:"asset_id"`
	Market  string         `json:"market"`
	Bids    []WSPriceLevel `json:"bids"`
	Asks    []WSPriceLevel `json:"asks"`
	Hash    string         `json:"hash"`
}

// APIFeeRate is the response from the fee-rate lookup used by the
// Execution & Safety Pipeline's fee gate.
type APIFeeRate struct {
	AssetID    string `json:"asset_id"`
	FeeRateBps int64  `json:"fee_rate_bps"`
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// WSMessage is the outer envelope of every WebSocket frame from the
// exchange's market data WebSocket API.
type WSMessage struct {
	MsgType   string `json:"msg_type"` // "book", "price_change", "last_trade_price", "error"
	AssetID   string `json:"asset_id,omitempty"`
	Market    string `json:"market,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`

	Book           *BookMessage        `json:"-"`
	PriceChange    *PriceChangeMessage `json:"-"`
	LastTradePrice *PriceMessage       `json:"-"`
}

// BookMessage represents a full orderbook snapshot delivered over WebSocket.
type BookMessage struct {
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// WSPriceLevel is a single bid/ask level in the WebSocket orderbook data.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// PriceChangeMessage represents an incremental orderbook price-level update.
type PriceChangeMessage struct {
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Side      string `json:"side"` // "BUY" or "SELL"
	Price     string `json:"price"`
	Size      string `json:"size"` // "0" means level removed
	Timestamp string `json:"timestamp"`
}

// PriceMessage represents the most recent trade price for an asset.
type PriceMessage struct {
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Timestamp string `json:"timestamp"`
}

// WSCommand is the JSON payload sent to the WebSocket to subscribe/unsubscribe.
type WSCommand struct {
	Type    string   `json:"type"` // "subscribe" or "unsubscribe"
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
	Markets []string `json:"markets,omitempty"`
}

// --------------------------------------------------------------------------
// Conversion helpers: API types -> domain types
// --------------------------------------------------------------------------

// ToDomainOrder converts an APIOrder to a domain.Order.
func (a *APIOrder) ToDomainOrder() domain.Order {
	o := domain.Order{
		ID:        a.ID,
		MarketID:  a.MarketID,
		TokenID:   a.AssetID,
		Wallet:    a.Owner,
		Signature: a.Signature,
	}

	switch a.Side {
	case "BUY":
		o.Side = domain.OrderSideBuy
	case "SELL":
		o.Side = domain.OrderSideSell
	}

	switch a.Type {
	case "market":
		o.Kind = domain.OrderKindMarket
	default:
		o.Kind = domain.OrderKindLimit
	}

	switch a.Status {
	case "live", "open":
		o.Status = domain.OrderStatusOpen
	case "matched", "filled":
		o.Status = domain.OrderStatusMatched
	case "cancelled":
		o.Status = domain.OrderStatusCancelled
	default:
		o.Status = domain.OrderStatusPending
	}

	if price, err := strconv.ParseFloat(a.Price, 64); err == nil {
		o.PriceTicks = int64(price * 1e6)
	}
	if orig, err := strconv.ParseFloat(a.OriginalSize, 64); err == nil {
		o.SizeUnits = int64(orig * 1e6)
	}
	if matched, err := strconv.ParseFloat(a.SizeMatched, 64); err == nil {
		o.FilledSize = matched
	}
	if ma, ok := new(big.Int).SetString(a.MakerAmount, 10); ok {
		o.MakerAmount = ma
	}
	if ta, ok := new(big.Int).SetString(a.TakerAmount, 10); ok {
		o.TakerAmount = ta
	}
	if t, err := time.Parse(time.RFC3339, a.CreatedAt); err == nil {
		o.CreatedAt = t
	}
	if a.FilledAt != nil {
		if t, err := time.Parse(time.RFC3339, *a.FilledAt); err == nil {
			o.FilledAt = &t
		}
	}
	if a.CancelledAt != nil {
		if t, err := time.Parse(time.RFC3339, *a.CancelledAt); err == nil {
			o.CancelledAt = &t
		}
	}

	return o
}

// ToDomainOrderResult converts an APIOrderResult to a domain.OrderResult.
func (r *APIOrderResult) ToDomainOrderResult() domain.OrderResult {
	result := domain.OrderResult{
		Success:     r.Success,
		OrderID:     r.OrderID,
		Message:     r.ErrorMsg,
		ShouldRetry: r.ShouldRetry,
		FilledPrice: r.FilledPrice,
		FeeUSD:      r.FeeUSD,
	}

	switch r.Status {
	case "live", "open":
		result.Status = domain.OrderStatusOpen
	case "matched":
		result.Status = domain.OrderStatusMatched
	case "delayed":
		result.Status = domain.OrderStatusPending
	default:
		if r.Success {
			result.Status = domain.OrderStatusPending
		} else {
			result.Status = domain.OrderStatusFailed
		}
	}

	return result
}

// BookResponseToDomainSnapshot converts a REST book response to a
// domain.OrderbookSnapshot.
func BookResponseToDomainSnapshot(b *APIBookResponse) domain.OrderbookSnapshot {
	return bookToDomainSnapshot(b.AssetID, b.Bids, b.Asks, time.Now())
}

// BookToDomainSnapshot converts a WebSocket BookMessage to a
// domain.OrderbookSnapshot.
func BookToDomainSnapshot(b *BookMessage) domain.OrderbookSnapshot {
	ts := time.Now()
	if unix, err := strconv.ParseInt(b.Timestamp, 10, 64); err == nil {
		ts = time.Unix(unix, 0)
	} else if t, err := time.Parse(time.RFC3339, b.Timestamp); err == nil {
		ts = t
	}
	return bookToDomainSnapshot(b.AssetID, b.Bids, b.Asks, ts)
}

func bookToDomainSnapshot(assetID string, bids, asks []WSPriceLevel, ts time.Time) domain.OrderbookSnapshot {
	snap := domain.OrderbookSnapshot{AssetID: assetID, Timestamp: ts}

	for _, lvl := range bids {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		snap.Bids = append(snap.Bids, domain.PriceLevel{Price: p, Size: s})
		if p > snap.BestBid {
			snap.BestBid = p
		}
	}
	for _, lvl := range asks {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		snap.Asks = append(snap.Asks, domain.PriceLevel{Price: p, Size: s})
		if snap.BestAsk == 0 || p < snap.BestAsk {
			snap.BestAsk = p
		}
	}
	if snap.BestBid > 0 && snap.BestAsk > 0 {
		snap.MidPrice = (snap.BestBid + snap.BestAsk) / 2
	}
	return snap
}

// PriceChangeToDomain converts a PriceChangeMessage to a domain.PriceChange.
func PriceChangeToDomain(p *PriceChangeMessage) domain.PriceChange {
	pc := domain.PriceChange{
		AssetID: p.AssetID,
		Side:    p.Side,
	}
	pc.Price, _ = strconv.ParseFloat(p.Price, 64)
	pc.Size, _ = strconv.ParseFloat(p.Size, 64)

	if ts, err := strconv.ParseInt(p.Timestamp, 10, 64); err == nil {
		pc.Timestamp = time.Unix(ts, 0)
	} else {
		pc.Timestamp = time.Now()
	}

	return pc
}

// PriceToDomainLastTrade converts a PriceMessage to a domain.LastTradePrice.
func PriceToDomainLastTrade(p *PriceMessage) domain.LastTradePrice {
	ltp := domain.LastTradePrice{AssetID: p.AssetID}
	ltp.Price, _ = strconv.ParseFloat(p.Price, 64)
	ltp.Size, _ = strconv.ParseFloat(p.Size, 64)

	if ts, err := strconv.ParseInt(p.Timestamp, 10, 64); err == nil {
		ltp.Timestamp = time.Unix(ts, 0)
	} else {
		ltp.Timestamp = time.Now()
	}

	return ltp
}
