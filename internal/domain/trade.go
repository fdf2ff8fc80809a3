package domain

import "time"

// Trade represents an enriched, processed trade fill on a market.
type Trade struct {
	ID             int64
	SourceTradeID  string
	Timestamp      time.Time
	MarketID       string
	TokenID        string
	Maker          string
	Taker          string
	TokenType      TokenType
	MakerDirection OrderSide
	TakerDirection OrderSide
	Price          float64
	USDAmount      float64
	TokenAmount    float64
	TxHash         string
}
