package domain

import (
	"time"
)

// LatestQuote is the most recent top-of-book and ticker view of one instrument
// on one connector. It is overwritten in place; no history is kept.
type LatestQuote struct {
	Connector string `gorm:"primaryKey" json:"connector"`
	Symbol    string `gorm:"primaryKey" json:"symbol"`

	BidPrice  float64 `json:"bid_price"`
	BidSize   float64 `json:"bid_size"`
	AskPrice  float64 `json:"ask_price"`
	AskSize   float64 `json:"ask_size"`
	LastPrice float64 `json:"last_price"`
	LastTrade float64 `json:"last_trade"`

	BookTs    int64     `json:"book_ts"`   // Unix ms of the last TopOfBook
	TickerTs  int64     `json:"ticker_ts"` // Unix ms of the last Ticker
	TradeTs   int64     `json:"trade_ts"`  // Unix ms of the last Trade
	UpdatedAt time.Time `json:"updated_at"`
}

// ConnectorStatus is the last observed lifecycle state of a connector.
type ConnectorStatus struct {
	Connector string    `gorm:"primaryKey" json:"connector"`
	State     string    `json:"state" gorm:"index"`
	LastError string    `json:"last_error"`
	UpdatedAt time.Time `json:"updated_at"`
}
