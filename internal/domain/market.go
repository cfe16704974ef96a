package domain

// MarketState holds the latest view of a single instrument on a single connector.
// It is owned by the dispatcher goroutine; readers receive copies.
type MarketState struct {
	// Hot fields (written on every event)
	BidPrice  float64 `json:"bid_price"`
	BidSize   float64 `json:"bid_size"`
	AskPrice  float64 `json:"ask_price"`
	AskSize   float64 `json:"ask_size"`
	LastPrice float64 `json:"last_price"`
	LastTrade float64 `json:"last_trade"`
	UpdatedMs int64   `json:"updated_ms"`
	// Cold fields
	Connector string `json:"connector"`
	Symbol    string `json:"symbol"`
	Events    uint64 `json:"events"`
}

// HasBook reports whether a TopOfBook has been seen.
func (m *MarketState) HasBook() bool {
	return m.BidPrice > 0 && m.AskPrice > 0
}

// Spread returns ask minus bid, or 0 when no book is known.
func (m *MarketState) Spread() float64 {
	if !m.HasBook() {
		return 0
	}
	return m.AskPrice - m.BidPrice
}
