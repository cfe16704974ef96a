package event

// Type identifies a canonical event.
type Type string

const (
	TypeTrade     Type = "Trade"
	TypeTicker    Type = "Ticker"
	TypeTopOfBook Type = "TopOfBook"
)

// Side is the aggressor side of a trade.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// Event is the exchange-agnostic output of every connector.
type Event interface {
	GetType() Type
	GetSymbol() string
	GetConnector() string
	GetTimestamp() int64
}

// Header carries the fields shared by all canonical events.
// Timestamp is Unix milliseconds.
type Header struct {
	Type      Type   `json:"event"`
	Symbol    string `json:"symbol"`
	Connector string `json:"connectorType"`
	Timestamp int64  `json:"timestamp"`
}

func (h Header) GetType() Type        { return h.Type }
func (h Header) GetSymbol() string    { return h.Symbol }
func (h Header) GetConnector() string { return h.Connector }
func (h Header) GetTimestamp() int64  { return h.Timestamp }

// Trade is a single fill reported by the exchange.
type Trade struct {
	Header
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
	Side  Side    `json:"side"`
}

// Ticker carries the last price plus whatever summary fields the exchange provides.
// Nil fields were not supplied by the exchange.
type Ticker struct {
	Header
	LastPrice           float64  `json:"lastPrice"`
	Bid                 *float64 `json:"bid,omitempty"`
	BidSize             *float64 `json:"bidSize,omitempty"`
	Ask                 *float64 `json:"ask,omitempty"`
	AskSize             *float64 `json:"askSize,omitempty"`
	Volume              *float64 `json:"volume,omitempty"`
	High                *float64 `json:"high,omitempty"`
	Low                 *float64 `json:"low,omitempty"`
	DailyChange         *float64 `json:"dailyChange,omitempty"`
	DailyChangeRelative *float64 `json:"dailyChangeRelative,omitempty"`
}

// TopOfBook is the best bid and best ask. Both sides are always present.
type TopOfBook struct {
	Header
	BidPrice float64 `json:"bidPrice"`
	BidSize  float64 `json:"bidSize"`
	AskPrice float64 `json:"askPrice"`
	AskSize  float64 `json:"askSize"`
}

// NewTrade builds a Trade event.
func NewTrade(symbol, connector string, ts int64, price, size float64, side Side) *Trade {
	return &Trade{
		Header: Header{Type: TypeTrade, Symbol: symbol, Connector: connector, Timestamp: ts},
		Price:  price,
		Size:   size,
		Side:   side,
	}
}

// NewTicker builds a Ticker event with only the last price set.
func NewTicker(symbol, connector string, ts int64, last float64) *Ticker {
	return &Ticker{
		Header:    Header{Type: TypeTicker, Symbol: symbol, Connector: connector, Timestamp: ts},
		LastPrice: last,
	}
}

// NewTopOfBook builds a TopOfBook event.
func NewTopOfBook(symbol, connector string, ts int64, bidPrice, bidSize, askPrice, askSize float64) *TopOfBook {
	return &TopOfBook{
		Header:   Header{Type: TypeTopOfBook, Symbol: symbol, Connector: connector, Timestamp: ts},
		BidPrice: bidPrice,
		BidSize:  bidSize,
		AskPrice: askPrice,
		AskSize:  askSize,
	}
}

// Float returns a pointer to v, for optional Ticker fields.
func Float(v float64) *float64 {
	return &v
}
