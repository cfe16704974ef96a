package bitfinex

import (
	"math"
	"time"

	"crypto_feed/internal/event"
)

// ConnectorType is the connector name stamped on every event.
const ConnectorType = "Bitfinex"

// Normalizer maps decoded Bitfinex tuples onto canonical events.
type Normalizer struct {
	symbol string
	clock  func() time.Time
}

// NewNormalizer creates a Normalizer publishing under the canonical symbol.
func NewNormalizer(symbol string, clock func() time.Time) *Normalizer {
	if clock == nil {
		clock = time.Now
	}
	return &Normalizer{symbol: symbol, clock: clock}
}

// Trade maps one fill. The side comes from the sign of the amount; a zero
// amount has no side and yields nothing.
func (n *Normalizer) Trade(t tradeTuple) (*event.Trade, bool) {
	var side event.Side
	switch {
	case t.Amount > 0:
		side = event.SideBuy
	case t.Amount < 0:
		side = event.SideSell
	default:
		return nil, false
	}
	return event.NewTrade(n.symbol, ConnectorType, t.Mts, t.Price, math.Abs(t.Amount), side), true
}

// Ticker maps one ticker update. The payload carries best bid/ask and daily
// statistics, so it yields a TopOfBook and a Ticker. The TopOfBook is skipped
// when either side is missing.
func (n *Normalizer) Ticker(t tickerTuple) []event.Event {
	ts := n.clock().UnixMilli()
	events := make([]event.Event, 0, 2)

	if t.Bid > 0 && t.Ask > 0 {
		events = append(events, event.NewTopOfBook(n.symbol, ConnectorType, ts, t.Bid, t.BidSize, t.Ask, t.AskSize))
	}

	tk := event.NewTicker(n.symbol, ConnectorType, ts, t.LastPrice)
	tk.Bid = event.Float(t.Bid)
	tk.BidSize = event.Float(t.BidSize)
	tk.Ask = event.Float(t.Ask)
	tk.AskSize = event.Float(t.AskSize)
	tk.DailyChange = event.Float(t.DailyChange)
	tk.DailyChangeRelative = event.Float(t.DailyChangeRelative)
	tk.Volume = event.Float(t.Volume)
	tk.High = event.Float(t.High)
	tk.Low = event.Float(t.Low)
	return append(events, tk)
}
