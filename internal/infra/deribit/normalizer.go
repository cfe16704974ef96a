package deribit

import (
	"log/slog"

	"crypto_feed/internal/book"
	"crypto_feed/internal/event"

	"github.com/shopspring/decimal"
)

// ConnectorType is the connector name stamped on every event.
const ConnectorType = "Deribit"

var directions = map[string]event.Side{
	"buy":  event.SideBuy,
	"sell": event.SideSell,
}

// Normalizer maps Deribit notifications onto canonical events and owns the
// instrument's order book.
type Normalizer struct {
	symbol string
	book   *book.Book
	log    *slog.Logger

	lastChangeID int64
}

// NewNormalizer creates a Normalizer with an empty book.
func NewNormalizer(symbol string, log *slog.Logger) *Normalizer {
	return &Normalizer{symbol: symbol, book: book.New(), log: log}
}

// OrderBook exposes the maintained order book for queries.
func (n *Normalizer) OrderBook() *book.Book { return n.book }

// Reset empties the book so it waits for a fresh snapshot.
func (n *Normalizer) Reset() {
	n.book.Reset()
	n.lastChangeID = 0
}

// Trades maps a batch of fills. Entries whose direction is not in the
// direction table are dropped.
func (n *Normalizer) Trades(trades []tradeData) []event.Event {
	events := make([]event.Event, 0, len(trades))
	for _, t := range trades {
		side, ok := directions[t.Direction]
		if !ok {
			continue
		}
		events = append(events, event.NewTrade(n.symbol, ConnectorType, t.Timestamp, t.Price, t.Amount, side))
	}
	return events
}

// Ticker yields a TopOfBook when both best levels are quoted and a Ticker
// when a last price is known.
func (n *Normalizer) Ticker(t tickerData) []event.Event {
	events := make([]event.Event, 0, 2)

	if positive(t.BestBidPrice) && positive(t.BestAskPrice) {
		events = append(events, event.NewTopOfBook(n.symbol, ConnectorType, t.Timestamp,
			*t.BestBidPrice, deref(t.BestBidAmount), *t.BestAskPrice, deref(t.BestAskAmount)))
	}

	if t.LastPrice == nil {
		return events
	}
	tk := event.NewTicker(n.symbol, ConnectorType, t.Timestamp, *t.LastPrice)
	tk.Bid = t.BestBidPrice
	tk.BidSize = t.BestBidAmount
	tk.Ask = t.BestAskPrice
	tk.AskSize = t.BestAskAmount
	if s := t.Stats; s != nil {
		tk.Volume = s.Volume
		tk.High = s.High
		tk.Low = s.Low
		if s.PriceChange != nil {
			tk.DailyChangeRelative = event.Float(*s.PriceChange / 100)
		}
	}
	return append(events, tk)
}

// BookUpdate applies a snapshot or change and yields the new top of book when
// both sides are populated.
func (n *Normalizer) BookUpdate(u bookData) []event.Event {
	bids, asks := levels(u.Bids), levels(u.Asks)

	if u.Type == bookChange {
		if n.lastChangeID != 0 && u.PrevChangeID != 0 && u.PrevChangeID != n.lastChangeID {
			n.log.Warn("book change id gap", slog.Int64("expected", n.lastChangeID), slog.Int64("prev_change_id", u.PrevChangeID))
		}
		n.book.ApplyDelta(bids, asks)
	} else {
		n.book.ApplySnapshot(bids, asks)
	}
	n.lastChangeID = u.ChangeID

	bid, ask, ok := n.book.Top()
	if !ok {
		return nil
	}
	return []event.Event{event.NewTopOfBook(n.symbol, ConnectorType, u.Timestamp,
		bid.PriceFloat(), bid.SizeFloat(), ask.PriceFloat(), ask.SizeFloat())}
}

func levels(entries []bookEntry) []book.Level {
	out := make([]book.Level, len(entries))
	for i, e := range entries {
		size := e.Amount
		if e.Action == actionDelete {
			size = decimal.Zero
		}
		out[i] = book.Level{Price: e.Price, Size: size}
	}
	return out
}

func positive(v *float64) bool { return v != nil && *v > 0 }

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
