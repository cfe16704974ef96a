// Package book maintains the per-instrument order book working set needed to
// derive top-of-book from incremental depth feeds.
package book

import (
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// Side of the book.
type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// Level is one price level. Price identifies the level; two prices that
// compare equal as decimals ("100" and "100.0") are the same level.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Key is the canonical price-level key.
func (l Level) Key() string {
	return l.Price.String()
}

// PriceFloat returns the price as float64 for canonical events.
func (l Level) PriceFloat() float64 {
	f, _ := l.Price.Float64()
	return f
}

// SizeFloat returns the size as float64 for canonical events.
func (l Level) SizeFloat() float64 {
	f, _ := l.Size.Float64()
	return f
}

// BookSide is an ordered set of levels: bids by price descending, asks ascending.
// A level with zero size is never stored.
type BookSide struct {
	side Side
	tree *btree.BTreeG[Level]
}

// NewBookSide creates an empty side.
func NewBookSide(side Side) *BookSide {
	less := func(a, b Level) bool { return a.Price.LessThan(b.Price) }
	if side == Bid {
		less = func(a, b Level) bool { return a.Price.GreaterThan(b.Price) }
	}
	// Owned by a single connector goroutine.
	return &BookSide{
		side: side,
		tree: btree.NewBTreeGOptions(less, btree.Options{NoLocks: true}),
	}
}

// Side returns which side of the book this is.
func (s *BookSide) Side() Side {
	return s.side
}

// Apply merges one delta tuple. Size zero removes the level if present and is a
// no-op otherwise; a positive size inserts or replaces the level. Negative sizes
// are ignored. It reports whether the side changed.
func (s *BookSide) Apply(price, size decimal.Decimal) bool {
	switch size.Sign() {
	case 0:
		_, removed := s.tree.Delete(Level{Price: price})
		return removed
	case 1:
		prev, replaced := s.tree.Set(Level{Price: price, Size: size})
		return !replaced || !prev.Size.Equal(size)
	default:
		return false
	}
}

// Replace discards every level and loads the given ones.
func (s *BookSide) Replace(levels []Level) {
	s.tree.Clear()
	for _, l := range levels {
		if l.Size.Sign() > 0 {
			s.tree.Set(l)
		}
	}
}

// Best returns the head of the side.
func (s *BookSide) Best() (Level, bool) {
	return s.tree.Min()
}

// Get returns the level at price, if any.
func (s *BookSide) Get(price decimal.Decimal) (Level, bool) {
	return s.tree.Get(Level{Price: price})
}

// Len returns the number of levels held.
func (s *BookSide) Len() int {
	return s.tree.Len()
}

// Levels returns all levels best first.
func (s *BookSide) Levels() []Level {
	out := make([]Level, 0, s.tree.Len())
	s.tree.Scan(func(l Level) bool {
		out = append(out, l)
		return true
	})
	return out
}

// Clear empties the side.
func (s *BookSide) Clear() {
	s.tree.Clear()
}

// Book is the two-sided working set of one instrument.
type Book struct {
	bids *BookSide
	asks *BookSide
}

// New creates an empty book.
func New() *Book {
	return &Book{
		bids: NewBookSide(Bid),
		asks: NewBookSide(Ask),
	}
}

// Bids returns the bid side.
func (b *Book) Bids() *BookSide { return b.bids }

// Asks returns the ask side.
func (b *Book) Asks() *BookSide { return b.asks }

// ApplySnapshot replaces both sides wholesale.
func (b *Book) ApplySnapshot(bids, asks []Level) {
	b.bids.Replace(bids)
	b.asks.Replace(asks)
}

// ApplyDelta merges incremental changes into both sides.
func (b *Book) ApplyDelta(bids, asks []Level) {
	for _, l := range bids {
		b.bids.Apply(l.Price, l.Size)
	}
	for _, l := range asks {
		b.asks.Apply(l.Price, l.Size)
	}
}

// BestBid returns the highest bid.
func (b *Book) BestBid() (Level, bool) {
	return b.bids.Best()
}

// BestAsk returns the lowest ask.
func (b *Book) BestAsk() (Level, bool) {
	return b.asks.Best()
}

// Top returns both best levels; ok is false when either side is empty.
func (b *Book) Top() (bid, ask Level, ok bool) {
	bid, okBid := b.bids.Best()
	ask, okAsk := b.asks.Best()
	return bid, ask, okBid && okAsk
}

// Reset empties both sides. Used when a session is rebuilt and the book
// must wait for a fresh snapshot.
func (b *Book) Reset() {
	b.bids.Clear()
	b.asks.Clear()
}
