package domain

import "github.com/shopspring/decimal"

// VenueQuote is one connector's latest view of a canonical symbol.
type VenueQuote struct {
	Connector string          `json:"connector"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	UpdatedMs int64           `json:"updated_ms"`
}

// MarketData aggregates the venues quoting a single canonical symbol.
type MarketData struct {
	Symbol string                 `json:"symbol"`
	Venues map[string]*VenueQuote `json:"venues"`
}

// BestBid returns the highest bid across venues and the venue quoting it.
func (m *MarketData) BestBid() (decimal.Decimal, string) {
	var best decimal.Decimal
	var venue string
	for name, q := range m.Venues {
		if q.Bid.IsPositive() && (venue == "" || q.Bid.GreaterThan(best)) {
			best, venue = q.Bid, name
		}
	}
	return best, venue
}

// BestAsk returns the lowest ask across venues and the venue quoting it.
func (m *MarketData) BestAsk() (decimal.Decimal, string) {
	var best decimal.Decimal
	var venue string
	for name, q := range m.Venues {
		if q.Ask.IsPositive() && (venue == "" || q.Ask.LessThan(best)) {
			best, venue = q.Ask, name
		}
	}
	return best, venue
}

// IsCrossed reports whether one venue bids above another venue's ask.
func (m *MarketData) IsCrossed() bool {
	bid, bv := m.BestBid()
	ask, av := m.BestAsk()
	return bv != "" && av != "" && bv != av && bid.GreaterThan(ask)
}

// GapPct is the spread between the highest and lowest last price across
// venues: 100 * (High - Low) / Low. Nil with fewer than two priced venues.
func (m *MarketData) GapPct() *decimal.Decimal {
	var lo, hi decimal.Decimal
	n := 0
	for _, q := range m.Venues {
		if !q.Last.IsPositive() {
			continue
		}
		if n == 0 || q.Last.LessThan(lo) {
			lo = q.Last
		}
		if n == 0 || q.Last.GreaterThan(hi) {
			hi = q.Last
		}
		n++
	}
	if n < 2 {
		return nil
	}

	gap := hi.Sub(lo).Div(lo).Mul(decimal.NewFromInt(100))
	return &gap
}
