package service

import (
	"context"
	"sort"
	"sync"

	"crypto_feed/internal/domain"
	"crypto_feed/internal/event"

	"github.com/shopspring/decimal"
)

// PriceService keeps a consolidated view of every canonical symbol across
// connectors. It is fed as a dispatcher sink.
type PriceService struct {
	mu         sync.RWMutex
	marketData map[string]*domain.MarketData
}

// NewPriceService creates a new PriceService instance
func NewPriceService() *PriceService {
	return &PriceService{
		marketData: make(map[string]*domain.MarketData),
	}
}

func (s *PriceService) Name() string { return "prices" }

// Publish implements engine.Sink.
func (s *PriceService) Publish(_ context.Context, events []event.Event) error {
	s.ProcessEvents(events)
	return nil
}

// GetAllData returns copies of all market data sorted by symbol
func (s *PriceService) GetAllData() []*domain.MarketData {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.MarketData, 0, len(s.marketData))
	for _, data := range s.marketData {
		result = append(result, clone(data))
	}

	// Sort by symbol for consistent ordering
	sort.Slice(result, func(i, j int) bool {
		return result[i].Symbol < result[j].Symbol
	})

	return result
}

// GetData returns a copy of the market data for a specific symbol, nil if unknown.
func (s *PriceService) GetData(symbol string) *domain.MarketData {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.marketData[symbol]
	if !ok {
		return nil
	}
	return clone(data)
}

// ProcessEvents folds a batch into the per-venue quotes.
func (s *PriceService) ProcessEvents(events []event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range events {
		data, exists := s.marketData[ev.GetSymbol()]
		if !exists {
			data = &domain.MarketData{Symbol: ev.GetSymbol(), Venues: make(map[string]*domain.VenueQuote)}
			s.marketData[ev.GetSymbol()] = data
		}
		q, exists := data.Venues[ev.GetConnector()]
		if !exists {
			q = &domain.VenueQuote{Connector: ev.GetConnector()}
			data.Venues[ev.GetConnector()] = q
		}

		switch e := ev.(type) {
		case *event.TopOfBook:
			q.Bid = decimal.NewFromFloat(e.BidPrice)
			q.Ask = decimal.NewFromFloat(e.AskPrice)
		case *event.Ticker:
			q.Last = decimal.NewFromFloat(e.LastPrice)
		case *event.Trade:
			q.Last = decimal.NewFromFloat(e.Price)
		}
		q.UpdatedMs = ev.GetTimestamp()
	}
}

// Must be called with lock held
func clone(data *domain.MarketData) *domain.MarketData {
	out := &domain.MarketData{Symbol: data.Symbol, Venues: make(map[string]*domain.VenueQuote, len(data.Venues))}
	for k, q := range data.Venues {
		cp := *q
		out.Venues[k] = &cp
	}
	return out
}
