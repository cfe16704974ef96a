package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"crypto_feed/internal/domain"
	"crypto_feed/internal/event"
)

const sinkTimeout = 2 * time.Second

// Sink receives every batch after the market state has been updated.
type Sink interface {
	Name() string
	Publish(ctx context.Context, events []event.Event) error
}

// Dispatcher serializes the event batches of all connectors on one goroutine.
// Connectors call Submit concurrently; Run updates the latest market state per
// (connector, symbol) and fans out to sinks in arrival order.
type Dispatcher struct {
	inbox   chan []event.Event
	markets map[string]*domain.MarketState
	sinks   []Sink
	log     *slog.Logger

	processed atomic.Uint64
	dropped   atomic.Uint64

	mu sync.RWMutex // Guards markets for external reads
}

// NewDispatcher creates a dispatcher with a bounded inbox.
func NewDispatcher(inboxSize int, log *slog.Logger, sinks ...Sink) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		inbox:   make(chan []event.Event, inboxSize),
		markets: make(map[string]*domain.MarketState),
		sinks:   sinks,
		log:     log,
	}
}

// Submit enqueues a batch without blocking. It satisfies domain.EventHandler,
// so a full inbox surfaces as a handler error on the connector.
func (d *Dispatcher) Submit(events []event.Event) error {
	if len(events) == 0 {
		return nil
	}
	select {
	case d.inbox <- events:
		return nil
	default:
		d.dropped.Add(1)
		return domain.ErrInboxFull
	}
}

// Run processes batches until ctx is cancelled, then drains what is queued.
// It must run in a single goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.Info("dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.drain()
			d.log.Info("dispatcher stopped",
				slog.Uint64("processed", d.processed.Load()), slog.Uint64("dropped", d.dropped.Load()))
			return
		case batch := <-d.inbox:
			d.process(batch)
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case batch := <-d.inbox:
			d.process(batch)
		default:
			return
		}
	}
}

func (d *Dispatcher) process(batch []event.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("dispatcher panic", slog.Any("panic", r))
			d.DumpState("panic_dump.json")
		}
	}()

	d.applyBatch(batch)
	for _, s := range d.sinks {
		d.publish(s, batch)
	}
	d.processed.Add(uint64(len(batch)))
}

func (d *Dispatcher) applyBatch(batch []event.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ev := range batch {
		d.apply(ev)
	}
}

// apply folds one event into the market state. Caller holds mu.
func (d *Dispatcher) apply(ev event.Event) {
	key := marketKey(ev.GetConnector(), ev.GetSymbol())
	state, ok := d.markets[key]
	if !ok {
		state = &domain.MarketState{Connector: ev.GetConnector(), Symbol: ev.GetSymbol()}
		d.markets[key] = state
	}

	switch e := ev.(type) {
	case *event.TopOfBook:
		state.BidPrice, state.BidSize = e.BidPrice, e.BidSize
		state.AskPrice, state.AskSize = e.AskPrice, e.AskSize
	case *event.Ticker:
		state.LastPrice = e.LastPrice
	case *event.Trade:
		state.LastTrade = e.Price
	default:
		d.log.Warn("unknown event type", slog.Any("type", ev.GetType()))
		return
	}
	state.UpdatedMs = ev.GetTimestamp()
	state.Events++
}

func (d *Dispatcher) publish(s Sink, batch []event.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("sink panic", slog.String("sink", s.Name()), slog.Any("panic", r))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := s.Publish(ctx, batch); err != nil {
		d.log.Warn("sink publish failed", slog.String("sink", s.Name()), slog.Any("error", err))
	}
}

// MarketState returns a copy of the latest state for one connector and symbol.
func (d *Dispatcher) MarketState(connector, symbol string) (domain.MarketState, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	state, ok := d.markets[marketKey(connector, symbol)]
	if !ok {
		return domain.MarketState{}, false
	}
	return *state, true
}

// Markets returns copies of all known market states.
func (d *Dispatcher) Markets() []domain.MarketState {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]domain.MarketState, 0, len(d.markets))
	for _, s := range d.markets {
		out = append(out, *s)
	}
	return out
}

// Stats returns the number of processed events and dropped batches.
func (d *Dispatcher) Stats() (processed, dropped uint64) {
	return d.processed.Load(), d.dropped.Load()
}

// DumpState writes the market state to a file (for post-mortem).
func (d *Dispatcher) DumpState(filename string) {
	d.log.Info("Dumping internal state...", slog.String("file", filename))

	d.mu.RLock()
	data := struct {
		Processed uint64                         `json:"processed"`
		Dropped   uint64                         `json:"dropped"`
		Markets   map[string]*domain.MarketState `json:"markets"`
	}{
		Processed: d.processed.Load(),
		Dropped:   d.dropped.Load(),
		Markets:   d.markets,
	}
	b, err := json.MarshalIndent(data, "", "  ")
	d.mu.RUnlock()
	if err != nil {
		d.log.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	if err := os.WriteFile(filename, b, 0644); err != nil {
		d.log.Error("Failed to write state dump", slog.Any("error", err))
	}
}

func marketKey(connector, symbol string) string {
	return connector + "|" + symbol
}
