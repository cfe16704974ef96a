// Package deribit is the Deribit v2 public market-data connector: trades,
// ticker and an incrementally maintained order book.
package deribit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"crypto_feed/internal/book"
	"crypto_feed/internal/connection"
	"crypto_feed/internal/domain"
)

const (
	DefaultURL = "wss://www.deribit.com/ws/api/v2"

	defaultInterval       = "100ms"
	defaultSubscribeDelay = time.Second
	defaultReconnectDelay = time.Second
	defaultMaxRetries     = 5
)

// Connector streams one Deribit instrument.
type Connector struct {
	*connection.Manager
	proto  *protocol
	symbol string
}

var _ domain.Connector = (*Connector)(nil)

// New builds a connector. The canonical symbol is resolved once here.
//
// Deribit sends no protocol heartbeats on public channels, so the liveness
// watchdog stays off unless cfg.Timeout sets one.
func New(group domain.Group, cfg domain.ConnectorConfig, resolve domain.SymbolResolver, deps connection.Deps) (*Connector, error) {
	if cfg.Symbol == "" {
		return nil, &domain.ConfigError{Field: "symbol", Err: domain.ErrInvalidSymbol}
	}
	symbol, err := resolve(group, cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve symbol %s: %w", cfg.Symbol, err)
	}

	deps = deps.WithDefaults()
	name := cfg.Key()
	log := deps.Logger.With(slog.String("exchange", domain.ExchangeDeribit), slog.String("symbol", symbol))

	url := cfg.URL
	if url == "" {
		url = DefaultURL
	}
	interval := cfg.Interval
	if interval == "" {
		interval = defaultInterval
	}

	channels := channelSet(cfg.Symbol, interval, cfg.BookGroup, cfg.OrderBookDepth)
	protoLog := log.With(slog.String("connector", name))
	proto := newProtocol(name, channels, NewNormalizer(symbol, protoLog), protoLog)

	mgr := connection.NewManager(proto, connection.Options{
		URL:               url,
		HeartbeatInterval: cfg.Timeout,
		SubscribeDelay:    defaultSubscribeDelay,
		Retry:             connection.PolicyFor(cfg, defaultMaxRetries, defaultReconnectDelay),
		Dialer:            deps.Dialer,
		Logger:            log,
		Metrics:           deps.Metrics,
		OnState:           deps.OnState,
	})

	return &Connector{Manager: mgr, proto: proto, symbol: symbol}, nil
}

// Symbol returns the canonical symbol the connector publishes.
func (c *Connector) Symbol() string { return c.symbol }

// Channels returns the channel names requested on subscribe.
func (c *Connector) Channels() []string { return c.proto.channels }

// Probe sends public/test; the server version is logged when it answers.
func (c *Connector) Probe(ctx context.Context) error {
	msg, err := c.proto.request(methodTest, struct{}{})
	if err != nil {
		return err
	}
	return c.Send(ctx, msg)
}

// Book returns the maintained order book. It is mutated by the session loop
// and must only be read from the event handler.
func (c *Connector) Book() *book.Book { return c.proto.normalizer.OrderBook() }
