// Package bitfinex is the Bitfinex v2 public market-data connector: trades
// and ticker (which doubles as top-of-book).
package bitfinex

import (
	"fmt"
	"log/slog"
	"time"

	"crypto_feed/internal/connection"
	"crypto_feed/internal/domain"
)

const (
	DefaultURL = "wss://api-pub.bitfinex.com/ws/2"

	defaultHeartbeat      = 20 * time.Second
	defaultGrace          = 5 * time.Second
	defaultPingInterval   = 10 * time.Second
	defaultReconnectDelay = 5 * time.Second
	defaultMaxRetries     = 0 // reconnect forever
)

// Connector streams one Bitfinex symbol.
type Connector struct {
	*connection.Manager
	symbol string
}

var _ domain.Connector = (*Connector)(nil)

// New builds a connector. The canonical symbol is resolved once here.
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
	log := deps.Logger.With(slog.String("exchange", domain.ExchangeBitfinex), slog.String("symbol", symbol))

	url := cfg.URL
	if url == "" {
		url = DefaultURL
	}
	heartbeat := defaultHeartbeat
	if cfg.Timeout > 0 {
		heartbeat = cfg.Timeout
	}

	proto := newProtocol(name, cfg.Symbol, NewNormalizer(symbol, deps.Clock), log.With(slog.String("connector", name)))
	mgr := connection.NewManager(proto, connection.Options{
		URL:               url,
		HeartbeatInterval: heartbeat,
		HeartbeatGrace:    defaultGrace,
		PingInterval:      defaultPingInterval,
		Retry:             connection.PolicyFor(cfg, defaultMaxRetries, defaultReconnectDelay),
		Dialer:            deps.Dialer,
		Logger:            log,
		Metrics:           deps.Metrics,
		OnState:           deps.OnState,
	})

	return &Connector{Manager: mgr, symbol: symbol}, nil
}

// Symbol returns the canonical symbol the connector publishes.
func (c *Connector) Symbol() string { return c.symbol }
