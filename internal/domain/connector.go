package domain

import "time"

// Group is the market segment a connector belongs to.
type Group string

const (
	GroupSpot    Group = "spot"
	GroupFutures Group = "futures"
	GroupOptions Group = "options"
)

// Exchange names recognized by the bootstrap.
const (
	ExchangeBitfinex = "bitfinex"
	ExchangeDeribit  = "deribit"
)

// ConnectorConfig holds the per-connector options. Zero values fall back to
// the exchange defaults.
type ConnectorConfig struct {
	Exchange string `yaml:"exchange"`
	Group    Group  `yaml:"group"`
	// Symbol is the exchange-native instrument identifier (e.g. "tBTCUSD", "BTC-PERPETUAL").
	Symbol string `yaml:"symbol"`
	URL    string `yaml:"ws_url"`

	OrderBookDepth string `yaml:"order_book_depth"`
	Interval       string `yaml:"interval"`
	BookGroup      string `yaml:"book_group"`

	// MaxRetries caps consecutive reconnect attempts: nil uses the exchange
	// default, 0 retries forever.
	MaxRetries *int `yaml:"max_retries"`
	// Timeout overrides the liveness heartbeat interval.
	Timeout        time.Duration `yaml:"timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	// Backoff is "fixed" (default) or "exponential".
	Backoff string `yaml:"backoff"`
}

// Key identifies the connector in logs, metrics and storage.
func (c ConnectorConfig) Key() string {
	return c.Exchange + ":" + c.Symbol
}
