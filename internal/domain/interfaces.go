package domain

import (
	"context"

	"crypto_feed/internal/event"
)

// EventHandler receives the canonical events produced from one inbound frame.
// It is never called with an empty slice. A returned error is logged by the
// connector and does not affect the session.
type EventHandler func(events []event.Event) error

// Connector is the capability set every exchange variant implements.
type Connector interface {
	// Connect opens the session and returns once the transport is open.
	// Subscriptions are in flight but not acknowledged when it returns.
	Connect(ctx context.Context, onEvents EventHandler) error
	// Stop unsubscribes, closes gracefully and waits (bounded) for the close handshake.
	Stop(ctx context.Context) error
	// Destroy closes the transport abruptly.
	Destroy()

	Name() string
	State() State
	// Done is closed once the connector reached a terminal state.
	Done() <-chan struct{}
	// Err reports why the connector terminated; nil while running.
	Err() error
}

// SymbolResolver maps a connector group and exchange config to the canonical symbol.
// It is called once per connector at construction.
type SymbolResolver func(group Group, cfg ConnectorConfig) (string, error)

// StateHook observes state transitions of a connector.
type StateHook func(connector string, from, to State, err error)
