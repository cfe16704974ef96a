package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a transport-level failure of a connector session.
type NetworkError struct {
	Op        string // Operation that failed (e.g., "dial", "read", "write", "keepalive")
	Err       error  // Underlying error
	Retriable bool   // Whether the reconnect state machine should retry
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrConnectionFailed is returned when the websocket dial fails. It's usually retriable.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrLivenessTimeout is the fault raised when no frame arrived within the heartbeat window.
	ErrLivenessTimeout = errors.New("liveness timeout")

	// ErrRetriesExhausted is terminal: a capped retry policy gave up.
	ErrRetriesExhausted = errors.New("reconnect retries exhausted")

	// ErrMalformedPayload marks a frame that could not be decoded. The frame is dropped.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrUnknownChannel marks a data frame for a channel the router has not bound.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrAlreadyConnected is returned by Connect on a connector that is already running.
	ErrAlreadyConnected = errors.New("connector already connected")

	// ErrNotConnected is returned when a write is attempted without a live session.
	ErrNotConnected = errors.New("not connected")

	// ErrStopped is the terminal error of a connector that was stopped or destroyed by its owner.
	ErrStopped = errors.New("connector stopped")

	// ErrCloseTimeout is returned by Stop when the close handshake did not finish in time.
	ErrCloseTimeout = errors.New("close handshake timed out")

	// ErrInboxFull is returned when the dispatcher cannot accept a batch without blocking.
	ErrInboxFull = errors.New("dispatcher inbox full")

	// ErrInvalidSymbol is returned when a symbol is not supported or malformed. Not retriable.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
