package domain

// State is the connection lifecycle of a connector session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateSubscribing
	StateStreaming
	StateClosing
	StateFaulted
	// StateFailed is terminal: the retry budget is exhausted.
	StateFailed
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateSubscribing:
		return "SUBSCRIBING"
	case StateStreaming:
		return "STREAMING"
	case StateClosing:
		return "CLOSING"
	case StateFaulted:
		return "FAULTED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsLive reports whether a transport handle exists in this state.
func (s State) IsLive() bool {
	return s == StateOpen || s == StateSubscribing || s == StateStreaming
}
