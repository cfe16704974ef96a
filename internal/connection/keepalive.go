package connection

import "time"

// KeepAlive holds the liveness watchdog and the outbound ping ticker of one
// session. It is owned by the session loop and is not safe for concurrent use.
type KeepAlive struct {
	timeout      time.Duration
	pingInterval time.Duration

	liveness *time.Timer
	ping     *time.Ticker
}

// NewKeepAlive builds a monitor. A zero heartbeat disables the watchdog and a
// zero ping interval disables pings.
func NewKeepAlive(heartbeat, grace, ping time.Duration) *KeepAlive {
	k := &KeepAlive{pingInterval: ping}
	if heartbeat > 0 {
		k.timeout = heartbeat + grace
	}
	return k
}

// Timeout is the silence allowed before the session is judged dead.
func (k *KeepAlive) Timeout() time.Duration { return k.timeout }

// Start arms both timers, replacing any previous ones.
func (k *KeepAlive) Start() {
	k.Stop()
	if k.timeout > 0 {
		k.liveness = time.NewTimer(k.timeout)
	}
	if k.pingInterval > 0 {
		k.ping = time.NewTicker(k.pingInterval)
	}
}

// Touch restarts the liveness window after an inbound frame.
func (k *KeepAlive) Touch() {
	if k.liveness != nil {
		k.liveness.Reset(k.timeout)
	}
}

// Stop cancels both timers and forgets them.
func (k *KeepAlive) Stop() {
	if k.liveness != nil {
		k.liveness.Stop()
		k.liveness = nil
	}
	if k.ping != nil {
		k.ping.Stop()
		k.ping = nil
	}
}

// Expired fires when the liveness window elapsed. Nil when disarmed.
func (k *KeepAlive) Expired() <-chan time.Time {
	if k.liveness == nil {
		return nil
	}
	return k.liveness.C
}

// PingDue fires on every ping interval. Nil when disarmed.
func (k *KeepAlive) PingDue() <-chan time.Time {
	if k.ping == nil {
		return nil
	}
	return k.ping.C
}
