package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight per-connector counters.
// Uses atomic operations for thread-safety; exported through Collector.
type Metrics struct {
	// Counters
	framesReceived   atomic.Uint64
	framesDropped    atomic.Uint64
	eventsEmitted    atomic.Uint64
	handlerErrors    atomic.Uint64
	reconnects       atomic.Uint64
	livenessTimeouts atomic.Uint64

	// Frame handling latency
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
	failed            atomic.Int32 // 1 = retries exhausted
}

// NewMetrics creates a zeroed Metrics.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordFrame records one handled inbound frame with its handling latency.
func (m *Metrics) RecordFrame(latencyNs int64) {
	m.framesReceived.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordDropped records a frame that produced no events because it was
// malformed or for an unknown channel.
func (m *Metrics) RecordDropped() {
	m.framesDropped.Add(1)
}

// RecordEvents records canonical events handed to the consumer.
func (m *Metrics) RecordEvents(n int) {
	m.eventsEmitted.Add(uint64(n))
}

// RecordHandlerError records a consumer callback error or panic.
func (m *Metrics) RecordHandlerError() {
	m.handlerErrors.Add(1)
}

// RecordReconnect records a scheduled reconnect attempt.
func (m *Metrics) RecordReconnect() {
	m.reconnects.Add(1)
}

// RecordLivenessTimeout records a keep-alive watchdog firing.
func (m *Metrics) RecordLivenessTimeout() {
	m.livenessTimeouts.Add(1)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// SetFailed marks the connector as terminally failed (true) or not.
func (m *Metrics) SetFailed(failed bool) {
	if failed {
		m.failed.Store(1)
	} else {
		m.failed.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	FramesReceived    uint64
	FramesDropped     uint64
	EventsEmitted     uint64
	HandlerErrors     uint64
	Reconnects        uint64
	LivenessTimeouts  uint64
	AvgLatencyNs      int64
	ActiveConnections int32
	Failed            bool
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		FramesReceived:    m.framesReceived.Load(),
		FramesDropped:     m.framesDropped.Load(),
		EventsEmitted:     m.eventsEmitted.Load(),
		HandlerErrors:     m.handlerErrors.Load(),
		Reconnects:        m.reconnects.Load(),
		LivenessTimeouts:  m.livenessTimeouts.Load(),
		AvgLatencyNs:      avgLatency,
		ActiveConnections: m.activeConnections.Load(),
		Failed:            m.failed.Load() == 1,
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.framesReceived.Store(0)
	m.framesDropped.Store(0)
	m.eventsEmitted.Store(0)
	m.handlerErrors.Store(0)
	m.reconnects.Store(0)
	m.livenessTimeouts.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeConnections.Store(0)
	m.failed.Store(0)
}
