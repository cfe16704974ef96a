package infra

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	framesReceivedDesc = prometheus.NewDesc(
		"feed_frames_received_total",
		"Inbound frames handled by the connector",
		[]string{"connector"}, nil,
	)
	framesDroppedDesc = prometheus.NewDesc(
		"feed_frames_dropped_total",
		"Inbound frames dropped as malformed or for unknown channels",
		[]string{"connector"}, nil,
	)
	eventsEmittedDesc = prometheus.NewDesc(
		"feed_events_emitted_total",
		"Canonical events handed to the consumer",
		[]string{"connector"}, nil,
	)
	handlerErrorsDesc = prometheus.NewDesc(
		"feed_handler_errors_total",
		"Consumer callback errors and panics",
		[]string{"connector"}, nil,
	)
	reconnectsDesc = prometheus.NewDesc(
		"feed_reconnects_total",
		"Reconnect attempts scheduled after a fault",
		[]string{"connector"}, nil,
	)
	livenessTimeoutsDesc = prometheus.NewDesc(
		"feed_liveness_timeouts_total",
		"Sessions force-closed by the keep-alive watchdog",
		[]string{"connector"}, nil,
	)
	frameLatencyDesc = prometheus.NewDesc(
		"feed_frame_latency_avg_seconds",
		"Average time spent normalizing and dispatching one frame",
		[]string{"connector"}, nil,
	)
	activeConnectionsDesc = prometheus.NewDesc(
		"feed_active_connections",
		"Open transport sessions",
		[]string{"connector"}, nil,
	)
	failedDesc = prometheus.NewDesc(
		"feed_connector_failed",
		"1 when the connector exhausted its retry budget",
		[]string{"connector"}, nil,
	)
)

// Collector exports every registered connector's Metrics to prometheus.
type Collector struct {
	mu      sync.RWMutex
	sources map[string]*Metrics
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{sources: make(map[string]*Metrics)}
}

// Add registers the metrics of one connector under its key.
func (c *Collector) Add(connector string, m *Metrics) {
	c.mu.Lock()
	c.sources[connector] = m
	c.mu.Unlock()
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- framesReceivedDesc
	ch <- framesDroppedDesc
	ch <- eventsEmittedDesc
	ch <- handlerErrorsDesc
	ch <- reconnectsDesc
	ch <- livenessTimeoutsDesc
	ch <- frameLatencyDesc
	ch <- activeConnectionsDesc
	ch <- failedDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for name, m := range c.sources {
		s := m.Snapshot()
		failed := 0.0
		if s.Failed {
			failed = 1
		}
		ch <- prometheus.MustNewConstMetric(framesReceivedDesc, prometheus.CounterValue, float64(s.FramesReceived), name)
		ch <- prometheus.MustNewConstMetric(framesDroppedDesc, prometheus.CounterValue, float64(s.FramesDropped), name)
		ch <- prometheus.MustNewConstMetric(eventsEmittedDesc, prometheus.CounterValue, float64(s.EventsEmitted), name)
		ch <- prometheus.MustNewConstMetric(handlerErrorsDesc, prometheus.CounterValue, float64(s.HandlerErrors), name)
		ch <- prometheus.MustNewConstMetric(reconnectsDesc, prometheus.CounterValue, float64(s.Reconnects), name)
		ch <- prometheus.MustNewConstMetric(livenessTimeoutsDesc, prometheus.CounterValue, float64(s.LivenessTimeouts), name)
		ch <- prometheus.MustNewConstMetric(frameLatencyDesc, prometheus.GaugeValue, float64(s.AvgLatencyNs)/1e9, name)
		ch <- prometheus.MustNewConstMetric(activeConnectionsDesc, prometheus.GaugeValue, float64(s.ActiveConnections), name)
		ch <- prometheus.MustNewConstMetric(failedDesc, prometheus.GaugeValue, failed, name)
	}
}
