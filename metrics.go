package coremqtt

import (
	"strconv"
	"time"
)

// MetricLabels represents key-value pairs for metric labels.
type MetricLabels map[string]string

// Metrics defines the interface for collecting metrics.
type Metrics interface {
	// Counter returns a counter metric.
	Counter(name string, labels MetricLabels) Counter

	// Gauge returns a gauge metric.
	Gauge(name string, labels MetricLabels) Gauge

	// Histogram returns a histogram metric.
	Histogram(name string, labels MetricLabels) Histogram
}

// Counter is a monotonically increasing counter.
type Counter interface {
	Inc()
	Add(delta float64)
}

// Gauge is a metric that can go up and down.
type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(delta float64)
	Sub(delta float64)
}

// Histogram tracks the distribution of values.
type Histogram interface {
	Observe(value float64)
	// ObserveDuration records a duration in seconds.
	ObserveDuration(d time.Duration)
}

// NoOpMetrics is a no-op implementation of Metrics.
type NoOpMetrics struct{}

func (n *NoOpMetrics) Counter(_ string, _ MetricLabels) Counter     { return noOpCounter{} }
func (n *NoOpMetrics) Gauge(_ string, _ MetricLabels) Gauge         { return noOpGauge{} }
func (n *NoOpMetrics) Histogram(_ string, _ MetricLabels) Histogram { return noOpHistogram{} }

type noOpCounter struct{}

func (noOpCounter) Inc()          {}
func (noOpCounter) Add(_ float64) {}

type noOpGauge struct{}

func (noOpGauge) Set(_ float64) {}
func (noOpGauge) Inc()          {}
func (noOpGauge) Dec()          {}
func (noOpGauge) Add(_ float64) {}
func (noOpGauge) Sub(_ float64) {}

type noOpHistogram struct{}

func (noOpHistogram) Observe(_ float64)               {}
func (noOpHistogram) ObserveDuration(_ time.Duration) {}

// Metric names recorded by the engine and the client.
const (
	MetricPacketsSent       = "coremqtt_packets_sent_total"
	MetricPacketsReceived   = "coremqtt_packets_received_total"
	MetricBytesSent         = "coremqtt_bytes_sent_total"
	MetricBytesReceived     = "coremqtt_bytes_received_total"
	MetricPacketsDiscarded  = "coremqtt_packets_discarded_total"
	MetricPingsSent         = "coremqtt_pings_sent_total"
	MetricKeepAliveTimeouts = "coremqtt_keepalive_timeouts_total"
	MetricPublishesInFlight = "coremqtt_publishes_in_flight"
	MetricMessagesReceived  = "coremqtt_messages_received_total"
	MetricConnected         = "coremqtt_connected"
	MetricPublishWait       = "coremqtt_publish_wait_seconds"
)

// Metric labels.
const (
	LabelPacketType = "packet_type"
	LabelQoS        = "qos"
)

// engineMetrics wraps Metrics with the recording points of the engine.
type engineMetrics struct {
	metrics Metrics
}

func newEngineMetrics(m Metrics) engineMetrics {
	if m == nil {
		m = &NoOpMetrics{}
	}
	return engineMetrics{metrics: m}
}

func (e engineMetrics) packetSent(t PacketType) {
	e.metrics.Counter(MetricPacketsSent, MetricLabels{LabelPacketType: t.String()}).Inc()
}

func (e engineMetrics) bytesSent(n int) {
	e.metrics.Counter(MetricBytesSent, nil).Add(float64(n))
}

func (e engineMetrics) packetReceived(info *PacketInfo) {
	e.metrics.Counter(MetricPacketsReceived, MetricLabels{LabelPacketType: info.Type.String()}).Inc()
	e.metrics.Counter(MetricBytesReceived, nil).Add(float64(packetSizeFor(info.RemainingLength)))
}

func (e engineMetrics) packetDiscarded() {
	e.metrics.Counter(MetricPacketsDiscarded, nil).Inc()
}

func (e engineMetrics) pingSent() {
	e.metrics.Counter(MetricPingsSent, nil).Inc()
}

func (e engineMetrics) keepAliveTimeout() {
	e.metrics.Counter(MetricKeepAliveTimeouts, nil).Inc()
}

func (e engineMetrics) inFlight(n int) {
	e.metrics.Gauge(MetricPublishesInFlight, nil).Set(float64(n))
}

func (e engineMetrics) messageReceived(qos QoS) {
	e.metrics.Counter(MetricMessagesReceived, MetricLabels{LabelQoS: strconv.Itoa(int(qos))}).Inc()
}

func (e engineMetrics) connected(up bool) {
	v := 0.0
	if up {
		v = 1
	}
	e.metrics.Gauge(MetricConnected, nil).Set(v)
}
