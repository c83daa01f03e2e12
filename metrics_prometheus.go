package coremqtt

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics exports metrics through a prometheus registerer.
//
// Vectors are created on first use, keyed by name. The label names of a
// metric are fixed by its first use; later uses must pass the same keys.
type PrometheusMetrics struct {
	registerer prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMetrics creates metrics registered with reg, or with the
// default registerer when reg is nil.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	return &PrometheusMetrics{
		registerer: reg,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func labelNames(labels MetricLabels) []string {
	return slices.Sorted(maps.Keys(labels))
}

func helpFor(name string) string {
	return strings.ReplaceAll(strings.TrimPrefix(name, "coremqtt_"), "_", " ")
}

// register registers c, reusing an already registered collector of the
// same description.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Counter returns a counter metric.
func (p *PrometheusMetrics) Counter(name string, labels MetricLabels) Counter {
	p.mu.Lock()
	defer p.mu.Unlock()

	vec, ok := p.counters[name]
	if !ok {
		vec = register(p.registerer, prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: name, Help: helpFor(name)}, labelNames(labels)))
		p.counters[name] = vec
	}

	return vec.With(prometheus.Labels(labels))
}

// Gauge returns a gauge metric.
func (p *PrometheusMetrics) Gauge(name string, labels MetricLabels) Gauge {
	p.mu.Lock()
	defer p.mu.Unlock()

	vec, ok := p.gauges[name]
	if !ok {
		vec = register(p.registerer, prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: name, Help: helpFor(name)}, labelNames(labels)))
		p.gauges[name] = vec
	}

	return vec.With(prometheus.Labels(labels))
}

// Histogram returns a histogram metric with the default buckets.
func (p *PrometheusMetrics) Histogram(name string, labels MetricLabels) Histogram {
	p.mu.Lock()
	defer p.mu.Unlock()

	vec, ok := p.histograms[name]
	if !ok {
		vec = register(p.registerer, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: name, Help: helpFor(name), Buckets: prometheus.DefBuckets},
			labelNames(labels)))
		p.histograms[name] = vec
	}

	return prometheusHistogram{vec.With(prometheus.Labels(labels))}
}

type prometheusHistogram struct {
	prometheus.Observer
}

func (h prometheusHistogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}
