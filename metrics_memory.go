package coremqtt

import (
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryMetrics keeps every metric in memory. It backs the tests and
// programs that read values directly instead of exporting them.
type MemoryMetrics struct {
	mu         sync.RWMutex
	counters   map[string]*atomicFloat
	gauges     map[string]*atomicFloat
	histograms map[string]*memoryHistogram
}

// NewMemoryMetrics creates a new in-memory metrics instance.
func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{
		counters:   make(map[string]*atomicFloat),
		gauges:     make(map[string]*atomicFloat),
		histograms: make(map[string]*memoryHistogram),
	}
}

// labelsKey builds a map key from the name and the labels in key order.
func labelsKey(name string, labels MetricLabels) string {
	if len(labels) == 0 {
		return name
	}

	var b strings.Builder
	b.WriteString(name)
	for _, k := range slices.Sorted(maps.Keys(labels)) {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(labels[k])
	}

	return b.String()
}

func getOrCreate[T any](mu *sync.RWMutex, m map[string]*T, key string) *T {
	mu.Lock()
	defer mu.Unlock()

	if v, ok := m[key]; ok {
		return v
	}

	v := new(T)
	m[key] = v

	return v
}

// Counter returns a counter metric.
func (m *MemoryMetrics) Counter(name string, labels MetricLabels) Counter {
	return (*memoryCounter)(getOrCreate(&m.mu, m.counters, labelsKey(name, labels)))
}

// Gauge returns a gauge metric.
func (m *MemoryMetrics) Gauge(name string, labels MetricLabels) Gauge {
	return (*memoryGauge)(getOrCreate(&m.mu, m.gauges, labelsKey(name, labels)))
}

// Histogram returns a histogram metric.
func (m *MemoryMetrics) Histogram(name string, labels MetricLabels) Histogram {
	return getOrCreate(&m.mu, m.histograms, labelsKey(name, labels))
}

// CounterValue returns the value of a counter, or 0 if it was never used.
func (m *MemoryMetrics) CounterValue(name string, labels MetricLabels) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if c, ok := m.counters[labelsKey(name, labels)]; ok {
		return c.load()
	}
	return 0
}

// GaugeValue returns the value of a gauge, or 0 if it was never used.
func (m *MemoryMetrics) GaugeValue(name string, labels MetricLabels) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if g, ok := m.gauges[labelsKey(name, labels)]; ok {
		return g.load()
	}
	return 0
}

// HistogramCount returns the number of observations of a histogram.
func (m *MemoryMetrics) HistogramCount(name string, labels MetricLabels) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if h, ok := m.histograms[labelsKey(name, labels)]; ok {
		return h.count.Load()
	}
	return 0
}

// atomicFloat is a float64 stored as bits.
type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) load() float64 {
	return math.Float64frombits(f.bits.Load())
}

func (f *atomicFloat) store(v float64) {
	f.bits.Store(math.Float64bits(v))
}

func (f *atomicFloat) add(delta float64) {
	for {
		old := f.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if f.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

type memoryCounter atomicFloat

func (c *memoryCounter) Inc()              { (*atomicFloat)(c).add(1) }
func (c *memoryCounter) Add(delta float64) { (*atomicFloat)(c).add(delta) }

type memoryGauge atomicFloat

func (g *memoryGauge) Set(value float64) { (*atomicFloat)(g).store(value) }
func (g *memoryGauge) Inc()              { (*atomicFloat)(g).add(1) }
func (g *memoryGauge) Dec()              { (*atomicFloat)(g).add(-1) }
func (g *memoryGauge) Add(delta float64) { (*atomicFloat)(g).add(delta) }
func (g *memoryGauge) Sub(delta float64) { (*atomicFloat)(g).add(-delta) }

type memoryHistogram struct {
	count atomic.Uint64
	sum   atomicFloat
}

func (h *memoryHistogram) Observe(value float64) {
	h.count.Add(1)
	h.sum.add(value)
}

func (h *memoryHistogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}
