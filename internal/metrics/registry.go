// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Kind identifies the metric flavor stored in the registry.
type Kind string

const (
	KindCounter   Kind = "counter"
	KindGauge     Kind = "gauge"
	KindHistogram Kind = "histogram"
)

// Labels is a set of dimension values attached to a metric.
// Two metrics with the same name but different labels are distinct entries.
type Labels map[string]string

// Counter is a monotonically increasing integer metric.
type Counter struct {
	mu      sync.Mutex
	value   int64
	updated time.Time
}

// Inc adds n to the counter. n defaults to 1 via IncOne on the registry
// helpers; negative n is ignored.
func (c *Counter) Inc(n int64) {
	if n < 0 {
		return
	}
	c.mu.Lock()
	c.value += n
	c.updated = time.Now()
	c.mu.Unlock()
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Gauge is a metric that can go up and down.
type Gauge struct {
	mu      sync.Mutex
	value   float64
	updated time.Time
}

// Set replaces the gauge value.
func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.value = v
	g.updated = time.Now()
	g.mu.Unlock()
}

// Inc adds v to the gauge.
func (g *Gauge) Inc(v float64) {
	g.mu.Lock()
	g.value += v
	g.updated = time.Now()
	g.mu.Unlock()
}

// Dec subtracts v from the gauge.
func (g *Gauge) Dec(v float64) { g.Inc(-v) }

// Value returns the current gauge value.
func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// Histogram tracks a running sum, an observation count, and a bucket map
// keyed by the observed value rounded to two decimals.
type Histogram struct {
	mu      sync.Mutex
	sum     float64
	count   int64
	buckets map[float64]int64
	updated time.Time
}

// Observe records a single observation.
func (h *Histogram) Observe(v float64) {
	bucket := math.Round(v*100) / 100
	h.mu.Lock()
	h.sum += v
	h.count++
	if h.buckets == nil {
		h.buckets = make(map[float64]int64)
	}
	h.buckets[bucket]++
	h.updated = time.Now()
	h.mu.Unlock()
}

// Count returns the number of observations so far.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Sum returns the running sum of all observations.
func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

type entry struct {
	name        string
	kind        Kind
	description string
	labels      Labels

	counter   *Counter
	gauge     *Gauge
	histogram *Histogram
}

// Registry holds all metrics for a process. It is append-only: metrics are
// created lazily on first reference and never removed during normal
// operation. Construct one at process start and inject it; tests build a
// fresh registry each.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates an empty metrics registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Counter returns the counter registered under name+labels, creating it if
// needed. The description is set on first creation only.
func (r *Registry) Counter(name, description string, labels Labels) *Counter {
	e := r.lookup(name, KindCounter, description, labels)
	return e.counter
}

// Gauge returns the gauge registered under name+labels, creating it if needed.
func (r *Registry) Gauge(name, description string, labels Labels) *Gauge {
	e := r.lookup(name, KindGauge, description, labels)
	return e.gauge
}

// Histogram returns the histogram registered under name+labels, creating it
// if needed.
func (r *Registry) Histogram(name, description string, labels Labels) *Histogram {
	e := r.lookup(name, KindHistogram, description, labels)
	return e.histogram
}

func (r *Registry) lookup(name string, kind Kind, description string, labels Labels) *entry {
	key := metricKey(name, labels)

	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.entries[key]; ok {
		return e
	}

	e = &entry{name: name, kind: kind, description: description, labels: labels}
	switch kind {
	case KindCounter:
		e.counter = &Counter{}
	case KindGauge:
		e.gauge = &Gauge{}
	case KindHistogram:
		e.histogram = &Histogram{}
	}
	r.entries[key] = e
	return e
}

// metricKey builds the registry key "name{k1=v1,k2=v2}" with labels sorted
// so that insertion order never changes identity.
func metricKey(name string, labels Labels) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%s", k, labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

// MetricSnapshot is the exported view of a single metric.
type MetricSnapshot struct {
	Name        string           `json:"name"`
	Type        Kind             `json:"type"`
	Description string           `json:"description,omitempty"`
	Labels      Labels           `json:"labels,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	Value       *float64         `json:"value,omitempty"`
	Sum         *float64         `json:"sum,omitempty"`
	Count       *int64           `json:"count,omitempty"`
	Buckets     map[string]int64 `json:"buckets,omitempty"`
}

// Snapshot returns the current state of every registered metric keyed by
// the registry key.
func (r *Registry) Snapshot() map[string]MetricSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]MetricSnapshot, len(r.entries))
	for key, e := range r.entries {
		snap := MetricSnapshot{
			Name:        e.name,
			Type:        e.kind,
			Description: e.description,
			Labels:      e.labels,
		}
		switch e.kind {
		case KindCounter:
			e.counter.mu.Lock()
			v := float64(e.counter.value)
			snap.Value = &v
			snap.Timestamp = e.counter.updated
			e.counter.mu.Unlock()
		case KindGauge:
			e.gauge.mu.Lock()
			v := e.gauge.value
			snap.Value = &v
			snap.Timestamp = e.gauge.updated
			e.gauge.mu.Unlock()
		case KindHistogram:
			e.histogram.mu.Lock()
			sum := e.histogram.sum
			count := e.histogram.count
			snap.Sum = &sum
			snap.Count = &count
			snap.Timestamp = e.histogram.updated
			if len(e.histogram.buckets) > 0 {
				snap.Buckets = make(map[string]int64, len(e.histogram.buckets))
				for b, n := range e.histogram.buckets {
					snap.Buckets[fmt.Sprintf("%.2f", b)] = n
				}
			}
			e.histogram.mu.Unlock()
		}
		out[key] = snap
	}
	return out
}
