// Prometheus-style metrics for SerialPrint
//
// Small self-contained collection of counters, gauges and histograms with
// label support, gathered into the Prometheus text exposition format. The
// registry doubles as an http.Handler so the status server can mount it
// directly under /metrics.
//
// Copyright (C) 2026  SerialPrint Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Labels attaches dimensions to a metric sample.
type Labels map[string]string

// labelKey builds a stable map key for a label set.
func labelKey(labels Labels) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(labels[k])
	}
	return sb.String()
}

// formatLabels renders a label set in exposition format, keys sorted.
func formatLabels(labels Labels) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteString("=\"")
		sb.WriteString(escapeLabel(labels[k]))
		sb.WriteByte('"')
	}
	sb.WriteByte('}')
	return sb.String()
}

func escapeLabel(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%g", v)
}

func copyLabels(labels Labels) Labels {
	result := make(Labels, len(labels))
	for k, v := range labels {
		result[k] = v
	}
	return result
}

// Metric is one named series family that can render itself.
type Metric interface {
	Name() string
	Write(sb *strings.Builder)
}

// Counter only goes up.
type Counter struct {
	name   string
	help   string
	values sync.Map // labelKey -> *counterValue
}

type counterValue struct {
	labels Labels
	value  uint64
}

func NewCounter(name, help string) *Counter {
	return &Counter{name: name, help: help}
}

func (c *Counter) Name() string { return c.name }

// Inc increments the counter by 1.
func (c *Counter) Inc(labels Labels) {
	c.Add(labels, 1)
}

// Add increments the counter by delta.
func (c *Counter) Add(labels Labels, delta uint64) {
	val, _ := c.values.LoadOrStore(labelKey(labels), &counterValue{labels: labels})
	atomic.AddUint64(&val.(*counterValue).value, delta)
}

// Get returns the current value for a label set.
func (c *Counter) Get(labels Labels) uint64 {
	val, ok := c.values.Load(labelKey(labels))
	if !ok {
		return 0
	}
	return atomic.LoadUint64(&val.(*counterValue).value)
}

func (c *Counter) Write(sb *strings.Builder) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s counter\n", c.name, c.help, c.name)
	c.values.Range(func(_, value any) bool {
		cv := value.(*counterValue)
		fmt.Fprintf(sb, "%s%s %d\n", c.name, formatLabels(cv.labels), atomic.LoadUint64(&cv.value))
		return true
	})
}

// Gauge goes up and down.
type Gauge struct {
	name   string
	help   string
	values sync.Map // labelKey -> *gaugeValue
}

type gaugeValue struct {
	mu     sync.Mutex
	labels Labels
	value  float64
}

func NewGauge(name, help string) *Gauge {
	return &Gauge{name: name, help: help}
}

func (g *Gauge) Name() string { return g.name }

// Set replaces the value for a label set.
func (g *Gauge) Set(labels Labels, value float64) {
	val, _ := g.values.LoadOrStore(labelKey(labels), &gaugeValue{labels: labels})
	gv := val.(*gaugeValue)
	gv.mu.Lock()
	gv.value = value
	gv.mu.Unlock()
}

// Add adds delta to the value for a label set.
func (g *Gauge) Add(labels Labels, delta float64) {
	val, _ := g.values.LoadOrStore(labelKey(labels), &gaugeValue{labels: labels})
	gv := val.(*gaugeValue)
	gv.mu.Lock()
	gv.value += delta
	gv.mu.Unlock()
}

// Get returns the current value for a label set.
func (g *Gauge) Get(labels Labels) float64 {
	val, ok := g.values.Load(labelKey(labels))
	if !ok {
		return 0
	}
	gv := val.(*gaugeValue)
	gv.mu.Lock()
	defer gv.mu.Unlock()
	return gv.value
}

func (g *Gauge) Write(sb *strings.Builder) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s gauge\n", g.name, g.help, g.name)
	g.values.Range(func(_, value any) bool {
		gv := value.(*gaugeValue)
		gv.mu.Lock()
		v := gv.value
		gv.mu.Unlock()
		fmt.Fprintf(sb, "%s%s %s\n", g.name, formatLabels(gv.labels), formatFloat(v))
		return true
	})
}

// Histogram tracks a distribution across fixed buckets.
type Histogram struct {
	name    string
	help    string
	buckets []float64
	values  sync.Map // labelKey -> *histogramValue
}

type histogramValue struct {
	mu      sync.Mutex
	labels  Labels
	count   uint64
	sum     float64
	buckets []uint64
}

func NewHistogram(name, help string, buckets []float64) *Histogram {
	sorted := make([]float64, len(buckets))
	copy(sorted, buckets)
	sort.Float64s(sorted)
	return &Histogram{name: name, help: help, buckets: sorted}
}

// DefaultBuckets suits latencies from milliseconds to tens of seconds.
func DefaultBuckets() []float64 {
	return []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
}

func (h *Histogram) Name() string { return h.name }

// Observe records one sample.
func (h *Histogram) Observe(labels Labels, value float64) {
	val, _ := h.values.LoadOrStore(labelKey(labels), &histogramValue{
		labels:  labels,
		buckets: make([]uint64, len(h.buckets)),
	})
	hv := val.(*histogramValue)
	hv.mu.Lock()
	hv.count++
	hv.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			hv.buckets[i]++
		}
	}
	hv.mu.Unlock()
}

// Timer returns a func that observes the elapsed seconds when called.
func (h *Histogram) Timer(labels Labels) func() {
	start := time.Now()
	return func() {
		h.Observe(labels, time.Since(start).Seconds())
	}
}

func (h *Histogram) Write(sb *strings.Builder) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name)
	h.values.Range(func(_, value any) bool {
		hv := value.(*histogramValue)
		hv.mu.Lock()
		count := hv.count
		sum := hv.sum
		counts := make([]uint64, len(hv.buckets))
		copy(counts, hv.buckets)
		hv.mu.Unlock()

		cumulative := uint64(0)
		for i, bound := range h.buckets {
			cumulative += counts[i]
			bl := copyLabels(hv.labels)
			bl["le"] = formatFloat(bound)
			fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, formatLabels(bl), cumulative)
		}
		bl := copyLabels(hv.labels)
		bl["le"] = "+Inf"
		fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, formatLabels(bl), count)
		fmt.Fprintf(sb, "%s_sum%s %s\n", h.name, formatLabels(hv.labels), formatFloat(sum))
		fmt.Fprintf(sb, "%s_count%s %d\n", h.name, formatLabels(hv.labels), count)
		return true
	})
}

// Registry holds metrics and renders them in registration order.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]Metric
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]Metric)}
}

// Register adds a metric. Names must be unique within the registry.
func (r *Registry) Register(metric Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := metric.Name()
	if _, exists := r.metrics[name]; exists {
		return fmt.Errorf("metric %q already registered", name)
	}
	r.metrics[name] = metric
	r.order = append(r.order, name)
	return nil
}

// MustRegister adds a metric and panics on a duplicate name.
func (r *Registry) MustRegister(metric Metric) {
	if err := r.Register(metric); err != nil {
		panic(err)
	}
}

// Gather renders every metric in the text exposition format.
func (r *Registry) Gather() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sb strings.Builder
	for _, name := range r.order {
		r.metrics[name].Write(&sb)
	}
	return sb.String()
}

// ServeHTTP exposes the registry for scraping.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	io.WriteString(w, r.Gather())
}
