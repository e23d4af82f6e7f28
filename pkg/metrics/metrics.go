// Metric primitives for the HeliCal rig controller.
//
// Counters, gauges and histograms with label sets, rendered in the
// Prometheus text exposition format. The rig-level metrics in
// rig_metrics.go are built on these; nothing here knows about axes or
// buses.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType identifies the exposition type of a metric.
type MetricType int

const (
	TypeCounter MetricType = iota
	TypeGauge
	TypeHistogram
)

func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	default:
		return "unknown"
	}
}

// Labels is one label set. A metric keeps an independent series per
// distinct set.
type Labels map[string]string

// Key returns the canonical series key: keys sorted, joined k=v with
// commas. The empty set maps to "".
func (l Labels) Key() string {
	return labelKey(l)
}

// String renders the set in exposition format, {} omitted when empty.
func (l Labels) String() string {
	return formatLabels(l)
}

// Clone returns an independent copy.
func (l Labels) Clone() Labels {
	return copyLabels(l)
}

// Merge returns a new set with other's values layered on top of l.
func (l Labels) Merge(other Labels) Labels {
	out := l.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

func sortedKeys(labels Labels) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func labelKey(labels Labels) string {
	if len(labels) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, k := range sortedKeys(labels) {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(labels[k])
	}
	return sb.String()
}

func formatLabels(labels Labels) string {
	if len(labels) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range sortedKeys(labels) {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteString(`="`)
		sb.WriteString(escapeLabel(labels[k]))
		sb.WriteByte('"')
	}
	sb.WriteByte('}')
	return sb.String()
}

func escapeLabel(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

func copyLabels(labels Labels) Labels {
	out := make(Labels, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%g", v)
}

// Metric is what the registry gathers.
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
	Write(sb *strings.Builder)
}

func writeHeader(sb *strings.Builder, name, help string, t MetricType) {
	sb.WriteString("# HELP ")
	sb.WriteString(name)
	sb.WriteByte(' ')
	sb.WriteString(help)
	sb.WriteString("\n# TYPE ")
	sb.WriteString(name)
	sb.WriteByte(' ')
	sb.WriteString(t.String())
	sb.WriteByte('\n')
}

// Counter only goes up.
type Counter struct {
	name string
	help string

	mu     sync.Mutex
	series map[string]*counterSeries
}

type counterSeries struct {
	labels Labels
	value  uint64
}

func NewCounter(name, help string) *Counter {
	return &Counter{name: name, help: help, series: map[string]*counterSeries{}}
}

func (c *Counter) Name() string     { return c.name }
func (c *Counter) Help() string     { return c.help }
func (c *Counter) Type() MetricType { return TypeCounter }

// Inc adds 1 to the series for labels.
func (c *Counter) Inc(labels Labels) {
	c.Add(labels, 1)
}

// Add adds delta to the series for labels, creating it at zero first.
func (c *Counter) Add(labels Labels, delta uint64) {
	key := labelKey(labels)
	c.mu.Lock()
	s, ok := c.series[key]
	if !ok {
		s = &counterSeries{labels: copyLabels(labels)}
		c.series[key] = s
	}
	s.value += delta
	c.mu.Unlock()
}

// Get reads the series for labels; an unseen series reads as 0.
func (c *Counter) Get(labels Labels) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.series[labelKey(labels)]; ok {
		return s.value
	}
	return 0
}

func (c *Counter) Write(sb *strings.Builder) {
	writeHeader(sb, c.name, c.help, TypeCounter)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range sortedSeriesKeys(c.series) {
		s := c.series[key]
		fmt.Fprintf(sb, "%s%s %d\n", c.name, formatLabels(s.labels), s.value)
	}
}

// Gauge goes up and down.
type Gauge struct {
	name string
	help string

	mu     sync.Mutex
	series map[string]*gaugeSeries
}

type gaugeSeries struct {
	labels Labels
	value  float64
}

func NewGauge(name, help string) *Gauge {
	return &Gauge{name: name, help: help, series: map[string]*gaugeSeries{}}
}

func (g *Gauge) Name() string     { return g.name }
func (g *Gauge) Help() string     { return g.help }
func (g *Gauge) Type() MetricType { return TypeGauge }

func (g *Gauge) locked(labels Labels, fn func(s *gaugeSeries)) {
	key := labelKey(labels)
	g.mu.Lock()
	s, ok := g.series[key]
	if !ok {
		s = &gaugeSeries{labels: copyLabels(labels)}
		g.series[key] = s
	}
	fn(s)
	g.mu.Unlock()
}

// Set replaces the series value.
func (g *Gauge) Set(labels Labels, value float64) {
	g.locked(labels, func(s *gaugeSeries) { s.value = value })
}

// Inc adds 1.
func (g *Gauge) Inc(labels Labels) {
	g.Add(labels, 1)
}

// Dec subtracts 1.
func (g *Gauge) Dec(labels Labels) {
	g.Add(labels, -1)
}

// Add adds delta, which may be negative.
func (g *Gauge) Add(labels Labels, delta float64) {
	g.locked(labels, func(s *gaugeSeries) { s.value += delta })
}

// Sub subtracts delta.
func (g *Gauge) Sub(labels Labels, delta float64) {
	g.Add(labels, -delta)
}

// Get reads the series for labels; an unseen series reads as 0.
func (g *Gauge) Get(labels Labels) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.series[labelKey(labels)]; ok {
		return s.value
	}
	return 0
}

func (g *Gauge) Write(sb *strings.Builder) {
	writeHeader(sb, g.name, g.help, TypeGauge)
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, key := range sortedSeriesKeys(g.series) {
		s := g.series[key]
		fmt.Fprintf(sb, "%s%s %s\n", g.name, formatLabels(s.labels), formatFloat(s.value))
	}
}

// Histogram tracks a distribution in cumulative buckets.
type Histogram struct {
	name    string
	help    string
	bounds  []float64
	mu      sync.Mutex
	series  map[string]*histogramSeries
}

type histogramSeries struct {
	labels  Labels
	count   uint64
	sum     float64
	buckets []uint64
}

// NewHistogram builds a histogram with the given bucket upper bounds.
// Bounds are sorted; the +Inf bucket is implicit.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	bounds := make([]float64, len(buckets))
	copy(bounds, buckets)
	sort.Float64s(bounds)
	return &Histogram{name: name, help: help, bounds: bounds, series: map[string]*histogramSeries{}}
}

// DefaultBuckets suits sub-second command latencies with a tail out to
// ten seconds for homing.
func DefaultBuckets() []float64 {
	return []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
}

// LinearBuckets returns count bounds: start, start+width, ...
func LinearBuckets(start, width float64, count int) []float64 {
	bounds := make([]float64, count)
	for i := range bounds {
		bounds[i] = start + float64(i)*width
	}
	return bounds
}

// ExponentialBuckets returns count bounds: start, start*factor, ...
func ExponentialBuckets(start, factor float64, count int) []float64 {
	bounds := make([]float64, count)
	for i := range bounds {
		bounds[i] = start
		start *= factor
	}
	return bounds
}

func (h *Histogram) Name() string     { return h.name }
func (h *Histogram) Help() string     { return h.help }
func (h *Histogram) Type() MetricType { return TypeHistogram }

// Observe records one value.
func (h *Histogram) Observe(labels Labels, value float64) {
	key := labelKey(labels)
	h.mu.Lock()
	s, ok := h.series[key]
	if !ok {
		s = &histogramSeries{labels: copyLabels(labels), buckets: make([]uint64, len(h.bounds))}
		h.series[key] = s
	}
	s.count++
	s.sum += value
	// Per-bucket counts; exposition accumulates them into the
	// cumulative le series.
	for i, bound := range h.bounds {
		if value <= bound {
			s.buckets[i]++
			break
		}
	}
	h.mu.Unlock()
}

// Timer starts a latency measurement; the returned func records it.
func (h *Histogram) Timer(labels Labels) func() {
	start := time.Now()
	return func() {
		h.Observe(labels, time.Since(start).Seconds())
	}
}

func (h *Histogram) Write(sb *strings.Builder) {
	writeHeader(sb, h.name, h.help, TypeHistogram)
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, key := range sortedSeriesKeys(h.series) {
		s := h.series[key]
		cumulative := uint64(0)
		for i, bound := range h.bounds {
			cumulative += s.buckets[i]
			bl := s.labels.Clone()
			bl["le"] = formatFloat(bound)
			fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, formatLabels(bl), cumulative)
		}
		bl := s.labels.Clone()
		bl["le"] = "+Inf"
		fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, formatLabels(bl), s.count)
		fmt.Fprintf(sb, "%s_sum%s %s\n", h.name, formatLabels(s.labels), formatFloat(s.sum))
		fmt.Fprintf(sb, "%s_count%s %d\n", h.name, formatLabels(s.labels), s.count)
	}
}

// HistogramSnapshot is a point-in-time read of one series. Buckets is
// cumulative, keyed by upper bound.
type HistogramSnapshot struct {
	Count   uint64
	Sum     float64
	Buckets map[float64]uint64
}

// GetSnapshot reads the series for labels. An unseen series returns a
// zero snapshot with an empty bucket map.
func (h *Histogram) GetSnapshot(labels Labels) HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.series[labelKey(labels)]
	if !ok {
		return HistogramSnapshot{Buckets: map[float64]uint64{}}
	}
	buckets := make(map[float64]uint64, len(h.bounds))
	cumulative := uint64(0)
	for i, bound := range h.bounds {
		cumulative += s.buckets[i]
		buckets[bound] = cumulative
	}
	return HistogramSnapshot{Count: s.count, Sum: s.sum, Buckets: buckets}
}

func sortedSeriesKeys[T any](series map[string]T) []string {
	keys := make([]string, 0, len(series))
	for k := range series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Registry gathers metrics in registration order.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]Metric
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{metrics: map[string]Metric{}}
}

// Register adds a metric. Names are unique per registry.
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

// MustRegister panics where Register would error.
func (r *Registry) MustRegister(metric Metric) {
	if err := r.Register(metric); err != nil {
		panic(err)
	}
}

// Unregister removes a metric by name. Unknown names are ignored.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.metrics, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns a metric by name, nil when absent.
func (r *Registry) Get(name string) Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[name]
}

// Gather renders every registered metric in exposition format.
func (r *Registry) Gather() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sb strings.Builder
	for _, name := range r.order {
		if metric, ok := r.metrics[name]; ok {
			metric.Write(&sb)
		}
	}
	return sb.String()
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register adds a metric to the default registry.
func Register(metric Metric) error {
	return defaultRegistry.Register(metric)
}

// MustRegister adds to the default registry, panicking on collision.
func MustRegister(metric Metric) {
	defaultRegistry.MustRegister(metric)
}

// Gather renders the default registry.
func Gather() string {
	return defaultRegistry.Gather()
}
