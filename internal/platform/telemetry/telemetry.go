// Package telemetry records HTTP and validation metrics and serves them in
// the Prometheus text exposition format.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// histogram is a thread-safe histogram with fixed bucket boundaries. Bucket
// counts are non-cumulative in storage; cumulative counts are computed at
// export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits, for atomic add
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

// Observe records a single value.
func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
	// Above every boundary: only the +Inf bucket, derived from count.
}

func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := make([]int64, len(h.bucketCounts))
	copy(raw, h.bucketCounts)
	h.mu.Unlock()

	cum := make([]int64, len(raw))
	var running int64
	for i, c := range raw {
		running += c
		cum[i] = running
	}
	return cum
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		newVal := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(newVal)) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Series keys
// ---------------------------------------------------------------------------

// series identifies a metric and its label set. labels is the rendered
// Prometheus label list without braces, sorted by label name.
type series struct {
	name   string
	labels string
}

// newSeries renders key/value label pairs. A trailing unpaired key is
// ignored.
func newSeries(name string, kv ...string) series {
	n := len(kv) / 2
	pairs := make([][2]string, 0, n)
	for i := 0; i+1 < len(kv); i += 2 {
		pairs = append(pairs, [2]string{kv[i], kv[i+1]})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })

	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p[0] + "=" + strconv.Quote(p[1])
	}
	return series{name: name, labels: strings.Join(parts, ",")}
}

func (s series) String() string {
	if s.labels == "" {
		return s.name
	}
	return s.name + "{" + s.labels + "}"
}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

// Provider owns every metric of the process.
type Provider struct {
	mu         sync.RWMutex
	counters   map[series]*int64
	gauges     map[series]*int64
	histograms map[series]*histogram
	help       map[string]string
}

// NewProvider creates an empty provider.
func NewProvider() *Provider {
	return &Provider{
		counters:   make(map[series]*int64),
		gauges:     make(map[series]*int64),
		histograms: make(map[series]*histogram),
		help:       make(map[string]string),
	}
}

// Describe sets the HELP text of a metric name.
func (p *Provider) Describe(name, help string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.help[name] = help
}

func (p *Provider) value(store map[series]*int64, s series) *int64 {
	p.mu.RLock()
	v, ok := store[s]
	p.mu.RUnlock()
	if ok {
		return v
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok = store[s]; !ok {
		v = new(int64)
		store[s] = v
	}
	return v
}

// Inc adds one to the counter name with the given label pairs.
func (p *Provider) Inc(name string, labels ...string) {
	atomic.AddInt64(p.value(p.counters, newSeries(name, labels...)), 1)
}

// Counter returns the current value of a counter.
func (p *Provider) Counter(name string, labels ...string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if v, ok := p.counters[newSeries(name, labels...)]; ok {
		return atomic.LoadInt64(v)
	}
	return 0
}

// SetGauge sets the gauge name with the given label pairs.
func (p *Provider) SetGauge(name string, v int64, labels ...string) {
	atomic.StoreInt64(p.value(p.gauges, newSeries(name, labels...)), v)
}

// AddGauge adds delta to a gauge.
func (p *Provider) AddGauge(name string, delta int64, labels ...string) {
	atomic.AddInt64(p.value(p.gauges, newSeries(name, labels...)), delta)
}

// Gauge returns the current value of a gauge.
func (p *Provider) Gauge(name string, labels ...string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if v, ok := p.gauges[newSeries(name, labels...)]; ok {
		return atomic.LoadInt64(v)
	}
	return 0
}

// Observe records v in the histogram name with the default duration
// buckets.
func (p *Provider) Observe(name string, v float64, labels ...string) {
	s := newSeries(name, labels...)
	p.mu.RLock()
	h, ok := p.histograms[s]
	p.mu.RUnlock()
	if !ok {
		p.mu.Lock()
		if h, ok = p.histograms[s]; !ok {
			h = newHistogram(defaultDurationBuckets)
			p.histograms[s] = h
		}
		p.mu.Unlock()
	}
	h.Observe(v)
}

// HistogramCount returns the number of observations of a histogram.
func (p *Provider) HistogramCount(name string, labels ...string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if h, ok := p.histograms[newSeries(name, labels...)]; ok {
		return h.Count()
	}
	return 0
}

// ---------------------------------------------------------------------------
// MetricsMiddleware
// ---------------------------------------------------------------------------

// HTTP metric names.
const (
	HTTPRequestDuration = "http_server_request_duration_seconds"
	HTTPActiveRequests  = "http_server_active_requests"
)

// MetricsMiddleware records request durations by method, route and status.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	p.Describe(HTTPRequestDuration, "Duration of HTTP requests in seconds.")
	p.Describe(HTTPActiveRequests, "Number of active HTTP requests.")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p.AddGauge(HTTPActiveRequests, 1)
			defer p.AddGauge(HTTPActiveRequests, -1)

			start := time.Now()
			err := next(c)
			duration := time.Since(start).Seconds()

			status := c.Response().Status
			if err != nil {
				status = http.StatusInternalServerError
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			p.Observe(HTTPRequestDuration, duration,
				"method", c.Request().Method,
				"route", route,
				"status_code", strconv.Itoa(status))
			return err
		}
	}
}

// ---------------------------------------------------------------------------
// PrometheusHandler
// ---------------------------------------------------------------------------

// PrometheusHandler serves every metric in Prometheus text format, sorted
// by name and labels.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.String(http.StatusOK, p.Render())
	}
}

// Render returns the exposition text.
func (p *Provider) Render() string {
	p.mu.RLock()
	counters := snapshot(p.counters)
	gauges := snapshot(p.gauges)
	hists := make(map[series]*histogram, len(p.histograms))
	for k, v := range p.histograms {
		hists[k] = v
	}
	help := make(map[string]string, len(p.help))
	for k, v := range p.help {
		help[k] = v
	}
	p.mu.RUnlock()

	var b strings.Builder
	writeValues(&b, "counter", counters, help)
	writeValues(&b, "gauge", gauges, help)

	for _, name := range names(hists) {
		writeHeader(&b, name, "histogram", help)
		for _, s := range sortedSeries(hists, name) {
			writeSingleHistogram(&b, s, hists[s])
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func snapshot(store map[series]*int64) map[series]int64 {
	out := make(map[series]int64, len(store))
	for k, v := range store {
		out[k] = atomic.LoadInt64(v)
	}
	return out
}

func names[V any](m map[series]V) []string {
	seen := map[string]bool{}
	var out []string
	for s := range m {
		if !seen[s.name] {
			seen[s.name] = true
			out = append(out, s.name)
		}
	}
	sort.Strings(out)
	return out
}

func sortedSeries[V any](m map[series]V, name string) []series {
	var out []series
	for s := range m {
		if s.name == name {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].labels < out[j].labels })
	return out
}

func writeHeader(b *strings.Builder, name, typ string, help map[string]string) {
	if h, ok := help[name]; ok {
		fmt.Fprintf(b, "# HELP %s %s\n", name, h)
	}
	fmt.Fprintf(b, "# TYPE %s %s\n", name, typ)
}

func writeValues(b *strings.Builder, typ string, values map[series]int64, help map[string]string) {
	for _, name := range names(values) {
		writeHeader(b, name, typ, help)
		for _, s := range sortedSeries(values, name) {
			fmt.Fprintf(b, "%s %d\n", s, values[s])
		}
		b.WriteByte('\n')
	}
}

func writeSingleHistogram(b *strings.Builder, s series, h *histogram) {
	cum := h.cumulativeBuckets()
	total := h.Count()

	prefix := ""
	if s.labels != "" {
		prefix = s.labels + ","
	}
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%sle=\"%g\"} %d\n", s.name, prefix, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%sle=\"+Inf\"} %d\n", s.name, prefix, total)

	suffix := ""
	if s.labels != "" {
		suffix = "{" + s.labels + "}"
	}
	fmt.Fprintf(b, "%s_sum%s %g\n", s.name, suffix, h.Sum())
	fmt.Fprintf(b, "%s_count%s %d\n", s.name, suffix, total)
}
