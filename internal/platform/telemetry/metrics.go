// Package telemetry records HTTP and queue metrics and serves them in the
// Prometheus text exposition format.
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

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// histogram keeps non-cumulative bucket counts; cumulative counts are
// computed at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits
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
}

func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := append([]int64(nil), h.bucketCounts...)
	h.mu.Unlock()

	var running int64
	for i, c := range raw {
		running += c
		raw[i] = running
	}
	return raw
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(addr, old, next) {
			return
		}
	}
}

// Sample is one gauge reading. Labels are name/value pairs.
type Sample struct {
	Labels []string
	Value  float64
}

// GaugeFunc is read at scrape time.
type GaugeFunc func() []Sample

type gauge struct {
	name string
	help string
	fn   GaugeFunc
}

type counter struct {
	help   string
	labels []string
	values map[string]*int64
}

// Provider holds every metric exposed on /metrics.
type Provider struct {
	active int64

	mu        sync.RWMutex
	durations map[string]*histogram // method|route|status
	counters  map[string]*counter
	gauges    []gauge
}

// NewProvider creates an empty Provider.
func NewProvider() *Provider {
	return &Provider{
		durations: make(map[string]*histogram),
		counters:  make(map[string]*counter),
	}
}

// DefineCounter declares a counter and its label names. Inc on an undeclared
// counter declares it without help text.
func (p *Provider) DefineCounter(name, help string, labels ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.counters[name]; ok {
		c.help = help
		c.labels = labels
		return
	}
	p.counters[name] = &counter{help: help, labels: labels, values: make(map[string]*int64)}
}

// Inc adds one to the counter series identified by values, which are given
// in the order of the counter's declared labels.
func (p *Provider) Inc(name string, values ...string) {
	key := strings.Join(values, "|")

	p.mu.RLock()
	c, ok := p.counters[name]
	var v *int64
	if ok {
		v = c.values[key]
	}
	p.mu.RUnlock()
	if v != nil {
		atomic.AddInt64(v, 1)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok = p.counters[name]; !ok {
		c = &counter{values: make(map[string]*int64)}
		p.counters[name] = c
	}
	if v = c.values[key]; v == nil {
		v = new(int64)
		c.values[key] = v
	}
	atomic.AddInt64(v, 1)
}

// Counter returns the current value of a counter series.
func (p *Provider) Counter(name string, values ...string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.counters[name]
	if !ok {
		return 0
	}
	if v := c.values[strings.Join(values, "|")]; v != nil {
		return atomic.LoadInt64(v)
	}
	return 0
}

// RegisterGauge adds a gauge whose samples are collected on every scrape.
func (p *Provider) RegisterGauge(name, help string, fn GaugeFunc) {
	p.mu.Lock()
	p.gauges = append(p.gauges, gauge{name: name, help: help, fn: fn})
	p.mu.Unlock()
}

func (p *Provider) durationFor(key string) *histogram {
	p.mu.RLock()
	h, ok := p.durations[key]
	p.mu.RUnlock()
	if ok {
		return h
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok = p.durations[key]; !ok {
		h = newHistogram(durationBuckets)
		p.durations[key] = h
	}
	return h
}

// Middleware records request duration by method, route and status, and the
// number of in-flight requests.
func (p *Provider) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&p.active, 1)
			start := time.Now()

			err := next(c)
			if err != nil {
				// Let the error handler write the response so the status is final.
				c.Error(err)
			}

			atomic.AddInt64(&p.active, -1)
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			key := c.Request().Method + "|" + route + "|" + strconv.Itoa(c.Response().Status)
			p.durationFor(key).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

// Handler serves GET /metrics.
func (p *Provider) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.String(http.StatusOK, p.Render())
	}
}

// Render writes every metric in Prometheus text format. Series are sorted so
// output is stable between scrapes.
func (p *Provider) Render() string {
	var b strings.Builder

	p.mu.RLock()
	durations := make(map[string]*histogram, len(p.durations))
	for k, v := range p.durations {
		durations[k] = v
	}
	type counterSnap struct {
		name   string
		help   string
		labels []string
		values map[string]int64
	}
	counters := make([]counterSnap, 0, len(p.counters))
	for name, c := range p.counters {
		cs := counterSnap{name: name, help: c.help, labels: c.labels, values: make(map[string]int64, len(c.values))}
		for k, v := range c.values {
			cs.values[k] = atomic.LoadInt64(v)
		}
		counters = append(counters, cs)
	}
	gauges := append([]gauge(nil), p.gauges...)
	p.mu.RUnlock()

	b.WriteString("# HELP http_server_request_duration_seconds Duration of HTTP requests in seconds.\n")
	b.WriteString("# TYPE http_server_request_duration_seconds histogram\n")
	for _, key := range sortedKeys(durations) {
		parts := strings.SplitN(key, "|", 3)
		labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
		writeHistogram(&b, "http_server_request_duration_seconds", labels, durations[key])
	}
	b.WriteByte('\n')

	b.WriteString("# HELP http_server_active_requests Number of in-flight HTTP requests.\n")
	b.WriteString("# TYPE http_server_active_requests gauge\n")
	fmt.Fprintf(&b, "http_server_active_requests %d\n\n", atomic.LoadInt64(&p.active))

	sort.Slice(counters, func(i, j int) bool { return counters[i].name < counters[j].name })
	for _, c := range counters {
		if c.help != "" {
			fmt.Fprintf(&b, "# HELP %s %s\n", c.name, c.help)
		}
		fmt.Fprintf(&b, "# TYPE %s counter\n", c.name)
		for _, key := range sortedKeys(c.values) {
			fmt.Fprintf(&b, "%s%s %d\n", c.name, counterLabels(c.labels, key), c.values[key])
		}
		b.WriteByte('\n')
	}

	for _, g := range gauges {
		fmt.Fprintf(&b, "# HELP %s %s\n", g.name, g.help)
		fmt.Fprintf(&b, "# TYPE %s gauge\n", g.name)
		for _, s := range g.fn() {
			fmt.Fprintf(&b, "%s%s %g\n", g.name, pairLabels(s.Labels), s.Value)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	total := h.Count()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}

func counterLabels(names []string, key string) string {
	if key == "" && len(names) == 0 {
		return ""
	}
	values := strings.Split(key, "|")
	pairs := make([]string, 0, 2*len(values))
	for i, v := range values {
		name := "label" + strconv.Itoa(i)
		if i < len(names) {
			name = names[i]
		}
		pairs = append(pairs, name, v)
	}
	return pairLabels(pairs)
}

func pairLabels(pairs []string) string {
	if len(pairs) < 2 {
		return ""
	}
	parts := make([]string, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		parts = append(parts, fmt.Sprintf("%s=%q", pairs[i], pairs[i+1]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
