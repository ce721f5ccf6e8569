package monitoring

import (
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hengadev/credhub"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector implements credhub.MetricsCollector on a Prometheus
// registry. Each metric name becomes one vector whose label names are fixed
// by the first observation; later observations fill missing labels with ""
// and drop extra ones.
type PrometheusCollector struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*vec[*prometheus.CounterVec]
	gauges     map[string]*vec[*prometheus.GaugeVec]
	histograms map[string]*vec[*prometheus.HistogramVec]
}

type vec[V any] struct {
	labels []string
	v      V
}

// NewPrometheusCollector returns a collector with its own registry, which
// also carries the Go runtime and process collectors.
func NewPrometheusCollector() *PrometheusCollector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &PrometheusCollector{
		registry:   registry,
		counters:   make(map[string]*vec[*prometheus.CounterVec]),
		gauges:     make(map[string]*vec[*prometheus.GaugeVec]),
		histograms: make(map[string]*vec[*prometheus.HistogramVec]),
	}
}

// Registry exposes the underlying registry.
func (p *PrometheusCollector) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *PrometheusCollector) IncrementCounter(name string, tags map[string]string) {
	p.IncrementCounterBy(name, 1, tags)
}

func (p *PrometheusCollector) IncrementCounterBy(name string, value int64, tags map[string]string) {
	p.mu.Lock()
	c, ok := p.counters[name]
	if !ok {
		labels := labelNames(tags)
		c = &vec[*prometheus.CounterVec]{labels: labels, v: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricName(name) + "_total",
			Help: "Count of " + name + " operations.",
		}, labels)}
		p.registry.MustRegister(c.v)
		p.counters[name] = c
	}
	p.mu.Unlock()

	c.v.With(labelValues(c.labels, tags)).Add(float64(value))
}

func (p *PrometheusCollector) SetGauge(name string, value float64, tags map[string]string) {
	p.mu.Lock()
	g, ok := p.gauges[name]
	if !ok {
		labels := labelNames(tags)
		g = &vec[*prometheus.GaugeVec]{labels: labels, v: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricName(name),
			Help: "Current value of " + name + ".",
		}, labels)}
		p.registry.MustRegister(g.v)
		p.gauges[name] = g
	}
	p.mu.Unlock()

	g.v.With(labelValues(g.labels, tags)).Set(value)
}

func (p *PrometheusCollector) RecordTiming(name string, duration time.Duration, tags map[string]string) {
	p.mu.Lock()
	h, ok := p.histograms[name]
	if !ok {
		labels := labelNames(tags)
		h = &vec[*prometheus.HistogramVec]{labels: labels, v: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricName(strings.TrimSuffix(name, ".duration")) + "_duration_seconds",
			Help:    "Duration of " + name + " in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, labels)}
		p.registry.MustRegister(h.v)
		p.histograms[name] = h
	}
	p.mu.Unlock()

	h.v.With(labelValues(h.labels, tags)).Observe(duration.Seconds())
}

// Flush is a no-op: Prometheus pulls.
func (p *PrometheusCollector) Flush() error {
	return nil
}

var _ credhub.MetricsCollector = (*PrometheusCollector)(nil)

// metricName turns "credhub.encrypt" into "credhub_encrypt".
func metricName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, metricName(k))
	}
	slices.Sort(names)
	return names
}

func labelValues(names []string, tags map[string]string) prometheus.Labels {
	values := make(prometheus.Labels, len(names))
	for _, n := range names {
		values[n] = ""
	}
	for k, v := range tags {
		if k := metricName(k); slices.Contains(names, k) {
			values[k] = v
		}
	}
	return values
}
