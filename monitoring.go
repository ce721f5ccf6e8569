package credhub

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MetricsCollector defines the interface for collecting and reporting metrics
type MetricsCollector interface {
	// Counters
	IncrementCounter(name string, tags map[string]string)
	IncrementCounterBy(name string, value int64, tags map[string]string)

	// Gauges
	SetGauge(name string, value float64, tags map[string]string)

	// Histograms/Timing
	RecordTiming(name string, duration time.Duration, tags map[string]string)

	// Flush any buffered metrics
	Flush() error
}

// Metric names
const (
	MetricEncrypt           = "credhub.encrypt"
	MetricDecrypt           = "credhub.decrypt"
	MetricAppend            = "credhub.append"
	MetricReencrypt         = "credhub.reencrypt"
	MetricKeyUsage          = "credhub.key_usage"
	MetricPendingReencrypt  = "credhub.pending_reencryption"
	MetricEncryptDuration   = "credhub.encrypt.duration"
	MetricDecryptDuration   = "credhub.decrypt.duration"
	MetricReencryptDuration = "credhub.reencrypt.duration"
)

// AuditSink receives a record of every decrypt, re-encryption and key reload.
// Implementations must be safe for concurrent use and must not block callers
// for long: Record has no error return, sinks report their own failures.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent)
}

// Audit operations
const (
	AuditEncrypt    = "credential.encrypt"
	AuditDecrypt    = "credential.decrypt"
	AuditReencrypt  = "credential.reencrypt"
	AuditDelete     = "credential.delete"
	AuditKeyReload  = "key_directory.reload"
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeCanceled = "canceled"
)

// AuditEvent describes one observable key or credential operation.
type AuditEvent struct {
	Time      time.Time `json:"time"`
	Operation string    `json:"operation"`
	Name      string    `json:"name,omitempty"`
	VersionID uuid.UUID `json:"version_id,omitempty"`
	// SourceVersionID is the version a re-encryption read from.
	SourceVersionID uuid.UUID `json:"source_version_id,omitempty"`
	KeyID           uuid.UUID `json:"key_id,omitempty"`
	Outcome         string    `json:"outcome"`
	Error           string    `json:"error,omitempty"`
}

// NoOpMetricsCollector is a no-op implementation of MetricsCollector
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) IncrementCounter(name string, tags map[string]string)                 {}
func (n *NoOpMetricsCollector) IncrementCounterBy(name string, value int64, tags map[string]string) {}
func (n *NoOpMetricsCollector) SetGauge(name string, value float64, tags map[string]string)         {}
func (n *NoOpMetricsCollector) RecordTiming(name string, duration time.Duration, tags map[string]string) {
}
func (n *NoOpMetricsCollector) Flush() error { return nil }

// NoOpAuditSink discards events.
type NoOpAuditSink struct{}

func (NoOpAuditSink) Record(context.Context, AuditEvent) {}

// MultiAuditSink fans events out to several sinks in order.
type MultiAuditSink []AuditSink

func (m MultiAuditSink) Record(ctx context.Context, event AuditEvent) {
	for _, s := range m {
		s.Record(ctx, event)
	}
}

// InMemoryAuditSink keeps events in memory for tests and development.
type InMemoryAuditSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func NewInMemoryAuditSink() *InMemoryAuditSink {
	return &InMemoryAuditSink{}
}

func (s *InMemoryAuditSink) Record(_ context.Context, event AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns a copy of the recorded events.
func (s *InMemoryAuditSink) Events() []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEvent(nil), s.events...)
}

// EventsFor returns the recorded events of one operation.
func (s *InMemoryAuditSink) EventsFor(operation string) []AuditEvent {
	var out []AuditEvent
	for _, e := range s.Events() {
		if e.Operation == operation {
			out = append(out, e)
		}
	}
	return out
}

// InMemoryMetricsCollector is a simple in-memory implementation for testing and development
type InMemoryMetricsCollector struct {
	mu       sync.Mutex
	counters map[string]int64
	gauges   map[string]float64
	timings  []TimingMetric
}

type TimingMetric struct {
	Name     string
	Duration time.Duration
	Tags     map[string]string
	Time     time.Time
}

// NewInMemoryMetricsCollector creates a new in-memory metrics collector
func NewInMemoryMetricsCollector() *InMemoryMetricsCollector {
	return &InMemoryMetricsCollector{
		counters: make(map[string]int64),
		gauges:   make(map[string]float64),
	}
}

func (m *InMemoryMetricsCollector) IncrementCounter(name string, tags map[string]string) {
	m.IncrementCounterBy(name, 1, tags)
}

func (m *InMemoryMetricsCollector) IncrementCounterBy(name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[buildMetricKey(name, tags)] += value
}

func (m *InMemoryMetricsCollector) SetGauge(name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[buildMetricKey(name, tags)] = value
}

func (m *InMemoryMetricsCollector) RecordTiming(name string, duration time.Duration, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timings = append(m.timings, TimingMetric{
		Name:     name,
		Duration: duration,
		Tags:     copyTags(tags),
		Time:     time.Now(),
	})
}

func (m *InMemoryMetricsCollector) Flush() error {
	// Nothing to flush for in-memory implementation
	return nil
}

// GetCounterValue returns the current value of a counter
func (m *InMemoryMetricsCollector) GetCounterValue(name string, tags map[string]string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[buildMetricKey(name, tags)]
}

// GetGaugeValue returns the current value of a gauge
func (m *InMemoryMetricsCollector) GetGaugeValue(name string, tags map[string]string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[buildMetricKey(name, tags)]
}

// GetTimings returns all recorded timing metrics
func (m *InMemoryMetricsCollector) GetTimings() []TimingMetric {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TimingMetric(nil), m.timings...)
}

func buildMetricKey(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}

	// Sort tags to ensure deterministic key generation
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	key := name
	for _, k := range keys {
		key += "," + k + ":" + tags[k]
	}
	return key
}

func copyTags(tags map[string]string) map[string]string {
	if tags == nil {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}

func statusTags(err error) map[string]string {
	if err != nil {
		return map[string]string{"status": "error"}
	}
	return map[string]string{"status": "success"}
}
