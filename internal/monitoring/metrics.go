package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the detection engine.
type Metrics struct {
	// Analysis metrics
	EventsTotal    *prometheus.CounterVec
	DecisionsTotal *prometheus.CounterVec
	ScanDuration   *prometheus.HistogramVec

	// Threat metrics
	ThreatsTotal  *prometheus.CounterVec
	RateLimitHits *prometheus.CounterVec
	Escalations   prometheus.Counter

	// Stream metrics
	WSClients prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Snapshot for the JSON stats API
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current counter values for the JSON stats API.
type Snapshot struct {
	Events      int64 `json:"events"`
	Threats     int64 `json:"threats"`
	Blocked     int64 `json:"blocked"`
	Escalations int64 `json:"escalations"`
}

// NewMetrics creates the metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),

		EventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_events_total",
				Help: "Total events analyzed, by monitor",
			},
			[]string{"monitor"},
		),
		DecisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_decisions_total",
				Help: "Decisions returned, by monitor and outcome",
			},
			[]string{"monitor", "outcome"},
		),
		ScanDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_scan_duration_seconds",
				Help:    "Analysis duration per event",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
			},
			[]string{"monitor"},
		),
		ThreatsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_threats_total",
				Help: "Threat events emitted, by type and severity",
			},
			[]string{"type", "severity"},
		),
		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_rate_limit_hits_total",
				Help: "Sliding-window rate violations, by monitor",
			},
			[]string{"monitor"},
		),
		Escalations: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_correlation_escalations_total",
				Help: "Composite threats synthesized by the correlation layer",
			},
		),
		WSClients: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_ws_clients",
				Help: "Connected threat-stream clients",
			},
		),
		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
	}
}

// RecordEvent counts one analyzed event. Nil-safe.
func (m *Metrics) RecordEvent(monitor string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(monitor).Inc()

	m.mu.Lock()
	m.snapshot.Events++
	m.mu.Unlock()
}

// RecordDecision counts one decision and its latency. Nil-safe.
func (m *Metrics) RecordDecision(monitor, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(monitor, outcome).Inc()
	m.ScanDuration.WithLabelValues(monitor).Observe(duration.Seconds())

	if outcome == "blocked" {
		m.mu.Lock()
		m.snapshot.Blocked++
		m.mu.Unlock()
	}
}

// RecordThreat counts one emitted threat event. Nil-safe.
func (m *Metrics) RecordThreat(threatType, severity string) {
	if m == nil {
		return
	}
	m.ThreatsTotal.WithLabelValues(threatType, severity).Inc()

	m.mu.Lock()
	m.snapshot.Threats++
	m.mu.Unlock()
}

// RecordRateLimit counts one sliding-window violation. Nil-safe.
func (m *Metrics) RecordRateLimit(monitor string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(monitor).Inc()
}

// RecordEscalation counts one correlation escalation. Nil-safe.
func (m *Metrics) RecordEscalation() {
	if m == nil {
		return
	}
	m.Escalations.Inc()

	m.mu.Lock()
	m.snapshot.Escalations++
	m.mu.Unlock()
}

// SetWSClients updates the connected stream client gauge. Nil-safe.
func (m *Metrics) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.WSClients.Set(float64(n))
}

// GetSnapshot returns current counter values, updating uptime.
func (m *Metrics) GetSnapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.Uptime.Set(time.Since(m.startTime).Seconds())

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
