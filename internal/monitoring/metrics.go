package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. It satisfies the Metrics interfaces
// of the cache, shell, job and sse packages.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Domain metrics
	CacheLookups  *prometheus.CounterVec
	ShellRuns     *prometheus.CounterVec
	ShellDuration prometheus.Histogram
	JobsDetached  prometheus.Counter
	JobsStopped   prometheus.Counter
	SSEFrames     *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time
	snapshot  Snapshot
	mu        sync.RWMutex
}

// Snapshot holds current metric values for the JSON health endpoint.
type Snapshot struct {
	TotalRequests int64   `json:"total_requests"`
	TotalErrors   int64   `json:"total_errors"`
	JobsDetached  int64   `json:"jobs_detached"`
	SSEFrames     int64   `json:"sse_frames"`
	AvgLatencyMS  float64 `json:"avg_latency_ms"`
	UptimeSeconds float64 `json:"uptime_seconds"`

	totalDuration float64
}

// NewMetrics registers all collectors on reg. Each registry can hold one
// Metrics; tests use prometheus.NewRegistry().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flux_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flux_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flux_cache_lookups_total",
				Help: "Pipeline cache lookups by result",
			},
			[]string{"result"},
		),
		ShellRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flux_shell_runs_total",
				Help: "Foreground shell command runs by outcome",
			},
			[]string{"status"},
		),
		ShellDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "flux_shell_run_duration_seconds",
				Help:    "Foreground shell command duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
		JobsDetached: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "flux_jobs_detached_total",
				Help: "Background jobs started",
			},
		),
		JobsStopped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "flux_jobs_stopped_total",
				Help: "Background jobs stopped on request",
			},
		),
		SSEFrames: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flux_sse_frames_total",
				Help: "Server-sent event frames written by event",
			},
			[]string{"event"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "flux_ws_connections",
				Help: "Open WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flux_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "flux_uptime_seconds",
			Help: "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.totalDuration += duration.Seconds()
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// CacheLookup records a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// ShellRun records the outcome of a foreground command.
func (m *Metrics) ShellRun(status string, d time.Duration) {
	m.ShellRuns.WithLabelValues(status).Inc()
	m.ShellDuration.Observe(d.Seconds())
}

// JobDetached counts a started background job.
func (m *Metrics) JobDetached() {
	m.JobsDetached.Inc()
	m.mu.Lock()
	m.snapshot.JobsDetached++
	m.mu.Unlock()
}

// JobStopped counts a stopped background job.
func (m *Metrics) JobStopped() {
	m.JobsStopped.Inc()
}

// SSEFrame counts a written server-sent event.
func (m *Metrics) SSEFrame(event string) {
	m.SSEFrames.WithLabelValues(event).Inc()
	m.mu.Lock()
	m.snapshot.SSEFrames++
	m.mu.Unlock()
}

// RecordWSMessage records a WebSocket message.
func (m *Metrics) RecordWSMessage(direction string) {
	m.WSMessages.WithLabelValues(direction).Inc()
}

// IncWSConnections increments WebSocket connections.
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections.
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}

// Snapshot returns the current values.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	if s.TotalRequests > 0 {
		s.AvgLatencyMS = s.totalDuration / float64(s.TotalRequests) * 1000
	}
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
