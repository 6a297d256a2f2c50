package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Snapshot lifecycle metrics
	SnapshotsSaved   prometheus.Counter
	SnapshotsResumed prometheus.Counter
	SnapshotsDeleted prometheus.Counter
	SnapshotsSwept   *prometheus.CounterVec
	SaveDuration     prometheus.Histogram
	ResumeDuration   prometheus.Histogram

	// Failure metrics
	IntegrityFailures prometheus.Counter
	PathMismatches    prometheus.Counter
	RateLimited       *prometheus.CounterVec
	Evictions         prometheus.Counter

	// Population metrics
	SnapshotPopulation prometheus.Gauge
	SessionsLive       prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests  int64
	TotalErrors    int64
	SavedTotal     int64
	ResumedTotal   int64
	LiveSessions   int64
	StoredSessions int64
	TotalDuration  float64 // sum of all request durations
	RequestCount   int64   // count for averaging
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loom_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loom_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loom_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		// Snapshot lifecycle metrics
		SnapshotsSaved: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "loom_snapshots_saved_total",
				Help: "Total number of session snapshots saved",
			},
		),
		SnapshotsResumed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "loom_snapshots_resumed_total",
				Help: "Total number of session snapshots resumed",
			},
		),
		SnapshotsDeleted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "loom_snapshots_deleted_total",
				Help: "Total number of session snapshots deleted",
			},
		),
		SnapshotsSwept: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_snapshots_swept_total",
				Help: "Snapshots processed by the age sweeper, by outcome",
			},
			[]string{"outcome"},
		),
		SaveDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "loom_snapshot_save_duration_seconds",
				Help:    "Snapshot save pipeline duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		ResumeDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "loom_snapshot_resume_duration_seconds",
				Help:    "Snapshot resume pipeline duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
		),

		// Failure metrics
		IntegrityFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "loom_snapshot_integrity_failures_total",
				Help: "Snapshots rejected for signature mismatch",
			},
		),
		PathMismatches: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "loom_snapshot_path_mismatches_total",
				Help: "Resumes aborted because the project path changed mid-restore",
			},
		),
		RateLimited: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_resume_rate_limited_total",
				Help: "Resume attempts rejected by rate limiting, by scope",
			},
			[]string{"scope"},
		),
		Evictions: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "loom_snapshot_evictions_total",
				Help: "Snapshots evicted to make room under the population cap",
			},
		),

		// Population metrics
		SnapshotPopulation: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "loom_snapshot_population",
				Help: "Number of snapshots currently on disk",
			},
		),
		SessionsLive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "loom_sessions_live",
				Help: "Number of live session workers",
			},
		),

		// System metrics
		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "loom_uptime_seconds",
				Help: "Backend uptime in seconds",
			},
		),
	}

	// Start uptime updater
	go m.updateUptime()

	return m
}

// updateUptime continuously updates the uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	// Update snapshot
	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	m.snapshot.RequestCount++
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordSave records a completed snapshot save
func (m *Metrics) RecordSave(duration time.Duration) {
	m.SnapshotsSaved.Inc()
	m.SaveDuration.Observe(duration.Seconds())
	m.mu.Lock()
	m.snapshot.SavedTotal++
	m.mu.Unlock()
}

// RecordResume records a completed snapshot resume
func (m *Metrics) RecordResume(duration time.Duration) {
	m.SnapshotsResumed.Inc()
	m.ResumeDuration.Observe(duration.Seconds())
	m.mu.Lock()
	m.snapshot.ResumedTotal++
	m.mu.Unlock()
}

// RecordDelete records a snapshot deletion
func (m *Metrics) RecordDelete() {
	m.SnapshotsDeleted.Inc()
}

// RecordSweep records sweeper outcomes from one pass
func (m *Metrics) RecordSweep(deleted, skipped, failed int) {
	m.SnapshotsSwept.WithLabelValues("deleted").Add(float64(deleted))
	m.SnapshotsSwept.WithLabelValues("skipped").Add(float64(skipped))
	m.SnapshotsSwept.WithLabelValues("failed").Add(float64(failed))
}

// RecordIntegrityFailure records a signature mismatch rejection
func (m *Metrics) RecordIntegrityFailure() {
	m.IntegrityFailures.Inc()
}

// RecordPathMismatch records a resume aborted by a mid-restore path change
func (m *Metrics) RecordPathMismatch() {
	m.PathMismatches.Inc()
}

// RecordRateLimited records a rate-limited resume attempt
func (m *Metrics) RecordRateLimited(scope string) {
	m.RateLimited.WithLabelValues(scope).Inc()
}

// RecordEviction records a population-cap eviction
func (m *Metrics) RecordEviction() {
	m.Evictions.Inc()
}

// SetPopulation sets the current on-disk snapshot count
func (m *Metrics) SetPopulation(count int) {
	m.SnapshotPopulation.Set(float64(count))
	m.mu.Lock()
	m.snapshot.StoredSessions = int64(count)
	m.mu.Unlock()
}

// SetSessionsLive sets the number of live session workers
func (m *Metrics) SetSessionsLive(count int) {
	m.SessionsLive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.LiveSessions = int64(count)
	m.mu.Unlock()
}

// Snapshot returns a copy of the current metric values for the JSON API
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
