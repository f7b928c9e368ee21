package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	fetches     *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	batchSize   *prometheus.HistogramVec
	cache       *prometheus.CounterVec
	sessions    prometheus.Gauge
	errorsTotal *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

var (
	defaultOnce     sync.Once
	defaultRecorder *Recorder
)

// New returns the process-wide recorder registered on the default registry.
func New() *Recorder {
	defaultOnce.Do(func() {
		defaultRecorder = NewWithRegisterer(prometheus.DefaultRegisterer)
	})
	return defaultRecorder
}

// NewWithRegisterer builds a recorder on reg; tests pass a fresh prometheus.NewRegistry().
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		fetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finwindow_fetches_total",
				Help: "History fetches by merge mode and outcome (ok, error, stale)",
			},
			[]string{"mode", "result"},
		),
		dropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finwindow_fetch_dropped_total",
				Help: "Fetch triggers dropped without a network call",
			},
			[]string{"reason"},
		),
		batchSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finwindow_batch_points",
				Help:    "Data points returned per fetch",
				Buckets: []float64{0, 10, 30, 90, 180, 365, 730, 1825, 3650},
			},
			[]string{"mode"},
		),
		cache: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finwindow_history_cache_total",
				Help: "Range response cache lookups",
			},
			[]string{"result"},
		),
		sessions: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "finwindow_sessions_open",
				Help: "Chart sessions currently open",
			},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finwindow_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finwindow_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordFetch counts a completed fetch.
func (r *Recorder) RecordFetch(mode, result string) {
	r.fetches.WithLabelValues(mode, result).Inc()
}

// RecordDropped counts a trigger rejected by the single-flight guard or similar.
func (r *Recorder) RecordDropped(reason string) {
	r.dropped.WithLabelValues(reason).Inc()
}

func (r *Recorder) RecordBatchSize(mode string, points int) {
	r.batchSize.WithLabelValues(mode).Observe(float64(points))
}

func (r *Recorder) RecordCache(result string) {
	r.cache.WithLabelValues(result).Inc()
}

func (r *Recorder) RecordSessions(open int) {
	r.sessions.Set(float64(open))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards everything; used by tests and when metrics are disabled.
type Nop struct{}

func (Nop) RecordFetch(string, string)    {}
func (Nop) RecordDropped(string)          {}
func (Nop) RecordBatchSize(string, int)   {}
func (Nop) RecordCache(string)            {}
func (Nop) RecordSessions(int)            {}
func (Nop) RecordError(string)            {}
func (Nop) RecordLatency(string, float64) {}
