package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/disk"
)

// Job outcome label values.
const (
	OutcomeReady     = "ready"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

// Metrics holds Prometheus counters and gauges for the HLS library server.
type Metrics struct {
	registry       *prometheus.Registry
	requestsTotal  prometheus.Counter
	errorsTotal    prometheus.Counter
	bytesServed    prometheus.Counter
	jobsSubmitted  prometheus.Counter
	jobsFinished   *prometheus.CounterVec
	jobsInFlight   prometheus.Gauge
	playsTotal     prometheus.Counter
	sessions       prometheus.Gauge
	cacheFreeBytes prometheus.Gauge
	conversionSecs prometheus.Histogram
}

// New creates and registers Prometheus metrics for the server.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		bytesServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_response_bytes_total",
			Help: "Response body bytes written, segments included",
		}),
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_jobs_submitted_total",
			Help: "Total number of conversion jobs submitted",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hls_jobs_finished_total",
			Help: "Conversion jobs that reached a terminal state, by outcome",
		}, []string{"outcome"}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hls_jobs_in_flight",
			Help: "Conversion jobs currently downloading or converting",
		}),
		playsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_plays_total",
			Help: "Total number of playlists served",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hls_sessions",
			Help: "Number of servable sessions in the cache",
		}),
		cacheFreeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hls_cache_free_bytes",
			Help: "Free bytes on the filesystem holding the cache root",
		}),
		conversionSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hls_conversion_duration_seconds",
			Help:    "Wall time of successful download and conversion runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.bytesServed,
		m.jobsSubmitted,
		m.jobsFinished,
		m.jobsInFlight,
		m.playsTotal,
		m.sessions,
		m.cacheFreeBytes,
		m.conversionSecs,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// AddBytesServed adds n to the response bytes counter.
func (m *Metrics) AddBytesServed(n int) {
	m.bytesServed.Add(float64(n))
}

// IncJobsSubmitted increments the submitted jobs counter.
func (m *Metrics) IncJobsSubmitted() {
	m.jobsSubmitted.Inc()
}

// JobStarted and JobDone bracket the running part of a job.
func (m *Metrics) JobStarted() {
	m.jobsInFlight.Inc()
}

func (m *Metrics) JobDone() {
	m.jobsInFlight.Dec()
}

// IncJobsFinished records a terminal job with one of the Outcome* values.
func (m *Metrics) IncJobsFinished(outcome string) {
	m.jobsFinished.WithLabelValues(outcome).Inc()
}

// ObserveConversion records the duration of a successful job in seconds.
func (m *Metrics) ObserveConversion(seconds float64) {
	m.conversionSecs.Observe(seconds)
}

// IncPlays increments the played playlists counter.
func (m *Metrics) IncPlays() {
	m.playsTotal.Inc()
}

// SetSessions sets the cached sessions gauge.
func (m *Metrics) SetSessions(n int) {
	m.sessions.Set(float64(n))
}

// UpdateCacheFree samples free space of the filesystem holding path.
func (m *Metrics) UpdateCacheFree(path string) error {
	usage, err := disk.Usage(path)
	if err != nil {
		return err
	}
	m.cacheFreeBytes.Set(float64(usage.Free))
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
