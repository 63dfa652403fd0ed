package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "safegate_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"component": "gateway"},
		},
		[]string{"date", "sha", "version"},
	)

	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safegate_requests_total",
			Help: "Safety-check requests per backend and outcome",
		},
		[]string{"backend", "outcome"},
	)

	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safegate_frames_total",
			Help: "Frames delivered to clients by type",
		},
		[]string{"type"},
	)

	authFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "safegate_auth_failures_total",
			Help: "Messages rejected by token verification",
		},
	)

	connections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "safegate_connections",
			Help: "Currently attached websocket connections",
		},
	)

	backendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "safegate_backend_duration_seconds",
			Help:    "Backend invocation time",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"backend"},
	)
)

// Register registers all gateway collectors with reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(buildInfo, requests, frames, authFailures, connections, backendDuration)
}

// SetBuildInfo records build metadata for the running binary.
func SetBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// RecordRequest counts one completed request per backend.
func RecordRequest(backend string, success bool) {
	outcome := "error"
	if success {
		outcome = "success"
	}
	requests.WithLabelValues(backend, outcome).Inc()
}

// RecordFrame counts one delivered frame of the given type.
func RecordFrame(frameType string) {
	frames.WithLabelValues(frameType).Inc()
}

// RecordAuthFailure counts one rejected token.
func RecordAuthFailure() {
	authFailures.Inc()
}

// ConnectionOpened and ConnectionClosed track the live connection gauge.
func ConnectionOpened() { connections.Inc() }

func ConnectionClosed() { connections.Dec() }

// ObserveBackendDuration records how long a backend invocation took.
func ObserveBackendDuration(backend string, d time.Duration) {
	backendDuration.WithLabelValues(backend).Observe(d.Seconds())
}
