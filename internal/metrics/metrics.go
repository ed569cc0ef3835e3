// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medz4_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medz4_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	ccowRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medz4_ccow_requests_total",
			Help: "CCOW vault calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	authAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medz4_auth_attempts_total",
			Help: "Authentication attempts by outcome",
		},
		[]string{"outcome"},
	)

	patientWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medz4_patient_writes_total",
			Help: "Patient create/update/delete operations by outcome",
		},
		[]string{"operation", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		ccowRequestsTotal,
		authAttemptsTotal,
		patientWritesTotal,
	)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRequest records one served HTTP request.
func ObserveRequest(method, route string, status int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// CCOWCall records the outcome of one vault call ("ok", "none", "error", "timeout").
func CCOWCall(operation, outcome string) {
	ccowRequestsTotal.WithLabelValues(operation, outcome).Inc()
}

// AuthAttempt records an authentication outcome ("success", "unknown_user", "locked",
// "inactive", "invalid_password", "error").
func AuthAttempt(outcome string) {
	authAttemptsTotal.WithLabelValues(outcome).Inc()
}

// PatientWrite records the outcome of a patient write ("ok", "invalid", "not_found", "error").
func PatientWrite(operation, outcome string) {
	patientWritesTotal.WithLabelValues(operation, outcome).Inc()
}
