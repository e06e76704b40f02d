// Package metrics exposes Prometheus collectors for the feedback service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submission outcomes.
const (
	SubmissionCreated   = "created"
	SubmissionTemporary = "temporary"
	SubmissionCached    = "cached"
	SubmissionFailed    = "failed"
)

// Poll attempt results.
const (
	PollNoData   = "no_data"
	PollReceived = "received"
	PollError    = "error"
)

// Polling session outcomes.
const (
	PollingReceived = "received"
	PollingTimeout  = "timeout"
	PollingError    = "error"
	PollingCanceled = "canceled"
)

var (
	submissionsTotal           *prometheus.CounterVec
	submissionRetriesTotal     prometheus.Counter
	notificationsTotal         *prometheus.CounterVec
	pollAttemptsTotal          *prometheus.CounterVec
	pollingSessionsTotal       *prometheus.CounterVec
	activeSessions             prometheus.Gauge
	rateLimitedTotal           *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		submissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedback_submissions_total",
				Help: "Profile URL submissions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		submissionRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "feedback_submission_retries_total",
				Help: "Submission retries scheduled after a datastore outage.",
			},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedback_notifications_total",
				Help: "Pipeline notifications, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		pollAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedback_poll_attempts_total",
				Help: "Result poll attempts, labeled by result.",
			},
			[]string{"result"},
		)

		pollingSessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedback_polling_sessions_total",
				Help: "Finished polling sessions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		activeSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "feedback_active_sessions",
				Help: "Client sessions currently held by the registry.",
			},
		)

		rateLimitedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedback_rate_limited_total",
				Help: "Requests rejected by the per-client rate limiter, labeled by route.",
			},
			[]string{"route"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSubmission counts one submission outcome.
func ObserveSubmission(outcome string) {
	Init()
	submissionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSubmissionRetry counts one scheduled retry.
func ObserveSubmissionRetry() {
	Init()
	submissionRetriesTotal.Inc()
}

// ObserveNotification counts one notification by success.
func ObserveNotification(ok bool) {
	Init()
	outcome := "failed"
	if ok {
		outcome = "ok"
	}
	notificationsTotal.WithLabelValues(outcome).Inc()
}

// ObservePollAttempt counts one poll attempt.
func ObservePollAttempt(result string) {
	Init()
	pollAttemptsTotal.WithLabelValues(result).Inc()
}

// ObservePollingOutcome counts one finished polling session.
func ObservePollingOutcome(outcome string) {
	Init()
	pollingSessionsTotal.WithLabelValues(outcome).Inc()
}

// SetActiveSessions reports the registry size.
func SetActiveSessions(n int) {
	Init()
	activeSessions.Set(float64(n))
}

// ObserveRateLimited counts one rejected request.
func ObserveRateLimited(route string) {
	Init()
	rateLimitedTotal.WithLabelValues(route).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
