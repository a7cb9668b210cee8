// Package metrics holds the Prometheus instrumentation for both services.
// A nil *Metrics is valid and records nothing, so components can be
// constructed without instrumentation in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the NoSpoilers backend.
type Metrics struct {
	// Auth metrics
	Logins         *prometheus.CounterVec
	OTPSends       prometheus.Counter
	RateLimited    *prometheus.CounterVec
	SuspicionFlags prometheus.Counter

	// Content metrics
	PostsCreated      prometheus.Counter
	FeedRequests      prometheus.Counter
	ProgressMarks     *prometheus.CounterVec
	ProgressRollbacks *prometheus.CounterVec

	// Infrastructure metrics
	StreamClients   prometheus.Gauge
	VaultOps        *prometheus.HistogramVec
	RequestDuration *prometheus.HistogramVec
}

// New creates and registers all metrics against reg. Each process owns one
// registry; tests pass prometheus.NewRegistry() to stay isolated.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Logins: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nospoilers_logins_total",
				Help: "Login attempts by method and outcome",
			},
			[]string{"method", "status"}, // method: phone, google, apple, email
		),

		OTPSends: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "nospoilers_otp_sends_total",
				Help: "One-time codes issued",
			},
		),

		RateLimited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nospoilers_rate_limited_total",
				Help: "Requests denied by the rate limiter",
			},
			[]string{"scope"}, // scope: otp_send, otp_verify, login
		),

		SuspicionFlags: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "nospoilers_suspicion_flags_total",
				Help: "Keys whose suspicion score crossed the audit threshold",
			},
		),

		PostsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "nospoilers_posts_created_total",
				Help: "Posts accepted by the content service",
			},
		),

		FeedRequests: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "nospoilers_feed_requests_total",
				Help: "Feed assemblies served",
			},
		),

		ProgressMarks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nospoilers_progress_marks_total",
				Help: "markAsRead outcomes",
			},
			[]string{"result"}, // result: forward, idempotent
		),

		ProgressRollbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nospoilers_progress_rollbacks_total",
				Help: "Rollback outcomes",
			},
			[]string{"result"}, // result: success, unknown_token, already_rolled_back, expired, stale
		),

		StreamClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "nospoilers_active_stream_clients",
				Help: "WebSocket feed subscribers currently connected",
			},
		),

		VaultOps: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nospoilers_vault_op_seconds",
				Help:    "Encrypted store operation latency",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"op"}, // op: get, put, delete
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nospoilers_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "route"},
		),
	}
}

// RecordLogin records a login attempt outcome.
func (m *Metrics) RecordLogin(method, status string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(method, status).Inc()
}

// RecordOTPSend records an issued one-time code.
func (m *Metrics) RecordOTPSend() {
	if m == nil {
		return
	}
	m.OTPSends.Inc()
}

// RecordRateLimited records a limiter denial.
func (m *Metrics) RecordRateLimited(scope string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(scope).Inc()
}

// RecordSuspicionFlag records a key crossing the suspicion threshold.
func (m *Metrics) RecordSuspicionFlag() {
	if m == nil {
		return
	}
	m.SuspicionFlags.Inc()
}

// RecordPostCreated records an accepted post.
func (m *Metrics) RecordPostCreated() {
	if m == nil {
		return
	}
	m.PostsCreated.Inc()
}

// RecordFeedRequest records a served feed.
func (m *Metrics) RecordFeedRequest() {
	if m == nil {
		return
	}
	m.FeedRequests.Inc()
}

// RecordProgressMark records a markAsRead outcome.
func (m *Metrics) RecordProgressMark(result string) {
	if m == nil {
		return
	}
	m.ProgressMarks.WithLabelValues(result).Inc()
}

// RecordRollback records a rollback outcome.
func (m *Metrics) RecordRollback(result string) {
	if m == nil {
		return
	}
	m.ProgressRollbacks.WithLabelValues(result).Inc()
}

// StreamClientConnected increments the live subscriber gauge.
func (m *Metrics) StreamClientConnected() {
	if m == nil {
		return
	}
	m.StreamClients.Inc()
}

// StreamClientDisconnected decrements the live subscriber gauge.
func (m *Metrics) StreamClientDisconnected() {
	if m == nil {
		return
	}
	m.StreamClients.Dec()
}

// ObserveVaultOp records an encrypted store operation latency.
func (m *Metrics) ObserveVaultOp(op string, seconds float64) {
	if m == nil {
		return
	}
	m.VaultOps.WithLabelValues(op).Observe(seconds)
}

// ObserveRequest records an HTTP request latency.
func (m *Metrics) ObserveRequest(service, route string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(service, route).Observe(seconds)
}
