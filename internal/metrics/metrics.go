// Package metrics holds the Prometheus collectors for the session lifecycle and HTTP edge.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "auth"

// Metrics groups the service's collectors. A nil *Metrics records nothing.
type Metrics struct {
	sessions    *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	rateLimited *prometheus.CounterVec
	requests    *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "session_operations_total", Help: "Successful session operations by operation."},
			[]string{"operation"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "session_rejections_total", Help: "Rejected session operations by operation and reason."},
			[]string{"operation", "reason"},
		),
		rateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_rejected_total", Help: "Requests rejected by the rate limiter by route."},
			[]string{"route"},
		),
		requests: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP request latency by method, route and status.", Buckets: prometheus.DefBuckets},
			[]string{"method", "route", "status"},
		),
	}
	reg.MustRegister(m.sessions, m.rejections, m.rateLimited, m.requests)
	return m
}

// Success counts a completed operation (register, login, refresh, logout).
func (m *Metrics) Success(operation string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(operation).Inc()
}

// Rejected counts a failed operation with a short reason label.
func (m *Metrics) Rejected(operation, reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(operation, reason).Inc()
}

// RateLimited counts a request dropped by the limiter.
func (m *Metrics) RateLimited(route string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(route).Inc()
}

// ObserveRequest records the latency of one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
