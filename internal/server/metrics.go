package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type routerMetrics struct {
	activeSessions prometheus.Gauge
	sessionTotal   prometheus.Counter
	pairings       prometheus.Gauge
	registrations  *prometheus.CounterVec
	authFailures   prometheus.Counter
	frameErrors    *prometheus.CounterVec
	frameLatency   *prometheus.HistogramVec
	forwards       *prometheus.CounterVec
}

func newRouterMetrics(reg prometheus.Registerer) *routerMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &routerMetrics{
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pairrelay_sessions_active",
			Help: "Current number of open client connections.",
		}),
		sessionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pairrelay_sessions_total",
			Help: "Total number of client connections accepted since start.",
		}),
		pairings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pairrelay_pairings",
			Help: "Identities with at least one role connected to this instance.",
		}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pairrelay_registrations_total",
			Help: "Successful registrations grouped by role.",
		}, []string{"role"}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pairrelay_auth_failures_total",
			Help: "Registrations rejected for an invalid token.",
		}),
		frameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pairrelay_frame_errors_total",
			Help: "Frames answered with an error or close, grouped by code.",
		}, []string{"code"}),
		frameLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pairrelay_frame_latency_seconds",
			Help:    "Latency for handling client frames.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"op"}),
		forwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pairrelay_forwards_total",
			Help: "Send envelopes grouped by routing outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.activeSessions,
		m.sessionTotal,
		m.pairings,
		m.registrations,
		m.authFailures,
		m.frameErrors,
		m.frameLatency,
		m.forwards,
	)
	return m
}

func (m *routerMetrics) incSession() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
	m.sessionTotal.Inc()
}

func (m *routerMetrics) decSession() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *routerMetrics) setPairings(n int) {
	if m == nil {
		return
	}
	m.pairings.Set(float64(n))
}

func (m *routerMetrics) recordRegistration(role string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(role).Inc()
}

func (m *routerMetrics) recordAuthFailure() {
	if m == nil {
		return
	}
	m.authFailures.Inc()
}

func (m *routerMetrics) recordError(code string) {
	if m == nil {
		return
	}
	m.frameErrors.WithLabelValues(code).Inc()
}

func (m *routerMetrics) observeLatency(op string, dur time.Duration) {
	if m == nil || op == "" {
		return
	}
	m.frameLatency.WithLabelValues(op).Observe(dur.Seconds())
}

func (m *routerMetrics) recordForward(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.forwards.WithLabelValues(outcome).Inc()
}
