// Package metrics owns the Prometheus registry of the server process.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bizdesk"

// Login outcomes.
const (
	LoginSuccess = "success"
	LoginFailed  = "failed"
	LoginLocked  = "locked"
)

// OTP events.
const (
	OTPIssued         = "issued"
	OTPDeliveryFailed = "delivery_failed"
	OTPCooldown       = "cooldown"
	OTPVerified       = "verified"
	OTPMismatch       = "mismatch"
	OTPExpired        = "expired"
	OTPExhausted      = "exhausted"
)

// Metrics is a set of counters on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	logins        *prometheus.CounterVec
	lockouts      prometheus.Counter
	otp           *prometheus.CounterVec
	ledgerActions *prometheus.CounterVec
	ledgerErrors  prometheus.Counter
	requests      *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "password_checks_total",
			Help: "Password checks by outcome.",
		}, []string{"outcome"}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "lockouts_total",
			Help: "Identities locked after too many failed password checks.",
		}),
		otp: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "otp_events_total",
			Help: "One-time code events.",
		}, []string{"event"}),
		ledgerActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "actions_total",
			Help: "Profit ledger actions taken on payment state changes.",
		}, []string{"action"}),
		ledgerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "inconsistencies_total",
			Help: "Mutations aborted because the profit ledger disagreed with invoice state.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.logins, m.lockouts, m.otp, m.ledgerActions, m.ledgerErrors, m.requests,
	)
	return m
}

// Mux serves Handler at /metrics, for the internal metrics listener.
func (m *Metrics) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
		Registry:      m.registry,
	})
}

func (m *Metrics) Login(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Lockout() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}

func (m *Metrics) OTP(event string) {
	if m == nil {
		return
	}
	m.otp.WithLabelValues(event).Inc()
}

func (m *Metrics) LedgerAction(action string) {
	if m == nil {
		return
	}
	m.ledgerActions.WithLabelValues(action).Inc()
}

func (m *Metrics) LedgerInconsistency() {
	if m == nil {
		return
	}
	m.ledgerErrors.Inc()
}

func (m *Metrics) Request(method, route string, status int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
