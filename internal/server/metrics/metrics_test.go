package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	b, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(b)
}

func TestMetrics_CountersAppearInScrape(t *testing.T) {
	m := New()
	m.Login(LoginFailed)
	m.Login(LoginFailed)
	m.Lockout()
	m.OTP(OTPIssued)
	m.LedgerAction("create")
	m.LedgerInconsistency()
	m.Request("POST", "/accounts/login", 401)

	out := scrape(t, m)
	assert.Contains(t, out, `bizdesk_auth_password_checks_total{outcome="failed"} 2`)
	assert.Contains(t, out, `bizdesk_auth_lockouts_total 1`)
	assert.Contains(t, out, `bizdesk_auth_otp_events_total{event="issued"} 1`)
	assert.Contains(t, out, `bizdesk_ledger_actions_total{action="create"} 1`)
	assert.Contains(t, out, `bizdesk_ledger_inconsistencies_total 1`)
	assert.Contains(t, out, `bizdesk_http_requests_total{method="POST",route="/accounts/login",status="401"} 1`)
	assert.Contains(t, out, "go_goroutines")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Login(LoginSuccess)
		m.Lockout()
		m.OTP(OTPVerified)
		m.LedgerAction("none")
		m.LedgerInconsistency()
		m.Request("GET", "/", 200)
	})
}

func TestMetrics_MuxServesOnlyMetricsPath(t *testing.T) {
	m := New()
	m.Lockout()
	mux := m.Mux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "bizdesk_auth_lockouts_total 1")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/accounts/login", nil))
	assert.Equal(t, 404, rec.Code)
}
