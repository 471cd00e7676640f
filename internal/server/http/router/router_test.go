package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jambasimaging/bizdesk/internal/common"
	"github.com/jambasimaging/bizdesk/internal/cryptox"
	"github.com/jambasimaging/bizdesk/internal/dbx"
	"github.com/jambasimaging/bizdesk/internal/logging"
	"github.com/jambasimaging/bizdesk/internal/server/access"
	"github.com/jambasimaging/bizdesk/internal/server/http/handler"
	"github.com/jambasimaging/bizdesk/internal/server/http/middleware"
	"github.com/jambasimaging/bizdesk/internal/server/ledger"
	"github.com/jambasimaging/bizdesk/internal/server/metrics"
	"github.com/jambasimaging/bizdesk/internal/server/models"
	"github.com/jambasimaging/bizdesk/internal/server/notify"
	"github.com/jambasimaging/bizdesk/internal/server/repositories/loginaudit"
	"github.com/jambasimaging/bizdesk/internal/server/repositories/repomanager"
	"github.com/jambasimaging/bizdesk/internal/server/repositories/users"
	"github.com/jambasimaging/bizdesk/internal/server/services"
	"github.com/jambasimaging/bizdesk/internal/server/sessions"
	"github.com/jambasimaging/bizdesk/internal/timex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var secret = []byte("router-test-secret")

// repos serves only the two repositories the login flow touches.
type repos struct {
	repomanager.RepositoryManager
	users *userRepo
	audit *auditRepo
}

func (r repos) Users(dbx.DBTX) users.Repository           { return r.users }
func (r repos) LoginAudit(dbx.DBTX) loginaudit.Repository { return r.audit }

type userRepo struct {
	users.Repository
	byEmail map[string]*models.User
}

func (r *userRepo) FindByIdentity(_ context.Context, email string) (*models.User, error) {
	if u, ok := r.byEmail[email]; ok {
		return u, nil
	}
	return nil, common.ErrorNotFound
}

type auditRepo struct {
	mu     sync.Mutex
	events []*models.LoginAuditEvent
}

func (r *auditRepo) Create(_ context.Context, e *models.LoginAuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *auditRepo) ListRecent(context.Context, int) ([]*models.LoginAuditEvent, error) {
	return r.events, nil
}

type mailbox struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (m *mailbox) Send(_ context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

var codePattern = regexp.MustCompile(`\d{6}`)

func (m *mailbox) lastCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	code := codePattern.FindString(m.sent[len(m.sent)-1].Body)
	require.NotEmpty(t, code)
	return code
}

type stubLedger struct {
	handler.Ledger
	seen   []access.Actor
	payErr error
}

func (l *stubLedger) InvoiceDetail(_ context.Context, a access.Actor, id int64) (*services.InvoiceDetail, error) {
	l.seen = append(l.seen, a)
	if id != 7 {
		return nil, common.ErrorNotFound
	}
	return &services.InvoiceDetail{
		Invoice: &models.Invoice{ID: 7, Number: "INV-2026-00007", Currency: "UGX"},
		State:   models.StateUnpaid,
	}, nil
}

func (l *stubLedger) RecordPayment(_ context.Context, a access.Actor, id int64, in services.PaymentInput) (*models.Payment, services.Transition, error) {
	l.seen = append(l.seen, a)
	if l.payErr != nil {
		return nil, services.Transition{}, l.payErr
	}
	return &models.Payment{ID: 1, InvoiceID: id, Method: in.Method, Amount: in.Amount, ReceiptNumber: "RCT-2026-00001"},
		services.Transition{Previous: models.StateUnpaid, Current: models.StatePaid, Action: ledger.ActionCreate}, nil
}

type stubReports struct {
	handler.Reports
	filter models.ProfitFilter
}

func (r *stubReports) ProfitSummary(_ context.Context, _ access.Actor, f models.ProfitFilter) ([]*models.ProfitSummary, error) {
	r.filter = f
	return nil, nil
}

func (r *stubReports) ProfitRecords(context.Context, access.Actor, models.ProfitFilter) ([]*models.ProfitRecord, error) {
	return nil, nil
}

func (r *stubReports) AuditLedger(_ context.Context, a access.Actor) ([]*models.LedgerMismatch, error) {
	if !access.Can(a, access.Read, access.LedgerAudit) {
		return nil, common.ErrForbidden
	}
	return []*models.LedgerMismatch{{InvoiceID: 3, InvoiceNumber: "INV-2026-00003", Status: models.StatePaid}}, nil
}

type fixture struct {
	engine  *gin.Engine
	mail    *mailbox
	ledger  *stubLedger
	reports *stubReports
	audit   *auditRepo
}

func newFixture(t *testing.T, backOfficeExempt bool) *fixture {
	t.Helper()
	hash, err := cryptox.HashPassword("correct horse")
	require.NoError(t, err)

	f := &fixture{
		mail:    &mailbox{},
		ledger:  &stubLedger{},
		reports: &stubReports{},
		audit:   &auditRepo{},
	}
	m := repos{
		users: &userRepo{byEmail: map[string]*models.User{
			"acc@jambas.test": {ID: 4, Email: "acc@jambas.test", Role: models.RoleAccountant, PasswordHash: hash, IsActive: true},
		}},
		audit: f.audit,
	}

	settings := services.AuthSettings{
		Secret:            secret,
		AppName:           "Bizdesk",
		OTPLength:         6,
		OTPTTL:            5 * time.Minute,
		OTPResendCooldown: time.Minute,
		OTPMaxAttempts:    5,
		LoginMaxFailures:  5,
		LoginLockout:      15 * time.Minute,
		SessionTTL:        8 * time.Hour,
	}
	authSvc := services.NewAuthService(nil, m, sessions.NewMemoryStore(timex.SystemClock), sessions.NewMemoryLockoutStore(timex.SystemClock),
		f.mail, settings, logging.Nop{}, nil)

	h := handler.New(authSvc, f.ledger, f.reports, handler.CookieSettings{Secret: secret, TTL: settings.SessionTTL}, logging.Nop{})
	f.engine = New(h, authSvc, Options{
		Secret:     secret,
		Policy:     middleware.DefaultGatePolicy(backOfficeExempt),
		BackOffice: gin.Accounts{"ops": "ops-pass"},
		Debug:      true,
	}, logging.Nop{}, metrics.New())
	return f
}

type client struct {
	t       *testing.T
	engine  *gin.Engine
	cookies []*http.Cookie
}

func (c *client) do(method, path, body string) *httptest.ResponseRecorder {
	c.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	w := httptest.NewRecorder()
	c.engine.ServeHTTP(w, req)
	for _, ck := range w.Result().Cookies() {
		if ck.Name != common.SessionCookieName {
			continue
		}
		c.cookies = nil
		if ck.MaxAge >= 0 && ck.Value != "" {
			c.cookies = []*http.Cookie{ck}
		}
	}
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestLoginFlow_EndToEnd(t *testing.T) {
	f := newFixture(t, false)
	c := &client{t: t, engine: f.engine}

	w := c.do(http.MethodGet, "/invoices/7/", "")
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, middleware.LoginPath, w.Header().Get("Location"))

	w = c.do(http.MethodPost, "/accounts/login", `{"identity":"acc@jambas.test","password":"correct horse"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["otp_delivered"])
	assert.Equal(t, middleware.OTPPath, body["redirect"])
	require.Len(t, c.cookies, 1)

	w = c.do(http.MethodGet, "/invoices/7/", "")
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, middleware.OTPPath, w.Header().Get("Location"))

	w = c.do(http.MethodPost, "/accounts/otp/", `{"code":"not-it"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body = decode(t, w)
	assert.Equal(t, "otp_mismatch", body["error"])
	assert.EqualValues(t, 4, body["attempts_left"])

	w = c.do(http.MethodPost, "/accounts/otp/", `{"code":"`+f.mail.lastCode(t)+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = c.do(http.MethodGet, "/invoices/7/", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body = decode(t, w)
	assert.Equal(t, "unpaid", body["state"])
	require.NotEmpty(t, f.ledger.seen)
	assert.Equal(t, access.Actor{UserID: 4, Role: models.RoleAccountant}, f.ledger.seen[0])

	w = c.do(http.MethodPost, "/accounts/logout/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, c.cookies)

	w = c.do(http.MethodGet, "/invoices/7/", "")
	assert.Equal(t, http.StatusSeeOther, w.Code)
}

func TestLogin_FailuresLookAlike(t *testing.T) {
	f := newFixture(t, false)
	c := &client{t: t, engine: f.engine}

	wrong := c.do(http.MethodPost, "/accounts/login", `{"identity":"acc@jambas.test","password":"nope"}`)
	unknown := c.do(http.MethodPost, "/accounts/login", `{"identity":"ghost@jambas.test","password":"nope"}`)

	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, wrong.Code, unknown.Code)
	assert.JSONEq(t, wrong.Body.String(), unknown.Body.String())
	assert.Empty(t, c.cookies)
	assert.Len(t, f.audit.events, 2)
}

func TestLogin_LockoutReportsRetryAfter(t *testing.T) {
	f := newFixture(t, false)
	c := &client{t: t, engine: f.engine}

	for i := 0; i < 5; i++ {
		c.do(http.MethodPost, "/accounts/login", `{"identity":"acc@jambas.test","password":"nope"}`)
	}
	w := c.do(http.MethodPost, "/accounts/login", `{"identity":"acc@jambas.test","password":"correct horse"}`)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "account_locked", decode(t, w)["error"])
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestResend_CooldownIs429(t *testing.T) {
	f := newFixture(t, false)
	c := &client{t: t, engine: f.engine}

	c.do(http.MethodPost, "/accounts/login", `{"identity":"acc@jambas.test","password":"correct horse"}`)
	w := c.do(http.MethodPost, "/accounts/otp/resend/", "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	body := decode(t, w)
	assert.Equal(t, "otp_resend_too_soon", body["error"])
	assert.EqualValues(t, 60, body["retry_after"])
}

func login(t *testing.T, f *fixture) *client {
	t.Helper()
	c := &client{t: t, engine: f.engine}
	w := c.do(http.MethodPost, "/accounts/login", `{"identity":"acc@jambas.test","password":"correct horse"}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = c.do(http.MethodPost, "/accounts/otp/", `{"code":"`+f.mail.lastCode(t)+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	return c
}

func TestRecordPayment_ErrorMapping(t *testing.T) {
	f := newFixture(t, false)
	c := login(t, f)

	w := c.do(http.MethodPost, "/invoices/7/payments/", `{"method":"cash","amount":"1000000"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, map[string]any{"previous": "unpaid", "current": "paid", "ledger": "create"}, body["transition"])

	f.ledger.payErr = &common.LedgerError{InvoiceID: 7, State: "paid", Records: 2, Phase: "create"}
	w = c.do(http.MethodPost, "/invoices/7/payments/", `{"method":"cash","amount":"1"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "inconsistent_ledger_state", decode(t, w)["error"])

	f.ledger.payErr = common.ErrForbidden
	w = c.do(http.MethodPost, "/invoices/7/payments/", `{"method":"cash","amount":"1"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = c.do(http.MethodPost, "/invoices/abc/payments/", `{"method":"cash","amount":"1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProfit_DateRangeIsInclusive(t *testing.T) {
	f := newFixture(t, false)
	c := login(t, f)

	w := c.do(http.MethodGet, "/reports/profit/?currency=ugx&from=2026-03-01&to=2026-03-31", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "UGX", f.reports.filter.Currency)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), f.reports.filter.From)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), f.reports.filter.To)

	w = c.do(http.MethodGet, "/reports/profit/?from=March", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBackOffice(t *testing.T) {
	t.Run("gated unless exempt", func(t *testing.T) {
		f := newFixture(t, false)
		req := httptest.NewRequest(http.MethodGet, "/admin/ledger/audit/", nil)
		req.SetBasicAuth("ops", "ops-pass")
		w := httptest.NewRecorder()
		f.engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusSeeOther, w.Code)
	})

	t.Run("exempt requires basic auth", func(t *testing.T) {
		f := newFixture(t, true)

		w := httptest.NewRecorder()
		f.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/ledger/audit/", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		req := httptest.NewRequest(http.MethodGet, "/admin/ledger/audit/", nil)
		req.SetBasicAuth("ops", "ops-pass")
		w = httptest.NewRecorder()
		f.engine.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), "INV-2026-00003")
	})
}

func TestHealthIsPublic(t *testing.T) {
	f := newFixture(t, false)
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsAreNotOnPublicPort(t *testing.T) {
	f := newFixture(t, false)

	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, middleware.LoginPath, w.Header().Get("Location"))
	assert.NotContains(t, w.Body.String(), "bizdesk_auth")
}
