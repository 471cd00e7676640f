package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jambasimaging/bizdesk/internal/logging"
	"github.com/jambasimaging/bizdesk/internal/server/models"
)

// Decision is what the gate does with a request.
type Decision int

const (
	Allow Decision = iota
	RedirectLogin
	RedirectOTP
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case RedirectLogin:
		return "redirect_login"
	case RedirectOTP:
		return "redirect_otp"
	}
	return "unknown"
}

// Exemption lets every request under Prefix through the gate. Reason is
// logged at startup so the exemption stays visible to whoever runs the
// service.
type Exemption struct {
	Prefix string
	Reason string
}

// Well-known paths of the login flow.
const (
	LoginPath     = "/accounts/login"
	OTPPath       = "/accounts/otp/"
	OTPResendPath = "/accounts/otp/resend/"
	LogoutPath    = "/accounts/logout/"
	BackOffice    = "/admin/"
)

// GatePolicy decides which paths a session may reach given how far it got
// through the login flow.
type GatePolicy struct {
	LoginPath string
	OTPPath   string
	// Public paths are reachable without any session.
	Public []string
	// PendingAllowed paths are reachable by sessions that passed the
	// password check but not the OTP.
	PendingAllowed []string
	ExemptPrefixes []Exemption
}

// DefaultGatePolicy is the policy the server runs with. The back-office is
// exempt only when backOfficeExempt is set.
func DefaultGatePolicy(backOfficeExempt bool) GatePolicy {
	p := GatePolicy{
		LoginPath:      LoginPath,
		OTPPath:        OTPPath,
		Public:         []string{LoginPath, "/healthz"},
		PendingAllowed: []string{OTPPath, OTPResendPath, LogoutPath},
	}
	if backOfficeExempt {
		p.ExemptPrefixes = append(p.ExemptPrefixes, Exemption{
			Prefix: BackOffice,
			Reason: "back-office has its own HTTP Basic credentials and is used by operators without a staff session",
		})
	}
	return p
}

func samePath(a, b string) bool {
	return strings.TrimSuffix(a, "/") == strings.TrimSuffix(b, "/")
}

func listed(path string, paths []string) bool {
	for _, p := range paths {
		if samePath(path, p) {
			return true
		}
	}
	return false
}

// Decide classifies a request for path made with session s (nil when
// anonymous). Sessions reaching here are live; LoadSession drops expired ones.
func (p GatePolicy) Decide(path string, s *models.CredentialSession) Decision {
	if listed(path, p.Public) {
		return Allow
	}
	for _, e := range p.ExemptPrefixes {
		if strings.HasPrefix(path, e.Prefix) {
			return Allow
		}
	}

	switch s.State() {
	case models.StateVerified:
		return Allow
	case models.StatePasswordVerified, models.StateOtpPending:
		if listed(path, p.PendingAllowed) {
			return Allow
		}
		return RedirectOTP
	default:
		return RedirectLogin
	}
}

// Gate enforces p. GET requests are redirected with 303; other methods get
// a JSON error naming where to go.
func Gate(p GatePolicy, log logging.Logger) gin.HandlerFunc {
	log = log.With("module", "otp_gate")
	return func(c *gin.Context) {
		s, _ := CurrentSession(c)
		d := p.Decide(c.Request.URL.Path, s)
		if d == Allow {
			c.Next()
			return
		}

		target, status, code := p.LoginPath, http.StatusUnauthorized, "login_required"
		if d == RedirectOTP {
			target, status, code = p.OTPPath, http.StatusForbidden, "otp_required"
		}
		log.Debug(c.Request.Context(), "request gated", "path", c.Request.URL.Path, "decision", d.String())

		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
			c.Redirect(http.StatusSeeOther, target)
			c.Abort()
			return
		}
		c.AbortWithStatusJSON(status, gin.H{"error": code, "redirect": target})
	}
}
