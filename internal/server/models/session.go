package models

import "time"

// SessionState is the position of a credential session in the login flow.
type SessionState string

const (
	StateAnonymous        SessionState = "anonymous"
	StatePasswordVerified SessionState = "password_verified"
	StateOtpPending       SessionState = "otp_pending"
	StateVerified         SessionState = "verified"
)

// ShiftIdentity holds the names printed on documents produced during a shift.
type ShiftIdentity struct {
	PreparedBy string `json:"prepared_by"`
	IssuedBy   string `json:"issued_by"`
	SignedBy   string `json:"signed_by"`
}

// Complete reports whether all three names are filled in.
func (s ShiftIdentity) Complete() bool {
	return s.PreparedBy != "" && s.IssuedBy != "" && s.SignedBy != ""
}

// CredentialSession ties a user to an in-progress or completed login.
//
// OTPDigest is the keyed digest of the current code, never the code itself;
// an empty digest means no usable code is outstanding.
type CredentialSession struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Identity  string    `json:"identity"`
	Role      Role      `json:"role"`
	Superuser bool      `json:"superuser"`
	ClientIP  string    `json:"client_ip"`
	UserAgent string    `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	PasswordVerified bool `json:"password_verified"`

	OTPDigest         string    `json:"otp_digest,omitempty"`
	OTPIssuedAt       time.Time `json:"otp_issued_at"`
	OTPExpiresAt      time.Time `json:"otp_expires_at"`
	ResendAvailableAt time.Time `json:"resend_available_at"`
	OTPAttempts       int       `json:"otp_attempts"`

	Verified   bool      `json:"verified"`
	VerifiedAt time.Time `json:"verified_at"`

	Shift ShiftIdentity `json:"shift"`
}

// State derives the login-flow state from the stored flags.
func (s *CredentialSession) State() SessionState {
	switch {
	case s == nil:
		return StateAnonymous
	case s.Verified:
		return StateVerified
	case s.PasswordVerified && s.OTPDigest != "":
		return StateOtpPending
	case s.PasswordVerified:
		return StatePasswordVerified
	default:
		return StateAnonymous
	}
}

// Expired reports whether the session lifetime has elapsed at now.
func (s *CredentialSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Authorized reports whether the session may reach protected resources.
func (s *CredentialSession) Authorized(now time.Time) bool {
	return s != nil && s.Verified && !s.Expired(now)
}

// ArmOTP replaces any outstanding code with a fresh one.
func (s *CredentialSession) ArmOTP(digest string, now time.Time, ttl, cooldown time.Duration) {
	s.OTPDigest = digest
	s.OTPIssuedAt = now
	s.OTPExpiresAt = now.Add(ttl)
	s.ResendAvailableAt = now.Add(cooldown)
	s.OTPAttempts = 0
}

// BurnOTP makes the current code unusable while keeping the attempt count.
func (s *CredentialSession) BurnOTP() {
	s.OTPDigest = ""
}

// LockoutCounter tracks consecutive failed password checks for an identity.
type LockoutCounter struct {
	Identity       string    `json:"identity"`
	FailedAttempts int       `json:"failed_attempts"`
	WindowEndsAt   time.Time `json:"window_ends_at"`
	LockedUntil    time.Time `json:"locked_until"`
}

// Locked reports whether the identity is inside its lockout window at now.
func (l *LockoutCounter) Locked(now time.Time) bool {
	return l != nil && now.Before(l.LockedUntil)
}

// ClientInfo describes where a login attempt came from.
type ClientInfo struct {
	IP        string
	UserAgent string
}
