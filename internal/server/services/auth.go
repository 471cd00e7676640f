// Package services contains server-side business logic. This file implements
// AuthService: the password step, the emailed one-time code and the
// verified flag that protected pages require.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jambasimaging/bizdesk/internal/common"
	"github.com/jambasimaging/bizdesk/internal/cryptox"
	"github.com/jambasimaging/bizdesk/internal/dbx"
	"github.com/jambasimaging/bizdesk/internal/logging"
	"github.com/jambasimaging/bizdesk/internal/server/config"
	"github.com/jambasimaging/bizdesk/internal/server/metrics"
	"github.com/jambasimaging/bizdesk/internal/server/models"
	"github.com/jambasimaging/bizdesk/internal/server/notify"
	"github.com/jambasimaging/bizdesk/internal/server/repositories/repomanager"
	"github.com/jambasimaging/bizdesk/internal/server/sessions"
	"github.com/jambasimaging/bizdesk/internal/timex"
)

// Audit reasons for failed password checks.
const (
	reasonUnknownIdentity = "unknown identity"
	reasonInactive        = "inactive account"
	reasonBadPassword     = "wrong password"
	reasonLocked          = "locked out"
)

// AuthSettings are the gate thresholds.
type AuthSettings struct {
	Secret            []byte
	AppName           string
	OTPLength         int
	OTPTTL            time.Duration
	OTPResendCooldown time.Duration
	OTPMaxAttempts    int
	LoginMaxFailures  int
	LoginLockout      time.Duration
	SessionTTL        time.Duration
}

// AuthSettingsFromConfig picks the gate thresholds out of the server config.
func AuthSettingsFromConfig(cfg *config.Config) AuthSettings {
	return AuthSettings{
		Secret:            []byte(cfg.SecretKey),
		AppName:           cfg.AppName,
		OTPLength:         cfg.OTPLength,
		OTPTTL:            cfg.OTPTTL,
		OTPResendCooldown: cfg.OTPResendCooldown,
		OTPMaxAttempts:    cfg.OTPMaxAttempts,
		LoginMaxFailures:  cfg.LoginMaxFailedAttempts,
		LoginLockout:      cfg.LoginLockoutDuration,
		SessionTTL:        cfg.SessionTTL,
	}
}

// OTPDispatch reports an issued code. The code stays valid when delivery
// fails; DeliveryErr only tells the caller the mail may not arrive.
type OTPDispatch struct {
	Session     *models.CredentialSession
	DeliveryErr error
}

// Delivered reports whether the notifier accepted the mail.
func (d *OTPDispatch) Delivered() bool { return d.DeliveryErr == nil }

// AuthService drives a credential session from password to verified.
type AuthService struct {
	db          dbx.DBTX
	repomanager repomanager.RepositoryManager
	sessions    sessions.Store
	lockouts    sessions.LockoutStore
	notifier    notify.Notifier
	settings    AuthSettings
	log         logging.Logger
	metrics     *metrics.Metrics

	now       timex.Clock
	newCode   func(length int) (string, error)
	newID     func() string
	mailAfter time.Duration
}

func NewAuthService(db dbx.DBTX, m repomanager.RepositoryManager, store sessions.Store, lockouts sessions.LockoutStore,
	notifier notify.Notifier, settings AuthSettings, log logging.Logger, mx *metrics.Metrics) *AuthService {
	return &AuthService{
		db:          db,
		repomanager: m,
		sessions:    store,
		lockouts:    lockouts,
		notifier:    notifier,
		settings:    settings,
		log:         log.With("module", "auth"),
		metrics:     mx,
		now:         timex.SystemClock,
		newCode:     cryptox.NumericCode,
		newID:       uuid.NewString,
		mailAfter:   30 * time.Second,
	}
}

// NormalizeIdentity trims and lower-cases a login identity.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// VerifyPassword checks identity and password. On success the identity's
// failure counter is reset, previousSessionID (the caller's old session, if
// any) is destroyed and a fresh password-verified session is returned.
//
// Unknown identities, inactive accounts and wrong passwords all fail with
// common.ErrAuthenticationFailed and all count towards the lockout.
func (s *AuthService) VerifyPassword(ctx context.Context, identity, password string, client models.ClientInfo, previousSessionID string) (*models.CredentialSession, error) {
	identity = NormalizeIdentity(identity)
	if identity == "" {
		cryptox.BurnPasswordCheck(password)
		s.metrics.Login(metrics.LoginFailed)
		return nil, common.ErrAuthenticationFailed
	}

	// The attempt is counted before the password is looked at, so parallel
	// guesses cannot all slip past the limit.
	now := s.now()
	counter, granted, err := s.lockouts.Reserve(ctx, identity, s.settings.LoginMaxFailures, s.settings.LoginLockout)
	if err != nil {
		return nil, fmt.Errorf("lockout reserve: %w", err)
	}
	if !granted {
		s.metrics.Login(metrics.LoginLocked)
		s.audit(ctx, nil, identity, client, false, reasonLocked)
		return nil, &common.LockedError{Remaining: counter.LockedUntil.Sub(now)}
	}

	user, err := s.repomanager.Users(s.db).FindByIdentity(ctx, identity)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		cryptox.BurnPasswordCheck(password)
		return nil, s.failPassword(ctx, nil, identity, client, counter, reasonUnknownIdentity)
	case err != nil:
		return nil, fmt.Errorf("user lookup: %w", err)
	}

	ok := cryptox.CheckPassword(user.PasswordHash, password)
	if !user.IsActive {
		return nil, s.failPassword(ctx, &user.ID, identity, client, counter, reasonInactive)
	}
	if !ok {
		return nil, s.failPassword(ctx, &user.ID, identity, client, counter, reasonBadPassword)
	}

	if err := s.lockouts.Reset(ctx, identity); err != nil {
		return nil, fmt.Errorf("lockout reset: %w", err)
	}
	if previousSessionID != "" {
		if err := s.sessions.Delete(ctx, previousSessionID); err != nil {
			return nil, fmt.Errorf("drop previous session: %w", err)
		}
	}

	sess := &models.CredentialSession{
		ID:               s.newID(),
		UserID:           user.ID,
		Identity:         identity,
		Role:             user.Role,
		Superuser:        user.IsSuperuser,
		ClientIP:         client.IP,
		UserAgent:        client.UserAgent,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.settings.SessionTTL),
		PasswordVerified: true,
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	s.metrics.Login(metrics.LoginSuccess)
	s.audit(ctx, &user.ID, identity, client, true, "")
	s.log.Info(ctx, "password verified", "user", user.ID, "session", sess.ID)
	return sess, nil
}

// failPassword reports a failed check whose attempt was already counted by
// Reserve.
func (s *AuthService) failPassword(ctx context.Context, userID *int64, identity string, client models.ClientInfo, counter *models.LockoutCounter, reason string) error {
	s.metrics.Login(metrics.LoginFailed)
	s.audit(ctx, userID, identity, client, false, reason)

	if !counter.LockedUntil.IsZero() {
		s.metrics.Lockout()
		s.log.Warn(ctx, "identity locked out", "identity", identity, "until", counter.LockedUntil, "ip", client.IP)
	}
	return common.ErrAuthenticationFailed
}

// audit records the attempt. A failing audit write is logged and never
// changes the outcome of the login.
func (s *AuthService) audit(ctx context.Context, userID *int64, identity string, client models.ClientInfo, success bool, reason string) {
	e := &models.LoginAuditEvent{
		UserID:    userID,
		Email:     identity,
		IP:        client.IP,
		UserAgent: client.UserAgent,
		Success:   success,
		Reason:    reason,
		CreatedAt: s.now(),
	}
	if err := s.repomanager.LoginAudit(s.db).Create(ctx, e); err != nil {
		s.log.Error(ctx, "login audit write failed", "identity", identity, "error", err)
	}
}

// IssueOTP generates a fresh code for a password-verified session and mails
// it. Any earlier code of the session stops working.
func (s *AuthService) IssueOTP(ctx context.Context, sessionID string) (*OTPDispatch, error) {
	code, err := s.newCode(s.settings.OTPLength)
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}
	digest := cryptox.CodeDigest(s.settings.Secret, sessionID, code)

	now := s.now()
	sess, err := s.sessions.Update(ctx, sessionID, func(cs *models.CredentialSession) (bool, error) {
		switch {
		case !cs.PasswordVerified:
			return false, common.ErrPasswordNotVerified
		case cs.Verified:
			return false, common.ErrAlreadyVerified
		case now.Before(cs.ResendAvailableAt):
			return false, &common.CooldownError{Remaining: cs.ResendAvailableAt.Sub(now)}
		}
		cs.ArmOTP(digest, now, s.settings.OTPTTL, s.settings.OTPResendCooldown)
		return true, nil
	})
	if err != nil {
		if errors.Is(err, common.ErrResendTooSoon) {
			s.metrics.OTP(metrics.OTPCooldown)
		}
		return nil, err
	}
	s.metrics.OTP(metrics.OTPIssued)

	d := &OTPDispatch{Session: sess}
	mailCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.mailAfter)
	defer cancel()
	msg := notify.OTPMessage(s.settings.AppName, sess.Identity, code, s.settings.OTPTTL)
	if err := s.notifier.Send(mailCtx, msg); err != nil {
		d.DeliveryErr = err
		s.metrics.OTP(metrics.OTPDeliveryFailed)
		s.log.Warn(ctx, "otp delivery failed", "session", sess.ID, "error", err)
	}
	return d, nil
}

// VerifyOTP checks candidate against the session's outstanding code.
//
// An expired code fails with common.ErrOtpExpired without using an attempt.
// A wrong code uses one; the last allowed miss burns the code and fails with
// common.ErrOtpAttemptsExceeded, as does every later call until a new code
// is issued.
func (s *AuthService) VerifyOTP(ctx context.Context, sessionID, candidate string) (*models.CredentialSession, error) {
	now := s.now()
	max := s.settings.OTPMaxAttempts
	digest := cryptox.CodeDigest(s.settings.Secret, sessionID, strings.TrimSpace(candidate))

	sess, err := s.sessions.Update(ctx, sessionID, func(cs *models.CredentialSession) (bool, error) {
		switch {
		case !cs.PasswordVerified:
			return false, common.ErrPasswordNotVerified
		case cs.Verified:
			return false, common.ErrAlreadyVerified
		case cs.OTPDigest == "" && cs.OTPAttempts >= max:
			return false, common.ErrOtpAttemptsExceeded
		case cs.OTPDigest == "":
			return false, common.ErrNoOtpIssued
		case now.After(cs.OTPExpiresAt):
			return false, common.ErrOtpExpired
		}

		if cryptox.EqualDigest(digest, cs.OTPDigest) {
			cs.Verified = true
			cs.VerifiedAt = now
			cs.BurnOTP()
			return true, nil
		}

		cs.OTPAttempts++
		if cs.OTPAttempts >= max {
			cs.BurnOTP()
			return true, common.ErrOtpAttemptsExceeded
		}
		return true, &common.MismatchError{AttemptsLeft: max - cs.OTPAttempts}
	})

	switch {
	case err == nil:
		s.metrics.OTP(metrics.OTPVerified)
		s.log.Info(ctx, "otp verified", "user", sess.UserID, "session", sess.ID)
	case errors.Is(err, common.ErrOtpMismatch):
		s.metrics.OTP(metrics.OTPMismatch)
	case errors.Is(err, common.ErrOtpExpired):
		s.metrics.OTP(metrics.OTPExpired)
	case errors.Is(err, common.ErrOtpAttemptsExceeded):
		s.metrics.OTP(metrics.OTPExhausted)
	}
	return sess, err
}

// Session returns the live session with the given id.
func (s *AuthService) Session(ctx context.Context, sessionID string) (*models.CredentialSession, error) {
	return s.sessions.Get(ctx, sessionID)
}

// Logout destroys the session.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return err
	}
	s.log.Info(ctx, "logged out", "session", sessionID)
	return nil
}

// SetShiftIdentity stores the names printed on documents for this shift.
// All three names are required and the session must be verified.
func (s *AuthService) SetShiftIdentity(ctx context.Context, sessionID string, shift models.ShiftIdentity) (*models.CredentialSession, error) {
	shift = models.ShiftIdentity{
		PreparedBy: strings.TrimSpace(shift.PreparedBy),
		IssuedBy:   strings.TrimSpace(shift.IssuedBy),
		SignedBy:   strings.TrimSpace(shift.SignedBy),
	}
	if !shift.Complete() {
		return nil, fmt.Errorf("%w: prepared by, issued by and signed by are required", common.ErrValidation)
	}

	return s.sessions.Update(ctx, sessionID, func(cs *models.CredentialSession) (bool, error) {
		if !cs.Authorized(s.now()) {
			return false, common.ErrorUnauthorized
		}
		cs.Shift = shift
		return true, nil
	})
}
