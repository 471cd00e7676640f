package common

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")

	// Session token errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Authentication gate. ErrAuthenticationFailed is deliberately the only
	// error a caller sees for unknown identities and wrong passwords alike.
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrAccountLocked        = errors.New("account locked")
	ErrResendTooSoon        = errors.New("otp resend too soon")
	ErrOtpExpired           = errors.New("otp expired")
	ErrOtpMismatch          = errors.New("otp mismatch")
	ErrOtpAttemptsExceeded  = errors.New("otp attempts exceeded")
	ErrNoOtpIssued          = errors.New("no otp issued")
	ErrPasswordNotVerified  = errors.New("password not verified")
	ErrAlreadyVerified      = errors.New("session already verified")
	ErrSessionNotFound      = errors.New("session not found")

	// Ledger.
	ErrInconsistentLedgerState = errors.New("inconsistent ledger state")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrRefundExceedsPayment    = errors.New("refund exceeds payment")
	ErrPaymentHasRefunds       = errors.New("payment has refunds")
	ErrPaymentVoided           = errors.New("payment voided")
	ErrInvoiceCancelled        = errors.New("invoice cancelled")
	ErrValidation              = errors.New("validation error")
)

// ceilSeconds reports d in whole seconds, rounded up, never negative.
func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// LockedError is returned while an identity is inside its lockout window.
type LockedError struct {
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s: retry in %d seconds", ErrAccountLocked, e.Seconds())
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

// Seconds is the remaining lockout, rounded up.
func (e *LockedError) Seconds() int { return ceilSeconds(e.Remaining) }

// CooldownError is returned when an OTP resend is requested too early.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: retry in %d seconds", ErrResendTooSoon, e.Seconds())
}

func (e *CooldownError) Unwrap() error { return ErrResendTooSoon }

// Seconds is the remaining cooldown, rounded up.
func (e *CooldownError) Seconds() int { return ceilSeconds(e.Remaining) }

// MismatchError reports a wrong OTP while attempts remain.
type MismatchError struct {
	AttemptsLeft int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: %d attempts left", ErrOtpMismatch, e.AttemptsLeft)
}

func (e *MismatchError) Unwrap() error { return ErrOtpMismatch }

// LedgerError describes an invoice whose profit records disagree with its
// payment state. It is surfaced to operators and never repaired in place.
type LedgerError struct {
	InvoiceID int64
	State     string
	Records   int
	Phase     string
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("%s: invoice %d in state %q has %d profit records (%s)",
		ErrInconsistentLedgerState, e.InvoiceID, e.State, e.Records, e.Phase)
}

func (e *LedgerError) Unwrap() error { return ErrInconsistentLedgerState }
