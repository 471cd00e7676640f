package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jambasimaging/bizdesk/internal/common"
)

// statusFor maps service errors to an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrAuthenticationFailed):
		return http.StatusUnauthorized, "authentication_failed"
	case errors.Is(err, common.ErrAccountLocked):
		return http.StatusTooManyRequests, "account_locked"
	case errors.Is(err, common.ErrResendTooSoon):
		return http.StatusTooManyRequests, "otp_resend_too_soon"
	case errors.Is(err, common.ErrOtpExpired):
		return http.StatusBadRequest, "otp_expired"
	case errors.Is(err, common.ErrOtpMismatch):
		return http.StatusBadRequest, "otp_mismatch"
	case errors.Is(err, common.ErrOtpAttemptsExceeded):
		return http.StatusBadRequest, "otp_attempts_exceeded"
	case errors.Is(err, common.ErrNoOtpIssued):
		return http.StatusConflict, "no_otp_issued"
	case errors.Is(err, common.ErrAlreadyVerified):
		return http.StatusConflict, "already_verified"
	case errors.Is(err, common.ErrPasswordNotVerified),
		errors.Is(err, common.ErrSessionNotFound),
		errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, common.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, common.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, common.ErrRefundExceedsPayment):
		return http.StatusConflict, "refund_exceeds_payment"
	case errors.Is(err, common.ErrPaymentHasRefunds):
		return http.StatusConflict, "payment_has_refunds"
	case errors.Is(err, common.ErrPaymentVoided):
		return http.StatusConflict, "payment_voided"
	case errors.Is(err, common.ErrInvoiceCancelled):
		return http.StatusConflict, "invoice_cancelled"
	case errors.Is(err, common.ErrInconsistentLedgerState):
		return http.StatusInternalServerError, "inconsistent_ledger_state"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// respondError writes err as JSON. Internal failures are logged and reported
// without detail.
func (h *Handler) respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	body := gin.H{"error": code, "message": err.Error()}

	var (
		locked   *common.LockedError
		cooldown *common.CooldownError
		mismatch *common.MismatchError
		ledger   *common.LedgerError
	)
	switch {
	case errors.As(err, &locked):
		body["retry_after"] = locked.Seconds()
		c.Header("Retry-After", strconv.Itoa(locked.Seconds()))
	case errors.As(err, &cooldown):
		body["retry_after"] = cooldown.Seconds()
		c.Header("Retry-After", strconv.Itoa(cooldown.Seconds()))
	case errors.As(err, &mismatch):
		body["attempts_left"] = mismatch.AttemptsLeft
	case errors.As(err, &ledger):
		body["invoice_id"] = ledger.InvoiceID
	}

	if status >= http.StatusInternalServerError {
		h.log.Error(c.Request.Context(), "request failed", "path", c.Request.URL.Path, "error", err)
		if code == "internal_error" {
			body["message"] = common.ErrorInternal.Error()
		}
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
}
