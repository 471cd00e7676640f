package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jambasimaging/bizdesk/internal/common"
	"github.com/jambasimaging/bizdesk/internal/server/auth"
	"github.com/jambasimaging/bizdesk/internal/server/http/middleware"
	"github.com/jambasimaging/bizdesk/internal/server/models"
)

type loginRequest struct {
	Identity string `json:"identity" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type otpRequest struct {
	Code string `json:"code" binding:"required"`
}

type shiftRequest struct {
	PreparedBy string `json:"prepared_by"`
	IssuedBy   string `json:"issued_by"`
	SignedBy   string `json:"signed_by"`
}

func (h *Handler) setSessionCookie(c *gin.Context, s *models.CredentialSession) error {
	token, err := auth.GenerateToken(s.ID, h.cookie.Secret, s.ExpiresAt)
	if err != nil {
		return err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(common.SessionCookieName, token, int(h.cookie.TTL.Seconds()), "/", "", h.cookie.Secure, true)
	return nil
}

func (h *Handler) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(common.SessionCookieName, "", -1, "/", "", h.cookie.Secure, true)
}

// LoginState reports where the caller is in the login flow.
func (h *Handler) LoginState(c *gin.Context) {
	s, _ := middleware.CurrentSession(c)
	c.JSON(http.StatusOK, gin.H{"session": newSessionView(s)})
}

// Login checks the password and mails the first one-time code.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	var previous string
	if s, ok := middleware.CurrentSession(c); ok {
		previous = s.ID
	}

	ctx := c.Request.Context()
	sess, err := h.auth.VerifyPassword(ctx, req.Identity, req.Password, clientInfo(c), previous)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.setSessionCookie(c, sess); err != nil {
		h.respondError(c, err)
		return
	}

	d, err := h.auth.IssueOTP(ctx, sess.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":       newSessionView(d.Session),
		"otp_delivered": d.Delivered(),
		"redirect":      middleware.OTPPath,
	})
}

// OTPState reports the outstanding code's deadlines.
func (h *Handler) OTPState(c *gin.Context) {
	s, _ := middleware.CurrentSession(c)
	c.JSON(http.StatusOK, gin.H{"session": newSessionView(s)})
}

// VerifyOTP completes the login with the mailed code.
func (h *Handler) VerifyOTP(c *gin.Context) {
	s, ok := middleware.CurrentSession(c)
	if !ok {
		h.respondError(c, common.ErrSessionNotFound)
		return
	}
	var req otpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	sess, err := h.auth.VerifyOTP(c.Request.Context(), s.ID, req.Code)
	if err != nil {
		h.respondError(c, err)
		return
	}
	middleware.SetSession(c, sess)
	c.JSON(http.StatusOK, gin.H{"session": newSessionView(sess), "redirect": "/accounts/shift-identity/"})
}

// ResendOTP replaces the outstanding code once the cooldown has passed.
func (h *Handler) ResendOTP(c *gin.Context) {
	s, ok := middleware.CurrentSession(c)
	if !ok {
		h.respondError(c, common.ErrSessionNotFound)
		return
	}
	d, err := h.auth.IssueOTP(c.Request.Context(), s.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": newSessionView(d.Session), "otp_delivered": d.Delivered()})
}

// Logout destroys the session and clears the cookie.
func (h *Handler) Logout(c *gin.Context) {
	if s, ok := middleware.CurrentSession(c); ok {
		if err := h.auth.Logout(c.Request.Context(), s.ID); err != nil && !errors.Is(err, common.ErrSessionNotFound) {
			h.respondError(c, err)
			return
		}
	}
	h.clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"redirect": middleware.LoginPath})
}

// ShiftIdentity returns the names printed on this shift's documents.
func (h *Handler) ShiftIdentity(c *gin.Context) {
	s, _ := middleware.CurrentSession(c)
	c.JSON(http.StatusOK, gin.H{"shift": s.Shift, "complete": s.Shift.Complete()})
}

// SetShiftIdentity stores the names printed on this shift's documents.
func (h *Handler) SetShiftIdentity(c *gin.Context) {
	s, _ := middleware.CurrentSession(c)
	var req shiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	sess, err := h.auth.SetShiftIdentity(c.Request.Context(), s.ID, models.ShiftIdentity{
		PreparedBy: req.PreparedBy,
		IssuedBy:   req.IssuedBy,
		SignedBy:   req.SignedBy,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shift": sess.Shift, "complete": true})
}
