package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// LedgerAudit lists invoices whose profit records disagree with their
// payment state. Operators repair them by hand.
func (h *Handler) LedgerAudit(c *gin.Context) {
	found, err := h.reports.AuditLedger(c.Request.Context(), backOfficeActor())
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make([]mismatchView, 0, len(found))
	for _, m := range found {
		out = append(out, mismatchView{
			InvoiceID:     m.InvoiceID,
			InvoiceNumber: m.InvoiceNumber,
			Status:        m.Status,
			Records:       m.Records,
		})
	}
	c.JSON(http.StatusOK, gin.H{"mismatches": out})
}

// LoginAudit lists recent password attempts, newest first.
func (h *Handler) LoginAudit(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	events, err := h.reports.LoginAudit(c.Request.Context(), backOfficeActor(), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make([]loginAuditView, 0, len(events))
	for _, e := range events {
		out = append(out, loginAuditView{
			ID:        e.ID,
			UserID:    e.UserID,
			Email:     e.Email,
			IP:        e.IP,
			UserAgent: e.UserAgent,
			Success:   e.Success,
			Reason:    e.Reason,
			CreatedAt: e.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

// Health answers liveness probes.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
