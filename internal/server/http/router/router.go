// Package router assembles the gin engine: middleware order and routes.
package router

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/jambasimaging/bizdesk/internal/logging"
	"github.com/jambasimaging/bizdesk/internal/server/http/handler"
	"github.com/jambasimaging/bizdesk/internal/server/http/middleware"
	"github.com/jambasimaging/bizdesk/internal/server/metrics"
)

// Options configure the engine.
type Options struct {
	Secret []byte
	Policy middleware.GatePolicy
	// BackOffice are the HTTP Basic credentials of /admin/. Without them
	// the back-office routes are not registered.
	BackOffice gin.Accounts
	Debug      bool
}

// New builds the engine. Every request passes the session loader and then
// the OTP gate before reaching a handler.
func New(h *handler.Handler, sessions middleware.SessionReader, opts Options, log logging.Logger, mx *metrics.Metrics) *gin.Engine {
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	for _, e := range opts.Policy.ExemptPrefixes {
		log.Warn(context.Background(), "path exempt from otp gate", "prefix", e.Prefix, "reason", e.Reason)
	}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestLogger(log),
		middleware.Metrics(mx),
		middleware.LoadSession(sessions, opts.Secret),
		middleware.Gate(opts.Policy, log),
	)

	r.GET("/healthz", h.Health)

	accounts := r.Group("/accounts")
	{
		accounts.GET("/login", h.LoginState)
		accounts.POST("/login", h.Login)
		accounts.GET("/otp/", h.OTPState)
		accounts.POST("/otp/", h.VerifyOTP)
		accounts.POST("/otp/resend/", h.ResendOTP)
		accounts.POST("/logout/", h.Logout)
		accounts.GET("/shift-identity/", h.ShiftIdentity)
		accounts.POST("/shift-identity/", h.SetShiftIdentity)
	}

	invoices := r.Group("/invoices")
	{
		invoices.POST("/", h.CreateInvoice)
		invoices.GET("/:id/", h.Invoice)
		invoices.POST("/:id/items/", h.AddItem)
		invoices.DELETE("/:id/items/:item/", h.DeleteItem)
		invoices.POST("/:id/payments/", h.RecordPayment)
		invoices.PATCH("/:id/payments/:payment/", h.UpdatePayment)
		invoices.DELETE("/:id/payments/:payment/", h.DeletePayment)
		invoices.POST("/:id/payments/:payment/void/", h.VoidPayment)
		invoices.POST("/:id/payments/:payment/refund/", h.RecordRefund)
		invoices.DELETE("/:id/refunds/:refund/", h.DeleteRefund)
		invoices.POST("/:id/cancel/", h.CancelInvoice)
	}

	reports := r.Group("/reports")
	{
		reports.GET("/profit/", h.Profit)
		reports.POST("/profit/export/", h.ExportProfit)
	}

	if len(opts.BackOffice) > 0 {
		admin := r.Group("/admin", gin.BasicAuth(opts.BackOffice))
		{
			admin.GET("/ledger/audit/", h.LedgerAudit)
			admin.GET("/login-audit/", h.LoginAudit)
		}
	}

	return r
}
