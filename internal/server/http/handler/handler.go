// Package handler implements the HTTP endpoints on top of the services.
package handler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jambasimaging/bizdesk/internal/logging"
	"github.com/jambasimaging/bizdesk/internal/server/access"
	"github.com/jambasimaging/bizdesk/internal/server/http/middleware"
	"github.com/jambasimaging/bizdesk/internal/server/models"
	"github.com/jambasimaging/bizdesk/internal/server/services"
)

// Authenticator is the login flow.
type Authenticator interface {
	VerifyPassword(ctx context.Context, identity, password string, client models.ClientInfo, previousSessionID string) (*models.CredentialSession, error)
	IssueOTP(ctx context.Context, sessionID string) (*services.OTPDispatch, error)
	VerifyOTP(ctx context.Context, sessionID, candidate string) (*models.CredentialSession, error)
	Logout(ctx context.Context, sessionID string) error
	SetShiftIdentity(ctx context.Context, sessionID string, shift models.ShiftIdentity) (*models.CredentialSession, error)
}

// Ledger is the invoice and payment workflow.
type Ledger interface {
	CreateInvoice(ctx context.Context, actor access.Actor, in services.NewInvoice) (*models.Invoice, error)
	AddItem(ctx context.Context, actor access.Actor, invoiceID int64, in services.NewItem) (*models.InvoiceItem, services.Transition, error)
	DeleteItem(ctx context.Context, actor access.Actor, invoiceID, itemID int64) (services.Transition, error)
	RecordPayment(ctx context.Context, actor access.Actor, invoiceID int64, in services.PaymentInput) (*models.Payment, services.Transition, error)
	UpdatePayment(ctx context.Context, actor access.Actor, invoiceID, paymentID int64, in services.PaymentInput) (*models.Payment, services.Transition, error)
	VoidPayment(ctx context.Context, actor access.Actor, invoiceID, paymentID int64) (services.Transition, error)
	DeletePayment(ctx context.Context, actor access.Actor, invoiceID, paymentID int64) (services.Transition, error)
	RecordRefund(ctx context.Context, actor access.Actor, invoiceID, paymentID int64, in services.RefundInput) (*models.Refund, services.Transition, error)
	DeleteRefund(ctx context.Context, actor access.Actor, invoiceID, refundID int64) (services.Transition, error)
	CancelInvoice(ctx context.Context, actor access.Actor, invoiceID int64) (services.Transition, error)
	InvoiceDetail(ctx context.Context, actor access.Actor, invoiceID int64) (*services.InvoiceDetail, error)
}

// Reports reads the profit ledger and the login audit.
type Reports interface {
	ProfitSummary(ctx context.Context, actor access.Actor, f models.ProfitFilter) ([]*models.ProfitSummary, error)
	ProfitRecords(ctx context.Context, actor access.Actor, f models.ProfitFilter) ([]*models.ProfitRecord, error)
	ExportProfitCSV(ctx context.Context, actor access.Actor, f models.ProfitFilter) (*services.Export, error)
	AuditLedger(ctx context.Context, actor access.Actor) ([]*models.LedgerMismatch, error)
	LoginAudit(ctx context.Context, actor access.Actor, limit int) ([]*models.LoginAuditEvent, error)
}

// CookieSettings control the session cookie.
type CookieSettings struct {
	Secret []byte
	Secure bool
	TTL    time.Duration
}

// Handler holds the dependencies of every endpoint.
type Handler struct {
	auth    Authenticator
	ledger  Ledger
	reports Reports
	cookie  CookieSettings
	log     logging.Logger
}

func New(auth Authenticator, ledger Ledger, reports Reports, cookie CookieSettings, log logging.Logger) *Handler {
	return &Handler{
		auth:    auth,
		ledger:  ledger,
		reports: reports,
		cookie:  cookie,
		log:     log.With("module", "handler"),
	}
}

// actor is the staff member behind the request. The gate guarantees a
// verified session on every route that calls it.
func actor(c *gin.Context) access.Actor {
	s, ok := middleware.CurrentSession(c)
	if !ok {
		return access.Actor{}
	}
	return access.ActorFromSession(s)
}

// backOfficeActor is the actor of requests that passed HTTP Basic auth.
func backOfficeActor() access.Actor {
	return access.Actor{Role: models.RoleAdmin}
}

func idParam(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, c.Param(name))
	}
	return id, nil
}

func clientInfo(c *gin.Context) models.ClientInfo {
	return models.ClientInfo{IP: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}
