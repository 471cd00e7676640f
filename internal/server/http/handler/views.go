package handler

import (
	"time"

	"github.com/jambasimaging/bizdesk/internal/server/models"
	"github.com/jambasimaging/bizdesk/internal/server/services"
	"github.com/shopspring/decimal"
)

type sessionView struct {
	State             models.SessionState   `json:"state"`
	Identity          string                `json:"identity,omitempty"`
	Role              models.Role           `json:"role,omitempty"`
	ExpiresAt         *time.Time            `json:"expires_at,omitempty"`
	OTPExpiresAt      *time.Time            `json:"otp_expires_at,omitempty"`
	ResendAvailableAt *time.Time            `json:"resend_available_at,omitempty"`
	Shift             *models.ShiftIdentity `json:"shift,omitempty"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func newSessionView(s *models.CredentialSession) sessionView {
	if s == nil {
		return sessionView{State: models.StateAnonymous}
	}
	v := sessionView{
		State:     s.State(),
		Identity:  s.Identity,
		Role:      s.Role,
		ExpiresAt: timePtr(s.ExpiresAt),
	}
	if s.State() == models.StateOtpPending {
		v.OTPExpiresAt = timePtr(s.OTPExpiresAt)
		v.ResendAvailableAt = timePtr(s.ResendAvailableAt)
	}
	if s.Verified {
		shift := s.Shift
		v.Shift = &shift
	}
	return v
}

type transitionView struct {
	Previous models.PaymentState `json:"previous"`
	Current  models.PaymentState `json:"current"`
	Ledger   string              `json:"ledger"`
}

func newTransitionView(t services.Transition) transitionView {
	return transitionView{Previous: t.Previous, Current: t.Current, Ledger: string(t.Action)}
}

type invoiceView struct {
	ID         int64               `json:"id"`
	Number     string              `json:"number"`
	ClientID   int64               `json:"client_id"`
	BranchID   *int64              `json:"branch_id,omitempty"`
	Currency   string              `json:"currency"`
	VATRate    decimal.Decimal     `json:"vat_rate"`
	Status     models.PaymentState `json:"status"`
	IssuedAt   *time.Time          `json:"issued_at,omitempty"`
	DueAt      *time.Time          `json:"due_at,omitempty"`
	Notes      string              `json:"notes,omitempty"`
	PreparedBy string              `json:"prepared_by,omitempty"`
	SignedBy   string              `json:"signed_by,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

func newInvoiceView(inv *models.Invoice) invoiceView {
	return invoiceView{
		ID:         inv.ID,
		Number:     inv.Number,
		ClientID:   inv.ClientID,
		BranchID:   inv.BranchID,
		Currency:   inv.Currency,
		VATRate:    inv.VATRate,
		Status:     inv.Status,
		IssuedAt:   inv.IssuedAt,
		DueAt:      inv.DueAt,
		Notes:      inv.Notes,
		PreparedBy: inv.PreparedBy,
		SignedBy:   inv.SignedBy,
		CreatedAt:  inv.CreatedAt,
	}
}

type itemView struct {
	ID          int64           `json:"id"`
	Kind        models.ItemKind `json:"kind"`
	ProductID   *int64          `json:"product_id,omitempty"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

func newItemView(it *models.InvoiceItem) itemView {
	return itemView{
		ID:          it.ID,
		Kind:        it.Kind,
		ProductID:   it.ProductID,
		Description: it.Description,
		Quantity:    it.Quantity,
		UnitPrice:   it.UnitPrice,
		UnitCost:    it.UnitCost,
		LineTotal:   it.LineTotal(),
	}
}

type paymentView struct {
	ID            int64                `json:"id"`
	Method        models.PaymentMethod `json:"method"`
	MethodLabel   string               `json:"method_label"`
	Amount        decimal.Decimal      `json:"amount"`
	ReceiptNumber string               `json:"receipt_number"`
	Reference     string               `json:"reference,omitempty"`
	PaidAt        time.Time            `json:"paid_at"`
	Notes         string               `json:"notes,omitempty"`
	Voided        bool                 `json:"voided"`
}

func newPaymentView(p *models.Payment) paymentView {
	return paymentView{
		ID:            p.ID,
		Method:        p.Method,
		MethodLabel:   p.MethodLabel(),
		Amount:        p.Amount,
		ReceiptNumber: p.ReceiptNumber,
		Reference:     p.Reference,
		PaidAt:        p.PaidAt,
		Notes:         p.Notes,
		Voided:        p.Voided,
	}
}

type refundView struct {
	ID         int64           `json:"id"`
	PaymentID  int64           `json:"payment_id"`
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason,omitempty"`
	RefundedAt time.Time       `json:"refunded_at"`
}

func newRefundView(r *models.Refund) refundView {
	return refundView{ID: r.ID, PaymentID: r.PaymentID, Amount: r.Amount, Reason: r.Reason, RefundedAt: r.RefundedAt}
}

type totalsView struct {
	Subtotal   decimal.Decimal `json:"subtotal"`
	VAT        decimal.Decimal `json:"vat"`
	Total      decimal.Decimal `json:"total"`
	Paid       decimal.Decimal `json:"paid"`
	Refunded   decimal.Decimal `json:"refunded"`
	NetPaid    decimal.Decimal `json:"net_paid"`
	BalanceDue decimal.Decimal `json:"balance_due"`
}

type invoiceDetailView struct {
	Invoice  invoiceView         `json:"invoice"`
	State    models.PaymentState `json:"state"`
	Totals   totalsView          `json:"totals"`
	Items    []itemView          `json:"items"`
	Payments []paymentView       `json:"payments"`
	Refunds  []refundView        `json:"refunds"`
}

type profitRecordView struct {
	InvoiceID      int64           `json:"invoice_id"`
	InvoiceNumber  string          `json:"invoice_number"`
	BranchID       *int64          `json:"branch_id,omitempty"`
	Currency       string          `json:"currency"`
	ProductSales   decimal.Decimal `json:"product_sales"`
	ServiceSales   decimal.Decimal `json:"service_sales"`
	Refunds        decimal.Decimal `json:"refunds"`
	Revenue        decimal.Decimal `json:"revenue"`
	CostOfGoods    decimal.Decimal `json:"cost_of_goods"`
	CostOfServices decimal.Decimal `json:"cost_of_services"`
	GrossProfit    decimal.Decimal `json:"gross_profit"`
	PaidAt         time.Time       `json:"paid_at"`
}

func newProfitRecordView(r *models.ProfitRecord) profitRecordView {
	return profitRecordView{
		InvoiceID:      r.InvoiceID,
		InvoiceNumber:  r.InvoiceNumber,
		BranchID:       r.BranchID,
		Currency:       r.Currency,
		ProductSales:   r.ProductSales,
		ServiceSales:   r.ServiceSales,
		Refunds:        r.Refunds,
		Revenue:        r.Revenue,
		CostOfGoods:    r.CostOfGoods,
		CostOfServices: r.CostOfServices,
		GrossProfit:    r.GrossProfit,
		PaidAt:         r.PaidAt,
	}
}

type profitSummaryView struct {
	Currency       string          `json:"currency"`
	Invoices       int             `json:"invoices"`
	Revenue        decimal.Decimal `json:"revenue"`
	CostOfGoods    decimal.Decimal `json:"cost_of_goods"`
	CostOfServices decimal.Decimal `json:"cost_of_services"`
	GrossProfit    decimal.Decimal `json:"gross_profit"`
}

type mismatchView struct {
	InvoiceID     int64               `json:"invoice_id"`
	InvoiceNumber string              `json:"invoice_number"`
	Status        models.PaymentState `json:"status"`
	Records       int                 `json:"records"`
}

type loginAuditView struct {
	ID        int64     `json:"id"`
	UserID    *int64    `json:"user_id,omitempty"`
	Email     string    `json:"email"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
