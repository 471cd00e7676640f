package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jambasimaging/bizdesk/internal/server/http/middleware"
	"github.com/jambasimaging/bizdesk/internal/server/models"
	"github.com/jambasimaging/bizdesk/internal/server/services"
	"github.com/shopspring/decimal"
)

type invoiceRequest struct {
	ClientID int64            `json:"client_id" binding:"required"`
	BranchID *int64           `json:"branch_id"`
	Currency string           `json:"currency"`
	VATRate  *decimal.Decimal `json:"vat_rate"`
	DueAt    *time.Time       `json:"due_at"`
	Notes    string           `json:"notes"`
	Issue    bool             `json:"issue"`
}

type itemRequest struct {
	Kind        models.ItemKind `json:"kind" binding:"required,oneof=product service"`
	ProductID   *int64          `json:"product_id"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

type paymentRequest struct {
	Method      models.PaymentMethod `json:"method" binding:"required"`
	MethodOther string               `json:"method_other"`
	Amount      decimal.Decimal      `json:"amount"`
	Reference   string               `json:"reference"`
	PaidAt      *time.Time           `json:"paid_at"`
	Notes       string               `json:"notes"`
}

func (r paymentRequest) input() services.PaymentInput {
	in := services.PaymentInput{
		Method:      r.Method,
		MethodOther: r.MethodOther,
		Amount:      r.Amount,
		Reference:   r.Reference,
		Notes:       r.Notes,
	}
	if r.PaidAt != nil {
		in.PaidAt = *r.PaidAt
	}
	return in
}

type refundRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason"`
	RefundedAt *time.Time      `json:"refunded_at"`
}

// invoiceID parses the :id parameter, answering 400 itself on failure.
func (h *Handler) invoiceID(c *gin.Context) (int64, bool) {
	id, err := idParam(c, "id")
	if err != nil {
		h.badRequest(c, err)
		return 0, false
	}
	return id, true
}

func (h *Handler) childID(c *gin.Context, name string) (int64, int64, bool) {
	invoiceID, ok := h.invoiceID(c)
	if !ok {
		return 0, 0, false
	}
	id, err := idParam(c, name)
	if err != nil {
		h.badRequest(c, err)
		return 0, 0, false
	}
	return invoiceID, id, true
}

// CreateInvoice opens a draft invoice, or an issued one with "issue". The
// names of the current shift are printed on it.
func (h *Handler) CreateInvoice(c *gin.Context) {
	var req invoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	in := services.NewInvoice{
		ClientID: req.ClientID,
		BranchID: req.BranchID,
		Currency: req.Currency,
		VATRate:  req.VATRate,
		DueAt:    req.DueAt,
		Notes:    req.Notes,
		Issue:    req.Issue,
	}
	if s, ok := middleware.CurrentSession(c); ok {
		in.PreparedBy = s.Shift.PreparedBy
		in.SignedBy = s.Shift.SignedBy
	}

	inv, err := h.ledger.CreateInvoice(c.Request.Context(), actor(c), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"invoice": newInvoiceView(inv)})
}

// Invoice returns an invoice with its lines, payments, refunds and totals.
func (h *Handler) Invoice(c *gin.Context) {
	id, ok := h.invoiceID(c)
	if !ok {
		return
	}
	d, err := h.ledger.InvoiceDetail(c.Request.Context(), actor(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	v := invoiceDetailView{
		Invoice: newInvoiceView(d.Invoice),
		State:   d.State,
		Totals: totalsView{
			Subtotal:   d.Totals.Subtotal,
			VAT:        d.Totals.VAT,
			Total:      d.Totals.Total,
			Paid:       d.Totals.Paid,
			Refunded:   d.Totals.Refunded,
			NetPaid:    d.Totals.NetPaid(),
			BalanceDue: d.Totals.Balance(),
		},
		Items:    make([]itemView, 0, len(d.Items)),
		Payments: make([]paymentView, 0, len(d.Payments)),
		Refunds:  make([]refundView, 0, len(d.Refunds)),
	}
	for _, it := range d.Items {
		v.Items = append(v.Items, newItemView(it))
	}
	for _, p := range d.Payments {
		v.Payments = append(v.Payments, newPaymentView(p))
	}
	for _, r := range d.Refunds {
		v.Refunds = append(v.Refunds, newRefundView(r))
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) AddItem(c *gin.Context) {
	id, ok := h.invoiceID(c)
	if !ok {
		return
	}
	var req itemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	it, tr, err := h.ledger.AddItem(c.Request.Context(), actor(c), id, services.NewItem{
		Kind:        req.Kind,
		ProductID:   req.ProductID,
		Description: req.Description,
		Quantity:    req.Quantity,
		UnitPrice:   req.UnitPrice,
		UnitCost:    req.UnitCost,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"item": newItemView(it), "transition": newTransitionView(tr)})
}

func (h *Handler) DeleteItem(c *gin.Context) {
	invoiceID, itemID, ok := h.childID(c, "item")
	if !ok {
		return
	}
	tr, err := h.ledger.DeleteItem(c.Request.Context(), actor(c), invoiceID, itemID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transition": newTransitionView(tr)})
}

func (h *Handler) RecordPayment(c *gin.Context) {
	id, ok := h.invoiceID(c)
	if !ok {
		return
	}
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	p, tr, err := h.ledger.RecordPayment(c.Request.Context(), actor(c), id, req.input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"payment": newPaymentView(p), "transition": newTransitionView(tr)})
}

func (h *Handler) UpdatePayment(c *gin.Context) {
	invoiceID, paymentID, ok := h.childID(c, "payment")
	if !ok {
		return
	}
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	p, tr, err := h.ledger.UpdatePayment(c.Request.Context(), actor(c), invoiceID, paymentID, req.input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": newPaymentView(p), "transition": newTransitionView(tr)})
}

func (h *Handler) VoidPayment(c *gin.Context) {
	invoiceID, paymentID, ok := h.childID(c, "payment")
	if !ok {
		return
	}
	tr, err := h.ledger.VoidPayment(c.Request.Context(), actor(c), invoiceID, paymentID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transition": newTransitionView(tr)})
}

func (h *Handler) DeletePayment(c *gin.Context) {
	invoiceID, paymentID, ok := h.childID(c, "payment")
	if !ok {
		return
	}
	tr, err := h.ledger.DeletePayment(c.Request.Context(), actor(c), invoiceID, paymentID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transition": newTransitionView(tr)})
}

func (h *Handler) RecordRefund(c *gin.Context) {
	invoiceID, paymentID, ok := h.childID(c, "payment")
	if !ok {
		return
	}
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	in := services.RefundInput{Amount: req.Amount, Reason: req.Reason}
	if req.RefundedAt != nil {
		in.RefundedAt = *req.RefundedAt
	}
	r, tr, err := h.ledger.RecordRefund(c.Request.Context(), actor(c), invoiceID, paymentID, in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"refund": newRefundView(r), "transition": newTransitionView(tr)})
}

func (h *Handler) DeleteRefund(c *gin.Context) {
	invoiceID, refundID, ok := h.childID(c, "refund")
	if !ok {
		return
	}
	tr, err := h.ledger.DeleteRefund(c.Request.Context(), actor(c), invoiceID, refundID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transition": newTransitionView(tr)})
}

func (h *Handler) CancelInvoice(c *gin.Context) {
	id, ok := h.invoiceID(c)
	if !ok {
		return
	}
	tr, err := h.ledger.CancelInvoice(c.Request.Context(), actor(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transition": newTransitionView(tr)})
}
