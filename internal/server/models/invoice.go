package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentState is the derived settlement state of an invoice.
type PaymentState string

const (
	StateDraft         PaymentState = "draft"
	StateUnpaid        PaymentState = "unpaid"
	StatePartiallyPaid PaymentState = "partially_paid"
	StatePaid          PaymentState = "paid"
	StateCancelled     PaymentState = "cancelled"
)

// Invoice is the header row. Status caches the last derived PaymentState and
// is rewritten in the same transaction as every mutation under the invoice.
type Invoice struct {
	ID         int64
	Number     string
	ClientID   int64
	BranchID   *int64
	Currency   string
	VATRate    decimal.Decimal
	Status     PaymentState
	Cancelled  bool
	IssuedAt   *time.Time
	DueAt      *time.Time
	Notes      string
	CreatedBy  *int64
	PreparedBy string
	SignedBy   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Issued reports whether the invoice has left draft.
func (i *Invoice) Issued() bool {
	return i.IssuedAt != nil
}

// ItemKind splits line items for cost and revenue reporting.
type ItemKind string

const (
	ItemProduct ItemKind = "product"
	ItemService ItemKind = "service"
)

// InvoiceItem is one line. UnitCost is captured when the line is created and
// never refreshed from the product afterwards.
type InvoiceItem struct {
	ID          int64
	InvoiceID   int64
	Kind        ItemKind
	ProductID   *int64
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	UnitCost    decimal.Decimal
	CreatedAt   time.Time
}

// LineTotal is quantity × unit price, rounded to cents.
func (it *InvoiceItem) LineTotal() decimal.Decimal {
	return it.Quantity.Mul(it.UnitPrice).Round(2)
}

// LineCost is quantity × snapshotted unit cost, rounded to cents.
func (it *InvoiceItem) LineCost() decimal.Decimal {
	return it.Quantity.Mul(it.UnitCost).Round(2)
}

// PaymentMethod is how money was received.
type PaymentMethod string

const (
	MethodCash        PaymentMethod = "cash"
	MethodBank        PaymentMethod = "bank"
	MethodMobileMoney PaymentMethod = "mobile_money"
	MethodOther       PaymentMethod = "other"
)

// Valid reports whether m is a known method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodBank, MethodMobileMoney, MethodOther:
		return true
	}
	return false
}

// Payment is money received against an invoice. Voided payments are kept for
// audit but excluded from every sum.
type Payment struct {
	ID            int64
	InvoiceID     int64
	Method        PaymentMethod
	MethodOther   string
	Amount        decimal.Decimal
	ReceiptNumber string
	Reference     string
	PaidAt        time.Time
	RecordedBy    *int64
	Notes         string
	Voided        bool
	VoidedAt      *time.Time
	CreatedAt     time.Time
}

// MethodLabel is the human label, using the free-text label for "other".
func (p *Payment) MethodLabel() string {
	switch p.Method {
	case MethodCash:
		return "Cash"
	case MethodBank:
		return "Bank"
	case MethodMobileMoney:
		return "Mobile Money"
	default:
		if p.MethodOther != "" {
			return p.MethodOther
		}
		return "Other"
	}
}

// Refund returns part or all of a payment.
type Refund struct {
	ID         int64
	InvoiceID  int64
	PaymentID  int64
	Amount     decimal.Decimal
	Reason     string
	RefundedAt time.Time
	RecordedBy *int64
	CreatedAt  time.Time
}

// Product is read when adding product lines, for price defaults and the
// cost snapshot.
type Product struct {
	ID        int64
	SKU       string
	Name      string
	UnitPrice decimal.Decimal
	CostPrice decimal.Decimal
}
