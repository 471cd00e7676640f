// Package invoicing holds the pure rules over an invoice: totals, the
// derived payment state and document numbering.
package invoicing

import (
	"fmt"
	"time"

	"github.com/jambasimaging/bizdesk/internal/server/models"
	"github.com/shopspring/decimal"
)

// Totals is everything DeriveState needs to know about an invoice.
type Totals struct {
	Subtotal  decimal.Decimal
	VAT       decimal.Decimal
	Total     decimal.Decimal
	Paid      decimal.Decimal // non-voided payments
	Refunded  decimal.Decimal
	Cancelled bool
	Issued    bool
}

// NetPaid is payments less refunds.
func (t Totals) NetPaid() decimal.Decimal {
	return t.Paid.Sub(t.Refunded)
}

// Balance is what is still owed; negative when overpaid.
func (t Totals) Balance() decimal.Decimal {
	return t.Total.Sub(t.NetPaid())
}

// Compute sums the invoice's lines, payments and refunds.
func Compute(inv *models.Invoice, lines []*models.InvoiceItem, pays []*models.Payment, refs []*models.Refund) Totals {
	t := Totals{Cancelled: inv.Cancelled, Issued: inv.Issued()}

	for _, it := range lines {
		t.Subtotal = t.Subtotal.Add(it.LineTotal())
	}
	t.Subtotal = t.Subtotal.Round(2)
	t.VAT = t.Subtotal.Mul(inv.VATRate).Round(2)
	t.Total = t.Subtotal.Add(t.VAT)

	for _, p := range pays {
		if p.Voided {
			continue
		}
		t.Paid = t.Paid.Add(p.Amount)
	}
	for _, r := range refs {
		t.Refunded = t.Refunded.Add(r.Amount)
	}
	return t
}

// DeriveState classifies the invoice. The first matching rule wins.
func DeriveState(t Totals) models.PaymentState {
	net := t.NetPaid()
	switch {
	case t.Cancelled:
		return models.StateCancelled
	case !t.Total.IsPositive():
		return models.StateDraft
	case net.GreaterThanOrEqual(t.Total):
		return models.StatePaid
	case net.IsPositive():
		return models.StatePartiallyPaid
	case !t.Issued:
		return models.StateDraft
	default:
		return models.StateUnpaid
	}
}

// InvoiceNumber formats the n-th invoice of year, e.g. INV-2026-00042.
func InvoiceNumber(year, n int) string {
	return fmt.Sprintf("INV-%d-%05d", year, n)
}

// ReceiptNumber formats a payment receipt from its paid-at day and id,
// e.g. RCPT-20260301-000123.
func ReceiptNumber(paidAt time.Time, paymentID int64) string {
	return fmt.Sprintf("RCPT-%s-%06d", paidAt.Format("20060102"), paymentID)
}
