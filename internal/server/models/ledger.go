package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProfitRecord is the recognised profit of one currently-paid invoice.
type ProfitRecord struct {
	ID               int64
	InvoiceID        int64
	InvoiceNumber    string
	BranchID         *int64
	Currency         string
	ProductSales     decimal.Decimal
	ServiceSales     decimal.Decimal
	Refunds          decimal.Decimal
	Revenue          decimal.Decimal
	CostOfGoods      decimal.Decimal
	CostOfServices   decimal.Decimal
	GrossProfit      decimal.Decimal
	PaidAt           time.Time
	TriggerPaymentID *int64
	RecordedAt       time.Time
	UpdatedAt        time.Time
}

// ProfitFilter narrows profit queries. Zero values mean "no bound".
type ProfitFilter struct {
	BranchID *int64
	Currency string
	From     time.Time
	To       time.Time
}

// ProfitSummary aggregates profit records for one currency.
type ProfitSummary struct {
	Currency       string
	Invoices       int
	Revenue        decimal.Decimal
	CostOfGoods    decimal.Decimal
	CostOfServices decimal.Decimal
	GrossProfit    decimal.Decimal
}

// LedgerMismatch is an invoice whose profit records disagree with its state.
type LedgerMismatch struct {
	InvoiceID     int64
	InvoiceNumber string
	Status        PaymentState
	Records       int
}
