package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jambasimaging/bizdesk/internal/common"
	"github.com/jambasimaging/bizdesk/internal/dbx"
	"github.com/jambasimaging/bizdesk/internal/logging"
	"github.com/jambasimaging/bizdesk/internal/server/access"
	"github.com/jambasimaging/bizdesk/internal/server/invoicing"
	"github.com/jambasimaging/bizdesk/internal/server/ledger"
	"github.com/jambasimaging/bizdesk/internal/server/metrics"
	"github.com/jambasimaging/bizdesk/internal/server/models"
	"github.com/jambasimaging/bizdesk/internal/server/repositories/repomanager"
	"github.com/jambasimaging/bizdesk/internal/timex"
	"github.com/shopspring/decimal"
)

// Transition is the payment state change a mutation caused.
type Transition struct {
	Previous models.PaymentState
	Current  models.PaymentState
	Action   ledger.Action
}

// InvoiceDetail is an invoice with everything hanging off it.
type InvoiceDetail struct {
	Invoice  *models.Invoice
	Items    []*models.InvoiceItem
	Payments []*models.Payment
	Refunds  []*models.Refund
	Totals   invoicing.Totals
	State    models.PaymentState
}

// NewInvoice is the input of CreateInvoice.
type NewInvoice struct {
	ClientID   int64
	BranchID   *int64
	Currency   string
	VATRate    *decimal.Decimal
	DueAt      *time.Time
	Notes      string
	PreparedBy string
	SignedBy   string
	Issue      bool
}

// NewItem is the input of AddItem. For product lines the product's price and
// name fill in a zero UnitPrice and an empty Description.
type NewItem struct {
	Kind        models.ItemKind
	ProductID   *int64
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	UnitCost    decimal.Decimal
}

// PaymentInput is the input of RecordPayment and UpdatePayment. A zero
// PaidAt means now.
type PaymentInput struct {
	Method      models.PaymentMethod
	MethodOther string
	Amount      decimal.Decimal
	Reference   string
	PaidAt      time.Time
	Notes       string
}

// RefundInput is the input of RecordRefund.
type RefundInput struct {
	Amount     decimal.Decimal
	Reason     string
	RefundedAt time.Time
}

// LedgerSettings are the invoice defaults.
type LedgerSettings struct {
	DefaultVATRate  decimal.Decimal
	DefaultCurrency string
}

// LedgerService runs every invoice mutation as one unit of work: lock the
// invoice, mutate, re-derive the payment state, persist it and bring the
// profit ledger in step, all in one transaction.
type LedgerService struct {
	db          dbx.DBTX
	tx          dbx.Transactor
	repomanager repomanager.RepositoryManager
	sync        *ledger.Synchronizer
	settings    LedgerSettings
	log         logging.Logger
	metrics     *metrics.Metrics
	now         timex.Clock
}

func NewLedgerService(db dbx.DBTX, tx dbx.Transactor, m repomanager.RepositoryManager, settings LedgerSettings,
	log logging.Logger, mx *metrics.Metrics) *LedgerService {
	if settings.DefaultCurrency == "" {
		settings.DefaultCurrency = common.DefaultCurrency
	}
	s := &LedgerService{
		db:          db,
		tx:          tx,
		repomanager: m,
		settings:    settings,
		log:         log.With("module", "invoices"),
		metrics:     mx,
		now:         timex.SystemClock,
	}
	s.sync = ledger.NewSynchronizer(log, func() time.Time { return s.now() })
	return s
}

func allow(actor access.Actor, action access.Action, resource access.Resource) error {
	if !access.Can(actor, action, resource) {
		return common.ErrForbidden
	}
	return nil
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", common.ErrValidation, fmt.Sprintf(format, args...))
}

// mutation is the body of a unit of work. It returns the payment that
// triggered the change, if any.
type mutation func(ctx context.Context, tx dbx.DBTX, inv *models.Invoice) (trigger *int64, err error)

// mutate locks the invoice, applies fn and reconciles state and ledger.
func (s *LedgerService) mutate(ctx context.Context, invoiceID int64, fn mutation) (Transition, error) {
	var tr Transition
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		inv, err := s.repomanager.Invoices(tx).GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Cancelled {
			return common.ErrInvoiceCancelled
		}
		tr.Previous = inv.Status

		trigger, err := fn(ctx, tx, inv)
		if err != nil {
			return err
		}

		tr.Current, tr.Action, err = s.reconcile(ctx, tx, inv, tr.Previous, trigger)
		return err
	})
	if err != nil {
		var le *common.LedgerError
		if errors.As(err, &le) {
			s.metrics.LedgerInconsistency()
		}
		return Transition{}, err
	}
	s.metrics.LedgerAction(string(tr.Action))
	return tr, nil
}

// reconcile re-derives the state of inv from what is stored, persists it and
// hands the transition to the synchronizer.
func (s *LedgerService) reconcile(ctx context.Context, tx dbx.DBTX, inv *models.Invoice, prev models.PaymentState, trigger *int64) (models.PaymentState, ledger.Action, error) {
	lines, err := s.repomanager.Items(tx).ListByInvoice(ctx, inv.ID)
	if err != nil {
		return "", ledger.ActionNone, err
	}
	pays, err := s.repomanager.Payments(tx).ListByInvoice(ctx, inv.ID)
	if err != nil {
		return "", ledger.ActionNone, err
	}
	refs, err := s.repomanager.Refunds(tx).ListByInvoice(ctx, inv.ID)
	if err != nil {
		return "", ledger.ActionNone, err
	}

	next := invoicing.DeriveState(invoicing.Compute(inv, lines, pays, refs))
	inv.Status = next
	inv.UpdatedAt = s.now()
	if err := s.repomanager.Invoices(tx).UpdateState(ctx, inv); err != nil {
		return "", ledger.ActionNone, err
	}

	snap := ledger.Snapshot{
		Invoice: inv,
		Items:   lines,
		Refunds: refs,
		PaidAt:  lastPaidAt(pays, s.now()),
		Trigger: trigger,
	}
	action, err := s.sync.OnPaymentStateChanged(ctx, s.repomanager.Profits(tx), snap, prev, next)
	if err != nil {
		return "", ledger.ActionNone, err
	}
	return next, action, nil
}

// lastPaidAt is the latest paid-at among non-voided payments, or fallback.
func lastPaidAt(pays []*models.Payment, fallback time.Time) time.Time {
	var last time.Time
	for _, p := range pays {
		if !p.Voided && p.PaidAt.After(last) {
			last = p.PaidAt
		}
	}
	if last.IsZero() {
		return fallback
	}
	return last
}

// CreateInvoice numbers and stores a new invoice. Issue moves it out of
// draft straight away.
func (s *LedgerService) CreateInvoice(ctx context.Context, actor access.Actor, in NewInvoice) (*models.Invoice, error) {
	if err := allow(actor, access.Write, access.Invoices); err != nil {
		return nil, err
	}
	if in.ClientID <= 0 {
		return nil, validationf("client is required")
	}
	rate := s.settings.DefaultVATRate
	if in.VATRate != nil {
		rate = *in.VATRate
	}
	if rate.IsNegative() {
		return nil, validationf("vat rate must not be negative")
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = s.settings.DefaultCurrency
	}

	now := s.now()
	inv := &models.Invoice{
		ClientID:   in.ClientID,
		BranchID:   in.BranchID,
		Currency:   currency,
		VATRate:    rate,
		Status:     models.StateDraft,
		DueAt:      in.DueAt,
		Notes:      in.Notes,
		CreatedBy:  &actor.UserID,
		PreparedBy: in.PreparedBy,
		SignedBy:   in.SignedBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if in.Issue {
		inv.IssuedAt = &now
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		n, err := s.repomanager.Invoices(tx).NextNumber(ctx, now.Year())
		if err != nil {
			return err
		}
		inv.Number = invoicing.InvoiceNumber(now.Year(), n)
		return s.repomanager.Invoices(tx).Create(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "invoice created", "invoice", inv.Number, "user", actor.UserID)
	return inv, nil
}

// AddItem appends a line. Product lines capture the product's current cost
// price; the captured cost never changes afterwards.
func (s *LedgerService) AddItem(ctx context.Context, actor access.Actor, invoiceID int64, in NewItem) (*models.InvoiceItem, Transition, error) {
	if err := allow(actor, access.Write, access.Invoices); err != nil {
		return nil, Transition{}, err
	}
	if !in.Quantity.IsPositive() {
		return nil, Transition{}, validationf("quantity must be positive")
	}
	if in.UnitPrice.IsNegative() || in.UnitCost.IsNegative() {
		return nil, Transition{}, validationf("prices must not be negative")
	}

	item := &models.InvoiceItem{
		InvoiceID:   invoiceID,
		Kind:        in.Kind,
		Description: strings.TrimSpace(in.Description),
		Quantity:    in.Quantity,
		UnitPrice:   in.UnitPrice,
		UnitCost:    in.UnitCost,
	}
	if item.Kind == "" {
		item.Kind = models.ItemService
		if in.ProductID != nil {
			item.Kind = models.ItemProduct
		}
	}

	tr, err := s.mutate(ctx, invoiceID, func(ctx context.Context, tx dbx.DBTX, _ *models.Invoice) (*int64, error) {
		switch item.Kind {
		case models.ItemProduct:
			if in.ProductID == nil {
				return nil, validationf("product lines need a product")
			}
			p, err := s.repomanager.Products(tx).FindByID(ctx, *in.ProductID)
			if err != nil {
				return nil, err
			}
			item.ProductID = &p.ID
			item.UnitCost = p.CostPrice
			if item.UnitPrice.IsZero() {
				item.UnitPrice = p.UnitPrice
			}
			if item.Description == "" {
				item.Description = p.Name
			}
		case models.ItemService:
			if item.Description == "" {
				return nil, validationf("service lines need a description")
			}
		default:
			return nil, validationf("unknown item kind %q", item.Kind)
		}
		item.CreatedAt = s.now()
		return nil, s.repomanager.Items(tx).Create(ctx, item)
	})
	if err != nil {
		return nil, Transition{}, err
	}
	return item, tr, nil
}

// DeleteItem removes a line.
func (s *LedgerService) DeleteItem(ctx context.Context, actor access.Actor, invoiceID, itemID int64) (Transition, error) {
	if err := allow(actor, access.Write, access.Invoices); err != nil {
		return Transition{}, err
	}
	return s.mutate(ctx, invoiceID, func(ctx context.Context, tx dbx.DBTX, _ *models.Invoice) (*int64, error) {
		return nil, s.repomanager.Items(tx).Delete(ctx, invoiceID, itemID)
	})
}

func (s *LedgerService) checkPayment(in *PaymentInput) error {
	if !in.Amount.IsPositive() {
		return common.ErrInvalidAmount
	}
	if !in.Method.Valid() {
		return validationf("unknown payment method %q", in.Method)
	}
	in.MethodOther = strings.TrimSpace(in.MethodOther)
	if in.Method != models.MethodOther {
		in.MethodOther = ""
	}
	if in.PaidAt.IsZero() {
		in.PaidAt = s.now()
	}
	return nil
}

// RecordPayment stores money received and numbers its receipt. A payment
// against a draft invoice issues it.
func (s *LedgerService) RecordPayment(ctx context.Context, actor access.Actor, invoiceID int64, in PaymentInput) (*models.Payment, Transition, error) {
	if err := allow(actor, access.Write, access.Payments); err != nil {
		return nil, Transition{}, err
	}
	if err := s.checkPayment(&in); err != nil {
		return nil, Transition{}, err
	}

	p := &models.Payment{
		InvoiceID:   invoiceID,
		Method:      in.Method,
		MethodOther: in.MethodOther,
		Amount:      in.Amount,
		Reference:   strings.TrimSpace(in.Reference),
		PaidAt:      in.PaidAt,
		RecordedBy:  &actor.UserID,
		Notes:       in.Notes,
	}

	tr, err := s.mutate(ctx, invoiceID, func(ctx context.Context, tx dbx.DBTX, inv *models.Invoice) (*int64, error) {
		p.CreatedAt = s.now()
		repo := s.repomanager.Payments(tx)
		if err := repo.Create(ctx, p); err != nil {
			return nil, err
		}
		p.ReceiptNumber = invoicing.ReceiptNumber(p.PaidAt, p.ID)
		if err := repo.AssignReceipt(ctx, p.ID, p.ReceiptNumber); err != nil {
			return nil, err
		}
		if !inv.Issued() {
			at := s.now()
			inv.IssuedAt = &at
		}
		return &p.ID, nil
	})
	if err != nil {
		return nil, Transition{}, err
	}
	s.log.Info(ctx, "payment recorded", "invoice", invoiceID, "receipt", p.ReceiptNumber,
		"amount", p.Amount.String(), "state", string(tr.Current))
	return p, tr, nil
}

func refundedFor(refs []*models.Refund, paymentID int64) decimal.Decimal {
	total := decimal.Zero
	for _, r := range refs {
		if r.PaymentID == paymentID {
			total = total.Add(r.Amount)
		}
	}
	return total
}

// UpdatePayment edits a payment. The amount may not drop below what has
// already been refunded from it.
func (s *LedgerService) UpdatePayment(ctx context.Context, actor access.Actor, invoiceID, paymentID int64, in PaymentInput) (*models.Payment, Transition, error) {
	if err := allow(actor, access.Write, access.Payments); err != nil {
		return nil, Transition{}, err
	}
	if err := s.checkPayment(&in); err != nil {
		return nil, Transition{}, err
	}

	var p *models.Payment
	tr, err := s.mutate(ctx, invoiceID, func(ctx context.Context, tx dbx.DBTX, _ *models.Invoice) (*int64, error) {
		var err error
		p, err = s.repomanager.Payments(tx).Get(ctx, invoiceID, paymentID)
		if err != nil {
			return nil, err
		}
		if p.Voided {
			return nil, common.ErrPaymentVoided
		}
		refs, err := s.repomanager.Refunds(tx).ListByInvoice(ctx, invoiceID)
		if err != nil {
			return nil, err
		}
		if in.Amount.LessThan(refundedFor(refs, p.ID)) {
			return nil, common.ErrRefundExceedsPayment
		}

		p.Method = in.Method
		p.MethodOther = in.MethodOther
		p.Amount = in.Amount
		p.Reference = strings.TrimSpace(in.Reference)
		p.PaidAt = in.PaidAt
		p.Notes = in.Notes
		return &p.ID, s.repomanager.Payments(tx).Update(ctx, p)
	})
	if err != nil {
		return nil, Transition{}, err
	}
	return p, tr, nil
}

func (s *LedgerService) withoutRefunds(ctx context.Context, tx dbx.DBTX, invoiceID, paymentID int64) (*models.Payment, error) {
	p, err := s.repomanager.Payments(tx).Get(ctx, invoiceID, paymentID)
	if err != nil {
		return nil, err
	}
	refs, err := s.repomanager.Refunds(tx).ListByInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if refundedFor(refs, p.ID).IsPositive() {
		return nil, common.ErrPaymentHasRefunds
	}
	return p, nil
}

// VoidPayment keeps the payment for audit but drops it from every sum.
// Payments with refunds must have them removed first.
func (s *LedgerService) VoidPayment(ctx context.Context, actor access.Actor, invoiceID, paymentID int64) (Transition, error) {
	if err := allow(actor, access.Write, access.Payments); err != nil {
		return Transition{}, err
	}
	return s.mutate(ctx, invoiceID, func(ctx context.Context, tx dbx.DBTX, _ *models.Invoice) (*int64, error) {
		p, err := s.withoutRefunds(ctx, tx, invoiceID, paymentID)
		if err != nil {
			return nil, err
		}
		if p.Voided {
			return nil, common.ErrPaymentVoided
		}
		return &p.ID, s.repomanager.Payments(tx).Void(ctx, p.ID, s.now())
	})
}

// DeletePayment removes a payment without refunds.
func (s *LedgerService) DeletePayment(ctx context.Context, actor access.Actor, invoiceID, paymentID int64) (Transition, error) {
	if err := allow(actor, access.Write, access.Payments); err != nil {
		return Transition{}, err
	}
	return s.mutate(ctx, invoiceID, func(ctx context.Context, tx dbx.DBTX, _ *models.Invoice) (*int64, error) {
		p, err := s.withoutRefunds(ctx, tx, invoiceID, paymentID)
		if err != nil {
			return nil, err
		}
		return nil, s.repomanager.Payments(tx).Delete(ctx, invoiceID, p.ID)
	})
}

// RecordRefund returns money from a payment. Refunds of one payment never
// exceed its amount.
func (s *LedgerService) RecordRefund(ctx context.Context, actor access.Actor, invoiceID, paymentID int64, in RefundInput) (*models.Refund, Transition, error) {
	if err := allow(actor, access.Write, access.Payments); err != nil {
		return nil, Transition{}, err
	}
	if !in.Amount.IsPositive() {
		return nil, Transition{}, common.ErrInvalidAmount
	}

	rf := &models.Refund{
		InvoiceID:  invoiceID,
		PaymentID:  paymentID,
		Amount:     in.Amount,
		Reason:     strings.TrimSpace(in.Reason),
		RefundedAt: in.RefundedAt,
		RecordedBy: &actor.UserID,
	}
	tr, err := s.mutate(ctx, invoiceID, func(ctx context.Context, tx dbx.DBTX, _ *models.Invoice) (*int64, error) {
		p, err := s.repomanager.Payments(tx).Get(ctx, invoiceID, paymentID)
		if err != nil {
			return nil, err
		}
		if p.Voided {
			return nil, common.ErrPaymentVoided
		}
		refs, err := s.repomanager.Refunds(tx).ListByInvoice(ctx, invoiceID)
		if err != nil {
			return nil, err
		}
		if refundedFor(refs, p.ID).Add(rf.Amount).GreaterThan(p.Amount) {
			return nil, common.ErrRefundExceedsPayment
		}

		now := s.now()
		if rf.RefundedAt.IsZero() {
			rf.RefundedAt = now
		}
		rf.CreatedAt = now
		return &p.ID, s.repomanager.Refunds(tx).Create(ctx, rf)
	})
	if err != nil {
		return nil, Transition{}, err
	}
	s.log.Info(ctx, "refund recorded", "invoice", invoiceID, "payment", paymentID,
		"amount", rf.Amount.String(), "state", string(tr.Current))
	return rf, tr, nil
}

// DeleteRefund removes a refund.
func (s *LedgerService) DeleteRefund(ctx context.Context, actor access.Actor, invoiceID, refundID int64) (Transition, error) {
	if err := allow(actor, access.Write, access.Payments); err != nil {
		return Transition{}, err
	}
	return s.mutate(ctx, invoiceID, func(ctx context.Context, tx dbx.DBTX, _ *models.Invoice) (*int64, error) {
		rf, err := s.repomanager.Refunds(tx).Get(ctx, invoiceID, refundID)
		if err != nil {
			return nil, err
		}
		return &rf.PaymentID, s.repomanager.Refunds(tx).Delete(ctx, invoiceID, rf.ID)
	})
}

// CancelInvoice marks the invoice cancelled. A paid invoice loses its profit
// record; a cancelled invoice accepts no further mutations.
func (s *LedgerService) CancelInvoice(ctx context.Context, actor access.Actor, invoiceID int64) (Transition, error) {
	if err := allow(actor, access.Write, access.Invoices); err != nil {
		return Transition{}, err
	}
	tr, err := s.mutate(ctx, invoiceID, func(_ context.Context, _ dbx.DBTX, inv *models.Invoice) (*int64, error) {
		inv.Cancelled = true
		return nil, nil
	})
	if err != nil {
		return Transition{}, err
	}
	s.log.Info(ctx, "invoice cancelled", "invoice", invoiceID, "from", string(tr.Previous))
	return tr, nil
}

// InvoiceDetail reads an invoice with its lines, payments and refunds.
func (s *LedgerService) InvoiceDetail(ctx context.Context, actor access.Actor, invoiceID int64) (*InvoiceDetail, error) {
	if err := allow(actor, access.Read, access.Invoices); err != nil {
		return nil, err
	}
	inv, err := s.repomanager.Invoices(s.db).Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	lines, err := s.repomanager.Items(s.db).ListByInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	pays, err := s.repomanager.Payments(s.db).ListByInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	refs, err := s.repomanager.Refunds(s.db).ListByInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	t := invoicing.Compute(inv, lines, pays, refs)
	return &InvoiceDetail{
		Invoice:  inv,
		Items:    lines,
		Payments: pays,
		Refunds:  refs,
		Totals:   t,
		State:    invoicing.DeriveState(t),
	}, nil
}
