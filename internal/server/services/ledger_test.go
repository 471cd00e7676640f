package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/jambasimaging/bizdesk/internal/common"
	"github.com/jambasimaging/bizdesk/internal/logging"
	"github.com/jambasimaging/bizdesk/internal/server/access"
	"github.com/jambasimaging/bizdesk/internal/server/ledger"
	"github.com/jambasimaging/bizdesk/internal/server/metrics"
	"github.com/jambasimaging/bizdesk/internal/server/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ledgerFixture struct {
	svc   *LedgerService
	db    *memDB
	clock *testClock
	actor access.Actor
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	f := &ledgerFixture{
		db:    newMemDB(),
		clock: newTestClock(),
		actor: access.Actor{UserID: 1, Role: models.RoleAccountant},
	}
	f.svc = NewLedgerService(nil, f.db, fakeRepos{f.db},
		LedgerSettings{DefaultVATRate: dec("0"), DefaultCurrency: "UGX"}, logging.Nop{}, metrics.New())
	f.svc.now = f.clock.Now
	return f
}

// invoice creates an issued invoice with one service line worth total and
// costing a quarter of it.
func (f *ledgerFixture) invoice(t *testing.T, total string) *models.Invoice {
	t.Helper()
	ctx := context.Background()
	inv, err := f.svc.CreateInvoice(ctx, f.actor, NewInvoice{ClientID: 7, Issue: true})
	require.NoError(t, err)

	amount := dec(total)
	_, _, err = f.svc.AddItem(ctx, f.actor, inv.ID, NewItem{
		Kind:        models.ItemService,
		Description: "MRI scan",
		Quantity:    dec("1"),
		UnitPrice:   amount,
		UnitCost:    amount.Div(dec("4")),
	})
	require.NoError(t, err)
	return inv
}

func (f *ledgerFixture) pay(t *testing.T, invoiceID int64, amount string) (*models.Payment, Transition) {
	t.Helper()
	p, tr, err := f.svc.RecordPayment(context.Background(), f.actor, invoiceID, PaymentInput{Method: models.MethodCash, Amount: dec(amount)})
	require.NoError(t, err)
	return p, tr
}

func (f *ledgerFixture) status(t *testing.T, invoiceID int64) models.PaymentState {
	t.Helper()
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return f.db.invoices[invoiceID].Status
}

func TestCreateInvoice_NumbersAndDraft(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	a, err := f.svc.CreateInvoice(ctx, f.actor, NewInvoice{ClientID: 3})
	require.NoError(t, err)
	b, err := f.svc.CreateInvoice(ctx, f.actor, NewInvoice{ClientID: 3, Currency: " usd ", Issue: true})
	require.NoError(t, err)

	assert.Equal(t, "INV-2026-00001", a.Number)
	assert.Equal(t, "INV-2026-00002", b.Number)
	assert.Equal(t, models.StateDraft, a.Status)
	assert.Equal(t, "UGX", a.Currency)
	assert.Equal(t, "USD", b.Currency)
	assert.False(t, a.Issued())
	assert.True(t, b.Issued())

	_, err = f.svc.CreateInvoice(ctx, f.actor, NewInvoice{})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestLedger_FullPaymentThenFullRefund(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	inv := f.invoice(t, "1000000")
	assert.Equal(t, models.StateUnpaid, f.status(t, inv.ID))

	p, tr := f.pay(t, inv.ID, "1000000")
	assert.Equal(t, Transition{models.StateUnpaid, models.StatePaid, ledger.ActionCreate}, tr)
	assert.Equal(t, fmt.Sprintf("RCPT-20260302-%06d", p.ID), p.ReceiptNumber)

	rec := f.db.profitFor(inv.ID)
	require.NotNil(t, rec)
	assert.Equal(t, 1, f.db.profitCount(inv.ID))
	assert.True(t, dec("1000000").Equal(rec.Revenue))
	assert.True(t, dec("250000").Equal(rec.CostOfServices))
	assert.True(t, dec("750000").Equal(rec.GrossProfit))
	assert.Equal(t, &p.ID, rec.TriggerPaymentID)

	_, tr, err := f.svc.RecordRefund(ctx, f.actor, inv.ID, p.ID, RefundInput{Amount: dec("1000000"), Reason: "duplicate"})
	require.NoError(t, err)
	assert.Equal(t, Transition{models.StatePaid, models.StateUnpaid, ledger.ActionDelete}, tr)
	assert.Zero(t, f.db.profitCount(inv.ID))
}

func TestLedger_TwoPaymentsCreateRecordOnlyWhenPaid(t *testing.T) {
	f := newLedgerFixture(t)
	inv := f.invoice(t, "1000000")

	_, tr := f.pay(t, inv.ID, "600000")
	assert.Equal(t, Transition{models.StateUnpaid, models.StatePartiallyPaid, ledger.ActionNone}, tr)
	assert.Zero(t, f.db.profitCount(inv.ID))

	second, tr := f.pay(t, inv.ID, "400000")
	assert.Equal(t, Transition{models.StatePartiallyPaid, models.StatePaid, ledger.ActionCreate}, tr)
	require.Equal(t, 1, f.db.profitCount(inv.ID))
	assert.Equal(t, &second.ID, f.db.profitFor(inv.ID).TriggerPaymentID)
}

func TestLedger_PaidToPaidRecomputesInPlace(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	inv := f.invoice(t, "1000000")

	p, _ := f.pay(t, inv.ID, "1200000")
	before := f.db.profitFor(inv.ID)

	_, tr, err := f.svc.RecordRefund(ctx, f.actor, inv.ID, p.ID, RefundInput{Amount: dec("200000")})
	require.NoError(t, err)
	assert.Equal(t, Transition{models.StatePaid, models.StatePaid, ledger.ActionRecompute}, tr)

	after := f.db.profitFor(inv.ID)
	assert.Equal(t, before.ID, after.ID)
	assert.True(t, dec("800000").Equal(after.Revenue))
	assert.True(t, dec("200000").Equal(after.Refunds))
}

func TestLedger_ProductLineKeepsCostSnapshot(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	prod := f.db.addProduct(models.Product{Name: "Contrast dye", UnitPrice: dec("50000"), CostPrice: dec("30000")})

	inv, err := f.svc.CreateInvoice(ctx, f.actor, NewInvoice{ClientID: 1, Issue: true})
	require.NoError(t, err)
	item, _, err := f.svc.AddItem(ctx, f.actor, inv.ID, NewItem{ProductID: &prod.ID, Quantity: dec("2")})
	require.NoError(t, err)
	assert.Equal(t, models.ItemProduct, item.Kind)
	assert.Equal(t, "Contrast dye", item.Description)
	assert.True(t, dec("50000").Equal(item.UnitPrice))
	assert.True(t, dec("30000").Equal(item.UnitCost))

	f.db.mu.Lock()
	changed := f.db.products[prod.ID]
	changed.CostPrice = dec("45000")
	f.db.products[prod.ID] = changed
	f.db.mu.Unlock()

	f.pay(t, inv.ID, "100000")
	rec := f.db.profitFor(inv.ID)
	require.NotNil(t, rec)
	assert.True(t, dec("60000").Equal(rec.CostOfGoods))
	assert.True(t, dec("100000").Equal(rec.ProductSales))
	assert.True(t, dec("40000").Equal(rec.GrossProfit))
}

func TestLedger_FirstPaymentIssuesDraft(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	inv, err := f.svc.CreateInvoice(ctx, f.actor, NewInvoice{ClientID: 1})
	require.NoError(t, err)
	_, tr, err := f.svc.AddItem(ctx, f.actor, inv.ID, NewItem{Kind: models.ItemService, Description: "X-ray", Quantity: dec("1"), UnitPrice: dec("80000")})
	require.NoError(t, err)
	assert.Equal(t, models.StateDraft, tr.Current)

	_, tr = f.pay(t, inv.ID, "30000")
	assert.Equal(t, models.StatePartiallyPaid, tr.Current)

	d, err := f.svc.InvoiceDetail(ctx, f.actor, inv.ID)
	require.NoError(t, err)
	assert.True(t, d.Invoice.Issued())
	assert.True(t, dec("50000").Equal(d.Totals.Balance()))
	assert.Equal(t, models.StatePartiallyPaid, d.State)
}

func TestLedger_LedgerErrorRollsBackMutation(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	inv := f.invoice(t, "1000000")
	f.db.duplicateProfits = true

	_, _, err := f.svc.RecordPayment(ctx, f.actor, inv.ID, PaymentInput{Method: models.MethodBank, Amount: dec("1000000")})
	var le *common.LedgerError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "postcondition", le.Phase)
	assert.Equal(t, 2, le.Records)

	assert.Equal(t, models.StateUnpaid, f.status(t, inv.ID))
	assert.Zero(t, f.db.profitCount(inv.ID))
	assert.Empty(t, f.db.payments)
	assert.Equal(t, 1, f.db.rollbacks)
}

func TestLedger_StrayRecordIsSurfacedNotRepaired(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	inv := f.invoice(t, "1000000")

	f.db.mu.Lock()
	f.db.profits[999] = models.ProfitRecord{ID: 999, InvoiceID: inv.ID, Currency: "UGX"}
	f.db.mu.Unlock()

	_, _, err := f.svc.RecordPayment(ctx, f.actor, inv.ID, PaymentInput{Method: models.MethodCash, Amount: dec("100")})
	var le *common.LedgerError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "precondition", le.Phase)
	assert.ErrorIs(t, err, common.ErrInconsistentLedgerState)
	assert.Equal(t, 1, f.db.profitCount(inv.ID))

	reports := NewReportService(nil, fakeRepos{f.db}, StorageSettings{}, nil, logging.Nop{})
	mm, err := reports.AuditLedger(ctx, access.Actor{Role: models.RoleAdmin})
	require.NoError(t, err)
	require.Len(t, mm, 1)
	assert.Equal(t, inv.ID, mm[0].InvoiceID)
}

func TestLedger_RefundRules(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	inv := f.invoice(t, "1000000")
	p, _ := f.pay(t, inv.ID, "500000")

	_, _, err := f.svc.RecordRefund(ctx, f.actor, inv.ID, p.ID, RefundInput{Amount: dec("500001")})
	assert.ErrorIs(t, err, common.ErrRefundExceedsPayment)
	_, _, err = f.svc.RecordRefund(ctx, f.actor, inv.ID, p.ID, RefundInput{Amount: dec("0")})
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	rf, _, err := f.svc.RecordRefund(ctx, f.actor, inv.ID, p.ID, RefundInput{Amount: dec("100000")})
	require.NoError(t, err)

	_, err = f.svc.VoidPayment(ctx, f.actor, inv.ID, p.ID)
	assert.ErrorIs(t, err, common.ErrPaymentHasRefunds)
	_, err = f.svc.DeletePayment(ctx, f.actor, inv.ID, p.ID)
	assert.ErrorIs(t, err, common.ErrPaymentHasRefunds)
	_, _, err = f.svc.UpdatePayment(ctx, f.actor, inv.ID, p.ID, PaymentInput{Method: models.MethodCash, Amount: dec("90000")})
	assert.ErrorIs(t, err, common.ErrRefundExceedsPayment)

	_, err = f.svc.DeleteRefund(ctx, f.actor, inv.ID, rf.ID)
	require.NoError(t, err)
	tr, err := f.svc.VoidPayment(ctx, f.actor, inv.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateUnpaid, tr.Current)

	_, _, err = f.svc.RecordRefund(ctx, f.actor, inv.ID, p.ID, RefundInput{Amount: dec("1")})
	assert.ErrorIs(t, err, common.ErrPaymentVoided)
}

func TestLedger_UpdatePaymentCrossesThreshold(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	inv := f.invoice(t, "1000000")
	p, _ := f.pay(t, inv.ID, "1000000")

	_, tr, err := f.svc.UpdatePayment(ctx, f.actor, inv.ID, p.ID, PaymentInput{Method: models.MethodBank, Amount: dec("900000"), Reference: "TX-1"})
	require.NoError(t, err)
	assert.Equal(t, Transition{models.StatePaid, models.StatePartiallyPaid, ledger.ActionDelete}, tr)
	assert.Zero(t, f.db.profitCount(inv.ID))
}

func TestLedger_CancelPaidInvoice(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	inv := f.invoice(t, "1000000")
	f.pay(t, inv.ID, "1000000")

	tr, err := f.svc.CancelInvoice(ctx, f.actor, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, Transition{models.StatePaid, models.StateCancelled, ledger.ActionDelete}, tr)
	assert.Zero(t, f.db.profitCount(inv.ID))

	_, _, err = f.svc.RecordPayment(ctx, f.actor, inv.ID, PaymentInput{Method: models.MethodCash, Amount: dec("1")})
	assert.ErrorIs(t, err, common.ErrInvoiceCancelled)
}

func TestLedger_CapabilityChecks(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	inv := f.invoice(t, "1000")

	sales := access.Actor{UserID: 2, Role: models.RoleSales}
	_, _, err := f.svc.RecordPayment(ctx, sales, inv.ID, PaymentInput{Method: models.MethodCash, Amount: dec("1000")})
	assert.ErrorIs(t, err, common.ErrForbidden)

	store := access.Actor{UserID: 3, Role: models.RoleStore}
	_, err = f.svc.InvoiceDetail(ctx, store, inv.ID)
	assert.ErrorIs(t, err, common.ErrForbidden)

	_, _, err = f.svc.RecordPayment(ctx, f.actor, inv.ID, PaymentInput{Method: "barter", Amount: dec("1000")})
	assert.ErrorIs(t, err, common.ErrValidation)
}

// TestLedger_RandomSequencesKeepInvariant drives random payment and refund
// mutations and checks that an invoice is paid exactly when it holds one
// profit record.
func TestLedger_RandomSequencesKeepInvariant(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(20260302))

	var invs []*models.Invoice
	for i := 0; i < 4; i++ {
		invs = append(invs, f.invoice(t, "1000000"))
	}

	for step := 0; step < 400; step++ {
		inv := invs[rng.Intn(len(invs))]
		d, err := f.svc.InvoiceDetail(ctx, f.actor, inv.ID)
		require.NoError(t, err)

		switch op := rng.Intn(5); {
		case op <= 1 || len(d.Payments) == 0:
			amount := dec("50000").Mul(decimal.NewFromInt(int64(1 + rng.Intn(12))))
			_, _, err = f.svc.RecordPayment(ctx, f.actor, inv.ID, PaymentInput{Method: models.MethodCash, Amount: amount})
		case op == 2:
			p := d.Payments[rng.Intn(len(d.Payments))]
			amount := dec("50000").Mul(decimal.NewFromInt(int64(1 + rng.Intn(6))))
			_, _, err = f.svc.RecordRefund(ctx, f.actor, inv.ID, p.ID, RefundInput{Amount: amount})
		case op == 3:
			p := d.Payments[rng.Intn(len(d.Payments))]
			_, err = f.svc.DeletePayment(ctx, f.actor, inv.ID, p.ID)
		default:
			if len(d.Refunds) == 0 {
				continue
			}
			rf := d.Refunds[rng.Intn(len(d.Refunds))]
			_, err = f.svc.DeleteRefund(ctx, f.actor, inv.ID, rf.ID)
		}

		switch {
		case err == nil,
			errors.Is(err, common.ErrRefundExceedsPayment),
			errors.Is(err, common.ErrPaymentHasRefunds),
			errors.Is(err, common.ErrPaymentVoided):
		default:
			t.Fatalf("step %d: unexpected error: %v", step, err)
		}

		for _, inv := range invs {
			d, err := f.svc.InvoiceDetail(ctx, f.actor, inv.ID)
			require.NoError(t, err)
			require.Equal(t, d.State, d.Invoice.Status, "step %d: cached status is stale", step)
			paid := d.State == models.StatePaid
			n := f.db.profitCount(inv.ID)
			require.True(t, paid == (n == 1) && n <= 1, "step %d: invoice %d state %s with %d records", step, inv.ID, d.State, n)
		}
	}
}
