// Package ledger keeps the profit ledger in step with invoice payment state.
// Exactly one profit record exists for an invoice while it is paid and none
// otherwise; every call checks that before and after it acts.
package ledger

import (
	"context"
	"time"

	"github.com/jambasimaging/bizdesk/internal/common"
	"github.com/jambasimaging/bizdesk/internal/logging"
	"github.com/jambasimaging/bizdesk/internal/server/models"
	"github.com/jambasimaging/bizdesk/internal/server/repositories/profits"
)

// Action is what a state change did to the ledger.
type Action string

const (
	ActionNone      Action = "none"
	ActionCreate    Action = "create"
	ActionDelete    Action = "delete"
	ActionRecompute Action = "recompute"
)

// Snapshot is the invoice as it stands after the mutation, read inside the
// same transaction.
type Snapshot struct {
	Invoice *models.Invoice
	Items   []*models.InvoiceItem
	Refunds []*models.Refund
	// PaidAt is when the invoice became (or remains) paid.
	PaidAt  time.Time
	Trigger *int64
}

// Synchronizer reacts to payment state transitions.
type Synchronizer struct {
	log   logging.Logger
	clock func() time.Time
}

func NewSynchronizer(log logging.Logger, clock func() time.Time) *Synchronizer {
	return &Synchronizer{log: log.With("module", "ledger"), clock: clock}
}

// Decide maps a transition to an action.
func Decide(prev, next models.PaymentState) Action {
	switch {
	case prev != models.StatePaid && next == models.StatePaid:
		return ActionCreate
	case prev == models.StatePaid && next != models.StatePaid:
		return ActionDelete
	case prev == models.StatePaid && next == models.StatePaid:
		return ActionRecompute
	}
	return ActionNone
}

// OnPaymentStateChanged applies the transition prev -> next to the ledger.
// It must run in the transaction that made the mutation; any error it
// returns is meant to roll that transaction back.
func (s *Synchronizer) OnPaymentStateChanged(ctx context.Context, repo profits.Repository, snap Snapshot, prev, next models.PaymentState) (Action, error) {
	inv := snap.Invoice

	n, err := repo.CountByInvoice(ctx, inv.ID)
	if err != nil {
		return ActionNone, err
	}
	if want := expected(prev); n != want {
		return ActionNone, s.inconsistent(ctx, inv, prev, n, "precondition")
	}

	action := Decide(prev, next)
	now := s.clock()

	switch action {
	case ActionCreate:
		rec := Compute(snap)
		rec.RecordedAt = now
		rec.UpdatedAt = now
		if err := repo.Create(ctx, rec); err != nil {
			return ActionNone, err
		}
	case ActionDelete:
		if _, err := repo.DeleteByInvoice(ctx, inv.ID); err != nil {
			return ActionNone, err
		}
	case ActionRecompute:
		rec := Compute(snap)
		rec.UpdatedAt = now
		if err := repo.UpdateByInvoice(ctx, rec); err != nil {
			return ActionNone, err
		}
	}

	if action != ActionNone {
		n, err = repo.CountByInvoice(ctx, inv.ID)
		if err != nil {
			return ActionNone, err
		}
	}
	if want := expected(next); n != want {
		return ActionNone, s.inconsistent(ctx, inv, next, n, "postcondition")
	}

	if action != ActionNone {
		s.log.Info(ctx, "profit ledger updated", "invoice", inv.Number, "action", string(action),
			"from", string(prev), "to", string(next))
	}
	return action, nil
}

func expected(state models.PaymentState) int {
	if state == models.StatePaid {
		return 1
	}
	return 0
}

func (s *Synchronizer) inconsistent(ctx context.Context, inv *models.Invoice, state models.PaymentState, n int, phase string) error {
	err := &common.LedgerError{InvoiceID: inv.ID, State: string(state), Records: n, Phase: phase}
	s.log.Error(ctx, "profit ledger inconsistent", "invoice", inv.Number, "state", string(state),
		"records", n, "phase", phase)
	return err
}

// Compute derives the profit figures from lines and refunds. Costs use the
// unit cost captured on each line, not the product's current cost.
func Compute(snap Snapshot) *models.ProfitRecord {
	inv := snap.Invoice
	rec := &models.ProfitRecord{
		InvoiceID:        inv.ID,
		InvoiceNumber:    inv.Number,
		BranchID:         inv.BranchID,
		Currency:         inv.Currency,
		PaidAt:           snap.PaidAt,
		TriggerPaymentID: snap.Trigger,
	}

	for _, it := range snap.Items {
		switch it.Kind {
		case models.ItemService:
			rec.ServiceSales = rec.ServiceSales.Add(it.LineTotal())
			rec.CostOfServices = rec.CostOfServices.Add(it.LineCost())
		default:
			rec.ProductSales = rec.ProductSales.Add(it.LineTotal())
			rec.CostOfGoods = rec.CostOfGoods.Add(it.LineCost())
		}
	}
	for _, r := range snap.Refunds {
		rec.Refunds = rec.Refunds.Add(r.Amount)
	}

	rec.Revenue = rec.ProductSales.Add(rec.ServiceSales).Sub(rec.Refunds)
	rec.GrossProfit = rec.Revenue.Sub(rec.CostOfGoods).Sub(rec.CostOfServices)
	return rec
}
