package profits

import (
	"context"

	"github.com/jambasimaging/bizdesk/internal/server/models"
)

// Repository persists profit records. There is deliberately no uniqueness
// on invoice_id at the storage level; CountByInvoice exposes duplicates.
type Repository interface {
	CountByInvoice(ctx context.Context, invoiceID int64) (int, error)
	Create(ctx context.Context, rec *models.ProfitRecord) error
	UpdateByInvoice(ctx context.Context, rec *models.ProfitRecord) error
	DeleteByInvoice(ctx context.Context, invoiceID int64) (int, error)
	List(ctx context.Context, f models.ProfitFilter) ([]*models.ProfitRecord, error)
	Summarize(ctx context.Context, f models.ProfitFilter) ([]*models.ProfitSummary, error)
	// ListMismatches returns invoices whose cached status disagrees with the
	// number of profit records held for them.
	ListMismatches(ctx context.Context) ([]*models.LedgerMismatch, error)
}
