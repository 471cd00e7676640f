package invoices

import (
	"context"

	"github.com/jambasimaging/bizdesk/internal/server/models"
)

// Repository persists invoice headers and the per-year numbering sequence.
type Repository interface {
	// NextNumber returns the next sequence value for year, starting at 1.
	NextNumber(ctx context.Context, year int) (int, error)
	Create(ctx context.Context, inv *models.Invoice) error
	Get(ctx context.Context, id int64) (*models.Invoice, error)
	// GetForUpdate reads the invoice and row-locks it until the enclosing
	// transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*models.Invoice, error)
	// UpdateState writes the cached status, cancellation flag and issue time.
	UpdateState(ctx context.Context, inv *models.Invoice) error
}
