package payments

import (
	"context"
	"time"

	"github.com/jambasimaging/bizdesk/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, p *models.Payment) error
	// AssignReceipt sets the receipt number once the id is known.
	AssignReceipt(ctx context.Context, id int64, number string) error
	Get(ctx context.Context, invoiceID, id int64) (*models.Payment, error)
	// Update rewrites the editable fields: method, label, amount, reference,
	// paid at and notes.
	Update(ctx context.Context, p *models.Payment) error
	Void(ctx context.Context, id int64, at time.Time) error
	Delete(ctx context.Context, invoiceID, id int64) error
	ListByInvoice(ctx context.Context, invoiceID int64) ([]*models.Payment, error)
}
