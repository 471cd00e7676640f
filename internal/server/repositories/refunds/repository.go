package refunds

import (
	"context"

	"github.com/jambasimaging/bizdesk/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, rf *models.Refund) error
	Get(ctx context.Context, invoiceID, id int64) (*models.Refund, error)
	Delete(ctx context.Context, invoiceID, id int64) error
	ListByInvoice(ctx context.Context, invoiceID int64) ([]*models.Refund, error)
}
