package items

import (
	"context"

	"github.com/jambasimaging/bizdesk/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, it *models.InvoiceItem) error
	Delete(ctx context.Context, invoiceID, id int64) error
	ListByInvoice(ctx context.Context, invoiceID int64) ([]*models.InvoiceItem, error)
}
