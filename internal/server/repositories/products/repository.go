package products

import (
	"context"

	"github.com/jambasimaging/bizdesk/internal/server/models"
)

// Repository gives read access to the product catalogue.
type Repository interface {
	FindByID(ctx context.Context, id int64) (*models.Product, error)
}
