package loginaudit

import (
	"context"

	"github.com/jambasimaging/bizdesk/internal/server/models"
)

// Repository stores one row per password attempt.
type Repository interface {
	Create(ctx context.Context, e *models.LoginAuditEvent) error
	ListRecent(ctx context.Context, limit int) ([]*models.LoginAuditEvent, error)
}
