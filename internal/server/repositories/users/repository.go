package users

import (
	"context"

	"github.com/jambasimaging/bizdesk/internal/server/models"
)

// Repository is the user store consulted by the authentication gate.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	FindByIdentity(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id int64) (*models.User, error)
	SetPassword(ctx context.Context, id int64, passwordHash string) error
}
