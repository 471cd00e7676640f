package services

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/jambasimaging/bizdesk/internal/common"
	"github.com/jambasimaging/bizdesk/internal/cryptox"
	"github.com/jambasimaging/bizdesk/internal/dbx"
	"github.com/jambasimaging/bizdesk/internal/logging"
	"github.com/jambasimaging/bizdesk/internal/server/models"
	"github.com/jambasimaging/bizdesk/internal/server/repositories/repomanager"
)

// MinPasswordLength is enforced when a password is set.
const MinPasswordLength = 8

// NewUser is the input of CreateUser.
type NewUser struct {
	Email     string
	FullName  string
	Role      models.Role
	Password  string
	Superuser bool
}

// UserAdminService provisions staff accounts from the command line.
type UserAdminService struct {
	db          dbx.DBTX
	repomanager repomanager.RepositoryManager
	log         logging.Logger
	hash        func(string) (string, error)
}

func NewUserAdminService(db dbx.DBTX, m repomanager.RepositoryManager, log logging.Logger) *UserAdminService {
	return &UserAdminService{
		db:          db,
		repomanager: m,
		log:         log.With("module", "users"),
		hash:        cryptox.HashPassword,
	}
}

func checkPassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", common.ErrValidation, MinPasswordLength)
	}
	return nil
}

// CreateUser stores an active account with a bcrypt-hashed password.
func (s *UserAdminService) CreateUser(ctx context.Context, in NewUser) (*models.User, error) {
	email := NormalizeIdentity(in.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: invalid email %q", common.ErrValidation, in.Email)
	}
	if !in.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", common.ErrValidation, in.Role)
	}
	if err := checkPassword(in.Password); err != nil {
		return nil, err
	}

	hash, err := s.hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.repomanager.Users(s.db).Create(ctx, &models.User{
		Email:        email,
		FullName:     strings.TrimSpace(in.FullName),
		Role:         in.Role,
		PasswordHash: hash,
		IsActive:     true,
		IsSuperuser:  in.Superuser,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "user created", "user", u.ID, "role", string(u.Role))
	return u, nil
}

// SetPassword replaces the password of the account with the given email.
func (s *UserAdminService) SetPassword(ctx context.Context, email, password string) error {
	if err := checkPassword(password); err != nil {
		return err
	}
	u, err := s.repomanager.Users(s.db).FindByIdentity(ctx, NormalizeIdentity(email))
	if err != nil {
		return err
	}
	hash, err := s.hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.repomanager.Users(s.db).SetPassword(ctx, u.ID, hash); err != nil {
		return err
	}
	s.log.Info(ctx, "password changed", "user", u.ID)
	return nil
}
