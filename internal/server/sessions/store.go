// Package sessions stores credential sessions and failed-login counters.
// Both stores come in an in-process and a Redis flavour with the same
// semantics; the Redis ones let several server processes share state.
package sessions

import (
	"context"
	"time"

	"github.com/jambasimaging/bizdesk/internal/server/models"
)

// UpdateFunc mutates a session in place. When save is true the session is
// written back before err is handed to the caller, so a failed check can
// still record its side effects.
type UpdateFunc func(s *models.CredentialSession) (save bool, err error)

// Store holds credential sessions keyed by id. Get and Update fail with
// common.ErrSessionNotFound for unknown or expired sessions.
type Store interface {
	Get(ctx context.Context, id string) (*models.CredentialSession, error)
	Save(ctx context.Context, s *models.CredentialSession) error
	Delete(ctx context.Context, id string) error
	// Update runs fn atomically with respect to other updates of the same
	// session and returns the session as fn left it.
	Update(ctx context.Context, id string, fn UpdateFunc) (*models.CredentialSession, error)
}

// LockoutStore counts password attempts per identity.
type LockoutStore interface {
	// Get returns the live counter, or a zero counter when none is held.
	Get(ctx context.Context, identity string) (*models.LockoutCounter, error)
	// Reserve counts one password attempt before it is evaluated. While the
	// identity is locked nothing changes and ok is false. Otherwise the
	// attempt is counted and ok is true; the attempt that reaches max locks
	// the identity for lockout from now. Attempts are forgotten once lockout
	// has passed without another one. Reserve is atomic per identity, so
	// concurrent attempts never get more than max evaluations between resets.
	Reserve(ctx context.Context, identity string, max int, lockout time.Duration) (c *models.LockoutCounter, ok bool, err error)
	// Reset forgets the identity's attempts after a successful check.
	Reset(ctx context.Context, identity string) error
}
