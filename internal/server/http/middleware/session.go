// Package middleware holds the gin middleware of the HTTP API: the session
// loader, the OTP gate and request logging.
package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/jambasimaging/bizdesk/internal/common"
	"github.com/jambasimaging/bizdesk/internal/server/auth"
	"github.com/jambasimaging/bizdesk/internal/server/models"
)

const sessionKey = "credentialSession"

// SessionReader looks sessions up by id.
type SessionReader interface {
	Session(ctx context.Context, id string) (*models.CredentialSession, error)
}

// LoadSession resolves the session cookie to a live session and stores it on
// the context. Missing, forged, expired or unknown sessions leave the request
// anonymous; the gate decides what an anonymous request may reach.
func LoadSession(reader SessionReader, secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(common.SessionCookieName)
		if err != nil || token == "" {
			c.Next()
			return
		}
		id, err := auth.SessionIDFromToken(token, secret)
		if err != nil {
			c.Next()
			return
		}
		if s, err := reader.Session(c.Request.Context(), id); err == nil {
			c.Set(sessionKey, s)
		}
		c.Next()
	}
}

// CurrentSession returns the session LoadSession attached, if any.
func CurrentSession(c *gin.Context) (*models.CredentialSession, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil, false
	}
	s, ok := v.(*models.CredentialSession)
	return s, ok && s != nil
}

// SetSession replaces the session seen by later handlers of this request.
func SetSession(c *gin.Context, s *models.CredentialSession) {
	c.Set(sessionKey, s)
}
