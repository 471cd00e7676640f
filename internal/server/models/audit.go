package models

import "time"

// LoginAuditEvent records one password attempt.
type LoginAuditEvent struct {
	ID        int64
	UserID    *int64
	Email     string
	IP        string
	UserAgent string
	Success   bool
	Reason    string
	CreatedAt time.Time
}
