package loginaudit

import (
	"context"
	"fmt"

	"github.com/jambasimaging/bizdesk/internal/dbx"
	"github.com/jambasimaging/bizdesk/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, e *models.LoginAuditEvent) error {
	query :=
		`INSERT INTO login_audit (user_id, email, ip_address, user_agent, success, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id
		 `

	err := r.db.QueryRowContext(ctx, query,
		e.UserID, e.Email, e.IP, e.UserAgent, e.Success, e.Reason, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListRecent(ctx context.Context, limit int) ([]*models.LoginAuditEvent, error) {
	query :=
		`SELECT id, user_id, email, ip_address, user_agent, success, reason, created_at
		 FROM login_audit
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1
		 `

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.LoginAuditEvent
	for rows.Next() {
		e := &models.LoginAuditEvent{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.Email, &e.IP, &e.UserAgent, &e.Success, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
