package refunds

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jambasimaging/bizdesk/internal/common"
	"github.com/jambasimaging/bizdesk/internal/dbx"
	"github.com/jambasimaging/bizdesk/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, rf *models.Refund) error {
	query :=
		`INSERT INTO refunds (invoice_id, payment_id, amount, reason, refunded_at, recorded_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id
		 `

	err := r.db.QueryRowContext(ctx, query,
		rf.InvoiceID, rf.PaymentID, rf.Amount, rf.Reason, rf.RefundedAt, rf.RecordedBy, rf.CreatedAt,
	).Scan(&rf.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, invoiceID, id int64) (*models.Refund, error) {
	query :=
		`SELECT id, invoice_id, payment_id, amount, reason, refunded_at, recorded_by, created_at
		 FROM refunds
		 WHERE id = $1 AND invoice_id = $2
		 `

	rf := &models.Refund{}
	err := r.db.QueryRowContext(ctx, query, id, invoiceID).Scan(
		&rf.ID, &rf.InvoiceID, &rf.PaymentID, &rf.Amount, &rf.Reason, &rf.RefundedAt, &rf.RecordedBy, &rf.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rf, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, invoiceID, id int64) error {
	query :=
		`DELETE FROM refunds WHERE id = $1 AND invoice_id = $2
		 `

	res, err := r.db.ExecContext(ctx, query, id, invoiceID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) ListByInvoice(ctx context.Context, invoiceID int64) ([]*models.Refund, error) {
	query :=
		`SELECT id, invoice_id, payment_id, amount, reason, refunded_at, recorded_by, created_at
		 FROM refunds
		 WHERE invoice_id = $1
		 ORDER BY refunded_at, id
		 `

	rows, err := r.db.QueryContext(ctx, query, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Refund
	for rows.Next() {
		rf := &models.Refund{}
		if err := rows.Scan(&rf.ID, &rf.InvoiceID, &rf.PaymentID, &rf.Amount, &rf.Reason,
			&rf.RefundedAt, &rf.RecordedBy, &rf.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, rf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
