package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

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

const paymentColumns = `id, invoice_id, method, method_other, amount, receipt_number, reference,
		 paid_at, recorded_by, notes, voided, voided_at, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanPayment(s scanner) (*models.Payment, error) {
	p := &models.Payment{}
	err := s.Scan(&p.ID, &p.InvoiceID, &p.Method, &p.MethodOther, &p.Amount, &p.ReceiptNumber,
		&p.Reference, &p.PaidAt, &p.RecordedBy, &p.Notes, &p.Voided, &p.VoidedAt, &p.CreatedAt)
	return p, err
}

func execOne(ctx context.Context, db dbx.DBTX, query string, args ...any) error {
	res, err := db.ExecContext(ctx, query, args...)
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

func (r *PostgresRepository) Create(ctx context.Context, p *models.Payment) error {
	query :=
		`INSERT INTO payments (invoice_id, method, method_other, amount, receipt_number, reference,
		 paid_at, recorded_by, notes, voided, voided_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id
		 `

	err := r.db.QueryRowContext(ctx, query,
		p.InvoiceID, p.Method, p.MethodOther, p.Amount, p.ReceiptNumber, p.Reference,
		p.PaidAt, p.RecordedBy, p.Notes, p.Voided, p.VoidedAt, p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) AssignReceipt(ctx context.Context, id int64, number string) error {
	query :=
		`UPDATE payments SET receipt_number = $2 WHERE id = $1
		 `
	return execOne(ctx, r.db, query, id, number)
}

func (r *PostgresRepository) Get(ctx context.Context, invoiceID, id int64) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		 FROM payments
		 WHERE id = $1 AND invoice_id = $2
		 `

	p, err := scanPayment(r.db.QueryRowContext(ctx, query, id, invoiceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) Update(ctx context.Context, p *models.Payment) error {
	query :=
		`UPDATE payments SET method = $2, method_other = $3, amount = $4, reference = $5, paid_at = $6, notes = $7
		 WHERE id = $1
		 `
	return execOne(ctx, r.db, query, p.ID, p.Method, p.MethodOther, p.Amount, p.Reference, p.PaidAt, p.Notes)
}

func (r *PostgresRepository) Void(ctx context.Context, id int64, at time.Time) error {
	query :=
		`UPDATE payments SET voided = TRUE, voided_at = $2 WHERE id = $1
		 `
	return execOne(ctx, r.db, query, id, at)
}

func (r *PostgresRepository) Delete(ctx context.Context, invoiceID, id int64) error {
	query :=
		`DELETE FROM payments WHERE id = $1 AND invoice_id = $2
		 `
	return execOne(ctx, r.db, query, id, invoiceID)
}

func (r *PostgresRepository) ListByInvoice(ctx context.Context, invoiceID int64) ([]*models.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		 FROM payments
		 WHERE invoice_id = $1
		 ORDER BY paid_at, id
		 `

	rows, err := r.db.QueryContext(ctx, query, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
