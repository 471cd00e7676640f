package invoices

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

const selectInvoice = `SELECT id, number, client_id, branch_id, currency, vat_rate, status, cancelled,
		 issued_at, due_at, notes, created_by, prepared_by, signed_by, created_at, updated_at
		 FROM invoices
		 WHERE id = $1`

func (r *PostgresRepository) NextNumber(ctx context.Context, year int) (int, error) {
	query :=
		`INSERT INTO invoice_sequences (year, last_number) VALUES ($1, 1)
		 ON CONFLICT (year) DO UPDATE SET last_number = invoice_sequences.last_number + 1
		 RETURNING last_number
		 `

	var n int
	if err := r.db.QueryRowContext(ctx, query, year).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) Create(ctx context.Context, inv *models.Invoice) error {
	query :=
		`INSERT INTO invoices (number, client_id, branch_id, currency, vat_rate, status, cancelled,
		 issued_at, due_at, notes, created_by, prepared_by, signed_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING id
		 `

	err := r.db.QueryRowContext(ctx, query,
		inv.Number, inv.ClientID, inv.BranchID, inv.Currency, inv.VATRate, inv.Status, inv.Cancelled,
		inv.IssuedAt, inv.DueAt, inv.Notes, inv.CreatedBy, inv.PreparedBy, inv.SignedBy,
		inv.CreatedAt, inv.UpdatedAt,
	).Scan(&inv.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id int64) (*models.Invoice, error) {
	return r.get(ctx, selectInvoice, id)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id int64) (*models.Invoice, error) {
	return r.get(ctx, selectInvoice+"\n\t\t FOR UPDATE", id)
}

func (r *PostgresRepository) get(ctx context.Context, query string, id int64) (*models.Invoice, error) {
	inv := &models.Invoice{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&inv.ID, &inv.Number, &inv.ClientID, &inv.BranchID, &inv.Currency, &inv.VATRate,
		&inv.Status, &inv.Cancelled, &inv.IssuedAt, &inv.DueAt, &inv.Notes, &inv.CreatedBy,
		&inv.PreparedBy, &inv.SignedBy, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return inv, nil
}

func (r *PostgresRepository) UpdateState(ctx context.Context, inv *models.Invoice) error {
	query :=
		`UPDATE invoices SET status = $2, cancelled = $3, issued_at = $4, updated_at = $5
		 WHERE id = $1
		 `

	res, err := r.db.ExecContext(ctx, query, inv.ID, inv.Status, inv.Cancelled, inv.IssuedAt, inv.UpdatedAt)
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
