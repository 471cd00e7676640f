package items

import (
	"context"
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

func (r *PostgresRepository) Create(ctx context.Context, it *models.InvoiceItem) error {
	query :=
		`INSERT INTO invoice_items (invoice_id, kind, product_id, description, quantity, unit_price, unit_cost, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id
		 `

	err := r.db.QueryRowContext(ctx, query,
		it.InvoiceID, it.Kind, it.ProductID, it.Description, it.Quantity, it.UnitPrice, it.UnitCost, it.CreatedAt,
	).Scan(&it.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, invoiceID, id int64) error {
	query :=
		`DELETE FROM invoice_items WHERE id = $1 AND invoice_id = $2
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

func (r *PostgresRepository) ListByInvoice(ctx context.Context, invoiceID int64) ([]*models.InvoiceItem, error) {
	query :=
		`SELECT id, invoice_id, kind, product_id, description, quantity, unit_price, unit_cost, created_at
		 FROM invoice_items
		 WHERE invoice_id = $1
		 ORDER BY id
		 `

	rows, err := r.db.QueryContext(ctx, query, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.InvoiceItem
	for rows.Next() {
		it := &models.InvoiceItem{}
		err := rows.Scan(&it.ID, &it.InvoiceID, &it.Kind, &it.ProductID, &it.Description,
			&it.Quantity, &it.UnitPrice, &it.UnitCost, &it.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
