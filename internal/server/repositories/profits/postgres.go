package profits

import (
	"context"
	"fmt"
	"strings"

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

func (r *PostgresRepository) CountByInvoice(ctx context.Context, invoiceID int64) (int, error) {
	query :=
		`SELECT COUNT(*) FROM profit_records WHERE invoice_id = $1
		 `

	var n int
	if err := r.db.QueryRowContext(ctx, query, invoiceID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) Create(ctx context.Context, rec *models.ProfitRecord) error {
	query :=
		`INSERT INTO profit_records (invoice_id, branch_id, currency, product_sales, service_sales, refunds,
		 revenue, cost_of_goods, cost_of_services, gross_profit, paid_at, trigger_payment_id, recorded_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id
		 `

	err := r.db.QueryRowContext(ctx, query,
		rec.InvoiceID, rec.BranchID, rec.Currency, rec.ProductSales, rec.ServiceSales, rec.Refunds,
		rec.Revenue, rec.CostOfGoods, rec.CostOfServices, rec.GrossProfit, rec.PaidAt,
		rec.TriggerPaymentID, rec.RecordedAt, rec.UpdatedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// UpdateByInvoice overwrites the amounts of the invoice's record in place.
// RecordedAt is left as first written.
func (r *PostgresRepository) UpdateByInvoice(ctx context.Context, rec *models.ProfitRecord) error {
	query :=
		`UPDATE profit_records SET branch_id = $2, currency = $3, product_sales = $4, service_sales = $5,
		 refunds = $6, revenue = $7, cost_of_goods = $8, cost_of_services = $9, gross_profit = $10,
		 paid_at = $11, trigger_payment_id = $12, updated_at = $13
		 WHERE invoice_id = $1
		 `

	res, err := r.db.ExecContext(ctx, query,
		rec.InvoiceID, rec.BranchID, rec.Currency, rec.ProductSales, rec.ServiceSales, rec.Refunds,
		rec.Revenue, rec.CostOfGoods, rec.CostOfServices, rec.GrossProfit, rec.PaidAt,
		rec.TriggerPaymentID, rec.UpdatedAt,
	)
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

func (r *PostgresRepository) DeleteByInvoice(ctx context.Context, invoiceID int64) (int, error) {
	query :=
		`DELETE FROM profit_records WHERE invoice_id = $1
		 `

	res, err := r.db.ExecContext(ctx, query, invoiceID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return int(n), nil
}

// where renders the filter as a WHERE clause over alias p.
func where(f models.ProfitFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.BranchID != nil {
		add("p.branch_id = $%d", *f.BranchID)
	}
	if f.Currency != "" {
		add("p.currency = $%d", f.Currency)
	}
	if !f.From.IsZero() {
		add("p.paid_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("p.paid_at < $%d", f.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *PostgresRepository) List(ctx context.Context, f models.ProfitFilter) ([]*models.ProfitRecord, error) {
	cond, args := where(f)
	query :=
		`SELECT p.id, p.invoice_id, i.number, p.branch_id, p.currency, p.product_sales, p.service_sales,
		 p.refunds, p.revenue, p.cost_of_goods, p.cost_of_services, p.gross_profit, p.paid_at,
		 p.trigger_payment_id, p.recorded_at, p.updated_at
		 FROM profit_records p JOIN invoices i ON i.id = p.invoice_id` + cond + `
		 ORDER BY p.paid_at, p.id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.ProfitRecord
	for rows.Next() {
		rec := &models.ProfitRecord{}
		err := rows.Scan(&rec.ID, &rec.InvoiceID, &rec.InvoiceNumber, &rec.BranchID, &rec.Currency,
			&rec.ProductSales, &rec.ServiceSales, &rec.Refunds, &rec.Revenue, &rec.CostOfGoods,
			&rec.CostOfServices, &rec.GrossProfit, &rec.PaidAt, &rec.TriggerPaymentID,
			&rec.RecordedAt, &rec.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Summarize(ctx context.Context, f models.ProfitFilter) ([]*models.ProfitSummary, error) {
	cond, args := where(f)
	query :=
		`SELECT p.currency, COUNT(*), COALESCE(SUM(p.revenue), 0), COALESCE(SUM(p.cost_of_goods), 0),
		 COALESCE(SUM(p.cost_of_services), 0), COALESCE(SUM(p.gross_profit), 0)
		 FROM profit_records p` + cond + `
		 GROUP BY p.currency
		 ORDER BY p.currency`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.ProfitSummary
	for rows.Next() {
		s := &models.ProfitSummary{}
		if err := rows.Scan(&s.Currency, &s.Invoices, &s.Revenue, &s.CostOfGoods, &s.CostOfServices, &s.GrossProfit); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) ListMismatches(ctx context.Context) ([]*models.LedgerMismatch, error) {
	query :=
		`SELECT i.id, i.number, i.status, COUNT(p.id)
		 FROM invoices i LEFT JOIN profit_records p ON p.invoice_id = i.id
		 GROUP BY i.id, i.number, i.status
		 HAVING (i.status = 'paid' AND COUNT(p.id) <> 1) OR (i.status <> 'paid' AND COUNT(p.id) > 0)
		 ORDER BY i.id
		 `

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.LedgerMismatch
	for rows.Next() {
		m := &models.LedgerMismatch{}
		if err := rows.Scan(&m.InvoiceID, &m.InvoiceNumber, &m.Status, &m.Records); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
