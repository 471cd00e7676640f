package repomanager

import (
	"context"
	"database/sql"

	"github.com/jambasimaging/bizdesk/internal/dbx"
	"github.com/jambasimaging/bizdesk/internal/server/repositories/invoices"
	"github.com/jambasimaging/bizdesk/internal/server/repositories/items"
	"github.com/jambasimaging/bizdesk/internal/server/repositories/loginaudit"
	"github.com/jambasimaging/bizdesk/internal/server/repositories/payments"
	"github.com/jambasimaging/bizdesk/internal/server/repositories/products"
	"github.com/jambasimaging/bizdesk/internal/server/repositories/profits"
	"github.com/jambasimaging/bizdesk/internal/server/repositories/refunds"
	"github.com/jambasimaging/bizdesk/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX, so the same code
// runs against the pool or inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	LoginAudit(db dbx.DBTX) loginaudit.Repository
	Products(db dbx.DBTX) products.Repository
	Invoices(db dbx.DBTX) invoices.Repository
	Items(db dbx.DBTX) items.Repository
	Payments(db dbx.DBTX) payments.Repository
	Refunds(db dbx.DBTX) refunds.Repository
	Profits(db dbx.DBTX) profits.Repository
}
