package services

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jambasimaging/bizdesk/internal/common"
	"github.com/jambasimaging/bizdesk/internal/dbx"
	"github.com/jambasimaging/bizdesk/internal/server/models"
	"github.com/jambasimaging/bizdesk/internal/server/repositories/invoices"
	"github.com/jambasimaging/bizdesk/internal/server/repositories/items"
	"github.com/jambasimaging/bizdesk/internal/server/repositories/loginaudit"
	"github.com/jambasimaging/bizdesk/internal/server/repositories/payments"
	"github.com/jambasimaging/bizdesk/internal/server/repositories/products"
	"github.com/jambasimaging/bizdesk/internal/server/repositories/profits"
	"github.com/jambasimaging/bizdesk/internal/server/repositories/refunds"
	"github.com/jambasimaging/bizdesk/internal/server/repositories/users"
	"github.com/shopspring/decimal"
)

// memDB is an in-memory stand-in for the database. Rows are stored by value
// so a transaction can be rolled back by restoring a copy of every table.
type memDB struct {
	mu sync.Mutex
	tx sync.Mutex

	nextID   int64
	users    map[int64]models.User
	audit    []models.LoginAuditEvent
	products map[int64]models.Product
	invoices map[int64]models.Invoice
	items    map[int64]models.InvoiceItem
	payments map[int64]models.Payment
	refunds  map[int64]models.Refund
	profits  map[int64]models.ProfitRecord
	seq      map[int]int

	auditErr error
	// duplicateProfits makes Create insert every profit record twice.
	duplicateProfits bool
	commits          int
	rollbacks        int
}

func newMemDB() *memDB {
	return &memDB{
		users:    map[int64]models.User{},
		products: map[int64]models.Product{},
		invoices: map[int64]models.Invoice{},
		items:    map[int64]models.InvoiceItem{},
		payments: map[int64]models.Payment{},
		refunds:  map[int64]models.Refund{},
		profits:  map[int64]models.ProfitRecord{},
		seq:      map[int]int{},
	}
}

func (m *memDB) id() int64 {
	m.nextID++
	return m.nextID
}

func copyMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// WithinTx implements dbx.Transactor.
func (m *memDB) WithinTx(ctx context.Context, fn dbx.TxFunc) error {
	m.tx.Lock()
	defer m.tx.Unlock()

	m.mu.Lock()
	invs, its, pays := copyMap(m.invoices), copyMap(m.items), copyMap(m.payments)
	refs, profs, seq := copyMap(m.refunds), copyMap(m.profits), copyMap(m.seq)
	m.mu.Unlock()

	if err := fn(ctx, nil); err != nil {
		m.mu.Lock()
		m.invoices, m.items, m.payments = invs, its, pays
		m.refunds, m.profits, m.seq = refs, profs, seq
		m.rollbacks++
		m.mu.Unlock()
		return err
	}
	m.mu.Lock()
	m.commits++
	m.mu.Unlock()
	return nil
}

func (m *memDB) profitCount(invoiceID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.profits {
		if p.InvoiceID == invoiceID {
			n++
		}
	}
	return n
}

func (m *memDB) profitFor(invoiceID int64) *models.ProfitRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profits {
		if p.InvoiceID == invoiceID {
			return &p
		}
	}
	return nil
}

func (m *memDB) addUser(u models.User) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.ID = m.id()
	m.users[u.ID] = u
	return &u
}

func (m *memDB) addProduct(p models.Product) *models.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.id()
	m.products[p.ID] = p
	return &p
}

// fakeRepos implements repomanager.RepositoryManager over a memDB.
type fakeRepos struct{ db *memDB }

func (f fakeRepos) RunMigrations(context.Context, *sql.DB) error { return nil }
func (f fakeRepos) Users(dbx.DBTX) users.Repository { return fakeUsers(f) }
func (f fakeRepos) LoginAudit(dbx.DBTX) loginaudit.Repository { return fakeAudit(f) }
func (f fakeRepos) Products(dbx.DBTX) products.Repository { return fakeProducts(f) }
func (f fakeRepos) Invoices(dbx.DBTX) invoices.Repository { return fakeInvoices(f) }
func (f fakeRepos) Items(dbx.DBTX) items.Repository { return fakeItems(f) }
func (f fakeRepos) Payments(dbx.DBTX) payments.Repository { return fakePayments(f) }
func (f fakeRepos) Refunds(dbx.DBTX) refunds.Repository { return fakeRefunds(f) }
func (f fakeRepos) Profits(dbx.DBTX) profits.Repository { return fakeProfits(f) }

var errDuplicateEmail = errors.New("duplicate email")

type fakeUsers struct{ db *memDB }

func (r fakeUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, x := range r.db.users {
		if x.Email == u.Email {
			return nil, errDuplicateEmail
		}
	}
	u.ID = r.db.id()
	r.db.users[u.ID] = *u
	return u, nil
}

func (r fakeUsers) FindByIdentity(_ context.Context, email string) (*models.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, u := range r.db.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r fakeUsers) FindByID(_ context.Context, id int64) (*models.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &u, nil
}

func (r fakeUsers) SetPassword(_ context.Context, id int64, hash string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.PasswordHash = hash
	r.db.users[id] = u
	return nil
}

type fakeAudit struct{ db *memDB }

func (r fakeAudit) Create(_ context.Context, e *models.LoginAuditEvent) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.auditErr != nil {
		return r.db.auditErr
	}
	e.ID = r.db.id()
	r.db.audit = append(r.db.audit, *e)
	return nil
}

func (r fakeAudit) ListRecent(_ context.Context, limit int) ([]*models.LoginAuditEvent, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.LoginAuditEvent
	for i := len(r.db.audit) - 1; i >= 0 && len(out) < limit; i-- {
		e := r.db.audit[i]
		out = append(out, &e)
	}
	return out, nil
}

type fakeProducts struct{ db *memDB }

func (r fakeProducts) FindByID(_ context.Context, id int64) (*models.Product, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.products[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &p, nil
}

type fakeInvoices struct{ db *memDB }

func (r fakeInvoices) NextNumber(_ context.Context, year int) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.seq[year]++
	return r.db.seq[year], nil
}

func (r fakeInvoices) Create(_ context.Context, inv *models.Invoice) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	inv.ID = r.db.id()
	r.db.invoices[inv.ID] = *inv
	return nil
}

func (r fakeInvoices) Get(_ context.Context, id int64) (*models.Invoice, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	inv, ok := r.db.invoices[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &inv, nil
}

func (r fakeInvoices) GetForUpdate(ctx context.Context, id int64) (*models.Invoice, error) {
	return r.Get(ctx, id)
}

func (r fakeInvoices) UpdateState(_ context.Context, inv *models.Invoice) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cur, ok := r.db.invoices[inv.ID]
	if !ok {
		return common.ErrorNotFound
	}
	cur.Status, cur.Cancelled, cur.IssuedAt, cur.UpdatedAt = inv.Status, inv.Cancelled, inv.IssuedAt, inv.UpdatedAt
	r.db.invoices[inv.ID] = cur
	return nil
}

type fakeItems struct{ db *memDB }

func (r fakeItems) Create(_ context.Context, it *models.InvoiceItem) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	it.ID = r.db.id()
	r.db.items[it.ID] = *it
	return nil
}

func (r fakeItems) Delete(_ context.Context, invoiceID, id int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	it, ok := r.db.items[id]
	if !ok || it.InvoiceID != invoiceID {
		return common.ErrorNotFound
	}
	delete(r.db.items, id)
	return nil
}

func (r fakeItems) ListByInvoice(_ context.Context, invoiceID int64) ([]*models.InvoiceItem, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.InvoiceItem
	for _, it := range r.db.items {
		if it.InvoiceID == invoiceID {
			it := it
			out = append(out, &it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakePayments struct{ db *memDB }

func (r fakePayments) Create(_ context.Context, p *models.Payment) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p.ID = r.db.id()
	r.db.payments[p.ID] = *p
	return nil
}

func (r fakePayments) AssignReceipt(_ context.Context, id int64, number string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.payments[id]
	if !ok {
		return common.ErrorNotFound
	}
	p.ReceiptNumber = number
	r.db.payments[id] = p
	return nil
}

func (r fakePayments) Get(_ context.Context, invoiceID, id int64) (*models.Payment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.payments[id]
	if !ok || p.InvoiceID != invoiceID {
		return nil, common.ErrorNotFound
	}
	return &p, nil
}

func (r fakePayments) Update(_ context.Context, p *models.Payment) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.payments[p.ID]; !ok {
		return common.ErrorNotFound
	}
	r.db.payments[p.ID] = *p
	return nil
}

func (r fakePayments) Void(_ context.Context, id int64, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.payments[id]
	if !ok {
		return common.ErrorNotFound
	}
	p.Voided, p.VoidedAt = true, &at
	r.db.payments[id] = p
	return nil
}

func (r fakePayments) Delete(_ context.Context, invoiceID, id int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.payments[id]
	if !ok || p.InvoiceID != invoiceID {
		return common.ErrorNotFound
	}
	delete(r.db.payments, id)
	return nil
}

func (r fakePayments) ListByInvoice(_ context.Context, invoiceID int64) ([]*models.Payment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.Payment
	for _, p := range r.db.payments {
		if p.InvoiceID == invoiceID {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakeRefunds struct{ db *memDB }

func (r fakeRefunds) Create(_ context.Context, rf *models.Refund) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	rf.ID = r.db.id()
	r.db.refunds[rf.ID] = *rf
	return nil
}

func (r fakeRefunds) Get(_ context.Context, invoiceID, id int64) (*models.Refund, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	rf, ok := r.db.refunds[id]
	if !ok || rf.InvoiceID != invoiceID {
		return nil, common.ErrorNotFound
	}
	return &rf, nil
}

func (r fakeRefunds) Delete(_ context.Context, invoiceID, id int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	rf, ok := r.db.refunds[id]
	if !ok || rf.InvoiceID != invoiceID {
		return common.ErrorNotFound
	}
	delete(r.db.refunds, id)
	return nil
}

func (r fakeRefunds) ListByInvoice(_ context.Context, invoiceID int64) ([]*models.Refund, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.Refund
	for _, rf := range r.db.refunds {
		if rf.InvoiceID == invoiceID {
			rf := rf
			out = append(out, &rf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakeProfits struct{ db *memDB }

func (r fakeProfits) CountByInvoice(_ context.Context, invoiceID int64) (int, error) {
	return r.db.profitCount(invoiceID), nil
}

func (r fakeProfits) Create(_ context.Context, rec *models.ProfitRecord) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	rec.ID = r.db.id()
	r.db.profits[rec.ID] = *rec
	if r.db.duplicateProfits {
		r.db.profits[r.db.id()] = *rec
	}
	return nil
}

func (r fakeProfits) UpdateByInvoice(_ context.Context, rec *models.ProfitRecord) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for id, p := range r.db.profits {
		if p.InvoiceID == rec.InvoiceID {
			rec.ID, rec.RecordedAt = p.ID, p.RecordedAt
			r.db.profits[id] = *rec
			return nil
		}
	}
	return common.ErrorNotFound
}

func (r fakeProfits) DeleteByInvoice(_ context.Context, invoiceID int64) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for id, p := range r.db.profits {
		if p.InvoiceID == invoiceID {
			delete(r.db.profits, id)
			n++
		}
	}
	return n, nil
}

func (r fakeProfits) matching(f models.ProfitFilter) []*models.ProfitRecord {
	var out []*models.ProfitRecord
	for _, p := range r.db.profits {
		switch {
		case f.BranchID != nil && (p.BranchID == nil || *p.BranchID != *f.BranchID):
			continue
		case f.Currency != "" && p.Currency != f.Currency:
			continue
		case !f.From.IsZero() && p.PaidAt.Before(f.From):
			continue
		case !f.To.IsZero() && !p.PaidAt.Before(f.To):
			continue
		}
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r fakeProfits) List(_ context.Context, f models.ProfitFilter) ([]*models.ProfitRecord, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.matching(f), nil
}

func (r fakeProfits) Summarize(_ context.Context, f models.ProfitFilter) ([]*models.ProfitSummary, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	by := map[string]*models.ProfitSummary{}
	var out []*models.ProfitSummary
	for _, p := range r.matching(f) {
		s, ok := by[p.Currency]
		if !ok {
			s = &models.ProfitSummary{Currency: p.Currency}
			by[p.Currency] = s
			out = append(out, s)
		}
		s.Invoices++
		s.Revenue = s.Revenue.Add(p.Revenue)
		s.CostOfGoods = s.CostOfGoods.Add(p.CostOfGoods)
		s.CostOfServices = s.CostOfServices.Add(p.CostOfServices)
		s.GrossProfit = s.GrossProfit.Add(p.GrossProfit)
	}
	return out, nil
}

func (r fakeProfits) ListMismatches(_ context.Context) ([]*models.LedgerMismatch, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.LedgerMismatch
	for _, inv := range r.db.invoices {
		n := 0
		for _, p := range r.db.profits {
			if p.InvoiceID == inv.ID {
				n++
			}
		}
		paid := inv.Status == models.StatePaid
		if (paid && n != 1) || (!paid && n > 0) {
			out = append(out, &models.LedgerMismatch{InvoiceID: inv.ID, InvoiceNumber: inv.Number, Status: inv.Status, Records: n})
		}
	}
	return out, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
