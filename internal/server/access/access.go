// Package access is the single capability check for staff actions. It is
// independent of the OTP gate: a verified session still needs a role that
// allows what it asks for.
package access

import "github.com/jambasimaging/bizdesk/internal/server/models"

// Action is what the actor wants to do.
type Action string

const (
	Read  Action = "read"
	Write Action = "write"
)

// Resource is what the action applies to.
type Resource string

const (
	Invoices     Resource = "invoices"
	Payments     Resource = "payments"
	Products     Resource = "products"
	IncomeReport Resource = "income_report"
	LedgerAudit  Resource = "ledger_audit"
	LoginAudit   Resource = "login_audit"
	Users        Resource = "users"
)

// Actor is whoever performs the action.
type Actor struct {
	UserID    int64
	Role      models.Role
	Superuser bool
}

// ActorFromSession builds the actor for a session.
func ActorFromSession(s *models.CredentialSession) Actor {
	return Actor{UserID: s.UserID, Role: s.Role, Superuser: s.Superuser}
}

type rule struct {
	resource Resource
	action   Action
}

func roles(rs ...models.Role) map[models.Role]bool {
	m := make(map[models.Role]bool, len(rs))
	for _, r := range rs {
		m[r] = true
	}
	return m
}

// matrix lists the roles allowed per resource and action. Superusers and
// managing directors are allowed everything and are not listed.
var matrix = map[rule]map[models.Role]bool{
	{Invoices, Read}:  roles(models.RoleAdmin, models.RoleManager, models.RoleSales, models.RoleAccountant),
	{Invoices, Write}: roles(models.RoleAdmin, models.RoleManager, models.RoleSales, models.RoleAccountant),

	{Payments, Read}:  roles(models.RoleAdmin, models.RoleManager, models.RoleAccountant),
	{Payments, Write}: roles(models.RoleAdmin, models.RoleManager, models.RoleAccountant),

	{Products, Read}:  roles(models.RoleAdmin, models.RoleManager, models.RoleStore, models.RoleSales),
	{Products, Write}: roles(models.RoleAdmin, models.RoleManager, models.RoleStore),

	{IncomeReport, Read}:  roles(models.RoleAdmin, models.RoleManager),
	{IncomeReport, Write}: roles(models.RoleAdmin, models.RoleManager),

	{LedgerAudit, Read}: roles(models.RoleAdmin),
	{LoginAudit, Read}:  roles(models.RoleAdmin),
	{Users, Read}:       roles(models.RoleAdmin),
	{Users, Write}:      roles(models.RoleAdmin),
}

// Can reports whether actor may perform action on resource.
func Can(actor Actor, action Action, resource Resource) bool {
	if actor.Superuser || actor.Role == models.RoleManagingDirector {
		return true
	}
	return matrix[rule{resource, action}][actor.Role]
}
