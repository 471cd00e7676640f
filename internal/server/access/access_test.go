package access

import (
	"testing"

	"github.com/jambasimaging/bizdesk/internal/server/models"
	"github.com/stretchr/testify/assert"
)

func TestCan(t *testing.T) {
	tests := []struct {
		role     models.Role
		action   Action
		resource Resource
		want     bool
	}{
		{models.RoleSales, Write, Invoices, true},
		{models.RoleSales, Write, Payments, false},
		{models.RoleSales, Read, Products, true},
		{models.RoleSales, Write, Products, false},
		{models.RoleSales, Read, IncomeReport, false},
		{models.RoleStore, Read, Invoices, false},
		{models.RoleStore, Write, Products, true},
		{models.RoleAccountant, Write, Payments, true},
		{models.RoleAccountant, Read, IncomeReport, false},
		{models.RoleManager, Read, IncomeReport, true},
		{models.RoleManager, Read, LedgerAudit, false},
		{models.RoleAdmin, Read, LedgerAudit, true},
		{models.RoleAdmin, Read, LoginAudit, true},
		{models.RoleManagingDirector, Read, LedgerAudit, true},
		{models.RoleManagingDirector, Write, Users, true},
		{"", Read, Invoices, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+string(tt.action)+"/"+string(tt.resource), func(t *testing.T) {
			assert.Equal(t, tt.want, Can(Actor{Role: tt.role}, tt.action, tt.resource))
		})
	}
}

func TestCan_Superuser(t *testing.T) {
	assert.True(t, Can(Actor{Role: models.RoleStore, Superuser: true}, Read, IncomeReport))
	assert.False(t, Can(Actor{Role: models.RoleStore}, Read, IncomeReport))
}

func TestCan_UnknownResource(t *testing.T) {
	assert.False(t, Can(Actor{Role: models.RoleAdmin}, Write, LedgerAudit))
	assert.False(t, Can(Actor{Role: models.RoleAdmin}, Read, Resource("appointments")))
}

func TestActorFromSession(t *testing.T) {
	a := ActorFromSession(&models.CredentialSession{UserID: 4, Role: models.RoleManager, Superuser: true})
	assert.Equal(t, Actor{UserID: 4, Role: models.RoleManager, Superuser: true}, a)
}
