package models

import "time"

// Role is a staff member's job role; capabilities hang off it.
type Role string

const (
	RoleAdmin            Role = "admin"
	RoleManager          Role = "manager"
	RoleSales            Role = "sales"
	RoleStore            Role = "store"
	RoleAccountant       Role = "accountant"
	RoleManagingDirector Role = "managing_director"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleSales, RoleStore, RoleAccountant, RoleManagingDirector:
		return true
	}
	return false
}

// User is a staff account. Email is the login identity and is stored
// lower-cased.
type User struct {
	ID           int64
	Email        string
	FullName     string
	Role         Role
	PasswordHash string
	IsActive     bool
	IsSuperuser  bool
	CreatedAt    time.Time
}
