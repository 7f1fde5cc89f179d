// Package user provides the account directory the custody workflows resolve
// holders, requesters, and approvers from.
//
// Credentials and sessions are handled elsewhere; this package only stores
// the identity, role, and contact details of each account.
package user

import (
	"context"
	"time"
)

// Role is the position of an account in the custody chain.
type Role string

const (
	RoleAdmin          Role = "admin"
	RoleManager        Role = "manager"
	RoleDistributor    Role = "distributor"
	RoleSubDistributor Role = "sub_distributor"
	RoleOperator       Role = "operator"
)

// ManagementRoles are the roles that run the central stock.
var ManagementRoles = []Role{RoleAdmin, RoleManager}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleDistributor, RoleSubDistributor, RoleOperator:
		return true
	}
	return false
}

// IsManagement reports whether r is an admin or manager role.
func (r Role) IsManagement() bool {
	return r == RoleAdmin || r == RoleManager
}

// Status is the lifecycle state of an account.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended:
		return true
	}
	return false
}

// User is a directory account.
type User struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Role       Role      `json:"role"`
	Status     Status    `json:"status"`
	Phone      string    `json:"phone,omitempty"`
	Department string    `json:"department,omitempty"`
	Location   string    `json:"location,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Actor returns the identity recorded when u performs an operation.
func (u *User) Actor() Actor {
	return Actor{ID: u.ID, Name: u.Name, Role: u.Role}
}

// Actor identifies who performed an operation.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// CreateInput is the input for creating an account.
type CreateInput struct {
	Email      string `json:"email"`
	Name       string `json:"name"`
	Role       Role   `json:"role"`
	Phone      string `json:"phone,omitempty"`
	Department string `json:"department,omitempty"`
	Location   string `json:"location,omitempty"`
}

// UpdateInput holds optional profile changes. Email and role are fixed
// once an account exists.
type UpdateInput struct {
	Name       *string `json:"name,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	Department *string `json:"department,omitempty"`
	Location   *string `json:"location,omitempty"`
	Status     *Status `json:"status,omitempty"`
}

// Reference counts the open records of one kind that still name an
// account. Delete refuses while any count is above zero.
type Reference struct {
	Kind  string
	Count func(ctx context.Context, userID string) (int64, error)
}

// ListOptions filters a directory listing.
type ListOptions struct {
	Role   Role
	Status Status
	Search string
	Page   int
	Size   int
}
