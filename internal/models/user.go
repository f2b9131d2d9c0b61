package models

import "time"

// Role is the closed role taxonomy. Anything outside these two values is
// rejected at the authorization gate.
type Role string

const (
	RoleMasterAdmin Role = "master_admin"
	RoleUser        Role = "user"
)

// MaxUserAccounts caps how many role=user accounts may exist at once.
const MaxUserAccounts = 3

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleMasterAdmin, RoleUser:
		return true
	}
	return false
}

// User represents an application account
type User struct {
	ID           string     `json:"id" db:"id"`
	Name         string     `json:"name" db:"name"`
	Email        string     `json:"email" db:"email"`
	PasswordHash string     `json:"-" db:"password_hash"`
	Role         Role       `json:"role" db:"role"`
	Active       bool       `json:"active" db:"active"`
	CreatedBy    *string    `json:"created_by,omitempty" db:"created_by"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// UserStats summarizes account usage against the user cap.
type UserStats struct {
	TotalUsers     int `json:"total_users"`
	ActiveUsers    int `json:"active_users"`
	MaxUsers       int `json:"max_users"`
	RemainingSlots int `json:"remaining_slots"`
}

// Principal is the minimal identity attached to the request context after
// authentication. It is the single source of truth for the rest of the
// pipeline; handlers never re-derive identity from client-supplied data.
type Principal struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	Active bool   `json:"active"`
}

// IsMasterAdmin reports whether the principal holds the privileged role.
func (p Principal) IsMasterAdmin() bool {
	return p.Role == RoleMasterAdmin
}
