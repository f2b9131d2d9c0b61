package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// AuditAction is the closed set of recordable actions.
type AuditAction string

const (
	AuditLogin             AuditAction = "LOGIN"
	AuditLogout            AuditAction = "LOGOUT"
	AuditCreateUser        AuditAction = "CREATE_USER"
	AuditUpdateUser        AuditAction = "UPDATE_USER"
	AuditActivateUser      AuditAction = "ACTIVATE_USER"
	AuditDeactivateUser    AuditAction = "DEACTIVATE_USER"
	AuditDeleteUser        AuditAction = "DELETE_USER"
	AuditResetPassword     AuditAction = "RESET_PASSWORD"
	AuditChangePassword    AuditAction = "CHANGE_PASSWORD"
	AuditCreateLedger      AuditAction = "CREATE_LEDGER"
	AuditUpdateLedger      AuditAction = "UPDATE_LEDGER"
	AuditDeleteLedger      AuditAction = "DELETE_LEDGER"
	AuditCreateTransaction AuditAction = "CREATE_TRANSACTION"
	AuditUpdateTransaction AuditAction = "UPDATE_TRANSACTION"
	AuditDeleteTransaction AuditAction = "DELETE_TRANSACTION"
)

// Target entity kinds referenced by audit entries.
const (
	TargetUser        = "user"
	TargetLedger      = "ledger"
	TargetTransaction = "transaction"
)

// Details is the free-form JSONB payload on an audit entry.
type Details map[string]any

// Value implements driver.Valuer for Details
func (d Details) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

// Scan implements sql.Scanner for Details
func (d *Details) Scan(value any) error {
	if value == nil {
		*d = nil
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, d)
}

// AuditLog is an immutable record of an action, its actor, and an optional
// target. The application only ever inserts and reads these rows.
type AuditLog struct {
	ID         string      `json:"id" db:"id"`
	Action     AuditAction `json:"action" db:"action"`
	ActorID    string      `json:"actor_id" db:"actor_id"`
	ActorRole  Role        `json:"actor_role" db:"actor_role"`
	TargetID   *string     `json:"target_id,omitempty" db:"target_id"`
	TargetKind *string     `json:"target_kind,omitempty" db:"target_kind"`
	Details    Details     `json:"details,omitempty" db:"details"`
	IPAddress  string      `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent  string      `json:"user_agent,omitempty" db:"user_agent"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}
