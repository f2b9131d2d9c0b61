package services

import (
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ledgerdesk/backend/internal/models"
	"github.com/lib/pq"
)

// UserService implements master-admin account administration.
type UserService struct {
	db        *sql.DB
	audit     *AuditRecorder
	validator *ValidationHelper
}

// CreateUserRequest represents the registration payload
// @Description Account registration structure
type CreateUserRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=100" example:"Jane Doe"`
	Email    string `json:"email" validate:"required,email" example:"jane@example.com"`
	Password string `json:"password" validate:"required,min=6" example:"password123"`
	Role     string `json:"role" validate:"required,oneof=master_admin user" example:"user"`
}

// UpdateUserRequest represents a partial account update
// @Description Account update structure
type UpdateUserRequest struct {
	Name  *string `json:"name,omitempty" validate:"omitempty,min=2,max=100"`
	Email *string `json:"email,omitempty" validate:"omitempty,email"`
	Role  *string `json:"role,omitempty" validate:"omitempty,oneof=master_admin user"`
}

// ResetPasswordRequest carries the admin-set replacement password
// @Description Reset password structure
type ResetPasswordRequest struct {
	NewPassword string `json:"new_password" validate:"required,min=6"`
}

func NewUserService(db *sql.DB, audit *AuditRecorder) *UserService {
	return &UserService{
		db:        db,
		audit:     audit,
		validator: NewValidationHelper(),
	}
}

const userColumns = `id, name, email, role, active, created_by, last_login_at, created_at, updated_at`

// userCapLockKey is the pg_advisory_xact_lock key serializing role=user
// registrations against the account cap.
const userCapLockKey = 74320001

func scanUser(row *sql.Row) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Active,
		&u.CreatedBy, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (s *UserService) loadUser(id string) (models.User, error) {
	// A malformed id cannot match any row.
	if !validUUID(id) {
		return models.User{}, sql.ErrNoRows
	}
	return scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// List returns all accounts plus usage stats
// @Summary List accounts
// @Description All accounts (without password hashes) and user-cap stats
// @Tags users
// @Produce json
// @Success 200 {object} Response
// @Failure 403 {object} Response
// @Router /admin/users [get]
func (s *UserService) List(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.Query(`SELECT ` + userColumns + ` FROM users ORDER BY created_at`)
	if err != nil {
		SendInternalError(w, "[USERS]", err)
		return
	}
	defer rows.Close()

	users := []models.User{}
	stats := models.UserStats{MaxUsers: models.MaxUserAccounts}
	for rows.Next() {
		var u models.User
		err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Active,
			&u.CreatedBy, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
		if err != nil {
			SendInternalError(w, "[USERS]", err)
			return
		}
		if u.Role == models.RoleUser {
			stats.TotalUsers++
			if u.Active {
				stats.ActiveUsers++
			}
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		SendInternalError(w, "[USERS]", err)
		return
	}

	stats.RemainingSlots = models.MaxUserAccounts - stats.TotalUsers
	if stats.RemainingSlots < 0 {
		stats.RemainingSlots = 0
	}

	SendJSON(w, http.StatusOK, "", map[string]any{"users": users, "stats": stats})
}

// Get returns one account
// @Summary Get account
// @Tags users
// @Produce json
// @Param id path string true "Account ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /admin/users/{id} [get]
func (s *UserService) Get(w http.ResponseWriter, r *http.Request) {
	user, err := s.loadUser(chi.URLParam(r, "id"))
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		} else {
			SendInternalError(w, "[USERS]", err)
		}
		return
	}

	SendJSON(w, http.StatusOK, "", user)
}

// Create registers a new account
// @Summary Register account
// @Description Create an account. Creation of role=user accounts is capped;
// @Description registrations are serialized on an advisory lock and gated by
// @Description a conditional insert so concurrent requests cannot exceed it.
// @Tags users
// @Accept json
// @Produce json
// @Param request body CreateUserRequest true "Registration request"
// @Success 201 {object} Response
// @Failure 403 {object} Response
// @Failure 409 {object} Response
// @Router /auth/register [post]
func (s *UserService) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOr401(w, r)
	if !ok {
		return
	}

	var req CreateUserRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		SendInternalError(w, "[USERS]", err)
		return
	}

	id := uuid.NewString()
	email := strings.ToLower(req.Email)
	role := models.Role(req.Role)

	if role == models.RoleUser {
		// The advisory lock serializes concurrent registrations; under READ
		// COMMITTED the count alone would not see a concurrent uncommitted
		// insert. The lock is released at commit or rollback.
		tx, err := s.db.Begin()
		if err != nil {
			SendInternalError(w, "[USERS]", err)
			return
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`SELECT pg_advisory_xact_lock($1)`, userCapLockKey); err != nil {
			SendInternalError(w, "[USERS]", err)
			return
		}

		result, err := tx.Exec(`
            INSERT INTO users (id, name, email, password_hash, role, active, created_by, created_at, updated_at)
            SELECT $1, $2, $3, $4, $5, TRUE, $6, NOW(), NOW()
            WHERE (SELECT COUNT(*) FROM users WHERE role = $5) < $7
        `, id, req.Name, email, hash, role, p.ID, models.MaxUserAccounts)
		if err != nil {
			if isUniqueViolation(err) {
				SendErrorResponse(w, "Email already registered", http.StatusConflict, nil)
				return
			}
			SendInternalError(w, "[USERS]", err)
			return
		}

		affected, err := result.RowsAffected()
		if err != nil {
			SendInternalError(w, "[USERS]", err)
			return
		}
		if affected == 0 {
			log.Printf("[USERS] Registration refused - user limit reached (%d)", models.MaxUserAccounts)
			SendErrorResponse(w, "User limit reached", http.StatusForbidden, nil)
			return
		}

		if err := tx.Commit(); err != nil {
			SendInternalError(w, "[USERS]", err)
			return
		}
	} else {
		_, err := s.db.Exec(`
            INSERT INTO users (id, name, email, password_hash, role, active, created_by, created_at, updated_at)
            VALUES ($1, $2, $3, $4, $5, TRUE, $6, NOW(), NOW())
        `, id, req.Name, email, hash, role, p.ID)
		if err != nil {
			if isUniqueViolation(err) {
				SendErrorResponse(w, "Email already registered", http.StatusConflict, nil)
				return
			}
			SendInternalError(w, "[USERS]", err)
			return
		}
	}

	user, err := s.loadUser(id)
	if err != nil {
		SendInternalError(w, "[USERS]", err)
		return
	}

	ip, agent := RequestMeta(r)
	s.audit.Record(AuditEntry{
		Action:     models.AuditCreateUser,
		ActorID:    p.ID,
		ActorRole:  p.Role,
		TargetID:   id,
		TargetKind: models.TargetUser,
		Details:    models.Details{"email": email, "role": req.Role},
		IPAddress:  ip,
		UserAgent:  agent,
	})

	log.Printf("[USERS] Account created: %s (%s)", id, email)
	SendJSON(w, http.StatusCreated, "Account created", user)
}

// Update applies a partial account update
// @Summary Update account
// @Description Partial update of name, email, or role. Master admin
// @Description accounts cannot have their role changed.
// @Tags users
// @Accept json
// @Produce json
// @Param id path string true "Account ID"
// @Param request body UpdateUserRequest true "Update request"
// @Success 200 {object} Response
// @Failure 403 {object} Response
// @Failure 404 {object} Response
// @Failure 409 {object} Response
// @Router /admin/users/{id} [put]
func (s *UserService) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOr401(w, r)
	if !ok {
		return
	}

	target, err := s.loadUser(chi.URLParam(r, "id"))
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		} else {
			SendInternalError(w, "[USERS]", err)
		}
		return
	}

	var req UpdateUserRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if req.Role != nil && target.Role == models.RoleMasterAdmin && models.Role(*req.Role) != models.RoleMasterAdmin {
		SendErrorResponse(w, "Master admin role cannot be changed", http.StatusForbidden, nil)
		return
	}

	name, email, role := target.Name, target.Email, target.Role
	if req.Name != nil {
		name = *req.Name
	}
	if req.Email != nil {
		email = strings.ToLower(*req.Email)
	}
	if req.Role != nil {
		role = models.Role(*req.Role)
	}

	_, err = s.db.Exec(`
        UPDATE users SET name = $1, email = $2, role = $3, updated_at = NOW() WHERE id = $4
    `, name, email, role, target.ID)
	if err != nil {
		if isUniqueViolation(err) {
			SendErrorResponse(w, "Email already registered", http.StatusConflict, nil)
			return
		}
		SendInternalError(w, "[USERS]", err)
		return
	}

	user, err := s.loadUser(target.ID)
	if err != nil {
		SendInternalError(w, "[USERS]", err)
		return
	}

	ip, agent := RequestMeta(r)
	s.audit.Record(AuditEntry{
		Action:     models.AuditUpdateUser,
		ActorID:    p.ID,
		ActorRole:  p.Role,
		TargetID:   target.ID,
		TargetKind: models.TargetUser,
		IPAddress:  ip,
		UserAgent:  agent,
	})

	SendJSON(w, http.StatusOK, "Account updated", user)
}

// Activate re-enables an account
// @Summary Activate account
// @Tags users
// @Produce json
// @Param id path string true "Account ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /admin/users/{id}/activate [put]
func (s *UserService) Activate(w http.ResponseWriter, r *http.Request) {
	s.setActive(w, r, true)
}

// Deactivate disables an account
// @Summary Deactivate account
// @Description Master admin accounts cannot be deactivated.
// @Tags users
// @Produce json
// @Param id path string true "Account ID"
// @Success 200 {object} Response
// @Failure 403 {object} Response
// @Failure 404 {object} Response
// @Router /admin/users/{id}/deactivate [put]
func (s *UserService) Deactivate(w http.ResponseWriter, r *http.Request) {
	s.setActive(w, r, false)
}

func (s *UserService) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	p, ok := principalOr401(w, r)
	if !ok {
		return
	}

	target, err := s.loadUser(chi.URLParam(r, "id"))
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		} else {
			SendInternalError(w, "[USERS]", err)
		}
		return
	}

	if !active && target.Role == models.RoleMasterAdmin {
		SendErrorResponse(w, "Master admin cannot be deactivated", http.StatusForbidden, nil)
		return
	}

	if _, err := s.db.Exec(`UPDATE users SET active = $1, updated_at = NOW() WHERE id = $2`, active, target.ID); err != nil {
		SendInternalError(w, "[USERS]", err)
		return
	}

	action := models.AuditDeactivateUser
	message := "Account deactivated"
	if active {
		action = models.AuditActivateUser
		message = "Account activated"
	}

	ip, agent := RequestMeta(r)
	s.audit.Record(AuditEntry{
		Action:     action,
		ActorID:    p.ID,
		ActorRole:  p.Role,
		TargetID:   target.ID,
		TargetKind: models.TargetUser,
		IPAddress:  ip,
		UserAgent:  agent,
	})

	log.Printf("[USERS] %s: %s", message, target.ID)
	SendJSON(w, http.StatusOK, message, nil)
}

// Delete removes a user account permanently
// @Summary Delete account
// @Description Hard-delete a user account. Master admin accounts cannot be
// @Description deleted. The audit entry keeps a snapshot of the identity
// @Description since the row itself is gone.
// @Tags users
// @Produce json
// @Param id path string true "Account ID"
// @Success 200 {object} Response
// @Failure 403 {object} Response
// @Failure 404 {object} Response
// @Router /admin/users/{id} [delete]
func (s *UserService) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOr401(w, r)
	if !ok {
		return
	}

	target, err := s.loadUser(chi.URLParam(r, "id"))
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		} else {
			SendInternalError(w, "[USERS]", err)
		}
		return
	}

	if target.Role == models.RoleMasterAdmin {
		SendErrorResponse(w, "Master admin cannot be deleted", http.StatusForbidden, nil)
		return
	}

	if _, err := s.db.Exec(`DELETE FROM users WHERE id = $1`, target.ID); err != nil {
		SendInternalError(w, "[USERS]", err)
		return
	}

	ip, agent := RequestMeta(r)
	s.audit.Record(AuditEntry{
		Action:     models.AuditDeleteUser,
		ActorID:    p.ID,
		ActorRole:  p.Role,
		TargetID:   target.ID,
		TargetKind: models.TargetUser,
		Details:    models.Details{"name": target.Name, "email": target.Email},
		IPAddress:  ip,
		UserAgent:  agent,
	})

	log.Printf("[USERS] Account deleted: %s (%s)", target.ID, target.Email)
	SendJSON(w, http.StatusOK, "Account deleted", nil)
}

// ResetPassword sets a new password without the old one (admin override)
// @Summary Reset password
// @Tags users
// @Accept json
// @Produce json
// @Param id path string true "Account ID"
// @Param request body ResetPasswordRequest true "Reset request"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /admin/users/{id}/reset-password [put]
func (s *UserService) ResetPassword(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOr401(w, r)
	if !ok {
		return
	}

	target, err := s.loadUser(chi.URLParam(r, "id"))
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		} else {
			SendInternalError(w, "[USERS]", err)
		}
		return
	}

	var req ResetPasswordRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	hash, err := HashPassword(req.NewPassword)
	if err != nil {
		SendInternalError(w, "[USERS]", err)
		return
	}

	if _, err := s.db.Exec(`UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2`, hash, target.ID); err != nil {
		SendInternalError(w, "[USERS]", err)
		return
	}

	ip, agent := RequestMeta(r)
	s.audit.Record(AuditEntry{
		Action:     models.AuditResetPassword,
		ActorID:    p.ID,
		ActorRole:  p.Role,
		TargetID:   target.ID,
		TargetKind: models.TargetUser,
		IPAddress:  ip,
		UserAgent:  agent,
	})

	log.Printf("[USERS] Password reset for %s", target.ID)
	SendJSON(w, http.StatusOK, "Password reset", nil)
}
