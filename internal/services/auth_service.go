package services

import (
	"database/sql"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerdesk/backend/internal/auth"
	"github.com/ledgerdesk/backend/internal/models"
)

type AuthService struct {
	db        *sql.DB
	tokens    *auth.TokenService
	audit     *AuditRecorder
	validator *ValidationHelper
}

// LoginRequest represents the login request payload
// @Description Login request structure
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email" example:"admin@example.com"`
	Password string `json:"password" validate:"required,min=6" example:"admin123"`
}

// ChangePasswordRequest represents the change-password payload
// @Description Change password request structure
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=6"`
}

// LoginResponse carries the issued token and the account
// @Description Login response structure
type LoginResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

func NewAuthService(db *sql.DB, tokens *auth.TokenService, audit *AuditRecorder) *AuthService {
	return &AuthService{
		db:        db,
		tokens:    tokens,
		audit:     audit,
		validator: NewValidationHelper(),
	}
}

// Login authenticates an account and issues a session token
// @Summary Login
// @Description Authenticate with email and password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} Response
// @Failure 401 {object} Response
// @Failure 403 {object} Response
// @Router /auth/login [post]
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Login attempt from IP: %s", r.RemoteAddr)

	var req LoginRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var user models.User
	err := s.db.QueryRow(`
        SELECT id, name, email, password_hash, role, active, created_by, last_login_at, created_at, updated_at
        FROM users WHERE LOWER(email) = LOWER($1)
    `, req.Email).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Role,
		&user.Active, &user.CreatedBy, &user.LastLoginAt, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		log.Printf("[AUTH] Login failed - unknown email: %s", req.Email)
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	if !VerifyPassword(req.Password, user.PasswordHash) {
		log.Printf("[AUTH] Login failed - bad password for %s", req.Email)
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	if !user.Active {
		log.Printf("[AUTH] Login refused - deactivated account %s", user.ID)
		SendErrorResponse(w, "Account deactivated", http.StatusForbidden, nil)
		return
	}

	now := time.Now()
	if _, err := s.db.Exec(`UPDATE users SET last_login_at = $1, updated_at = $1 WHERE id = $2`, now, user.ID); err != nil {
		log.Printf("[AUTH] Failed to update last login for %s: %v", user.ID, err)
	}
	user.LastLoginAt = &now
	user.PasswordHash = ""

	token, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		SendInternalError(w, "[AUTH]", err)
		return
	}

	ip, agent := RequestMeta(r)
	s.audit.Record(AuditEntry{
		Action:    models.AuditLogin,
		ActorID:   user.ID,
		ActorRole: user.Role,
		IPAddress: ip,
		UserAgent: agent,
	})

	log.Printf("[AUTH] Login successful for %s", user.ID)
	SendJSON(w, http.StatusOK, "Login successful", LoginResponse{Token: token, User: user})
}

// Me returns the authenticated account
// @Summary Current account
// @Description Return the authenticated account's profile
// @Tags auth
// @Produce json
// @Success 200 {object} Response
// @Failure 401 {object} Response
// @Router /auth/me [get]
func (s *AuthService) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOr401(w, r)
	if !ok {
		return
	}

	var user models.User
	err := s.db.QueryRow(`
        SELECT id, name, email, role, active, created_by, last_login_at, created_at, updated_at
        FROM users WHERE id = $1
    `, p.ID).Scan(&user.ID, &user.Name, &user.Email, &user.Role, &user.Active,
		&user.CreatedBy, &user.LastLoginAt, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		} else {
			SendInternalError(w, "[AUTH]", err)
		}
		return
	}

	SendJSON(w, http.StatusOK, "", user)
}

// Logout records the logout action
// @Summary Logout
// @Description Record logout; token discard is client-side, there is no
// @Description server-side revocation list
// @Tags auth
// @Produce json
// @Success 200 {object} Response
// @Router /auth/logout [post]
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOr401(w, r)
	if !ok {
		return
	}

	ip, agent := RequestMeta(r)
	s.audit.Record(AuditEntry{
		Action:    models.AuditLogout,
		ActorID:   p.ID,
		ActorRole: p.Role,
		IPAddress: ip,
		UserAgent: agent,
	})

	SendJSON(w, http.StatusOK, "Logout successful", nil)
}

// ChangePassword replaces the caller's password
// @Summary Change password
// @Description Change the caller's password after verifying the current one
// @Tags auth
// @Accept json
// @Produce json
// @Param request body ChangePasswordRequest true "Change password request"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 401 {object} Response
// @Router /auth/change-password [put]
func (s *AuthService) ChangePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOr401(w, r)
	if !ok {
		return
	}

	var req ChangePasswordRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var currentHash string
	if err := s.db.QueryRow(`SELECT password_hash FROM users WHERE id = $1`, p.ID).Scan(&currentHash); err != nil {
		SendInternalError(w, "[AUTH]", err)
		return
	}

	if !VerifyPassword(req.CurrentPassword, currentHash) {
		SendErrorResponse(w, "Current password is incorrect", http.StatusUnauthorized, nil)
		return
	}

	newHash, err := HashPassword(req.NewPassword)
	if err != nil {
		SendInternalError(w, "[AUTH]", err)
		return
	}

	if _, err := s.db.Exec(`UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2`, newHash, p.ID); err != nil {
		SendInternalError(w, "[AUTH]", err)
		return
	}

	ip, agent := RequestMeta(r)
	s.audit.Record(AuditEntry{
		Action:    models.AuditChangePassword,
		ActorID:   p.ID,
		ActorRole: p.Role,
		IPAddress: ip,
		UserAgent: agent,
	})

	log.Printf("[AUTH] Password changed for %s", p.ID)
	SendJSON(w, http.StatusOK, "Password changed", nil)
}

// SeedMasterAdmin creates the initial master admin account when no
// master_admin row exists yet. Runs once at startup.
func SeedMasterAdmin(db *sql.DB, name, email, password string) error {
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM users WHERE role = $1`, models.RoleMasterAdmin).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
        INSERT INTO users (id, name, email, password_hash, role, active, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, TRUE, NOW(), NOW())
    `, uuid.NewString(), name, strings.ToLower(email), hash, models.RoleMasterAdmin)
	if err != nil {
		return err
	}

	log.Printf("[AUTH] Seeded master admin account %s", email)
	return nil
}
