package services

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ledgerdesk/backend/internal/models"
	"github.com/shopspring/decimal"
)

// LedgerService manages the named account buckets transactions post against.
type LedgerService struct {
	db        *sql.DB
	audit     *AuditRecorder
	validator *ValidationHelper
}

// CreateLedgerRequest represents the ledger creation payload
// @Description Ledger creation structure
type CreateLedgerRequest struct {
	Name        string          `json:"name" validate:"required,min=2,max=100" example:"Cash"`
	Type        string          `json:"type" validate:"required,oneof=asset liability income expense equity" example:"asset"`
	Balance     decimal.Decimal `json:"balance"`
	Description string          `json:"description,omitempty" validate:"max=500"`
}

// UpdateLedgerRequest represents a partial ledger update
// @Description Ledger update structure
type UpdateLedgerRequest struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=2,max=100"`
	Type        *string `json:"type,omitempty" validate:"omitempty,oneof=asset liability income expense equity"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=500"`
}

func NewLedgerService(db *sql.DB, audit *AuditRecorder) *LedgerService {
	return &LedgerService{
		db:        db,
		audit:     audit,
		validator: NewValidationHelper(),
	}
}

const ledgerColumns = `id, name, type, balance, description, created_by, active, created_at, updated_at`

func (s *LedgerService) loadLedger(id string) (models.Ledger, error) {
	// A malformed id cannot match any row.
	if !validUUID(id) {
		return models.Ledger{}, sql.ErrNoRows
	}
	var l models.Ledger
	err := s.db.QueryRow(`SELECT `+ledgerColumns+` FROM ledgers WHERE id = $1 AND active`, id).
		Scan(&l.ID, &l.Name, &l.Type, &l.Balance, &l.Description, &l.CreatedBy, &l.Active, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

// List returns active ledgers with optional filters
// @Summary List ledgers
// @Description Active ledgers, optionally filtered by type and name search
// @Tags ledgers
// @Produce json
// @Param type query string false "Ledger type"
// @Param search query string false "Case-insensitive name search"
// @Param sort query string false "Sort field: name | balance | created_at"
// @Success 200 {object} Response
// @Router /ledgers [get]
func (s *LedgerService) List(w http.ResponseWriter, r *http.Request) {
	var conditions []string
	var args []any
	argIndex := 1

	conditions = append(conditions, "active")

	if ledgerType := r.URL.Query().Get("type"); ledgerType != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIndex))
		args = append(args, ledgerType)
		argIndex++
	}

	if search := r.URL.Query().Get("search"); search != "" {
		conditions = append(conditions, fmt.Sprintf("name ILIKE $%d", argIndex))
		args = append(args, "%"+search+"%")
		argIndex++
	}

	// Sort column is whitelisted, never interpolated from raw input.
	orderBy := "name"
	switch r.URL.Query().Get("sort") {
	case "balance":
		orderBy = "balance DESC"
	case "created_at":
		orderBy = "created_at DESC"
	}

	query := `SELECT ` + ledgerColumns + ` FROM ledgers WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY ` + orderBy

	rows, err := s.db.Query(query, args...)
	if err != nil {
		SendInternalError(w, "[LEDGER]", err)
		return
	}
	defer rows.Close()

	ledgers := []models.Ledger{}
	for rows.Next() {
		var l models.Ledger
		err := rows.Scan(&l.ID, &l.Name, &l.Type, &l.Balance, &l.Description,
			&l.CreatedBy, &l.Active, &l.CreatedAt, &l.UpdatedAt)
		if err != nil {
			SendInternalError(w, "[LEDGER]", err)
			return
		}
		ledgers = append(ledgers, l)
	}
	if err := rows.Err(); err != nil {
		SendInternalError(w, "[LEDGER]", err)
		return
	}

	SendJSON(w, http.StatusOK, "", map[string]any{"ledgers": ledgers, "count": len(ledgers)})
}

// Get returns one active ledger
// @Summary Get ledger
// @Tags ledgers
// @Produce json
// @Param id path string true "Ledger ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /ledgers/{id} [get]
func (s *LedgerService) Get(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.loadLedger(chi.URLParam(r, "id"))
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Ledger not found", http.StatusNotFound, nil)
		} else {
			SendInternalError(w, "[LEDGER]", err)
		}
		return
	}

	SendJSON(w, http.StatusOK, "", ledger)
}

// Create adds a ledger
// @Summary Create ledger
// @Description Ledger names are unique (case-insensitive) among active
// @Description ledgers; the uniqueness lives in a partial unique index.
// @Tags ledgers
// @Accept json
// @Produce json
// @Param request body CreateLedgerRequest true "Ledger"
// @Success 201 {object} Response
// @Failure 400 {object} Response
// @Failure 409 {object} Response
// @Router /ledgers [post]
func (s *LedgerService) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOr401(w, r)
	if !ok {
		return
	}

	var req CreateLedgerRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if req.Balance.IsNegative() {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest,
			fmt.Errorf("balance must not be negative"))
		return
	}

	id := uuid.NewString()
	_, err := s.db.Exec(`
        INSERT INTO ledgers (id, name, type, balance, description, created_by, active, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, TRUE, NOW(), NOW())
    `, id, req.Name, req.Type, req.Balance, req.Description, p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			SendErrorResponse(w, "A ledger with this name already exists", http.StatusConflict, nil)
			return
		}
		SendInternalError(w, "[LEDGER]", err)
		return
	}

	ledger, err := s.loadLedger(id)
	if err != nil {
		SendInternalError(w, "[LEDGER]", err)
		return
	}

	ip, agent := RequestMeta(r)
	s.audit.Record(AuditEntry{
		Action:     models.AuditCreateLedger,
		ActorID:    p.ID,
		ActorRole:  p.Role,
		TargetID:   id,
		TargetKind: models.TargetLedger,
		Details:    models.Details{"name": req.Name, "type": req.Type},
		IPAddress:  ip,
		UserAgent:  agent,
	})

	log.Printf("[LEDGER] Created %s (%s)", req.Name, id)
	SendJSON(w, http.StatusCreated, "Ledger created", ledger)
}

// Update applies a partial ledger update
// @Summary Update ledger
// @Description Partial merge of name, type, description. Balance is never
// @Description updated here; only transaction postings mutate it.
// @Tags ledgers
// @Accept json
// @Produce json
// @Param id path string true "Ledger ID"
// @Param request body UpdateLedgerRequest true "Update"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Failure 409 {object} Response
// @Router /ledgers/{id} [put]
func (s *LedgerService) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOr401(w, r)
	if !ok {
		return
	}

	target, err := s.loadLedger(chi.URLParam(r, "id"))
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Ledger not found", http.StatusNotFound, nil)
		} else {
			SendInternalError(w, "[LEDGER]", err)
		}
		return
	}

	var req UpdateLedgerRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	name, ledgerType, description := target.Name, target.Type, target.Description
	if req.Name != nil {
		name = *req.Name
	}
	if req.Type != nil {
		ledgerType = *req.Type
	}
	if req.Description != nil {
		description = *req.Description
	}

	_, err = s.db.Exec(`
        UPDATE ledgers SET name = $1, type = $2, description = $3, updated_at = NOW() WHERE id = $4
    `, name, ledgerType, description, target.ID)
	if err != nil {
		if isUniqueViolation(err) {
			SendErrorResponse(w, "A ledger with this name already exists", http.StatusConflict, nil)
			return
		}
		SendInternalError(w, "[LEDGER]", err)
		return
	}

	ledger, err := s.loadLedger(target.ID)
	if err != nil {
		SendInternalError(w, "[LEDGER]", err)
		return
	}

	ip, agent := RequestMeta(r)
	s.audit.Record(AuditEntry{
		Action:     models.AuditUpdateLedger,
		ActorID:    p.ID,
		ActorRole:  p.Role,
		TargetID:   target.ID,
		TargetKind: models.TargetLedger,
		IPAddress:  ip,
		UserAgent:  agent,
	})

	SendJSON(w, http.StatusOK, "Ledger updated", ledger)
}

// Delete soft-removes a ledger
// @Summary Delete ledger
// @Description Sets active=false. Refused while any live transaction still
// @Description references the ledger as debit or credit.
// @Tags ledgers
// @Produce json
// @Param id path string true "Ledger ID"
// @Success 200 {object} Response
// @Failure 403 {object} Response
// @Failure 404 {object} Response
// @Failure 409 {object} Response
// @Router /ledgers/{id} [delete]
func (s *LedgerService) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOr401(w, r)
	if !ok {
		return
	}

	target, err := s.loadLedger(chi.URLParam(r, "id"))
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Ledger not found", http.StatusNotFound, nil)
		} else {
			SendInternalError(w, "[LEDGER]", err)
		}
		return
	}

	var refs int
	err = s.db.QueryRow(`
        SELECT COUNT(*) FROM transactions
        WHERE (debit_ledger_id = $1 OR credit_ledger_id = $1) AND NOT is_deleted
    `, target.ID).Scan(&refs)
	if err != nil {
		SendInternalError(w, "[LEDGER]", err)
		return
	}

	if refs > 0 {
		SendErrorResponse(w, fmt.Sprintf("Ledger has %d transactions", refs), http.StatusConflict, nil)
		return
	}

	if _, err := s.db.Exec(`UPDATE ledgers SET active = FALSE, updated_at = NOW() WHERE id = $1`, target.ID); err != nil {
		SendInternalError(w, "[LEDGER]", err)
		return
	}

	ip, agent := RequestMeta(r)
	s.audit.Record(AuditEntry{
		Action:     models.AuditDeleteLedger,
		ActorID:    p.ID,
		ActorRole:  p.Role,
		TargetID:   target.ID,
		TargetKind: models.TargetLedger,
		Details:    models.Details{"name": target.Name},
		IPAddress:  ip,
		UserAgent:  agent,
	})

	log.Printf("[LEDGER] Deleted %s (%s)", target.Name, target.ID)
	SendJSON(w, http.StatusOK, "Ledger deleted", nil)
}

// Summary aggregates active ledgers by type
// @Summary Ledger summary
// @Description Count and total balance per type plus the grand total
// @Tags ledgers
// @Produce json
// @Success 200 {object} Response
// @Router /ledgers/summary [get]
func (s *LedgerService) Summary(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.Query(`
        SELECT type, COUNT(*), COALESCE(SUM(balance), 0)
        FROM ledgers
        WHERE active
        GROUP BY type
        ORDER BY type
    `)
	if err != nil {
		SendInternalError(w, "[LEDGER]", err)
		return
	}
	defer rows.Close()

	summary := models.LedgerSummary{ByType: []models.LedgerTypeSummary{}}
	for rows.Next() {
		var ts models.LedgerTypeSummary
		if err := rows.Scan(&ts.Type, &ts.Count, &ts.TotalBalance); err != nil {
			SendInternalError(w, "[LEDGER]", err)
			return
		}
		summary.TotalBalance = summary.TotalBalance.Add(ts.TotalBalance)
		summary.ByType = append(summary.ByType, ts)
	}
	if err := rows.Err(); err != nil {
		SendInternalError(w, "[LEDGER]", err)
		return
	}

	SendJSON(w, http.StatusOK, "", summary)
}
