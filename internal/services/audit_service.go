package services

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerdesk/backend/internal/middleware"
	"github.com/ledgerdesk/backend/internal/models"
)

// AuditEntry is one recordable event.
type AuditEntry struct {
	Action     models.AuditAction
	ActorID    string
	ActorRole  models.Role
	TargetID   string
	TargetKind string
	Details    models.Details
	IPAddress  string
	UserAgent  string
}

// AuditRecorder writes append-only audit rows. Writes are best-effort: a
// failed insert is logged server-side and never propagated, so it can never
// abort or roll back the business operation that triggered it.
type AuditRecorder struct {
	db *sql.DB
}

func NewAuditRecorder(db *sql.DB) *AuditRecorder {
	return &AuditRecorder{db: db}
}

// Record is the post-commit hook invoked after a mutating operation's
// primary persistence succeeds.
func (a *AuditRecorder) Record(e AuditEntry) {
	var targetID, targetKind *string
	if e.TargetID != "" {
		targetID = &e.TargetID
		targetKind = &e.TargetKind
	}

	_, err := a.db.Exec(`
        INSERT INTO audit_logs (id, action, actor_id, actor_role, target_id, target_kind, details, ip_address, user_agent, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
    `, uuid.NewString(), e.Action, e.ActorID, e.ActorRole, targetID, targetKind, e.Details, e.IPAddress, e.UserAgent)
	if err != nil {
		log.Printf("[AUDIT] Failed to record %s by %s: %v", e.Action, e.ActorID, err)
	}
}

// RequestMeta extracts the client origin for audit entries.
func RequestMeta(r *http.Request) (ipAddress, userAgent string) {
	ipAddress = r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ipAddress = strings.TrimSpace(strings.Split(forwarded, ",")[0])
	} else if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		ipAddress = realIP
	}
	return ipAddress, r.UserAgent()
}

// AuditService serves the master-admin audit trail endpoints.
type AuditService struct {
	db *sql.DB
}

func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// ListLogs returns audit entries with optional filters
// @Summary List audit logs
// @Description Get audit log entries filtered by action, user, and date range
// @Tags audit
// @Produce json
// @Param action query string false "Filter by action tag"
// @Param userId query string false "Filter by actor ID"
// @Param from query string false "Start date (YYYY-MM-DD)"
// @Param to query string false "End date (YYYY-MM-DD)"
// @Param limit query int false "Page size (default 50, max 200)"
// @Param offset query int false "Page offset"
// @Success 200 {object} Response
// @Failure 403 {object} Response
// @Router /admin/audit-logs [get]
func (s *AuditService) ListLogs(w http.ResponseWriter, r *http.Request) {
	var conditions []string
	var args []any
	argIndex := 1

	if action := r.URL.Query().Get("action"); action != "" {
		conditions = append(conditions, fmt.Sprintf("action = $%d", argIndex))
		args = append(args, action)
		argIndex++
	}

	if userID := r.URL.Query().Get("userId"); userID != "" {
		if !validUUID(userID) {
			SendErrorResponse(w, "Invalid userId, expected a UUID", http.StatusBadRequest, nil)
			return
		}
		conditions = append(conditions, fmt.Sprintf("actor_id = $%d", argIndex))
		args = append(args, userID)
		argIndex++
	}

	if from := r.URL.Query().Get("from"); from != "" {
		day, err := time.Parse("2006-01-02", from)
		if err != nil {
			SendErrorResponse(w, "Invalid 'from' date, expected YYYY-MM-DD", http.StatusBadRequest, nil)
			return
		}
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIndex))
		args = append(args, day)
		argIndex++
	}

	if to := r.URL.Query().Get("to"); to != "" {
		day, err := time.Parse("2006-01-02", to)
		if err != nil {
			SendErrorResponse(w, "Invalid 'to' date, expected YYYY-MM-DD", http.StatusBadRequest, nil)
			return
		}
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIndex))
		args = append(args, day.AddDate(0, 0, 1))
		argIndex++
	}

	limit, offset := pageParams(r, 50, 200)

	query := `
        SELECT id, action, actor_id, actor_role, target_id, target_kind, details, ip_address, user_agent, created_at
        FROM audit_logs
    `
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		SendInternalError(w, "[AUDIT]", err)
		return
	}
	defer rows.Close()

	logs, err := scanAuditLogs(rows)
	if err != nil {
		SendInternalError(w, "[AUDIT]", err)
		return
	}

	SendJSON(w, http.StatusOK, "", map[string]any{
		"logs":   logs,
		"count":  len(logs),
		"limit":  limit,
		"offset": offset,
	})
}

// Stats returns audit activity counts
// @Summary Audit log statistics
// @Description Counts by action plus totals for the last 24 hours
// @Tags audit
// @Produce json
// @Success 200 {object} Response
// @Router /admin/audit-logs/stats [get]
func (s *AuditService) Stats(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.Query(`
        SELECT action, COUNT(*) FROM audit_logs GROUP BY action ORDER BY action
    `)
	if err != nil {
		SendInternalError(w, "[AUDIT]", err)
		return
	}
	defer rows.Close()

	type actionCount struct {
		Action string `json:"action"`
		Count  int    `json:"count"`
	}

	byAction := []actionCount{}
	total := 0
	for rows.Next() {
		var ac actionCount
		if err := rows.Scan(&ac.Action, &ac.Count); err != nil {
			SendInternalError(w, "[AUDIT]", err)
			return
		}
		total += ac.Count
		byAction = append(byAction, ac)
	}
	if err := rows.Err(); err != nil {
		SendInternalError(w, "[AUDIT]", err)
		return
	}

	var last24h int
	err = s.db.QueryRow(`
        SELECT COUNT(*) FROM audit_logs WHERE created_at >= NOW() - INTERVAL '24 hours'
    `).Scan(&last24h)
	if err != nil {
		SendInternalError(w, "[AUDIT]", err)
		return
	}

	SendJSON(w, http.StatusOK, "", map[string]any{
		"total":     total,
		"last_24h":  last24h,
		"by_action": byAction,
	})
}

// Recent returns the newest audit entries
// @Summary Recent audit logs
// @Description Newest audit entries, default 20
// @Tags audit
// @Produce json
// @Param limit query int false "Number of entries (max 100)"
// @Success 200 {object} Response
// @Router /admin/audit-logs/recent [get]
func (s *AuditService) Recent(w http.ResponseWriter, r *http.Request) {
	limit, _ := pageParams(r, 20, 100)

	rows, err := s.db.Query(`
        SELECT id, action, actor_id, actor_role, target_id, target_kind, details, ip_address, user_agent, created_at
        FROM audit_logs
        ORDER BY created_at DESC
        LIMIT $1
    `, limit)
	if err != nil {
		SendInternalError(w, "[AUDIT]", err)
		return
	}
	defer rows.Close()

	logs, err := scanAuditLogs(rows)
	if err != nil {
		SendInternalError(w, "[AUDIT]", err)
		return
	}

	SendJSON(w, http.StatusOK, "", map[string]any{"logs": logs, "count": len(logs)})
}

func scanAuditLogs(rows *sql.Rows) ([]models.AuditLog, error) {
	logs := []models.AuditLog{}
	for rows.Next() {
		var entry models.AuditLog
		err := rows.Scan(&entry.ID, &entry.Action, &entry.ActorID, &entry.ActorRole,
			&entry.TargetID, &entry.TargetKind, &entry.Details, &entry.IPAddress,
			&entry.UserAgent, &entry.CreatedAt)
		if err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

// pageParams parses limit/offset query parameters with a default and cap.
func pageParams(r *http.Request, defaultLimit, maxLimit int) (limit, offset int) {
	limit = defaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= maxLimit {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}
	return limit, offset
}

// principalOr401 loads the authenticated principal or writes the failure.
func principalOr401(w http.ResponseWriter, r *http.Request) (models.Principal, bool) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Authentication required", http.StatusUnauthorized, nil)
	}
	return p, ok
}
