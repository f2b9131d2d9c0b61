package services

import (
	"database/sql"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ledgerdesk/backend/internal/models"
	"github.com/shopspring/decimal"
)

// voucherAttempts bounds retries when a generated voucher number collides
// with the unique index.
const voucherAttempts = 5

// TransactionService manages vouchers and the ledger balance postings they
// trigger.
type TransactionService struct {
	db        *sql.DB
	audit     *AuditRecorder
	validator *ValidationHelper
}

// CreateTransactionRequest represents the voucher creation payload
// @Description Transaction creation structure
type CreateTransactionRequest struct {
	Date           string          `json:"date,omitempty"`
	DebitLedgerID  string          `json:"debit_ledger_id" validate:"required,uuid"`
	CreditLedgerID string          `json:"credit_ledger_id" validate:"required,uuid"`
	Amount         decimal.Decimal `json:"amount"`
	Narration      string          `json:"narration" validate:"max=200"`
	Type           string          `json:"type" validate:"required,oneof=payment receipt journal contra sales purchase"`
}

// UpdateTransactionRequest represents a partial voucher update
// @Description Transaction update structure
type UpdateTransactionRequest struct {
	Date      *string          `json:"date,omitempty"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Narration *string          `json:"narration,omitempty" validate:"omitempty,max=200"`
	Type      *string          `json:"type,omitempty" validate:"omitempty,oneof=payment receipt journal contra sales purchase"`
}

func NewTransactionService(db *sql.DB, audit *AuditRecorder) *TransactionService {
	return &TransactionService{
		db:        db,
		audit:     audit,
		validator: NewValidationHelper(),
	}
}

const txnColumns = `t.id, t.voucher_no, t.date, t.debit_ledger_id, t.credit_ledger_id,
           t.amount, t.narration, t.type, t.created_by, t.is_deleted, t.deleted_at, t.deleted_by,
           t.created_at, t.updated_at, dl.name, cl.name`

const txnFrom = ` FROM transactions t
        JOIN ledgers dl ON dl.id = t.debit_ledger_id
        JOIN ledgers cl ON cl.id = t.credit_ledger_id`

// loadLive fetches a non-deleted transaction. A malformed id cannot match
// any row.
func (s *TransactionService) loadLive(id string) (models.Transaction, error) {
	if !validUUID(id) {
		return models.Transaction{}, sql.ErrNoRows
	}
	return scanTxn(s.db.QueryRow(`SELECT `+txnColumns+txnFrom+` WHERE t.id = $1 AND NOT t.is_deleted`, id))
}

func scanTxn(scanner interface{ Scan(...any) error }) (models.Transaction, error) {
	var t models.Transaction
	err := scanner.Scan(&t.ID, &t.VoucherNo, &t.Date, &t.DebitLedgerID, &t.CreditLedgerID,
		&t.Amount, &t.Narration, &t.Type, &t.CreatedBy, &t.IsDeleted, &t.DeletedAt, &t.DeletedBy,
		&t.CreatedAt, &t.UpdatedAt, &t.DebitLedgerName, &t.CreditLedgerName)
	return t, err
}

// loadOwned fetches a live transaction and enforces the ownership stage of
// the pipeline: master admin bypasses, anyone else must be the creator. On
// failure the response has already been written.
func (s *TransactionService) loadOwned(w http.ResponseWriter, p models.Principal, id string) (models.Transaction, bool) {
	txn, err := s.loadLive(id)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		} else {
			SendInternalError(w, "[TXN]", err)
		}
		return models.Transaction{}, false
	}

	if !p.IsMasterAdmin() && txn.CreatedBy != p.ID {
		SendErrorResponse(w, "You can only modify your own transactions", http.StatusForbidden, nil)
		return models.Transaction{}, false
	}

	return txn, true
}

// txnScope appends the caller-visibility condition: non-admin callers only
// ever see their own transactions.
func txnScope(p models.Principal, conditions []string, args []any, argIndex int) ([]string, []any, int) {
	if !p.IsMasterAdmin() {
		conditions = append(conditions, fmt.Sprintf("t.created_by = $%d", argIndex))
		args = append(args, p.ID)
		argIndex++
	}
	return conditions, args, argIndex
}

func dateRangeConditions(r *http.Request, conditions []string, args []any, argIndex int) ([]string, []any, int, error) {
	if from := r.URL.Query().Get("from"); from != "" {
		day, err := time.Parse("2006-01-02", from)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("invalid 'from' date, expected YYYY-MM-DD")
		}
		conditions = append(conditions, fmt.Sprintf("t.date >= $%d", argIndex))
		args = append(args, day)
		argIndex++
	}
	if to := r.URL.Query().Get("to"); to != "" {
		day, err := time.Parse("2006-01-02", to)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("invalid 'to' date, expected YYYY-MM-DD")
		}
		conditions = append(conditions, fmt.Sprintf("t.date <= $%d", argIndex))
		args = append(args, day)
		argIndex++
	}
	return conditions, args, argIndex, nil
}

// List returns live transactions visible to the caller
// @Summary List transactions
// @Description Paginated live transactions. Non-admin callers are scoped to
// @Description their own vouchers.
// @Tags transactions
// @Produce json
// @Param from query string false "Start date (YYYY-MM-DD)"
// @Param to query string false "End date (YYYY-MM-DD)"
// @Param type query string false "Voucher type"
// @Param limit query int false "Page size (default 50, max 200)"
// @Param offset query int false "Page offset"
// @Success 200 {object} Response
// @Router /transactions [get]
func (s *TransactionService) List(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOr401(w, r)
	if !ok {
		return
	}

	conditions := []string{"NOT t.is_deleted"}
	var args []any
	argIndex := 1

	conditions, args, argIndex = txnScope(p, conditions, args, argIndex)

	if txnType := r.URL.Query().Get("type"); txnType != "" {
		conditions = append(conditions, fmt.Sprintf("t.type = $%d", argIndex))
		args = append(args, txnType)
		argIndex++
	}

	var err error
	conditions, args, argIndex, err = dateRangeConditions(r, conditions, args, argIndex)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	limit, offset := pageParams(r, 50, 200)

	query := `SELECT ` + txnColumns + txnFrom + ` WHERE ` + strings.Join(conditions, " AND ") +
		fmt.Sprintf(" ORDER BY t.date DESC, t.created_at DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		SendInternalError(w, "[TXN]", err)
		return
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		txn, err := scanTxn(rows)
		if err != nil {
			SendInternalError(w, "[TXN]", err)
			return
		}
		transactions = append(transactions, txn)
	}
	if err := rows.Err(); err != nil {
		SendInternalError(w, "[TXN]", err)
		return
	}

	SendJSON(w, http.StatusOK, "", map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
		"limit":        limit,
		"offset":       offset,
	})
}

// Get returns one live transaction
// @Summary Get transaction
// @Description 404 for absent or soft-deleted vouchers; non-admin callers
// @Description may only read their own.
// @Tags transactions
// @Produce json
// @Param id path string true "Transaction ID"
// @Success 200 {object} Response
// @Failure 403 {object} Response
// @Failure 404 {object} Response
// @Router /transactions/{id} [get]
func (s *TransactionService) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOr401(w, r)
	if !ok {
		return
	}

	txn, err := s.loadLive(chi.URLParam(r, "id"))
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		} else {
			SendInternalError(w, "[TXN]", err)
		}
		return
	}

	if !p.IsMasterAdmin() && txn.CreatedBy != p.ID {
		SendErrorResponse(w, "You can only view your own transactions", http.StatusForbidden, nil)
		return
	}

	SendJSON(w, http.StatusOK, "", txn)
}

// newVoucherNo builds a date-prefixed voucher number with a randomized
// suffix; the unique index resolves same-second collisions via retry.
func newVoucherNo(date time.Time) string {
	return fmt.Sprintf("VCH-%s-%04d", date.Format("060102"), rand.Intn(10000))
}

// Create posts a new voucher
// @Summary Create transaction
// @Description Creates a voucher and increments BOTH referenced ledger
// @Description balances by the amount. This mirrors the book's simplified
// @Description posting rule rather than canonical double entry.
// @Tags transactions
// @Accept json
// @Produce json
// @Param request body CreateTransactionRequest true "Transaction"
// @Success 201 {object} Response
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /transactions [post]
func (s *TransactionService) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOr401(w, r)
	if !ok {
		return
	}

	var req CreateTransactionRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if !req.Amount.IsPositive() {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest,
			fmt.Errorf("amount must be greater than zero"))
		return
	}

	date := time.Now()
	if req.Date != "" {
		parsed, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			SendErrorResponse(w, "Invalid date, expected YYYY-MM-DD", http.StatusBadRequest, nil)
			return
		}
		date = parsed
	}

	// Both ledger references must resolve before anything is written.
	for _, ref := range []struct{ id, side string }{
		{req.DebitLedgerID, "Debit"},
		{req.CreditLedgerID, "Credit"},
	} {
		var exists bool
		err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM ledgers WHERE id = $1 AND active)`, ref.id).Scan(&exists)
		if err != nil {
			SendInternalError(w, "[TXN]", err)
			return
		}
		if !exists {
			SendErrorResponse(w, ref.side+" ledger not found", http.StatusNotFound, nil)
			return
		}
	}

	id := uuid.NewString()
	var voucherNo string
	var err error
	for attempt := 0; attempt < voucherAttempts; attempt++ {
		voucherNo = newVoucherNo(date)
		err = s.createTx(id, voucherNo, date, p.ID, &req)
		if err == nil {
			break
		}
		if !isUniqueViolation(err) {
			SendInternalError(w, "[TXN]", err)
			return
		}
		log.Printf("[TXN] Voucher collision on %s, retrying", voucherNo)
	}
	if err != nil {
		SendInternalError(w, "[TXN]", fmt.Errorf("voucher number generation exhausted: %w", err))
		return
	}

	txn, err := scanTxn(s.db.QueryRow(`SELECT `+txnColumns+txnFrom+` WHERE t.id = $1`, id))
	if err != nil {
		SendInternalError(w, "[TXN]", err)
		return
	}

	ip, agent := RequestMeta(r)
	s.audit.Record(AuditEntry{
		Action:     models.AuditCreateTransaction,
		ActorID:    p.ID,
		ActorRole:  p.Role,
		TargetID:   id,
		TargetKind: models.TargetTransaction,
		Details:    models.Details{"voucher_no": voucherNo, "amount": req.Amount.String(), "type": req.Type},
		IPAddress:  ip,
		UserAgent:  agent,
	})

	log.Printf("[TXN] Created %s (%s)", voucherNo, id)
	SendJSON(w, http.StatusCreated, "Transaction created", txn)
}

// createTx inserts the voucher and applies the balance postings in one
// database transaction. Both ledgers are incremented by the amount; this is
// the source system's simplified rule, kept as-is.
func (s *TransactionService) createTx(id, voucherNo string, date time.Time, createdBy string, req *CreateTransactionRequest) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
        INSERT INTO transactions (id, voucher_no, date, debit_ledger_id, credit_ledger_id, amount, narration, type, created_by, is_deleted, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, NOW(), NOW())
    `, id, voucherNo, date, req.DebitLedgerID, req.CreditLedgerID, req.Amount, req.Narration, req.Type, createdBy)
	if err != nil {
		return err
	}

	for _, ledgerID := range []string{req.DebitLedgerID, req.CreditLedgerID} {
		_, err = tx.Exec(`
            UPDATE ledgers SET balance = balance + $1, updated_at = NOW() WHERE id = $2
        `, req.Amount, ledgerID)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Update applies a partial voucher update
// @Summary Update transaction
// @Description Creator or master admin only. Ledger balances are NOT
// @Description re-adjusted on edit (known limitation, preserved).
// @Tags transactions
// @Accept json
// @Produce json
// @Param id path string true "Transaction ID"
// @Param request body UpdateTransactionRequest true "Update"
// @Success 200 {object} Response
// @Failure 403 {object} Response
// @Failure 404 {object} Response
// @Router /transactions/{id} [put]
func (s *TransactionService) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOr401(w, r)
	if !ok {
		return
	}

	target, ok := s.loadOwned(w, p, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req UpdateTransactionRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	date, amount, narration, txnType := target.Date, target.Amount, target.Narration, target.Type
	if req.Date != nil {
		parsed, err := time.Parse("2006-01-02", *req.Date)
		if err != nil {
			SendErrorResponse(w, "Invalid date, expected YYYY-MM-DD", http.StatusBadRequest, nil)
			return
		}
		date = parsed
	}
	if req.Amount != nil {
		if !req.Amount.IsPositive() {
			SendErrorResponse(w, "Validation failed", http.StatusBadRequest,
				fmt.Errorf("amount must be greater than zero"))
			return
		}
		amount = *req.Amount
	}
	if req.Narration != nil {
		narration = *req.Narration
	}
	if req.Type != nil {
		txnType = *req.Type
	}

	_, err := s.db.Exec(`
        UPDATE transactions SET date = $1, amount = $2, narration = $3, type = $4, updated_at = NOW() WHERE id = $5
    `, date, amount, narration, txnType, target.ID)
	if err != nil {
		SendInternalError(w, "[TXN]", err)
		return
	}

	txn, err := scanTxn(s.db.QueryRow(`SELECT `+txnColumns+txnFrom+` WHERE t.id = $1`, target.ID))
	if err != nil {
		SendInternalError(w, "[TXN]", err)
		return
	}

	ip, agent := RequestMeta(r)
	s.audit.Record(AuditEntry{
		Action:     models.AuditUpdateTransaction,
		ActorID:    p.ID,
		ActorRole:  p.Role,
		TargetID:   target.ID,
		TargetKind: models.TargetTransaction,
		Details:    models.Details{"voucher_no": target.VoucherNo},
		IPAddress:  ip,
		UserAgent:  agent,
	})

	SendJSON(w, http.StatusOK, "Transaction updated", txn)
}

// Delete soft-removes a voucher
// @Summary Delete transaction
// @Description Creator or master admin only. The row stays in storage with
// @Description deleted_at/deleted_by set; balance postings are not reversed
// @Description (known limitation, preserved).
// @Tags transactions
// @Produce json
// @Param id path string true "Transaction ID"
// @Success 200 {object} Response
// @Failure 403 {object} Response
// @Failure 404 {object} Response
// @Router /transactions/{id} [delete]
func (s *TransactionService) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOr401(w, r)
	if !ok {
		return
	}

	target, ok := s.loadOwned(w, p, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	_, err := s.db.Exec(`
        UPDATE transactions SET is_deleted = TRUE, deleted_at = NOW(), deleted_by = $1, updated_at = NOW() WHERE id = $2
    `, p.ID, target.ID)
	if err != nil {
		SendInternalError(w, "[TXN]", err)
		return
	}

	ip, agent := RequestMeta(r)
	s.audit.Record(AuditEntry{
		Action:     models.AuditDeleteTransaction,
		ActorID:    p.ID,
		ActorRole:  p.Role,
		TargetID:   target.ID,
		TargetKind: models.TargetTransaction,
		Details:    models.Details{"voucher_no": target.VoucherNo},
		IPAddress:  ip,
		UserAgent:  agent,
	})

	log.Printf("[TXN] Deleted %s (%s)", target.VoucherNo, target.ID)
	SendJSON(w, http.StatusOK, "Transaction deleted", nil)
}

// Stats aggregates live transactions visible to the caller
// @Summary Transaction statistics
// @Description Overall count/total/avg/min/max and per-type totals, scoped
// @Description like the list endpoint
// @Tags transactions
// @Produce json
// @Param from query string false "Start date (YYYY-MM-DD)"
// @Param to query string false "End date (YYYY-MM-DD)"
// @Success 200 {object} Response
// @Router /transactions/stats [get]
func (s *TransactionService) Stats(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOr401(w, r)
	if !ok {
		return
	}

	conditions := []string{"NOT t.is_deleted"}
	var args []any
	argIndex := 1

	conditions, args, argIndex = txnScope(p, conditions, args, argIndex)

	var err error
	conditions, args, _, err = dateRangeConditions(r, conditions, args, argIndex)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	where := ` FROM transactions t WHERE ` + strings.Join(conditions, " AND ")

	var stats models.TxnStats
	err = s.db.QueryRow(`
        SELECT COUNT(*), COALESCE(SUM(t.amount), 0), COALESCE(AVG(t.amount), 0),
               COALESCE(MIN(t.amount), 0), COALESCE(MAX(t.amount), 0)`+where, args...).
		Scan(&stats.Overall.Count, &stats.Overall.TotalAmount, &stats.Overall.AvgAmount,
			&stats.Overall.MinAmount, &stats.Overall.MaxAmount)
	if err != nil {
		SendInternalError(w, "[TXN]", err)
		return
	}

	rows, err := s.db.Query(`
        SELECT t.type, COUNT(*), COALESCE(SUM(t.amount), 0)`+where+` GROUP BY t.type ORDER BY t.type`, args...)
	if err != nil {
		SendInternalError(w, "[TXN]", err)
		return
	}
	defer rows.Close()

	stats.ByType = []models.TxnTypeStats{}
	for rows.Next() {
		var ts models.TxnTypeStats
		if err := rows.Scan(&ts.Type, &ts.Count, &ts.TotalAmount); err != nil {
			SendInternalError(w, "[TXN]", err)
			return
		}
		stats.ByType = append(stats.ByType, ts)
	}
	if err := rows.Err(); err != nil {
		SendInternalError(w, "[TXN]", err)
		return
	}

	SendJSON(w, http.StatusOK, "", stats)
}
