package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func ledgerRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "type", "balance", "description", "created_by", "active", "created_at", "updated_at",
	})
}

func TestLedgerService_Create(t *testing.T) {
	setupTestConfig()

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, NewAuditRecorder(db))

	t.Run("successful creation", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO ledgers").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT id, name, type, balance, description, created_by, active, created_at, updated_at FROM ledgers").
			WillReturnRows(ledgerRows().
				AddRow("aaaa", "Cash", "asset", "1500.00", "Petty cash", adminPrincipal().ID, true, testTime, testTime))
		mock.ExpectExec("INSERT INTO audit_logs").
			WillReturnResult(sqlmock.NewResult(0, 1))

		body := []byte(`{"name":"Cash","type":"asset","balance":"1500.00","description":"Petty cash"}`)
		r := authedRequest("POST", "/ledgers", body, adminPrincipal())
		w := httptest.NewRecorder()

		service.Create(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Contains(t, w.Body.String(), "Ledger created")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate name", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO ledgers").
			WillReturnError(&pq.Error{Code: "23505"})

		body := []byte(`{"name":"Cash","type":"asset"}`)
		r := authedRequest("POST", "/ledgers", body, userPrincipal("u1"))
		w := httptest.NewRecorder()

		service.Create(w, r)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "A ledger with this name already exists")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("negative opening balance rejected", func(t *testing.T) {
		body := []byte(`{"name":"Cash","type":"asset","balance":"-10.00"}`)
		r := authedRequest("POST", "/ledgers", body, userPrincipal("u1"))
		w := httptest.NewRecorder()

		service.Create(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "balance must not be negative")
	})

	t.Run("unknown type rejected", func(t *testing.T) {
		body := []byte(`{"name":"Cash","type":"wallet"}`)
		r := authedRequest("POST", "/ledgers", body, userPrincipal("u1"))
		w := httptest.NewRecorder()

		service.Create(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestLedgerService_List(t *testing.T) {
	setupTestConfig()

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, NewAuditRecorder(db))

	t.Run("type filter and search", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, name, type, balance, description, created_by, active, created_at, updated_at FROM ledgers WHERE active AND type = ").
			WithArgs("asset", "%cas%").
			WillReturnRows(ledgerRows().
				AddRow("aaaa", "Cash", "asset", "1500.00", "", "u1", true, testTime, testTime))

		r := authedRequest("GET", "/ledgers?type=asset&search=cas", nil, userPrincipal("u1"))
		w := httptest.NewRecorder()

		service.List(w, r)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp Response
		json.Unmarshal(w.Body.Bytes(), &resp)
		data := resp.Data.(map[string]any)
		assert.Equal(t, float64(1), data["count"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty result is a list, not null", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, name, type, balance, description, created_by, active, created_at, updated_at FROM ledgers").
			WillReturnRows(ledgerRows())

		r := authedRequest("GET", "/ledgers", nil, userPrincipal("u1"))
		w := httptest.NewRecorder()

		service.List(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"ledgers":[]`)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_Delete(t *testing.T) {
	setupTestConfig()

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, NewAuditRecorder(db))
	ledgerID := "cccccccc-cccc-cccc-cccc-cccccccccccc"

	t.Run("refused while transactions reference it", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, name, type, balance").
			WithArgs(ledgerID).
			WillReturnRows(ledgerRows().
				AddRow(ledgerID, "Cash", "asset", "1500.00", "", "u1", true, testTime, testTime))
		mock.ExpectQuery("SELECT COUNT").
			WithArgs(ledgerID).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

		r := withURLParam(authedRequest("DELETE", "/ledgers/"+ledgerID, nil, adminPrincipal()), "id", ledgerID)
		w := httptest.NewRecorder()

		service.Delete(w, r)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "Ledger has 4 transactions")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("soft delete when unreferenced", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, name, type, balance").
			WithArgs(ledgerID).
			WillReturnRows(ledgerRows().
				AddRow(ledgerID, "Cash", "asset", "0.00", "", "u1", true, testTime, testTime))
		mock.ExpectQuery("SELECT COUNT").
			WithArgs(ledgerID).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectExec("UPDATE ledgers SET active = FALSE").
			WithArgs(ledgerID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO audit_logs").
			WillReturnResult(sqlmock.NewResult(0, 1))

		r := withURLParam(authedRequest("DELETE", "/ledgers/"+ledgerID, nil, adminPrincipal()), "id", ledgerID)
		w := httptest.NewRecorder()

		service.Delete(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Ledger deleted")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed id is not found", func(t *testing.T) {
		r := withURLParam(authedRequest("DELETE", "/ledgers/not-a-uuid", nil, adminPrincipal()), "id", "not-a-uuid")
		w := httptest.NewRecorder()

		service.Delete(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "Ledger not found")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing ledger", func(t *testing.T) {
		missingID := "dddddddd-dddd-dddd-dddd-dddddddddddd"
		mock.ExpectQuery("SELECT id, name, type, balance").
			WithArgs(missingID).
			WillReturnRows(ledgerRows())

		r := withURLParam(authedRequest("DELETE", "/ledgers/"+missingID, nil, adminPrincipal()), "id", missingID)
		w := httptest.NewRecorder()

		service.Delete(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_Update(t *testing.T) {
	setupTestConfig()

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, NewAuditRecorder(db))
	ledgerID := "cccccccc-cccc-cccc-cccc-cccccccccccc"

	t.Run("balance field is rejected as unknown", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, name, type, balance").
			WithArgs(ledgerID).
			WillReturnRows(ledgerRows().
				AddRow(ledgerID, "Cash", "asset", "1500.00", "", "u1", true, testTime, testTime))

		body := []byte(`{"balance":"9999.00"}`)
		r := withURLParam(authedRequest("PUT", "/ledgers/"+ledgerID, body, adminPrincipal()), "id", ledgerID)
		w := httptest.NewRecorder()

		service.Update(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("partial update keeps unspecified fields", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, name, type, balance").
			WithArgs(ledgerID).
			WillReturnRows(ledgerRows().
				AddRow(ledgerID, "Cash", "asset", "1500.00", "Old note", "u1", true, testTime, testTime))
		mock.ExpectExec("UPDATE ledgers SET name = ").
			WithArgs("Cash Account", "asset", "Old note", ledgerID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT id, name, type, balance").
			WithArgs(ledgerID).
			WillReturnRows(ledgerRows().
				AddRow(ledgerID, "Cash Account", "asset", "1500.00", "Old note", "u1", true, testTime, testTime))
		mock.ExpectExec("INSERT INTO audit_logs").
			WillReturnResult(sqlmock.NewResult(0, 1))

		body := []byte(`{"name":"Cash Account"}`)
		r := withURLParam(authedRequest("PUT", "/ledgers/"+ledgerID, body, adminPrincipal()), "id", ledgerID)
		w := httptest.NewRecorder()

		service.Update(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Cash Account")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_Summary(t *testing.T) {
	setupTestConfig()

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, NewAuditRecorder(db))

	mock.ExpectQuery("SELECT type, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"type", "count", "total"}).
			AddRow("asset", 2, "2500.00").
			AddRow("expense", 1, "340.50"))

	r := authedRequest("GET", "/ledgers/summary", nil, userPrincipal("u1"))
	w := httptest.NewRecorder()

	service.Summary(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	json.Unmarshal(w.Body.Bytes(), &resp)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "2840.50", data["total_balance"])
	assert.Len(t, data["by_type"], 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}
