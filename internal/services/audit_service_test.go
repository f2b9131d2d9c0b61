package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func auditRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "action", "actor_id", "actor_role", "target_id", "target_kind",
		"details", "ip_address", "user_agent", "created_at",
	})
}

func TestAuditRecorder_Record(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	recorder := NewAuditRecorder(db)

	t.Run("insert failure never propagates", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO audit_logs").
			WillReturnError(assert.AnError)

		recorder.Record(AuditEntry{
			Action:    "LOGIN",
			ActorID:   "u1",
			ActorRole: "user",
		})

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty target id stored as NULL", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO audit_logs").
			WithArgs(sqlmock.AnyArg(), "LOGOUT", "u1", "user", nil, nil,
				sqlmock.AnyArg(), "10.0.0.1", "tester").
			WillReturnResult(sqlmock.NewResult(0, 1))

		recorder.Record(AuditEntry{
			Action:    "LOGOUT",
			ActorID:   "u1",
			ActorRole: "user",
			IPAddress: "10.0.0.1",
			UserAgent: "tester",
		})

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAuditService_ListLogs(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAuditService(db)

	actorID := "22222222-2222-2222-2222-222222222222"

	t.Run("filtered listing", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, action, actor_id").
			WithArgs("LOGIN", actorID, 50, 0).
			WillReturnRows(auditRows().
				AddRow("log-1", "LOGIN", actorID, "user", nil, nil, []byte(`{}`), "10.0.0.1", "tester", testTime))

		r := authedRequest("GET", "/admin/audit-logs?action=LOGIN&userId="+actorID, nil, adminPrincipal())
		w := httptest.NewRecorder()

		service.ListLogs(w, r)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp Response
		json.Unmarshal(w.Body.Bytes(), &resp)
		data := resp.Data.(map[string]any)
		assert.Equal(t, float64(1), data["count"])
		assert.Equal(t, float64(50), data["limit"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed userId filter is rejected", func(t *testing.T) {
		r := authedRequest("GET", "/admin/audit-logs?userId=not-a-uuid", nil, adminPrincipal())
		w := httptest.NewRecorder()

		service.ListLogs(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid userId")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid from date", func(t *testing.T) {
		r := authedRequest("GET", "/admin/audit-logs?from=lastweek", nil, adminPrincipal())
		w := httptest.NewRecorder()

		service.ListLogs(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid 'from' date")
	})

	t.Run("limit above cap falls back to default", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, action, actor_id").
			WithArgs(50, 0).
			WillReturnRows(auditRows())

		r := authedRequest("GET", "/admin/audit-logs?limit=9999", nil, adminPrincipal())
		w := httptest.NewRecorder()

		service.ListLogs(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAuditService_Stats(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAuditService(db)

	mock.ExpectQuery("SELECT action, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"action", "count"}).
			AddRow("LOGIN", 12).
			AddRow("CREATE_TRANSACTION", 7))
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	r := authedRequest("GET", "/admin/audit-logs/stats", nil, adminPrincipal())
	w := httptest.NewRecorder()

	service.Stats(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	json.Unmarshal(w.Body.Bytes(), &resp)
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(19), data["total"])
	assert.Equal(t, float64(5), data["last_24h"])
	assert.Len(t, data["by_action"], 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditService_Recent(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAuditService(db)

	mock.ExpectQuery("SELECT id, action, actor_id").
		WithArgs(20).
		WillReturnRows(auditRows().
			AddRow("log-1", "LOGIN", "u1", "user", nil, nil, []byte(`{"k":"v"}`), "10.0.0.1", "tester", testTime).
			AddRow("log-2", "LOGOUT", "u1", "user", nil, nil, nil, "10.0.0.1", "tester", testTime))

	r := authedRequest("GET", "/admin/audit-logs/recent", nil, adminPrincipal())
	w := httptest.NewRecorder()

	service.Recent(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	json.Unmarshal(w.Body.Bytes(), &resp)
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(2), data["count"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
