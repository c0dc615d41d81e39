package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractResourceID(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/backups", ""},
		{"/api/v1/backups/12", "12"},
		{"/api/v1/backups/12/cancel", "12"},
		{"/api/v1/backup-schedules/3/enabled", "3"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := extractResourceID(tt.path)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestSanitizeBody(t *testing.T) {
	body := []byte(`{"name":"test","password":"secret123","token":"abc"}`)
	sanitized := sanitizeBody(body)

	var result map[string]any
	require.NoError(t, json.Unmarshal(sanitized, &result))
	assert.Equal(t, "test", result["name"])
	assert.Equal(t, "[REDACTED]", result["password"])
	assert.Equal(t, "[REDACTED]", result["token"])
}

func TestAuditLogger_RecordsMutations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO api_audit_logs`).
		WithArgs("alice", "operator", "POST", "/api/v1/backups/7/cancel", "7", http.StatusAccepted, `{"reason":"stuck"}`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	al := NewAuditLogger(db, zerolog.Nop())
	h := al.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	get := httptest.NewRequest("GET", "/api/v1/backups", nil)
	h.ServeHTTP(httptest.NewRecorder(), get)

	post := httptest.NewRequest("POST", "/api/v1/backups/7/cancel", strings.NewReader(`{"reason":"stuck"}`))
	post = post.WithContext(WithIdentity(post.Context(), &Identity{Subject: "alice", Role: "operator"}))
	h.ServeHTTP(httptest.NewRecorder(), post)

	al.Close()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditLogger_RequestAfterCloseIsDropped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	al := NewAuditLogger(db, zerolog.Nop())
	h := al.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	al.Close()
	al.Close()

	rec := httptest.NewRecorder()
	post := httptest.NewRequest("POST", "/api/v1/backups", strings.NewReader(`{"database":"shop"}`))
	assert.NotPanics(t, func() { h.ServeHTTP(rec, post) })
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
