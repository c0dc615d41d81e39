package core

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

// newMockDB returns a sqlmock-backed *sql.DB whose expectations are checked
// when the test ends.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

var testStart = time.Date(2025, 3, 14, 2, 0, 0, 0, time.UTC)

var jobRowColumns = []string{
	"id", "job_uuid", "backup_type", "status", "start_time", "end_time", "duration_seconds",
	"databases_included", "backup_path", "trigger_source", "triggered_by", "retention_until",
	"progress_percentage", "error_message", "file_size_bytes", "created_at", "updated_at",
}

func jobRows() *sqlmock.Rows {
	return sqlmock.NewRows(jobRowColumns)
}

func addRunningJob(rows *sqlmock.Rows, id int64, databases string) *sqlmock.Rows {
	return rows.AddRow(id, "5b1f0c7e-8a7e-4d55-9a8f-1f2d3c4b5a69", "full", "running", testStart, nil, nil,
		databases, "/var/backups/logistica/full/20250314_020000", "manual", "admin", testStart.AddDate(0, 0, 90),
		30, nil, nil, testStart, testStart)
}

var fileRowColumns = []string{
	"id", "job_id", "file_path", "file_size_bytes", "checksum", "compression_type",
	"verification_status", "last_verified_at", "created_at",
}
