package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/logistica/internal/model"
)

var configColumns = []string{"config_key", "config_value", "category", "description", "updated_at"}

func TestSettingsService_Load_Overrides(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT config_key, config_value, category, description, updated_at\s+FROM backup_config`).
		WillReturnRows(sqlmock.NewRows(configColumns).
			AddRow("max_parallel_jobs", "3", "performance", nil, testStart).
			AddRow("job_timeout_minutes", "45", "performance", "kill after", testStart).
			AddRow("email_notifications_enabled", "true", "notifications", nil, testStart).
			AddRow("retention_days", "not-a-number", "retention", nil, testStart).
			AddRow("unknown_key", "x", "general", nil, testStart))

	defaults := model.Settings{MaxParallelJobs: 2, RetentionDays: 90, JobTimeout: 2 * time.Hour}
	got, err := NewSettingsService(db).Load(context.Background(), defaults)
	require.NoError(t, err)
	assert.Equal(t, 3, got.MaxParallelJobs)
	assert.Equal(t, 45*time.Minute, got.JobTimeout)
	assert.True(t, got.EmailNotifications)
	assert.Equal(t, 90, got.RetentionDays)
}

func TestSettingsService_Load_IgnoresNonPositiveCeiling(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`FROM backup_config`).
		WillReturnRows(sqlmock.NewRows(configColumns).
			AddRow("max_parallel_jobs", "0", "performance", nil, testStart))

	got, err := NewSettingsService(db).Load(context.Background(), model.Settings{MaxParallelJobs: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, got.MaxParallelJobs)
}

func TestSettingsService_Load_ErrorKeepsDefaults(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`FROM backup_config`).WillReturnError(errors.New("table missing"))

	defaults := model.Settings{MaxParallelJobs: 2}
	got, err := NewSettingsService(db).Load(context.Background(), defaults)
	require.Error(t, err)
	assert.Equal(t, defaults, got)
}

func TestSettingsService_List(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`FROM backup_config ORDER BY category, config_key`).
		WillReturnRows(sqlmock.NewRows(configColumns).
			AddRow("max_parallel_jobs", "2", "performance", "Maximum number of backup jobs", testStart))

	entries, err := NewSettingsService(db).List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Maximum number of backup jobs", entries[0].Description)
}
