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

// ---------- GetByID ----------

func TestJobService_GetByID_Success(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT .+ FROM backup_jobs WHERE id = \?`).
		WithArgs(int64(7)).
		WillReturnRows(addRunningJob(jobRows(), 7, `["viaggi_db","gestionelogistica"]`))

	job, err := NewJobService(db).GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), job.ID)
	assert.Equal(t, model.StatusRunning, job.Status)
	assert.Equal(t, model.DatabaseList{"viaggi_db", "gestionelogistica"}, job.Databases)
	assert.Nil(t, job.EndTime)
	assert.Nil(t, job.DurationSeconds)
	assert.Nil(t, job.ErrorMessage)
	assert.Equal(t, 30, job.ProgressPercentage)
}

func TestJobService_GetByID_LegacyDatabaseString(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT .+ FROM backup_jobs`).
		WillReturnRows(addRunningJob(jobRows(), 3, "viaggi_db"))

	job, err := NewJobService(db).GetByID(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, model.DatabaseList{"viaggi_db"}, job.Databases)
}

func TestJobService_GetByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT .+ FROM backup_jobs`).WillReturnRows(jobRows())

	_, err := NewJobService(db).GetByID(context.Background(), 99)
	require.ErrorIs(t, err, ErrNotFound)
}

// ---------- List ----------

func TestJobService_List_NoFilter(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM backup_jobs$`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	rows := addRunningJob(jobRows(), 2, `["viaggi_db"]`)
	rows = addRunningJob(rows, 1, `"gestionelogistica"`)
	mock.ExpectQuery(`SELECT .+ FROM backup_jobs ORDER BY start_time DESC, id DESC LIMIT \? OFFSET \?`).
		WithArgs(50, 0).
		WillReturnRows(rows)

	jobs, total, err := NewJobService(db).List(context.Background(), JobFilter{Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, jobs, 2)
	assert.Equal(t, int64(2), jobs[0].ID)
	assert.Equal(t, model.DatabaseList{"gestionelogistica"}, jobs[1].Databases)
}

func TestJobService_List_AllFilters(t *testing.T) {
	db, mock := newMockDB(t)
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	where := `WHERE status = \? AND backup_type = \? AND start_time >= \? AND start_time < \? AND id = \?`
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM backup_jobs ` + where).
		WithArgs("failed", "full", from, to, int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT .+ FROM backup_jobs ` + where + ` ORDER BY`).
		WithArgs("failed", "full", from, to, int64(5), 10, 20).
		WillReturnRows(jobRows())

	jobs, total, err := NewJobService(db).List(context.Background(), JobFilter{
		Status:     "failed",
		BackupType: "full",
		DateFrom:   &from,
		DateTo:     &to,
		JobID:      5,
		Limit:      10,
		Offset:     20,
	})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.NotNil(t, jobs)
	assert.Empty(t, jobs)
}

func TestJobService_List_CountError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT COUNT`).WillReturnError(errors.New("connection lost"))

	_, _, err := NewJobService(db).List(context.Background(), JobFilter{Limit: 50})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count backup jobs")
}

// ---------- UpdateProgress ----------

func TestJobService_UpdateProgress_Raises(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`UPDATE backup_jobs SET progress_percentage = \?\s+WHERE id = \? AND status = \? AND progress_percentage < \?`).
		WithArgs(60, int64(4), "running", 60).
		WillReturnResult(sqlmock.NewResult(0, 1))

	changed, err := NewJobService(db).UpdateProgress(context.Background(), 4, 60)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestJobService_UpdateProgress_IgnoresLowerValue(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`UPDATE backup_jobs SET progress_percentage`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := NewJobService(db).UpdateProgress(context.Background(), 4, 10)
	require.NoError(t, err)
	assert.False(t, changed)
}

// ---------- Finish ----------

func TestJobService_Finish_Completed(t *testing.T) {
	db, mock := newMockDB(t)
	end := testStart.Add(95 * time.Second)
	size := int64(1784000)

	mock.ExpectExec(`UPDATE backup_jobs SET status = \?, end_time = \?,\s+duration_seconds = GREATEST\(0, TIMESTAMPDIFF\(SECOND, start_time, \?\)\),\s+progress_percentage = 100, error_message = \?`).
		WithArgs("completed", end, end, nil, size, int64(8), "pending", "running").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := NewJobService(db).Finish(context.Background(), 8, JobOutcome{
		Status:        model.StatusCompleted,
		EndTime:       end,
		FileSizeBytes: &size,
	})
	require.NoError(t, err)
}

func TestJobService_Finish_FailedResetsProgress(t *testing.T) {
	db, mock := newMockDB(t)
	end := testStart.Add(3 * time.Second)

	mock.ExpectExec(`progress_percentage = 0, error_message = \?`).
		WithArgs("failed", end, end, "mysqldump: Access denied", nil, int64(8), "pending", "running").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := NewJobService(db).Finish(context.Background(), 8, JobOutcome{
		Status:       model.StatusFailed,
		EndTime:      end,
		ErrorMessage: "mysqldump: Access denied",
	})
	require.NoError(t, err)
}

func TestJobService_Finish_CancelledKeepsProgress(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`progress_percentage = progress_percentage, error_message = \?`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := NewJobService(db).Finish(context.Background(), 8, JobOutcome{
		Status:       model.StatusCancelled,
		EndTime:      testStart.Add(time.Minute),
		ErrorMessage: "cancelled by admin",
	})
	require.NoError(t, err)
}

func TestJobService_Finish_AlreadyTerminal(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`UPDATE backup_jobs SET status`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewJobService(db).Finish(context.Background(), 8, JobOutcome{
		Status:  model.StatusCompleted,
		EndTime: testStart,
	})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestJobService_Finish_GuardFollowsTransitionTable(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`WHERE id = \? AND status IN \(\?, \?\)`).
		WithArgs("cancelled", sqlmock.AnyArg(), sqlmock.AnyArg(), "cancelled by admin", nil, int64(8),
			model.SourcesOf(model.StatusCancelled)[0], model.SourcesOf(model.StatusCancelled)[1]).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := NewJobService(db).Finish(context.Background(), 8, JobOutcome{
		Status:       model.StatusCancelled,
		EndTime:      testStart,
		ErrorMessage: "cancelled by admin",
	})
	require.NoError(t, err)
	assert.Equal(t, "?, ?, ?", placeholders(3))
	assert.Equal(t, "", placeholders(0))
}

func TestJobService_Finish_NonTerminalStatus(t *testing.T) {
	db, _ := newMockDB(t)

	err := NewJobService(db).Finish(context.Background(), 8, JobOutcome{Status: model.StatusRunning})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

// ---------- Delete ----------

func TestJobService_Delete_Deletable(t *testing.T) {
	for _, status := range []string{model.StatusPending, model.StatusFailed, model.StatusCancelled} {
		t.Run(status, func(t *testing.T) {
			db, mock := newMockDB(t)
			mock.ExpectBegin()
			mock.ExpectQuery(`SELECT status FROM backup_jobs WHERE id = \? FOR UPDATE`).
				WithArgs(int64(11)).
				WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(status))
			mock.ExpectExec(`DELETE FROM backup_files WHERE job_id = \?`).
				WithArgs(int64(11)).
				WillReturnResult(sqlmock.NewResult(0, 2))
			mock.ExpectExec(`DELETE FROM backup_jobs WHERE id = \?`).
				WithArgs(int64(11)).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectExec(`INSERT INTO backup_activity_log`).
				WithArgs(int64(11), "job_deleted", sqlmock.AnyArg(), "admin").
				WillReturnResult(sqlmock.NewResult(1, 1))
			mock.ExpectCommit()

			require.NoError(t, NewJobService(db).Delete(context.Background(), 11, "admin"))
		})
	}
}

func TestJobService_Delete_Protected(t *testing.T) {
	for _, status := range []string{model.StatusRunning, model.StatusCompleted} {
		t.Run(status, func(t *testing.T) {
			db, mock := newMockDB(t)
			mock.ExpectBegin()
			mock.ExpectQuery(`SELECT status FROM backup_jobs`).
				WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(status))
			mock.ExpectRollback()

			err := NewJobService(db).Delete(context.Background(), 11, "admin")
			require.ErrorIs(t, err, ErrJobNotDeletable)
		})
	}
}

func TestJobService_Delete_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM backup_jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"status"}))
	mock.ExpectRollback()

	err := NewJobService(db).Delete(context.Background(), 11, "admin")
	require.ErrorIs(t, err, ErrNotFound)
}

// ---------- ListUnfinished / Stats ----------

func TestJobService_ListUnfinished(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT id FROM backup_jobs WHERE status IN \(\?, \?\)`).
		WithArgs("pending", "running").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3).AddRow(9))

	ids, err := NewJobService(db).ListUnfinished(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 9}, ids)
}

func TestJobService_Stats(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT status, COUNT\(\*\), COALESCE\(SUM\(file_size_bytes\), 0\) FROM backup_jobs GROUP BY status`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count", "bytes"}).
			AddRow("completed", 4, 7136000).
			AddRow("failed", 1, 0).
			AddRow("running", 1, 0))

	stats, err := NewJobService(db).Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(6), stats.Total)
	assert.Equal(t, int64(4), stats.ByStatus["completed"])
	assert.Equal(t, int64(7136000), stats.CompletedBytes)
}
