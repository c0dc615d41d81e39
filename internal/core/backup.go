package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/edvin/logistica/internal/model"
)

const jobColumns = `id, job_uuid, backup_type, status, start_time, end_time, duration_seconds,
	databases_included, backup_path, trigger_source, triggered_by, retention_until,
	progress_percentage, error_message, file_size_bytes, created_at, updated_at`

// JobFilter narrows a job listing. Zero values mean no filter.
type JobFilter struct {
	Status     string
	BackupType string
	DateFrom   *time.Time
	DateTo     *time.Time
	JobID      int64
	Limit      int
	Offset     int
}

// JobOutcome is the terminal state written by Finish.
type JobOutcome struct {
	Status        string
	EndTime       time.Time
	ErrorMessage  string
	FileSizeBytes *int64
}

type JobService struct {
	db DB
}

func NewJobService(db DB) *JobService {
	return &JobService{db: db}
}

// Admit inserts job as running if fewer than ceiling jobs are running. The
// count and the insert happen under a lock on the backup_admission row, so
// concurrent callers are serialized. job.ID is set on success.
func (s *JobService) Admit(ctx context.Context, job *model.BackupJob, ceiling int) (Admission, error) {
	a := Admission{Ceiling: ceiling}

	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var lock int
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM backup_admission WHERE id = 1 FOR UPDATE`,
		).Scan(&lock); err != nil {
			return fmt.Errorf("lock admission row: %w", err)
		}

		n, err := countRunning(ctx, tx)
		if err != nil {
			return err
		}
		a.RunningCount = n
		if n >= ceiling {
			return ErrAdmissionDenied
		}

		job.Status = model.StatusRunning
		if err := insertJob(ctx, tx, job); err != nil {
			return err
		}
		a.Allowed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAdmissionDenied) {
			return a, err
		}
		return a, fmt.Errorf("admit job: %w", err)
	}
	return a, nil
}

func insertJob(ctx context.Context, q Querier, job *model.BackupJob) error {
	res, err := q.ExecContext(ctx,
		`INSERT INTO backup_jobs (job_uuid, backup_type, status, start_time, databases_included,
		 backup_path, trigger_source, triggered_by, retention_until, progress_percentage, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.UUID, job.Type, job.Status, job.StartTime, job.Databases,
		job.BackupPath, job.TriggerSource, job.TriggeredBy, job.RetentionUntil,
		job.ProgressPercentage, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert backup job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read backup job id: %w", err)
	}
	job.ID = id
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.BackupJob, error) {
	var (
		j        model.BackupJob
		endTime  sql.NullTime
		duration sql.NullInt64
		errMsg   sql.NullString
		size     sql.NullInt64
	)
	err := row.Scan(&j.ID, &j.UUID, &j.Type, &j.Status, &j.StartTime, &endTime, &duration,
		&j.Databases, &j.BackupPath, &j.TriggerSource, &j.TriggeredBy, &j.RetentionUntil,
		&j.ProgressPercentage, &errMsg, &size, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.EndTime = ptrTime(endTime)
	j.DurationSeconds = ptrInt64(duration)
	j.ErrorMessage = ptrString(errMsg)
	j.FileSizeBytes = ptrInt64(size)
	return &j, nil
}

func (s *JobService) GetByID(ctx context.Context, id int64) (*model.BackupJob, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM backup_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("backup job %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get backup job %d: %w", id, err)
	}
	return j, nil
}

// List returns one page of jobs, newest first, and the total number of jobs
// matching the filter.
func (s *JobService) List(ctx context.Context, f JobFilter) ([]model.BackupJob, int64, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.BackupType != "" {
		where = append(where, "backup_type = ?")
		args = append(args, f.BackupType)
	}
	if f.DateFrom != nil {
		where = append(where, "start_time >= ?")
		args = append(args, *f.DateFrom)
	}
	if f.DateTo != nil {
		where = append(where, "start_time < ?")
		args = append(args, *f.DateTo)
	}
	if f.JobID > 0 {
		where = append(where, "id = ?")
		args = append(args, f.JobID)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM backup_jobs`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count backup jobs: %w", err)
	}

	query := `SELECT ` + jobColumns + ` FROM backup_jobs` + clause + ` ORDER BY start_time DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list backup jobs: %w", err)
	}
	defer rows.Close()

	jobs := []model.BackupJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan backup job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate backup jobs: %w", err)
	}
	return jobs, total, nil
}

// UpdateProgress raises the progress of a running job. Lower values are
// ignored; the returned bool reports whether the row changed.
func (s *JobService) UpdateProgress(ctx context.Context, id int64, pct int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE backup_jobs SET progress_percentage = ?
		 WHERE id = ? AND status = ? AND progress_percentage < ?`,
		pct, id, model.StatusRunning, pct,
	)
	if err != nil {
		return false, fmt.Errorf("update progress of job %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update progress of job %d: %w", id, err)
	}
	return n > 0, nil
}

// Finish moves a job to a terminal status, setting end_time and
// duration_seconds together. The row is only updated while its current
// status may transition to out.Status. Completed forces progress to 100
// and failed forces it to 0.
func (s *JobService) Finish(ctx context.Context, id int64, out JobOutcome) error {
	from := model.SourcesOf(out.Status)
	if !model.IsTerminal(out.Status) || len(from) == 0 {
		return fmt.Errorf("finish job %d with status %q: %w", id, out.Status, ErrInvalidTransition)
	}

	progress := "progress_percentage"
	switch out.Status {
	case model.StatusCompleted:
		progress = "100"
	case model.StatusFailed:
		progress = "0"
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE backup_jobs SET status = ?, end_time = ?,
		 duration_seconds = GREATEST(0, TIMESTAMPDIFF(SECOND, start_time, ?)),
		 progress_percentage = `+progress+`, error_message = ?, file_size_bytes = COALESCE(?, file_size_bytes)
		 WHERE id = ? AND status IN (`+placeholders(len(from))+`)`,
		append([]any{out.Status, out.EndTime, out.EndTime, nullString(out.ErrorMessage), out.FileSizeBytes, id},
			anySlice(from)...)...,
	)
	if err != nil {
		return fmt.Errorf("finish job %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish job %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("finish job %d as %s: %w", id, out.Status, ErrInvalidTransition)
	}
	return nil
}

// Delete removes a pending, failed or cancelled job together with its file
// rows and records a job_deleted activity entry, all in one transaction.
func (s *JobService) Delete(ctx context.Context, id int64, actor string) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM backup_jobs WHERE id = ? FOR UPDATE`, id,
		).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("backup job %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock backup job %d: %w", id, err)
		}
		if !model.IsDeletable(status) {
			return fmt.Errorf("backup job %d is %s: %w", id, status, ErrJobNotDeletable)
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM backup_files WHERE job_id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete files of job %d: %w", id, err)
		}
		files, _ := res.RowsAffected()

		if _, err := tx.ExecContext(ctx, `DELETE FROM backup_jobs WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete backup job %d: %w", id, err)
		}

		return insertActivity(ctx, tx, &id, model.ActivityJobDeleted, actor, map[string]any{
			"status":        status,
			"files_deleted": files,
		})
	})
}

// ListUnfinished returns the ids of jobs still pending or running.
func (s *JobService) ListUnfinished(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM backup_jobs WHERE status IN (?, ?) ORDER BY id`,
		model.StatusPending, model.StatusRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("list unfinished jobs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unfinished jobs: %w", err)
	}
	return ids, nil
}

// Stats counts jobs per status and sums the size of completed backups.
func (s *JobService) Stats(ctx context.Context) (*model.BackupStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*), COALESCE(SUM(file_size_bytes), 0) FROM backup_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("backup stats: %w", err)
	}
	defer rows.Close()

	stats := &model.BackupStats{ByStatus: map[string]int64{}}
	for rows.Next() {
		var (
			status string
			count  int64
			bytes  int64
		)
		if err := rows.Scan(&status, &count, &bytes); err != nil {
			return nil, fmt.Errorf("scan backup stats: %w", err)
		}
		stats.ByStatus[status] = count
		stats.Total += count
		if status == model.StatusCompleted {
			stats.CompletedBytes = bytes
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backup stats: %w", err)
	}
	return stats, nil
}
