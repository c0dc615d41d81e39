package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/edvin/logistica/internal/model"
)

// ActivityService appends to and reads backup_activity_log.
type ActivityService struct {
	db DB
}

func NewActivityService(db DB) *ActivityService {
	return &ActivityService{db: db}
}

// Record appends an activity entry. details is encoded as JSON when not nil.
func (s *ActivityService) Record(ctx context.Context, jobID *int64, action, actor string, details any) error {
	return insertActivity(ctx, s.db, jobID, action, actor, details)
}

func insertActivity(ctx context.Context, q Querier, jobID *int64, action, actor string, details any) error {
	raw, err := encodeDetails(details)
	if err != nil {
		return fmt.Errorf("record activity %s: %w", action, err)
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO backup_activity_log (job_id, action, details, actor) VALUES (?, ?, ?, ?)`,
		jobID, action, raw, actor,
	)
	if err != nil {
		return fmt.Errorf("record activity %s: %w", action, err)
	}
	return nil
}

// ListByJob returns the activity of one job, oldest first.
func (s *ActivityService) ListByJob(ctx context.Context, jobID int64) ([]model.ActivityLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, action, details, actor, created_at
		 FROM backup_activity_log WHERE job_id = ? ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list activity for job %d: %w", jobID, err)
	}
	defer rows.Close()

	entries := []model.ActivityLog{}
	for rows.Next() {
		var (
			a       model.ActivityLog
			job     sql.NullInt64
			details sql.NullString
		)
		if err := rows.Scan(&a.ID, &job, &a.Action, &details, &a.Actor, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.JobID = ptrInt64(job)
		if details.Valid {
			a.Details = json.RawMessage(details.String)
		}
		entries = append(entries, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return entries, nil
}

// LogService appends operational log lines to backup_logs.
type LogService struct {
	db DB
}

func NewLogService(db DB) *LogService {
	return &LogService{db: db}
}

func (s *LogService) Write(ctx context.Context, jobID *int64, level, message string, details any) error {
	raw, err := encodeDetails(details)
	if err != nil {
		return fmt.Errorf("write backup log: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO backup_logs (job_id, log_level, message, details) VALUES (?, ?, ?, ?)`,
		jobID, level, message, raw,
	)
	if err != nil {
		return fmt.Errorf("write backup log: %w", err)
	}
	return nil
}

// ListByJob returns the log lines of one job, oldest first.
func (s *LogService) ListByJob(ctx context.Context, jobID int64) ([]model.BackupLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, log_level, message, details, created_at
		 FROM backup_logs WHERE job_id = ? ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list logs for job %d: %w", jobID, err)
	}
	defer rows.Close()

	lines := []model.BackupLog{}
	for rows.Next() {
		var (
			l       model.BackupLog
			job     sql.NullInt64
			details sql.NullString
		)
		if err := rows.Scan(&l.ID, &job, &l.Level, &l.Message, &details, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan backup log: %w", err)
		}
		l.JobID = ptrInt64(job)
		if details.Valid {
			l.Details = json.RawMessage(details.String)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backup logs: %w", err)
	}
	return lines, nil
}

func encodeDetails(details any) (sql.NullString, error) {
	if details == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode details: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
