package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/edvin/logistica/internal/model"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NextRun parses a five-field cron expression and returns its next firing
// after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched.Next(from), nil
}

// ScheduleService manages backup_schedules. Schedules are passive rows; an
// external scheduler reads them and calls the trigger API.
type ScheduleService struct {
	db  DB
	now func() time.Time
}

func NewScheduleService(db DB) *ScheduleService {
	return &ScheduleService{db: db, now: time.Now}
}

const scheduleColumns = `id, name, cron_expression, backup_type, databases_included, retention_days,
	enabled, last_run, next_run, created_at, updated_at`

func scanSchedule(row rowScanner) (*model.BackupSchedule, error) {
	var (
		sc      model.BackupSchedule
		lastRun sql.NullTime
		nextRun sql.NullTime
	)
	if err := row.Scan(&sc.ID, &sc.Name, &sc.CronExpression, &sc.BackupType, &sc.Databases,
		&sc.RetentionDays, &sc.Enabled, &lastRun, &nextRun, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
		return nil, err
	}
	sc.LastRun = ptrTime(lastRun)
	sc.NextRun = ptrTime(nextRun)
	return &sc, nil
}

func (s *ScheduleService) List(ctx context.Context) ([]model.BackupSchedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM backup_schedules ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list backup schedules: %w", err)
	}
	defer rows.Close()

	out := []model.BackupSchedule{}
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup schedule: %w", err)
		}
		out = append(out, *sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backup schedules: %w", err)
	}
	return out, nil
}

func (s *ScheduleService) GetByID(ctx context.Context, id int64) (*model.BackupSchedule, error) {
	sc, err := scanSchedule(s.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM backup_schedules WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("backup schedule %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get backup schedule %d: %w", id, err)
	}
	return sc, nil
}

// Create validates the cron expression, computes next_run for enabled
// schedules and inserts the row.
func (s *ScheduleService) Create(ctx context.Context, sc *model.BackupSchedule) error {
	now := s.now().UTC()
	next, err := NextRun(sc.CronExpression, now)
	if err != nil {
		return err
	}
	sc.NextRun = nil
	if sc.Enabled {
		sc.NextRun = &next
	}
	sc.CreatedAt = now
	sc.UpdatedAt = now

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO backup_schedules (name, cron_expression, backup_type, databases_included,
		 retention_days, enabled, next_run, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.Name, sc.CronExpression, sc.BackupType, sc.Databases,
		sc.RetentionDays, sc.Enabled, sc.NextRun, now, now,
	)
	if isDuplicate(err) {
		return fmt.Errorf("backup schedule %q: %w", sc.Name, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert backup schedule %s: %w", sc.Name, err)
	}
	if sc.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("read backup schedule id: %w", err)
	}
	return nil
}

// SetEnabled toggles a schedule. Enabling recomputes next_run, disabling
// clears it.
func (s *ScheduleService) SetEnabled(ctx context.Context, id int64, enabled bool) (*model.BackupSchedule, error) {
	sc, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var next *time.Time
	if enabled {
		n, err := NextRun(sc.CronExpression, s.now().UTC())
		if err != nil {
			return nil, err
		}
		next = &n
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE backup_schedules SET enabled = ?, next_run = ? WHERE id = ?`,
		enabled, next, id,
	); err != nil {
		return nil, fmt.Errorf("update backup schedule %d: %w", id, err)
	}
	sc.Enabled = enabled
	sc.NextRun = next
	return sc, nil
}
