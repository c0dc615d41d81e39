package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/edvin/logistica/internal/model"
)

// SweepOptions configure one retention sweep.
type SweepOptions struct {
	RetentionDays int
	DryRun        bool
	SkipOptimize  bool
}

// TableCount is the number of rows removed (or, in a dry run, eligible)
// from one table.
type TableCount struct {
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
}

// SweepResult summarises a sweep.
type SweepResult struct {
	RetentionDays int          `json:"retention_days"`
	Cutoff        time.Time    `json:"cutoff"`
	DryRun        bool         `json:"dry_run"`
	Deleted       []TableCount `json:"deleted"`
	OrphanedFiles int64        `json:"orphaned_files"`
	// OptimizeErr holds failures of the optimize pass, which do not fail
	// the sweep.
	OptimizeErr error `json:"-"`
}

// DeletedRecords is the total over all tables, orphans excluded.
func (r *SweepResult) DeletedRecords() int64 {
	var n int64
	for _, t := range r.Deleted {
		n += t.Rows
	}
	return n
}

type sweepTarget struct {
	table string
	where string
}

// Files go first so their count is not hidden by the cascade from jobs.
var sweepTargets = []sweepTarget{
	{table: "backup_files", where: "created_at < ?"},
	{table: "backup_jobs", where: "created_at < ? AND status <> 'running'"},
	{table: "backup_logs", where: "created_at < ?"},
	{table: "backup_activity_log", where: "created_at < ?"},
}

// Sweeper purges records older than the retention window and reclaims
// metadata of artifacts missing from disk. It never touches the files
// themselves.
type Sweeper struct {
	db   DB
	logs *LogService
	now  func() time.Time
	stat func(string) (os.FileInfo, error)
}

func NewSweeper(db DB) *Sweeper {
	return &Sweeper{db: db, logs: NewLogService(db), now: time.Now, stat: os.Stat}
}

func (s *Sweeper) Sweep(ctx context.Context, opts SweepOptions) (*SweepResult, error) {
	if opts.RetentionDays < 1 {
		return nil, fmt.Errorf("retention days must be at least 1, got %d", opts.RetentionDays)
	}

	res := &SweepResult{
		RetentionDays: opts.RetentionDays,
		Cutoff:        s.now().UTC().AddDate(0, 0, -opts.RetentionDays),
		DryRun:        opts.DryRun,
	}

	for _, t := range sweepTargets {
		n, err := s.purge(ctx, t, res.Cutoff, opts.DryRun)
		if err != nil {
			return nil, err
		}
		res.Deleted = append(res.Deleted, TableCount{Table: t.table, Rows: n})
	}

	orphans, err := s.reclaimOrphans(ctx, opts.DryRun)
	if err != nil {
		return nil, err
	}
	res.OrphanedFiles = orphans

	if opts.DryRun {
		return res, nil
	}

	if !opts.SkipOptimize {
		res.OptimizeErr = s.optimize(ctx)
	}

	details := map[string]any{
		"retention_days": res.RetentionDays,
		"cutoff":         res.Cutoff,
		"orphaned_files": res.OrphanedFiles,
	}
	for _, t := range res.Deleted {
		details[t.Table] = t.Rows
	}
	msg := fmt.Sprintf("cleanup removed %d records and %d orphaned file records", res.DeletedRecords(), res.OrphanedFiles)
	if err := s.logs.Write(ctx, nil, model.LogLevelInfo, msg, details); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Sweeper) purge(ctx context.Context, t sweepTarget, cutoff time.Time, dryRun bool) (int64, error) {
	if dryRun {
		var n int64
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM `+t.table+` WHERE `+t.where, cutoff,
		).Scan(&n); err != nil {
			return 0, fmt.Errorf("count expired rows in %s: %w", t.table, err)
		}
		return n, nil
	}

	r, err := s.db.ExecContext(ctx, `DELETE FROM `+t.table+` WHERE `+t.where, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired rows from %s: %w", t.table, err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired rows from %s: %w", t.table, err)
	}
	return n, nil
}

// reclaimOrphans deletes file rows of completed jobs whose path no longer
// exists. Stat errors other than not-exist leave the row alone.
func (s *Sweeper) reclaimOrphans(ctx context.Context, dryRun bool) (int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT f.id, f.file_path FROM backup_files f
		 JOIN backup_jobs j ON j.id = f.job_id
		 WHERE j.status = ?`, model.StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("list completed backup files: %w", err)
	}

	var missing []int64
	for rows.Next() {
		var (
			id   int64
			path string
		)
		if err := rows.Scan(&id, &path); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan backup file: %w", err)
		}
		if _, err := s.stat(path); errors.Is(err, fs.ErrNotExist) {
			missing = append(missing, id)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("iterate backup files: %w", err)
	}
	rows.Close()

	if dryRun {
		return int64(len(missing)), nil
	}

	var n int64
	for _, id := range missing {
		r, err := s.db.ExecContext(ctx, `DELETE FROM backup_files WHERE id = ?`, id)
		if err != nil {
			return n, fmt.Errorf("delete orphaned backup file %d: %w", id, err)
		}
		affected, _ := r.RowsAffected()
		n += affected
	}
	return n, nil
}

func (s *Sweeper) optimize(ctx context.Context) error {
	var result *multierror.Error
	for _, t := range sweepTargets {
		if _, err := s.db.ExecContext(ctx, `OPTIMIZE TABLE `+t.table); err != nil {
			result = multierror.Append(result, fmt.Errorf("optimize %s: %w", t.table, err))
		}
	}
	return result.ErrorOrNil()
}
