package core

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/edvin/logistica/internal/model"
)

const fileColumns = `f.id, f.job_id, f.file_path, f.file_size_bytes, f.checksum, f.compression_type,
	f.verification_status, f.last_verified_at, f.created_at`

type FileService struct {
	db DB
}

func NewFileService(db DB) *FileService {
	return &FileService{db: db}
}

// Create inserts an artifact row for a job. f.ID is set on success.
func (s *FileService) Create(ctx context.Context, f *model.BackupFile) error {
	if f.VerificationStatus == "" {
		f.VerificationStatus = model.VerificationPending
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO backup_files (job_id, file_path, file_size_bytes, checksum, compression_type, verification_status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		f.JobID, f.FilePath, f.FileSizeBytes, f.Checksum, f.CompressionType, f.VerificationStatus,
	)
	if err != nil {
		return fmt.Errorf("insert backup file %s: %w", f.FilePath, err)
	}
	if f.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("read backup file id: %w", err)
	}
	return nil
}

func scanFile(row rowScanner, extra ...any) (*model.BackupFile, error) {
	var (
		f           model.BackupFile
		checksum    sql.NullString
		compression sql.NullString
		verifiedAt  sql.NullTime
	)
	dest := []any{&f.ID, &f.JobID, &f.FilePath, &f.FileSizeBytes, &checksum, &compression,
		&f.VerificationStatus, &verifiedAt, &f.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	f.Checksum = ptrString(checksum)
	f.CompressionType = ptrString(compression)
	f.LastVerifiedAt = ptrTime(verifiedAt)
	return &f, nil
}

func (s *FileService) ListByJob(ctx context.Context, jobID int64) ([]model.BackupFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM backup_files f WHERE f.job_id = ? ORDER BY f.id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list files for job %d: %w", jobID, err)
	}
	defer rows.Close()

	files := []model.BackupFile{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup file: %w", err)
		}
		files = append(files, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backup files: %w", err)
	}
	return files, nil
}

// LatestCompletedForDatabase returns the newest artifact of a completed job
// that included database. When a job covered several databases, the file
// whose name mentions the database is preferred.
func (s *FileService) LatestCompletedForDatabase(ctx context.Context, database string) (*model.BackupFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+`, j.databases_included
		 FROM backup_files f JOIN backup_jobs j ON j.id = f.job_id
		 WHERE j.status = ?
		 ORDER BY f.created_at DESC, f.id DESC`, model.StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("find backup of %s: %w", database, err)
	}
	defer rows.Close()

	for rows.Next() {
		var dbs model.DatabaseList
		f, err := scanFile(rows, &dbs)
		if err != nil {
			return nil, fmt.Errorf("scan backup file: %w", err)
		}
		if fileCovers(f.FilePath, dbs, database) {
			return f, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backup files: %w", err)
	}
	return nil, fmt.Errorf("completed backup of %s: %w", database, ErrNotFound)
}

func fileCovers(path string, dbs model.DatabaseList, database string) bool {
	found := false
	for _, d := range dbs {
		if d == database {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	return len(dbs) == 1 || strings.Contains(filepath.Base(path), database)
}

// MarkVerification records the outcome of a restore test.
func (s *FileService) MarkVerification(ctx context.Context, id int64, status string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE backup_files SET verification_status = ?, last_verified_at = ? WHERE id = ?`,
		status, at, id,
	)
	if err != nil {
		return fmt.Errorf("mark backup file %d %s: %w", id, status, err)
	}
	return nil
}
