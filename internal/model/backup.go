package model

import "time"

// Backup kinds.
const (
	BackupTypeFull         = "full"
	BackupTypeIncremental  = "incremental"
	BackupTypeDifferential = "differential"
	BackupTypeManual       = "manual"
)

// Trigger sources.
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

// BackupJob is one invocation of a backup, tracked from admission to a
// terminal status.
type BackupJob struct {
	ID                 int64        `json:"job_id"`
	UUID               string       `json:"job_uuid"`
	Type               string       `json:"backup_type"`
	Status             string       `json:"status"`
	StartTime          time.Time    `json:"start_time"`
	EndTime            *time.Time   `json:"end_time,omitempty"`
	DurationSeconds    *int64       `json:"duration_seconds,omitempty"`
	Databases          DatabaseList `json:"databases"`
	BackupPath         string       `json:"backup_path"`
	TriggerSource      string       `json:"trigger_source"`
	TriggeredBy        string       `json:"triggered_by"`
	RetentionUntil     time.Time    `json:"retention_until"`
	ProgressPercentage int          `json:"progress_percentage"`
	ErrorMessage       *string      `json:"error_message,omitempty"`
	FileSizeBytes      *int64       `json:"file_size_bytes,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// BackupFile is one artifact produced by a job.
type BackupFile struct {
	ID                 int64      `json:"id"`
	JobID              int64      `json:"job_id"`
	FilePath           string     `json:"file_path"`
	FileSizeBytes      int64      `json:"file_size_bytes"`
	Checksum           *string    `json:"checksum,omitempty"`
	CompressionType    *string    `json:"compression_type,omitempty"`
	VerificationStatus string     `json:"verification_status"`
	LastVerifiedAt     *time.Time `json:"last_verified_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// BackupStats summarises the job table.
type BackupStats struct {
	ByStatus       map[string]int64 `json:"by_status"`
	Total          int64            `json:"total"`
	CompletedBytes int64            `json:"completed_bytes"`
}

// TriggerableTypes are the kinds accepted by the trigger API. Manual jobs
// are recorded by operators through other tooling.
var TriggerableTypes = []string{BackupTypeFull, BackupTypeIncremental, BackupTypeDifferential}

// ValidBackupType reports whether t is a known backup kind.
func ValidBackupType(t string) bool {
	switch t {
	case BackupTypeFull, BackupTypeIncremental, BackupTypeDifferential, BackupTypeManual:
		return true
	}
	return false
}

// RetentionDays returns how long a backup of the given kind is kept.
func RetentionDays(kind string) int {
	switch kind {
	case BackupTypeFull:
		return 90
	case BackupTypeDifferential:
		return 60
	default:
		return 30
	}
}

// RetentionUntil computes the retention expiry for a job started at start.
func RetentionUntil(kind string, start time.Time) time.Time {
	return start.AddDate(0, 0, RetentionDays(kind))
}

// DurationSeconds returns the whole seconds between start and end.
func DurationSeconds(start, end time.Time) int64 {
	d := end.Sub(start).Round(time.Second)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}
