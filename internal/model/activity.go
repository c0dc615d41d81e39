package model

import (
	"encoding/json"
	"time"
)

// Activity actions recorded against jobs.
const (
	ActivityJobStarted   = "job_started"
	ActivityJobCompleted = "job_completed"
	ActivityJobFailed    = "job_failed"
	ActivityJobCancelled = "job_cancelled"
	ActivityJobDeleted   = "job_deleted"
	ActivityCleanup      = "cleanup"
	ActivityVerify       = "restore_verified"
)

// Log levels for backup_logs rows.
const (
	LogLevelDebug   = "debug"
	LogLevelInfo    = "info"
	LogLevelWarning = "warning"
	LogLevelError   = "error"
)

// ActivityLog is an append-only audit entry.
type ActivityLog struct {
	ID        int64           `json:"id"`
	JobID     *int64          `json:"job_id,omitempty"`
	Action    string          `json:"action"`
	Details   json.RawMessage `json:"details,omitempty"`
	Actor     string          `json:"actor"`
	CreatedAt time.Time       `json:"created_at"`
}

// BackupLog is an append-only operational log line.
type BackupLog struct {
	ID        int64           `json:"id"`
	JobID     *int64          `json:"job_id,omitempty"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
