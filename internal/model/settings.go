package model

import "time"

// Keys of the backup_config table read by the controller.
const (
	ConfigMaxParallelJobs    = "max_parallel_jobs"
	ConfigRetentionDays      = "retention_days"
	ConfigJobTimeoutMinutes  = "job_timeout_minutes"
	ConfigEmailNotifications = "email_notifications_enabled"
)

// ConfigEntry is one row of the flat key/value configuration store.
type ConfigEntry struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Category    string    `json:"category"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Settings are the operational parameters resolved for one operation.
type Settings struct {
	MaxParallelJobs    int
	RetentionDays      int
	JobTimeout         time.Duration
	EmailNotifications bool
}
