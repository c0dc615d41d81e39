package model

import "time"

// BackupSchedule is a passive recurrence row consumed by an external
// scheduler.
type BackupSchedule struct {
	ID             int64        `json:"id"`
	Name           string       `json:"name"`
	CronExpression string       `json:"cron_expression"`
	BackupType     string       `json:"backup_type"`
	Databases      DatabaseList `json:"databases"`
	RetentionDays  int          `json:"retention_days"`
	Enabled        bool         `json:"enabled"`
	LastRun        *time.Time   `json:"last_run,omitempty"`
	NextRun        *time.Time   `json:"next_run,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}
