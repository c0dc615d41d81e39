package request

// TriggerBackup is the body of POST /backups.
type TriggerBackup struct {
	BackupType string   `json:"backup_type" validate:"required,oneof=full incremental differential"`
	Databases  []string `json:"databases" validate:"required,min=1,dive,required,dbname"`
}

// CreateSchedule is the body of POST /backup-schedules.
type CreateSchedule struct {
	Name           string   `json:"name" validate:"required,max=100"`
	CronExpression string   `json:"cron_expression" validate:"required,cron"`
	BackupType     string   `json:"backup_type" validate:"required,oneof=full incremental differential"`
	Databases      []string `json:"databases" validate:"required,min=1,dive,required,dbname"`
	RetentionDays  int      `json:"retention_days" validate:"omitempty,min=1,max=3650"`
	Enabled        *bool    `json:"enabled"`
}

type SetScheduleEnabled struct {
	Enabled *bool `json:"enabled" validate:"required"`
}
