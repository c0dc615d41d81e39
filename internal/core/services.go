package core

type Services struct {
	Jobs      *JobService
	Gate      *Gate
	Files     *FileService
	Activity  *ActivityService
	Logs      *LogService
	Settings  *SettingsService
	Schedules *ScheduleService
}

func NewServices(db DB) *Services {
	return &Services{
		Jobs:      NewJobService(db),
		Gate:      NewGate(db),
		Files:     NewFileService(db),
		Activity:  NewActivityService(db),
		Logs:      NewLogService(db),
		Settings:  NewSettingsService(db),
		Schedules: NewScheduleService(db),
	}
}
