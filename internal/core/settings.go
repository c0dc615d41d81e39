package core

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/edvin/logistica/internal/model"
)

// SettingsService reads the backup_config key/value table.
type SettingsService struct {
	db DB
}

func NewSettingsService(db DB) *SettingsService {
	return &SettingsService{db: db}
}

// Load overlays the stored operational settings on defaults. Keys that are
// missing or hold unparseable values keep the default.
func (s *SettingsService) Load(ctx context.Context, defaults model.Settings) (model.Settings, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return defaults, err
	}

	out := defaults
	for _, e := range entries {
		switch e.Key {
		case model.ConfigMaxParallelJobs:
			if n, err := strconv.Atoi(e.Value); err == nil && n > 0 {
				out.MaxParallelJobs = n
			}
		case model.ConfigRetentionDays:
			if n, err := strconv.Atoi(e.Value); err == nil && n > 0 {
				out.RetentionDays = n
			}
		case model.ConfigJobTimeoutMinutes:
			if n, err := strconv.Atoi(e.Value); err == nil && n > 0 {
				out.JobTimeout = time.Duration(n) * time.Minute
			}
		case model.ConfigEmailNotifications:
			if b, err := strconv.ParseBool(e.Value); err == nil {
				out.EmailNotifications = b
			}
		}
	}
	return out, nil
}

func (s *SettingsService) List(ctx context.Context) ([]model.ConfigEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT config_key, config_value, category, description, updated_at
		 FROM backup_config ORDER BY category, config_key`)
	if err != nil {
		return nil, fmt.Errorf("list backup config: %w", err)
	}
	defer rows.Close()

	entries := []model.ConfigEntry{}
	for rows.Next() {
		var (
			e    model.ConfigEntry
			desc sql.NullString
		)
		if err := rows.Scan(&e.Key, &e.Value, &e.Category, &desc, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan backup config: %w", err)
		}
		e.Description = desc.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backup config: %w", err)
	}
	return entries, nil
}
