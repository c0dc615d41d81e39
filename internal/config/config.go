package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/edvin/logistica/internal/model"
)

type Config struct {
	ServiceName    string
	DatabaseURL    string
	HTTPListenAddr string
	LogLevel       string
	JWTSecret      string

	// ToolDSN holds the credentials handed to the external dump/restore
	// scripts. Defaults to DatabaseURL.
	ToolDSN     string
	MySQLBinDir string
	Shell       string
	ScriptsDir  string
	BackupRoot  string

	// ManifestPath optionally points at a YAML file that overrides script
	// locations and the list of databases that may be backed up.
	ManifestPath string
	Manifest     *Manifest

	MaxParallelJobs int
	JobTimeout      time.Duration
	RetentionDays   int
	Databases       []string

	// ShutdownGrace bounds how long the API waits for running jobs on exit.
	ShutdownGrace time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		ServiceName:    getEnv("SERVICE_NAME", "backup-api"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		HTTPListenAddr: getEnv("HTTP_LISTEN_ADDR", ":8090"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		JWTSecret:      getEnv("AUTH_JWT_SECRET", ""),
		ToolDSN:        getEnv("BACKUP_MYSQL_DSN", ""),
		MySQLBinDir:    getEnv("MYSQL_BIN_DIR", "/usr/bin"),
		Shell:          getEnv("BACKUP_SHELL", "/bin/bash"),
		ScriptsDir:     getEnv("BACKUP_SCRIPTS_DIR", "/opt/logistica/scripts"),
		BackupRoot:     getEnv("BACKUP_ROOT", "/var/backups/logistica"),
		ManifestPath:   getEnv("BACKUP_MANIFEST", ""),
		Databases:      splitList(getEnv("BACKUP_DATABASES", "viaggi_db,gestionelogistica")),
	}
	if cfg.ToolDSN == "" {
		cfg.ToolDSN = cfg.DatabaseURL
	}

	var err error
	if cfg.MaxParallelJobs, err = getEnvInt("BACKUP_MAX_PARALLEL_JOBS", 2); err != nil {
		return nil, err
	}
	if cfg.RetentionDays, err = getEnvInt("BACKUP_RETENTION_DAYS", 90); err != nil {
		return nil, err
	}
	if cfg.JobTimeout, err = getEnvDuration("BACKUP_JOB_TIMEOUT", 2*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ShutdownGrace, err = getEnvDuration("BACKUP_SHUTDOWN_GRACE", 30*time.Second); err != nil {
		return nil, err
	}

	if cfg.ManifestPath != "" {
		m, err := LoadManifest(cfg.ManifestPath)
		if err != nil {
			return nil, err
		}
		cfg.Manifest = m
		if len(m.Databases) > 0 {
			cfg.Databases = m.Databases
		}
	}

	return cfg, nil
}

// Validate checks that the fields required by the given binary are set.
func (c *Config) Validate(binary string) error {
	var missing []string
	require := func(name, value string) {
		if value == "" {
			missing = append(missing, name)
		}
	}

	switch binary {
	case "backup-api":
		require("DATABASE_URL", c.DatabaseURL)
		require("HTTP_LISTEN_ADDR", c.HTTPListenAddr)
		require("AUTH_JWT_SECRET", c.JWTSecret)
		require("BACKUP_SCRIPTS_DIR", c.ScriptsDir)
	case "backup-cleanup":
		require("DATABASE_URL", c.DatabaseURL)
	case "backup-verify":
		require("DATABASE_URL", c.DatabaseURL)
		require("BACKUP_SCRIPTS_DIR", c.ScriptsDir)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	if c.MaxParallelJobs < 1 {
		return fmt.Errorf("BACKUP_MAX_PARALLEL_JOBS must be at least 1")
	}
	return nil
}

// ScriptPath resolves the executable for a backup kind, or "restore" for
// the restore tool. Manifest entries win over the naming convention
// backup-<kind>.sh inside ScriptsDir.
func (c *Config) ScriptPath(kind string) string {
	name := ""
	if c.Manifest != nil {
		name = c.Manifest.Scripts[kind]
	}
	if name == "" {
		if kind == "restore" {
			name = "restore-backup.sh"
		} else {
			name = "backup-" + kind + ".sh"
		}
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.ScriptsDir, name)
}

// DefaultSettings are the operational settings used when the backup_config
// table has no usable override.
func (c *Config) DefaultSettings() model.Settings {
	return model.Settings{
		MaxParallelJobs: c.MaxParallelJobs,
		RetentionDays:   c.RetentionDays,
		JobTimeout:      c.JobTimeout,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
