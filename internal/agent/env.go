package agent

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/edvin/logistica/internal/model"
)

// ToolEnv turns a go-sql-driver DSN into the MYSQL_* variables the dump
// and restore scripts read. MYSQL_PWD is honoured by the mysql client tools
// directly, so the password never appears on a command line.
func ToolEnv(dsn, binDir string) ([]string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse tool dsn: %w", err)
	}

	env := []string{
		"MYSQL_USER=" + cfg.User,
		"MYSQL_PWD=" + cfg.Passwd,
		"MYSQL_BIN_DIR=" + binDir,
	}

	switch cfg.Net {
	case "unix":
		env = append(env, "MYSQL_UNIX_PORT="+cfg.Addr, "MYSQL_HOST=localhost")
	default:
		host, port, err := net.SplitHostPort(cfg.Addr)
		if err != nil {
			host, port = cfg.Addr, "3306"
		}
		env = append(env, "MYSQL_HOST="+host, "MYSQL_PORT="+port)
	}
	return env, nil
}

// JobEnv describes the job to the backup script.
func JobEnv(job *model.BackupJob) []string {
	return []string{
		"BACKUP_TYPE=" + job.Type,
		"BACKUP_DATABASES=" + strings.Join(job.Databases, ","),
		"BACKUP_PATH=" + job.BackupPath,
		"BACKUP_JOB_UUID=" + job.UUID,
		"BACKUP_JOB_ID=" + strconv.FormatInt(job.ID, 10),
	}
}
