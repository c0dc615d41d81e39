package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/edvin/logistica/internal/agent"
	"github.com/edvin/logistica/internal/config"
	"github.com/edvin/logistica/internal/core"
	"github.com/edvin/logistica/internal/db"
	"github.com/edvin/logistica/internal/logging"
)

// errMismatch makes the command exit non-zero after printing a report.
var errMismatch = errors.New("restore verification failed")

type options struct {
	jsonOut bool
	actor   string
	timeout time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "backup-verify <database>",
		Short: "Test-restore the latest backup of a database",
		Long: `Restore the newest completed backup file of <database> into a scratch
database, compare its tables with the live database and drop the scratch
database again. The live database is only read.

The result is stored on the backup file (verification_status) and in the
activity log. The command exits 1 when the restore fails or the table sets
differ.

Examples:
  backup-verify viaggi_db
  backup-verify gestionelogistica --json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := run(cmd, args[0], opts)
			if err != nil && !errors.Is(err, errMismatch) {
				fmt.Fprintf(cmd.ErrOrStderr(), "verify failed: %v\n", err)
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the result as JSON")
	cmd.Flags().StringVar(&opts.actor, "actor", "backup-verify", "Name recorded in the activity log")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Hour, "Abort the restore after this long")
	return cmd
}

func run(cmd *cobra.Command, database string, opts options) error {
	if !core.ValidDatabaseName(database) {
		return fmt.Errorf("invalid database name %q", database)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate("backup-verify"); err != nil {
		return err
	}
	logger := logging.NewLogger(cfg)

	script := cfg.ScriptPath("restore")
	if err := agent.CheckScript(script); err != nil {
		return err
	}
	toolEnv, err := agent.ToolEnv(cfg.ToolDSN, cfg.MySQLBinDir)
	if err != nil {
		return fmt.Errorf("invalid BACKUP_MYSQL_DSN: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	restorer := agent.NewRestorer(agent.NewRunner(logger, 10*time.Second), logger, cfg.Shell, script, toolEnv)
	res, err := core.NewVerifier(pool, restorer).Verify(ctx, database, opts.actor)
	if res == nil {
		return err
	}
	if err != nil {
		logger.Warn().Err(err).Msg("verification bookkeeping incomplete")
	}

	out := cmd.OutOrStdout()
	if opts.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		printReport(out, res)
	}

	logger.Info().
		Str("database", res.Database).
		Str("file", res.FilePath).
		Bool("success", res.Success).
		Int64("duration_ms", res.DurationMs).
		Msg("restore verification finished")

	if !res.Success {
		return errMismatch
	}
	return nil
}

func printReport(out io.Writer, res *core.VerifyResult) {
	status := "PASSED"
	if !res.Success {
		status = "FAILED"
	}
	fmt.Fprintf(out, "Restore verification: %s\n", status)
	fmt.Fprintf(out, "  Database:        %s\n", res.Database)
	fmt.Fprintf(out, "  Backup file:     %s (id %d)\n", res.FilePath, res.FileID)
	fmt.Fprintf(out, "  Scratch db:      %s (dropped)\n", res.ScratchDatabase)
	fmt.Fprintf(out, "  Duration:        %s\n", (time.Duration(res.DurationMs) * time.Millisecond).String())
	if res.Error != "" {
		fmt.Fprintf(out, "  Error:           %s\n", res.Error)
		return
	}

	match := "yes"
	if !res.TableCountMatch {
		match = "no"
	}
	fmt.Fprintf(out, "  Tables (live):   %s\n", humanize.Comma(int64(res.SourceTables)))
	fmt.Fprintf(out, "  Tables (backup): %s\n", humanize.Comma(int64(res.RestoredTables)))
	fmt.Fprintf(out, "  Table sets match: %s\n", match)
	if len(res.MissingTables) > 0 {
		fmt.Fprintf(out, "  Missing from backup: %s\n", strings.Join(res.MissingTables, ", "))
	}
	if len(res.ExtraTables) > 0 {
		fmt.Fprintf(out, "  Only in backup:      %s\n", strings.Join(res.ExtraTables, ", "))
	}
}
