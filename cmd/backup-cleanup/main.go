package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/edvin/logistica/internal/config"
	"github.com/edvin/logistica/internal/core"
	"github.com/edvin/logistica/internal/db"
	"github.com/edvin/logistica/internal/logging"
	"github.com/edvin/logistica/internal/metrics"
	"github.com/edvin/logistica/internal/model"
)

type options struct {
	retentionDays   int
	dryRun          bool
	skipOptimize    bool
	metricsTextfile string
	timeout         time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "backup-cleanup",
		Short: "Purge backup bookkeeping older than the retention window",
		Long: `Delete backup job, file, log and activity records older than the retention
window and drop file records whose artifact no longer exists on disk.
Running jobs are never touched and backup files themselves are not deleted.

When --retention-days is not given, the retention_days row of backup_config
is used, falling back to BACKUP_RETENTION_DAYS.

Examples:
  # Purge records older than 90 days
  backup-cleanup --retention-days 90

  # Report what would be removed
  backup-cleanup --dry-run`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := run(cmd, opts)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "cleanup failed: %v\n", err)
			}
			return err
		},
	}

	cmd.Flags().IntVar(&opts.retentionDays, "retention-days", 90, "Delete records older than this many days")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Report counts without deleting anything")
	cmd.Flags().BoolVar(&opts.skipOptimize, "skip-optimize", false, "Do not run OPTIMIZE TABLE after deleting")
	cmd.Flags().StringVar(&opts.metricsTextfile, "metrics-textfile", "", "Write Prometheus metrics for node_exporter's textfile collector to this path")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Minute, "Abort the sweep after this long")
	return cmd
}

func run(cmd *cobra.Command, opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate("backup-cleanup"); err != nil {
		return err
	}
	logger := logging.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if !cmd.Flags().Changed("retention-days") {
		defaults := cfg.DefaultSettings()
		settings, err := core.NewSettingsService(pool).Load(ctx, defaults)
		if err != nil {
			logger.Warn().Err(err).Msg("load backup settings, using defaults")
			settings = defaults
		}
		opts.retentionDays = settings.RetentionDays
	}

	res, err := core.NewSweeper(pool).Sweep(ctx, core.SweepOptions{
		RetentionDays: opts.retentionDays,
		DryRun:        opts.dryRun,
		SkipOptimize:  opts.skipOptimize,
	})
	if err != nil {
		return err
	}

	printResult(cmd.OutOrStdout(), res)
	logResult(logger, res)

	if !res.DryRun {
		if err := core.NewActivityService(pool).Record(ctx, nil, model.ActivityCleanup, "backup-cleanup", res); err != nil {
			logger.Warn().Err(err).Msg("record cleanup activity")
		}
	}

	if opts.metricsTextfile != "" && !res.DryRun {
		deleted := make(map[string]int64, len(res.Deleted))
		for _, t := range res.Deleted {
			deleted[t.Table] = t.Rows
		}
		if err := metrics.WriteCleanupTextfile(opts.metricsTextfile, deleted, res.OrphanedFiles, time.Now()); err != nil {
			return err
		}
	}
	return nil
}

func printResult(out io.Writer, res *core.SweepResult) {
	verb := "Deleted"
	if res.DryRun {
		verb = "Would delete"
		fmt.Fprintln(out, "[DRY RUN] No records were deleted.")
	}
	fmt.Fprintf(out, "Retention: %d days (records created before %s)\n\n",
		res.RetentionDays, res.Cutoff.Format(time.RFC3339))

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "TABLE\t%s\n", verb)
	for _, t := range res.Deleted {
		fmt.Fprintf(tw, "%s\t%s\n", t.Table, humanize.Comma(t.Rows))
	}
	tw.Flush()

	fmt.Fprintf(out, "\nTotal records: %s\n", humanize.Comma(res.DeletedRecords()))
	fmt.Fprintf(out, "Orphaned file records: %s\n", humanize.Comma(res.OrphanedFiles))
	if res.OptimizeErr != nil {
		fmt.Fprintf(out, "Warning: optimize failed: %v\n", res.OptimizeErr)
	}
}

func logResult(logger zerolog.Logger, res *core.SweepResult) {
	ev := logger.Info().
		Int("retention_days", res.RetentionDays).
		Bool("dry_run", res.DryRun).
		Int64("records", res.DeletedRecords()).
		Int64("orphaned_files", res.OrphanedFiles)
	for _, t := range res.Deleted {
		ev = ev.Int64(t.Table, t.Rows)
	}
	ev.Msg("cleanup finished")
	if res.OptimizeErr != nil {
		logger.Warn().Err(res.OptimizeErr).Msg("optimize after cleanup failed")
	}
}
