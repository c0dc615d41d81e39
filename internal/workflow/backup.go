package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/edvin/logistica/internal/agent"
	"github.com/edvin/logistica/internal/core"
	"github.com/edvin/logistica/internal/metrics"
	"github.com/edvin/logistica/internal/model"
	"github.com/edvin/logistica/internal/platform"
)

// ErrInvalidRequest is returned for trigger requests rejected before any
// state is created.
var ErrInvalidRequest = errors.New("invalid backup request")

// ErrShuttingDown is returned by Trigger once Wait has begun.
var ErrShuttingDown = errors.New("backup service is shutting down")

var (
	errJobTimeout = errors.New("backup timed out")
	errShutdown   = errors.New("interrupted by service shutdown")
)

const interruptedMessage = "interrupted by service restart"

// cancelCause is the context cause used when an operator cancels a job.
type cancelCause struct {
	actor string
}

func (c *cancelCause) Error() string {
	return "cancelled by " + c.actor
}

// JobStore is the part of the job record store the controller drives.
type JobStore interface {
	Admit(ctx context.Context, job *model.BackupJob, ceiling int) (core.Admission, error)
	GetByID(ctx context.Context, id int64) (*model.BackupJob, error)
	UpdateProgress(ctx context.Context, id int64, pct int) (bool, error)
	Finish(ctx context.Context, id int64, out core.JobOutcome) error
	ListUnfinished(ctx context.Context) ([]int64, error)
}

type FileStore interface {
	Create(ctx context.Context, f *model.BackupFile) error
}

type ActivityRecorder interface {
	Record(ctx context.Context, jobID *int64, action, actor string, details any) error
}

type LogWriter interface {
	Write(ctx context.Context, jobID *int64, level, message string, details any) error
}

type SettingsLoader interface {
	Load(ctx context.Context, defaults model.Settings) (model.Settings, error)
}

// AdmissionChecker is the read-only admission gate.
type AdmissionChecker interface {
	CanAdmit(ctx context.Context, ceiling int) (core.Admission, error)
}

type ProcessRunner interface {
	Run(ctx context.Context, cmd agent.Command, onOutput agent.OutputFunc) (*agent.Result, error)
}

// Options are the static parameters of the controller.
type Options struct {
	Defaults   model.Settings
	Databases  []string
	Shell      string
	ScriptPath func(kind string) string
	ToolEnv    []string
	BackupRoot string
	// WriteTimeout bounds each bookkeeping write.
	WriteTimeout time.Duration
}

// TriggerRequest asks for a new backup job.
type TriggerRequest struct {
	BackupType    string
	Databases     []string
	TriggeredBy   string
	TriggerSource string
}

// Controller drives backup jobs from admission to a terminal status. Each
// admitted job runs in its own goroutine, detached from the request that
// triggered it.
type Controller struct {
	jobs     JobStore
	files    FileStore
	activity ActivityRecorder
	logs     LogWriter
	settings SettingsLoader
	gate     AdmissionChecker
	runner   ProcessRunner
	opts     Options
	logger   zerolog.Logger

	now        func() time.Time
	newBackOff func() backoff.BackOff

	mu      sync.Mutex
	running map[int64]context.CancelCauseFunc
	closing bool
	wg      sync.WaitGroup
}

func NewController(svcs *core.Services, runner ProcessRunner, opts Options, logger zerolog.Logger) *Controller {
	c := newController(svcs.Jobs, svcs.Files, svcs.Activity, svcs.Logs, svcs.Settings, runner, opts, logger)
	c.gate = svcs.Gate
	return c
}

func newController(jobs JobStore, files FileStore, activity ActivityRecorder, logs LogWriter,
	settings SettingsLoader, runner ProcessRunner, opts Options, logger zerolog.Logger) *Controller {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &Controller{
		jobs:     jobs,
		files:    files,
		activity: activity,
		logs:     logs,
		settings: settings,
		runner:   runner,
		opts:     opts,
		logger:   logger.With().Str("component", "backup-controller").Logger(),
		now:      time.Now,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return backoff.WithMaxRetries(b, 6)
		},
		running: make(map[int64]context.CancelCauseFunc),
	}
}

// Settings resolves the operational settings for one operation, falling
// back to the configured defaults when the config table is unreadable.
func (c *Controller) Settings(ctx context.Context) model.Settings {
	s, err := c.settings.Load(ctx, c.opts.Defaults)
	if err != nil {
		c.logger.Warn().Err(err).Msg("load backup settings, using defaults")
		return c.opts.Defaults
	}
	return s
}

// Capacity reports whether a trigger issued now would be admitted. The
// answer is advisory; Trigger repeats the check under a lock.
func (c *Controller) Capacity(ctx context.Context) (core.Admission, error) {
	return c.gate.CanAdmit(ctx, c.Settings(ctx).MaxParallelJobs)
}

// Trigger validates req, admits a new job under the parallelism ceiling and
// starts it. The returned job is the record as admitted (status running).
func (c *Controller) Trigger(ctx context.Context, req TriggerRequest) (*model.BackupJob, error) {
	dbs, err := c.validate(req)
	if err != nil {
		return nil, err
	}

	// The job slot is reserved under mu so no Add races a Wait in progress.
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil, ErrShuttingDown
	}
	c.wg.Add(1)
	c.mu.Unlock()
	started := false
	defer func() {
		if !started {
			c.wg.Done()
		}
	}()

	settings := c.Settings(ctx)
	start := c.now().UTC().Truncate(time.Millisecond)
	source := req.TriggerSource
	if source == "" {
		source = model.TriggerManual
	}

	job := &model.BackupJob{
		UUID:           platform.NewJobUUID(),
		Type:           req.BackupType,
		StartTime:      start,
		Databases:      dbs,
		BackupPath:     platform.BackupPath(c.opts.BackupRoot, req.BackupType, start),
		TriggerSource:  source,
		TriggeredBy:    req.TriggeredBy,
		RetentionUntil: model.RetentionUntil(req.BackupType, start),
		CreatedAt:      start,
		UpdatedAt:      start,
	}

	adm, err := c.jobs.Admit(ctx, job, settings.MaxParallelJobs)
	if err != nil {
		if errors.Is(err, core.ErrAdmissionDenied) {
			metrics.AdmissionDenied()
			return nil, fmt.Errorf("%w (%d running, limit %d)", core.ErrAdmissionDenied, adm.RunningCount, adm.Ceiling)
		}
		return nil, err
	}

	if settings.JobTimeout <= 0 {
		settings.JobTimeout = c.opts.Defaults.JobTimeout
	}

	jobCtx, cancel := context.WithCancelCause(context.Background())
	c.mu.Lock()
	c.running[job.ID] = cancel
	c.mu.Unlock()

	snapshot := *job
	started = true
	go c.execute(jobCtx, cancel, job, settings)

	c.logger.Info().Int64("job_id", job.ID).Str("job_uuid", job.UUID).Str("type", job.Type).
		Strs("databases", job.Databases).Int("running", adm.RunningCount+1).Msg("backup job admitted")
	return &snapshot, nil
}

func (c *Controller) validate(req TriggerRequest) (model.DatabaseList, error) {
	valid := false
	for _, t := range model.TriggerableTypes {
		if req.BackupType == t {
			valid = true
		}
	}
	if !valid {
		return nil, fmt.Errorf("%w: backup_type must be one of %s", ErrInvalidRequest, strings.Join(model.TriggerableTypes, ", "))
	}
	if len(req.Databases) == 0 {
		return nil, fmt.Errorf("%w: at least one database is required", ErrInvalidRequest)
	}

	allowed := make(map[string]bool, len(c.opts.Databases))
	for _, d := range c.opts.Databases {
		allowed[d] = true
	}
	seen := make(map[string]bool, len(req.Databases))
	var dbs model.DatabaseList
	for _, d := range req.Databases {
		if !allowed[d] {
			return nil, fmt.Errorf("%w: unknown database %q", ErrInvalidRequest, d)
		}
		if !seen[d] {
			seen[d] = true
			dbs = append(dbs, d)
		}
	}
	return dbs, nil
}

// Cancel stops a job running in this process. The job becomes cancelled
// once its process has exited.
func (c *Controller) Cancel(ctx context.Context, id int64, actor string) error {
	c.mu.Lock()
	cancel, ok := c.running[id]
	c.mu.Unlock()
	if ok {
		cancel(&cancelCause{actor: actor})
		c.logger.Info().Int64("job_id", id).Str("actor", actor).Msg("backup job cancellation requested")
		return nil
	}

	job, err := c.jobs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("backup job %d is %s: %w", id, job.Status, core.ErrNotRunning)
}

// Running reports the ids of jobs executing in this process.
func (c *Controller) Running() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int64, 0, len(c.running))
	for id := range c.running {
		ids = append(ids, id)
	}
	return ids
}

// Reconcile fails jobs left pending or running by a previous process. The
// registry of running jobs does not survive a restart, so such jobs can
// never finish.
func (c *Controller) Reconcile(ctx context.Context) (int, error) {
	ids, err := c.jobs.ListUnfinished(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, id := range ids {
		c.mu.Lock()
		_, live := c.running[id]
		c.mu.Unlock()
		if live {
			continue
		}

		err := c.jobs.Finish(ctx, id, core.JobOutcome{
			Status:       model.StatusFailed,
			EndTime:      c.now().UTC(),
			ErrorMessage: interruptedMessage,
		})
		if errors.Is(err, core.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return n, err
		}
		jobID := id
		if err := c.activity.Record(ctx, &jobID, model.ActivityJobFailed, "system",
			map[string]any{"error": interruptedMessage}); err != nil {
			c.logger.Warn().Err(err).Int64("job_id", id).Msg("record reconcile activity")
		}
		n++
	}
	if n > 0 {
		c.logger.Warn().Int("jobs", n).Msg("failed backup jobs interrupted by restart")
	}
	return n, nil
}

// Wait blocks until every running job has reached a terminal status or ctx
// ends. When ctx ends first, remaining jobs are cancelled and Wait gives
// them one more WriteTimeout to record their status. Triggers issued after
// Wait begins fail with ErrShuttingDown.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	c.mu.Lock()
	for _, cancel := range c.running {
		cancel(errShutdown)
	}
	c.mu.Unlock()

	t := time.NewTimer(c.opts.WriteTimeout)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
	}
	return ctx.Err()
}

func (c *Controller) execute(ctx context.Context, cancel context.CancelCauseFunc, job *model.BackupJob, settings model.Settings) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		delete(c.running, job.ID)
		c.mu.Unlock()
		cancel(nil)
	}()

	log := c.logger.With().Int64("job_id", job.ID).Str("job_uuid", job.UUID).Logger()
	metrics.JobStarted(job.Type)

	c.bookkeep(log, "record job_started", func(ctx context.Context) error {
		return c.activity.Record(ctx, &job.ID, model.ActivityJobStarted, job.TriggeredBy, map[string]any{
			"backup_type": job.Type,
			"databases":   job.Databases,
			"backup_path": job.BackupPath,
		})
	})

	// Failure activity records whether email notification is enabled.
	fail := func(msg string, details map[string]any) {
		details["email_notification"] = settings.EmailNotifications
		c.finish(log, job, core.JobOutcome{Status: model.StatusFailed, ErrorMessage: msg}, details)
	}

	script := c.opts.ScriptPath(job.Type)
	if err := agent.CheckScript(script); err != nil {
		fail(err.Error(), map[string]any{"script": script, "error": err.Error()})
		return
	}

	timeout := settings.JobTimeout

	runCtx, stop := context.WithTimeoutCause(ctx, timeout, errJobTimeout)
	defer stop()

	tracker := &progressTracker{}
	cmd := agent.Command{
		Shell:      c.opts.Shell,
		ScriptPath: script,
		Env:        append(append([]string{}, c.opts.ToolEnv...), agent.JobEnv(job)...),
	}
	res, err := c.runner.Run(runCtx, cmd, func(s agent.Stream, line string) {
		c.handleOutput(log, job, tracker, s, line)
	})

	var cc *cancelCause
	switch {
	case err != nil && errors.As(err, &cc):
		c.finish(log, job, core.JobOutcome{Status: model.StatusCancelled, ErrorMessage: cc.Error()},
			map[string]any{"actor": cc.actor})
	case err != nil && errors.Is(err, errJobTimeout):
		msg := fmt.Sprintf("backup timed out after %s", timeout)
		fail(msg, map[string]any{"error": msg, "timeout_seconds": int64(timeout.Seconds())})
	case err != nil:
		fail(err.Error(), map[string]any{"error": err.Error()})
	case res.ExitCode != 0:
		msg := agent.ErrorSummary(res)
		fail(msg, map[string]any{"exit_code": res.ExitCode, "stderr": msg})
	default:
		out := core.JobOutcome{Status: model.StatusCompleted}
		details := map[string]any{}
		if size, ok := agent.ParseTotalSize(res.Stdout); ok {
			out.FileSizeBytes = &size
		} else if total, ok := tracker.artifactBytes(); ok {
			out.FileSizeBytes = &total
		}
		if out.FileSizeBytes != nil {
			details["file_size_bytes"] = *out.FileSizeBytes
			details["file_size"] = humanize.Bytes(uint64(*out.FileSizeBytes))
		}
		c.finish(log, job, out, details)
	}
}

// handleOutput runs serialized per job.
func (c *Controller) handleOutput(log zerolog.Logger, job *model.BackupJob, t *progressTracker, s agent.Stream, line string) {
	if s == agent.Stderr {
		log.Debug().Str("stream", "stderr").Msg(line)
		return
	}

	if pct, ok := agent.ProgressFor(line); ok && pct > t.progress {
		t.progress = pct
		c.bookkeep(log, "update progress", func(ctx context.Context) error {
			_, err := c.jobs.UpdateProgress(ctx, job.ID, pct)
			return err
		})
	}

	if a, ok := agent.ParseArtifact(line); ok {
		t.artifacts = append(t.artifacts, a)
		f := &model.BackupFile{
			JobID:         job.ID,
			FilePath:      a.Path,
			FileSizeBytes: a.SizeBytes,
		}
		if a.Checksum != "" {
			f.Checksum = &a.Checksum
		}
		if comp := agent.CompressionFor(a.Path); comp != "" {
			f.CompressionType = &comp
		}
		c.bookkeep(log, "record backup file", func(ctx context.Context) error {
			return c.files.Create(ctx, f)
		})
	}
}

// finish persists the terminal status, retrying with backoff on a context
// that no job cancellation or timeout can reach, then appends the matching
// activity entry.
func (c *Controller) finish(log zerolog.Logger, job *model.BackupJob, out core.JobOutcome, details map[string]any) {
	out.EndTime = c.now().UTC()
	duration := out.EndTime.Sub(job.StartTime)
	details["duration_seconds"] = model.DurationSeconds(job.StartTime, out.EndTime)

	err := backoff.RetryNotify(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteTimeout)
		defer cancel()
		err := c.jobs.Finish(ctx, job.ID, out)
		if errors.Is(err, core.ErrInvalidTransition) {
			return backoff.Permanent(err)
		}
		return err
	}, c.newBackOff(), func(err error, next time.Duration) {
		log.Warn().Err(err).Dur("retry_in", next).Msg("persist terminal status")
	})
	if err != nil {
		metrics.BookkeepingError("finish")
		log.Error().Err(err).Str("status", out.Status).Msg("could not persist terminal status")
		c.bookkeep(log, "write bookkeeping failure", func(ctx context.Context) error {
			return c.logs.Write(ctx, &job.ID, model.LogLevelError, "could not persist terminal status",
				map[string]any{"status": out.Status, "error": err.Error()})
		})
	}

	action := model.ActivityJobFailed
	switch out.Status {
	case model.StatusCompleted:
		action = model.ActivityJobCompleted
	case model.StatusCancelled:
		action = model.ActivityJobCancelled
	}
	c.bookkeep(log, "record "+action, func(ctx context.Context) error {
		return c.activity.Record(ctx, &job.ID, action, job.TriggeredBy, details)
	})

	metrics.JobFinished(job.Type, out.Status, duration)
	ev := log.Info()
	if out.Status != model.StatusCompleted {
		ev = log.Warn().Str("error", out.ErrorMessage)
	}
	ev.Str("status", out.Status).Dur("duration", duration).Msg("backup job finished")
}

// bookkeep performs a best-effort write. Failures are logged and counted
// but never abort the job.
func (c *Controller) bookkeep(log zerolog.Logger, op string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		metrics.BookkeepingError(op)
		log.Error().Err(err).Str("operation", op).Msg("bookkeeping write failed")
	}
}

type progressTracker struct {
	progress  int
	artifacts []agent.Artifact
}

func (t *progressTracker) artifactBytes() (int64, bool) {
	if len(t.artifacts) == 0 {
		return 0, false
	}
	var n int64
	for _, a := range t.artifacts {
		n += a.SizeBytes
	}
	return n, true
}
