package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrSpawn wraps failures to start the child process.
var ErrSpawn = errors.New("spawn process")

const defaultPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// Stream identifies which pipe a line came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Command is one invocation of an external dump or restore tool. Variable
// data travels in Env, never in a shell command line.
type Command struct {
	Shell      string
	ScriptPath string
	Args       []string
	Env        []string
	Dir        string
}

// OutputFunc receives each output line as it is produced. Calls are
// serialized.
type OutputFunc func(stream Stream, line string)

// Result is what is left of a finished process.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner executes external tools in their own process group. When the
// context ends the group receives SIGTERM, then SIGKILL after the grace
// period.
type Runner struct {
	logger zerolog.Logger
	grace  time.Duration
	// drain bounds how long output is still read after the tool exits.
	// Background children that keep the pipes open are killed after it.
	drain time.Duration
}

func NewRunner(logger zerolog.Logger, grace time.Duration) *Runner {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &Runner{
		logger: logger.With().Str("component", "process-runner").Logger(),
		grace:  grace,
		drain:  2 * time.Second,
	}
}

// Run starts cmd and blocks until it exits. A non-zero exit is reported in
// Result.ExitCode with a nil error. The error is non-nil when the process
// could not be started (wrapping ErrSpawn) or when ctx ended first, in which
// case it is context.Cause(ctx) and Result holds the partial output.
func (r *Runner) Run(ctx context.Context, cmd Command, onOutput OutputFunc) (*Result, error) {
	var mu sync.Mutex
	emit := func(s Stream, line string) {
		if onOutput == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		onOutput(s, line)
	}
	stdout := &lineWriter{stream: Stdout, emit: emit}
	stderr := &lineWriter{stream: Stderr, emit: emit}

	c := exec.Command(cmd.Shell, append([]string{cmd.ScriptPath}, cmd.Args...)...)
	c.Env = append(baseEnv(), cmd.Env...)
	c.Dir = cmd.Dir
	c.Stdout = stdout
	c.Stderr = stderr
	c.WaitDelay = r.drain
	setProcessGroup(c)

	start := time.Now()
	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrSpawn, cmd.ScriptPath, err)
	}
	log := r.logger.With().Str("script", cmd.ScriptPath).Int("pid", c.Process.Pid).Logger()
	log.Debug().Msg("process started")

	done := make(chan struct{})
	var interrupted atomic.Bool
	go func() {
		select {
		case <-ctx.Done():
			interrupted.Store(true)
			r.stop(log, c.Process, done)
		case <-done:
		}
	}()

	waitErr := c.Wait()
	close(done)
	stdout.flush()
	stderr.flush()

	if errors.Is(waitErr, exec.ErrWaitDelay) {
		log.Warn().Dur("drain", r.drain).Msg("output still open after exit, killing leftover process group")
		if err := killProcess(c.Process); err != nil {
			log.Debug().Err(err).Msg("SIGKILL failed")
		}
		waitErr = nil
	}

	res := &Result{
		ExitCode: -1,
		Stdout:   stdout.buf.String(),
		Stderr:   stderr.buf.String(),
		Duration: time.Since(start),
	}
	if c.ProcessState != nil {
		res.ExitCode = c.ProcessState.ExitCode()
	}
	log.Debug().Int("exit_code", res.ExitCode).Dur("duration", res.Duration).Msg("process exited")

	if interrupted.Load() && res.ExitCode != 0 {
		return res, context.Cause(ctx)
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return res, fmt.Errorf("wait for %s: %w", cmd.ScriptPath, waitErr)
	}
	return res, nil
}

func (r *Runner) stop(log zerolog.Logger, p *os.Process, done <-chan struct{}) {
	log.Warn().Msg("terminating process group")
	if err := terminateProcess(p); err != nil {
		log.Debug().Err(err).Msg("SIGTERM failed")
	}

	t := time.NewTimer(r.grace)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		log.Warn().Dur("grace", r.grace).Msg("process ignored SIGTERM, killing process group")
		if err := killProcess(p); err != nil {
			log.Debug().Err(err).Msg("SIGKILL failed")
		}
	}
}

// lineWriter buffers everything written to it and emits complete lines.
// exec copies each stream from a single goroutine, so Write is not
// called concurrently.
type lineWriter struct {
	stream  Stream
	emit    func(Stream, string)
	buf     strings.Builder
	partial []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.emit(w.stream, strings.TrimRight(string(w.partial[:i]), "\r"))
		w.partial = w.partial[i+1:]
	}
	return len(p), nil
}

// flush emits a trailing line that had no newline.
func (w *lineWriter) flush() {
	if len(w.partial) > 0 {
		w.emit(w.stream, strings.TrimRight(string(w.partial), "\r"))
		w.partial = nil
	}
}

// baseEnv is the minimal environment every tool gets. The service's own
// environment is not inherited.
func baseEnv() []string {
	path := os.Getenv("PATH")
	if path == "" {
		path = defaultPath
	}
	env := []string{"PATH=" + path, "TERM=dumb", "LC_ALL=C.UTF-8"}
	if home := os.Getenv("HOME"); home != "" {
		env = append(env, "HOME="+home)
	}
	return env
}
