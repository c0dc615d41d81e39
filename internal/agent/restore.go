package agent

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// ErrScriptNotFound is returned when a tool script is missing.
var ErrScriptNotFound = errors.New("script not found")

// CheckScript verifies that path names an existing regular file.
func CheckScript(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrScriptNotFound, path)
		}
		return fmt.Errorf("stat script %s: %w", path, err)
	}
	if fi.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrScriptNotFound, path)
	}
	return nil
}

// Restorer runs the restore script into a target database.
type Restorer struct {
	runner *Runner
	logger zerolog.Logger
	shell  string
	script string
	env    []string
}

func NewRestorer(runner *Runner, logger zerolog.Logger, shell, script string, toolEnv []string) *Restorer {
	return &Restorer{
		runner: runner,
		logger: logger.With().Str("component", "restorer").Logger(),
		shell:  shell,
		script: script,
		env:    toolEnv,
	}
}

// Restore loads filePath into database. The script receives both through
// RESTORE_DATABASE and RESTORE_FILE.
func (r *Restorer) Restore(ctx context.Context, database, filePath string) error {
	if err := CheckScript(r.script); err != nil {
		return err
	}

	env := append(append([]string{}, r.env...),
		"RESTORE_DATABASE="+database,
		"RESTORE_FILE="+filePath,
	)
	res, err := r.runner.Run(ctx, Command{Shell: r.shell, ScriptPath: r.script, Env: env}, func(s Stream, line string) {
		r.logger.Debug().Str("stream", s.String()).Msg(line)
	})
	if err != nil {
		return fmt.Errorf("restore %s into %s: %w", filePath, database, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("restore %s into %s: exit code %d: %s", filePath, database, res.ExitCode, ErrorSummary(res))
	}
	return nil
}
