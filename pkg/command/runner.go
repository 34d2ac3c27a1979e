// Package command provides the narrow command-execution interface through
// which every external subsystem (package manager, web server, certificate
// authority, process supervisor) is invoked. A non-zero exit status is a
// result, not an error: callers decide whether it is fatal.
package command

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Result is the outcome of one external command invocation.
type Result struct {
	// ExitCode is the command's exit status. 0 means success.
	ExitCode int

	// Stdout is the trimmed standard output.
	Stdout string

	// Stderr is the trimmed standard error.
	Stderr string

	// Duration is the wall-clock execution time.
	Duration time.Duration
}

// Success reports whether the command exited zero.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Runner executes external commands. Implementations must only return an
// error when the command could not be started or was interrupted by the
// context; a command that ran and exited non-zero returns a Result with the
// exit code and a nil error.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// LocalRunner executes commands on the local host via os/exec.
type LocalRunner struct {
	// Dir, when set, is the working directory for every command.
	Dir string

	// Env, when set, replaces the inherited environment.
	Env []string
}

// NewLocalRunner returns a LocalRunner inheriting the current environment.
func NewLocalRunner() *LocalRunner {
	return &LocalRunner{}
}

// Run executes the command and captures its output.
func (r *LocalRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	start := time.Now()

	log.Debug().
		Str("command", name).
		Strs("args", args).
		Msg("executing command")

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	if r.Env != nil {
		cmd.Env = r.Env
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()

	result := Result{
		Stdout:   strings.TrimSpace(stdoutBuf.String()),
		Stderr:   strings.TrimSpace(stderrBuf.String()),
		Duration: time.Since(start),
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			// The command ran to completion with a non-zero status.
			result.ExitCode = exitErr.ExitCode()
			log.Debug().
				Str("command", name).
				Int("exit_code", result.ExitCode).
				Dur("duration", result.Duration).
				Msg("command exited non-zero")
			return result, nil
		}
		// Could not start, or the context killed it.
		result.ExitCode = -1
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		return result, runErr
	}

	log.Debug().
		Str("command", name).
		Dur("duration", result.Duration).
		Msg("command completed")

	return result, nil
}
