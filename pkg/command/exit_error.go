package command

import "fmt"

// ExitError reports a command that ran to completion with a non-zero status
// where the caller decided that status is fatal. The exit code is carried so
// the CLI can propagate the failing command's own code, opaque, as the
// process exit status.
type ExitError struct {
	// Line is the command line that failed.
	Line string

	// Result is the full command result.
	Result Result
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command %q exited %d", e.Line, e.Result.ExitCode)
	if e.Result.Stderr != "" {
		msg += ": " + e.Result.Stderr
	}
	return msg
}

// ExitCode returns the failing command's exit status.
func (e *ExitError) ExitCode() int {
	return e.Result.ExitCode
}
