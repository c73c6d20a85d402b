// Package runner launches the external pipeline tools.
//
// A Runner starts one program, blocks until it exits and reports its exit
// status. Standard streams are passed through so tool output reaches the
// user directly. There is no cancellation, timeout or retry: a tool that
// hangs holds the pipeline.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nocbroker/internal/logging"
)

// Command is one external program invocation.
type Command struct {
	Path string
	Args []string
	// Dir is the working directory; empty inherits the broker's.
	Dir string
}

// secretFlags are flags whose following value is never displayed.
var secretFlags = map[string]bool{
	"--password": true,
}

// Redacted returns the argument vector with secret values masked.
func (c Command) Redacted() []string {
	out := make([]string, 0, len(c.Args)+1)
	out = append(out, c.Path)
	hideNext := false
	for _, a := range c.Args {
		switch {
		case hideNext:
			out = append(out, "[REDACTED]")
			hideNext = false
		case secretFlags[a]:
			out = append(out, a)
			hideNext = true
		case strings.HasPrefix(a, "--password="):
			out = append(out, "--password=[REDACTED]")
		default:
			out = append(out, a)
		}
	}
	return out
}

// String renders the redacted command line.
func (c Command) String() string {
	return strings.Join(c.Redacted(), " ")
}

// ExitStatus is the normalized outcome of a process that ran.
type ExitStatus struct {
	Code     int
	Duration time.Duration
}

// Success reports a zero exit code.
func (s ExitStatus) Success() bool {
	return s.Code == 0
}

// Runner executes a Command to completion.
type Runner interface {
	Run(ctx context.Context, cmd Command) (ExitStatus, error)
}

// SpawnError reports a program that could not be started.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// ExitError reports a program that exited with a non-zero code.
type ExitError struct {
	Path string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Path, e.Code)
}

// Check folds a Run result into a single error: the spawn error, an
// *ExitError for a non-zero code, or nil.
func Check(cmd Command, status ExitStatus, err error) error {
	if err != nil {
		return err
	}
	if !status.Success() {
		return &ExitError{Path: cmd.Path, Code: status.Code}
	}
	return nil
}

// ExecRunner runs programs as child processes.
type ExecRunner struct {
	// Stdout and Stderr receive the child's output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// NewExecRunner returns a runner that passes the broker's stdout and stderr
// through to the child. The child gets no stdin.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{Stdout: os.Stdout, Stderr: os.Stderr}
}

// Run starts cmd and waits for it. A non-zero exit is returned in the
// status, not as an error; only failures to launch are errors.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (ExitStatus, error) {
	log := logging.FromContext(ctx)

	c, err := newProcess(cmd.Path, cmd.Args)
	if err != nil {
		return ExitStatus{}, &SpawnError{Path: cmd.Path, Err: err}
	}
	c.Dir = cmd.Dir
	c.Stdout = r.Stdout
	c.Stderr = r.Stderr

	log.Debug(ctx, "starting tool", zap.Strings("argv", cmd.Redacted()), zap.String("dir", cmd.Dir))

	start := time.Now()
	if err := c.Start(); err != nil {
		return ExitStatus{}, &SpawnError{Path: cmd.Path, Err: err}
	}

	err = c.Wait()
	status := ExitStatus{Duration: time.Since(start)}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return status, fmt.Errorf("failed waiting for %s: %w", cmd.Path, err)
		}
		status.Code = exitErr.ExitCode()
	}

	log.Debug(ctx, "tool exited",
		zap.String("tool", cmd.Path),
		zap.Int("exit_code", status.Code),
		zap.Duration("duration", status.Duration))

	return status, nil
}
