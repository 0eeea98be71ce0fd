package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// defaultGracefulTimeout is used when Spec.GracefulTimeout is zero.
const defaultGracefulTimeout = 5 * time.Second

// Errors returned by Run. Use errors.Is() to classify them.
var (
	// ErrStartFailed is returned when the binary could not be started.
	// The underlying exec error (e.g. exec.ErrNotFound) is also wrapped.
	ErrStartFailed = errors.New("process: start failed")

	// ErrNonZeroExit is returned when the process ran and exited with a non-zero status.
	ErrNonZeroExit = errors.New("process: non-zero exit status")

	// ErrInterrupted is returned when the context ended before the process exited.
	// ctx.Err() is also wrapped, so callers can test for context.DeadlineExceeded.
	ErrInterrupted = errors.New("process: interrupted")
)

// Spec describes a single command invocation.
type Spec struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the executable, resolved through PATH when not absolute.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format) appended
	// to the parent environment.
	Env []string

	// WorkDir is the working directory. Empty inherits the parent's.
	WorkDir string

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration
}

// Result holds what a finished (or interrupted) process produced.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int // -1 when the process did not start or was killed by a signal
	Duration time.Duration
}

// CombinedOutput returns stdout followed by stderr.
func (r *Result) CombinedOutput() string {
	if r == nil {
		return ""
	}
	return string(r.Stdout) + string(r.Stderr)
}

// Logger defines the logging interface used by the Runner.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Runner executes one-shot commands in their own process group.
// A Runner has no mutable state after construction and is safe for concurrent use.
type Runner struct {
	logger Logger
}

// NewRunner creates a Runner that logs nothing until SetLogger is called.
func NewRunner() *Runner {
	return &Runner{logger: noopLogger{}}
}

// SetLogger sets the logger used for signal and kill diagnostics.
func (r *Runner) SetLogger(logger Logger) {
	r.logger = logger
}

// Run starts the command, waits for it to exit, and returns its captured output.
//
// The child runs in a new process group. If ctx ends first, the whole group
// receives SIGTERM, then SIGKILL after the graceful timeout, so helpers
// spawned by the child do not outlive it.
//
// A non-nil Result is returned even on error, carrying whatever output was
// captured before the failure.
//
// Returns:
//   - *Result: Captured stdout, stderr, exit code and duration
//   - error: nil on exit status 0, else ErrStartFailed, ErrNonZeroExit or ErrInterrupted
func (r *Runner) Run(ctx context.Context, spec Spec) (*Result, error) {
	result := &Result{ExitCode: -1}

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("%w: %w", ErrInterrupted, err)
	}

	grace := spec.GracefulTimeout
	if grace <= 0 {
		grace = defaultGracefulTimeout
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(spec.Binary, spec.Args...) //nolint:gosec // Binary comes from operator configuration
	cmd.Dir = spec.WorkDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	// Own process group so the whole tree can be signalled at once.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Stops Wait blocking on pipes held open by an escaped grandchild.
	cmd.WaitDelay = grace

	start := time.Now()
	if err := cmd.Start(); err != nil {
		result.Duration = time.Since(start)
		return result, fmt.Errorf("%w: %s: %w", ErrStartFailed, spec.Binary, err)
	}

	pid := cmd.Process.Pid
	r.logger.Debug("process started", "name", spec.Name, "pid", pid, "args", spec.Args, "dir", spec.WorkDir)

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var waitErr error
	interrupted := false
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		interrupted = true
		waitErr = r.terminate(spec.Name, pid, grace, done)
	}

	result.Duration = time.Since(start)
	result.Stdout = stdout.Bytes()
	result.Stderr = stderr.Bytes()
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if interrupted {
		return result, fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		return result, nil
	case errors.As(waitErr, &exitErr):
		return result, fmt.Errorf("%w: %d", ErrNonZeroExit, result.ExitCode)
	case errors.Is(waitErr, exec.ErrWaitDelay):
		// The process exited 0 but a descendant kept the pipes open.
		if result.ExitCode == 0 {
			return result, nil
		}
		return result, fmt.Errorf("%w: %d", ErrNonZeroExit, result.ExitCode)
	default:
		return result, fmt.Errorf("waiting for %s: %w", spec.Binary, waitErr)
	}
}

// terminate sends SIGTERM to the process group, escalates to SIGKILL after
// grace, and returns the Wait error once the process has exited.
func (r *Runner) terminate(name string, pid int, grace time.Duration, done <-chan error) error {
	r.logger.Info("terminating process group", "name", name, "pid", pid)

	// Negative PID signals the group created via Setpgid.
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		r.logger.Warn("failed to send SIGTERM to process group", "name", name, "error", err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		r.logger.Warn("graceful shutdown timeout, sending SIGKILL", "name", name, "timeout", grace)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		r.logger.Error("failed to kill process group", "name", name, "error", err)
	}
	return <-done
}
