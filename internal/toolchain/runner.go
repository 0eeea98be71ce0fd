package toolchain

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/remote-lab-core/internal/process"
)

// Default values applied by New when a Config field is zero.
const (
	DefaultBinary          = "platformio"
	DefaultCommandTimeout  = 10 * time.Minute
	DefaultProbeTimeout    = 10 * time.Second
	DefaultProbeCacheTTL   = 30 * time.Second
	DefaultGracefulTimeout = 5 * time.Second
)

// Actions reported in logs, CommandError.Action and CommandRecord.Action.
const (
	ActionBuild       = "build"
	ActionUpload      = "upload"
	ActionClean       = "clean"
	ActionInit        = "init"
	ActionProjectInfo = "project"
	ActionCreateMain  = "create-main"
)

// Config controls how the toolchain binary is located and run.
type Config struct {
	// Binary is the toolchain executable, resolved through PATH when not absolute.
	Binary string

	// CommandTimeout bounds every project command.
	CommandTimeout time.Duration

	// ProbeTimeout bounds the "--version" availability check.
	ProbeTimeout time.Duration

	// ProbeCacheTTL is how long a successful probe is trusted. Zero uses the
	// default; a negative value disables caching.
	ProbeCacheTTL time.Duration

	// GracefulTimeout is the SIGTERM to SIGKILL delay when a command is stopped.
	GracefulTimeout time.Duration

	// Env holds extra KEY=VALUE pairs for every invocation.
	Env []string
}

// Logger defines the logging interface used by the Runner.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ProbeResult describes a successful availability check.
type ProbeResult struct {
	Path      string    `json:"path"`
	Version   string    `json:"version"`
	CheckedAt time.Time `json:"checked_at"`
}

// Runner drives the firmware toolchain against project directories.
//
// Commands are not serialised: concurrent calls run as concurrent OS
// processes, even for the same project. Callers that need ordering must
// provide it. Only the probe cache is shared between calls.
type Runner struct {
	cfg      Config
	proc     *process.Runner
	logger   Logger
	observer Observer
	now      func() time.Time

	mu       sync.Mutex
	probe    *ProbeResult
	probeExp time.Time
}

// New creates a Runner, filling zero Config fields with defaults.
func New(cfg Config) *Runner {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.ProbeCacheTTL == 0 {
		cfg.ProbeCacheTTL = DefaultProbeCacheTTL
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = DefaultGracefulTimeout
	}
	return &Runner{
		cfg:      cfg,
		proc:     process.NewRunner(),
		logger:   noopLogger{},
		observer: nopObserver{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for the runner and its process layer.
func (r *Runner) SetLogger(logger Logger) {
	r.logger = logger
	r.proc.SetLogger(logger)
}

// SetObserver registers a hook that receives one record per command.
func (r *Runner) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	r.observer = o
}

// Binary returns the configured toolchain executable.
func (r *Runner) Binary() string {
	return r.cfg.Binary
}

// Probe checks that the toolchain is installed by locating the binary and
// running it with "--version". It always spawns the probe; use Check for the
// cached form. A successful result replaces the cached one.
func (r *Runner) Probe(ctx context.Context) (ProbeResult, error) {
	path, err := exec.LookPath(r.cfg.Binary)
	if err != nil {
		r.invalidateProbe()
		return ProbeResult{}, fmt.Errorf("%w: %s not found: %w", ErrToolchainUnavailable, r.cfg.Binary, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()

	res, err := r.proc.Run(ctx, process.Spec{
		Name:            "toolchain-probe",
		Binary:          path,
		Args:            []string{"--version"},
		Env:             r.cfg.Env,
		GracefulTimeout: r.cfg.GracefulTimeout,
	})
	if err != nil {
		r.invalidateProbe()
		detail := strings.TrimSpace(res.CombinedOutput())
		if detail != "" {
			return ProbeResult{}, fmt.Errorf("%w: version check failed: %w: %s", ErrToolchainUnavailable, err, detail)
		}
		return ProbeResult{}, fmt.Errorf("%w: version check failed: %w", ErrToolchainUnavailable, err)
	}

	result := ProbeResult{
		Path:      path,
		Version:   firstLine(res.CombinedOutput()),
		CheckedAt: r.now(),
	}

	r.mu.Lock()
	r.probe = &result
	r.probeExp = result.CheckedAt.Add(r.cfg.ProbeCacheTTL)
	r.mu.Unlock()

	return result, nil
}

// Check returns the cached probe result while it is fresh, otherwise probes.
// Failures are never cached.
func (r *Runner) Check(ctx context.Context) (ProbeResult, error) {
	r.mu.Lock()
	if r.probe != nil && r.now().Before(r.probeExp) {
		cached := *r.probe
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	return r.Probe(ctx)
}

func (r *Runner) invalidateProbe() {
	r.mu.Lock()
	r.probe = nil
	r.probeExp = time.Time{}
	r.mu.Unlock()
}

// BuildProject runs the default build ("run") in projectPath.
func (r *Runner) BuildProject(ctx context.Context, projectPath string) (string, error) {
	return r.run(ctx, ActionBuild, projectPath, "run")
}

// UploadFirmware flashes the built firmware. An empty port lets the toolchain
// auto-detect the serial port.
func (r *Runner) UploadFirmware(ctx context.Context, projectPath, port string) (string, error) {
	args := []string{"run", "--target", "upload"}
	if port != "" {
		args = append(args, "--upload-port", port)
	}
	return r.run(ctx, ActionUpload, projectPath, args...)
}

// CleanProject removes build artifacts.
func (r *Runner) CleanProject(ctx context.Context, projectPath string) (string, error) {
	return r.run(ctx, ActionClean, projectPath, "run", "--target", "clean")
}

// ProjectInfo runs the read-only "project config" query.
func (r *Runner) ProjectInfo(ctx context.Context, projectPath string) (string, error) {
	return r.run(ctx, ActionProjectInfo, projectPath, "project", "config")
}

// InitProject creates projectPath (and missing parents) and initialises a
// project for board in it.
//
// The toolchain is checked before the directory is created, so an
// unavailable toolchain leaves the filesystem untouched. If the directory
// cannot be created the init command is never run.
//
// Returns:
//   - string: combined stdout and stderr of "project init"
//   - error: ErrToolchainUnavailable, ErrFilesystem, or a *CommandError
func (r *Runner) InitProject(ctx context.Context, projectPath, board string) (string, error) {
	if projectPath == "" {
		return "", fmt.Errorf("%w: empty project path", ErrFilesystem)
	}
	if _, err := r.Check(ctx); err != nil {
		r.observe(ActionInit, projectPath, 0, -1, OutcomeUnavailable)
		return "", err
	}
	if err := os.MkdirAll(projectPath, 0o755); err != nil {
		return "", fmt.Errorf("%w: creating project directory: %w", ErrFilesystem, err)
	}
	return r.execute(ctx, ActionInit, projectPath, "project", "init", "--board", board)
}

// CreateBasicMain writes the starter program to <projectPath>/src/main.cpp,
// creating src if needed and overwriting any existing file. It does not run
// the toolchain.
func (r *Runner) CreateBasicMain(projectPath string) error {
	if projectPath == "" {
		return fmt.Errorf("%w: empty project path", ErrFilesystem)
	}
	srcDir := SourceDir(projectPath)
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		return fmt.Errorf("%w: creating src directory: %w", ErrFilesystem, err)
	}
	if err := os.WriteFile(MainFile(projectPath), []byte(BasicMainTemplate), 0o644); err != nil { //nolint:gosec // project sources are world-readable
		return fmt.Errorf("%w: writing main.cpp: %w", ErrFilesystem, err)
	}
	r.logger.Info("basic main written", "project", projectPath)
	return nil
}

// run checks availability then executes the command.
func (r *Runner) run(ctx context.Context, action, projectPath string, args ...string) (string, error) {
	if projectPath == "" {
		return "", fmt.Errorf("%w: empty project path", ErrFilesystem)
	}
	if _, err := r.Check(ctx); err != nil {
		r.observe(action, projectPath, 0, -1, OutcomeUnavailable)
		return "", err
	}
	return r.execute(ctx, action, projectPath, args...)
}

// execute runs one command in projectPath under the command deadline and
// classifies the outcome by exit status alone.
func (r *Runner) execute(ctx context.Context, action, projectPath string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CommandTimeout)
	defer cancel()

	// A missing directory would otherwise look like a missing binary at start.
	if info, err := os.Stat(projectPath); err != nil || !info.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is not a directory", projectPath)
		}
		r.observe(action, projectPath, 0, -1, OutcomeFailed)
		return "", &CommandError{Action: action, Args: args, ExitCode: -1, Kind: ErrCommandFailed, Err: err}
	}

	res, err := r.proc.Run(ctx, process.Spec{
		Name:            action,
		Binary:          r.cfg.Binary,
		Args:            args,
		Env:             r.cfg.Env,
		WorkDir:         projectPath,
		GracefulTimeout: r.cfg.GracefulTimeout,
	})
	output := res.CombinedOutput()

	if err == nil {
		r.logger.Info("toolchain command succeeded",
			"action", action,
			"project", projectPath,
			"duration_ms", res.Duration.Milliseconds(),
		)
		r.observe(action, projectPath, res.Duration, res.ExitCode, OutcomeSuccess)
		return output, nil
	}

	if errors.Is(err, process.ErrStartFailed) &&
		(errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)) {
		r.invalidateProbe()
		r.logger.Warn("toolchain binary disappeared", "action", action, "binary", r.cfg.Binary, "error", err)
		r.observe(action, projectPath, res.Duration, -1, OutcomeUnavailable)
		return "", fmt.Errorf("%w: %w", ErrToolchainUnavailable, err)
	}

	cmdErr := &CommandError{
		Action:   action,
		Args:     args,
		ExitCode: res.ExitCode,
		Output:   output,
		Kind:     ErrCommandFailed,
		Err:      err,
	}
	outcome := OutcomeFailed
	if errors.Is(err, context.DeadlineExceeded) {
		cmdErr.Kind = ErrTimeout
		outcome = OutcomeTimeout
	}

	r.logger.Warn("toolchain command failed",
		"action", action,
		"project", projectPath,
		"exit_code", res.ExitCode,
		"duration_ms", res.Duration.Milliseconds(),
		"error", err,
	)
	r.observe(action, projectPath, res.Duration, res.ExitCode, outcome)
	return output, cmdErr
}

func (r *Runner) observe(action, projectPath string, d time.Duration, exitCode int, outcome Outcome) {
	r.observer.ObserveCommand(CommandRecord{
		Action:      action,
		ProjectPath: projectPath,
		Duration:    d,
		ExitCode:    exitCode,
		Outcome:     outcome,
		Time:        r.now(),
	})
}

func firstLine(s string) string {
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line
		}
	}
	return ""
}
