package toolchain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

const fakeScript = `#!/bin/sh
if [ -n "$FAKE_LOG" ]; then echo "$*" >> "$FAKE_LOG"; fi
if [ "$1" = "--version" ]; then
  if [ -n "$FAKE_BROKEN" ] && [ -f "$FAKE_BROKEN" ]; then
    echo "broken install" >&2
    exit 1
  fi
  echo "PlatformIO Core, version 6.1.15"
  exit 0
fi
echo "args: $*"
echo "cwd: $(pwd -P)"
if [ -n "$FAKE_SLEEP" ]; then sleep "$FAKE_SLEEP"; fi
echo "stderr: $*" >&2
exit "${FAKE_EXIT:-0}"
`

type fakeToolchain struct {
	binary string
	log    string
	broken string
}

// newFakeToolchain writes a stand-in toolchain script into a temp dir.
func newFakeToolchain(t *testing.T) *fakeToolchain {
	t.Helper()
	dir := t.TempDir()
	f := &fakeToolchain{
		binary: filepath.Join(dir, "platformio"),
		log:    filepath.Join(dir, "invocations.log"),
		broken: filepath.Join(dir, "broken"),
	}
	if err := os.WriteFile(f.binary, []byte(fakeScript), 0o755); err != nil { //nolint:gosec // test executable
		t.Fatalf("writing fake toolchain: %v", err)
	}
	return f
}

func (f *fakeToolchain) config(env ...string) Config {
	return Config{
		Binary:          f.binary,
		CommandTimeout:  30 * time.Second,
		ProbeTimeout:    5 * time.Second,
		GracefulTimeout: 200 * time.Millisecond,
		Env:             append([]string{"FAKE_LOG=" + f.log, "FAKE_BROKEN=" + f.broken}, env...),
	}
}

// invocations returns the argument lines the fake has been called with.
func (f *fakeToolchain) invocations(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(f.log)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		t.Fatalf("reading invocation log: %v", err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func (f *fakeToolchain) countCalls(t *testing.T, args string) int {
	t.Helper()
	n := 0
	for _, line := range f.invocations(t) {
		if line == args {
			n++
		}
	}
	return n
}

// projectDir returns an existing project directory with symlinks resolved.
func projectDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("resolving temp dir: %v", err)
	}
	return dir
}

func expectedOutput(dir, args string) string {
	return "args: " + args + "\ncwd: " + dir + "\nstderr: " + args + "\n"
}

func TestCommands_ArgumentsAndOutput(t *testing.T) {
	fake := newFakeToolchain(t)
	r := New(fake.config())
	dir := projectDir(t)
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() (string, error)
		args string
	}{
		{"build", func() (string, error) { return r.BuildProject(ctx, dir) }, "run"},
		{"upload auto-detect", func() (string, error) { return r.UploadFirmware(ctx, dir, "") }, "run --target upload"},
		{
			"upload explicit port",
			func() (string, error) { return r.UploadFirmware(ctx, dir, "/dev/ttyUSB0") },
			"run --target upload --upload-port /dev/ttyUSB0",
		},
		{"clean", func() (string, error) { return r.CleanProject(ctx, dir) }, "run --target clean"},
		{"project info", func() (string, error) { return r.ProjectInfo(ctx, dir) }, "project config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.run()
			if err != nil {
				t.Fatalf("error = %v, want nil (stderr output alone is not a failure)", err)
			}
			if want := expectedOutput(dir, tt.args); out != want {
				t.Errorf("output = %q, want %q", out, want)
			}
		})
	}
}

func TestCommandFailed_CarriesCombinedOutput(t *testing.T) {
	fake := newFakeToolchain(t)
	r := New(fake.config("FAKE_EXIT=2"))
	dir := projectDir(t)

	out, err := r.BuildProject(context.Background(), dir)
	if !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("error = %v, want ErrCommandFailed", err)
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrToolchainUnavailable) {
		t.Errorf("error = %v, matched the wrong kind", err)
	}

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("error %T is not a *CommandError", err)
	}
	want := expectedOutput(dir, "run")
	if cmdErr.Output != want {
		t.Errorf("CommandError.Output = %q, want %q", cmdErr.Output, want)
	}
	if cmdErr.ExitCode != 2 {
		t.Errorf("CommandError.ExitCode = %d, want 2", cmdErr.ExitCode)
	}
	if cmdErr.Action != ActionBuild {
		t.Errorf("CommandError.Action = %q, want %q", cmdErr.Action, ActionBuild)
	}
	if out != want {
		t.Errorf("returned output = %q, want %q", out, want)
	}
	if got := OutputOf(err); got != want {
		t.Errorf("OutputOf() = %q, want %q", got, want)
	}
	if !strings.Contains(err.Error(), "exit status 2") {
		t.Errorf("Error() = %q, want exit status in message", err.Error())
	}
}

func TestUnavailable_NoCommandNoMutation(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-platformio")
	r := New(Config{Binary: missing})
	ctx := context.Background()
	dir := projectDir(t)

	ops := map[string]func() error{
		"build":   func() error { _, err := r.BuildProject(ctx, dir); return err },
		"upload":  func() error { _, err := r.UploadFirmware(ctx, dir, ""); return err },
		"clean":   func() error { _, err := r.CleanProject(ctx, dir); return err },
		"project": func() error { _, err := r.ProjectInfo(ctx, dir); return err },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			if err := op(); !errors.Is(err, ErrToolchainUnavailable) {
				t.Errorf("error = %v, want ErrToolchainUnavailable", err)
			}
		})
	}

	t.Run("init leaves filesystem untouched", func(t *testing.T) {
		target := filepath.Join(dir, "new", "project")
		_, err := r.InitProject(ctx, target, "esp32dev")
		if !errors.Is(err, ErrToolchainUnavailable) {
			t.Fatalf("error = %v, want ErrToolchainUnavailable", err)
		}
		if _, statErr := os.Stat(filepath.Join(dir, "new")); !os.IsNotExist(statErr) {
			t.Error("InitProject created directories although the toolchain is unavailable")
		}
	})
}

func TestProbeFailure_BlocksCommand(t *testing.T) {
	fake := newFakeToolchain(t)
	if err := os.WriteFile(fake.broken, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	r := New(fake.config())

	_, err := r.BuildProject(context.Background(), projectDir(t))
	if !errors.Is(err, ErrToolchainUnavailable) {
		t.Fatalf("error = %v, want ErrToolchainUnavailable", err)
	}
	if !strings.Contains(err.Error(), "broken install") {
		t.Errorf("error = %q, want probe output included", err.Error())
	}
	if n := fake.countCalls(t, "run"); n != 0 {
		t.Errorf("build ran %d times after a failed probe, want 0", n)
	}
}

func TestProbe_ParsesVersion(t *testing.T) {
	fake := newFakeToolchain(t)
	r := New(fake.config())

	res, err := r.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if res.Version != "PlatformIO Core, version 6.1.15" {
		t.Errorf("Version = %q", res.Version)
	}
	if res.Path != fake.binary {
		t.Errorf("Path = %q, want %q", res.Path, fake.binary)
	}
}

func TestProbe_PositiveResultCached(t *testing.T) {
	fake := newFakeToolchain(t)
	dir := projectDir(t)
	ctx := context.Background()

	t.Run("cached", func(t *testing.T) {
		r := New(fake.config())
		for i := 0; i < 3; i++ {
			if _, err := r.BuildProject(ctx, dir); err != nil {
				t.Fatalf("BuildProject() error = %v", err)
			}
		}
		if n := fake.countCalls(t, "--version"); n != 1 {
			t.Errorf("probe ran %d times, want 1", n)
		}
	})

	t.Run("expired", func(t *testing.T) {
		_ = os.Remove(fake.log)
		r := New(fake.config())
		clock := time.Now()
		r.now = func() time.Time { return clock }

		if _, err := r.BuildProject(ctx, dir); err != nil {
			t.Fatalf("BuildProject() error = %v", err)
		}
		clock = clock.Add(DefaultProbeCacheTTL + time.Second)
		if _, err := r.BuildProject(ctx, dir); err != nil {
			t.Fatalf("BuildProject() error = %v", err)
		}
		if n := fake.countCalls(t, "--version"); n != 2 {
			t.Errorf("probe ran %d times, want 2", n)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		_ = os.Remove(fake.log)
		cfg := fake.config()
		cfg.ProbeCacheTTL = -1
		r := New(cfg)
		for i := 0; i < 2; i++ {
			if _, err := r.BuildProject(ctx, dir); err != nil {
				t.Fatalf("BuildProject() error = %v", err)
			}
		}
		if n := fake.countCalls(t, "--version"); n != 2 {
			t.Errorf("probe ran %d times, want 2", n)
		}
	})
}

func TestProbe_FailureNotCached(t *testing.T) {
	fake := newFakeToolchain(t)
	r := New(fake.config())
	dir := projectDir(t)
	ctx := context.Background()

	if err := os.WriteFile(fake.broken, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := r.BuildProject(ctx, dir); !errors.Is(err, ErrToolchainUnavailable) {
		t.Fatalf("error = %v, want ErrToolchainUnavailable", err)
	}

	if err := os.Remove(fake.broken); err != nil {
		t.Fatal(err)
	}
	if _, err := r.BuildProject(ctx, dir); err != nil {
		t.Errorf("BuildProject() after repair error = %v, want nil", err)
	}
}

func TestBinaryRemovedAfterProbe(t *testing.T) {
	fake := newFakeToolchain(t)
	r := New(fake.config())
	dir := projectDir(t)
	ctx := context.Background()

	if _, err := r.BuildProject(ctx, dir); err != nil {
		t.Fatalf("BuildProject() error = %v", err)
	}
	if err := os.Remove(fake.binary); err != nil {
		t.Fatal(err)
	}

	if _, err := r.BuildProject(ctx, dir); !errors.Is(err, ErrToolchainUnavailable) {
		t.Fatalf("error = %v, want ErrToolchainUnavailable", err)
	}
	if _, err := r.Check(ctx); !errors.Is(err, ErrToolchainUnavailable) {
		t.Errorf("Check() error = %v, want the stale probe to be discarded", err)
	}
}

func TestCommandTimeout(t *testing.T) {
	fake := newFakeToolchain(t)
	cfg := fake.config("FAKE_SLEEP=30")
	cfg.CommandTimeout = 300 * time.Millisecond
	r := New(cfg)

	var records []CommandRecord
	r.SetObserver(ObserverFunc(func(rec CommandRecord) { records = append(records, rec) }))

	start := time.Now()
	_, err := r.BuildProject(context.Background(), projectDir(t))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if errors.Is(err, ErrCommandFailed) {
		t.Errorf("error = %v, timeout must be distinct from ErrCommandFailed", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("BuildProject() took %v, process was not stopped", elapsed)
	}
	if len(records) != 1 || records[0].Outcome != OutcomeTimeout {
		t.Errorf("observer records = %+v, want one timeout", records)
	}
}

func TestInitProject(t *testing.T) {
	fake := newFakeToolchain(t)
	r := New(fake.config())
	ctx := context.Background()

	t.Run("creates missing parents", func(t *testing.T) {
		target := filepath.Join(projectDir(t), "lab", "bench-1")

		out, err := r.InitProject(ctx, target, "esp32dev")
		if err != nil {
			t.Fatalf("InitProject() error = %v", err)
		}
		if info, statErr := os.Stat(target); statErr != nil || !info.IsDir() {
			t.Fatalf("project directory not created: %v", statErr)
		}
		if want := expectedOutput(target, "project init --board esp32dev"); out != want {
			t.Errorf("output = %q, want %q", out, want)
		}
	})

	t.Run("mkdir failure skips init", func(t *testing.T) {
		_ = os.Remove(fake.log)
		blocker := filepath.Join(projectDir(t), "file")
		if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}

		_, err := r.InitProject(ctx, filepath.Join(blocker, "project"), "esp32dev")
		if !errors.Is(err, ErrFilesystem) {
			t.Fatalf("error = %v, want ErrFilesystem", err)
		}
		if n := fake.countCalls(t, "project init --board esp32dev"); n != 0 {
			t.Errorf("init ran %d times after mkdir failed, want 0", n)
		}
	})
}

func TestCreateBasicMain(t *testing.T) {
	// The toolchain is not needed to write the template.
	r := New(Config{Binary: filepath.Join(t.TempDir(), "absent")})
	dir := projectDir(t)
	mainPath := filepath.Join(dir, "src", "main.cpp")

	if err := r.CreateBasicMain(dir); err != nil {
		t.Fatalf("CreateBasicMain() error = %v", err)
	}
	assertFileContent(t, mainPath, BasicMainTemplate)

	if err := os.WriteFile(mainPath, []byte("int main() {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := r.CreateBasicMain(dir); err != nil {
		t.Fatalf("second CreateBasicMain() error = %v", err)
	}
	assertFileContent(t, mainPath, BasicMainTemplate)

	if MainFile(dir) != mainPath {
		t.Errorf("MainFile() = %q, want %q", MainFile(dir), mainPath)
	}
}

func TestCreateBasicMain_FilesystemError(t *testing.T) {
	r := New(Config{})
	blocker := filepath.Join(projectDir(t), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := r.CreateBasicMain(blocker); !errors.Is(err, ErrFilesystem) {
		t.Errorf("error = %v, want ErrFilesystem", err)
	}
	if err := r.CreateBasicMain(""); !errors.Is(err, ErrFilesystem) {
		t.Errorf("empty path error = %v, want ErrFilesystem", err)
	}
}

func TestMissingProjectDirectory(t *testing.T) {
	fake := newFakeToolchain(t)
	r := New(fake.config())
	ctx := context.Background()

	_, err := r.BuildProject(ctx, filepath.Join(projectDir(t), "missing"))
	if !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("error = %v, want ErrCommandFailed", err)
	}
	if errors.Is(err, ErrToolchainUnavailable) {
		t.Errorf("error = %v, a missing project must not look like a missing toolchain", err)
	}
	if n := fake.countCalls(t, "run"); n != 0 {
		t.Errorf("build ran %d times, want 0", n)
	}
}

func TestObserverRecords(t *testing.T) {
	fake := newFakeToolchain(t)
	dir := projectDir(t)

	var mu sync.Mutex
	var records []CommandRecord
	observer := ObserverFunc(func(rec CommandRecord) {
		mu.Lock()
		defer mu.Unlock()
		records = append(records, rec)
	})

	ok := New(fake.config())
	ok.SetObserver(observer)
	failing := New(fake.config("FAKE_EXIT=1"))
	failing.SetObserver(observer)

	_, _ = ok.CleanProject(context.Background(), dir)
	_, _ = failing.UploadFirmware(context.Background(), dir, "")

	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Action != ActionClean || records[0].Outcome != OutcomeSuccess || records[0].ExitCode != 0 {
		t.Errorf("first record = %+v, want successful clean", records[0])
	}
	if records[1].Action != ActionUpload || records[1].Outcome != OutcomeFailed || records[1].ExitCode != 1 {
		t.Errorf("second record = %+v, want failed upload with exit 1", records[1])
	}
	if records[1].ProjectPath != dir {
		t.Errorf("ProjectPath = %q, want %q", records[1].ProjectPath, dir)
	}
}

func TestConcurrentCommands(t *testing.T) {
	fake := newFakeToolchain(t)
	r := New(fake.config())
	dir := projectDir(t)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.BuildProject(context.Background(), dir); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent BuildProject() error = %v", err)
	}
	if got := fake.countCalls(t, "run"); got != n {
		t.Errorf("build ran %d times, want %d", got, n)
	}
}

func TestNew_Defaults(t *testing.T) {
	r := New(Config{})
	if r.Binary() != DefaultBinary {
		t.Errorf("Binary() = %q, want %q", r.Binary(), DefaultBinary)
	}
	if r.cfg.CommandTimeout != DefaultCommandTimeout {
		t.Errorf("CommandTimeout = %v, want %v", r.cfg.CommandTimeout, DefaultCommandTimeout)
	}
	if r.cfg.ProbeCacheTTL != DefaultProbeCacheTTL {
		t.Errorf("ProbeCacheTTL = %v, want %v", r.cfg.ProbeCacheTTL, DefaultProbeCacheTTL)
	}
}

func assertFileContent(t *testing.T, path, want string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	if string(data) != want {
		t.Errorf("%s content = %q, want %q", path, data, want)
	}
}
