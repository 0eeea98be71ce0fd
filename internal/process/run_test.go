package process

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func shell(script string) Spec {
	return Spec{Name: "test", Binary: "/bin/sh", Args: []string{"-c", script}}
}

func TestRun_CapturesStreamsSeparately(t *testing.T) {
	res, err := NewRunner().Run(context.Background(), shell(`echo out1; echo err1 >&2; echo out2`))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := string(res.Stdout); got != "out1\nout2\n" {
		t.Errorf("Stdout = %q, want %q", got, "out1\nout2\n")
	}
	if got := string(res.Stderr); got != "err1\n" {
		t.Errorf("Stderr = %q, want %q", got, "err1\n")
	}
	if got := res.CombinedOutput(); got != "out1\nout2\nerr1\n" {
		t.Errorf("CombinedOutput() = %q, want stdout then stderr", got)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	res, err := NewRunner().Run(context.Background(), shell(`echo partial; echo broken >&2; exit 3`))
	if !errors.Is(err, ErrNonZeroExit) {
		t.Fatalf("Run() error = %v, want ErrNonZeroExit", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if got := res.CombinedOutput(); got != "partial\nbroken\n" {
		t.Errorf("CombinedOutput() = %q", got)
	}
}

func TestRun_StderrDoesNotMeanFailure(t *testing.T) {
	_, err := NewRunner().Run(context.Background(), shell(`echo "warning: deprecated" >&2; exit 0`))
	if err != nil {
		t.Errorf("Run() error = %v, want nil for exit 0 with stderr output", err)
	}
}

func TestRun_WorkDirAndEnv(t *testing.T) {
	dir := t.TempDir()
	spec := shell(`pwd; echo "$LAB_MARKER"`)
	spec.WorkDir = dir
	spec.Env = []string{"LAB_MARKER=bench-7"}

	res, err := NewRunner().Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(res.Stdout)), "\n")
	if len(lines) != 2 {
		t.Fatalf("stdout = %q, want two lines", res.Stdout)
	}
	wantDir, _ := filepath.EvalSymlinks(dir)
	gotDir, _ := filepath.EvalSymlinks(lines[0])
	if gotDir != wantDir {
		t.Errorf("working directory = %q, want %q", gotDir, wantDir)
	}
	if lines[1] != "bench-7" {
		t.Errorf("LAB_MARKER = %q, want %q", lines[1], "bench-7")
	}
}

func TestRun_MissingBinary(t *testing.T) {
	tests := []struct {
		name   string
		binary string
		cause  error
	}{
		{"not on PATH", "remotelab-no-such-binary", exec.ErrNotFound},
		{"absolute path", filepath.Join(t.TempDir(), "missing"), os.ErrNotExist},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewRunner().Run(context.Background(), Spec{Name: "missing", Binary: tt.binary})
			if !errors.Is(err, ErrStartFailed) {
				t.Fatalf("Run() error = %v, want ErrStartFailed", err)
			}
			if !errors.Is(err, tt.cause) {
				t.Errorf("Run() error = %v, want it to wrap %v", err, tt.cause)
			}
			if res == nil || res.ExitCode != -1 {
				t.Errorf("Result = %+v, want ExitCode -1", res)
			}
		})
	}
}

func TestRun_DeadlineTerminatesProcess(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := NewRunner().Run(ctx, shell(`echo started; sleep 30`))
	elapsed := time.Since(start)

	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("Run() error = %v, want ErrInterrupted", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want it to wrap context.DeadlineExceeded", err)
	}
	if elapsed > 10*time.Second {
		t.Errorf("Run() took %v, process was not terminated", elapsed)
	}
	if !strings.Contains(string(res.Stdout), "started") {
		t.Errorf("Stdout = %q, want output captured before termination", res.Stdout)
	}
}

func TestRun_EscalatesToSIGKILL(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	spec := shell(`trap "" TERM; sleep 30`)
	spec.GracefulTimeout = 300 * time.Millisecond

	start := time.Now()
	_, err := NewRunner().Run(ctx, spec)
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("Run() error = %v, want ErrInterrupted", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("Run() took %v, SIGKILL escalation did not happen", elapsed)
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner().Run(ctx, shell(`touch `+marker))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if _, statErr := os.Stat(marker); !os.IsNotExist(statErr) {
		t.Error("command ran although the context was already cancelled")
	}
}

func TestResult_CombinedOutputNil(t *testing.T) {
	var r *Result
	if got := r.CombinedOutput(); got != "" {
		t.Errorf("CombinedOutput() on nil = %q, want empty", got)
	}
}
