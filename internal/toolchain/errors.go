package toolchain

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds for toolchain operations.
// Use errors.Is() to classify a failure:
//
//	var cmdErr *toolchain.CommandError
//	switch {
//	case errors.Is(err, toolchain.ErrTimeout):
//	    // deadline expired, process group was killed
//	case errors.As(err, &cmdErr):
//	    log.Print(cmdErr.Output)
//	}
var (
	// ErrToolchainUnavailable is returned when the toolchain binary cannot be
	// found or its version probe fails. No project command is attempted.
	ErrToolchainUnavailable = errors.New("toolchain: unavailable")

	// ErrCommandFailed is returned when a command exits non-zero or cannot be started.
	ErrCommandFailed = errors.New("toolchain: command failed")

	// ErrTimeout is returned when a command outlives its deadline.
	ErrTimeout = errors.New("toolchain: command timed out")

	// ErrFilesystem is returned when a project directory or file cannot be
	// created or written.
	ErrFilesystem = errors.New("toolchain: filesystem error")
)

// CommandError describes a toolchain command that ran (or tried to run) and failed.
// It matches its Kind with errors.Is and also unwraps to the underlying cause.
type CommandError struct {
	Action   string
	Args     []string
	ExitCode int
	Output   string // stdout followed by stderr
	Kind     error  // ErrCommandFailed or ErrTimeout
	Err      error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "toolchain: %s", e.Action)
	if e.Kind == ErrTimeout {
		b.WriteString(" timed out")
	} else {
		b.WriteString(" failed")
	}
	if e.ExitCode >= 0 {
		fmt.Fprintf(&b, " (exit status %d)", e.ExitCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the kind sentinel and the underlying cause.
func (e *CommandError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// OutputOf returns the captured output carried by err, or "" if err is not a CommandError.
func OutputOf(err error) string {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Output
	}
	return ""
}
