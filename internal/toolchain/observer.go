package toolchain

import "time"

// Outcome classifies a finished command for metrics.
type Outcome string

// Command outcomes.
const (
	OutcomeSuccess     Outcome = "success"
	OutcomeFailed      Outcome = "failed"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeUnavailable Outcome = "unavailable"
)

// CommandRecord is reported to the Observer once per command attempt.
type CommandRecord struct {
	Action      string
	ProjectPath string
	Duration    time.Duration
	ExitCode    int
	Outcome     Outcome
	Time        time.Time
}

// Observer receives command records. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	ObserveCommand(rec CommandRecord)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(CommandRecord)

// ObserveCommand calls f(rec).
func (f ObserverFunc) ObserveCommand(rec CommandRecord) { f(rec) }

type nopObserver struct{}

func (nopObserver) ObserveCommand(CommandRecord) {}
