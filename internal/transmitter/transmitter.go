// Package transmitter hands command sequences to the 433 MHz sender script.
package transmitter

import (
	"context"
	"fmt"
	"time"

	"github.com/dokzlo13/nexad/internal/radio"
)

// Transmitter sends one command sequence and reports how it went.
// Implementations must not return before the physical burst has finished.
type Transmitter interface {
	Transmit(ctx context.Context, seq radio.Sequence) (Result, error)
}

// Result describes a finished transmitter invocation.
type Result struct {
	ExitCode int
	Duration time.Duration
	Args     []string
}

// ExitError is returned when the sender exits with a non-zero code.
type ExitError struct {
	Code     int
	Commands radio.Sequence
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("transmitter exited with code %d (commands: %v)", e.Code, e.Commands.Strings())
}
