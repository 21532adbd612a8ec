package shell

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrMissingArgument is returned when a template has more placeholders
	// than arguments.
	ErrMissingArgument = errors.New("missing argument for command placeholder")
	// ErrRuntimeExceeded marks a process killed for running past its budget.
	ErrRuntimeExceeded = errors.New("runtime exceeded")
)

// ExitError is returned when a process exits with a non-zero code.
type ExitError struct {
	Code    int
	Command string
	// Lines holds the last lines of output, stderr prefixed.
	Lines []string
}

func (e *ExitError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "command exited with code %d", e.Code)
	if len(e.Lines) > 0 {
		sb.WriteString("\n")
		sb.WriteString(strings.Join(e.Lines, "\n"))
	}
	sb.WriteString("\n   ")
	sb.WriteString(strings.ReplaceAll(e.Command, "\n", "\n   "))
	return sb.String()
}

// RuntimeExceededError is returned when a process is killed for running
// longer than its budget.
type RuntimeExceededError struct {
	Budget  time.Duration
	Elapsed time.Duration
	Command string
}

func (e *RuntimeExceededError) Error() string {
	return fmt.Sprintf("runtime of %s exceeded after %s: %s", e.Budget, e.Elapsed.Round(time.Millisecond), e.Command)
}

func (e *RuntimeExceededError) Unwrap() error {
	return ErrRuntimeExceeded
}
