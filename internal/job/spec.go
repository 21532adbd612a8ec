package job

import (
	"errors"
	"fmt"
	"time"

	"github.com/j-angnoe/flux-framework-bundle/internal/shell"
)

// ErrInvalidSpec wraps every validation failure of a Spec.
var ErrInvalidSpec = errors.New("invalid job spec")

// Spec describes a job to run: a command template, its arguments and an
// optional runtime budget such as "30s".
type Spec struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Runtime string   `json:"runtime,omitempty"`
}

// Validate checks s without building the command.
func (s Spec) Validate() error {
	if s.Command == "" {
		return fmt.Errorf("%w: a command is required", ErrInvalidSpec)
	}
	_, err := s.runtime()
	return err
}

func (s Spec) runtime() (time.Duration, error) {
	if s.Runtime == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.Runtime)
	if err != nil {
		return 0, fmt.Errorf("%w: runtime %q: %v", ErrInvalidSpec, s.Runtime, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: runtime %q is negative", ErrInvalidSpec, s.Runtime)
	}
	return d, nil
}

// Build formats the command.
func (s Spec) Build(opts ...shell.CommandOption) (*shell.Command, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	args := make([]any, len(s.Args))
	for i, a := range s.Args {
		args[i] = a
	}
	cmd, err := shell.New(s.Command, args...)
	if err != nil {
		return nil, err
	}
	d, _ := s.runtime()
	if d > 0 {
		opts = append(opts, shell.WithRuntime(d))
	}
	return cmd.With(opts...), nil
}
