package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/j-angnoe/flux-framework-bundle/internal/shell"
)

const (
	runtimeFlag = "runtime"
	ptyFlag     = "pty"
)

// NewRunCommand returns the command that runs a template in the foreground.
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <template> [args...]",
		Short: "Run a command template in the foreground",
		Long: `Run a command template in the foreground and print its output as it arrives.
Every ? in the template is replaced by the next argument, shell-quoted.
stderr lines are prefixed with "stderr > ". The exit code of the command
becomes the exit code of flux.`,
		Example: `  flux run 'grep -c ? ?' error /var/log/syslog
  flux run --runtime 5s 'ping ?' example.com`,
		Args: cobra.MinimumNArgs(1),
		RunE: runForeground,
	}
	cmd.Flags().Duration(runtimeFlag, 0, "kill the command after this long")
	cmd.Flags().Bool(ptyFlag, false, "run under a pseudo terminal")
	return cmd
}

func runForeground(cmd *cobra.Command, args []string) error {
	a := fromCommand(cmd)
	runtime, _ := cmd.Flags().GetDuration(runtimeFlag)
	pty, _ := cmd.Flags().GetBool(ptyFlag)

	c, err := buildCommand(args)
	if err != nil {
		return err
	}
	c = c.With(
		shell.WithShell(a.cfg.Job.Shell),
		shell.WithRuntime(runtime),
		shell.WithPTY(pty),
		shell.WithLogger(a.logger.Component("shell")),
	)

	out := cmd.OutOrStdout()
	for line, err := range c.Lines(cmd.Context()) {
		if err != nil {
			var exitErr *shell.ExitError
			if errors.As(err, &exitErr) {
				return &exitStatusError{code: exitErr.Code}
			}
			var budgetErr *shell.RuntimeExceededError
			if errors.As(err, &budgetErr) {
				fmt.Fprintf(cmd.ErrOrStderr(), "flux: %v\n", err)
				return &exitStatusError{code: 124}
			}
			return err
		}
		fmt.Fprintln(out, line.String())
	}
	return nil
}

func buildCommand(args []string) (*shell.Command, error) {
	values := make([]any, len(args)-1)
	for i, a := range args[1:] {
		values[i] = a
	}
	return shell.New(args[0], values...)
}

// budget parses an optional runtime flag value for job specs.
func budget(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return d.String()
}
