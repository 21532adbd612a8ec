package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/j-angnoe/flux-framework-bundle/internal/job"
	"github.com/j-angnoe/flux-framework-bundle/internal/shell"
)

const (
	waitFlag = "wait"
	fromFlag = "from"
)

// NewDetachCommand returns the command that starts a background job.
func NewDetachCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detach <template> [args...]",
		Short: "Start a command template as a background job and print its token",
		Example: `  token=$(flux detach 'make -C ? test' ./project)
  flux tail "$token"`,
		Args: cobra.MinimumNArgs(1),
		RunE: detach,
	}
	cmd.Flags().Duration(runtimeFlag, 0, "kill the job after this long")
	cmd.Flags().Bool(waitFlag, false, "wait for the job and exit with its exit code")
	return cmd
}

func detach(cmd *cobra.Command, args []string) error {
	a := fromCommand(cmd)
	runtime, _ := cmd.Flags().GetDuration(runtimeFlag)
	wait, _ := cmd.Flags().GetBool(waitFlag)

	m, closeRegistry, err := a.jobs()
	if err != nil {
		return err
	}
	defer closeRegistry()

	j, err := m.Start(cmd.Context(), job.Spec{
		Command: args[0],
		Args:    args[1:],
		Runtime: budget(runtime),
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), j.Token())

	// The runtime budget is only enforced while this process lives.
	if !wait && runtime <= 0 {
		return nil
	}
	code, err := j.Wait(cmd.Context())
	m.Wait()
	if err != nil {
		return err
	}
	if wait && code != 0 {
		return &exitStatusError{code: code}
	}
	return nil
}

// NewTailCommand returns the command that follows a job's output.
func NewTailCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail <token>",
		Short: "Follow the output of a background job until it ends",
		Long: `Follow the output of a background job until it ends. When interrupted, the
positions reached are printed on stderr so that --from can resume there.`,
		Example: `  flux tail 3f2a-91bc-07de-55aa --from 'stdout:120;stderr:4'`,
		Args:    cobra.ExactArgs(1),
		RunE:    tail,
	}
	cmd.Flags().String(fromFlag, "", "resume positions, as printed by an earlier tail")
	return cmd
}

func tail(cmd *cobra.Command, args []string) error {
	a := fromCommand(cmd)
	from, _ := cmd.Flags().GetString(fromFlag)

	m, closeRegistry, err := a.jobs()
	if err != nil {
		return err
	}
	defer closeRegistry()

	j, err := m.Open(args[0])
	if err != nil {
		return err
	}

	positions := shell.ParsePositions(from)
	out := cmd.OutOrStdout()
	for line, err := range j.Lines(cmd.Context(), positions) {
		if err != nil {
			if cmd.Context().Err() != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "resume with --from '%s'\n", positions)
			}
			return err
		}
		fmt.Fprintln(out, line.String())
	}
	if cmd.Context().Err() != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "resume with --from '%s'\n", positions)
	}
	return nil
}

// NewStopCommand returns the command that kills a running job.
func NewStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <token>",
		Short: "Kill a running background job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeRegistry, err := fromCommand(cmd).jobs()
			if err != nil {
				return err
			}
			defer closeRegistry()

			j, err := m.Open(args[0])
			if err != nil {
				return err
			}
			if err := j.Stop(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stopped %s\n", j.Token())
			return nil
		},
	}
}

// NewStatusCommand returns the command that prints a job's status as JSON.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <token>",
		Short: "Print the status of a background job as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeRegistry, err := fromCommand(cmd).jobs()
			if err != nil {
				return err
			}
			defer closeRegistry()

			j, err := m.Open(args[0])
			if err != nil {
				return err
			}
			status, err := j.Status()
			if err != nil {
				return err
			}
			data, err := sonic.MarshalIndent(status, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

// NewListCommand returns the command that lists known jobs.
func NewListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List background jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, closeRegistry, err := fromCommand(cmd).jobs()
			if err != nil {
				return err
			}
			defer closeRegistry()

			records, err := m.List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TOKEN\tSTATUS\tEXIT\tCREATED\tCOMMAND")
			for _, r := range records {
				exit := "-"
				if r.ExitCode != nil {
					exit = fmt.Sprint(*r.ExitCode)
				}
				created := "-"
				if !r.CreatedAt.IsZero() {
					created = r.CreatedAt.Local().Format(time.DateTime)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Token, r.Status, exit, created, r.Command)
			}
			return w.Flush()
		},
	}
}
