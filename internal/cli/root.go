package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/j-angnoe/flux-framework-bundle/internal/config"
	"github.com/j-angnoe/flux-framework-bundle/internal/job"
	"github.com/j-angnoe/flux-framework-bundle/internal/logging"
)

const (
	configFlag  = "config"
	rootFlag    = "root"
	verboseFlag = "verbose"
)

// app carries what every subcommand needs. It is filled in by the root
// command's PersistentPreRunE.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
}

type appKey struct{}

func fromCommand(cmd *cobra.Command) *app {
	if a, ok := cmd.Context().Value(appKey{}).(*app); ok {
		return a
	}
	return &app{cfg: config.Default(), logger: logging.NewNop()}
}

// jobs opens the job manager with its sqlite registry. The returned
// function closes the registry.
func (a *app) jobs() (*job.Manager, func(), error) {
	registry, err := job.OpenRegistry(a.cfg.Job.DBPath())
	if err != nil {
		return nil, nil, err
	}
	m, err := job.NewManager(a.cfg.Job.Root,
		job.WithShell(a.cfg.Job.Shell),
		job.WithGrace(a.cfg.Job.Grace.Std()),
		job.WithLogger(a.logger.Component("job")),
		job.WithRegistry(registry),
	)
	if err != nil {
		registry.Close()
		return nil, nil, err
	}
	return m, func() { registry.Close() }, nil
}

// NewRootCommand returns the flux command with all subcommands attached.
// Settings come from the environment, an optional --config file and the
// flags, in that order.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "flux",
		Short: "Run shell commands, follow background jobs and filter files",
		Long: `flux runs shell command templates in the foreground or as detached background
jobs whose output can be tailed and resumed later, and filters files through
lazy pipelines with quicksearch and an on-disk cache.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return fromCommand(cmd).logger.Close()
		},
	}

	flags := root.PersistentFlags()
	flags.String(configFlag, "", "YAML or TOML config file layered over the environment")
	flags.String(rootFlag, "", "job root directory (overrides FLUX_JOB_ROOT)")
	flags.BoolP(verboseFlag, "v", false, "debug logging on stderr")

	root.AddCommand(
		NewRunCommand(),
		NewDetachCommand(),
		NewTailCommand(),
		NewStopCommand(),
		NewStatusCommand(),
		NewListCommand(),
		NewCatCommand(),
		NewVersionCommand(),
	)
	return root
}

func setup(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	path, _ := flags.GetString(configFlag)

	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if root, _ := flags.GetString(rootFlag); root != "" {
		cfg.Job.Root = root
	}

	logCfg := logging.Config{Level: "warn", OutputPaths: []string{"stderr"}}
	if verbose, _ := flags.GetBool(verboseFlag); verbose {
		logCfg = logging.DevelopmentConfig()
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return err
	}
	logger.Debug("configuration loaded",
		zap.String("job_root", cfg.Job.Root),
		zap.String("cache_dir", cfg.Cache.Dir))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, appKey{}, &app{cfg: cfg, logger: logger}))
	return nil
}

// ExitCode maps an error returned by Execute to a process exit code.
// Commands that failed with an exit status pass it through.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exitStatusError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	return 1
}

// IsExitStatus reports whether err only carries an exit code and has
// nothing to print.
func IsExitStatus(err error) bool {
	var exitErr *exitStatusError
	return errors.As(err, &exitErr)
}

// exitStatusError reports a non-zero exit code without an error message.
type exitStatusError struct {
	code int
}

func (e *exitStatusError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}
