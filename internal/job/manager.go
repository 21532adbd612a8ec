package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/j-angnoe/flux-framework-bundle/internal/shared/utils"
	"github.com/j-angnoe/flux-framework-bundle/internal/shell"
)

const (
	// DefaultRoot holds one directory per job.
	DefaultRoot = "/tmp/shell-dispatched-commands"
	// DefaultGrace is how long output is still read after a job ends.
	DefaultGrace = 100 * time.Millisecond
	// startTimeout bounds the wait for a detached job to write its pid.
	startTimeout = time.Second
)

// Metrics receives job lifecycle events.
type Metrics interface {
	JobDetached()
	JobStopped()
}

type nopMetrics struct{}

func (nopMetrics) JobDetached() {}
func (nopMetrics) JobStopped()  {}

// Option configures a Manager.
type Option func(*Manager)

// WithShell sets the shell that runs the job wrapper.
func WithShell(shell string) Option {
	return func(m *Manager) {
		if shell != "" {
			m.shell = shell
		}
	}
}

// WithGrace sets how long output is read after a job ends.
func WithGrace(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.grace = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics reports job lifecycle events.
func WithMetrics(metrics Metrics) Option {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithRegistry records jobs in r. Without a registry jobs are only known
// by their directories.
func WithRegistry(r *Registry) Option {
	return func(m *Manager) { m.registry = r }
}

// Manager detaches commands into background jobs under a root directory
// and opens existing jobs by token.
type Manager struct {
	root     string
	shell    string
	grace    time.Duration
	logger   *zap.Logger
	metrics  Metrics
	registry *Registry
	reapers  sync.WaitGroup
}

// NewManager creates root when needed.
func NewManager(root string, opts ...Option) (*Manager, error) {
	if root == "" {
		root = DefaultRoot
	}
	m := &Manager{
		root:    root,
		shell:   shell.DefaultShell,
		grace:   DefaultGrace,
		logger:  zap.NewNop(),
		metrics: nopMetrics{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create job root: %w", err)
	}
	return m, nil
}

// Root returns the job root directory.
func (m *Manager) Root() string { return m.root }

// Registry returns the registry, nil when jobs are not persisted.
func (m *Manager) Registry() *Registry { return m.registry }

func (m *Manager) job(token Token) *Job {
	return &Job{
		token:   token,
		dir:     filepath.Join(m.root, token.String()),
		grace:   m.grace,
		logger:  m.logger,
		metrics: m.metrics,
	}
}

// Open returns the job for token.
func (m *Manager) Open(token string) (*Job, error) {
	t, err := ParseToken(token)
	if err != nil {
		return nil, err
	}
	j := m.job(t)
	info, err := os.Stat(j.dir)
	if errors.Is(err, os.ErrNotExist) || (err == nil && !info.IsDir()) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, t)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open job %s: %w", t, err)
	}
	return j, nil
}

// Start builds spec and detaches it.
func (m *Manager) Start(ctx context.Context, spec Spec) (*Job, error) {
	cmd, err := spec.Build(shell.WithLogger(m.logger))
	if err != nil {
		return nil, err
	}
	return m.detach(ctx, cmd, &spec)
}

// Detach starts cmd in the background and returns as soon as the process
// has recorded its pid. stdout and stderr go to files in the job
// directory, which the process keeps writing after this program exits.
// A runtime budget on cmd is enforced for as long as this Manager lives.
func (m *Manager) Detach(ctx context.Context, cmd *shell.Command) (*Job, error) {
	return m.detach(ctx, cmd, nil)
}

func (m *Manager) detach(ctx context.Context, cmd *shell.Command, spec *Spec) (*Job, error) {
	j := m.job(NewToken())
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create job directory: %w", err)
	}

	wrapper, err := shell.Format(`echo $$ > ?; ? -c ?; code=$?; echo $code > ?; rm -f ?; exit $code`,
		j.path(PIDFile), cmd.Shell(), cmd.Script(), j.path(ExitCodeFile), j.path(PIDFile))
	if err != nil {
		return nil, err
	}

	stdout, err := os.Create(j.path(StdoutFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout file: %w", err)
	}
	defer stdout.Close()
	stderr, err := os.Create(j.path(StderrFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr file: %w", err)
	}
	defer stderr.Close()

	proc := exec.Command(m.shell, "-c", wrapper)
	proc.Dir = cmd.Dir()
	proc.Env = append(os.Environ(), cmd.Env()...)
	proc.Stdout, proc.Stderr = stdout, stderr
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("failed to start job: %w", err)
	}

	if m.registry != nil {
		rec := Record{
			Token:     j.token,
			Command:   cmd.String(),
			Spec:      spec,
			Dir:       j.dir,
			CreatedAt: time.Now(),
			Status:    StatusRunning,
		}
		if err := m.registry.Save(ctx, rec); err != nil {
			m.logger.Warn("failed to record job", zap.String("token", j.token.String()), zap.Error(err))
		}
	}

	done := make(chan struct{})
	m.reapers.Add(1)
	go m.reap(j, proc, cmd.Runtime(), done)

	if err := m.awaitPID(ctx, j, done); err != nil {
		return nil, err
	}
	m.metrics.JobDetached()
	m.logger.Info("job detached",
		zap.String("token", j.token.String()),
		zap.Int("pid", proc.Process.Pid),
		zap.String("command", cmd.String()))
	return j, nil
}

// awaitPID returns once the pid file exists or the process is gone.
func (m *Manager) awaitPID(ctx context.Context, j *Job, done <-chan struct{}) error {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(time.Millisecond),
		backoff.WithMaxInterval(50*time.Millisecond),
		backoff.WithMaxElapsedTime(startTimeout),
	)
	for {
		if _, err := os.Stat(j.path(PIDFile)); err == nil {
			return nil
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			m.logger.Warn("job did not record its pid in time", zap.String("token", j.token.String()))
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-done:
			timer.Stop()
			return nil
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reap collects the wrapper process, enforces the runtime budget and
// records the outcome.
func (m *Manager) reap(j *Job, proc *exec.Cmd, budget time.Duration, done chan<- struct{}) {
	defer m.reapers.Done()

	waited := make(chan error, 1)
	go func() { waited <- proc.Wait() }()

	var timeout <-chan time.Time
	if budget > 0 {
		timer := time.NewTimer(budget)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-waited:
	case <-timeout:
		m.logger.Warn("job runtime exceeded", zap.String("token", j.token.String()), zap.Duration("budget", budget))
		if err := j.Stop(); err != nil && !errors.Is(err, ErrNoActiveProcess) {
			m.logger.Error("failed to stop job", zap.String("token", j.token.String()), zap.Error(err))
		}
		<-waited
	}
	close(done)

	if m.registry == nil {
		return
	}
	status, code := finalStatus(j)
	if err := m.registry.MarkFinished(context.Background(), j.token, status, code); err != nil {
		m.logger.Warn("failed to update job record", zap.String("token", j.token.String()), zap.Error(err))
	}
}

// Wait blocks until every job started by this Manager has been reaped.
func (m *Manager) Wait() {
	m.reapers.Wait()
}

func finalStatus(j *Job) (string, *int) {
	code, ok, err := j.ExitCode()
	switch {
	case err != nil || !ok:
		return StatusFailed, nil
	case code == 0:
		return StatusFinished, &code
	case code == killedExitCode:
		return StatusStopped, &code
	}
	return StatusFailed, &code
}

// List returns the known jobs, newest first, with their live status.
func (m *Manager) List(ctx context.Context) ([]Record, error) {
	var records []Record
	if m.registry != nil {
		var err error
		if records, err = m.registry.List(ctx); err != nil {
			return nil, err
		}
	} else {
		var err error
		if records, err = m.scan(); err != nil {
			return nil, err
		}
	}
	for i := range records {
		j := m.job(records[i].Token)
		if j.IsRunning() {
			records[i].Status = StatusRunning
			records[i].ExitCode = nil
			continue
		}
		records[i].Status, records[i].ExitCode = finalStatus(j)
	}
	return records, nil
}

// scan lists job directories under the root.
func (m *Manager) scan() ([]Record, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	var records []Record
	for _, e := range entries {
		if !e.IsDir() || utils.ValidateToken(e.Name()) != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		records = append(records, Record{
			Token:     Token(e.Name()),
			Dir:       filepath.Join(m.root, e.Name()),
			CreatedAt: info.ModTime(),
		})
	}
	slices.SortFunc(records, func(a, b Record) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return records, nil
}
