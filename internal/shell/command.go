package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/j-angnoe/flux-framework-bundle/internal/pipeline"
	"github.com/j-angnoe/flux-framework-bundle/internal/shared/utils"
)

const (
	// MinRuntime is the smallest runtime budget enforced, so that instant
	// failures are still observed.
	MinRuntime = 100 * time.Millisecond
	// settleTime is how long output is awaited after all handles closed.
	settleTime = 25 * time.Millisecond
	// DefaultLastLines is how many output lines an ExitError carries.
	DefaultLastLines = 100
	// DefaultShell runs the command text.
	DefaultShell = "bash"
)

// segmentSeparator joins piped segments.
const segmentSeparator = " | \\\n"

// Metrics receives process outcomes.
type Metrics interface {
	ShellRun(status string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ShellRun(string, time.Duration) {}

type options struct {
	runtime   time.Duration
	dir       string
	env       []string
	shell     string
	pty       bool
	lastLines int
	input     *pipeline.Pipeline
	stdout    string
	stderr    string
	logger    *zap.Logger
	metrics   Metrics
}

// CommandOption configures a Command.
type CommandOption func(*options)

// WithRuntime kills the process once it has run for d. Budgets below
// MinRuntime are raised to it; zero disables the limit.
func WithRuntime(d time.Duration) CommandOption {
	return func(o *options) {
		if d > 0 && d < MinRuntime {
			d = MinRuntime
		}
		o.runtime = d
	}
}

// WithDir sets the working directory.
func WithDir(dir string) CommandOption {
	return func(o *options) { o.dir = dir }
}

// WithEnv adds KEY=VALUE pairs to the inherited environment.
func WithEnv(env ...string) CommandOption {
	return func(o *options) { o.env = append(o.env, env...) }
}

// WithShell sets the shell binary.
func WithShell(shell string) CommandOption {
	return func(o *options) {
		if shell != "" {
			o.shell = shell
		}
	}
}

// WithPTY runs the command on a pseudo terminal. stdout and stderr are
// merged into the stdout handle.
func WithPTY(enabled bool) CommandOption {
	return func(o *options) { o.pty = enabled }
}

// WithInput feeds the items of input to the command's stdin, one line per
// item. The pipeline is consumed by the first run, so a command with input
// runs once. Input cannot be combined with WithPTY.
func WithInput(input *pipeline.Pipeline) CommandOption {
	return func(o *options) { o.input = input }
}

// WithStdoutFile sends stdout to path instead of a pipe. Lines are read
// back from the file while the command runs.
func WithStdoutFile(path string) CommandOption {
	return func(o *options) { o.stdout = path }
}

// WithStderrFile sends stderr to path instead of a pipe.
func WithStderrFile(path string) CommandOption {
	return func(o *options) { o.stderr = path }
}

// WithLastLines sets how many lines an ExitError keeps.
func WithLastLines(n int) CommandOption {
	return func(o *options) {
		if n > 0 {
			o.lastLines = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) CommandOption {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics reports process outcomes.
func WithMetrics(m Metrics) CommandOption {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// Command is an immutable shell pipeline.
type Command struct {
	segments []string
	opts     options
}

// New formats template with args into a single-segment command.
func New(template string, args ...any) (*Command, error) {
	seg, err := formatSegment(template, args)
	if err != nil {
		return nil, err
	}
	return &Command{
		segments: []string{seg},
		opts: options{
			shell:     DefaultShell,
			lastLines: DefaultLastLines,
			logger:    zap.NewNop(),
			metrics:   nopMetrics{},
		},
	}, nil
}

// MustNew is New that panics on error.
func MustNew(template string, args ...any) *Command {
	c, err := New(template, args...)
	if err != nil {
		panic(err)
	}
	return c
}

func formatSegment(template string, args []any) (string, error) {
	if err := utils.ValidateCommand(template, len(args)); err != nil {
		return "", err
	}
	return Format(template, args...)
}

// Pipe returns a new command with another segment piped after this one.
func (c *Command) Pipe(template string, args ...any) (*Command, error) {
	seg, err := formatSegment(template, args)
	if err != nil {
		return nil, err
	}
	next := c.clone()
	next.segments = append(next.segments, seg)
	return next, nil
}

// With returns a copy of the command with options applied.
func (c *Command) With(opts ...CommandOption) *Command {
	next := c.clone()
	for _, opt := range opts {
		opt(&next.opts)
	}
	return next
}

func (c *Command) clone() *Command {
	next := &Command{
		segments: append([]string(nil), c.segments...),
		opts:     c.opts,
	}
	next.opts.env = append([]string(nil), c.opts.env...)
	return next
}

// String returns the command text.
func (c *Command) String() string {
	return strings.Join(c.segments, segmentSeparator)
}

// Shell returns the shell binary the command runs under.
func (c *Command) Shell() string {
	return c.opts.shell
}

// Runtime returns the runtime budget, zero when unlimited.
func (c *Command) Runtime() time.Duration {
	return c.opts.runtime
}

// Env returns the extra environment entries.
func (c *Command) Env() []string {
	return append([]string(nil), c.opts.env...)
}

// Dir returns the working directory.
func (c *Command) Dir() string {
	return c.opts.dir
}

// Script returns the text handed to the shell: the command with errexit
// and pipefail enabled.
func (c *Command) Script() string {
	return "set -e; set -o pipefail; " + c.String()
}

// process is one running instance of a Command.
type process struct {
	cmd     *exec.Cmd
	handles []Handle
	waited  chan error
	exited  chan struct{}
	reaped  bool
	err     error

	// stdin feeding
	stopFeed context.CancelFunc
	fed      chan struct{}
	feedErr  error
}

func (c *Command) start(ctx context.Context) (*process, error) {
	cmd := exec.Command(c.opts.shell, "-c", c.Script())
	cmd.Dir = c.opts.dir
	if len(c.opts.env) > 0 {
		cmd.Env = append(os.Environ(), c.opts.env...)
	}

	p := &process{cmd: cmd, waited: make(chan error, 1), exited: make(chan struct{})}
	if c.opts.pty {
		if c.opts.input != nil {
			return nil, fmt.Errorf("%w: command input is not supported on a pty", pipeline.ErrInvalidArgument)
		}
		f, err := pty.Start(cmd)
		if err != nil {
			return nil, fmt.Errorf("failed to start %s on a pty: %w", c.opts.shell, err)
		}
		p.handles = []Handle{newPTYHandle(Stdout, f)}
		p.wait0()
		return p, nil
	}

	// Descriptors handed to the child, closed in the parent once it runs.
	var childFiles []*os.File
	closeChild := func() {
		for _, f := range childFiles {
			f.Close()
		}
	}
	fail := func(err error) (*process, error) {
		closeChild()
		for _, h := range p.handles {
			h.Close()
		}
		return nil, err
	}

	for _, out := range []struct {
		name, file string
		dst        *io.Writer
	}{
		{Stdout, c.opts.stdout, &cmd.Stdout},
		{Stderr, c.opts.stderr, &cmd.Stderr},
	} {
		w, h, err := p.output(out.name, out.file)
		if err != nil {
			return fail(err)
		}
		childFiles = append(childFiles, w)
		p.handles = append(p.handles, h)
		*out.dst = w
	}

	var stdin *os.File
	if c.opts.input != nil {
		r, w, err := os.Pipe()
		if err != nil {
			return fail(fmt.Errorf("failed to create stdin pipe: %w", err))
		}
		childFiles = append(childFiles, r)
		cmd.Stdin, stdin = r, w
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		if stdin != nil {
			stdin.Close()
		}
		return fail(fmt.Errorf("failed to start %s: %w", c.opts.shell, err))
	}
	closeChild()
	p.wait0()
	if stdin != nil {
		feedCtx, cancel := context.WithCancel(ctx)
		p.stopFeed, p.fed = cancel, make(chan struct{})
		go p.feed(feedCtx, c.opts.input, stdin)
	}
	return p, nil
}

// wait0 reaps the process in the background.
func (p *process) wait0() {
	go func() {
		err := p.cmd.Wait()
		close(p.exited)
		p.waited <- err
	}()
}

// output returns the descriptor the child writes name to and the handle
// the parent reads it from.
func (p *process) output(name, file string) (*os.File, Handle, error) {
	if file == "" {
		r, w, err := os.Pipe()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create %s pipe: %w", name, err)
		}
		return w, NewPipeHandle(name, r), nil
	}
	w, err := os.Create(file)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s file: %w", name, err)
	}
	h, err := NewFileHandle(name, file, 0)
	if err != nil {
		w.Close()
		return nil, nil, err
	}
	return w, &redirectHandle{Handle: h, exited: p.exited}, nil
}

// feed writes the input pipeline to the child's stdin and closes it.
func (p *process) feed(ctx context.Context, input *pipeline.Pipeline, w *os.File) {
	bw := bufio.NewWriter(w)
	defer func() {
		bw.Flush()
		w.Close()
		close(p.fed)
	}()

	for item, err := range input.All(ctx) {
		if err != nil {
			if ctx.Err() == nil {
				p.feedErr = fmt.Errorf("command input: %w", err)
			}
			return
		}
		if _, err := bw.WriteString(utils.Stringify(item) + "\n"); err != nil {
			// The child closed stdin or exited.
			return
		}
	}
}

// inputErr stops feeding and returns the error of the input pipeline.
func (p *process) inputErr() error {
	if p.fed == nil {
		return nil
	}
	p.stopFeed()
	<-p.fed
	return p.feedErr
}

// kill ends the process group.
func (p *process) kill() {
	if p.reaped || p.cmd.Process == nil {
		return
	}
	syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL)
	p.cmd.Process.Kill()
}

// wait reaps the process, giving up after limit when limit > 0.
func (p *process) wait(ctx context.Context, limit time.Duration) (bool, error) {
	if p.reaped {
		return true, nil
	}
	var timeout <-chan time.Time
	if limit > 0 {
		timer := time.NewTimer(limit)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case p.err = <-p.waited:
		p.reaped = true
		return true, nil
	case <-timeout:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// close kills the process if it is still running, reaps it and closes
// its handles.
func (p *process) close() {
	if !p.reaped {
		p.kill()
		p.err = <-p.waited
		p.reaped = true
	}
	p.inputErr()
	for _, h := range p.handles {
		h.Close()
	}
}

func (p *process) exitCode() int {
	var exitErr *exec.ExitError
	if errors.As(p.err, &exitErr) {
		return exitErr.ExitCode()
	}
	if p.err != nil {
		return -1
	}
	return 0
}

// Lines runs the command and yields its output lines as they appear.
//
// The sequence ends with a *RuntimeExceededError when the runtime budget
// runs out and with an *ExitError when the process exits non-zero.
// Stopping iteration early kills the process.
func (c *Command) Lines(ctx context.Context) iter.Seq2[Line, error] {
	return c.lines(ctx, 0)
}

func (c *Command) lines(ctx context.Context, tick time.Duration) iter.Seq2[Line, error] {
	return func(yield func(Line, error) bool) {
		started := time.Now()
		status := "ok"
		defer func() {
			c.opts.metrics.ShellRun(status, time.Since(started))
		}()

		p, err := c.start(ctx)
		if err != nil {
			status = "failed"
			yield(Line{}, err)
			return
		}
		defer p.close()
		c.opts.logger.Debug("process started",
			zap.Int("pid", p.cmd.Process.Pid),
			zap.String("command", c.String()))

		budget := c.opts.runtime
		exceeded := false
		keepGoing := func() bool {
			elapsed := time.Since(started)
			if budget > 0 && elapsed > budget {
				exceeded = true
				return false
			}
			return anyOpen(p.handles) || elapsed < settleTime
		}

		last := newRing(c.opts.lastLines)
		for line, err := range readHandles(ctx, p.handles, nil, readMode{keepGoing: keepGoing, tick: tick, flush: true}) {
			if err != nil {
				status = "failed"
				yield(Line{}, err)
				return
			}
			if !line.tick() && line.Text != "" {
				if c.opts.pty {
					line.Text = strings.TrimSuffix(line.Text, "\r")
				}
				last.add(line.String())
			}
			if !yield(line, nil) {
				return
			}
		}

		if !exceeded {
			var remaining time.Duration
			if budget > 0 {
				remaining = max(budget-time.Since(started), time.Millisecond)
			}
			done, err := p.wait(ctx, remaining)
			if err != nil {
				status = "failed"
				yield(Line{}, err)
				return
			}
			exceeded = !done && budget > 0
		}

		if exceeded {
			elapsed := time.Since(started)
			p.close()
			status = "runtime_exceeded"
			c.opts.logger.Warn("process runtime exceeded",
				zap.Duration("budget", budget),
				zap.Duration("elapsed", elapsed))
			yield(Line{}, &RuntimeExceededError{Budget: budget, Elapsed: elapsed, Command: c.String()})
			return
		}

		if code := p.exitCode(); code != 0 {
			status = "failed"
			yield(Line{}, &ExitError{Code: code, Command: c.String(), Lines: last.items()})
			return
		}
		if err := p.inputErr(); err != nil {
			status = "failed"
			yield(Line{}, err)
		}
	}
}

// Pipeline runs the command as the source of a pipeline. Items are the
// display form of each line.
func (c *Command) Pipeline(opts ...pipeline.Option) *pipeline.Pipeline {
	return pipeline.New(func(ctx context.Context, stats *pipeline.Stats) pipeline.Seq {
		return func(yield func(any, error) bool) {
			stats.Set("command", c.String())
			for line, err := range c.Lines(ctx) {
				if err != nil {
					yield(nil, err)
					return
				}
				stats.AddRead(int64(len(line.Text))+1, 1)
				if !yield(line.String(), nil) {
					return
				}
			}
		}
	}, opts...)
}

// Result is the collected outcome of Run.
type Result struct {
	Stdout   []string
	Stderr   []string
	Lines    []Line
	ExitCode int
	Duration time.Duration
}

// Run runs the command to completion and collects its output. A non-zero
// exit is returned as an *ExitError alongside the partial result.
func (c *Command) Run(ctx context.Context) (Result, error) {
	var res Result
	started := time.Now()
	for line, err := range c.Lines(ctx) {
		if err != nil {
			var exitErr *ExitError
			if errors.As(err, &exitErr) {
				res.ExitCode = exitErr.Code
			}
			res.Duration = time.Since(started)
			return res, err
		}
		res.Lines = append(res.Lines, line)
		if line.Handle == Stderr {
			res.Stderr = append(res.Stderr, line.Text)
		} else {
			res.Stdout = append(res.Stdout, line.Text)
		}
	}
	res.Duration = time.Since(started)
	return res, nil
}

// WhileRunning runs the command and hands fn the lines collected during
// each interval, also when none arrived. A final call delivers any lines
// left over. An error from fn stops the command.
func (c *Command) WhileRunning(ctx context.Context, interval time.Duration, fn func([]Line) error) error {
	if interval <= 0 {
		return fmt.Errorf("while running expects a positive interval, got %s", interval)
	}
	var batch []Line
	lastCall := time.Now()
	for line, err := range c.lines(ctx, interval) {
		if err != nil {
			return err
		}
		if !line.tick() {
			batch = append(batch, line)
		}
		if time.Since(lastCall) >= interval {
			lastCall = time.Now()
			if err := fn(batch); err != nil {
				return err
			}
			batch = nil
		}
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// ring keeps the last n strings.
type ring struct {
	buf   []string
	start int
	n     int
}

func newRing(n int) *ring {
	return &ring{n: n}
}

func (r *ring) add(s string) {
	if len(r.buf) < r.n {
		r.buf = append(r.buf, s)
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % r.n
}

func (r *ring) items() []string {
	out := make([]string, 0, len(r.buf))
	for i := range r.buf {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}
