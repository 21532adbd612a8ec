package shell

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func requireBash(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath(DefaultShell); err != nil {
		t.Skip("bash not available")
	}
}

type recordingMetrics struct {
	mu       sync.Mutex
	statuses []string
}

func (m *recordingMetrics) ShellRun(status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
}

func TestCommandLines(t *testing.T) {
	requireBash(t)
	defer goleak.VerifyNone(t)

	metrics := &recordingMetrics{}
	cmd := MustNew("echo a; echo b").With(WithMetrics(metrics))
	lines, err := collect(t, cmd.Lines(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, textsOf(lines, Stdout))
	assert.Equal(t, []string{"ok"}, metrics.statuses)
}

func TestCommandStderr(t *testing.T) {
	requireBash(t)

	res, err := MustNew("echo out; echo err >&2").Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"out"}, res.Stdout)
	assert.Equal(t, []string{"err"}, res.Stderr)

	var display []string
	for _, l := range res.Lines {
		display = append(display, l.String())
	}
	assert.ElementsMatch(t, []string{"out", "stderr > err"}, display)
}

func TestCommandExitError(t *testing.T) {
	requireBash(t)

	metrics := &recordingMetrics{}
	res, err := MustNew("echo before; echo oops >&2; exit 3").With(WithMetrics(metrics)).Run(context.Background())

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, exitErr.Lines, "before")
	assert.Contains(t, exitErr.Lines, "stderr > oops")
	assert.Contains(t, err.Error(), "command exited with code 3")
	assert.Contains(t, err.Error(), "   echo before")
	assert.Equal(t, []string{"failed"}, metrics.statuses)
}

func TestCommandPipefail(t *testing.T) {
	requireBash(t)

	cmd, err := MustNew("echo x; false").Pipe("cat")
	require.NoError(t, err)
	_, err = cmd.Run(context.Background())

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.Code)
}

func TestCommandRuntimeExceeded(t *testing.T) {
	requireBash(t)
	defer goleak.VerifyNone(t)

	metrics := &recordingMetrics{}
	started := time.Now()
	_, err := MustNew("sleep 5").With(WithRuntime(250*time.Millisecond), WithMetrics(metrics)).Run(context.Background())
	elapsed := time.Since(started)

	require.ErrorIs(t, err, ErrRuntimeExceeded)
	var exceeded *RuntimeExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, 250*time.Millisecond, exceeded.Budget)
	assert.GreaterOrEqual(t, elapsed, 250*time.Millisecond)
	assert.Less(t, elapsed, 3*time.Second)
	assert.Equal(t, []string{"runtime_exceeded"}, metrics.statuses)
}

func TestCommandRuntimeExceededAfterOutput(t *testing.T) {
	requireBash(t)
	defer goleak.VerifyNone(t)

	var (
		got     []string
		lineErr error
	)
	cmd := MustNew("echo first; sleep 5").With(WithRuntime(250 * time.Millisecond))
	for line, err := range cmd.Lines(context.Background()) {
		if err != nil {
			lineErr = err
			break
		}
		got = append(got, line.Text)
	}

	assert.Equal(t, []string{"first"}, got)
	require.ErrorIs(t, lineErr, ErrRuntimeExceeded)
}

func TestCommandEarlyStopKills(t *testing.T) {
	requireBash(t)
	defer goleak.VerifyNone(t)

	started := time.Now()
	var got []string
	for line, err := range MustNew("yes").Lines(context.Background()) {
		require.NoError(t, err)
		got = append(got, line.Text)
		if len(got) == 3 {
			break
		}
	}
	assert.Equal(t, []string{"y", "y", "y"}, got)
	assert.Less(t, time.Since(started), 3*time.Second)
}

func TestCommandContextCancel(t *testing.T) {
	requireBash(t)
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := MustNew("sleep 5").Run(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestCommandPipeline(t *testing.T) {
	requireBash(t)

	p := MustNew(`printf 'b\na\nc\n'`).Pipeline()
	got, err := p.SortAsc(nil).ToSlice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, got)
	command, ok := p.Stats().Get("command")
	require.True(t, ok)
	assert.Equal(t, `printf 'b\na\nc\n'`, command)
}

func TestCommandEnvAndDir(t *testing.T) {
	requireBash(t)

	dir := t.TempDir()
	res, err := MustNew(`echo "$GREETING"; pwd`).With(WithEnv("GREETING=hello"), WithDir(dir)).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Stdout, 2)
	assert.Equal(t, "hello", res.Stdout[0])
	assert.True(t, strings.HasSuffix(res.Stdout[1], dir[strings.LastIndex(dir, "/"):]))
}

func TestCommandWhileRunning(t *testing.T) {
	requireBash(t)
	defer goleak.VerifyNone(t)

	var calls int
	var seen []string
	cmd := MustNew("for i in 1 2 3; do echo $i; sleep 0.2; done")
	err := cmd.WhileRunning(context.Background(), 50*time.Millisecond, func(lines []Line) error {
		calls++
		for _, l := range lines {
			seen = append(seen, l.Text)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, seen)
	assert.Greater(t, calls, 3, "fn is called on idle intervals too")

	stop := errors.New("stop")
	err = cmd.WhileRunning(context.Background(), 50*time.Millisecond, func([]Line) error { return stop })
	assert.ErrorIs(t, err, stop)

	assert.Error(t, cmd.WhileRunning(context.Background(), 0, func([]Line) error { return nil }))
}

func TestCommandPTY(t *testing.T) {
	requireBash(t)

	res, err := MustNew("echo hi; echo there >&2").With(WithPTY(true)).Run(context.Background())
	if err != nil && strings.Contains(err.Error(), "pty") {
		t.Skipf("pty unavailable: %v", err)
	}
	require.NoError(t, err)
	assert.Equal(t, []string{"hi", "there"}, res.Stdout)
	assert.Empty(t, res.Stderr)
}

func TestRing(t *testing.T) {
	r := newRing(3)
	for _, s := range []string{"a", "b"} {
		r.add(s)
	}
	assert.Equal(t, []string{"a", "b"}, r.items())
	for _, s := range []string{"c", "d", "e"} {
		r.add(s)
	}
	assert.Equal(t, []string{"c", "d", "e"}, r.items())
}
