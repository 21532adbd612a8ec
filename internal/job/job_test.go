package job

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/j-angnoe/flux-framework-bundle/internal/shared/utils"
	"github.com/j-angnoe/flux-framework-bundle/internal/shell"
)

func requireBash(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath(shell.DefaultShell); err != nil {
		t.Skip("bash not available")
	}
}

func newManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), opts...)
	require.NoError(t, err)
	t.Cleanup(m.Wait)
	return m
}

type countingMetrics struct {
	detached, stopped int
}

func (c *countingMetrics) JobDetached() { c.detached++ }
func (c *countingMetrics) JobStopped()  { c.stopped++ }

func readAll(t *testing.T, j *Job, positions shell.Positions) map[string][]string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out := map[string][]string{}
	for line, err := range j.Lines(ctx, positions) {
		require.NoError(t, err)
		out[line.Handle] = append(out[line.Handle], line.Text)
	}
	return out
}

func TestToken(t *testing.T) {
	tok := NewToken()
	assert.NoError(t, utils.ValidateToken(tok.String()))
	assert.NotEqual(t, tok, NewToken())

	tests := []struct {
		in    string
		valid bool
	}{
		{"abcd-0123-ef45-6789", true},
		{"ABCD-0123-ef45-6789", false},
		{"abcd-0123-ef45", false},
		{"../../etc-0123-ef45-6789", false},
		{"", false},
	}
	for _, tt := range tests {
		_, err := ParseToken(tt.in)
		if tt.valid {
			assert.NoError(t, err, tt.in)
		} else {
			assert.ErrorIs(t, err, ErrInvalidToken, tt.in)
		}
	}
}

func TestSpecBuild(t *testing.T) {
	cmd, err := Spec{Command: "grep ? ?", Args: []string{"a b", "file"}, Runtime: "2s"}.Build()
	require.NoError(t, err)
	assert.Equal(t, "grep 'a b' 'file'", cmd.String())
	assert.Equal(t, 2*time.Second, cmd.Runtime())

	tests := []struct {
		name string
		spec Spec
	}{
		{"empty command", Spec{}},
		{"bad runtime", Spec{Command: "ls", Runtime: "soon"}},
		{"negative runtime", Spec{Command: "ls", Runtime: "-1s"}},
		{"missing argument", Spec{Command: "cp ? ?", Args: []string{"a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.spec.Build()
			assert.Error(t, err)
		})
	}
}

func TestOpen(t *testing.T) {
	m := newManager(t)

	_, err := m.Open("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Open("abcd-0123-ef45-6789")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, os.Mkdir(filepath.Join(m.Root(), "abcd-0123-ef45-6789"), 0o755))
	j, err := m.Open("abcd-0123-ef45-6789")
	require.NoError(t, err)
	assert.Equal(t, Token("abcd-0123-ef45-6789"), j.Token())
}

func TestPIDFile(t *testing.T) {
	m := newManager(t)
	j := m.job("abcd-0123-ef45-6789")
	require.NoError(t, os.Mkdir(j.Dir(), 0o755))

	tests := []struct {
		name    string
		content *string
		wantErr error
	}{
		{"missing", nil, ErrNoActiveProcess},
		{"empty", ptr(""), ErrNoActiveProcess},
		{"too small", ptr("3\n"), ErrIllegalPID},
		{"garbage", ptr("abc"), ErrIllegalPID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Remove(j.path(PIDFile))
			if tt.content != nil {
				require.NoError(t, os.WriteFile(j.path(PIDFile), []byte(*tt.content), 0o644))
			}
			_, err := j.PID()
			assert.ErrorIs(t, err, tt.wantErr)
			assert.False(t, j.IsRunning())
		})
	}

	_, ok, err := j.ExitCode()
	require.NoError(t, err)
	assert.False(t, ok)
}

func ptr(s string) *string { return &s }

func TestDetachAndResume(t *testing.T) {
	requireBash(t)
	metrics := &countingMetrics{}
	m := newManager(t, WithMetrics(metrics))

	j, err := m.Detach(context.Background(), shell.MustNew("echo a; echo b >&2; sleep 0.2; echo c"))
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.detached)

	positions := shell.Positions{}
	out := readAll(t, j, positions)
	assert.Equal(t, []string{"a", "c"}, out[shell.Stdout])
	assert.Equal(t, []string{"b"}, out[shell.Stderr])
	assert.Equal(t, shell.Positions{shell.Stdout: 4, shell.Stderr: 2}, positions)
	assert.Equal(t, j.Positions(), positions)

	code, err := j.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	// Resuming from the final positions yields nothing new.
	assert.Empty(t, readAll(t, j, positions.Clone()))

	// Resuming part way picks up the rest.
	rest := readAll(t, j, shell.Positions{shell.Stdout: 2, shell.Stderr: 2})
	assert.Equal(t, []string{"c"}, rest[shell.Stdout])
	assert.Empty(t, rest[shell.Stderr])
}

func TestExitCodeAndList(t *testing.T) {
	requireBash(t)
	m := newManager(t)

	j, err := m.Detach(context.Background(), shell.MustNew("echo failing; exit 4"))
	require.NoError(t, err)
	code, err := j.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, code)

	st, err := j.Status()
	require.NoError(t, err)
	assert.False(t, st.Running)
	require.NotNil(t, st.ExitCode)
	assert.Equal(t, 4, *st.ExitCode)

	records, err := m.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, j.Token(), records[0].Token)
	assert.Equal(t, StatusFailed, records[0].Status)
}

func TestStop(t *testing.T) {
	requireBash(t)
	metrics := &countingMetrics{}
	m := newManager(t, WithMetrics(metrics))

	j, err := m.Detach(context.Background(), shell.MustNew("sleep 10"))
	require.NoError(t, err)
	assert.True(t, j.IsRunning())

	st, err := j.Status()
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Greater(t, st.PID, 0)
	assert.Nil(t, st.ExitCode)

	started := time.Now()
	require.NoError(t, j.Stop())
	assert.False(t, j.IsRunning())

	code, err := j.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, killedExitCode, code)
	assert.Less(t, time.Since(started), 5*time.Second)
	assert.Equal(t, 1, metrics.stopped)

	assert.ErrorIs(t, j.Stop(), ErrNoActiveProcess)
}

func TestRuntimeBudgetWithRegistry(t *testing.T) {
	requireBash(t)
	reg, err := OpenRegistry(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	defer reg.Close()
	m := newManager(t, WithRegistry(reg))

	spec := Spec{Command: "sleep ?", Args: []string{"5"}, Runtime: "300ms"}
	j, err := m.Start(context.Background(), spec)
	require.NoError(t, err)

	code, err := j.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, killedExitCode, code)
	m.Wait()

	rec, err := reg.Get(context.Background(), j.Token())
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, rec.Status)
	assert.Equal(t, "sleep '5'", rec.Command)
	require.NotNil(t, rec.Spec)
	assert.Equal(t, spec, *rec.Spec)
}

func TestStreamSSE(t *testing.T) {
	requireBash(t)
	m := newManager(t)

	j, err := m.Detach(context.Background(), shell.MustNew("echo one; echo two >&2"))
	require.NoError(t, err)
	_, err = j.Wait(context.Background())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, j.StreamSSE(context.Background(), &buf, ""))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "retry: 2000\n\n"))
	assert.Contains(t, out, "id:stderr:0;stdout:4\ndata:one\n\n")
	assert.Contains(t, out, "id:stderr:4;stdout:4\ndata:stderr > two\n\n")
	assert.Contains(t, out, "event:exitcode\ndata:0\n\n")
	assert.True(t, strings.HasSuffix(out, "id:stderr:4;stdout:4\nevent:finished\ndata:bye\n\n"))

	buf.Reset()
	require.NoError(t, j.StreamSSE(context.Background(), &buf, "stderr:4;stdout:4"))
	assert.NotContains(t, buf.String(), "data:one")
	assert.NotContains(t, buf.String(), "two")
	assert.Contains(t, buf.String(), "event:finished")
}
