package cli

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/j-angnoe/flux-framework-bundle/internal/job"
	"github.com/j-angnoe/flux-framework-bundle/internal/shell"
)

func requireBash(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath(shell.DefaultShell); err != nil {
		t.Skip("bash not available")
	}
}

// isolate points the job root and cache directory at fresh temp dirs.
func isolate(t *testing.T) (jobRoot, cacheDir string) {
	t.Helper()
	jobRoot, cacheDir = t.TempDir(), t.TempDir()
	t.Setenv("FLUX_JOB_ROOT", jobRoot)
	t.Setenv("FLUX_CACHE_DIR", cacheDir)
	return jobRoot, cacheDir
}

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

func lines(s string) []string {
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

func TestVersion(t *testing.T) {
	isolate(t)
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "flux "+Version+" "))
}

func TestRun(t *testing.T) {
	requireBash(t)
	isolate(t)

	tests := []struct {
		name     string
		args     []string
		want     []string
		exitCode int
	}{
		{
			name: "quotes arguments",
			args: []string{"run", "echo ?", "hello world; rm -rf /"},
			want: []string{"hello world; rm -rf /"},
		},
		{
			name: "prefixes stderr",
			args: []string{"run", "echo ? >&2", "oops"},
			want: []string{"stderr > oops"},
		},
		{
			name:     "passes exit code through",
			args:     []string{"run", "echo before; exit ?", "3"},
			want:     []string{"before"},
			exitCode: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(t, tt.args...)
			assert.Equal(t, tt.want, lines(out))
			assert.Equal(t, tt.exitCode, ExitCode(err))
			if tt.exitCode != 0 {
				assert.True(t, IsExitStatus(err))
			}
		})
	}
}

func TestRunMissingArgument(t *testing.T) {
	isolate(t)
	_, _, err := execute(t, "run", "echo ? ?", "one")
	require.ErrorIs(t, err, shell.ErrMissingArgument)
	assert.False(t, IsExitStatus(err))
	assert.Equal(t, 1, ExitCode(err))
}

func TestRunRuntimeExceeded(t *testing.T) {
	requireBash(t)
	isolate(t)
	_, stderr, err := execute(t, "run", "--runtime", "200ms", "sleep 5")
	assert.Equal(t, 124, ExitCode(err))
	assert.Contains(t, stderr, "runtime of 200ms exceeded")
}

func TestDetachLifecycle(t *testing.T) {
	requireBash(t)
	jobRoot, _ := isolate(t)

	out, _, err := execute(t, "detach", "--wait", "echo ?; echo warn >&2", "out")
	require.NoError(t, err)
	token := strings.TrimSpace(out)
	_, err = job.ParseToken(token)
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(jobRoot, token))

	out, _, err = execute(t, "tail", token)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"out", "stderr > warn"}, lines(out))

	out, _, err = execute(t, "tail", token, "--from", "stdout:4;stderr:5")
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out))

	out, _, err = execute(t, "status", token)
	require.NoError(t, err)
	var status job.Status
	require.NoError(t, sonic.UnmarshalString(out, &status))
	assert.False(t, status.Running)
	require.NotNil(t, status.ExitCode)
	assert.Equal(t, 0, *status.ExitCode)

	out, _, err = execute(t, "list")
	require.NoError(t, err)
	listing := lines(out)
	require.Len(t, listing, 2)
	assert.Contains(t, listing[0], "TOKEN")
	assert.Contains(t, listing[1], token)
	assert.Contains(t, listing[1], job.StatusFinished)
}

func TestDetachWaitExitCode(t *testing.T) {
	requireBash(t)
	isolate(t)
	_, _, err := execute(t, "detach", "--wait", "exit 4")
	assert.Equal(t, 4, ExitCode(err))
}

func TestStop(t *testing.T) {
	requireBash(t)
	isolate(t)

	out, _, err := execute(t, "detach", "sleep 30")
	require.NoError(t, err)
	token := strings.TrimSpace(out)

	out, _, err = execute(t, "stop", token)
	require.NoError(t, err)
	assert.Equal(t, "stopped "+token+"\n", out)

	_, _, err = execute(t, "stop", token)
	assert.ErrorIs(t, err, job.ErrNoActiveProcess)
}

func TestUnknownToken(t *testing.T) {
	isolate(t)
	for _, sub := range []string{"tail", "stop", "status"} {
		t.Run(sub, func(t *testing.T) {
			_, _, err := execute(t, sub, "0000-0000-0000-0000")
			assert.ErrorIs(t, err, job.ErrNotFound)
		})
	}
}

func TestCat(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "access.log")
	require.NoError(t, os.WriteFile(path, []byte(
		"GET /index\nGET /healthz\nPOST /login\nGET /index\nGET /about\n"), 0o644))

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"plain", nil, []string{"GET /index", "GET /healthz", "POST /login", "GET /index", "GET /about"}},
		{"search with exclusion", []string{"--search", "GET -healthz"}, []string{"GET /index", "GET /index", "GET /about"}},
		{"unique", []string{"--search", "GET", "--unique", "0"}, []string{"GET /index", "GET /healthz", "GET /about"}},
		{"head", []string{"--head", "2"}, []string{"GET /index", "GET /healthz"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(t, append([]string{"cat", path}, tt.args...)...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, lines(out))
		})
	}
}

func TestCatCache(t *testing.T) {
	_, cacheDir := isolate(t)
	path := filepath.Join(t.TempDir(), "data.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\n"), 0o644))

	out, _, err := execute(t, "cat", path, "--cache", "1h")
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", out)

	entries, err := os.ReadDir(cacheDir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)

	require.NoError(t, os.WriteFile(path, []byte("changed\n"), 0o644))
	out, _, err = execute(t, "cat", path, "--cache", "1h")
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", out, "fresh entry is replayed")
}

func TestCatMissingFile(t *testing.T) {
	isolate(t)
	_, _, err := execute(t, "cat", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestRootFlagOverridesEnvironment(t *testing.T) {
	requireBash(t)
	isolate(t)
	root := t.TempDir()

	out, _, err := execute(t, "--root", root, "detach", "--wait", "true")
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(root, strings.TrimSpace(out)))
}
