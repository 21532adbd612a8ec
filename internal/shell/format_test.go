package shell

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuote(t *testing.T) {
	assert.Equal(t, "'plain'", Quote("plain"))
	assert.Equal(t, `'it'\''s'`, Quote("it's"))
	assert.Equal(t, "''", Quote(""))
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name     string
		template string
		args     []any
		want     string
	}{
		{"question mark quotes", "ls ?", []any{"a b"}, "ls 'a b'"},
		{"percent is raw", "echo %s", []any{"a b"}, "echo a b"},
		{"single quoted percent", "echo '%s'", []any{"it's"}, `echo 'it'\''s'`},
		{"double quoted percent", `echo "%s"`, []any{"x"}, "echo 'x'"},
		{"exit status kept", "echo $?", nil, "echo $?"},
		{"numbers quoted", "echo ?", []any{42}, "echo '42'"},
		{"extra args appended", "grep ?", []any{"x", "file1"}, "grep 'x' 'file1'"},
		{"slice args", "echo", []any{[]string{"a", "b"}}, "echo 'a' 'b'"},
		{"no placeholders", "date", nil, "date"},
		{
			"options in place",
			"cmd %s",
			[]any{Options{{"v", true}, {"name", "x"}, {"#comment", 1}, {"--raw", "y"}, {"off", false}, {"none", nil}}},
			"cmd -v --name 'x' --raw 'y'",
		},
		{
			"map options sorted and repeated",
			"cmd ?",
			[]any{map[string]any{"b": 1, "a": []any{"x", "y"}}},
			"cmd -a 'x' -a 'y' -b '1'",
		},
		{
			"trailing options",
			"curl ?",
			[]any{"http://x", map[string]string{"header": "A: b"}},
			"curl 'http://x' --header 'A: b'",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Format(tt.template, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatMissingArgument(t *testing.T) {
	_, err := Format("cp ? ?", "a")
	assert.ErrorIs(t, err, ErrMissingArgument)

	_, err = New("mv %s %s", "a")
	assert.ErrorIs(t, err, ErrMissingArgument)
}

func TestCommandSegments(t *testing.T) {
	cmd, err := New("cat ?", "my file")
	require.NoError(t, err)
	piped, err := cmd.Pipe("grep -c ?", "x")
	require.NoError(t, err)

	assert.Equal(t, "cat 'my file'", cmd.String(), "Pipe leaves the receiver unchanged")
	assert.Equal(t, "cat 'my file' | \\\ngrep -c 'x'", piped.String())
	assert.Equal(t, "set -e; set -o pipefail; "+piped.String(), piped.Script())

	_, err = New("")
	assert.Error(t, err)
}

func TestCommandOptions(t *testing.T) {
	cmd := MustNew("true")
	assert.Equal(t, DefaultShell, cmd.Shell())
	assert.Zero(t, cmd.Runtime())

	limited := cmd.With(WithRuntime(10*time.Millisecond), WithEnv("A=1"), WithDir("/tmp"))
	assert.Equal(t, MinRuntime, limited.Runtime())
	assert.Equal(t, []string{"A=1"}, limited.Env())
	assert.Equal(t, "/tmp", limited.Dir())
	assert.Empty(t, cmd.Env())
}
