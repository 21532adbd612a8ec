package shell

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, seq func(func(Line, error) bool)) ([]Line, error) {
	t.Helper()
	var lines []Line
	for line, err := range seq {
		if err != nil {
			return lines, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func textsOf(lines []Line, handle string) []string {
	var out []string
	for _, l := range lines {
		if l.Handle == handle {
			out = append(out, l.Text)
		}
	}
	return out
}

func TestPositions(t *testing.T) {
	p := Positions{Stdout: 10, Stderr: 3}
	assert.Equal(t, "stderr:3;stdout:10", p.String())
	assert.Equal(t, p, ParsePositions(p.String()))

	parsed := ParsePositions("stdout:10;;bad;x:y;:4;neg:-1;stderr:3")
	assert.Equal(t, Positions{Stdout: 10, Stderr: 3}, parsed)
	assert.Empty(t, ParsePositions(""))

	clone := p.Clone()
	clone[Stdout] = 99
	assert.Equal(t, int64(10), p[Stdout])
	assert.NotNil(t, Positions(nil).Clone())
}

func TestLineString(t *testing.T) {
	assert.Equal(t, "out", Line{Handle: Stdout, Text: "out"}.String())
	assert.Equal(t, "stderr > oops", Line{Handle: Stderr, Text: "oops"}.String())
}

func TestReadHandlesReaders(t *testing.T) {
	handles := []Handle{
		NewReaderHandle(Stdout, strings.NewReader("a\nb\npartial")),
		NewReaderHandle(Stderr, strings.NewReader("e1\ne2\n")),
	}
	positions := Positions{}

	lines, err := collect(t, ReadHandles(context.Background(), handles, positions, nil))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "partial"}, textsOf(lines, Stdout))
	assert.Equal(t, []string{"e1", "e2"}, textsOf(lines, Stderr))
	assert.Equal(t, Positions{Stdout: 11, Stderr: 6}, positions)
	for _, h := range handles {
		assert.True(t, h.EOF())
	}
}

func TestReadHandlesFileResume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthr"), 0o644))

	h, err := NewFileHandle(Stdout, path, 0)
	require.NoError(t, err)
	defer h.Close()

	stop := func() bool { return false }
	lines, err := collect(t, ReadHandles(context.Background(), []Handle{h}, nil, stop))
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, []int64{4, 8, 11}, []int64{lines[0].Offset, lines[1].Offset, lines[2].Offset})

	// Appending and resuming from the end of the complete lines picks up
	// the line that was partial before.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("ee\nfour\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	resumed, err := NewFileHandle(Stdout, path, lines[1].Offset)
	require.NoError(t, err)
	defer resumed.Close()

	positions := Positions{}
	lines, err = collect(t, ReadHandles(context.Background(), []Handle{resumed}, positions, stop))
	require.NoError(t, err)
	assert.Equal(t, []string{"three", "four"}, textsOf(lines, Stdout))
	assert.Equal(t, int64(19), positions[Stdout])
}

func TestReadHandlesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "later.log")
	h, err := NewFileHandle(Stdout, path, 0)
	require.NoError(t, err)
	defer h.Close()

	cycles := 0
	keepGoing := func() bool {
		cycles++
		if cycles == 2 {
			require.NoError(t, os.WriteFile(path, []byte("appeared\n"), 0o644))
		}
		return cycles < 5
	}
	lines, err := collect(t, ReadHandles(context.Background(), []Handle{h}, nil, keepGoing))
	require.NoError(t, err)
	assert.Equal(t, []string{"appeared"}, textsOf(lines, Stdout))
}

func TestReadHandlesCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	require.NoError(t, os.WriteFile(path, []byte("first\n"), 0o644))
	h, err := NewFileHandle(Stdout, path, 0)
	require.NoError(t, err)
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []string
	var final error
	for line, err := range ReadHandles(ctx, []Handle{h}, nil, func() bool { return true }) {
		if err != nil {
			final = err
			break
		}
		got = append(got, line.Text)
		cancel()
	}
	assert.Equal(t, []string{"first"}, got)
	assert.True(t, errors.Is(final, context.Canceled))
}

func TestReadHandlesEarlyStop(t *testing.T) {
	r := NewReaderHandle(Stdout, strings.NewReader("1\n2\n3\n4\n"))
	defer r.Close()

	var got []string
	for line, err := range ReadHandles(context.Background(), []Handle{r}, nil, nil) {
		require.NoError(t, err)
		got = append(got, line.Text)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"1", "2"}, got)
}

func TestReadAvailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\npar"), 0o644))

	open := func(offset int64) Handle {
		h, err := NewFileHandle(Stdout, path, offset)
		require.NoError(t, err)
		t.Cleanup(func() { h.Close() })
		return h
	}

	positions := Positions{}
	lines, err := collect(t, ReadAvailable(context.Background(), []Handle{open(0)}, positions, false))
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, textsOf(lines, Stdout))
	assert.Equal(t, int64(8), positions[Stdout], "the partial line stays unread")

	lines, err = collect(t, ReadAvailable(context.Background(), []Handle{open(positions[Stdout])}, positions, true))
	require.NoError(t, err)
	assert.Equal(t, []string{"par"}, textsOf(lines, Stdout))
	assert.Equal(t, int64(11), positions[Stdout])

	lines, err = collect(t, ReadAvailable(context.Background(), []Handle{open(positions[Stdout])}, positions, true))
	require.NoError(t, err)
	assert.Empty(t, lines)
}
