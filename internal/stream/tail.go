package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// TailSource follows a growing text file line by line. Positions are byte
// offsets after each line.
type TailSource struct {
	rhythm
	path      string
	transform func(string) (any, error)
	endWhen   func() bool

	mu     sync.Mutex
	offset int64
	atEOF  bool
}

// TailOption configures a TailSource.
type TailOption func(*TailSource)

// WithTransform maps every line before it is sent. A nil or empty result
// skips the line; an error is sent in place of the line.
func WithTransform(fn func(string) (any, error)) TailOption {
	return func(t *TailSource) { t.transform = fn }
}

// WithEndOfStream finishes the source once it is at the end of the file
// and fn returns true.
func WithEndOfStream(fn func() bool) TailOption {
	return func(t *TailSource) { t.endWhen = fn }
}

// WithSourceOptions applies channel and rate options.
func WithSourceOptions(opts ...SourceOption) TailOption {
	return func(t *TailSource) {
		for _, opt := range opts {
			opt(&t.rhythm)
		}
	}
}

// TailFile follows path at 120 bpm, draining up to 1000 lines per tick.
func TailFile(path string, opts ...TailOption) *TailSource {
	t := &TailSource{rhythm: newRhythm(120, 1000, nil), path: path}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *TailSource) NextUpdate(_ context.Context, lastPosition string) (Update, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if lastPosition != "" {
		offset, err := strconv.ParseInt(lastPosition, 10, 64)
		if err != nil || offset < 0 {
			return Update{}, fmt.Errorf("invalid tail position %q", lastPosition)
		}
		t.offset = offset
	}
	return Update{Items: t.items}, nil
}

func (t *TailSource) items(yield func(Entry, error) bool) {
	t.mu.Lock()
	start := t.offset
	t.atEOF = false
	t.mu.Unlock()

	f, err := os.Open(t.path)
	if errors.Is(err, os.ErrNotExist) {
		t.setEOF(start)
		return
	}
	if err != nil {
		yield(Entry{}, fmt.Errorf("failed to open %s: %w", t.path, err))
		return
	}
	defer f.Close()
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		yield(Entry{}, fmt.Errorf("failed to seek %s: %w", t.path, err))
		return
	}

	r := bufio.NewReader(f)
	offset := start
	for {
		line, err := r.ReadString('\n')
		if errors.Is(err, io.EOF) {
			// A partial last line is left for the next poll.
			t.setEOF(offset)
			return
		}
		if err != nil {
			yield(Entry{}, fmt.Errorf("failed to read %s: %w", t.path, err))
			return
		}
		offset += int64(len(line))
		t.mu.Lock()
		t.offset = offset
		t.mu.Unlock()

		value, ok := t.apply(strings.TrimSuffix(line, "\n"))
		if !ok {
			continue
		}
		if !yield(Entry{Position: strconv.FormatInt(offset, 10), Value: value}, nil) {
			return
		}
	}
}

func (t *TailSource) apply(line string) (any, bool) {
	if t.transform == nil {
		return line, true
	}
	v, err := t.transform(line)
	if err != nil {
		return "transform failed: " + err.Error(), true
	}
	if v == nil || v == "" {
		return nil, false
	}
	return v, true
}

func (t *TailSource) setEOF(offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offset = offset
	t.atEOF = true
}

// Finished reports whether the whole file was read and the end of stream
// condition holds. Without WithEndOfStream a tail never finishes.
func (t *TailSource) Finished() bool {
	t.mu.Lock()
	atEOF := t.atEOF
	t.mu.Unlock()
	return atEOF && t.endWhen != nil && t.endWhen()
}
