package shell

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// readSize is the largest chunk taken from one handle per cycle.
	readSize = 8 * 1024

	idleInitial    = 10 * time.Millisecond
	idleMultiplier = 1.05
	idleMax        = time.Second
)

// Line is one line of output from a handle. Offset is the handle position
// just after the line.
type Line struct {
	Handle string
	Text   string
	Offset int64
}

// String renders the line for display; stderr lines are prefixed.
func (l Line) String() string {
	if l.Handle == Stderr {
		return "stderr > " + l.Text
	}
	return l.Text
}

// tick reports whether the line is an idle tick rather than output.
func (l Line) tick() bool {
	return l.Handle == ""
}

// newIdleBackOff returns the delay schedule used between empty cycles.
func newIdleBackOff() *backoff.ExponentialBackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(idleInitial),
		backoff.WithMultiplier(idleMultiplier),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxInterval(idleMax),
		backoff.WithMaxElapsedTime(0),
	)
}

// ReadHandles multiplexes the output of several handles into lines.
//
// Each cycle reads once from every handle that has not ended and yields
// the complete lines found; partial lines are kept per handle until their
// newline arrives. A cycle without any output sleeps for a growing delay
// that resets as soon as output appears. The loop continues while
// keepGoing returns true, or, when keepGoing is nil, while any handle is
// still open. Remaining partial lines are flushed at the end.
//
// positions, when not nil, is updated in place with each handle's offset
// after every yielded line. Cancelling ctx ends the sequence with
// ctx.Err().
func ReadHandles(ctx context.Context, handles []Handle, positions Positions, keepGoing func() bool) iter.Seq2[Line, error] {
	return readHandles(ctx, handles, positions, readMode{keepGoing: keepGoing, flush: true})
}

// ReadAvailable yields the complete lines the handles hold right now and
// returns once a cycle finds no more output, without waiting. Partial
// lines stay unread unless final is set, so positions always point at a
// line boundary a later call can resume from.
func ReadAvailable(ctx context.Context, handles []Handle, positions Positions, final bool) iter.Seq2[Line, error] {
	return readHandles(ctx, handles, positions, readMode{drain: true, flush: final})
}

type readMode struct {
	keepGoing func() bool
	// tick yields an empty Line when nothing was yielded for that long.
	tick time.Duration
	// drain stops at the first cycle without output.
	drain bool
	// flush yields partial lines at the end.
	flush bool
}

func readHandles(ctx context.Context, handles []Handle, positions Positions, mode readMode) iter.Seq2[Line, error] {
	return func(yield func(Line, error) bool) {
		keepGoing := mode.keepGoing
		if keepGoing == nil {
			keepGoing = func() bool { return anyOpen(handles) }
		}
		if positions == nil {
			positions = Positions{}
		}
		partial := make(map[string][]byte, len(handles))
		for _, h := range handles {
			positions[h.Name()] = h.Offset()
		}

		idle := newIdleBackOff()
		buf := make([]byte, readSize)
		lastYield := time.Now()

		emit := func(name string, text []byte) bool {
			positions[name] += int64(len(text)) + 1
			lastYield = time.Now()
			return yield(Line{Handle: name, Text: string(text), Offset: positions[name]}, nil)
		}

		for {
			if err := ctx.Err(); err != nil {
				yield(Line{}, err)
				return
			}
			content := false
			for _, h := range handles {
				if h.EOF() {
					continue
				}
				n, err := h.Read(buf)
				if n > 0 {
					content = true
					data := append(partial[h.Name()], buf[:n]...)
					for {
						i := bytes.IndexByte(data, '\n')
						if i < 0 {
							break
						}
						line := data[:i]
						data = data[i+1:]
						if !emit(h.Name(), line) {
							return
						}
					}
					partial[h.Name()] = append([]byte(nil), data...)
				}
				if err != nil && !errors.Is(err, io.EOF) {
					yield(Line{}, err)
					return
				}
			}

			if mode.drain {
				if !content || !anyOpen(handles) {
					break
				}
				continue
			}
			if !keepGoing() {
				break
			}
			if content {
				idle.Reset()
				continue
			}
			if mode.tick > 0 && time.Since(lastYield) >= mode.tick {
				lastYield = time.Now()
				if !yield(Line{}, nil) {
					return
				}
			}
			timer := time.NewTimer(idle.NextBackOff())
			select {
			case <-ctx.Done():
				timer.Stop()
				yield(Line{}, ctx.Err())
				return
			case <-timer.C:
			}
		}

		if !mode.flush {
			return
		}
		for _, h := range handles {
			rest := partial[h.Name()]
			if len(rest) == 0 {
				continue
			}
			positions[h.Name()] += int64(len(rest))
			lastYield = time.Now()
			if !yield(Line{Handle: h.Name(), Text: string(rest), Offset: positions[h.Name()]}, nil) {
				return
			}
		}
	}
}

func anyOpen(handles []Handle) bool {
	for _, h := range handles {
		if !h.EOF() {
			return true
		}
	}
	return false
}
