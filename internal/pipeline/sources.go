package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
)

// readBlockSize is the chunk size used when splitting byte streams.
const readBlockSize = 8192

// FromSlice creates a pipeline over the items of a slice.
func FromSlice[T any](items []T, opts ...Option) *Pipeline {
	return New(func(context.Context, *Stats) Seq {
		return func(yield func(any, error) bool) {
			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}
		}
	}, opts...)
}

// FromValues creates a pipeline over its arguments.
func FromValues(items ...any) *Pipeline {
	return FromSlice(items)
}

// Empty creates a pipeline that yields nothing.
func Empty(opts ...Option) *Pipeline {
	return New(emptySource, opts...)
}

// FromSeq creates a pipeline over a lazy sequence.
func FromSeq[T any](seq iter.Seq[T], opts ...Option) *Pipeline {
	return New(func(context.Context, *Stats) Seq {
		return func(yield func(any, error) bool) {
			for item := range seq {
				if !yield(item, nil) {
					return
				}
			}
		}
	}, opts...)
}

// FromSeq2 creates a pipeline over a fallible lazy sequence.
func FromSeq2[T any](seq iter.Seq2[T, error], opts ...Option) *Pipeline {
	return New(func(context.Context, *Stats) Seq {
		return func(yield func(any, error) bool) {
			for item, err := range seq {
				if !yield(item, err) || err != nil {
					return
				}
			}
		}
	}, opts...)
}

// FromFunc creates a pipeline from a generator function. The generator
// receives the chain's Stats so it can record what it reads.
func FromFunc(gen func(ctx context.Context, stats *Stats, yield func(any) bool) error, opts ...Option) *Pipeline {
	if gen == nil {
		return New(nil, opts...)
	}
	return New(func(ctx context.Context, stats *Stats) Seq {
		return func(yield func(any, error) bool) {
			stopped := false
			err := gen(ctx, stats, func(item any) bool {
				if stopped {
					return false
				}
				if !yield(item, nil) {
					stopped = true
				}
				return !stopped
			})
			if err != nil && !stopped {
				yield(nil, err)
			}
		}
	}, opts...)
}

// From creates a pipeline that drains another pipeline.
func From(other *Pipeline, opts ...Option) *Pipeline {
	if other == nil {
		return New(nil, opts...)
	}
	return New(func(ctx context.Context, _ *Stats) Seq {
		return other.All(ctx)
	}, opts...)
}

// FromReader creates a pipeline over the lines of r. Lines are split on
// "\n" without the terminator; a trailing partial line is yielded too.
// If r is an io.Closer it is closed once iteration ends.
func FromReader(r io.Reader, opts ...Option) *Pipeline {
	if r == nil {
		return New(nil, opts...)
	}
	return New(func(_ context.Context, stats *Stats) Seq {
		return ReadLines(r, stats)
	}, opts...)
}

// ReadLines splits r into lines the way FromReader does, recording read
// counters on stats.
func ReadLines(r io.Reader, stats *Stats) Seq {
	return func(yield func(any, error) bool) {
		if c, ok := r.(io.Closer); ok {
			defer c.Close()
		}
		buf := make([]byte, readBlockSize)
		var partial []byte
		for {
			n, err := r.Read(buf)
			if n > 0 {
				stats.AddRead(int64(n), 0)
				partial = append(partial, buf[:n]...)
				for {
					i := bytes.IndexByte(partial, '\n')
					if i < 0 {
						break
					}
					line := string(partial[:i])
					partial = partial[i+1:]
					stats.AddRead(0, 1)
					if !yield(line, nil) {
						return
					}
				}
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				yield(nil, fmt.Errorf("failed to read source: %w", err))
				return
			}
		}
		if len(partial) > 0 {
			stats.AddRead(0, 1)
			yield(string(partial), nil)
		}
	}
}
