package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	// ErrAlreadyConsumed is returned when a terminal runs on a chain whose
	// source was already drained.
	ErrAlreadyConsumed = errors.New("pipeline already consumed")
	// ErrInvalidArgument marks operator misconfiguration.
	ErrInvalidArgument = errors.New("invalid pipeline argument")
	// ErrNotIterable is returned by Each when the callback returns a
	// truthy value that cannot be flattened.
	ErrNotIterable = errors.New("each callback returned a non-iterable value")
)

// Seq is the lazy sequence every stage consumes and produces.
type Seq = iter.Seq2[any, error]

// Stage wraps one lazy sequence in another.
type Stage func(ctx context.Context, in Seq) Seq

// Source opens the underlying sequence of a pipeline. It is called at most
// once per chain.
type Source func(ctx context.Context, stats *Stats) Seq

// Pipeline is a lazily evaluated chain of stages over a single source.
// Operators return a new Pipeline; all pipelines derived from the same
// source share its Stats and its consumed state.
type Pipeline struct {
	source   Source
	stages   []Stage
	stats    *Stats
	consumed *atomic.Bool
	logger   *zap.Logger
	err      error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used by stages that report progress.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithStats makes the pipeline record into an existing Stats object.
func WithStats(stats *Stats) Option {
	return func(p *Pipeline) {
		if stats != nil {
			p.stats = stats
		}
	}
}

// New creates a pipeline over src.
func New(src Source, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:   src,
		stats:    NewStats(),
		consumed: new(atomic.Bool),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if src == nil {
		p.source = emptySource
		p.err = fmt.Errorf("%w: nil source", ErrInvalidArgument)
	}
	return p
}

// Stats returns the statistics shared by this chain.
func (p *Pipeline) Stats() *Stats {
	return p.stats
}

// Logger returns the chain's logger.
func (p *Pipeline) Logger() *zap.Logger {
	return p.logger
}

// Err returns the first configuration error recorded on the chain.
func (p *Pipeline) Err() error {
	return p.err
}

// Then appends a stage and returns the new pipeline.
func (p *Pipeline) Then(stage Stage) *Pipeline {
	next := p.clone()
	if stage == nil {
		next.fail(fmt.Errorf("%w: nil stage", ErrInvalidArgument))
		return next
	}
	next.stages = append(next.stages, stage)
	return next
}

// WithSource returns a fresh pipeline over src that keeps this chain's
// Stats, logger and recorded error. Wrappers such as the disk cache use it
// to swap in a replacement source.
func (p *Pipeline) WithSource(src Source) *Pipeline {
	next := New(src, WithStats(p.stats), WithLogger(p.logger))
	if p.err != nil && next.err == nil {
		next.err = p.err
	}
	return next
}

// Open composes the chain and returns its sequence. The chain is marked
// consumed; Stats timing starts here. Callers must call Stats().Finish
// once they are done iterating; terminal operations do this themselves.
func (p *Pipeline) Open(ctx context.Context) (Seq, error) {
	if p.err != nil {
		return nil, p.err
	}
	if !p.consumed.CompareAndSwap(false, true) {
		return nil, ErrAlreadyConsumed
	}
	p.stats.Start()
	seq := guard(ctx, p.source(ctx, p.stats))
	for _, stage := range p.stages {
		seq = stage(ctx, seq)
	}
	return seq, nil
}

// All returns the chain as a single sequence, yielding any configuration
// error as its only element. Stats are finalized when iteration ends.
func (p *Pipeline) All(ctx context.Context) Seq {
	return func(yield func(any, error) bool) {
		seq, err := p.Open(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		defer p.stats.Finish()
		for item, err := range seq {
			if !yield(item, err) || err != nil {
				return
			}
		}
	}
}

// Lines is All under the name used by callers that drive iteration
// themselves.
func (p *Pipeline) Lines(ctx context.Context) Seq {
	return p.All(ctx)
}

// Via hands the chain to a wrapper that returns a replacement, such as
// the disk cache. A wrapper error is recorded as a configuration error.
func (p *Pipeline) Via(wrap func(*Pipeline) (*Pipeline, error)) *Pipeline {
	if wrap == nil {
		return p.invalid("via requires a wrapper")
	}
	next, err := wrap(p)
	if err != nil {
		failed := p.clone()
		failed.fail(err)
		return failed
	}
	return next
}

func (p *Pipeline) clone() *Pipeline {
	next := *p
	next.stages = make([]Stage, len(p.stages), len(p.stages)+1)
	copy(next.stages, p.stages)
	return &next
}

func (p *Pipeline) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

// invalid returns a derived pipeline carrying a configuration error.
func (p *Pipeline) invalid(format string, args ...any) *Pipeline {
	next := p.clone()
	next.fail(fmt.Errorf("%w: "+format, append([]any{ErrInvalidArgument}, args...)...))
	return next
}

func emptySource(context.Context, *Stats) Seq {
	return func(func(any, error) bool) {}
}

// guard stops a sequence once ctx is done.
func guard(ctx context.Context, seq Seq) Seq {
	return func(yield func(any, error) bool) {
		for item, err := range seq {
			if err == nil {
				if cerr := ctx.Err(); cerr != nil {
					yield(nil, cerr)
					return
				}
			}
			if !yield(item, err) || err != nil {
				return
			}
		}
	}
}
