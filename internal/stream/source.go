package stream

import (
	"context"
	"iter"
	"sync/atomic"
)

// DefaultChannel is the channel of unnamed frames.
const DefaultChannel = "message"

// Entry is one item of a multi-item update.
type Entry struct {
	// Position is the resume cursor after this entry. Empty keeps the
	// previous one.
	Position string
	Value    any
}

// Update is what a source produces per poll. A zero Update means nothing
// new.
type Update struct {
	// Value is sent as a single frame when Items is nil.
	Value any
	// Items are drained entry by entry, subject to the per tick limits.
	Items iter.Seq2[Entry, error]
	// Done removes the source after this update.
	Done bool
}

// Source is polled by a Scheduler.
type Source interface {
	Channel() string
	BeatsPerMinute() float64
	UpdatesPerTick() int
	// NextUpdate returns what is new after lastPosition, the position of
	// the last entry sent for this source, or "" for a fresh start.
	NextUpdate(ctx context.Context, lastPosition string) (Update, error)
}

// Finisher is implemented by sources that can tell when they are done.
type Finisher interface {
	Finished() bool
}

// SourceOption configures the built-in sources.
type SourceOption func(*rhythm)

// WithChannel sets the channel, which becomes the event name of frames.
func WithChannel(channel string) SourceOption {
	return func(r *rhythm) {
		if channel != "" {
			r.channel = channel
		}
	}
}

// WithBeatsPerMinute sets how often the source is polled.
func WithBeatsPerMinute(bpm float64) SourceOption {
	return func(r *rhythm) {
		if bpm > 0 {
			r.bpm = bpm
		}
	}
}

// WithUpdatesPerTick caps the entries drained per poll.
func WithUpdatesPerTick(n int) SourceOption {
	return func(r *rhythm) {
		if n > 0 {
			r.perTick = n
		}
	}
}

// rhythm carries the scheduling attributes shared by the built-in sources.
type rhythm struct {
	channel string
	bpm     float64
	perTick int
}

func newRhythm(bpm float64, perTick int, opts []SourceOption) rhythm {
	r := rhythm{channel: DefaultChannel, bpm: bpm, perTick: perTick}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

func (r rhythm) Channel() string         { return r.channel }
func (r rhythm) BeatsPerMinute() float64 { return r.bpm }
func (r rhythm) UpdatesPerTick() int     { return r.perTick }

// FuncSource adapts a function. It polls at 60 bpm and sends one update
// per tick unless configured otherwise.
type FuncSource struct {
	rhythm
	fn       func(ctx context.Context, lastPosition string) (Update, error)
	finished atomic.Bool
}

// NewFuncSource wraps fn.
func NewFuncSource(fn func(ctx context.Context, lastPosition string) (Update, error), opts ...SourceOption) *FuncSource {
	return &FuncSource{rhythm: newRhythm(60, 1, opts), fn: fn}
}

func (s *FuncSource) NextUpdate(ctx context.Context, lastPosition string) (Update, error) {
	u, err := s.fn(ctx, lastPosition)
	if u.Done {
		s.finished.Store(true)
	}
	return u, err
}

// Finished reports whether fn returned a Done update.
func (s *FuncSource) Finished() bool {
	return s.finished.Load()
}

// NullSource never produces anything and is finished from the start.
type NullSource struct {
	rhythm
}

// NewNullSource returns a finished source.
func NewNullSource(opts ...SourceOption) *NullSource {
	return &NullSource{rhythm: newRhythm(60, 1, opts)}
}

func (*NullSource) NextUpdate(context.Context, string) (Update, error) {
	return Update{}, nil
}

func (*NullSource) Finished() bool { return true }
