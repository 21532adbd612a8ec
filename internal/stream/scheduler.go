package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/j-angnoe/flux-framework-bundle/internal/sse"
)

const (
	// DefaultHeartbeat is the silence after which a tick frame is sent.
	DefaultHeartbeat = 5 * time.Second
	// earlyTolerance lets a source fire this fraction of its interval
	// early, so that loop jitter does not skip beats.
	earlyTolerance = 0.05
)

// ErrNoSources is returned by Run when nothing was added.
var ErrNoSources = errors.New("no update sources registered")

// Clock abstracts time for the scheduler loop.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithHeartbeat sets the silence after which a tick frame is sent.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// WithRetry sends a retry frame with d before the first update.
func WithRetry(d time.Duration) Option {
	return func(s *Scheduler) { s.retry = d }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics counts frames.
func WithMetrics(m sse.Metrics) Option {
	return func(s *Scheduler) { s.sseOpts = append(s.sseOpts, sse.WithMetrics(m)) }
}

// WithFlusher flushes through f after every frame.
func WithFlusher(f http.Flusher) Option {
	return func(s *Scheduler) { s.sseOpts = append(s.sseOpts, sse.WithFlusher(f)) }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

type slot struct {
	index    int
	src      Source
	interval time.Duration
	limiter  *rate.Limiter
}

// Scheduler polls several sources on one cooperative loop and writes their
// updates as server-sent events. It is not safe for concurrent use.
type Scheduler struct {
	w         io.Writer
	out       *sse.Writer
	sseOpts   []sse.Option
	slots     []*slot
	offsets   Offsets
	heartbeat time.Duration
	retry     time.Duration
	logger    *zap.Logger
	clock     Clock
	lastWrite time.Time
}

// NewScheduler writes frames to w.
func NewScheduler(w io.Writer, opts ...Option) *Scheduler {
	s := &Scheduler{
		w:         w,
		offsets:   Offsets{},
		heartbeat: DefaultHeartbeat,
		logger:    zap.NewNop(),
		clock:     realClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.out = sse.NewWriter(w, s.sseOpts...)
	return s
}

// Add registers src, resuming after lastPosition when it is not empty. It
// returns the index the source's offset is stored under.
func (s *Scheduler) Add(src Source, lastPosition string) int {
	index := len(s.slots)
	bpm := src.BeatsPerMinute()
	if bpm <= 0 {
		bpm = 1
	}
	interval := time.Duration(float64(time.Minute) / bpm)
	s.slots = append(s.slots, &slot{
		index:    index,
		src:      src,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Limit(bpm/60), 1),
	})
	if lastPosition != "" {
		s.offsets[index] = lastPosition
	}
	return index
}

// Offsets returns a copy of the current offsets.
func (s *Scheduler) Offsets() Offsets {
	o := make(Offsets, len(s.offsets))
	for k, v := range s.offsets {
		o[k] = v
	}
	return o
}

// Run polls the sources until all of them finished, maxRuntime worth of
// ticks passed or ctx is cancelled.
//
// The tick is the interval of the fastest source. A source is polled on
// the ticks its own rate allows and drained for at most its own interval
// and its UpdatesPerTick. A final "finished" frame carries "bye" when all
// sources finished and the offsets otherwise; cancellation ends the
// stream without it.
func (s *Scheduler) Run(ctx context.Context, maxRuntime time.Duration) error {
	if len(s.slots) == 0 {
		return ErrNoSources
	}
	maxBPM := 1.0
	for _, sl := range s.slots {
		maxBPM = math.Max(maxBPM, sl.src.BeatsPerMinute())
	}
	tick := time.Duration(float64(time.Minute) / maxBPM)
	maxTicks := int(math.Floor(maxBPM * maxRuntime.Minutes()))

	s.logger.Info("stream scheduler started",
		zap.Int("sources", len(s.slots)),
		zap.Duration("tick", tick),
		zap.Int("max_ticks", maxTicks))

	s.lastWrite = s.clock.Now()
	if s.retry > 0 {
		if err := s.out.Retry(s.retry); err != nil {
			return err
		}
	}

	active := append([]*slot(nil), s.slots...)
	ticks := 0
	for ; ticks < maxTicks && len(active) > 0; ticks++ {
		loopStart := s.clock.Now()

		remaining := active[:0]
		for _, sl := range active {
			done, err := s.poll(ctx, sl)
			if err != nil {
				return err
			}
			if !done {
				remaining = append(remaining, sl)
			}
		}
		active = remaining
		if len(active) == 0 {
			break
		}

		if s.clock.Now().Sub(s.lastWrite) > s.heartbeat {
			if err := s.send("tick", nil); err != nil {
				return err
			}
		}
		if err := s.clock.Sleep(ctx, tick-s.clock.Now().Sub(loopStart)); err != nil {
			s.logger.Debug("stream scheduler cancelled", zap.Int("ticks", ticks))
			return err
		}
	}

	s.logger.Info("stream scheduler finished",
		zap.Int("ticks", ticks),
		zap.Int("active", len(active)))
	if len(active) == 0 {
		return s.out.Event("finished", s.offsets.String(), "bye")
	}
	return s.out.Event("finished", s.offsets.String(), s.offsets.String())
}

// poll runs one beat of a source when its rate allows and reports whether
// the source is finished.
func (s *Scheduler) poll(ctx context.Context, sl *slot) (bool, error) {
	start := s.clock.Now()
	tolerance := time.Duration(float64(sl.interval) * earlyTolerance)
	r := sl.limiter.ReserveN(start, 1)
	if !r.OK() || r.DelayFrom(start) > tolerance {
		r.CancelAt(start)
		return false, nil
	}

	update, err := sl.src.NextUpdate(ctx, s.offsets[sl.index])
	if err != nil {
		return false, fmt.Errorf("source %d (%s) failed: %w", sl.index, sl.src.Channel(), err)
	}

	if update.Items != nil {
		count := 0
		for entry, err := range update.Items {
			if err != nil {
				return false, fmt.Errorf("source %d (%s) failed: %w", sl.index, sl.src.Channel(), err)
			}
			count++
			if entry.Position != "" {
				s.offsets[sl.index] = entry.Position
			}
			if err := s.send(sl.src.Channel(), entry.Value); err != nil {
				return false, err
			}
			if s.clock.Now().Sub(start) > sl.interval || count >= sl.src.UpdatesPerTick() {
				break
			}
		}
	} else if update.Value != nil {
		if err := s.send(sl.src.Channel(), update.Value); err != nil {
			return false, err
		}
	}

	if update.Done {
		return true, nil
	}
	if f, ok := sl.src.(Finisher); ok && f.Finished() {
		return true, nil
	}
	return false, nil
}

// send writes one frame. Strings go out as is, other values as JSON.
func (s *Scheduler) send(channel string, value any) error {
	event := channel
	if event == DefaultChannel {
		event = ""
	}
	var data any
	switch v := value.(type) {
	case nil:
		data = ""
	case string:
		data = v
	default:
		b, err := sonic.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode %s update: %w", channel, err)
		}
		data = b
	}
	s.lastWrite = s.clock.Now()
	return s.out.Event(event, s.offsets.String(), data)
}
