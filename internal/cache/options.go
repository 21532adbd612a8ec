package cache

import (
	"go.uber.org/zap"
)

// DefaultDir is where cache files are written when no directory or file
// is configured.
const DefaultDir = "/tmp/chain-caches"

// MarkField is the key added to map items replayed from the cache when
// WithMarkCached is set.
const MarkField = "cached"

// Metrics receives cache lookup outcomes.
type Metrics interface {
	CacheLookup(hit bool)
}

type nopMetrics struct{}

func (nopMetrics) CacheLookup(bool) {}

type options struct {
	id         string
	hasID      bool
	args       []any
	dir        string
	file       string
	refresh    bool
	reverse    bool
	jsonLines  bool
	markCached bool
	caller     string
	logger     *zap.Logger
	metrics    Metrics
}

// Option configures Wrap.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		dir:     DefaultDir,
		logger:  zap.NewNop(),
		metrics: nopMetrics{},
	}
}

// WithID keys the entry on an explicit identifier instead of the call site.
func WithID(id string) Option {
	return func(o *options) {
		o.id = id
		o.hasID = true
	}
}

// WithArgs adds values the entry depends on; changing any of them selects
// a different entry.
func WithArgs(args ...any) Option {
	return func(o *options) {
		o.args = append(o.args, args...)
	}
}

// WithDir sets the cache directory.
func WithDir(dir string) Option {
	return func(o *options) {
		if dir != "" {
			o.dir = dir
		}
	}
}

// WithFile stores the entry at an explicit path.
func WithFile(path string) Option {
	return func(o *options) {
		o.file = path
	}
}

// WithRefresh ignores an existing entry and rebuilds it.
func WithRefresh(refresh bool) Option {
	return func(o *options) {
		o.refresh = refresh
	}
}

// WithReverse replays the entry last line first.
func WithReverse(reverse bool) Option {
	return func(o *options) {
		o.reverse = reverse
	}
}

// WithJSONLines stores every item as JSON, even when all items are scalars.
func WithJSONLines(jsonLines bool) Option {
	return func(o *options) {
		o.jsonLines = jsonLines
	}
}

// WithMarkCached sets MarkField to true on map items replayed from an
// existing entry.
func WithMarkCached(mark bool) Option {
	return func(o *options) {
		o.markCached = mark
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics reports hits and misses.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}
