package pipeline

import (
	"maps"
	"runtime"
	"sync"
	"time"
)

// Stats collects counters for one pipeline chain. Stages mutate it while
// iterating; terminals finalize it.
type Stats struct {
	mu        sync.Mutex
	readBytes int64
	readLines int64
	outBytes  int64
	outLines  int64
	started   time.Time
	elapsed   time.Duration
	memBefore uint64
	memPeak   uint64
	finished  bool
	extra     map[string]any
}

// NewStats creates an empty Stats.
func NewStats() *Stats {
	return &Stats{extra: make(map[string]any)}
}

// Start records the start time and memory baseline. Only the first call
// has an effect.
func (s *Stats) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started.IsZero() {
		return
	}
	s.started = time.Now()
	s.memBefore = heapAlloc()
	s.memPeak = s.memBefore
}

// Finish freezes elapsed time and samples peak memory.
func (s *Stats) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || s.started.IsZero() {
		return
	}
	s.finished = true
	s.elapsed = time.Since(s.started)
	if m := heapAlloc(); m > s.memPeak {
		s.memPeak = m
	}
}

// AddRead adds bytes and lines read from a source.
func (s *Stats) AddRead(bytes, lines int64) {
	s.mu.Lock()
	s.readBytes += bytes
	s.readLines += lines
	s.mu.Unlock()
}

// AddOut adds bytes and lines written by an output terminal.
func (s *Stats) AddOut(bytes, lines int64) {
	s.mu.Lock()
	s.outBytes += bytes
	s.outLines += lines
	s.mu.Unlock()
}

// Set stores a free-form entry such as "from_cache".
func (s *Stats) Set(key string, value any) {
	s.mu.Lock()
	s.extra[key] = value
	s.mu.Unlock()
}

// Get returns a free-form entry.
func (s *Stats) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.extra[key]
	return v, ok
}

// ReadBytes returns the bytes read so far.
func (s *Stats) ReadBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readBytes
}

// ReadLines returns the lines read so far.
func (s *Stats) ReadLines() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLines
}

// OutLines returns the lines written by Output.
func (s *Stats) OutLines() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outLines
}

// Elapsed returns the run time, or the time since start while running.
func (s *Stats) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return s.elapsed
	}
	if s.started.IsZero() {
		return 0
	}
	return time.Since(s.started)
}

// Finished reports whether a terminal has completed.
func (s *Stats) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Snapshot returns a copy of all counters and entries.
func (s *Stats) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := maps.Clone(s.extra)
	out["read_bytes"] = s.readBytes
	out["read_lines"] = s.readLines
	out["out_bytes"] = s.outBytes
	out["out_lines"] = s.outLines
	out["elapsed"] = s.elapsed.String()
	out["mem_before"] = s.memBefore
	out["mem_peak"] = s.memPeak
	return out
}

func heapAlloc() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}
