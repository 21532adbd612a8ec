package stream

import (
	"context"
	"sync"

	"github.com/j-angnoe/flux-framework-bundle/internal/job"
	"github.com/j-angnoe/flux-framework-bundle/internal/shell"
)

// JobSource follows the output of a background job. Positions are the
// job's serialized position maps. It polls at 120 bpm, draining up to 1000
// lines per tick, and finishes once the job has ended and all of its
// output was sent.
type JobSource struct {
	rhythm
	job *job.Job

	mu        sync.Mutex
	positions shell.Positions
	drained   bool
}

// NewJobSource follows j.
func NewJobSource(j *job.Job, opts ...SourceOption) *JobSource {
	return &JobSource{rhythm: newRhythm(120, 1000, opts), job: j, positions: shell.Positions{}}
}

// Job returns the followed job.
func (s *JobSource) Job() *job.Job { return s.job }

func (s *JobSource) NextUpdate(ctx context.Context, lastPosition string) (Update, error) {
	s.mu.Lock()
	if lastPosition != "" {
		s.positions = shell.ParsePositions(lastPosition)
	}
	s.mu.Unlock()
	// Output is complete once the process is gone, so a full pass after
	// that point is the last one.
	finished := !s.job.IsRunning()

	return Update{Items: func(yield func(Entry, error) bool) {
		s.mu.Lock()
		defer s.mu.Unlock()
		for line, err := range s.job.Available(ctx, s.positions, finished) {
			if err != nil {
				yield(Entry{}, err)
				return
			}
			if !yield(Entry{Position: s.positions.String(), Value: line.String()}, nil) {
				return
			}
		}
		if finished {
			s.drained = true
		}
	}}, nil
}

// Finished reports whether the job ended and its output was drained.
func (s *JobSource) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drained
}
