package pipeline

import (
	"context"

	"github.com/sourcegraph/conc/stream"
)

// ParallelMap runs fn on up to workers items concurrently. Results are
// yielded in input order. The first error stops the chain; remaining work
// is drained before the stage returns.
func (p *Pipeline) ParallelMap(workers int, fn func(context.Context, any) (any, error)) *Pipeline {
	if workers < 1 {
		return p.invalid("parallel map expects workers >= 1, got %d", workers)
	}
	if fn == nil {
		return p.invalid("parallel map requires a function")
	}
	return p.Then(func(ctx context.Context, in Seq) Seq {
		return func(yield func(any, error) bool) {
			type result struct {
				item any
				err  error
			}
			out := make(chan result)
			done := make(chan struct{})
			finished := make(chan struct{})

			send := func(r result) {
				select {
				case out <- r:
				case <-done:
				}
			}

			go func() {
				defer close(finished)
				defer close(out)
				s := stream.New().WithMaxGoroutines(workers)
				var upstreamErr error
				for item, err := range in {
					if err != nil {
						upstreamErr = err
						break
					}
					select {
					case <-done:
						s.Wait()
						return
					default:
					}
					s.Go(func() stream.Callback {
						v, ferr := fn(ctx, item)
						return func() { send(result{item: v, err: ferr}) }
					})
				}
				s.Wait()
				if upstreamErr != nil {
					send(result{err: upstreamErr})
				}
			}()

			defer func() {
				close(done)
				<-finished
			}()
			for r := range out {
				if !yield(r.item, r.err) || r.err != nil {
					return
				}
			}
		}
	})
}
