package pipeline

import (
	"context"
	"strconv"

	"github.com/j-angnoe/flux-framework-bundle/internal/shared/utils"
)

// Window slides a window of n items over the input and yields fn(window)
// for every full window, oldest item first. An input of length L yields
// max(0, L-n+1) results. fn receives a fresh slice on every call.
func (p *Pipeline) Window(n int, fn func([]any) any) *Pipeline {
	if n < 1 {
		return p.invalid("window expects n >= 1, got %d", n)
	}
	if fn == nil {
		return p.invalid("window requires a function")
	}
	return p.Then(func(_ context.Context, in Seq) Seq {
		return func(yield func(any, error) bool) {
			buf := make([]any, 0, n)
			for item, err := range in {
				if err != nil {
					yield(nil, err)
					return
				}
				if len(buf) == n {
					copy(buf, buf[1:])
					buf = buf[:n-1]
				}
				buf = append(buf, item)
				if len(buf) < n {
					continue
				}
				window := make([]any, n)
				copy(window, buf)
				if !yield(fn(window), nil) {
					return
				}
			}
		}
	})
}

// Unique drops items whose fingerprint was already seen. bufferSize <= 0
// remembers every fingerprint; otherwise only the last bufferSize distinct
// fingerprints are kept, oldest evicted first, so bufferSize 1 drops only
// adjacent repeats.
//
// Scalars are fingerprinted by their string form, compound values by a
// hash of their canonical JSON encoding.
func (p *Pipeline) Unique(bufferSize int) *Pipeline {
	return p.UniqueBy(nil, bufferSize)
}

// UniqueBy is Unique over key(item) instead of the item itself.
func (p *Pipeline) UniqueBy(key func(any) any, bufferSize int) *Pipeline {
	return p.Then(func(_ context.Context, in Seq) Seq {
		return func(yield func(any, error) bool) {
			seen := make(map[string]struct{})
			var order []string
			for item, err := range in {
				if err != nil {
					yield(nil, err)
					return
				}
				k := item
				if key != nil {
					k = key(item)
				}
				fp, err := fingerprint(k)
				if err != nil {
					yield(nil, err)
					return
				}
				if _, dup := seen[fp]; dup {
					continue
				}
				seen[fp] = struct{}{}
				if bufferSize > 0 {
					order = append(order, fp)
					if len(order) > bufferSize {
						delete(seen, order[0])
						order = order[1:]
					}
				}
				if !yield(item, nil) {
					return
				}
			}
		}
	})
}

func fingerprint(v any) (string, error) {
	if utils.IsScalar(v) {
		return "s:" + utils.Stringify(v), nil
	}
	h, err := utils.Fingerprint64(v)
	if err != nil {
		return "", err
	}
	return "h:" + strconv.FormatUint(h, 16), nil
}
