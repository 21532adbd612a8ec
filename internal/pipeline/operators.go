package pipeline

import (
	"context"
	"fmt"
	"iter"
	"reflect"
	"regexp"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/j-angnoe/flux-framework-bundle/internal/search"
	"github.com/j-angnoe/flux-framework-bundle/internal/shared/utils"
)

// perItem builds a stage that forwards upstream errors and hands each
// item to fn. fn returns false to stop the chain.
func (p *Pipeline) perItem(fn func(item any, yield func(any, error) bool) bool) *Pipeline {
	return p.Then(func(_ context.Context, in Seq) Seq {
		return func(yield func(any, error) bool) {
			for item, err := range in {
				if err != nil {
					yield(nil, err)
					return
				}
				if !fn(item, yield) {
					return
				}
			}
		}
	})
}

// Apply appends a raw stage.
func (p *Pipeline) Apply(stage Stage) *Pipeline {
	return p.Then(stage)
}

// Map transforms every item.
func (p *Pipeline) Map(fn func(any) any) *Pipeline {
	if fn == nil {
		return p.invalid("map requires a function")
	}
	return p.perItem(func(item any, yield func(any, error) bool) bool {
		return yield(fn(item), nil)
	})
}

// MapErr transforms every item; an error stops the chain.
func (p *Pipeline) MapErr(fn func(any) (any, error)) *Pipeline {
	if fn == nil {
		return p.invalid("map requires a function")
	}
	return p.perItem(func(item any, yield func(any, error) bool) bool {
		out, err := fn(item)
		if err != nil {
			yield(nil, err)
			return false
		}
		return yield(out, nil)
	})
}

// Each calls fn for every item and yields the elements of whatever it
// returns: slices, arrays, maps (values in key order), channels, sequences
// and pipelines are flattened. Falsy results yield nothing; any other
// non-iterable result is an error.
func (p *Pipeline) Each(fn func(any) any) *Pipeline {
	if fn == nil {
		return p.invalid("each requires a function")
	}
	return p.Then(func(ctx context.Context, in Seq) Seq {
		return func(yield func(any, error) bool) {
			for item, err := range in {
				if err != nil {
					yield(nil, err)
					return
				}
				if !flatten(ctx, fn(item), yield) {
					return
				}
			}
		}
	})
}

func flatten(ctx context.Context, v any, yield func(any, error) bool) bool {
	switch t := v.(type) {
	case *Pipeline:
		for item, err := range t.All(ctx) {
			if !yield(item, err) || err != nil {
				return false
			}
		}
		return true
	case iter.Seq[any]:
		for item := range t {
			if !yield(item, nil) {
				return false
			}
		}
		return true
	case iter.Seq2[any, error]:
		for item, err := range t {
			if !yield(item, err) || err != nil {
				return false
			}
		}
		return true
	case string, []byte:
		if !utils.Truthy(v) {
			return true
		}
		yield(nil, fmt.Errorf("%w: %T", ErrNotIterable, v))
		return false
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		for _, item := range utils.Values(v) {
			if !yield(item, nil) {
				return false
			}
		}
		return true
	case reflect.Chan:
		for {
			item, ok := rv.Recv()
			if !ok {
				return true
			}
			if !yield(item.Interface(), nil) {
				return false
			}
		}
	}
	if !utils.Truthy(v) {
		return true
	}
	yield(nil, fmt.Errorf("%w: %T", ErrNotIterable, v))
	return false
}

// Filter keeps items for which pred returns true. A nil pred keeps truthy
// items, dropping nil, false, "" and empty collections.
func (p *Pipeline) Filter(pred func(any) bool) *Pipeline {
	if pred == nil {
		pred = utils.Truthy
	}
	return p.perItem(func(item any, yield func(any, error) bool) bool {
		if !pred(item) {
			return true
		}
		return yield(item, nil)
	})
}

// Reject drops items for which pred returns true. A nil pred drops truthy
// items.
func (p *Pipeline) Reject(pred func(any) bool) *Pipeline {
	if pred == nil {
		pred = utils.Truthy
	}
	return p.Filter(func(item any) bool { return !pred(item) })
}

// Tap calls fn for every item and passes it on unchanged.
func (p *Pipeline) Tap(fn func(any)) *Pipeline {
	if fn == nil {
		return p.invalid("tap requires a function")
	}
	return p.perItem(func(item any, yield func(any, error) bool) bool {
		fn(item)
		return yield(item, nil)
	})
}

// When applies fn to the pipeline only if cond holds.
func (p *Pipeline) When(cond bool, fn func(*Pipeline) *Pipeline) *Pipeline {
	if !cond {
		return p
	}
	if fn == nil {
		return p.invalid("when requires a function")
	}
	return fn(p)
}

// Trim strips surrounding whitespace from string items.
func (p *Pipeline) Trim() *Pipeline {
	return p.mapStrings(strings.TrimSpace)
}

// LTrim strips leading whitespace from string items.
func (p *Pipeline) LTrim() *Pipeline {
	return p.mapStrings(func(s string) string { return strings.TrimLeft(s, " \t\r\n\v\f") })
}

// RTrim strips trailing whitespace from string items.
func (p *Pipeline) RTrim() *Pipeline {
	return p.mapStrings(func(s string) string { return strings.TrimRight(s, " \t\r\n\v\f") })
}

func (p *Pipeline) mapStrings(fn func(string) string) *Pipeline {
	return p.perItem(func(item any, yield func(any, error) bool) bool {
		if s, ok := item.(string); ok {
			return yield(fn(s), nil)
		}
		return yield(item, nil)
	})
}

// Head yields at most n items and stops pulling from upstream afterwards.
func (p *Pipeline) Head(n int) *Pipeline {
	if n < 0 {
		return p.invalid("head expects n >= 0, got %d", n)
	}
	return p.Then(func(_ context.Context, in Seq) Seq {
		return func(yield func(any, error) bool) {
			if n == 0 {
				return
			}
			seen := 0
			for item, err := range in {
				if !yield(item, err) || err != nil {
					return
				}
				seen++
				if seen >= n {
					return
				}
			}
		}
	})
}

// Take is an alias for Head.
func (p *Pipeline) Take(n int) *Pipeline {
	return p.Head(n)
}

// Skip drops the first n items.
func (p *Pipeline) Skip(n int) *Pipeline {
	if n < 0 {
		return p.invalid("skip expects n >= 0, got %d", n)
	}
	return p.Then(func(_ context.Context, in Seq) Seq {
		return func(yield func(any, error) bool) {
			skipped := 0
			for item, err := range in {
				if err == nil && skipped < n {
					skipped++
					continue
				}
				if !yield(item, err) || err != nil {
					return
				}
			}
		}
	})
}

// Tail yields only the last n items.
func (p *Pipeline) Tail(n int) *Pipeline {
	if n < 0 {
		return p.invalid("tail expects n >= 0, got %d", n)
	}
	return p.Then(func(_ context.Context, in Seq) Seq {
		return func(yield func(any, error) bool) {
			if n == 0 {
				for _, err := range in {
					if err != nil {
						yield(nil, err)
						return
					}
				}
				return
			}
			ring := make([]any, 0, n)
			start := 0
			for item, err := range in {
				if err != nil {
					yield(nil, err)
					return
				}
				if len(ring) < n {
					ring = append(ring, item)
					continue
				}
				ring[start] = item
				start = (start + 1) % n
			}
			for i := 0; i < len(ring); i++ {
				if !yield(ring[(start+i)%len(ring)], nil) {
					return
				}
			}
		}
	})
}

// Page yields the given 1-based page of perPage items.
func (p *Pipeline) Page(page, perPage int) *Pipeline {
	if page < 1 || perPage < 1 {
		return p.invalid("page expects page >= 1 and perPage >= 1, got %d/%d", page, perPage)
	}
	return p.Skip((page - 1) * perPage).Head(perPage)
}

// Chunk groups items into slices of size items; the last chunk may be
// shorter.
func (p *Pipeline) Chunk(size int) *Pipeline {
	if size < 1 {
		return p.invalid("chunk expects size >= 1, got %d", size)
	}
	return p.Then(func(_ context.Context, in Seq) Seq {
		return func(yield func(any, error) bool) {
			chunk := make([]any, 0, size)
			for item, err := range in {
				if err != nil {
					yield(nil, err)
					return
				}
				chunk = append(chunk, item)
				if len(chunk) == size {
					if !yield(chunk, nil) {
						return
					}
					chunk = make([]any, 0, size)
				}
			}
			if len(chunk) > 0 {
				yield(chunk, nil)
			}
		}
	})
}

// Buffer reads n items ahead before yielding them.
func (p *Pipeline) Buffer(n int) *Pipeline {
	if n < 1 {
		return p.invalid("buffer expects n >= 1, got %d", n)
	}
	return p.Chunk(n).Each(func(chunk any) any { return chunk })
}

// Reverse materializes the input and yields it last to first.
func (p *Pipeline) Reverse() *Pipeline {
	return p.Then(func(_ context.Context, in Seq) Seq {
		return func(yield func(any, error) bool) {
			var items []any
			for item, err := range in {
				if err != nil {
					yield(nil, err)
					return
				}
				items = append(items, item)
			}
			for i := len(items) - 1; i >= 0; i-- {
				if !yield(items[i], nil) {
					return
				}
			}
		}
	})
}

// Prepend yields items before the upstream items.
func (p *Pipeline) Prepend(items ...any) *Pipeline {
	return p.Then(func(_ context.Context, in Seq) Seq {
		return func(yield func(any, error) bool) {
			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}
			for item, err := range in {
				if !yield(item, err) || err != nil {
					return
				}
			}
		}
	})
}

// Union yields the items of the other pipelines after the upstream items.
func (p *Pipeline) Union(others ...*Pipeline) *Pipeline {
	for _, o := range others {
		if o == nil {
			return p.invalid("union requires non-nil pipelines")
		}
	}
	return p.Then(func(ctx context.Context, in Seq) Seq {
		return func(yield func(any, error) bool) {
			for item, err := range in {
				if !yield(item, err) || err != nil {
					return
				}
			}
			for _, o := range others {
				for item, err := range o.All(ctx) {
					if !yield(item, err) || err != nil {
						return
					}
				}
			}
		}
	})
}

// Grep keeps items whose serialized values contain text, ignoring case.
func (p *Pipeline) Grep(text string) *Pipeline {
	return p.GrepRegexp(regexp.QuoteMeta(text))
}

// GrepRegexp keeps items whose serialized values match expr, ignoring case.
func (p *Pipeline) GrepRegexp(expr string) *Pipeline {
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return p.invalid("bad grep expression: %v", err)
	}
	return p.Filter(func(item any) bool {
		return re.MatchString(utils.Serialize(item))
	})
}

// FromJSONLines decodes every string item as JSON. Blank lines are skipped.
func (p *Pipeline) FromJSONLines() *Pipeline {
	return p.Then(func(_ context.Context, in Seq) Seq {
		return func(yield func(any, error) bool) {
			line := 0
			for item, err := range in {
				if err != nil {
					yield(nil, err)
					return
				}
				line++
				var text string
				switch t := item.(type) {
				case string:
					text = t
				case []byte:
					text = string(t)
				default:
					if !yield(item, nil) {
						return
					}
					continue
				}
				if strings.TrimSpace(text) == "" {
					continue
				}
				var v any
				if err := sonic.UnmarshalString(text, &v); err != nil {
					yield(nil, fmt.Errorf("failed to decode JSON line %d: %w", line, err))
					return
				}
				if !yield(v, nil) {
					return
				}
			}
		}
	})
}

// ToJSONLines encodes every item as a single line of JSON.
func (p *Pipeline) ToJSONLines() *Pipeline {
	return p.perItem(func(item any, yield func(any, error) bool) bool {
		data, err := sonic.ConfigStd.Marshal(item)
		if err != nil {
			yield(nil, fmt.Errorf("failed to encode JSON line: %w", err))
			return false
		}
		return yield(string(data), nil)
	})
}

// Field returns a function that extracts a named field from an item; see
// utils.Field.
func Field(name string) func(any) any {
	return func(item any) any {
		v, _ := utils.Field(item, name)
		return v
	}
}

// QuickSearch keeps items matching a quicksearch expression; see
// search.Compile for the syntax. A blank expression keeps everything.
func (p *Pipeline) QuickSearch(expr string) *Pipeline {
	q, err := search.Compile(expr)
	if err != nil {
		next := p.clone()
		next.fail(err)
		return next
	}
	if q.Empty() {
		return p
	}
	return p.Filter(q.Match)
}
