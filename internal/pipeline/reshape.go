package pipeline

import (
	"context"
	"fmt"

	"github.com/j-angnoe/flux-framework-bundle/internal/shared/utils"
)

// Unsparse gives every record the union of the keys seen across the chain,
// filling missing ones with nil. String items are decoded as JSON lines
// first and items that are not objects are dropped. The whole chain is
// buffered before the first record is yielded.
func (p *Pipeline) Unsparse() *Pipeline {
	return p.FromJSONLines().Then(func(_ context.Context, in Seq) Seq {
		return func(yield func(any, error) bool) {
			var (
				rows []map[string]any
				keys = make(map[string]struct{})
			)
			for item, err := range in {
				if err != nil {
					yield(nil, err)
					return
				}
				row, ok := item.(map[string]any)
				if !ok {
					continue
				}
				for k := range row {
					keys[k] = struct{}{}
				}
				rows = append(rows, row)
			}
			for _, row := range rows {
				full := make(map[string]any, len(keys))
				for k := range keys {
					full[k] = row[k]
				}
				if !yield(full, nil) {
					return
				}
			}
		}
	})
}

// Nest groups items into nested maps, one level per key, using the
// stringified field values as map keys. The innermost level holds the
// list of matching items or, when value is set, the value field of the
// last matching item.
func (p *Pipeline) Nest(ctx context.Context, keys []string, value string) (map[string]any, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: nest requires at least one key", ErrInvalidArgument)
	}
	result := make(map[string]any)
	err := p.drain(ctx, func(item any) bool {
		level := result
		for _, k := range keys[:len(keys)-1] {
			v, _ := utils.Field(item, k)
			name := utils.Stringify(v)
			next, ok := level[name].(map[string]any)
			if !ok {
				next = make(map[string]any)
				level[name] = next
			}
			level = next
		}
		v, _ := utils.Field(item, keys[len(keys)-1])
		leaf := utils.Stringify(v)
		if value != "" {
			level[leaf], _ = utils.Field(item, value)
			return true
		}
		list, _ := level[leaf].([]any)
		level[leaf] = append(list, item)
		return true
	})
	return result, err
}
