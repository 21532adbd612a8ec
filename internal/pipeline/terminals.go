package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/bytedance/sonic"
	"gonum.org/v1/gonum/stat"

	"github.com/j-angnoe/flux-framework-bundle/internal/shared/utils"
)

// ErrEmpty is returned by terminals that need at least one item.
var ErrEmpty = errors.New("pipeline is empty")

// drain runs the chain, calling fn for every item until fn returns false.
// Stats are finalized when drain returns.
func (p *Pipeline) drain(ctx context.Context, fn func(item any) bool) error {
	seq, err := p.Open(ctx)
	if err != nil {
		return err
	}
	defer p.stats.Finish()
	for item, err := range seq {
		if err != nil {
			return err
		}
		if !fn(item) {
			return nil
		}
	}
	return nil
}

// Run drives the chain to completion for its side effects.
func (p *Pipeline) Run(ctx context.Context) error {
	return p.drain(ctx, func(any) bool { return true })
}

// Count returns the number of items.
func (p *Pipeline) Count(ctx context.Context) (int, error) {
	n := 0
	err := p.drain(ctx, func(any) bool {
		n++
		return true
	})
	return n, err
}

// ToSlice collects all items.
func (p *Pipeline) ToSlice(ctx context.Context) ([]any, error) {
	var items []any
	err := p.drain(ctx, func(item any) bool {
		items = append(items, item)
		return true
	})
	return items, err
}

// ToStrings collects all items in their string form.
func (p *Pipeline) ToStrings(ctx context.Context) ([]string, error) {
	var items []string
	err := p.drain(ctx, func(item any) bool {
		items = append(items, utils.Stringify(item))
		return true
	})
	return items, err
}

// First returns the first item, pulling nothing further from upstream.
func (p *Pipeline) First(ctx context.Context) (any, error) {
	var (
		first any
		found bool
	)
	err := p.drain(ctx, func(item any) bool {
		first, found = item, true
		return false
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrEmpty
	}
	return first, nil
}

// Last returns the last item.
func (p *Pipeline) Last(ctx context.Context) (any, error) {
	var (
		last  any
		found bool
	)
	err := p.drain(ctx, func(item any) bool {
		last, found = item, true
		return true
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrEmpty
	}
	return last, nil
}

// Reduce folds the items into an accumulator.
func (p *Pipeline) Reduce(ctx context.Context, initial any, fn func(acc, item any) any) (any, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: reduce requires a function", ErrInvalidArgument)
	}
	acc := initial
	err := p.drain(ctx, func(item any) bool {
		acc = fn(acc, item)
		return true
	})
	return acc, err
}

// ToString joins items with sep. With trim every part is trimmed, and
// with limit > 0 at most limit items are joined.
func (p *Pipeline) ToString(ctx context.Context, sep string, trim bool, limit int) (string, error) {
	var (
		sb strings.Builder
		n  int
	)
	err := p.drain(ctx, func(item any) bool {
		s := utils.Stringify(item)
		if trim {
			s = strings.TrimSpace(s)
		}
		if n > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(s)
		n++
		return limit <= 0 || n < limit
	})
	return sb.String(), err
}

// Output writes one line per item to w: strings are right-trimmed, other
// values are written as JSON. It returns the number of lines written.
func (p *Pipeline) Output(ctx context.Context, w io.Writer) (int, error) {
	n := 0
	var werr error
	err := p.drain(ctx, func(item any) bool {
		line, err := outputLine(item)
		if err != nil {
			werr = err
			return false
		}
		written, err := io.WriteString(w, line)
		if err != nil {
			werr = fmt.Errorf("failed to write output: %w", err)
			return false
		}
		n++
		p.stats.AddOut(int64(written), 1)
		return true
	})
	if err == nil {
		err = werr
	}
	return n, err
}

// outputLine renders item the way Output writes it, newline included.
func outputLine(item any) (string, error) {
	switch t := item.(type) {
	case string:
		return strings.TrimRight(t, " \t\r\n") + "\n", nil
	case []byte:
		return strings.TrimRight(string(t), " \t\r\n") + "\n", nil
	}
	data, err := sonic.ConfigStd.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("failed to encode output line: %w", err)
	}
	return string(data) + "\n", nil
}

// Greatest returns the item with the highest score.
func (p *Pipeline) Greatest(ctx context.Context, score func(any) any) (any, error) {
	return p.extreme(ctx, score, 1)
}

// Least returns the item with the lowest score.
func (p *Pipeline) Least(ctx context.Context, score func(any) any) (any, error) {
	return p.extreme(ctx, score, -1)
}

func (p *Pipeline) extreme(ctx context.Context, score func(any) any, sign int) (any, error) {
	if score == nil {
		score = func(item any) any { return item }
	}
	var (
		best      any
		bestScore any
		found     bool
	)
	err := p.drain(ctx, func(item any) bool {
		s := score(item)
		if !found || utils.Compare(s, bestScore)*sign > 0 {
			best, bestScore, found = item, s, true
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrEmpty
	}
	return best, nil
}

// Summary describes a numeric projection of a pipeline.
type Summary struct {
	Count   int     `json:"count"`
	Skipped int     `json:"skipped"`
	Sum     float64 `json:"sum"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"stddev"`
	Min     float64 `json:"min"`
	Median  float64 `json:"median"`
	Max     float64 `json:"max"`
}

// Summarize computes descriptive statistics over score(item). Items whose
// score is not numeric are counted as skipped.
func (p *Pipeline) Summarize(ctx context.Context, score func(any) any) (Summary, error) {
	if score == nil {
		score = func(item any) any { return item }
	}
	var (
		values  []float64
		skipped int
	)
	err := p.drain(ctx, func(item any) bool {
		f, ok := utils.ToFloat(score(item))
		if !ok {
			skipped++
			return true
		}
		values = append(values, f)
		return true
	})
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{Count: len(values), Skipped: skipped}
	if len(values) == 0 {
		return sum, nil
	}
	slices.Sort(values)
	for _, v := range values {
		sum.Sum += v
	}
	sum.Mean, sum.StdDev = stat.MeanStdDev(values, nil)
	if len(values) == 1 {
		sum.StdDev = 0
	}
	sum.Min = values[0]
	sum.Max = values[len(values)-1]
	sum.Median = stat.Quantile(0.5, stat.Empirical, values, nil)
	return sum, nil
}
