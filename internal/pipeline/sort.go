package pipeline

import (
	"context"

	"github.com/emirpasic/gods/trees/redblacktree"

	"github.com/j-angnoe/flux-framework-bundle/internal/shared/utils"
)

// Direction is a sort order.
type Direction int

const (
	Asc Direction = iota
	Desc
)

// sortKey orders by score, then by arrival so equal scores stay stable.
type sortKey struct {
	score any
	seq   int64
}

func sortComparator(dir Direction) func(a, b interface{}) int {
	return func(a, b interface{}) int {
		ka, kb := a.(sortKey), b.(sortKey)
		c := utils.Compare(ka.score, kb.score)
		if dir == Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		switch {
		case ka.seq < kb.seq:
			return -1
		case ka.seq > kb.seq:
			return 1
		}
		return 0
	}
}

// Sort orders items by score (the item itself when score is nil). With
// limit > 0 only the best limit items are kept while streaming: an item
// is inserted only if it ranks within the limit, so memory stays bounded
// by limit. Equal scores keep their input order.
func (p *Pipeline) Sort(score func(any) any, dir Direction, limit int) *Pipeline {
	if limit < 0 {
		return p.invalid("sort expects limit >= 0, got %d", limit)
	}
	if score == nil {
		score = func(item any) any { return item }
	}
	return p.Then(func(_ context.Context, in Seq) Seq {
		return func(yield func(any, error) bool) {
			cmp := sortComparator(dir)
			tree := redblacktree.NewWith(cmp)
			var seq int64
			for item, err := range in {
				if err != nil {
					yield(nil, err)
					return
				}
				key := sortKey{score: score(item), seq: seq}
				seq++
				if limit > 0 && tree.Size() >= limit {
					worst := tree.Right()
					if cmp(key, worst.Key) >= 0 {
						continue
					}
					tree.Remove(worst.Key)
				}
				tree.Put(key, item)
			}
			it := tree.Iterator()
			for it.Next() {
				if !yield(it.Value(), nil) {
					return
				}
			}
		}
	})
}

// SortAsc sorts ascending by score.
func (p *Pipeline) SortAsc(score func(any) any) *Pipeline {
	return p.Sort(score, Asc, 0)
}

// SortDesc sorts descending by score.
func (p *Pipeline) SortDesc(score func(any) any) *Pipeline {
	return p.Sort(score, Desc, 0)
}
