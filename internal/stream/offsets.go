package stream

import (
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// Offsets maps source indexes to their last positions. Serialized as
// "index:position;index:position", it is the event id of every scheduler
// frame. Positions are path-escaped so they may contain separators.
type Offsets map[int]string

func (o Offsets) String() string {
	keys := slices.Sorted(maps.Keys(o))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, strconv.Itoa(k)+":"+url.PathEscape(o[k]))
	}
	return strings.Join(parts, ";")
}

// ParseOffsets restores offsets from a Last-Event-ID header. Malformed
// pairs are skipped.
func ParseOffsets(s string) Offsets {
	o := Offsets{}
	for _, pair := range strings.Split(s, ";") {
		index, position, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			continue
		}
		i, err := strconv.Atoi(index)
		if err != nil || i < 0 {
			continue
		}
		p, err := url.PathUnescape(position)
		if err != nil {
			continue
		}
		o[i] = p
	}
	return o
}
