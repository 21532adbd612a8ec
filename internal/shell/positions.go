package shell

import (
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Standard handle names.
const (
	Stdout = "stdout"
	Stderr = "stderr"
)

// Positions maps handle names to byte offsets. It is the resume point of a
// stream of lines.
type Positions map[string]int64

// String serializes positions as "handle:offset;handle:offset" with the
// handles in sorted order.
func (p Positions) String() string {
	keys := slices.Sorted(maps.Keys(p))
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ":" + strconv.FormatInt(p[k], 10)
	}
	return strings.Join(parts, ";")
}

// Clone returns an independent copy.
func (p Positions) Clone() Positions {
	if p == nil {
		return Positions{}
	}
	return maps.Clone(p)
}

// ParsePositions reads the format written by Positions.String. Empty and
// malformed pairs are skipped.
func ParsePositions(s string) Positions {
	p := Positions{}
	for _, pair := range strings.Split(s, ";") {
		name, offset, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || name == "" {
			continue
		}
		n, err := strconv.ParseInt(offset, 10, 64)
		if err != nil || n < 0 {
			continue
		}
		p[name] = n
	}
	return p
}
