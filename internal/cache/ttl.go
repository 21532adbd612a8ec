package cache

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTTL is returned when an expiry cannot be interpreted.
var ErrInvalidTTL = errors.New("invalid cache ttl")

var ttlPattern = regexp.MustCompile(`(?i)^([0-9.]+)\s*(s|sec|seconds?|m|min|minutes?|h|hours?|d|days?)$`)

// ParseTTL converts an expiry into a duration. Integers are seconds,
// durations are taken as is and strings look like "30s", "5 min", "1.5h"
// or "2 days". Fractional results are truncated to whole seconds.
func ParseTTL(v any) (time.Duration, error) {
	var seconds float64
	switch t := v.(type) {
	case time.Duration:
		if t < 0 {
			return 0, fmt.Errorf("%w: negative duration %s", ErrInvalidTTL, t)
		}
		return t, nil
	case int:
		seconds = float64(t)
	case int32:
		seconds = float64(t)
	case int64:
		seconds = float64(t)
	case uint:
		seconds = float64(t)
	case uint32:
		seconds = float64(t)
	case uint64:
		seconds = float64(t)
	case string:
		m := ttlPattern.FindStringSubmatch(strings.TrimSpace(t))
		if m == nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTTL, t)
		}
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTTL, t)
		}
		seconds = n * unitSeconds(strings.ToLower(m[2]))
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidTTL, v)
	}
	if seconds < 0 {
		return 0, fmt.Errorf("%w: negative expiry %v", ErrInvalidTTL, v)
	}
	return time.Duration(int64(seconds)) * time.Second, nil
}

func unitSeconds(unit string) float64 {
	switch unit[0] {
	case 'm':
		return 60
	case 'h':
		return 3600
	case 'd':
		return 86400
	}
	return 1
}
