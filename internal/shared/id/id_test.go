package id

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsMonotonic(t *testing.T) {
	prev := New()
	for range 1000 {
		next := New()
		require.Positive(t, next.Compare(prev), "%s should sort after %s", next, prev)
		prev = next
	}
}

func TestNewRequestID(t *testing.T) {
	before := time.Now().Truncate(time.Millisecond)
	rid := NewRequestID()
	after := time.Now()

	require.True(t, strings.HasPrefix(rid.String(), RequestPrefix), rid)
	_, err := ulid.ParseStrict(strings.TrimPrefix(rid.String(), RequestPrefix))
	require.NoError(t, err)

	ts, ok := rid.Time()
	require.True(t, ok)
	assert.False(t, ts.Before(before))
	assert.False(t, ts.After(after))
}

func TestRequestIDTime(t *testing.T) {
	tests := []struct {
		name string
		rid  RequestID
	}{
		{"caller supplied", "upstream-42"},
		{"prefix without ulid", "req_nope"},
		{"bare ulid", RequestID(New().String())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := tt.rid.Time()
			assert.False(t, ok)
		})
	}
}

func TestAcceptRequestID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		ok   bool
	}{
		{"plain", "upstream-42", true},
		{"generated", NewRequestID().String(), true},
		{"empty", "", false},
		{"space", "two words", false},
		{"newline", "a\nforged: line", false},
		{"non ascii", "réquest", false},
		{"too long", strings.Repeat("x", maxRequestIDLen+1), false},
		{"at limit", strings.Repeat("x", maxRequestIDLen), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rid, ok := AcceptRequestID(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.in, rid.String())
			} else {
				assert.Empty(t, rid)
			}
		})
	}
}

func TestSuffixConcurrent(t *testing.T) {
	const goroutines, perGoroutine = 20, 100

	var (
		wg   sync.WaitGroup
		lock sync.Mutex
		seen = make(map[string]bool, goroutines*perGoroutine)
	)
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perGoroutine {
				s := Suffix()
				lock.Lock()
				assert.False(t, seen[s], "duplicate suffix %s", s)
				seen[s] = true
				lock.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, goroutines*perGoroutine)
}
