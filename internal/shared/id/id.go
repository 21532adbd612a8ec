// Package id issues ULIDs for request IDs and temp file suffixes.
//
// ULIDs sort by creation time, so request IDs in logs and leftover temp
// files in a cache directory line up chronologically.
package id

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// RequestPrefix marks generated request IDs.
const RequestPrefix = "req_"

// maxRequestIDLen bounds request IDs taken from callers.
const maxRequestIDLen = 128

// RequestID identifies an API request.
type RequestID string

func (r RequestID) String() string { return string(r) }

// Time returns the creation time of a generated request ID. ok is false
// for IDs supplied by callers.
func (r RequestID) Time() (t time.Time, ok bool) {
	raw, found := strings.CutPrefix(string(r), RequestPrefix)
	if !found {
		return time.Time{}, false
	}
	u, err := ulid.ParseStrict(raw)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()), true
}

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a ULID that sorts after every earlier one from this process.
func New() ulid.ULID {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Now(), entropy)
}

// NewRequestID generates a request ID.
func NewRequestID() RequestID {
	return RequestID(RequestPrefix + New().String())
}

// AcceptRequestID returns the caller supplied id when it is short and
// printable ASCII, so it can be echoed in headers and logs as is.
func AcceptRequestID(s string) (RequestID, bool) {
	if s == "" || len(s) > maxRequestIDLen {
		return "", false
	}
	for i := 0; i < len(s); i++ {
		if s[i] <= ' ' || s[i] > '~' {
			return "", false
		}
	}
	return RequestID(s), true
}

// Suffix returns a fresh ULID for temp file names such as
// "<entry>.<suffix>.busy".
func Suffix() string {
	return New().String()
}
