package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/j-angnoe/flux-framework-bundle/internal/shared/id"
)

// Meta is the sidecar record written next to a committed entry.
type Meta struct {
	Fingerprint string    `msgpack:"fingerprint"`
	Created     time.Time `msgpack:"created"`
	Items       int       `msgpack:"items"`
	JSONLines   bool      `msgpack:"jsonlines"`
	Args        string    `msgpack:"args"`
}

// Entry describes an entry on disk.
type Entry struct {
	Fingerprint string
	Path        string
	TTL         time.Duration
	JSONLines   bool
	ModTime     time.Time
}

// Age returns how long ago the entry was written.
func (e Entry) Age() time.Duration {
	return time.Since(e.ModTime)
}

// Fresh reports whether the entry is younger than its TTL.
func (e Entry) Fresh() bool {
	return e.Age() < e.TTL
}

// ReadMeta loads the sidecar of the entry at path.
func ReadMeta(path string) (Meta, error) {
	var m Meta
	data, err := os.ReadFile(metaPath(path))
	if err != nil {
		return m, err
	}
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("failed to decode cache meta: %w", err)
	}
	return m, nil
}

func writeMeta(path string, m Meta) error {
	data, err := msgpack.Marshal(&m)
	if err != nil {
		return fmt.Errorf("failed to encode cache meta: %w", err)
	}
	target := metaPath(path)
	tmp := target + "." + id.Suffix() + ".busy"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache meta: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit cache meta: %w", err)
	}
	return nil
}

// Lookup inspects the entry at path. It returns fs.ErrNotExist when there
// is none. An entry is JSON lines when its path links to a ".jsonl" file
// or its sidecar says so.
func Lookup(path string, ttl time.Duration) (Entry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{
		Path:    path,
		TTL:     ttl,
		ModTime: info.ModTime(),
	}
	if target, err := os.Readlink(path); err == nil && strings.Contains(target, ".jsonl") {
		e.JSONLines = true
	}
	m, err := ReadMeta(path)
	switch {
	case err == nil:
		e.Fingerprint = m.Fingerprint
		e.JSONLines = e.JSONLines || m.JSONLines
	case !errors.Is(err, fs.ErrNotExist):
		return e, err
	}
	return e, nil
}
