// Package cache materializes pipeline output on disk.
//
// An entry is keyed by a fingerprint of an explicit id (or the call site
// that created it) and its arguments, and is replayed instead of running
// the wrapped chain while it is younger than its TTL:
//
//	p, err := cache.Wrap(pipeline.Cat("big.log", true).Grep("error"), "1h",
//		cache.WithID("errors"), cache.WithArgs(day))
//
// Items are written to "<path>.<ulid>.busy" while they are consumed and the
// busy file is renamed over the entry only after the chain has been drained,
// so readers never observe a partial entry. Scalar items are stored one per
// line; the first compound item switches the entry to JSON lines, stored as
// "<path>.jsonl" behind a symlink at path. A msgpack sidecar records what
// was written. Two writers racing on the same entry both succeed and the
// last rename wins.
package cache
