package cache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/j-angnoe/flux-framework-bundle/internal/pipeline"
	"github.com/j-angnoe/flux-framework-bundle/internal/shared/id"
	"github.com/j-angnoe/flux-framework-bundle/internal/shared/utils"
)

// Wrap returns a pipeline that replays p's output from disk while the
// entry is fresh. Otherwise p is run to completion into a new entry, which
// is then replayed, so a miss and a later hit yield the same items. An
// error in p leaves the previous entry intact.
func Wrap(p *pipeline.Pipeline, ttl any, opts ...Option) (*pipeline.Pipeline, error) {
	o := defaultOptions()
	o.caller = callSite(1)
	for _, opt := range opts {
		opt(o)
	}
	return wrap(p, ttl, o)
}

// With returns Wrap as a function for pipeline.Via:
//
//	p.Via(cache.With("1h", cache.WithID("report")))
func With(ttl any, opts ...Option) func(*pipeline.Pipeline) (*pipeline.Pipeline, error) {
	caller := callSite(1)
	return func(p *pipeline.Pipeline) (*pipeline.Pipeline, error) {
		o := defaultOptions()
		o.caller = caller
		for _, opt := range opts {
			opt(o)
		}
		return wrap(p, ttl, o)
	}
}

func wrap(p *pipeline.Pipeline, ttl any, o *options) (*pipeline.Pipeline, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil pipeline", pipeline.ErrInvalidArgument)
	}
	expiry, err := ParseTTL(ttl)
	if err != nil {
		return nil, err
	}
	fp, err := fingerprint(o)
	if err != nil {
		return nil, err
	}
	path := entryPath(o, fp)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	argsJSON, _ := utils.CanonicalJSON(o.args)

	c := &cached{
		upstream: p,
		opts:     o,
		ttl:      expiry,
		path:     path,
		meta: Meta{
			Fingerprint: fp,
			JSONLines:   o.jsonLines,
			Args:        string(argsJSON),
		},
	}
	return p.WithSource(c.source), nil
}

type cached struct {
	upstream *pipeline.Pipeline
	opts     *options
	ttl      time.Duration
	path     string
	meta     Meta
}

func (c *cached) source(ctx context.Context, stats *pipeline.Stats) pipeline.Seq {
	return func(yield func(any, error) bool) {
		if e, ok := c.hit(); ok {
			c.opts.metrics.CacheLookup(true)
			c.opts.logger.Debug("cache hit",
				zap.String("path", c.path),
				zap.Duration("age", e.Age()))
			stats.Set("from_cache", c.path)
			c.replay(e, stats, true, yield)
			return
		}
		c.opts.metrics.CacheLookup(false)
		c.opts.logger.Debug("cache miss", zap.String("path", c.path))

		// The upstream chain is drained before anything is yielded, so that
		// a consumer stopping early still leaves a complete entry, and the
		// items seen on a miss are the stored ones a later hit replays.
		if err := c.fill(ctx, stats); err != nil {
			yield(nil, err)
			return
		}
		e, err := Lookup(c.path, c.ttl)
		if err != nil {
			yield(nil, fmt.Errorf("failed to reopen cache entry: %w", err))
			return
		}
		c.replay(e, stats, false, yield)
	}
}

// hit reports whether a fresh entry can be replayed.
func (c *cached) hit() (Entry, bool) {
	if c.opts.refresh {
		return Entry{}, false
	}
	e, err := Lookup(c.path, c.ttl)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.opts.logger.Warn("cache entry unreadable", zap.String("path", c.path), zap.Error(err))
		}
		return e, false
	}
	return e, e.Fresh()
}

// replay yields the items of a committed entry. Items decoded from a JSON
// lines entry are marked when fromHit is set and marking is enabled.
func (c *cached) replay(e Entry, stats *pipeline.Stats, fromHit bool, yield func(any, error) bool) {
	f, err := os.Open(e.Path)
	if err != nil {
		yield(nil, fmt.Errorf("failed to open cache entry: %w", err))
		return
	}
	defer f.Close()

	var lines pipeline.Seq
	if c.opts.reverse {
		info, err := f.Stat()
		if err != nil {
			yield(nil, fmt.Errorf("failed to stat cache entry: %w", err))
			return
		}
		lines = ReverseLines(f, info.Size(), stats)
	} else {
		lines = pipeline.ReadLines(io.NopCloser(f), stats)
	}

	jsonLines := e.JSONLines || c.opts.jsonLines
	n := 0
	for line, err := range lines {
		if err != nil {
			yield(nil, err)
			return
		}
		n++
		item := line
		if jsonLines {
			text := line.(string)
			if strings.TrimSpace(text) == "" {
				continue
			}
			var v any
			if err := sonic.UnmarshalString(text, &v); err != nil {
				yield(nil, fmt.Errorf("failed to decode cache line %d: %w", n, err))
				return
			}
			item = v
			if m, ok := v.(map[string]any); ok && fromHit && c.opts.markCached {
				m[MarkField] = true
			}
		}
		if !yield(item, nil) {
			return
		}
	}
}

// fill runs the upstream chain to completion, writing each item to a busy
// file that replaces the entry once the chain is exhausted. On error the
// previous entry is left intact.
func (c *cached) fill(ctx context.Context, stats *pipeline.Stats) error {
	seq, err := c.upstream.Open(ctx)
	if err != nil {
		return err
	}

	w, err := newEntryWriter(c.path, c.opts.jsonLines)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			w.abort()
		}
	}()

	for item, err := range seq {
		if err != nil {
			return err
		}
		if err := w.write(item); err != nil {
			return err
		}
	}

	final, err := w.commit()
	if err != nil {
		return err
	}
	committed = true

	c.meta.Created = time.Now()
	c.meta.Items = w.items
	c.meta.JSONLines = w.jsonLines
	if err := writeMeta(c.path, c.meta); err != nil {
		c.opts.logger.Warn("cache meta not written", zap.String("path", c.path), zap.Error(err))
	}
	stats.Set("to_cache", final)
	c.opts.logger.Info("cache written",
		zap.String("path", final),
		zap.Int("items", w.items),
		zap.Bool("jsonlines", w.jsonLines))
	return nil
}

// entryWriter streams items into a busy file next to the entry.
type entryWriter struct {
	path      string
	busy      string
	f         *os.File
	w         *bufio.Writer
	jsonLines bool
	items     int
}

func newEntryWriter(path string, jsonLines bool) (*entryWriter, error) {
	ew := &entryWriter{path: path, jsonLines: jsonLines}
	if err := ew.open(); err != nil {
		return nil, err
	}
	return ew, nil
}

func (ew *entryWriter) open() error {
	busy := fmt.Sprintf("%s.%s.busy", ew.path, id.Suffix())
	f, err := os.Create(busy)
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	ew.busy, ew.f, ew.w = busy, f, bufio.NewWriter(f)
	return nil
}

// needsJSON reports whether item cannot be stored as a plain line.
func needsJSON(item any) bool {
	if !utils.IsScalar(item) {
		return true
	}
	return strings.Contains(strings.TrimRight(utils.Stringify(item), " \t\r\n"), "\n")
}

func (ew *entryWriter) write(item any) error {
	if !ew.jsonLines && needsJSON(item) {
		if err := ew.switchToJSON(); err != nil {
			return err
		}
	}
	var line string
	if ew.jsonLines {
		data, err := sonic.ConfigStd.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to encode cache line: %w", err)
		}
		line = string(data)
	} else {
		line = strings.TrimRight(utils.Stringify(item), " \t\r\n")
		if line == "" {
			return nil
		}
	}
	if _, err := ew.w.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	ew.items++
	return nil
}

// switchToJSON rewrites the plain lines written so far as JSON strings
// into a fresh busy file.
func (ew *entryWriter) switchToJSON() error {
	if err := ew.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush cache file: %w", err)
	}
	old, oldPath := ew.f, ew.busy
	defer func() {
		old.Close()
		os.Remove(oldPath)
	}()
	if _, err := old.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind cache file: %w", err)
	}
	if err := ew.open(); err != nil {
		return err
	}
	ew.jsonLines = true
	r := bufio.NewReader(old)
	for {
		line, err := r.ReadString('\n')
		if line = strings.TrimSuffix(line, "\n"); line != "" {
			data, merr := sonic.ConfigStd.Marshal(line)
			if merr != nil {
				return fmt.Errorf("failed to encode cache line: %w", merr)
			}
			if _, werr := ew.w.Write(append(data, '\n')); werr != nil {
				return fmt.Errorf("failed to write cache file: %w", werr)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to reread cache file: %w", err)
		}
	}
}

// commit syncs the busy file and moves it into place. JSON lines entries
// are stored at "<path>.jsonl" with path as a symlink to them. It returns
// the path of the data file.
func (ew *entryWriter) commit() (string, error) {
	if err := ew.w.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush cache file: %w", err)
	}
	if err := ew.f.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync cache file: %w", err)
	}
	if err := ew.f.Close(); err != nil {
		return "", fmt.Errorf("failed to close cache file: %w", err)
	}

	if !ew.jsonLines {
		if err := os.Rename(ew.busy, ew.path); err != nil {
			return "", fmt.Errorf("failed to commit cache file: %w", err)
		}
		os.Remove(ew.path + ".jsonl")
		return ew.path, nil
	}

	target := ew.path + ".jsonl"
	if err := os.Rename(ew.busy, target); err != nil {
		return "", fmt.Errorf("failed to commit cache file: %w", err)
	}
	link := fmt.Sprintf("%s.%s.link", ew.path, id.Suffix())
	if err := os.Symlink(filepath.Base(target), link); err != nil {
		return "", fmt.Errorf("failed to link cache file: %w", err)
	}
	if err := os.Rename(link, ew.path); err != nil {
		os.Remove(link)
		return "", fmt.Errorf("failed to link cache file: %w", err)
	}
	return target, nil
}

func (ew *entryWriter) abort() {
	ew.f.Close()
	os.Remove(ew.busy)
}

// Reread opens a committed entry as a new pipeline, decoding JSON lines
// entries.
func Reread(path string) *pipeline.Pipeline {
	p := pipeline.Cat(path, true)
	if e, err := Lookup(path, 0); err == nil && e.JSONLines {
		p = p.FromJSONLines()
	}
	return p
}
