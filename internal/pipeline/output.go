package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/j-angnoe/flux-framework-bundle/internal/shared/id"
)

// OutputFile writes the chain to path in the format of Output. The lines
// go to a busy file next to path, which replaces path only once the chain
// is drained without error.
func (p *Pipeline) OutputFile(ctx context.Context, path string) (int, error) {
	if path == "" {
		return 0, fmt.Errorf("%w: output file requires a path", ErrInvalidArgument)
	}
	busy := fmt.Sprintf("%s.%s.busy", path, id.Suffix())
	f, err := os.Create(busy)
	if err != nil {
		return 0, fmt.Errorf("failed to create output file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			f.Close()
			os.Remove(busy)
		}
	}()

	w := bufio.NewWriter(f)
	n, err := p.Output(ctx, w)
	if err != nil {
		return n, err
	}
	if err := w.Flush(); err != nil {
		return n, fmt.Errorf("failed to write output file: %w", err)
	}
	if err := f.Close(); err != nil {
		return n, fmt.Errorf("failed to close output file: %w", err)
	}
	if err := os.Rename(busy, path); err != nil {
		return n, fmt.Errorf("failed to commit output file: %w", err)
	}
	committed = true
	p.stats.Set("output_file", path)
	return n, nil
}

// OutputIfNotExists runs OutputFile unless path already exists. written
// reports whether the chain ran.
func (p *Pipeline) OutputIfNotExists(ctx context.Context, path string) (n int, written bool, err error) {
	return p.OutputIfOlder(ctx, path, 0)
}

// OutputIfOlder runs OutputFile unless path was modified less than maxAge
// ago. A zero maxAge only skips when path exists at all.
func (p *Pipeline) OutputIfOlder(ctx context.Context, path string, maxAge time.Duration) (n int, written bool, err error) {
	if maxAge < 0 {
		return 0, false, fmt.Errorf("%w: negative age %s", ErrInvalidArgument, maxAge)
	}
	info, err := os.Stat(path)
	switch {
	case err == nil:
		if maxAge == 0 || time.Since(info.ModTime()) < maxAge {
			p.logger.Debug("output file is recent, skipping")
			return 0, false, nil
		}
	case !errors.Is(err, fs.ErrNotExist):
		return 0, false, fmt.Errorf("failed to stat output file: %w", err)
	}
	n, err = p.OutputFile(ctx, path)
	return n, err == nil, err
}

// Tee writes every item to path as it passes, in the format of Output, and
// yields it unchanged. The file holds what was consumed so far and is
// closed when iteration ends.
func (p *Pipeline) Tee(path string) *Pipeline {
	if path == "" {
		return p.invalid("tee requires a path")
	}
	return p.Then(func(_ context.Context, in Seq) Seq {
		return func(yield func(any, error) bool) {
			if dir := filepath.Dir(path); dir != "" {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					yield(nil, fmt.Errorf("failed to create tee directory: %w", err))
					return
				}
			}
			f, err := os.Create(path)
			if err != nil {
				yield(nil, fmt.Errorf("failed to create tee file: %w", err))
				return
			}
			w := bufio.NewWriter(f)
			defer func() {
				w.Flush()
				f.Close()
			}()

			for item, err := range in {
				if err != nil {
					yield(nil, err)
					return
				}
				line, err := outputLine(item)
				if err == nil {
					_, err = w.WriteString(line)
				}
				if err != nil {
					yield(nil, fmt.Errorf("failed to write tee file: %w", err))
					return
				}
				if !yield(item, nil) {
					return
				}
			}
			if err := w.Flush(); err != nil {
				yield(nil, fmt.Errorf("failed to write tee file: %w", err))
			}
		}
	})
}
