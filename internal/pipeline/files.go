package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

// sniffSize is how many leading bytes are inspected for content type and
// text encoding.
const sniffSize = 3072

// Cat creates a pipeline over the lines of a file. gzip and zstd files are
// decompressed and non-UTF-8 text is converted to UTF-8. A missing file
// yields nothing unless mustExist is set.
func Cat(path string, mustExist bool, opts ...Option) *Pipeline {
	return New(func(_ context.Context, stats *Stats) Seq {
		return func(yield func(any, error) bool) {
			f, err := os.Open(path)
			if errors.Is(err, fs.ErrNotExist) && !mustExist {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("failed to open %s: %w", path, err))
				return
			}
			r, err := decodeReader(f)
			if err != nil {
				f.Close()
				yield(nil, fmt.Errorf("failed to decode %s: %w", path, err))
				return
			}
			stats.Set("file", path)
			for line, err := range ReadLines(r, stats) {
				if !yield(line, err) || err != nil {
					break
				}
			}
			f.Close()
		}
	}, opts...)
}

// decodeReader unwraps compression and converts the text to UTF-8.
func decodeReader(f *os.File) (io.ReadCloser, error) {
	br := bufio.NewReaderSize(f, sniffSize*2)
	head, _ := br.Peek(sniffSize)
	var r io.Reader = br
	var closer func() error

	switch mt := mimetype.Detect(head); {
	case mt.Is("application/gzip"):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, err
		}
		r, closer = gz, gz.Close
	case mt.Is("application/zstd"):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, err
		}
		r, closer = zr, func() error { zr.Close(); return nil }
	}

	if closer != nil {
		dbr := bufio.NewReaderSize(r, sniffSize*2)
		head, _ = dbr.Peek(sniffSize)
		r = dbr
	}

	if label := detectCharset(head); label != "" {
		cr, err := charset.NewReaderLabel(label, r)
		if err == nil {
			r = cr
		}
	}

	return readCloser{Reader: r, close: closer}, nil
}

// detectCharset returns the charset label when the text is confidently
// something other than UTF-8 or plain ASCII.
func detectCharset(head []byte) string {
	if len(head) == 0 || isASCII(head) {
		return ""
	}
	result, err := chardet.NewTextDetector().DetectBest(head)
	if err != nil || result == nil || result.Confidence < 50 {
		return ""
	}
	label := strings.ToLower(result.Charset)
	if label == "utf-8" {
		return ""
	}
	return label
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 {
			return false
		}
	}
	return true
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r readCloser) Close() error {
	if r.close == nil {
		return nil
	}
	return r.close()
}

// Glob creates a pipeline over the paths matching a doublestar pattern
// ("**" matches across directories), in lexical order.
func Glob(pattern string, opts ...Option) *Pipeline {
	if !doublestar.ValidatePathPattern(pattern) {
		p := Empty(opts...)
		p.fail(fmt.Errorf("%w: bad glob pattern %q", ErrInvalidArgument, pattern))
		return p
	}
	return New(func(context.Context, *Stats) Seq {
		return func(yield func(any, error) bool) {
			matches, err := doublestar.FilepathGlob(pattern)
			if err != nil {
				yield(nil, fmt.Errorf("failed to glob %s: %w", pattern, err))
				return
			}
			sort.Strings(matches)
			for _, m := range matches {
				if !yield(m, nil) {
					return
				}
			}
		}
	}, opts...)
}

// Walk creates a pipeline over every regular file below root, in lexical
// order. The tree is walked in parallel before the first item is yielded.
func Walk(root string, opts ...Option) *Pipeline {
	return New(func(ctx context.Context, _ *Stats) Seq {
		return func(yield func(any, error) bool) {
			var (
				mu    sync.Mutex
				files []string
			)
			conf := fastwalk.Config{Follow: false}
			err := fastwalk.Walk(&conf, root, func(p string, d fs.DirEntry, err error) error {
				if cerr := ctx.Err(); cerr != nil {
					return cerr
				}
				if err != nil || d.IsDir() || !d.Type().IsRegular() {
					return nil
				}
				mu.Lock()
				files = append(files, p)
				mu.Unlock()
				return nil
			})
			if err != nil {
				yield(nil, fmt.Errorf("failed to walk %s: %w", root, err))
				return
			}
			sort.Strings(files)
			for _, f := range files {
				if !yield(f, nil) {
					return
				}
			}
		}
	}, opts...)
}
