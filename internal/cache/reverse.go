package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/j-angnoe/flux-framework-bundle/internal/pipeline"
)

// reverseBlockSize is the read size used when scanning a file backwards.
const reverseBlockSize = 8192

// ReverseLines yields the lines of r last to first. size is the number of
// bytes to consider, normally the file size. A trailing newline at the end
// of the data does not produce an empty line.
func ReverseLines(r io.ReaderAt, size int64, stats *pipeline.Stats) pipeline.Seq {
	return func(yield func(any, error) bool) {
		var (
			carry []byte
			pos   = size
			first = true
		)
		for pos > 0 {
			n := int64(reverseBlockSize)
			if pos < n {
				n = pos
			}
			pos -= n
			block := make([]byte, n, n+int64(len(carry)))
			if _, err := r.ReadAt(block, pos); err != nil && err != io.EOF {
				yield(nil, fmt.Errorf("failed to read backwards at %d: %w", pos, err))
				return
			}
			if stats != nil {
				stats.AddRead(n, 0)
			}
			data := append(block, carry...)
			for {
				i := bytes.LastIndexByte(data, '\n')
				if i < 0 {
					break
				}
				line := data[i+1:]
				data = data[:i]
				if first {
					first = false
					if len(line) == 0 {
						continue
					}
				}
				if stats != nil {
					stats.AddRead(0, 1)
				}
				if !yield(string(line), nil) {
					return
				}
			}
			carry = data
		}
		if len(carry) > 0 {
			if stats != nil {
				stats.AddRead(0, 1)
			}
			yield(string(carry), nil)
		}
	}
}

// Tac creates a pipeline over the lines of a file, last line first.
func Tac(path string, opts ...pipeline.Option) *pipeline.Pipeline {
	return pipeline.New(func(_ context.Context, stats *pipeline.Stats) pipeline.Seq {
		return func(yield func(any, error) bool) {
			f, err := os.Open(path)
			if err != nil {
				yield(nil, fmt.Errorf("failed to open %s: %w", path, err))
				return
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				yield(nil, fmt.Errorf("failed to stat %s: %w", path, err))
				return
			}
			stats.Set("file", path)
			for line, err := range ReverseLines(f, info.Size(), stats) {
				if !yield(line, err) || err != nil {
					return
				}
			}
		}
	}, opts...)
}
