package shell

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
	"time"
)

// pollWait bounds how long a single pipe read may wait for data.
const pollWait = time.Millisecond

// Handle is a named output stream that can be read without blocking.
type Handle interface {
	// Name identifies the handle in positions and lines.
	Name() string
	// Offset is the byte position the handle started reading at.
	Offset() int64
	// Read reads whatever is available. It returns 0, nil when nothing is
	// available right now and io.EOF once the stream has ended.
	Read(p []byte) (int, error)
	// EOF reports whether the stream has ended.
	EOF() bool
	Close() error
}

// pipeHandle reads a pollable file with a short read deadline.
type pipeHandle struct {
	name string
	f    *os.File
	eof  bool
	// ttyEOF treats EIO as end of stream, which is what a pty master
	// returns once the child side is closed.
	ttyEOF bool
}

// NewPipeHandle wraps the read end of a pipe. Files that do not support
// read deadlines are read by a background goroutine instead.
func NewPipeHandle(name string, f *os.File) Handle {
	if err := f.SetReadDeadline(time.Time{}); err != nil {
		return NewReaderHandle(name, f)
	}
	return &pipeHandle{name: name, f: f}
}

func newPTYHandle(name string, f *os.File) Handle {
	if err := f.SetReadDeadline(time.Time{}); err != nil {
		return NewReaderHandle(name, eioReader{f})
	}
	return &pipeHandle{name: name, f: f, ttyEOF: true}
}

func (h *pipeHandle) Name() string  { return h.name }
func (h *pipeHandle) Offset() int64 { return 0 }
func (h *pipeHandle) EOF() bool     { return h.eof }
func (h *pipeHandle) Close() error  { return h.f.Close() }

func (h *pipeHandle) Read(p []byte) (int, error) {
	if h.eof {
		return 0, io.EOF
	}
	if err := h.f.SetReadDeadline(time.Now().Add(pollWait)); err != nil {
		return 0, err
	}
	n, err := h.f.Read(p)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		return n, nil
	case errors.Is(err, io.EOF), h.ttyEOF && errors.Is(err, syscall.EIO):
		h.eof = true
		return n, io.EOF
	}
	return n, err
}

// eioReader maps EIO from a pty master to io.EOF.
type eioReader struct {
	f *os.File
}

func (r eioReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	if errors.Is(err, syscall.EIO) {
		err = io.EOF
	}
	return n, err
}

func (r eioReader) Close() error {
	return r.f.Close()
}

// fileHandle follows a file that may still be growing. Reaching the end
// of the file is not the end of the stream.
type fileHandle struct {
	name   string
	f      *os.File
	offset int64
}

// NewFileHandle opens path and positions it at offset. A file that does
// not exist yet is treated as empty.
func NewFileHandle(name, path string, offset int64) (Handle, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return &missingFile{name: name, path: path, offset: offset}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to seek %s to %d: %w", path, offset, err)
		}
	}
	return &fileHandle{name: name, f: f, offset: offset}, nil
}

func (h *fileHandle) Name() string  { return h.name }
func (h *fileHandle) Offset() int64 { return h.offset }
func (h *fileHandle) EOF() bool     { return false }
func (h *fileHandle) Close() error  { return h.f.Close() }

func (h *fileHandle) Read(p []byte) (int, error) {
	n, err := h.f.Read(p)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, err
}

// redirectHandle follows a file a running process writes to. The stream
// ends once the process has exited and the file is read to the end.
type redirectHandle struct {
	Handle
	exited <-chan struct{}
	eof    bool
}

func (h *redirectHandle) EOF() bool { return h.eof }

func (h *redirectHandle) Read(p []byte) (int, error) {
	if h.eof {
		return 0, io.EOF
	}
	// Checked before reading: output written before exit is in the file.
	var done bool
	select {
	case <-h.exited:
		done = true
	default:
	}
	n, err := h.Handle.Read(p)
	if err == nil && n == 0 && done {
		h.eof = true
		return 0, io.EOF
	}
	return n, err
}

// missingFile opens its file once it appears.
type missingFile struct {
	name   string
	path   string
	offset int64
	file   Handle
}

func (h *missingFile) Name() string  { return h.name }
func (h *missingFile) Offset() int64 { return h.offset }
func (h *missingFile) EOF() bool     { return false }

func (h *missingFile) Read(p []byte) (int, error) {
	if h.file == nil {
		if _, err := os.Stat(h.path); err != nil {
			return 0, nil
		}
		f, err := NewFileHandle(h.name, h.path, h.offset)
		if err != nil {
			return 0, err
		}
		if _, still := f.(*missingFile); still {
			return 0, nil
		}
		h.file = f
	}
	return h.file.Read(p)
}

func (h *missingFile) Close() error {
	if h.file == nil {
		return nil
	}
	return h.file.Close()
}

// readerHandle drains a blocking reader on a goroutine and hands out what
// it has buffered.
type readerHandle struct {
	name   string
	r      io.Reader
	chunks chan []byte
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	err    error
	buf    []byte
	eof    bool
}

// NewReaderHandle wraps a blocking reader. The reader is drained by one
// goroutine that exits at EOF, on a read error or when the handle is
// closed; closing also closes r when it is an io.Closer.
func NewReaderHandle(name string, r io.Reader) Handle {
	h := &readerHandle{
		name:   name,
		r:      r,
		chunks: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	go h.pump()
	return h
}

func (h *readerHandle) pump() {
	defer close(h.chunks)
	for {
		buf := make([]byte, readSize)
		n, err := h.r.Read(buf)
		if n > 0 {
			select {
			case h.chunks <- buf[:n]:
			case <-h.done:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.mu.Lock()
				h.err = err
				h.mu.Unlock()
			}
			return
		}
	}
}

func (h *readerHandle) Name() string  { return h.name }
func (h *readerHandle) Offset() int64 { return 0 }
func (h *readerHandle) EOF() bool     { return h.eof }

func (h *readerHandle) Read(p []byte) (int, error) {
	if len(h.buf) == 0 && !h.eof {
		select {
		case chunk, ok := <-h.chunks:
			if !ok {
				h.eof = true
			} else {
				h.buf = chunk
			}
		case <-time.After(pollWait):
		}
	}
	if len(h.buf) > 0 {
		n := copy(p, h.buf)
		h.buf = h.buf[n:]
		return n, nil
	}
	if h.eof {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.err != nil {
			return 0, h.err
		}
		return 0, io.EOF
	}
	return 0, nil
}

func (h *readerHandle) Close() error {
	var err error
	h.once.Do(func() {
		close(h.done)
		if c, ok := h.r.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}
