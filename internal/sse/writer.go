// Package sse writes server-sent event frames.
package sse

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/sse"
)

// ContentType is the media type of an event stream.
const ContentType = sse.ContentType

// Metrics counts written frames by event name.
type Metrics interface {
	SSEFrame(event string)
}

type nopMetrics struct{}

func (nopMetrics) SSEFrame(string) {}

// Option configures a Writer.
type Option func(*Writer)

// WithMetrics counts frames.
func WithMetrics(m Metrics) Option {
	return func(w *Writer) {
		if m != nil {
			w.metrics = m
		}
	}
}

// WithFlusher flushes through f after every frame, for writers that
// buffer without implementing http.Flusher themselves.
func WithFlusher(f http.Flusher) Option {
	return func(w *Writer) {
		if f != nil {
			w.flusher = f
		}
	}
}

// Writer encodes frames onto an underlying writer and flushes after each
// one when the writer supports it. It is safe for concurrent use.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	metrics Metrics
}

// NewWriter wraps w.
func NewWriter(w io.Writer, opts ...Option) *Writer {
	sw := &Writer{w: w, metrics: nopMetrics{}}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	for _, opt := range opts {
		opt(sw)
	}
	return sw
}

// SetHeaders prepares an HTTP response for streaming.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Event writes a named frame. An empty event name produces a default
// "message" frame and an empty id is omitted. Strings are written as is,
// structs, maps and slices as JSON, anything else formatted.
func (w *Writer) Event(event, id string, data any) error {
	if data == nil {
		data = ""
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := sse.Encode(w.w, sse.Event{Event: event, Id: id, Data: data}); err != nil {
		return fmt.Errorf("failed to write %q frame: %w", eventName(event), err)
	}
	w.metrics.SSEFrame(eventName(event))
	w.flush()
	return nil
}

// Data writes an unnamed frame.
func (w *Writer) Data(id string, data any) error {
	return w.Event("", id, data)
}

// Retry tells the client how long to wait before reconnecting.
func (w *Writer) Retry(d time.Duration) error {
	return w.raw(fmt.Sprintf("retry: %d\n\n", d.Milliseconds()))
}

// Comment writes a comment line, which clients ignore.
func (w *Writer) Comment(text string) error {
	return w.raw(": " + strings.ReplaceAll(text, "\n", " ") + "\n\n")
}

func (w *Writer) raw(s string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := io.WriteString(w.w, s); err != nil {
		return err
	}
	w.flush()
	return nil
}

func (w *Writer) flush() {
	if w.flusher != nil {
		w.flusher.Flush()
	}
}

func eventName(event string) string {
	if event == "" {
		return "message"
	}
	return event
}
