package sse

import (
	"bytes"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingMetrics map[string]int

func (m countingMetrics) SSEFrame(event string) { m[event]++ }

func TestWriterFrames(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *Writer) error
		want  string
	}{
		{"data with id", func(w *Writer) error { return w.Data("stdout:2", "hi") }, "id:stdout:2\ndata:hi\n\n"},
		{"named event", func(w *Writer) error { return w.Event("finished", "", "bye") }, "event:finished\ndata:bye\n\n"},
		{"multi line data", func(w *Writer) error { return w.Data("", "a\nb") }, "data:a\ndata:b\n\n"},
		{"nil data", func(w *Writer) error { return w.Event("tick", "", nil) }, "event:tick\ndata:\n\n"},
		{"json data", func(w *Writer) error { return w.Data("", map[string]int{"n": 1}) }, "data:{\"n\":1}\n\n"},
		{"number data", func(w *Writer) error { return w.Event("exitcode", "", 3) }, "event:exitcode\ndata:3\n\n"},
		{"retry", func(w *Writer) error { return w.Retry(2 * time.Second) }, "retry: 2000\n\n"},
		{"comment", func(w *Writer) error { return w.Comment("keep\nalive") }, ": keep alive\n\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, tt.write(NewWriter(&buf)))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestWriterFlushesAndCounts(t *testing.T) {
	rec := httptest.NewRecorder()
	metrics := countingMetrics{}
	w := NewWriter(rec, WithMetrics(metrics))
	SetHeaders(rec.Header())

	require.NoError(t, w.Data("", "x"))
	require.NoError(t, w.Event("finished", "", "bye"))

	assert.True(t, rec.Flushed)
	assert.Equal(t, ContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, countingMetrics{"message": 1, "finished": 1}, metrics)
}
