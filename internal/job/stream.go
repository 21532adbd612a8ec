package job

import (
	"context"
	"io"
	"strconv"
	"time"

	"github.com/j-angnoe/flux-framework-bundle/internal/shell"
	"github.com/j-angnoe/flux-framework-bundle/internal/sse"
)

// DefaultRetry is the reconnect delay announced to event stream clients.
const DefaultRetry = 2 * time.Second

// StreamSSE writes the job output to w as server-sent events.
//
// Every line becomes a data frame whose id is the position map after the
// line, so a client reconnecting with that id as lastEventID resumes right
// after it. Once the job has finished, an "exitcode" event carries the
// exit code and a "finished" event with data "bye" ends the stream.
func (j *Job) StreamSSE(ctx context.Context, w io.Writer, lastEventID string, opts ...sse.Option) error {
	out := sse.NewWriter(w, opts...)
	if err := out.Retry(DefaultRetry); err != nil {
		return err
	}

	positions := shell.ParsePositions(lastEventID)
	for line, err := range j.Lines(ctx, positions) {
		if err != nil {
			return err
		}
		if err := out.Data(positions.String(), line.String()); err != nil {
			return err
		}
	}

	code := ""
	if c, ok, err := j.ExitCode(); err != nil {
		return err
	} else if ok {
		code = strconv.Itoa(c)
	}
	if err := out.Event("exitcode", "", code); err != nil {
		return err
	}
	return out.Event("finished", positions.String(), "bye")
}
