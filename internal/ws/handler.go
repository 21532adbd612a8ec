package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/j-angnoe/flux-framework-bundle/internal/job"
	"github.com/j-angnoe/flux-framework-bundle/internal/shell"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is one frame sent to the client.
type Message struct {
	Type     string `json:"type"`
	Handle   string `json:"handle,omitempty"`
	Text     string `json:"text,omitempty"`
	Position string `json:"position,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Command is a frame sent by the client.
type Command struct {
	Type string `json:"type"`
}

// Metrics counts connections and messages.
type Metrics interface {
	IncWSConnections()
	DecWSConnections()
	RecordWSMessage(direction string)
}

type nopMetrics struct{}

func (nopMetrics) IncWSConnections()      {}
func (nopMetrics) DecWSConnections()      {}
func (nopMetrics) RecordWSMessage(string) {}

// Handler mirrors job output over WebSocket connections.
type Handler struct {
	jobs    *job.Manager
	logger  *zap.Logger
	metrics Metrics
}

// NewHandler creates a new WebSocket handler. metrics may be nil.
func NewHandler(jobs *job.Manager, logger *zap.Logger, metrics Metrics) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Handler{jobs: jobs, logger: logger, metrics: metrics}
}

// HandleJob streams the job named by the :token parameter. The optional
// "from" query parameter resumes after a position map. Clients may send
// {"type":"stop"} to stop the job; the stream then ends with its exit code.
func (h *Handler) HandleJob(c *gin.Context) {
	j, err := h.jobs.Open(c.Param("token"))
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, job.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	readerDone := make(chan struct{})
	go h.readCommands(conn, j, cancel, readerDone)
	defer func() {
		conn.Close()
		<-readerDone
	}()

	logger := h.logger.With(zap.String("token", j.Token().String()))
	if err := h.stream(ctx, conn, j, shell.ParsePositions(c.Query("from"))); err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Warn("websocket stream ended", zap.Error(err))
			h.send(conn, Message{Type: "error", Message: err.Error()})
		}
		return
	}
	logger.Debug("websocket stream finished")
	deadline := time.Now().Add(writeWait)
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), deadline)
}

func (h *Handler) stream(ctx context.Context, conn *websocket.Conn, j *job.Job, positions shell.Positions) error {
	for line, err := range j.Lines(ctx, positions) {
		if err != nil {
			return err
		}
		msg := Message{Type: "line", Handle: line.Handle, Text: line.Text, Position: positions.String()}
		if err := h.send(conn, msg); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := Message{Type: "exit", Position: positions.String()}
	code, ok, err := j.ExitCode()
	if err != nil {
		return err
	}
	if ok {
		msg.ExitCode = &code
	}
	return h.send(conn, msg)
}

// readCommands runs until the connection fails or closes. It cancels the
// stream when the client goes away.
func (h *Handler) readCommands(conn *websocket.Conn, j *job.Job, cancel context.CancelFunc, done chan<- struct{}) {
	defer close(done)
	defer cancel()
	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		h.metrics.RecordWSMessage("in")
		switch cmd.Type {
		case "stop":
			if err := j.Stop(); err != nil && !errors.Is(err, job.ErrNoActiveProcess) {
				h.logger.Warn("failed to stop job", zap.String("token", j.Token().String()), zap.Error(err))
			}
		default:
			h.logger.Debug("ignoring websocket command", zap.String("type", cmd.Type))
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, msg Message) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		return err
	}
	h.metrics.RecordWSMessage("out")
	return nil
}
