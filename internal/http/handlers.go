package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/j-angnoe/flux-framework-bundle/internal/job"
	"github.com/j-angnoe/flux-framework-bundle/internal/monitoring"
	"github.com/j-angnoe/flux-framework-bundle/internal/pipeline"
	"github.com/j-angnoe/flux-framework-bundle/internal/shared/utils"
	"github.com/j-angnoe/flux-framework-bundle/internal/sse"
	"github.com/j-angnoe/flux-framework-bundle/internal/stream"
	"github.com/j-angnoe/flux-framework-bundle/internal/tracing"
)

// Version is reported by the root endpoint.
const Version = "0.3.0"

// maxStreamJobs bounds the jobs one /stream request may follow.
const maxStreamJobs = 32

// StreamConfig tunes the multi-job event stream.
type StreamConfig struct {
	Heartbeat  time.Duration
	Retry      time.Duration
	MaxRuntime time.Duration
}

// Handlers contains all HTTP handlers
type Handlers struct {
	jobs    *job.Manager
	metrics *monitoring.Metrics
	stream  StreamConfig
	logger  *zap.Logger
}

// NewHandlers creates a new handler set. metrics may be nil.
func NewHandlers(jobs *job.Manager, metrics *monitoring.Metrics, streamCfg StreamConfig, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if streamCfg.MaxRuntime <= 0 {
		streamCfg.MaxRuntime = 10 * time.Minute
	}
	return &Handlers{jobs: jobs, metrics: metrics, stream: streamCfg, logger: logger}
}

func (h *Handlers) sseOptions() []sse.Option {
	if h.metrics == nil {
		return nil
	}
	return []sse.Option{sse.WithMetrics(h.metrics)}
}

// Root reports the service name and version.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "flux",
		"version": Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	resp := gin.H{
		"status": "healthy",
		"jobs": gin.H{
			"root":     h.jobs.Root(),
			"registry": h.jobs.Registry() != nil,
		},
	}
	if h.metrics != nil {
		resp["metrics"] = h.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, resp)
}

// CreateJob starts a background job from a job.Spec body.
func (h *Handlers) CreateJob(c *gin.Context) {
	var spec job.Spec
	if !bindJSON(c, &spec) {
		return
	}

	ctx, span := tracing.Start(c.Request.Context(), "job.start",
		attribute.String("job.command", spec.Command))
	defer span.End()

	j, err := h.jobs.Start(ctx, spec)
	if err != nil {
		tracing.RecordError(span, err)
		respondError(c, err)
		return
	}
	span.SetAttributes(attribute.String("job.token", j.Token().String()))
	c.JSON(http.StatusCreated, gin.H{
		"token":  j.Token(),
		"stream": "/jobs/" + j.Token().String() + "/stream",
	})
}

// ListJobs lists known jobs, newest first.
func (h *Handlers) ListJobs(c *gin.Context) {
	records, err := h.jobs.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if records == nil {
		records = []job.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": records})
}

// GetJob reports the live status of a job.
func (h *Handlers) GetJob(c *gin.Context) {
	j, err := h.jobs.Open(c.Param("token"))
	if err != nil {
		respondError(c, err)
		return
	}
	status, err := j.Status()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// StopJob kills a running job.
func (h *Handlers) StopJob(c *gin.Context) {
	j, err := h.jobs.Open(c.Param("token"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := j.Stop(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": j.Token(), "stopped": true})
}

// StreamJob sends the job output as server-sent events. Clients resume
// through the Last-Event-ID header.
func (h *Handlers) StreamJob(c *gin.Context) {
	j, err := h.jobs.Open(c.Param("token"))
	if err != nil {
		respondError(c, err)
		return
	}

	sse.SetHeaders(c.Writer.Header())
	c.Status(http.StatusOK)
	if err := j.StreamSSE(c.Request.Context(), c.Writer, c.GetHeader("Last-Event-ID"), h.sseOptions()...); err != nil {
		h.logStreamEnd(j.Token().String(), err)
	}
}

// StreamJobs follows several jobs on one event stream. The jobs query
// parameter lists tokens separated by commas; the event id carries one
// position per job.
func (h *Handlers) StreamJobs(c *gin.Context) {
	tokens := splitTokens(c.Query("jobs"))
	if len(tokens) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "jobs parameter is required"})
		return
	}
	if len(tokens) > maxStreamJobs {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many jobs"})
		return
	}

	opts := []stream.Option{
		stream.WithHeartbeat(h.stream.Heartbeat),
		stream.WithRetry(h.stream.Retry),
		stream.WithLogger(h.logger),
	}
	if h.metrics != nil {
		opts = append(opts, stream.WithMetrics(h.metrics))
	}
	scheduler := stream.NewScheduler(c.Writer, opts...)

	offsets := stream.ParseOffsets(c.GetHeader("Last-Event-ID"))
	for i, token := range tokens {
		j, err := h.jobs.Open(token)
		if err != nil {
			respondError(c, err)
			return
		}
		src := stream.NewJobSource(j, stream.WithChannel("job-"+j.Token().String()))
		scheduler.Add(src, offsets[i])
	}

	sse.SetHeaders(c.Writer.Header())
	c.Status(http.StatusOK)
	if err := scheduler.Run(c.Request.Context(), h.stream.MaxRuntime); err != nil {
		h.logStreamEnd(strings.Join(tokens, ","), err)
	}
}

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Query string `json:"query"`
	Items []any  `json:"items"`
	Limit int    `json:"limit"`
}

// Search filters the posted items with a quicksearch query.
func (h *Handlers) Search(c *gin.Context) {
	var req SearchRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := utils.ValidateQuery(req.Query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p := pipeline.FromSlice(req.Items, pipeline.WithLogger(h.logger)).QuickSearch(req.Query)
	if req.Limit > 0 {
		p = p.Head(req.Limit)
	}
	items, err := p.ToSlice(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if items == nil {
		items = []any{}
	}
	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"count": len(items),
	})
}

// logStreamEnd logs why an event stream ended early. Headers are already
// sent at that point, so nothing is written to the client.
func (h *Handlers) logStreamEnd(tokens string, err error) {
	if errors.Is(err, context.Canceled) {
		h.logger.Debug("client left event stream", zap.String("jobs", tokens))
		return
	}
	h.logger.Warn("event stream failed", zap.String("jobs", tokens), zap.Error(err))
}
