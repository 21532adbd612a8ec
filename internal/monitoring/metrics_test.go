package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/j-angnoe/flux-framework-bundle/internal/cache"
	"github.com/j-angnoe/flux-framework-bundle/internal/job"
	"github.com/j-angnoe/flux-framework-bundle/internal/shell"
	"github.com/j-angnoe/flux-framework-bundle/internal/sse"
)

var (
	_ cache.Metrics = (*Metrics)(nil)
	_ shell.Metrics = (*Metrics)(nil)
	_ job.Metrics   = (*Metrics)(nil)
	_ sse.Metrics   = (*Metrics)(nil)
)

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestDomainMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	m.ShellRun("ok", 20*time.Millisecond)
	m.ShellRun("runtime_exceeded", time.Second)
	m.JobDetached()
	m.JobStopped()
	m.SSEFrame("message")
	m.SSEFrame("finished")

	out := scrape(t, reg)
	for _, line := range []string{
		`flux_cache_lookups_total{result="hit"} 1`,
		`flux_cache_lookups_total{result="miss"} 2`,
		`flux_shell_runs_total{status="runtime_exceeded"} 1`,
		`flux_shell_run_duration_seconds_count 2`,
		`flux_jobs_detached_total 1`,
		`flux_jobs_stopped_total 1`,
		`flux_sse_frames_total{event="finished"} 1`,
	} {
		assert.Contains(t, out, line)
	}

	s := m.Snapshot()
	assert.Equal(t, int64(1), s.JobsDetached)
	assert.Equal(t, int64(2), s.SSEFrames)
}

func TestIsolatedRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	r := gin.New()
	r.Use(Middleware(m))
	r.GET("/jobs/:token", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/metrics", gin.WrapH(Handler(reg)))

	for _, token := range []string{"a", "b"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/"+token, nil))
		require.Equal(t, http.StatusNotFound, w.Code)
	}
	assert.Equal(t, int64(2), m.Snapshot().TotalErrors)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `flux_http_requests_total{method="GET",path="/jobs/:token",status="404"} 2`)
	assert.Contains(t, w.Body.String(), "flux_uptime_seconds")
}
