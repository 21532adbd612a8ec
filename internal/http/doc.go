// Package http provides the HTTP handlers of the flux REST API.
//
// Endpoints:
//   - Health: / and /health
//   - Jobs: POST /jobs, GET /jobs, GET /jobs/:token, DELETE /jobs/:token
//   - Streams: GET /jobs/:token/stream (one job), GET /stream?jobs=a,b (several)
//   - Search: POST /search
//
// Domain errors map to status codes in one place: unknown jobs are 404,
// malformed tokens, specs and queries are 400 and stopping a job that is
// not running is 409.
//
// Example Usage:
//
//	handlers := http.NewHandlers(jobs, metrics, http.StreamConfig{Heartbeat: 5 * time.Second}, logger)
//	router.POST("/jobs", handlers.CreateJob)
//	router.GET("/jobs/:token/stream", handlers.StreamJob)
package http
