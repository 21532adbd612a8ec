// Package monitoring exposes Prometheus metrics for the flux server.
//
// Collectors register on an injected prometheus.Registerer rather than the
// global default, so every test can build its own registry. A single
// *Metrics is passed to the cache, shell, job and sse packages, which only
// see the narrow interface they need.
//
// Metrics:
//   - flux_http_requests_total, flux_http_request_duration_seconds
//   - flux_cache_lookups_total{result}
//   - flux_shell_runs_total{status}, flux_shell_run_duration_seconds
//   - flux_jobs_detached_total, flux_jobs_stopped_total
//   - flux_sse_frames_total{event}
//   - flux_ws_connections, flux_ws_messages_total{direction}
//   - flux_uptime_seconds
package monitoring
