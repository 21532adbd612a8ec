// Package config provides 12-factor configuration management for the flux
// server and CLI.
//
// Configuration is loaded from environment variables with sensible defaults.
// A YAML or TOML file can be layered on top with LoadFile.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//   - Cache: Pipeline disk cache directory
//   - Job: Background job root, shell, grace period and registry database
//   - Stream: Server-sent event heartbeat, retry and maximum runtime
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s\n", cfg.Server.Addr())
//
// Environment Variables:
//   - PORT, HOST
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - FLUX_CACHE_DIR
//   - FLUX_JOB_ROOT, FLUX_JOB_SHELL, FLUX_JOB_GRACE, FLUX_JOB_DB
//   - FLUX_STREAM_HEARTBEAT, FLUX_STREAM_MAX_RUNTIME, FLUX_STREAM_RETRY
package config
