package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Server config
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Rate limit config
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)

	// Domain config
	assert.Equal(t, "/tmp/chain-caches", cfg.Cache.Dir)
	assert.Equal(t, "/tmp/shell-dispatched-commands", cfg.Job.Root)
	assert.Equal(t, "bash", cfg.Job.Shell)
	assert.Equal(t, 100*time.Millisecond, cfg.Job.Grace.Std())
	assert.Equal(t, "/tmp/shell-dispatched-commands/jobs.db", cfg.Job.DBPath())
	assert.Equal(t, 5*time.Second, cfg.Stream.Heartbeat.Std())
	assert.Equal(t, 10*time.Minute, cfg.Stream.MaxRuntime.Std())
	assert.Equal(t, 2*time.Second, cfg.Stream.Retry.Std())
	assert.False(t, cfg.Trace.Enabled)
	assert.Equal(t, "fluxd", cfg.Trace.ServiceName)
	assert.Equal(t, 1.0, cfg.Trace.SampleRatio)
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, "/tmp/chain-caches", cfg.Cache.Dir)
	assert.Equal(t, 100*time.Millisecond, cfg.Job.Grace.Std())
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                    "9000",
		"HOST":                    "127.0.0.1",
		"CORS_ORIGINS":            "https://a.example,https://b.example",
		"LOG_LEVEL":               "debug",
		"LOG_DEV":                 "true",
		"RATE_LIMIT_RPS":          "500",
		"RATE_LIMIT_BURST":        "1000",
		"RATE_LIMIT_ENABLED":      "false",
		"FLUX_CACHE_DIR":          "/var/cache/flux",
		"FLUX_JOB_ROOT":           "/var/lib/flux",
		"FLUX_JOB_SHELL":          "sh",
		"FLUX_JOB_GRACE":          "250ms",
		"FLUX_JOB_DB":             "/var/lib/flux.db",
		"FLUX_STREAM_HEARTBEAT":   "10s",
		"FLUX_STREAM_MAX_RUNTIME": "1h",
		"FLUX_STREAM_RETRY":       "500ms",
		"FLUX_TRACE_ENABLED":      "true",
		"FLUX_OTLP_ENDPOINT":      "collector:4317",
		"FLUX_TRACE_SAMPLE_RATIO": "0.25",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 1000, cfg.RateLimit.Burst)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, "/var/cache/flux", cfg.Cache.Dir)
	assert.Equal(t, "/var/lib/flux", cfg.Job.Root)
	assert.Equal(t, "sh", cfg.Job.Shell)
	assert.Equal(t, 250*time.Millisecond, cfg.Job.Grace.Std())
	assert.Equal(t, "/var/lib/flux.db", cfg.Job.DBPath())
	assert.Equal(t, 10*time.Second, cfg.Stream.Heartbeat.Std())
	assert.Equal(t, time.Hour, cfg.Stream.MaxRuntime.Std())
	assert.Equal(t, 500*time.Millisecond, cfg.Stream.Retry.Std())
	assert.True(t, cfg.Trace.Enabled)
	assert.Equal(t, "collector:4317", cfg.Trace.Endpoint)
	assert.Equal(t, 0.25, cfg.Trace.SampleRatio)
}

func TestLoadInvalidDuration(t *testing.T) {
	t.Setenv("FLUX_JOB_GRACE", "soon")

	_, err := Load()
	assert.Error(t, err)

	cfg := LoadOrDefault()
	assert.Equal(t, 100*time.Millisecond, cfg.Job.Grace.Std())
}

func TestJobDBPath(t *testing.T) {
	tests := []struct {
		name string
		job  JobConfig
		want string
	}{
		{"derived from root", JobConfig{Root: "/srv/jobs"}, "/srv/jobs/jobs.db"},
		{"explicit", JobConfig{Root: "/srv/jobs", DB: "/data/registry.db"}, "/data/registry.db"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.job.DBPath())
		})
	}
}

func TestLoadFile(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "yaml",
			file: "flux.yaml",
			content: `server:
  port: "7000"
  host: localhost
stream:
  heartbeat: 1s
  max_runtime: 2m
  retry: 3s
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "localhost:7000", cfg.Server.Addr())
				assert.Equal(t, time.Second, cfg.Stream.Heartbeat.Std())
				assert.Equal(t, 2*time.Minute, cfg.Stream.MaxRuntime.Std())
				assert.Equal(t, 3*time.Second, cfg.Stream.Retry.Std())
				// Sections absent from the file keep their defaults.
				assert.Equal(t, "/tmp/chain-caches", cfg.Cache.Dir)
				assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
			},
		},
		{
			name: "toml",
			file: "flux.toml",
			content: `[job]
root = "/srv/jobs"
grace = "1s"

[cache]
dir = "/srv/cache"
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/srv/jobs", cfg.Job.Root)
				assert.Equal(t, time.Second, cfg.Job.Grace.Std())
				assert.Equal(t, "bash", cfg.Job.Shell)
				assert.Equal(t, "/srv/jobs/jobs.db", cfg.Job.DBPath())
				assert.Equal(t, "/srv/cache", cfg.Cache.Dir)
				assert.Equal(t, "8000", cfg.Server.Port)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			cfg, err := LoadFile(path)
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	ini := filepath.Join(dir, "flux.ini")
	require.NoError(t, os.WriteFile(ini, []byte("port=1"), 0o644))
	_, err = LoadFile(ini)
	assert.ErrorContains(t, err, "unsupported")

	bad := filepath.Join(dir, "flux.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[job]\ngrace = \"later\"\n"), 0o644))
	_, err = LoadFile(bad)
	assert.Error(t, err)
}
