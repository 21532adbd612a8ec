package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Cache     CacheConfig     `yaml:"cache" toml:"cache"`
	Job       JobConfig       `yaml:"job" toml:"job"`
	Stream    StreamConfig    `yaml:"stream" toml:"stream"`
	Trace     TraceConfig     `yaml:"trace" toml:"trace"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000" yaml:"port" toml:"port"`
	Host string `envconfig:"HOST" default:"0.0.0.0" yaml:"host" toml:"host"`
	// CORSOrigins lists the browser origins allowed to call the API.
	// A single "*" allows any origin without credentials.
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*" yaml:"cors_origins" toml:"cors_origins"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development" toml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" yaml:"rps" toml:"rps"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled" toml:"enabled"`
}

// CacheConfig holds the pipeline disk cache settings.
type CacheConfig struct {
	Dir string `envconfig:"FLUX_CACHE_DIR" default:"/tmp/chain-caches" yaml:"dir" toml:"dir"`
}

// JobConfig holds background job settings.
type JobConfig struct {
	Root  string   `envconfig:"FLUX_JOB_ROOT" default:"/tmp/shell-dispatched-commands" yaml:"root" toml:"root"`
	Shell string   `envconfig:"FLUX_JOB_SHELL" default:"bash" yaml:"shell" toml:"shell"`
	Grace Duration `envconfig:"FLUX_JOB_GRACE" default:"100ms" yaml:"grace" toml:"grace"`
	DB    string   `envconfig:"FLUX_JOB_DB" yaml:"db" toml:"db"`
}

// DBPath returns the registry database path, defaulting to jobs.db under
// the job root.
func (j JobConfig) DBPath() string {
	if j.DB != "" {
		return j.DB
	}
	return filepath.Join(j.Root, "jobs.db")
}

// StreamConfig holds server-sent event stream settings.
type StreamConfig struct {
	Heartbeat  Duration `envconfig:"FLUX_STREAM_HEARTBEAT" default:"5s" yaml:"heartbeat" toml:"heartbeat"`
	MaxRuntime Duration `envconfig:"FLUX_STREAM_MAX_RUNTIME" default:"10m" yaml:"max_runtime" toml:"max_runtime"`
	Retry      Duration `envconfig:"FLUX_STREAM_RETRY" default:"2s" yaml:"retry" toml:"retry"`
}

// TraceConfig holds OpenTelemetry tracing settings. Spans are exported
// over OTLP/gRPC when an endpoint is set.
type TraceConfig struct {
	Enabled     bool    `envconfig:"FLUX_TRACE_ENABLED" default:"false" yaml:"enabled" toml:"enabled"`
	Endpoint    string  `envconfig:"FLUX_OTLP_ENDPOINT" yaml:"endpoint" toml:"endpoint"`
	ServiceName string  `envconfig:"FLUX_TRACE_SERVICE" default:"fluxd" yaml:"service_name" toml:"service_name"`
	SampleRatio float64 `envconfig:"FLUX_TRACE_SAMPLE_RATIO" default:"1" yaml:"sample_ratio" toml:"sample_ratio"`
}

// Duration is a time.Duration that reads as "100ms", "5s" or "10m" from
// the environment and from config files.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadFile loads the environment configuration and overlays the YAML or
// TOML file at path on top of it. Keys missing from the file keep their
// environment value.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("unsupported config file extension %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8000",
			Host:        "0.0.0.0",
			CORSOrigins: []string{"*"},
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Cache: CacheConfig{
			Dir: "/tmp/chain-caches",
		},
		Job: JobConfig{
			Root:  "/tmp/shell-dispatched-commands",
			Shell: "bash",
			Grace: Duration(100 * time.Millisecond),
		},
		Stream: StreamConfig{
			Heartbeat:  Duration(5 * time.Second),
			MaxRuntime: Duration(10 * time.Minute),
			Retry:      Duration(2 * time.Second),
		},
		Trace: TraceConfig{
			ServiceName: "fluxd",
			SampleRatio: 1,
		},
	}
}
