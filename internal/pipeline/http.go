package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/j-angnoe/flux-framework-bundle/internal/resilience"
)

// HTTPConfig tunes FromHTTP.
type HTTPConfig struct {
	Timeout  time.Duration
	RetryMax int
	Headers  map[string]string
	// Breakers guards hosts that keep failing after retries. nil uses a
	// process-wide group.
	Breakers *resilience.Group
}

var defaultBreakers = resilience.NewGroup(resilience.Settings{}, nil)

// DefaultHTTPConfig returns the settings used by FromHTTP.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:  30 * time.Second,
		RetryMax: 3,
	}
}

// FromHTTP creates a pipeline over the lines of an HTTP GET response body.
// Transient failures are retried, and a host that keeps failing is skipped
// by a circuit breaker. A non-2xx final status is an error.
func FromHTTP(url string, opts ...Option) *Pipeline {
	return FromHTTPWithConfig(url, DefaultHTTPConfig(), opts...)
}

// FromHTTPWithConfig is FromHTTP with explicit settings.
func FromHTTPWithConfig(url string, cfg HTTPConfig, opts ...Option) *Pipeline {
	return New(func(ctx context.Context, stats *Stats) Seq {
		return func(yield func(any, error) bool) {
			retry := retryablehttp.NewClient()
			retry.RetryMax = cfg.RetryMax
			retry.RetryWaitMin = 100 * time.Millisecond
			retry.RetryWaitMax = 2 * time.Second
			retry.Logger = nil
			retry.HTTPClient.Transport = otelhttp.NewTransport(retry.HTTPClient.Transport)

			breakers := cfg.Breakers
			if breakers == nil {
				breakers = defaultBreakers
			}
			transport := resilience.NewTransport(&retryablehttp.RoundTripper{Client: retry}, breakers)

			client := resty.NewWithClient(&http.Client{Transport: transport}).
				SetTimeout(cfg.Timeout).
				SetHeaders(cfg.Headers)

			resp, err := client.R().
				SetContext(ctx).
				SetDoNotParseResponse(true).
				Get(url)
			if err != nil {
				yield(nil, fmt.Errorf("failed to fetch %s: %w", url, err))
				return
			}
			body := resp.RawBody()
			if resp.IsError() {
				body.Close()
				yield(nil, fmt.Errorf("failed to fetch %s: status %d", url, resp.StatusCode()))
				return
			}
			stats.Set("url", url)
			for line, err := range ReadLines(body, stats) {
				if !yield(line, err) || err != nil {
					return
				}
			}
		}
	}, opts...)
}
