package resilience

import (
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// Group hands out one breaker per key, typically a host.
type Group struct {
	settings Settings
	logger   *zap.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewGroup returns a group whose breakers share settings. State changes
// are logged at warn level unless settings observe them already.
func NewGroup(settings Settings, logger *zap.Logger) *Group {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.OnStateChange == nil {
		settings.OnStateChange = func(name string, from, to State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		}
	}
	return &Group{
		settings: settings,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for key, creating it on first use.
func (g *Group) Get(key string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[key]
	if !ok {
		b = New(key, g.settings)
		g.breakers[key] = b
	}
	return b
}

// Transport guards an http.RoundTripper with one breaker per request
// host. Transport errors and 5xx responses count as failures.
type Transport struct {
	Next  http.RoundTripper
	Group *Group
}

// NewTransport wraps next, or http.DefaultTransport when next is nil.
func NewTransport(next http.RoundTripper, group *Group) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Transport{Next: next, Group: group}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	done, err := t.Group.Get(req.URL.Host).Allow()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.URL.Host, err)
	}
	resp, err := t.Next.RoundTrip(req)
	done(err == nil && resp.StatusCode < http.StatusInternalServerError)
	return resp, err
}
