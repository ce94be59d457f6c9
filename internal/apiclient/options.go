package apiclient

import (
	"log/slog"
	"net/http"
	"time"
)

// DefaultTimeout bounds every request attempt, including the refresh call.
const DefaultTimeout = 30 * time.Second

// Option configures a Client.
type Option func(*config)

type config struct {
	transport http.RoundTripper
	timeout   time.Duration
	refresher Refresher
	logger    *slog.Logger
	metrics   *Metrics
}

// WithTransport sets the transport used for API and refresh requests.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *config) {
		c.transport = transport
	}
}

// WithTimeout overrides the per-attempt timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.timeout = timeout
	}
}

// WithRefresher replaces the default backend refresher.
func WithRefresher(r Refresher) Option {
	return func(c *config) {
		c.refresher = r
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithMetrics enables request and renewal counters.
func WithMetrics(m *Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}
