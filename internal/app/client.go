package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/florianilch/mindline/internal/apiclient"
	"github.com/florianilch/mindline/internal/chat"
	"github.com/florianilch/mindline/internal/credstore"
	"github.com/florianilch/mindline/internal/resources"
)

// Client is the wired client stack used by CLI commands.
type Client struct {
	Store     credstore.Store
	API       *apiclient.Client
	Resources *resources.Service
	// PollInterval is the refresh interval for watched conversations.
	PollInterval time.Duration
	// Metrics holds the client's request and renewal counters.
	Metrics *prometheus.Registry

	metricsFile string
}

// NewClient builds the credential store, authenticated HTTP client and resource
// service described by cfg. No I/O is performed until the first call.
func NewClient(cfg *Config, opts ...apiclient.Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := cfg.Auth.NewStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create credential store: %w", err)
	}

	logger := slog.Default()
	registry := prometheus.NewRegistry()
	opts = append([]apiclient.Option{
		apiclient.WithTimeout(cfg.API.Timeout),
		apiclient.WithLogger(logger),
		apiclient.WithMetrics(apiclient.NewMetrics(registry)),
	}, opts...)

	api, err := apiclient.New(cfg.API.BaseURL, store, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}

	return &Client{
		Store:        store,
		API:          api,
		Resources:    resources.New(api, store, logger),
		PollInterval: cfg.Chat.PollInterval,
		Metrics:      registry,
		metricsFile:  cfg.API.MetricsFile,
	}, nil
}

// Conversation opens a chat view of the conversation with the given ID.
func (c *Client) Conversation(id string) *chat.Conversation {
	return chat.New(c.Resources, id, chat.WithLogger(slog.Default()))
}

// Close writes the metrics file, if configured, and releases resources held by the
// credential store.
func (c *Client) Close() error {
	var errs []error
	if c.metricsFile != "" {
		if err := prometheus.WriteToTextfile(c.metricsFile, c.Metrics); err != nil {
			errs = append(errs, fmt.Errorf("failed to write metrics: %w", err))
		}
	}
	if closer, ok := c.Store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
