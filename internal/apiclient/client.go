package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/florianilch/mindline/internal/credstore"
	"github.com/florianilch/mindline/internal/tokensource"
)

const tracerName = "github.com/florianilch/mindline/internal/apiclient"

// Refresher redeems a refresh token for a new credential pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// Compile-time check that the backend refresher satisfies Refresher.
var _ Refresher = (*tokensource.Refresher)(nil)

// Client issues authenticated requests against a single base URL.
type Client struct {
	baseURL    *url.URL
	store      credstore.Store
	httpClient *http.Client
	refresher  Refresher
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *Metrics
	tracer     trace.Tracer

	renewals singleflight.Group
}

// New creates a Client for baseURL that reads and persists credentials through store.
func New(baseURL string, store credstore.Store, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", baseURL)
	}
	if store == nil {
		return nil, errors.New("missing credential store")
	}

	cfg := &config{
		transport: http.DefaultTransport,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.refresher == nil {
		cfg.refresher = tokensource.NewRefresher(baseURL,
			tokensource.WithTransport(cfg.transport),
			tokensource.WithTimeout(cfg.timeout),
		)
	}

	parsed.Path = strings.TrimSuffix(parsed.Path, "/")

	return &Client{
		baseURL: parsed,
		store:   store,
		httpClient: &http.Client{
			Transport: cfg.transport,
			// Per-attempt deadline comes from the request context.
		},
		refresher: cfg.refresher,
		timeout:   cfg.timeout,
		logger:    cfg.logger,
		metrics:   cfg.metrics,
		tracer:    otel.Tracer(tracerName),
	}, nil
}

// call is one logical request. It is immutable; retries rebuild the HTTP request from it.
type call struct {
	method string
	path   string
	body   []byte
	header http.Header
}

type anonymousKey struct{}

// Anonymous marks requests made with the returned context as outside the session:
// no bearer token is attached and a 401 is passed through without renewal.
// Used for sign-in routes, where 401 means wrong credentials.
func Anonymous(ctx context.Context) context.Context {
	return context.WithValue(ctx, anonymousKey{}, true)
}

// IsAnonymous reports whether ctx was marked by Anonymous.
func IsAnonymous(ctx context.Context) bool {
	v, _ := ctx.Value(anonymousKey{}).(bool)
	return v
}

// reply is a fully read response.
type reply struct {
	code int
	body []byte
}

// Request sends method to path relative to the base URL and returns the response body
// of a 2xx response.
//
// body may be nil, a []byte or json.RawMessage sent as-is, or any value that is
// JSON-encoded. header adds to the default headers; Authorization is always managed
// by the client.
func (c *Client) Request(ctx context.Context, method, path string, body any, header http.Header) ([]byte, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}

	return c.send(ctx, call{
		method: method,
		path:   path,
		body:   payload,
		header: header,
	}, 0)
}

// send dispatches req with the stored access token. attempt counts renewals already
// performed for this logical request; a 401 only triggers renewal on attempt 0.
func (c *Client) send(ctx context.Context, req call, attempt int) ([]byte, error) {
	anonymous := IsAnonymous(ctx)

	var token string
	if !anonymous {
		var err error
		if token, err = c.accessToken(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := c.dispatch(ctx, req, token, attempt)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.code == http.StatusUnauthorized && attempt == 0 && !anonymous:
		if err := c.renew(ctx, token); err != nil {
			return nil, err
		}
		return c.send(ctx, req, attempt+1)
	case resp.code < 200 || resp.code > 299:
		return nil, &StatusError{Code: resp.code, Body: resp.body}
	default:
		return resp.body, nil
	}
}

// dispatch performs a single HTTP exchange bounded by the client timeout.
func (c *Client) dispatch(ctx context.Context, req call, token string, attempt int) (reply, error) {
	ctx, span := c.tracer.Start(ctx, "HTTP "+req.method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.method),
			attribute.String("url.path", req.path),
			attribute.Int("mindline.attempt", attempt),
		),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := c.newRequest(ctx, req, token)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return reply{}, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.observeRequest(req.method, 0)
		span.SetStatus(codes.Error, err.Error())
		c.logger.DebugContext(ctx, "request failed", "method", req.method, "path", req.path, "attempt", attempt, "error", err)
		return reply{}, &NetworkError{Method: req.method, Path: req.path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.observeRequest(req.method, 0)
		span.SetStatus(codes.Error, err.Error())
		return reply{}, &NetworkError{Method: req.method, Path: req.path, Err: fmt.Errorf("reading response body: %w", err)}
	}

	c.metrics.observeRequest(req.method, resp.StatusCode)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	c.logger.DebugContext(ctx, "request completed",
		"method", req.method,
		"path", req.path,
		"status", resp.StatusCode,
		"attempt", attempt,
	)

	return reply{code: resp.StatusCode, body: body}, nil
}

func (c *Client) newRequest(ctx context.Context, req call, token string) (*http.Request, error) {
	target := c.resolve(req.path)

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	for key, values := range req.header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	httpReq.Header.Del("Authorization")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	return httpReq, nil
}

// resolve joins path (which may carry a query string) onto the base URL.
func (c *Client) resolve(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL.String() + path
}

// accessToken returns the stored access token, or "" when none is stored.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	token, err := c.store.AccessToken(ctx)
	if errors.Is(err, credstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading access token: %w", err)
	}
	return token, nil
}

// encodeBody turns a request body into bytes; nil means no body.
func encodeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		return data, nil
	}
}
