package tokensource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// maxResponseBody bounds how much of a refresh response is read, matching oauth2's own limit.
const maxResponseBody = 1 << 20

// RefresherOption configures a Refresher.
type RefresherOption func(*refresherConfig)

// refresherConfig holds configuration for NewRefresher.
type refresherConfig struct {
	baseTransport http.RoundTripper
	timeout       time.Duration
}

// WithTransport sets a custom base transport for refresh requests.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) RefresherOption {
	return func(c *refresherConfig) {
		c.baseTransport = transport
	}
}

// WithTimeout bounds each refresh request. Defaults to 30 seconds.
func WithTimeout(timeout time.Duration) RefresherOption {
	return func(c *refresherConfig) {
		c.timeout = timeout
	}
}

// RefreshError reports a refresh request the backend rejected.
type RefreshError struct {
	Code int
	Body []byte
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refresh rejected with status %d", e.Code)
}

// Refresher exchanges refresh tokens for new credential pairs.
type Refresher struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// NewRefresher creates a Refresher for the backend at baseURL.
func NewRefresher(baseURL string, opts ...RefresherOption) *Refresher {
	cfg := &refresherConfig{
		baseTransport: http.DefaultTransport,
		timeout:       30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Refresher{
		config: &oauth2.Config{
			// Public client: the backend identifies the session by refresh token alone
			Endpoint: Endpoint(baseURL),
		},
		httpClient: &http.Client{
			Timeout: cfg.timeout,
			Transport: &tokenRefreshTransport{
				base: cfg.baseTransport,
			},
		},
	}
}

// Refresh redeems refreshToken and returns the newly issued pair. If the backend
// does not rotate the refresh token, the returned token carries the old one.
//
// Rejections are reported as *RefreshError; anything else is a transport failure.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, errors.New("refresh token cannot be empty")
	}

	// oauth2 picks up the HTTP client from the context (oauth2.HTTPClient key).
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)

	tok, err := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return nil, &RefreshError{Code: retrieveErr.Response.StatusCode, Body: retrieveErr.Body}
		}
		return nil, fmt.Errorf("redeeming refresh token: %w", err)
	}
	return tok, nil
}

// refreshRequest is the backend's refresh request body.
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// refreshEnvelope is the backend's refresh response body.
type refreshEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    struct {
		Token        string `json:"token"`
		RefreshToken string `json:"refreshToken"`
	} `json:"data"`
}

// standardTokenResponse is the RFC 6749 token response oauth2 expects.
type standardTokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// tokenRefreshTransport converts oauth2's form-encoded refresh requests to the backend's
// JSON body and converts the backend's envelope back to a standard token response.
// The oauth2 package guarantees this transport only receives token endpoint requests.
type tokenRefreshTransport struct {
	base http.RoundTripper
}

// Compile-time check that tokenRefreshTransport implements http.RoundTripper.
var _ http.RoundTripper = (*tokenRefreshTransport)(nil)

// RoundTrip rewrites the request body, forwards it, then rewrites the response body.
func (t *tokenRefreshTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Defer close since we consume the body entirely and create a new body for the cloned request.
	defer func() { _ = req.Body.Close() }()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}

	formData, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("parsing form data: %w", err)
	}

	jsonBody, err := json.Marshal(refreshRequest{RefreshToken: formData.Get("refresh_token")})
	if err != nil {
		return nil, fmt.Errorf("marshaling JSON request: %w", err)
	}

	newReq := req.Clone(req.Context())
	newReq.Body = io.NopCloser(bytes.NewReader(jsonBody))
	newReq.ContentLength = int64(len(jsonBody))
	newReq.Header.Set("Content-Type", "application/json")
	newReq.Header.Set("Accept", "application/json")

	resp, err := t.base.RoundTrip(newReq)
	if err != nil {
		return nil, err
	}
	return rewriteResponse(resp)
}

// rewriteResponse maps the backend envelope onto a standard token response.
// Non-2xx responses pass through with their original body. A 2xx envelope that
// reports failure becomes a 401 so oauth2 surfaces it as a RetrieveError.
func rewriteResponse(resp *http.Response) (*http.Response, error) {
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("reading refresh response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return replaceBody(resp, resp.StatusCode, raw), nil
	}

	var envelope refreshEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return replaceBody(resp, http.StatusBadGateway, raw), nil
	}
	if !envelope.Success || strings.TrimSpace(envelope.Data.Token) == "" {
		return replaceBody(resp, http.StatusUnauthorized, raw), nil
	}

	standard, err := json.Marshal(standardTokenResponse{
		AccessToken:  envelope.Data.Token,
		TokenType:    "Bearer",
		RefreshToken: envelope.Data.RefreshToken,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling token response: %w", err)
	}

	out := replaceBody(resp, http.StatusOK, standard)
	out.Header.Set("Content-Type", "application/json")
	return out, nil
}

func replaceBody(resp *http.Response, status int, body []byte) *http.Response {
	out := *resp
	out.Header = resp.Header.Clone()
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	out.StatusCode = status
	out.Status = fmt.Sprintf("%d %s", status, http.StatusText(status))
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.ContentLength = int64(len(body))
	out.Header.Del("Content-Length")
	return &out
}
