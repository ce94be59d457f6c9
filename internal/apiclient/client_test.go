package apiclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/florianilch/mindline/internal/apiclient"
	"github.com/florianilch/mindline/internal/credstore"
	"github.com/florianilch/mindline/internal/tokensource"
)

// backend is a scripted server. It counts API and refresh calls separately and
// records the bearer token of every API call.
type backend struct {
	t *testing.T

	// api answers non-refresh requests given the presented bearer token.
	api func(w http.ResponseWriter, r *http.Request, bearer string)
	// refresh answers the refresh endpoint given the presented refresh token.
	refresh func(w http.ResponseWriter, refreshToken string)

	apiCalls     atomic.Int32
	refreshCalls atomic.Int32

	mu      sync.Mutex
	bearers []string
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path == tokensource.RefreshPath {
		b.refreshCalls.Add(1)
		if r.Header.Get("Authorization") != "" {
			b.t.Errorf("refresh call must not carry Authorization, got %q", r.Header.Get("Authorization"))
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			b.t.Errorf("decoding refresh body: %v", err)
		}
		b.refresh(w, body.RefreshToken)
		return
	}

	b.apiCalls.Add(1)
	if got := r.Header.Get("Content-Type"); got != "application/json" {
		b.t.Errorf("expected Content-Type application/json, got %q", got)
	}
	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	b.mu.Lock()
	b.bearers = append(b.bearers, bearer)
	b.mu.Unlock()
	b.api(w, r, bearer)
}

func (b *backend) presented() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.bearers...)
}

func grantRefresh(token, refreshToken string) func(http.ResponseWriter, string) {
	return func(w http.ResponseWriter, _ string) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]string{"token": token, "refreshToken": refreshToken},
		})
	}
}

func rejectRefresh(w http.ResponseWriter, _ string) {
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = io.WriteString(w, `{"success":false,"message":"invalid refresh token"}`)
}

// acceptOnly returns 200 with body for validToken and 401 otherwise.
func acceptOnly(validToken, body string) func(http.ResponseWriter, *http.Request, string) {
	return func(w http.ResponseWriter, _ *http.Request, bearer string) {
		if bearer != validToken {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"success":false,"message":"token expired"}`)
			return
		}
		_, _ = io.WriteString(w, body)
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newClient(t *testing.T, b *backend, store credstore.Store, opts ...apiclient.Option) *apiclient.Client {
	t.Helper()
	b.t = t
	server := httptest.NewServer(b)
	t.Cleanup(server.Close)

	opts = append([]apiclient.Option{apiclient.WithLogger(quietLogger())}, opts...)
	client, err := apiclient.New(server.URL, store, opts...)
	require.NoError(t, err)
	return client
}

func seededStore(t *testing.T, access, refresh string) *credstore.MemoryStore {
	t.Helper()
	store := credstore.NewMemoryStore()
	ctx := context.Background()
	if access != "" {
		require.NoError(t, store.SetAccessToken(ctx, access))
	}
	if refresh != "" {
		require.NoError(t, store.SetRefreshToken(ctx, refresh))
	}
	return store
}

func storedTokens(t *testing.T, store credstore.Store) (string, string) {
	t.Helper()
	ctx := context.Background()
	access, err := store.AccessToken(ctx)
	if err != nil {
		require.ErrorIs(t, err, credstore.ErrNotFound)
	}
	refresh, err := store.RefreshToken(ctx)
	if err != nil {
		require.ErrorIs(t, err, credstore.ErrNotFound)
	}
	return access, refresh
}

func TestClient_RenewsExpiredSession(t *testing.T) {
	const body = `{"success":true,"data":[{"id":"psy-1","name":"Dr. Ada"}]}`
	b := &backend{
		api:     acceptOnly("fresh-B", body),
		refresh: grantRefresh("fresh-B", "valid-R2"),
	}
	store := seededStore(t, "expired-A", "valid-R")
	client := newClient(t, b, store)

	got, err := client.Request(context.Background(), http.MethodGet, "/psychologists", nil, nil)
	require.NoError(t, err)

	assert.JSONEq(t, body, string(got))
	assert.Equal(t, int32(1), b.refreshCalls.Load(), "exactly one refresh call")
	assert.Equal(t, int32(2), b.apiCalls.Load(), "original request plus exactly one retry")
	assert.Equal(t, []string{"expired-A", "fresh-B"}, b.presented())

	access, refresh := storedTokens(t, store)
	assert.Equal(t, "fresh-B", access)
	assert.Equal(t, "valid-R2", refresh)
}

func TestClient_NoRefreshToken(t *testing.T) {
	b := &backend{
		api:     acceptOnly("never", ""),
		refresh: grantRefresh("unused", "unused"),
	}
	store := seededStore(t, "expired-A", "")
	client := newClient(t, b, store)

	_, err := client.Request(context.Background(), http.MethodGet, "/psychologists", nil, nil)
	require.ErrorIs(t, err, apiclient.ErrUnauthenticated)

	assert.Zero(t, b.refreshCalls.Load(), "no refresh without a refresh token")
	assert.Equal(t, int32(1), b.apiCalls.Load(), "no calls beyond the original")

	access, refresh := storedTokens(t, store)
	assert.Empty(t, access, "credentials cleared")
	assert.Empty(t, refresh)
}

func TestClient_RefreshRejected(t *testing.T) {
	b := &backend{
		api:     acceptOnly("never", ""),
		refresh: rejectRefresh,
	}
	store := seededStore(t, "expired-A", "revoked-R")
	client := newClient(t, b, store)

	_, err := client.Request(context.Background(), http.MethodGet, "/chat/conversations", nil, nil)
	require.ErrorIs(t, err, apiclient.ErrUnauthenticated)

	var statusErr *apiclient.StatusError
	require.True(t, errors.As(err, &statusErr), "refresh error is reachable: %v", err)
	assert.Equal(t, http.StatusUnauthorized, statusErr.Code)
	assert.Contains(t, string(statusErr.Body), "invalid refresh token")

	assert.Equal(t, int32(1), b.refreshCalls.Load())
	assert.Equal(t, int32(1), b.apiCalls.Load(), "original request is not replayed")

	access, refresh := storedTokens(t, store)
	assert.Empty(t, access)
	assert.Empty(t, refresh)
}

func TestClient_RefreshReportsFailureInEnvelope(t *testing.T) {
	b := &backend{
		api: acceptOnly("never", ""),
		refresh: func(w http.ResponseWriter, _ string) {
			_, _ = io.WriteString(w, `{"success":false,"message":"session revoked"}`)
		},
	}
	store := seededStore(t, "expired-A", "R")
	client := newClient(t, b, store)

	_, err := client.Request(context.Background(), http.MethodGet, "/users/me", nil, nil)
	require.ErrorIs(t, err, apiclient.ErrUnauthenticated)

	access, refresh := storedTokens(t, store)
	assert.Empty(t, access)
	assert.Empty(t, refresh)
}

func TestClient_SecondUnauthorizedIsPassedThrough(t *testing.T) {
	b := &backend{
		// Every API call is rejected, even with the renewed token.
		api:     acceptOnly("never", ""),
		refresh: grantRefresh("fresh-B", "valid-R2"),
	}
	store := seededStore(t, "expired-A", "valid-R")
	client := newClient(t, b, store)

	_, err := client.Request(context.Background(), http.MethodGet, "/invites", nil, nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, apiclient.ErrUnauthenticated))

	var statusErr *apiclient.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.Code)

	assert.Equal(t, int32(1), b.refreshCalls.Load(), "no second refresh cycle")
	assert.Equal(t, int32(2), b.apiCalls.Load())

	// The renewed pair stays stored; only a failed renewal clears credentials.
	access, refresh := storedTokens(t, store)
	assert.Equal(t, "fresh-B", access)
	assert.Equal(t, "valid-R2", refresh)
}

func TestClient_NonUnauthorizedStatusIsNotRetried(t *testing.T) {
	for _, code := range []int{
		http.StatusBadRequest,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusInternalServerError,
		http.StatusServiceUnavailable,
	} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			b := &backend{
				api: func(w http.ResponseWriter, _ *http.Request, _ string) {
					w.WriteHeader(code)
					_, _ = io.WriteString(w, `{"success":false,"message":"nope"}`)
				},
				refresh: grantRefresh("unused", "unused"),
			}
			store := seededStore(t, "A", "R")
			client := newClient(t, b, store)

			_, err := client.Request(context.Background(), http.MethodPost, "/support/tickets", map[string]string{"subject": "help"}, nil)

			var statusErr *apiclient.StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, code, statusErr.Code)
			assert.JSONEq(t, `{"success":false,"message":"nope"}`, string(statusErr.Body))
			assert.Equal(t, int32(1), b.apiCalls.Load(), "exactly one HTTP call")
			assert.Zero(t, b.refreshCalls.Load())

			access, _ := storedTokens(t, store)
			assert.Equal(t, "A", access, "credentials untouched")
		})
	}
}

func TestClient_AttachesBearerAndBody(t *testing.T) {
	var gotBody map[string]any
	var gotHeader string
	b := &backend{
		api: func(w http.ResponseWriter, r *http.Request, _ string) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/chat/conversations/c-1/messages", r.URL.Path)
			gotHeader = r.Header.Get("X-Client-Platform")
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			_, _ = io.WriteString(w, `{"success":true,"data":{}}`)
		},
		refresh: grantRefresh("unused", "unused"),
	}
	client := newClient(t, b, seededStore(t, "A", "R"))

	header := http.Header{}
	header.Set("X-Client-Platform", "cli")
	header.Set("Authorization", "Bearer spoofed")
	_, err := client.Request(context.Background(), http.MethodPost, "/chat/conversations/c-1/messages",
		map[string]string{"content": "hello"}, header)
	require.NoError(t, err)

	assert.Equal(t, []string{"A"}, b.presented(), "Authorization is managed by the client")
	assert.Equal(t, "cli", gotHeader)
	assert.Equal(t, map[string]any{"content": "hello"}, gotBody)
}

func TestClient_AnonymousRequest(t *testing.T) {
	b := &backend{
		api: func(w http.ResponseWriter, r *http.Request, bearer string) {
			if r.URL.Path == "/auth/login" {
				assert.Empty(t, bearer, "stored session token withheld")
				_, _ = io.WriteString(w, `{"success":true,"data":{"token":"T","refreshToken":"R"}}`)
				return
			}
			assert.Equal(t, "A", bearer)
			_, _ = io.WriteString(w, `{"success":true,"data":null}`)
		},
		refresh: grantRefresh("unused", "unused"),
	}
	store := seededStore(t, "A", "R")
	client := newClient(t, b, store)

	ctx := apiclient.Anonymous(context.Background())
	_, err := client.Request(ctx, http.MethodPost, "/auth/login", json.RawMessage(`{"email":"a@b.c"}`), nil)
	require.NoError(t, err)

	// The same client still authenticates unmarked requests.
	_, err = client.Request(context.Background(), http.MethodGet, "/users/me", nil, nil)
	require.NoError(t, err)
	assert.Zero(t, b.refreshCalls.Load())
	assert.Equal(t, int32(2), b.apiCalls.Load())
}

func TestClient_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	store := seededStore(t, "A", "R")
	client, err := apiclient.New(baseURL, store, apiclient.WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = client.Request(context.Background(), http.MethodGet, "/psychologists", nil, nil)

	var netErr *apiclient.NetworkError
	require.True(t, errors.As(err, &netErr), "got %T: %v", err, err)
	assert.Equal(t, "/psychologists", netErr.Path)

	access, _ := storedTokens(t, store)
	assert.Equal(t, "A", access, "network failures never touch credentials")
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	b := &backend{
		api: func(w http.ResponseWriter, r *http.Request, _ string) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		},
		refresh: grantRefresh("unused", "unused"),
	}
	client := newClient(t, b, seededStore(t, "A", "R"), apiclient.WithTimeout(50*time.Millisecond))
	t.Cleanup(func() { close(release) })

	_, err := client.Request(context.Background(), http.MethodGet, "/psychologists", nil, nil)

	var netErr *apiclient.NetworkError
	require.True(t, errors.As(err, &netErr), "got %T: %v", err, err)
	assert.True(t, netErr.Timeout())
	assert.Equal(t, int32(1), b.apiCalls.Load())
}

func TestClient_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	const workers = 8

	// Hold the refresh until every worker has received its 401, so all of them
	// reach the renewal step while it is still in flight.
	var unauthorized sync.WaitGroup
	unauthorized.Add(workers)
	b := &backend{
		api: func(w http.ResponseWriter, r *http.Request, bearer string) {
			if bearer == "fresh-B" {
				_, _ = io.WriteString(w, `{"success":true,"data":[]}`)
				return
			}
			w.WriteHeader(http.StatusUnauthorized)
			unauthorized.Done()
		},
	}
	b.refresh = func(w http.ResponseWriter, refreshToken string) {
		unauthorized.Wait()
		if refreshToken != "valid-R" {
			rejectRefresh(w, refreshToken)
			return
		}
		grantRefresh("fresh-B", "valid-R2")(w, refreshToken)
	}

	store := seededStore(t, "expired-A", "valid-R")
	client := newClient(t, b, store)

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Request(context.Background(), http.MethodGet, "/psychologists", nil, nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), b.refreshCalls.Load(), "concurrent renewals are coalesced")
	assert.Equal(t, int32(2*workers), b.apiCalls.Load())
}

func TestClient_ReplaysWithTokenRenewedElsewhere(t *testing.T) {
	store := seededStore(t, "expired-A", "valid-R")
	b := &backend{
		refresh: grantRefresh("unexpected", "unexpected"),
	}
	b.api = func(w http.ResponseWriter, _ *http.Request, bearer string) {
		if bearer == "expired-A" {
			// A concurrent caller rotates the session while this request is in flight.
			require.NoError(t, credstore.SavePair(context.Background(), store, "fresh-B", "valid-R2"))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"success":true,"data":null}`)
	}
	client := newClient(t, b, store)

	_, err := client.Request(context.Background(), http.MethodGet, "/users/me", nil, nil)
	require.NoError(t, err)

	assert.Zero(t, b.refreshCalls.Load(), "rotated refresh token is not redeemed twice")
	assert.Equal(t, []string{"expired-A", "fresh-B"}, b.presented())
}

type stubRefresher struct {
	calls atomic.Int32
	err   error
}

func (s *stubRefresher) Refresh(context.Context, string) (*oauth2.Token, error) {
	s.calls.Add(1)
	return nil, s.err
}

func TestClient_CustomRefresherNetworkFailure(t *testing.T) {
	refresher := &stubRefresher{err: errors.New("connection reset")}
	b := &backend{api: acceptOnly("never", "")}
	store := seededStore(t, "expired-A", "R")
	client := newClient(t, b, store, apiclient.WithRefresher(refresher))

	_, err := client.Request(context.Background(), http.MethodGet, "/users/me", nil, nil)
	require.ErrorIs(t, err, apiclient.ErrUnauthenticated)

	var netErr *apiclient.NetworkError
	assert.True(t, errors.As(err, &netErr))
	assert.Equal(t, int32(1), refresher.calls.Load())

	access, refresh := storedTokens(t, store)
	assert.Empty(t, access)
	assert.Empty(t, refresh)
}

func TestClient_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := apiclient.NewMetrics(reg)

	b := &backend{
		api:     acceptOnly("fresh-B", `{"success":true}`),
		refresh: grantRefresh("fresh-B", "valid-R2"),
	}
	client := newClient(t, b, seededStore(t, "expired-A", "valid-R"), apiclient.WithMetrics(metrics))

	_, err := client.Request(context.Background(), http.MethodGet, "/psychologists", nil, nil)
	require.NoError(t, err)

	expected := `
# HELP mindline_apiclient_session_renewals_total Session renewal attempts by outcome.
# TYPE mindline_apiclient_session_renewals_total counter
mindline_apiclient_session_renewals_total{outcome="renewed"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "mindline_apiclient_session_renewals_total"))
	assert.Equal(t, 2, testutil.CollectAndCount(reg, "mindline_apiclient_requests_total"))
}

func TestNew_Validation(t *testing.T) {
	store := credstore.NewMemoryStore()

	_, err := apiclient.New("ftp://example.com", store)
	assert.Error(t, err)

	_, err = apiclient.New("://bad", store)
	assert.Error(t, err)

	_, err = apiclient.New("https://api.example.com", nil)
	assert.Error(t, err)
}

func TestClient_AnonymousUnauthorizedIsPassedThrough(t *testing.T) {
	b := &backend{
		api: func(w http.ResponseWriter, r *http.Request, bearer string) {
			assert.Empty(t, bearer, "anonymous requests carry no session token")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"success":false,"message":"invalid email or password"}`)
		},
		refresh: grantRefresh("unused", "unused"),
	}
	store := seededStore(t, "A", "R")
	client := newClient(t, b, store)

	_, err := client.Request(apiclient.Anonymous(context.Background()), http.MethodPost, "/auth/login", map[string]string{"email": "x"}, nil)

	var statusErr *apiclient.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.Code)
	assert.False(t, errors.Is(err, apiclient.ErrUnauthenticated))
	assert.Zero(t, b.refreshCalls.Load())

	access, refresh := storedTokens(t, store)
	assert.Equal(t, "A", access, "existing session untouched")
	assert.Equal(t, "R", refresh)
}
