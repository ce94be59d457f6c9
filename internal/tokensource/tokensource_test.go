package tokensource_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florianilch/mindline/internal/tokensource"
)

// refreshBackend serves the refresh endpoint with a fixed reply and records what it received.
type refreshBackend struct {
	status   int
	reply    string
	calls    atomic.Int32
	received atomic.Pointer[map[string]any]
}

func (b *refreshBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.calls.Add(1)
	if r.Method != http.MethodPost || r.URL.Path != tokensource.RefreshPath {
		http.NotFound(w, r)
		return
	}
	if r.Header.Get("Content-Type") != "application/json" {
		http.Error(w, "expected JSON", http.StatusUnsupportedMediaType)
		return
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.received.Store(&body)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.status)
	_, _ = w.Write([]byte(b.reply))
}

func newBackend(t *testing.T, status int, reply string) (*refreshBackend, *tokensource.Refresher) {
	t.Helper()
	backend := &refreshBackend{status: status, reply: reply}
	server := httptest.NewServer(backend)
	t.Cleanup(server.Close)
	return backend, tokensource.NewRefresher(server.URL)
}

func TestRefresher_Success(t *testing.T) {
	backend, refresher := newBackend(t, http.StatusOK,
		`{"success":true,"data":{"token":"fresh-B","refreshToken":"valid-R2"}}`)

	tok, err := refresher.Refresh(context.Background(), "valid-R")
	require.NoError(t, err)

	assert.Equal(t, "fresh-B", tok.AccessToken)
	assert.Equal(t, "valid-R2", tok.RefreshToken)
	assert.Equal(t, int32(1), backend.calls.Load())

	// The backend sees only the JSON body it expects, not oauth2's form fields.
	received := *backend.received.Load()
	assert.Equal(t, map[string]any{"refreshToken": "valid-R"}, received)
}

func TestRefresher_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	_, refresher := newBackend(t, http.StatusOK, `{"success":true,"data":{"token":"fresh"}}`)

	tok, err := refresher.Refresh(context.Background(), "same-R")
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok.AccessToken)
	assert.Equal(t, "same-R", tok.RefreshToken)
}

func TestRefresher_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		reply    string
		wantCode int
	}{
		{
			name:     "unauthorized status",
			status:   http.StatusUnauthorized,
			reply:    `{"success":false,"message":"refresh token revoked"}`,
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "success false with 200",
			status:   http.StatusOK,
			reply:    `{"success":false,"message":"refresh token expired"}`,
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "missing access token",
			status:   http.StatusOK,
			reply:    `{"success":true,"data":{}}`,
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "malformed envelope",
			status:   http.StatusOK,
			reply:    `not json`,
			wantCode: http.StatusBadGateway,
		},
		{
			name:     "server error",
			status:   http.StatusInternalServerError,
			reply:    `{"success":false,"message":"boom"}`,
			wantCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, refresher := newBackend(t, tt.status, tt.reply)

			_, err := refresher.Refresh(context.Background(), "some-R")
			require.Error(t, err)

			var refreshErr *tokensource.RefreshError
			require.True(t, errors.As(err, &refreshErr), "expected RefreshError, got %T: %v", err, err)
			assert.Equal(t, tt.wantCode, refreshErr.Code)
			assert.Equal(t, tt.reply, string(refreshErr.Body))
		})
	}
}

func TestRefresher_EmptyToken(t *testing.T) {
	backend, refresher := newBackend(t, http.StatusOK, `{}`)

	_, err := refresher.Refresh(context.Background(), "")
	require.Error(t, err)
	assert.Zero(t, backend.calls.Load())
}

func TestRefresher_NetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	_, err := tokensource.NewRefresher(baseURL).Refresh(context.Background(), "R")
	require.Error(t, err)

	var refreshErr *tokensource.RefreshError
	assert.False(t, errors.As(err, &refreshErr))
}

func TestEndpoint(t *testing.T) {
	assert.Equal(t, "https://api.example.com/v1/auth/refresh-token", tokensource.Endpoint("https://api.example.com/v1/").TokenURL)
}
