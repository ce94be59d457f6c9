package devserver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/httplog/v3"

	"github.com/florianilch/mindline/internal/resources"
)

// Recovery recovers from panics in HTTP handlers and returns HTTP 500 to the client.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recover() != nil {
				writeError(r.Context(), w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				// Logging of panics is handled in Logging middleware
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// Logging logs HTTP requests with method, path, status, and duration.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return httplog.RequestLogger(logger, &httplog.Options{
		Schema: httplog.SchemaECS.Concise(true),

		// Bodies carry passwords and tokens; headers carry bearers.
		LogRequestHeaders:  []string{"Content-Type", "Origin"},
		LogResponseHeaders: []string{},
		LogRequestBody:     nil,
		LogResponseBody:    nil,

		RecoverPanics: false, // use dedicated middleware, panics are logged regardless
	})
}

// applyMiddlewares applies middlewares to a handler in the order they appear.
// The first middleware in the slice is the outermost (executes first).
func applyMiddlewares(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

type userKey struct{}

// authenticate rejects requests without a valid, unexpired bearer token and puts the
// caller's account into the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(ctx, w, "Authentication required", http.StatusUnauthorized)
			return
		}

		claims, err := s.auth.verify(token)
		if err != nil {
			s.logger.DebugContext(ctx, "rejected access token", "error", err)
			writeError(ctx, w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		user, err := s.state.user(claims.Subject)
		if err != nil {
			writeError(ctx, w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		httplog.SetAttrs(ctx, slog.String("user.id", user.ID))
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, userKey{}, user)))
	})
}

// currentUser returns the account put into ctx by authenticate.
func currentUser(ctx context.Context) resources.User {
	u, _ := ctx.Value(userKey{}).(resources.User)
	return u
}
