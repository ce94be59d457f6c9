package devserver

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"
)

// Default token lifetimes.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Server is the development backend.
type Server struct {
	mux      *http.ServeMux
	server   *http.Server
	addr     string
	state    *state
	auth     *authority
	validate *validator.Validate
	requests *prometheus.CounterVec
	logger   *slog.Logger
}

// Compile-time check that Server implements http.Handler
var _ http.Handler = (*Server)(nil)

type config struct {
	accessTTL  time.Duration
	refreshTTL time.Duration
	signingKey []byte
	now        func() time.Time
	cost       int
	logger     *slog.Logger
}

// Option configures a Server.
type Option func(*config)

// WithTokenTTL sets access and refresh token lifetimes. Zero keeps the default.
func WithTokenTTL(access, refresh time.Duration) Option {
	return func(c *config) {
		if access > 0 {
			c.accessTTL = access
		}
		if refresh > 0 {
			c.refreshTTL = refresh
		}
	}
}

// WithSigningKey sets the HMAC key for access tokens. Without it a random key is
// generated, invalidating tokens across restarts.
func WithSigningKey(key []byte) Option {
	return func(c *config) {
		c.signingKey = key
	}
}

// WithClock replaces the time source used for token expiry and timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// WithPasswordCost sets the bcrypt cost for stored passwords.
func WithPasswordCost(cost int) Option {
	return func(c *config) {
		c.cost = cost
	}
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// New creates a Server with seeded accounts.
func New(opts ...Option) (*Server, error) {
	cfg := &config{
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		now:        time.Now,
		cost:       bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if len(cfg.signingKey) == 0 {
		cfg.signingKey = make([]byte, 32)
		if _, err := rand.Read(cfg.signingKey); err != nil {
			return nil, fmt.Errorf("generating signing key: %w", err)
		}
	}

	st := newState(cfg.now, cfg.cost, cfg.refreshTTL)
	if err := st.seed(); err != nil {
		return nil, err
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mindline_devserver_requests_total",
		Help: "Requests served by route and response status.",
	}, []string{"route", "method", "code"})
	registry.MustRegister(requests)

	s := &Server{
		mux:   http.NewServeMux(),
		state: st,
		auth: &authority{
			key:       cfg.signingKey,
			accessTTL: cfg.accessTTL,
			now:       cfg.now,
		},
		validate: validate,
		requests: requests,
		logger:   cfg.logger,
	}
	s.routes(registry)

	return s, nil
}

func (s *Server) routes(registry *prometheus.Registry) {
	s.handle("POST /auth/login", s.handleLogin, false)
	s.handle("POST /auth/register", s.handleRegister, false)
	s.handle("POST /auth/refresh-token", s.handleRefresh, false)
	s.handle("POST /auth/logout", s.handleLogout, true)

	s.handle("GET /users/me", s.handleMe, true)

	s.handle("GET /psychologists", s.handleListPsychologists, true)
	s.handle("GET /psychologists/{id}", s.handleGetPsychologist, true)

	s.handle("GET /chat/conversations", s.handleListConversations, true)
	s.handle("GET /chat/conversations/{id}", s.handleGetConversation, true)
	s.handle("POST /chat/conversations/{id}/messages", s.handleSendMessage, true)

	s.handle("GET /invites", s.handleListInvites, true)
	s.handle("POST /invites", s.handleCreateInvite, true)
	s.handle("POST /invites/{code}/accept", s.handleAcceptInvite, true)

	s.handle("GET /medical-records", s.handleListMedicalRecords, true)
	s.handle("POST /medical-records", s.handleCreateMedicalRecord, true)

	s.handle("GET /support/tickets", s.handleListTickets, true)
	s.handle("POST /support/tickets", s.handleCreateTicket, true)

	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(r.Context(), w, map[string]string{"status": "ok"}, http.StatusOK)
	})
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

// handle registers an API route with logging, recovery, request counting and, when
// authed is set, bearer authentication.
func (s *Server) handle(pattern string, h http.HandlerFunc, authed bool) {
	middlewares := []func(http.Handler) http.Handler{
		Logging(s.logger),
		Recovery,
	}
	if authed {
		middlewares = append(middlewares, s.authenticate)
	}

	_, route, _ := strings.Cut(pattern, " ")
	counter := s.requests.MustCurryWith(prometheus.Labels{"route": route})

	s.mux.Handle(pattern, promhttp.InstrumentHandlerCounter(counter, applyMiddlewares(h, middlewares...)))
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (s *Server) Start(ctx context.Context, address string) (<-chan error, error) {
	// Startup phase: Create listener synchronously to catch port-in-use errors immediately
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s.addr = listener.Addr().String()
	s.server = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := s.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = s.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
