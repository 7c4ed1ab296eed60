// Package server is the REST session service the remote client talks to.
// It is backed by any Repository: the SQLite store for a single node or
// the Postgres store for a shared deployment.
package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/casewise/internal/auth"
	"github.com/roach88/casewise/internal/domain"
	"github.com/roach88/casewise/internal/obs"
	"github.com/roach88/casewise/internal/ratelimit"
)

// Repository is the storage the service needs. Lookups report absence
// with an error wrapping ErrNotFound; duplicate accounts with ErrConflict.
type Repository interface {
	Ping(ctx context.Context) error
	ListSessions(ctx context.Context) ([]domain.Session, error)
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	UpsertSession(ctx context.Context, s domain.Session) (domain.Session, error)
	ListAssignments(ctx context.Context) ([]domain.QuestionnaireAssignment, error)
	UpsertAssignment(ctx context.Context, a domain.QuestionnaireAssignment) (int64, error)
	CreateAccount(ctx context.Context, email, passwordHash string, at time.Time) error
}

// Server holds the handler dependencies.
type Server struct {
	repo     Repository
	signer   *auth.Signer
	metrics  *obs.Metrics
	gatherer prometheus.Gatherer
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics instruments every route and serves /metrics from g.
func WithMetrics(m *obs.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithLimiter guards account creation per email.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used for account timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns a Server. signer may be nil only in tests that exercise
// the unauthenticated routes; every /v1 route then answers 401.
func New(repo Repository, signer *auth.Signer, opts ...Option) *Server {
	s := &Server{
		repo:   repo,
		signer: signer,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recovery)
	r.Use(s.requestLog)
	r.Use(s.metrics.Instrument)

	r.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", obs.Handler(s.gatherer))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireBearer)

		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Put("/sessions/{id}", s.handlePutSession)

		r.Get("/assignments", s.handleListAssignments)
		r.Put("/assignments/{id}", s.handlePutAssignment)

		r.Post("/accounts", s.handleCreateAccount)
	})

	return r
}
