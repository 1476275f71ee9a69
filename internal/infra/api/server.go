package api

import (
	"context"
	"net/http"
	"time"

	"defect-inspection/internal/infra/broadcast"
	"defect-inspection/internal/infra/metrics"
	"defect-inspection/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// EventSource hands out broadcast subscriptions for the event streams.
type EventSource interface {
	Connect(keys ...string) *broadcast.Subscriber
	Disconnect(s *broadcast.Subscriber)
}

// Server exposes the inspection use case over HTTP.
type Server struct {
	inspUC   usecase.InspectionUseCase
	events   EventSource
	limiter  RateLimiter
	limitKey func(ownerID string) string
	health   func(ctx context.Context) error

	maxBody   int64
	timeout   time.Duration
	heartbeat time.Duration
	log       *zerolog.Logger
}

type Option func(*Server)

// WithSubmitLimit enables per-owner rate limiting on job submission.
func WithSubmitLimit(l RateLimiter, keyFor func(ownerID string) string) Option {
	return func(s *Server) {
		s.limiter = l
		s.limitKey = keyFor
	}
}

// WithHealthCheck makes /health report the dependency probed by fn.
func WithHealthCheck(fn func(ctx context.Context) error) Option {
	return func(s *Server) { s.health = fn }
}

func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

func NewServer(inspUC usecase.InspectionUseCase, events EventSource, logger *zerolog.Logger, opts ...Option) *Server {
	l := logger.With().Str("component", "http_api").Logger()
	s := &Server{
		inspUC:    inspUC,
		events:    events,
		maxBody:   1 << 20,
		timeout:   15 * time.Second,
		heartbeat: 15 * time.Second,
		log:       &l,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Routes builds the router. Event streams are exempt from the request timeout.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(Recover(s.log), TraceID(), RequestLog(s.log))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(Timeout(s.timeout))

			r.With(SubmitRateLimit(s.limiter, s.limitKey, s.log)).Post("/jobs", s.handleSubmit)
			r.Get("/jobs/{id}", s.handleStatus)
			r.Delete("/jobs/{id}", s.handleCancel)
			r.Get("/jobs/{id}/summary", s.handleSummary)
			r.Get("/jobs/{id}/report", s.handleReport)
			r.Get("/jobs/{id}/compare", s.handleCompare)

			r.Get("/queue/stats", s.handleQueueStats)
			r.Post("/queue/pause", s.handlePause)
			r.Post("/queue/resume", s.handleResume)
		})

		r.Get("/jobs/{id}/events", s.handleJobEvents)
		r.Get("/users/{id}/events", s.handleUserEvents)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			s.log.Warn().Err(err).Msg("health check failed")
			writeError(w, http.StatusServiceUnavailable, "unhealthy")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
