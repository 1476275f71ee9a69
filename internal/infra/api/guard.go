package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"defect-inspection/internal/infra/logging"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Middleware func(http.Handler) http.Handler

// OwnerHeader identifies the submitting owner. Authentication happens upstream.
const OwnerHeader = "X-Owner-ID"

// TraceID reuses an inbound X-Request-ID or mints one, and echoes it back.
func TraceID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
			if tid == "" {
				tid = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", tid)
			ctx := logging.WithTraceID(r.Context(), tid)
			if owner := strings.TrimSpace(r.Header.Get(OwnerHeader)); owner != "" {
				ctx = logging.WithOwnerID(ctx, owner)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequestLog(logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &respWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logging.With(r.Context(), logger).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.status).
				Dur("duration", time.Since(start)).
				Msg("http_request")
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps event streams working behind the logger.
func (w *respWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func Recover(logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logging.With(r.Context(), logger).Error().Interface("panic", rec).Msg("panic recovered")
					http.Error(w, "internal error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimiter is satisfied by the Redis fixed-window limiter.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// SubmitRateLimit caps submissions per owner. Limiter outages let requests through.
func SubmitRateLimit(limiter RateLimiter, keyFor func(ownerID string) string, logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
			if limiter == nil || owner == "" {
				next.ServeHTTP(w, r)
				return
			}
			ok, err := limiter.Allow(r.Context(), keyFor(owner))
			if err != nil {
				logging.With(r.Context(), logger).Warn().Err(err).Msg("rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				writeError(w, http.StatusTooManyRequests, "too many submissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
