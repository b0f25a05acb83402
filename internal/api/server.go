// Package api exposes the booking service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"easytrip/internal/booking"
	"easytrip/internal/domain"
	"easytrip/internal/metrics"
	"easytrip/internal/session"
)

const maxBodyBytes = 1 << 20

// RateConfig bounds booking writes per session.
type RateConfig struct {
	RequestsPerMinute int
	Burst             int
}

// ReadyCheck reports whether a dependency is usable.
type ReadyCheck func(ctx context.Context) error

type Server struct {
	svc      *booking.Service
	sessions *session.Manager
	limits   *writeLimiter
	checks   map[string]ReadyCheck
	logger   *zerolog.Logger
	router   *httprouter.Router
}

func NewServer(svc *booking.Service, sessions *session.Manager, limits RateConfig, checks map[string]ReadyCheck, logger *zerolog.Logger) *Server {
	s := &Server{
		svc:      svc,
		sessions: sessions,
		limits:   newWriteLimiter(limits),
		checks:   checks,
		logger:   logger,
		router:   httprouter.New(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.PanicHandler = s.handlePanic
	r.NotFound = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.GET("/healthz", s.observe("healthz", s.handleHealth))
	r.GET("/readyz", s.observe("readyz", s.handleReady))

	r.POST("/api/sessions", s.observe("login", s.handleLogin))
	r.DELETE("/api/sessions", s.observe("logout", s.authed(s.handleLogout)))

	r.GET("/api/journeys", s.observe("search", s.handleSearch))
	r.POST("/api/journeys", s.observe("schedule", s.authed(s.handleSchedule)))
	r.PATCH("/api/journeys/:id", s.observe("reschedule", s.authed(s.handleReschedule)))
	r.GET("/api/journeys/:id/status", s.observe("status", s.handleStatus))
	r.GET("/api/journeys/:id/seats", s.observe("seats", s.handleSeats))
	r.POST("/api/journeys/:id/bookings", s.observe("reserve", s.authed(s.limited(s.handleReserve))))
	r.GET("/api/journeys/:id/manifest.xlsx", s.observe("manifest", s.authed(s.handleManifest)))

	r.GET("/api/bookings", s.observe("my_bookings", s.authed(s.handleMyBookings)))
	r.POST("/api/bookings/:id/confirm", s.observe("confirm", s.authed(s.limited(s.handleConfirm))))
	r.POST("/api/bookings/:id/cancel", s.observe("cancel", s.authed(s.limited(s.handleCancel))))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// observe logs the request and counts it by endpoint and status code.
func (s *Server) observe(endpoint string, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r, ps)

		metrics.IncHTTP(endpoint, strconv.Itoa(rec.status))
		ev := s.logger.Debug()
		if rec.status >= http.StatusInternalServerError {
			ev = s.logger.Warn()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	}
}

// authed resolves the bearer token into a session on the request context.
func (s *Server) authed(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		sess, err := s.sessions.Lookup(r.Context(), token)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				s.limits.forget(token)
			} else {
				s.logger.Error().Err(err).Msg("Session lookup failed")
			}
			writeError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}
		next(w, r.WithContext(session.WithContext(r.Context(), sess)), ps)
	}
}

// limited throttles booking writes per session. It must run inside authed.
func (s *Server) limited(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		sess, ok := session.FromContext(r.Context())
		if ok && !s.limits.allow(sess.Token) {
			s.logger.Warn().Str("user_id", sess.UserID).Str("path", r.URL.Path).Msg("Rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r, ps)
	}
}

func (s *Server) handlePanic(w http.ResponseWriter, r *http.Request, v any) {
	s.logger.Error().Interface("panic", v).Str("path", r.URL.Path).Msg("Handler panicked")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// writeLimiter keeps one token bucket per session token. Buckets idle for
// longer than a full refill are swept, so tokens of sessions that simply
// expire do not accumulate.
type writeLimiter struct {
	mu        sync.Mutex
	perToken  map[string]*limiterEntry
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastUsed time.Time
}

func newWriteLimiter(cfg RateConfig) *writeLimiter {
	l := &writeLimiter{
		perToken: make(map[string]*limiterEntry),
		limit:    rate.Inf,
		burst:    cfg.Burst,
		idle:     time.Minute,
		now:      time.Now,
	}
	if l.burst <= 0 {
		l.burst = 1
	}
	if cfg.RequestsPerMinute > 0 {
		l.limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60)
		// A bucket idle this long is full again; dropping it changes nothing.
		if refill := time.Duration(float64(l.burst) / float64(l.limit) * float64(time.Second)); refill > l.idle {
			l.idle = refill
		}
	}
	return l
}

func (l *writeLimiter) allow(token string) bool {
	l.mu.Lock()
	now := l.now()
	if now.Sub(l.lastSweep) >= l.idle {
		l.sweep(now)
	}
	e, ok := l.perToken[token]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.perToken[token] = e
	}
	e.lastUsed = now
	l.mu.Unlock()
	return e.lim.AllowN(now, 1)
}

// sweep must be called with mu held.
func (l *writeLimiter) sweep(now time.Time) {
	for token, e := range l.perToken {
		if now.Sub(e.lastUsed) >= l.idle {
			delete(l.perToken, token)
		}
	}
	l.lastSweep = now
}

func (l *writeLimiter) forget(token string) {
	l.mu.Lock()
	delete(l.perToken, token)
	l.mu.Unlock()
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.ValidationError{Msg: "invalid JSON body"}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps domain errors to status codes. Anything unrecognised is a 500
// and its text is not sent to the client.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case domain.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case domain.IsForbidden(err):
		writeError(w, http.StatusForbidden, err.Error())
	case domain.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case domain.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error())
	case domain.IsClosed(err):
		var closed domain.ClosedError
		errors.As(err, &closed)
		writeJSON(w, http.StatusLocked, map[string]string{"error": closed.Error(), "reason": closed.Reason})
	default:
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func idParam(ps httprouter.Params) (int64, error) {
	id, err := strconv.ParseInt(ps.ByName("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ValidationError{Field: "id", Msg: fmt.Sprintf("invalid journey id %q", ps.ByName("id"))}
	}
	return id, nil
}
