package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/davidschrooten/docvault-search/internal/domain"
	"github.com/davidschrooten/docvault-search/internal/logger"
	"github.com/davidschrooten/docvault-search/internal/metrics"
)

// UserHeader carries the identity established by the upstream auth layer.
const UserHeader = "X-User-ID"

type userKey struct{}

func userFrom(ctx context.Context) string {
	user, _ := ctx.Value(userKey{}).(string)
	return user
}

// requireUser rejects requests without an identity and scopes the request
// logger to the user.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get(UserHeader))
		if user == "" {
			s.response(w, http.StatusUnauthorized, map[string]string{"message": "authentication required"})
			return
		}

		ctx := context.WithValue(r.Context(), userKey{}, user)
		ctx = logger.With(ctx, zap.String("user", user))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// HookTokenHeader carries the shared secret of the primary app's index hooks.
const HookTokenHeader = "X-Hook-Token"

// requireHookToken admits only callers presenting the configured hook token.
// Without a configured token the hooks are closed.
func (s *Server) requireHookToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := s.config.Server.HookToken
		if want == "" {
			s.response(w, http.StatusForbidden, map[string]string{"message": "index hooks are disabled"})
			return
		}
		got := r.Header.Get(HookTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			logger.FromContext(r.Context()).Warn("rejected index hook", zap.String("remote", r.RemoteAddr))
			s.response(w, http.StatusUnauthorized, map[string]string{"message": "invalid hook token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs each request once it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := metrics.NewStatusWriter(w)

		ctx := logger.WithLogger(r.Context(), s.logger.With(
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		))
		r = r.WithContext(ctx)
		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("user", r.Header.Get(UserHeader)),
		)
	})
}

// rateLimit applies the per-requester token bucket. It runs after requireUser.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiters.allow(userFrom(r.Context())) {
			s.writeError(w, r, fmt.Errorf("%w: too many searches, slow down", domain.ErrRateLimited))
			return
		}
		next.ServeHTTP(w, r)
	})
}

const (
	maxTrackedLimiters = 10000
	limiterIdle        = 10 * time.Minute
)

type trackedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet holds one token bucket per requester. A zero rate disables it.
type limiterSet struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*trackedLimiter
	now      func() time.Time
}

func newLimiterSet(perSecond float64, burst int) *limiterSet {
	if burst < 1 {
		burst = 1
	}
	return &limiterSet{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*trackedLimiter),
		now:      time.Now,
	}
}

func (l *limiterSet) allow(user string) bool {
	if l.limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	tl, ok := l.limiters[user]
	if !ok {
		if len(l.limiters) >= maxTrackedLimiters {
			l.evictIdle(now)
		}
		tl = &trackedLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[user] = tl
	}
	tl.lastSeen = now
	return tl.limiter.AllowN(now, 1)
}

// evictIdle must be called with the lock held.
func (l *limiterSet) evictIdle(now time.Time) {
	for user, tl := range l.limiters {
		if now.Sub(tl.lastSeen) > limiterIdle {
			delete(l.limiters, user)
		}
	}
}
