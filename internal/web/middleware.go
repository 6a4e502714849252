package web

import (
	"crypto/subtle"
	"net/http"
	"sync"
	"time"

	"github.com/vadiminshakov/equitydash/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.apiKey)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Message: "missing or invalid api key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status and keeps streaming working.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(started)),
			zap.String("remote", r.RemoteAddr))
	})
}

// accountLimiter keeps one token bucket per account that has delivered a
// webhook. Only resolved accounts get a bucket.
type accountLimiter struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newAccountLimiter(perSecond float64, burst int) *accountLimiter {
	return &accountLimiter{
		limiters: make(map[int64]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

// Admit consumes one delivery from the account's bucket.
func (l *accountLimiter) Admit(acct domain.Account) bool {
	l.mu.Lock()
	lim, ok := l.limiters[acct.ID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[acct.ID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Forget drops the bucket of a deleted account.
func (l *accountLimiter) Forget(id int64) {
	l.mu.Lock()
	delete(l.limiters, id)
	l.mu.Unlock()
}

func (l *accountLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
