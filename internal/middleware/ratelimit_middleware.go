package middleware

import (
	"net"
	"net/http"
	"strconv"

	"model_registry/internal/auth"
	"model_registry/internal/ratelimit"
	"model_registry/internal/utils"

	"go.uber.org/zap"
)

// RateLimit allows each caller limit requests per minute. Callers are
// keyed by user ID when authenticated, by client IP otherwise. Limiter
// failures let the request through.
func RateLimit(l ratelimit.Limiter, limit int, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateLimitKey(r)

			allowed, remaining, resetAt, err := l.AllowWithDetails(r.Context(), key, limit)
			if err != nil {
				log.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			if remaining >= 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
			}
			if !allowed {
				utils.RespondWithErrorKind(w, http.StatusTooManyRequests, "rate_limited", "Rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request) string {
	if id, ok := auth.UserIDFromContext(r.Context()); ok {
		return "user:" + id.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
