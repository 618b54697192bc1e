package middleware

import (
	"net/http"

	"github.com/vedran77/vetchat/internal/ratelimit"
)

// RateLimit rejects requests once the authenticated subject exceeds its send
// budget. It must run after Auth.
func RateLimit(pool *ratelimit.Pool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := GetSubject(r.Context()).ID
			if key == "" {
				key = r.RemoteAddr
			}
			if !pool.Allow(key) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":{"code":"RATE_LIMITED","message":"Too many messages, slow down"}}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
