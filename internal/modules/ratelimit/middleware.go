package ratelimit

import (
	"encoding/json"
	"log"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Limiter throttles requests per client IP inside a fixed window. It sits in
// front of validation so a throttled caller costs nothing downstream.
type Limiter struct {
	store  Store
	quota  int64
	window time.Duration
}

func NewLimiter(store Store, quota int64, window time.Duration) *Limiter {
	return &Limiter{store: store, quota: quota, window: window}
}

// Middleware rejects the request with 429 and a Retry-After hint once the
// caller's window quota is exhausted. Store errors fail open: the limiter is
// abuse dampening, not quota accounting.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		count, resetIn, err := l.store.Incr(r.Context(), key, l.window)
		if err != nil {
			log.Printf("ratelimit: store error for %s, allowing request: %v", key, err)
			next.ServeHTTP(w, r)
			return
		}
		if count > l.quota {
			retryAfter := int(math.Ceil(resetIn.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded, retry later"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP prefers the first X-Forwarded-For hop set by the edge proxy and
// falls back to the socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
