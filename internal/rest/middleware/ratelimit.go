package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitor holds one client's limiter and the last time it was seen.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type visitorTable struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
}

func (t *visitorTable) get(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.visitors[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// cleanup evicts idle entries so the table doesn't grow without bound.
func (t *visitorTable) cleanup() {
	for {
		time.Sleep(time.Minute)

		t.mu.Lock()
		for key, v := range t.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(t.visitors, key)
			}
		}
		t.mu.Unlock()
	}
}

// RateLimit creates middleware that throttles requests per client IP with a
// token bucket.
func RateLimit(limit rate.Limit, burst int) func(http.Handler) http.Handler {
	table := &visitorTable{
		visitors: make(map[string]*visitor),
		limit:    limit,
		burst:    burst,
	}
	go table.cleanup()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			if !table.get(ip).Allow() {
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
