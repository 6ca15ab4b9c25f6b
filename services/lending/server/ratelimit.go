package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"moneymarket/observability"
	"moneymarket/services/lending/api"
)

// RateLimit bounds requests per client. A zero RequestsPerMinute disables
// limiting.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

const visitorTTL = 5 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per authenticated account, falling back
// to the client address for anonymous reads.
type RateLimiter struct {
	limit    RateLimit
	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time
	swept    time.Time
}

// NewRateLimiter returns a limiter for limit.
func NewRateLimiter(limit RateLimit) *RateLimiter {
	return &RateLimiter{limit: limit, visitors: make(map[string]*visitor), now: time.Now}
}

// Middleware rejects requests over budget with 429.
func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r == nil || r.limit.RequestsPerMinute <= 0 {
			next.ServeHTTP(w, req)
			return
		}
		if !r.allow(clientID(req)) {
			observability.ModuleMetrics().RecordThrottle("lending", "rate_limit")
			w.Header().Set("Retry-After", "1")
			writeError(w, api.ErrRateLimited)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *RateLimiter) allow(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if now.Sub(r.swept) > visitorTTL {
		for key, v := range r.visitors {
			if now.Sub(v.lastSeen) > visitorTTL {
				delete(r.visitors, key)
			}
		}
		r.swept = now
	}
	v, ok := r.visitors[id]
	if !ok {
		burst := r.limit.Burst
		if burst <= 0 {
			burst = 1
		}
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(r.limit.RequestsPerMinute/60.0), burst)}
		r.visitors[id] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func clientID(r *http.Request) string {
	if p, ok := PrincipalFromContext(r.Context()); ok {
		return p.Account
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
			return parsed.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
