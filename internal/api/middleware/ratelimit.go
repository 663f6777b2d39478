package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Login attempts refill at one per loginInterval with a burst of loginBurst,
// i.e. 5 per minute. Idle entries are swept so the map cannot grow unbounded.
const (
	loginInterval = 12 * time.Second
	loginBurst    = 5
	sweepInterval = 10 * time.Minute
	visitorTTL    = 15 * time.Minute
)

type visitor struct {
	limiter *rate.Limiter
	seen    time.Time
}

// LoginRateLimiter throttles authentication attempts per client IP.
type LoginRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
}

// NewLoginRateLimiter creates a rate limiter whose stale-entry sweeper runs
// until ctx is canceled.
func NewLoginRateLimiter(ctx context.Context) *LoginRateLimiter {
	if ctx == nil {
		ctx = context.Background()
	}
	rl := &LoginRateLimiter{
		visitors: make(map[string]*visitor),
	}
	go rl.sweep(ctx)
	return rl
}

// Middleware rejects requests from clients that have exceeded the login rate.
func (rl *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r)) {
			http.Error(w, `{"error":"too many requests"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *LoginRateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Every(loginInterval), loginBurst)}
		rl.visitors[ip] = v
	}
	v.seen = time.Now()
	rl.mu.Unlock()

	// rate.Limiter has its own lock, no need to hold ours for the token take.
	return v.limiter.Allow()
}

func (rl *LoginRateLimiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.evictStale()
		}
	}
}

func (rl *LoginRateLimiter) evictStale() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, v := range rl.visitors {
		if time.Since(v.seen) > visitorTTL {
			delete(rl.visitors, ip)
		}
	}
}

// clientIP determines the address to rate-limit on. Forwarding headers are
// only trusted when the direct peer is a private address, since anyone can
// set X-Forwarded-For on a direct connection.
func clientIP(r *http.Request) string {
	remote, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remote = r.RemoteAddr
	}

	if !isPrivateIP(remote) {
		return remote
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// The rightmost entry is the one our own proxy appended; earlier
		// entries are client-supplied and spoofable.
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[len(parts)-1]); ip != "" {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}

	return remote
}

func isPrivateIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return parsed.IsLoopback() || parsed.IsPrivate()
}
