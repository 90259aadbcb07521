package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window.
	Max int
	// Window is the length of one window.
	Window time.Duration
	// KeyFunc extracts the limiter key. Defaults to ClientKey.
	KeyFunc func(*http.Request) string
	// Skip exempts requests from limiting, e.g. health probes.
	Skip func(*http.Request) bool
}

// counter holds request counts of the current and the previous window.
type counter struct {
	prev      float64
	curr      float64
	currStart time.Time
}

type rateLimiter struct {
	cfg RateLimitConfig

	mu       sync.Mutex
	counters map[string]*counter
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientKey
	}
	return &rateLimiter{
		cfg:      cfg,
		counters: make(map[string]*counter),
	}
}

// allow counts one request for key. The previous window is weighted by how
// much of it still overlaps the sliding window ending at now.
func (rl *rateLimiter) allow(key string, now time.Time) (remaining int, resetAt time.Time, ok bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	window := rl.cfg.Window
	c, found := rl.counters[key]
	if !found {
		c = &counter{currStart: now.Truncate(window)}
		rl.counters[key] = c
	}
	if elapsed := now.Sub(c.currStart); elapsed >= window {
		c.prev = c.curr
		if elapsed >= 2*window {
			c.prev = 0
		}
		c.curr = 0
		c.currStart = now.Truncate(window)
	}

	overlap := 1 - now.Sub(c.currStart).Seconds()/window.Seconds()
	effective := c.prev*math.Max(overlap, 0) + c.curr
	resetAt = c.currStart.Add(window)
	if effective >= float64(rl.cfg.Max) {
		return 0, resetAt, false
	}

	c.curr++
	return max(int(float64(rl.cfg.Max)-effective-1), 0), resetAt, true
}

// evict drops counters that no longer affect any decision.
func (rl *rateLimiter) evict(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, c := range rl.counters {
		if now.Sub(c.currStart) >= 2*rl.cfg.Window {
			delete(rl.counters, key)
		}
	}
}

func (rl *rateLimiter) runEviction(ctx context.Context) {
	ticker := time.NewTicker(2 * rl.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.evict(now)
		}
	}
}

// RateLimit enforces a per-key sliding window limit. Rejected requests get
// 429 with a Retry-After header. Every limited response carries the
// X-RateLimit-* headers.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newRateLimiter(cfg).middleware()
}

// RateLimitWithCleanup is RateLimit plus a goroutine that evicts stale keys
// until ctx is done.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	rl := newRateLimiter(cfg)
	go rl.runEviction(ctx)
	return rl.middleware()
}

func (rl *rateLimiter) middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.cfg.Skip != nil && rl.cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			now := time.Now()
			remaining, resetAt, ok := rl.allow(rl.cfg.KeyFunc(r), now)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
			if !ok {
				retry := math.Ceil(max(resetAt.Sub(now), 0).Seconds())
				h.Set("Retry-After", strconv.Itoa(int(retry)))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientKey returns the client IP, preferring the first X-Forwarded-For hop
// and then X-Real-IP over the connection address.
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// CredentialKey keys authenticated clients by their credential so that
// clients behind one NAT do not share a budget. Anonymous requests fall
// back to ClientKey.
func CredentialKey(r *http.Request) string {
	if key := r.Header.Get("api_key"); key != "" {
		return "key:" + key
	}
	if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
		return "bearer:" + strings.TrimPrefix(authz, "Bearer ")
	}
	return "ip:" + ClientKey(r)
}

// SkipPaths exempts requests whose path is one of paths.
func SkipPaths(paths ...string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.URL.Path]
		return ok
	}
}
