package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter applies per-source-IP request throttling to the catalog
// probe endpoints (/servers, /heartbeat), grounded on wingthing's
// bandwidth.go RateLimiter: per-IP token buckets with a background
// evictor for stale entries.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rate     rate.Limit
	burst    int

	evictEvery time.Duration
	staleAfter time.Duration
	stop       chan struct{}
}

type ipLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
	hits     int64
}

// NewRateLimiter creates a per-IP limiter: reqPerSec sustained, burst max.
// Buckets idle for longer than staleAfter are swept on an evictEvery tick,
// bounding the limiter map to the set of IPs actually probing the relay.
func NewRateLimiter(reqPerSec float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		limiters:   make(map[string]*ipLimiter),
		rate:       rate.Limit(reqPerSec),
		burst:      burst,
		evictEvery: 5 * time.Minute,
		staleAfter: 10 * time.Minute,
		stop:       make(chan struct{}),
	}
	go rl.evictLoop()
	return rl
}

// Close stops the background evictor. Safe to skip if the RateLimiter
// outlives the process, but cmd/relayd calls it on shutdown alongside
// the other long-lived components it owns.
func (rl *RateLimiter) Close() {
	close(rl.stop)
}

func (rl *RateLimiter) evictLoop() {
	ticker := time.NewTicker(rl.evictEvery)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, l := range rl.limiters {
				if time.Since(l.lastSeen) > rl.staleAfter {
					delete(rl.limiters, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[ip]
	if !ok {
		l = &ipLimiter{lim: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[ip] = l
	}
	l.lastSeen = time.Now()
	l.hits++
	return l.lim
}

// TrackedIPs reports how many distinct source IPs currently hold a bucket,
// for the evictor's own sanity checking in tests.
func (rl *RateLimiter) TrackedIPs() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Allow reports whether a request from ip is within rate limits.
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.getLimiter(ip).Allow()
}

// Middleware wraps an http.Handler with per-IP rate limiting.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
