package middleware

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles how fast a given publisher IP can open new ingest
// connections, via a per-IP token bucket. It does not rate-limit bytes or
// frames once a connection is established — only connection attempts.
type RateLimiter struct {
	mu            sync.Mutex
	limiters      map[string]*rate.Limiter
	lastSeen      map[string]time.Time
	connsPerSec   float64
	burst         int
	cleanupTicker *time.Ticker
	done          chan struct{}
}

// NewRateLimiter builds a RateLimiter allowing connsPerSec new connections
// per second per IP, with bursts up to burst. Non-positive values fall back
// to a conservative default (10/sec, burst 20).
func NewRateLimiter(connsPerSec float64, burst int) *RateLimiter {
	if connsPerSec <= 0 {
		connsPerSec = 10
	}
	if burst <= 0 {
		burst = 20
	}

	rl := &RateLimiter{
		limiters:    make(map[string]*rate.Limiter),
		lastSeen:    make(map[string]time.Time),
		connsPerSec: connsPerSec,
		burst:       burst,
		done:        make(chan struct{}),
	}

	rl.cleanupTicker = time.NewTicker(5 * time.Minute)
	go rl.cleanupLoop()

	return rl
}

// Allow reports whether a new connection attempt from ip is within budget,
// creating that IP's bucket on first sight.
func (r *RateLimiter) Allow(ip string) error {
	r.mu.Lock()
	limiter, exists := r.limiters[ip]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(r.connsPerSec), r.burst)
		r.limiters[ip] = limiter
	}
	r.lastSeen[ip] = time.Now()
	r.mu.Unlock()

	if !limiter.Allow() {
		return fmt.Errorf("rate limit exceeded for %s", ip)
	}

	return nil
}

// GetLimiter returns the bucket tracking ip, or nil if ip hasn't connected.
func (r *RateLimiter) GetLimiter(ip string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limiters[ip]
}

// cleanupLoop periodically evicts buckets for IPs that stopped connecting,
// so a long-lived ingest process doesn't accumulate one bucket per
// drive-by client forever.
func (r *RateLimiter) cleanupLoop() {
	for {
		select {
		case <-r.done:
			r.cleanupTicker.Stop()
			return
		case <-r.cleanupTicker.C:
			r.evictStale()
		}
	}
}

// evictStale drops buckets idle for more than 30 minutes.
func (r *RateLimiter) evictStale() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-30 * time.Minute)
	for ip, seen := range r.lastSeen {
		if seen.Before(cutoff) {
			delete(r.limiters, ip)
			delete(r.lastSeen, ip)
		}
	}
}

// Stop ends the background eviction loop. Call once on shutdown.
func (r *RateLimiter) Stop() {
	close(r.done)
}

// Stats reports the limiter's current load, surfaced on the ingest core's
// status endpoint.
func (r *RateLimiter) Stats() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	return map[string]interface{}{
		"active_ips":       len(r.limiters),
		"connections_per_sec": r.connsPerSec,
		"burst_size":       r.burst,
	}
}
