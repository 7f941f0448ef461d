package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// maxClients caps tracked clients; unknown clients are rejected beyond it.
const maxClients = 10000

// KeyFunc names the client a request is charged to.
type KeyFunc func(*http.Request) string

// RateLimiter is token bucket rate limiting middleware, one bucket per client.
// A reconcile pass is expensive on both APIs, so triggers are throttled
// before they reach the worker.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*bucket
	rate    float64 // tokens per second
	burst   float64
	key     KeyFunc
	now     func() time.Time
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// NewRateLimiter creates a limiter with the given sustained rate (requests
// per second) and burst. A nil key charges requests to the remote address.
func NewRateLimiter(rate float64, burst int, key KeyFunc) *RateLimiter {
	if key == nil {
		key = ClientIP
	}
	return &RateLimiter{
		clients: make(map[string]*bucket),
		rate:    rate,
		burst:   float64(burst),
		key:     key,
		now:     time.Now,
	}
}

// Handler returns middleware that answers 429 with Retry-After once the
// client's bucket is empty.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remaining, wait, ok := rl.take(rl.key(r))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) take(client string) (remaining int, wait time.Duration, ok bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, found := rl.clients[client]
	if !found {
		if len(rl.clients) >= maxClients {
			return 0, time.Second, false
		}
		b = &bucket{tokens: rl.burst, seen: now}
		rl.clients[client] = b
	}

	b.tokens = math.Min(rl.burst, b.tokens+now.Sub(b.seen).Seconds()*rl.rate)
	b.seen = now
	if b.tokens < 1 {
		return 0, time.Duration((1 - b.tokens) / rl.rate * float64(time.Second)), false
	}
	b.tokens--
	return int(b.tokens), 0, true
}

// Run evicts clients idle for longer than maxIdle every interval, until ctx
// is done.
func (rl *RateLimiter) Run(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.evict(maxIdle)
		}
	}
}

func (rl *RateLimiter) evict(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-maxIdle)
	for client, b := range rl.clients {
		if b.seen.Before(cutoff) {
			delete(rl.clients, client)
		}
	}
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// ClientIP keys requests by the host of RemoteAddr. Forwarding headers are
// not trusted.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
