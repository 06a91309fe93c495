package relay

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter is a sliding-window limiter: at most limit events in any
// window. Event times live in a fixed ring, so memory is bounded by limit.
type RateLimiter struct {
	mu     sync.Mutex
	ring   []time.Time
	head   int // oldest event once the ring is full
	limit  int
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter; non-positive inputs select the
// websocket defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		ring:   make([]time.Time, 0, limit),
		limit:  limit,
		window: window,
	}
}

// Allow records an event at now and reports whether it is within the limit.
// Rejected events are not recorded.
func (r *RateLimiter) Allow(now time.Time) bool {
	ok, _ := r.allow(now)
	return ok
}

// allow is Allow plus the wait until the next event would be admitted.
func (r *RateLimiter) allow(now time.Time) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.ring) < r.limit {
		r.ring = append(r.ring, now)
		return true, 0
	}

	oldest := r.ring[r.head]
	if oldest.After(now.Add(-r.window)) {
		return false, oldest.Add(r.window).Sub(now)
	}
	r.ring[r.head] = now
	r.head = (r.head + 1) % r.limit
	return true, 0
}

// KeyedLimiter applies an independent RateLimiter per key (client IP for
// logins). Idle keys are swept once the table reaches maxKeys.
type KeyedLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	maxKeys int
	keys    map[string]*keyedEntry
}

type keyedEntry struct {
	rl   *RateLimiter
	last time.Time
}

// NewKeyedLimiter constructs a KeyedLimiter. limit <= 0 disables limiting.
func NewKeyedLimiter(limit int, window time.Duration, maxKeys int) *KeyedLimiter {
	if maxKeys <= 0 {
		maxKeys = loginRateMaxKeys
	}
	return &KeyedLimiter{
		limit:   limit,
		window:  window,
		maxKeys: maxKeys,
		keys:    make(map[string]*keyedEntry),
	}
}

// Allow reports whether key may act at now and, when not, how long to wait.
func (k *KeyedLimiter) Allow(key string, now time.Time) (bool, time.Duration) {
	if k == nil || k.limit <= 0 {
		return true, 0
	}

	k.mu.Lock()
	e, ok := k.keys[key]
	if !ok {
		if len(k.keys) >= k.maxKeys {
			k.sweep(now)
		}
		e = &keyedEntry{rl: NewRateLimiter(k.limit, k.window)}
		k.keys[key] = e
	}
	e.last = now
	k.mu.Unlock()

	return e.rl.allow(now)
}

// Len returns the number of tracked keys.
func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.keys)
}

// sweep drops keys idle for a whole window; when none are, it drops the
// least recently used one. Caller holds k.mu.
func (k *KeyedLimiter) sweep(now time.Time) {
	cut := now.Add(-k.window)
	var (
		lruKey  string
		lruTime time.Time
	)
	for key, e := range k.keys {
		if !e.last.After(cut) {
			delete(k.keys, key)
			continue
		}
		if lruKey == "" || e.last.Before(lruTime) {
			lruKey, lruTime = key, e.last
		}
	}
	if len(k.keys) >= k.maxKeys && lruKey != "" {
		delete(k.keys, lruKey)
	}
}

// clientIP returns the request's client address. Forwarding headers are
// honored only when trustProxy is set.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		for _, p := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
			if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
				return ip.String()
			}
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
