package relay

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_SlidingWindow(t *testing.T) {
	rl := NewRateLimiter(3, time.Second)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow(t0.Add(time.Duration(i)*100*time.Millisecond)), "event %d", i)
	}
	assert.False(t, rl.Allow(t0.Add(500*time.Millisecond)))

	// First event leaves the window.
	assert.True(t, rl.Allow(t0.Add(1001*time.Millisecond)))
	assert.False(t, rl.Allow(t0.Add(1002*time.Millisecond)))

	ok, wait := rl.allow(t0.Add(1050 * time.Millisecond))
	assert.False(t, ok)
	assert.Equal(t, 50*time.Millisecond, wait, "second event (t0+100ms) expires at t0+1100ms")
}

func TestRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	assert.Equal(t, rateLimitEvents, rl.limit)
	assert.Equal(t, rateLimitWindow, rl.window)
}

func TestKeyedLimiter_PerKey(t *testing.T) {
	kl := NewKeyedLimiter(2, time.Minute, 10)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	ok, _ := kl.Allow("10.0.0.1", t0)
	require.True(t, ok)
	ok, _ = kl.Allow("10.0.0.1", t0.Add(time.Second))
	require.True(t, ok)

	ok, retry := kl.Allow("10.0.0.1", t0.Add(2*time.Second))
	require.False(t, ok)
	assert.Equal(t, 58*time.Second, retry)

	ok, _ = kl.Allow("10.0.0.2", t0.Add(2*time.Second))
	assert.True(t, ok, "keys are independent")
}

func TestKeyedLimiter_Disabled(t *testing.T) {
	kl := NewKeyedLimiter(-1, time.Minute, 10)
	for i := 0; i < 100; i++ {
		ok, _ := kl.Allow("k", time.Now())
		require.True(t, ok)
	}

	var nilLimiter *KeyedLimiter
	ok, _ := nilLimiter.Allow("k", time.Now())
	assert.True(t, ok)
}

func TestKeyedLimiter_SweepBoundsKeys(t *testing.T) {
	kl := NewKeyedLimiter(1, time.Second, 3)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		kl.Allow(fmt.Sprintf("k%d", i), t0.Add(time.Duration(i)*time.Millisecond))
	}
	require.Equal(t, 3, kl.Len())

	// All still active: the least recently used key is evicted.
	kl.Allow("k3", t0.Add(10*time.Millisecond))
	assert.Equal(t, 3, kl.Len())
	ok, _ := kl.Allow("k0", t0.Add(20*time.Millisecond))
	assert.True(t, ok, "evicted key starts fresh")

	// Everything idle: the sweep clears the table.
	kl.Allow("late", t0.Add(time.Hour))
	assert.Equal(t, 1, kl.Len())
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/login", nil)
	r.RemoteAddr = "192.0.2.10:4321"
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	assert.Equal(t, "192.0.2.10", clientIP(r, false))
	assert.Equal(t, "203.0.113.7", clientIP(r, true))

	r.Header.Del("X-Forwarded-For")
	r.Header.Set("X-Real-IP", "198.51.100.3")
	assert.Equal(t, "198.51.100.3", clientIP(r, true))
}
