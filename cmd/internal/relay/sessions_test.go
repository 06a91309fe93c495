package relay

import (
	"context"
	"strings"
	"testing"
	"time"

	"devmatch/cmd/security/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessions(t *testing.T, ttl time.Duration) (*Sessions, *InMemorySessionStore) {
	t.Helper()
	h, err := token.NewHasher(nil)
	require.NoError(t, err)
	st := NewInMemorySessionStore()
	return NewSessions(st, h, ttl), st
}

func TestSessions_IssueResolve(t *testing.T) {
	s, st := newTestSessions(t, time.Hour)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tok, exp, err := s.Issue(ctx, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), exp)
	assert.NotEmpty(t, tok)

	got, err := s.Resolve(ctx, tok, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "u1", got)

	st.mu.Lock()
	for k := range st.rows {
		assert.NotEqual(t, tok, k, "clear-text token must not be stored")
	}
	st.mu.Unlock()
}

func TestSessions_Expired(t *testing.T) {
	s, _ := newTestSessions(t, time.Minute)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tok, _, err := s.Issue(ctx, "u1", now)
	require.NoError(t, err)

	_, err = s.Resolve(ctx, tok, now.Add(time.Minute))
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessions_Rejects(t *testing.T) {
	s, _ := newTestSessions(t, 0)
	ctx := context.Background()
	assert.Equal(t, DefaultSessionTTL, s.TTL())

	_, _, err := s.Issue(ctx, " ", time.Now())
	require.ErrorIs(t, err, ErrInvalidUser)

	_, err = s.Resolve(ctx, "", time.Now())
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = s.Resolve(ctx, strings.Repeat("x", 43), time.Now())
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessions_KeyedHasherIsolatesTokens(t *testing.T) {
	st := NewInMemorySessionStore()
	ctx := context.Background()
	now := time.Now().UTC()

	h1, err := token.NewHasher([]byte(strings.Repeat("k", token.MinHMACKeyBytes)))
	require.NoError(t, err)
	h2, err := token.NewHasher([]byte(strings.Repeat("z", token.MinHMACKeyBytes)))
	require.NoError(t, err)

	tok, _, err := NewSessions(st, h1, time.Hour).Issue(ctx, "u1", now)
	require.NoError(t, err)

	_, err = NewSessions(st, h2, time.Hour).Resolve(ctx, tok, now)
	require.ErrorIs(t, err, ErrSessionNotFound)
}
