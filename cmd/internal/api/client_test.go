package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apiv1 "devmatch/contracts/api/v1"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, h http.Handler) (*httptest.Server, *Client) {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Options{BaseURL: srv.URL + "/", SessionToken: "tok-1"})
	require.NoError(t, err)
	return srv, c
}

func requireToken(t *testing.T, r *http.Request) {
	t.Helper()
	ck, err := r.Cookie(SessionCookieName)
	if err != nil || ck.Value != "tok-1" {
		t.Errorf("missing session cookie on %s %s", r.Method, r.URL.Path)
	}
}

func TestClient_GetChat(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /chat/{id}", func(w http.ResponseWriter, r *http.Request) {
		requireToken(t, r)
		assert.Equal(t, "u-bob", r.PathValue("id"))
		_ = json.NewEncoder(w).Encode(apiv1.Chat{
			Participants: []apiv1.User{{ID: "u-bob", FirstName: "Bob"}},
			Messages: []apiv1.ChatMessage{{
				ID:        "m1",
				Sender:    apiv1.User{ID: "u-bob", FirstName: "Bob"},
				Text:      "hey",
				CreatedAt: &at,
			}},
		})
	})
	_, c := newTestServer(t, mux)

	chat, err := c.GetChat(context.Background(), "u-bob")
	require.NoError(t, err)
	require.Len(t, chat.Messages, 1)
	assert.Equal(t, "hey", chat.Messages[0].Text)
	assert.True(t, at.Equal(*chat.Messages[0].CreatedAt))
	assert.Equal(t, "Bob", chat.Participants[0].FirstName)
}

func TestClient_GetUserUnwrapsEnvelope(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /user/{id}", func(w http.ResponseWriter, r *http.Request) {
		requireToken(t, r)
		_, _ = fmt.Fprintf(w, `{"user":{"_id":%q,"firstName":"Bob","lastName":"Builder","photoUrl":"p.png"}}`, r.PathValue("id"))
	})
	_, c := newTestServer(t, mux)

	u, err := c.GetUser(context.Background(), "u-bob")
	require.NoError(t, err)
	assert.Equal(t, apiv1.User{ID: "u-bob", FirstName: "Bob", LastName: "Builder", PhotoURL: "p.png"}, u)
}

func TestClient_SendMessage(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat/{id}/message", func(w http.ResponseWriter, r *http.Request) {
		requireToken(t, r)
		var req apiv1.SendMessageRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		_ = json.NewEncoder(w).Encode(apiv1.Chat{Messages: []apiv1.ChatMessage{
			{ID: "m1", Text: "old"},
			{ID: "m2", Text: req.Text, Sender: apiv1.User{ID: "u-alice"}},
		}})
	})
	_, c := newTestServer(t, mux)

	chat, err := c.SendMessage(context.Background(), "u-bob", "hello")
	require.NoError(t, err)
	last, ok := chat.Last()
	require.True(t, ok)
	assert.Equal(t, "m2", last.ID)
	assert.Equal(t, "hello", last.Text)
}

func TestClient_ErrorResponses(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /chat/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"unauthorized","message":"login required"}}`))
	})
	mux.HandleFunc("GET /user/{id}", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such user", http.StatusNotFound)
	})
	_, c := newTestServer(t, mux)

	_, err := c.GetChat(context.Background(), "u-bob")
	require.Error(t, err)
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "unauthorized", apiErr.Code)
	assert.Equal(t, "login required", apiErr.Message)
	assert.True(t, IsUnauthorized(err))

	_, err = c.GetUser(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "no such user")
}

func TestClient_LoginKeepsSessionCookie(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		var u apiv1.LoginRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&u))
		http.SetCookie(w, &http.Cookie{Name: SessionCookieName, Value: "fresh", Path: "/"})
		_ = json.NewEncoder(w).Encode(u)
	})
	mux.HandleFunc("GET /profile", func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie(SessionCookieName)
		if err != nil || ck.Value != "fresh" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(apiv1.User{ID: "u-alice", FirstName: "Alice"})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Empty(t, c.SessionToken())

	_, err = c.Login(context.Background(), apiv1.LoginRequest{ID: "u-alice", FirstName: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, "fresh", c.SessionToken())

	me, err := c.GetProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u-alice", me.ID)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(Options{})
	require.Error(t, err)

	_, err = New(Options{BaseURL: "ftp://example.com"})
	require.Error(t, err)
}
