package relay

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"devmatch/cmd/internal/api"
	"devmatch/cmd/security/token"
	apiv1 "devmatch/contracts/api/v1"

	"github.com/stretchr/testify/require"
)

// testServer runs REST and the websocket gateway on one httptest server.
type testServer struct {
	srv     *httptest.Server
	store   *InMemoryStore
	gateway *Gateway
	metrics *Metrics
}

func startTestServer(t *testing.T, mutate func(*GatewayConfig)) *testServer {
	t.Helper()

	log := slog.New(slog.DiscardHandler)
	store := NewInMemoryStore()
	hasher, err := token.NewHasher(nil)
	require.NoError(t, err)
	sessions := NewSessions(NewInMemorySessionStore(), hasher, time.Hour)
	metrics := NewMetrics()

	rest, err := NewREST(log, store, sessions, metrics, RESTConfig{})
	require.NoError(t, err)

	cfg := DefaultGatewayConfig()
	cfg.OriginRequired = false
	if mutate != nil {
		mutate(&cfg)
	}
	gw, err := NewGateway(log, NewHub(log), store, sessions, metrics, cfg)
	require.NoError(t, err)

	mux := http.NewServeMux()
	rest.Register(mux)
	mux.Handle("/ws", gw)

	ts := &testServer{
		srv:     httptest.NewServer(mux),
		store:   store,
		gateway: gw,
		metrics: metrics,
	}
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"
}

// login registers u and returns an API client holding its session cookie.
func (ts *testServer) login(t *testing.T, u apiv1.User) *api.Client {
	t.Helper()

	c, err := api.New(api.Options{BaseURL: ts.srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = c.Login(ctx, u)
	require.NoError(t, err)
	require.NotEmpty(t, c.SessionToken())
	return c
}
