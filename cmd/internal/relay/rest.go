package relay

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	apiv1 "devmatch/contracts/api/v1"
)

// SessionCookieName is the credential cookie shared by REST and websocket.
const SessionCookieName = "token"

// RESTConfig tunes the REST handler.
type RESTConfig struct {
	CookieSecure   bool
	CookieSameSite http.SameSite
	MaxBodyBytes   int64

	// Login attempts allowed per client IP per window. Negative disables.
	LoginRateEvents int
	LoginRateWindow time.Duration
	// TrustProxy makes X-Forwarded-For / X-Real-IP the client address.
	TrustProxy bool
}

func (c RESTConfig) withDefaults() RESTConfig {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = maxBodyBytes
	}
	if c.LoginRateEvents == 0 {
		c.LoginRateEvents = loginRateEvents
	}
	if c.LoginRateWindow <= 0 {
		c.LoginRateWindow = loginRateWindow
	}
	if c.CookieSameSite == 0 {
		c.CookieSameSite = http.SameSiteLaxMode
	}
	return c
}

// REST serves the chat REST surface: login, profile, users and chats.
type REST struct {
	log      *slog.Logger
	store    Store
	sessions *Sessions
	metrics  *Metrics
	cfg      RESTConfig
	logins   *KeyedLimiter
	now      func() time.Time
}

// NewREST constructs the REST handler. store and sessions are required.
func NewREST(log *slog.Logger, store Store, sessions *Sessions, metrics *Metrics, cfg RESTConfig) (*REST, error) {
	if store == nil {
		return nil, errors.New("relay: nil store")
	}
	if sessions == nil {
		return nil, errors.New("relay: nil sessions")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	cfg = cfg.withDefaults()
	return &REST{
		log:      log,
		store:    store,
		sessions: sessions,
		metrics:  metrics,
		cfg:      cfg,
		logins:   NewKeyedLimiter(cfg.LoginRateEvents, cfg.LoginRateWindow, loginRateMaxKeys),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Register wires REST routes onto the provided mux.
func (h *REST) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /login", h.handleLogin)
	mux.HandleFunc("GET /profile", h.handleProfile)
	mux.HandleFunc("GET /user/{id}", h.handleUser)
	mux.HandleFunc("GET /chat/{id}", h.handleGetChat)
	mux.HandleFunc("POST /chat/{id}/message", h.handleSendMessage)
}

// ---- handlers ----

func (h *REST) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r, h.cfg.TrustProxy)
	if ok, retry := h.logins.Allow(ip, h.now()); !ok {
		h.log.Warn("relay.login.rate_limited", "ip", ip, "retry_after", retry)
		if secs := int64(math.Ceil(retry.Seconds())); secs > 0 {
			w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		}
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many login attempts")
		return
	}

	var req apiv1.LoginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "_id is required")
		return
	}

	ctx := r.Context()
	now := h.now()

	u, err := h.store.UpsertUser(ctx, req)
	if err != nil {
		h.log.Error("relay.login.upsert.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	tok, exp, err := h.sessions.Issue(ctx, u.ID, now)
	if err != nil {
		h.log.Error("relay.login.issue.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    tok,
		Path:     "/",
		Expires:  exp,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	})

	h.log.Info("relay.login", "user_id", u.ID)
	writeJSON(w, http.StatusOK, u)
}

func (h *REST) handleProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	u, err := h.store.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "not_found", "user not found")
			return
		}
		h.log.Error("relay.profile.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *REST) handleUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAuth(w, r); !ok {
		return
	}

	id := strings.TrimSpace(r.PathValue("id"))
	u, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		h.log.Error("relay.user.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, apiv1.UserResponse{User: u})
}

func (h *REST) handleGetChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	peer, ok := counterpart(w, r, userID)
	if !ok {
		return
	}

	chat, err := h.store.GetChat(r.Context(), userID, peer)
	if err != nil {
		h.log.Error("relay.chat.get.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (h *REST) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	peer, ok := counterpart(w, r, userID)
	if !ok {
		return
	}

	var req apiv1.SendMessageRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if err := validateText(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_text", err.Error())
		return
	}

	chat, err := h.store.AppendMessage(r.Context(), AppendMessageInput{
		SenderID: userID,
		TargetID: peer,
		Text:     req.Text,
		Now:      h.now(),
	})
	if err != nil {
		h.log.Error("relay.chat.append.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	h.metrics.Persisted()
	writeJSON(w, http.StatusOK, chat)
}

// ---- helpers ----

func (h *REST) requireAuth(w http.ResponseWriter, r *http.Request) (string, bool) {
	tok := sessionToken(r)
	if tok == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return "", false
	}
	userID, err := h.sessions.Resolve(r.Context(), tok, h.now())
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			h.log.Error("relay.session.resolve.fail", "err", err)
		}
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return "", false
	}
	return userID, true
}

func sessionToken(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

func counterpart(w http.ResponseWriter, r *http.Request, self string) (string, bool) {
	peer := strings.TrimSpace(r.PathValue("id"))
	if peer == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing counterpart id")
		return "", false
	}
	if peer == self {
		writeError(w, http.StatusBadRequest, "invalid_request", "cannot chat with yourself")
		return "", false
	}
	return peer, true
}

func validateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("empty text")
	}
	if utf8.RuneCountInString(text) > maxMessageChars {
		return errors.New("message too long")
	}
	return nil
}
