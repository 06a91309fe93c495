// Package api is the credentialed REST client for the devmatch backend's chat
// and profile endpoints. The session is carried as the "token" cookie.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	apiv1 "devmatch/contracts/api/v1"
)

const (
	// SessionCookieName is the backend's session cookie.
	SessionCookieName = "token"

	defaultTimeout  = 15 * time.Second
	maxResponseBody = 4 << 20 // 4 MiB
)

// Options configures New.
type Options struct {
	BaseURL      string
	SessionToken string

	// HTTPClient is used as-is when set; its Jar must be non-nil for Login to
	// capture the session cookie.
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Client talks to the REST backend.
type Client struct {
	base *url.URL
	hc   *http.Client
	log  *slog.Logger
}

// New constructs a Client with a cookie jar seeded with the session token.
func New(opts Options) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if raw == "" {
		return nil, errors.New("api: missing base url")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("api: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api: unsupported scheme %q", base.Scheme)
	}

	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	hc := opts.HTTPClient
	if hc == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("api: cookie jar: %w", err)
		}
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Jar: jar, Timeout: timeout}
	}

	c := &Client{base: base, hc: hc, log: log}
	if tok := strings.TrimSpace(opts.SessionToken); tok != "" {
		c.SetSessionToken(tok)
	}
	return c, nil
}

// SetSessionToken stores tok as the session cookie for the backend.
func (c *Client) SetSessionToken(tok string) {
	if c.hc.Jar == nil {
		return
	}
	c.hc.Jar.SetCookies(c.base, []*http.Cookie{{Name: SessionCookieName, Value: tok, Path: "/"}})
}

// SessionToken returns the current session cookie value, if any.
func (c *Client) SessionToken() string {
	if c.hc.Jar == nil {
		return ""
	}
	for _, ck := range c.hc.Jar.Cookies(c.base) {
		if ck.Name == SessionCookieName {
			return ck.Value
		}
	}
	return ""
}

// GetChat returns the conversation with counterpartID.
func (c *Client) GetChat(ctx context.Context, counterpartID string) (apiv1.Chat, error) {
	var out apiv1.Chat
	err := c.do(ctx, http.MethodGet, "/chat/"+url.PathEscape(counterpartID), nil, &out)
	return out, err
}

// GetUser returns the public profile of userID.
func (c *Client) GetUser(ctx context.Context, userID string) (apiv1.User, error) {
	var out apiv1.UserResponse
	if err := c.do(ctx, http.MethodGet, "/user/"+url.PathEscape(userID), nil, &out); err != nil {
		return apiv1.User{}, err
	}
	return out.User, nil
}

// SendMessage persists text in the conversation with counterpartID.
func (c *Client) SendMessage(ctx context.Context, counterpartID, text string) (apiv1.Chat, error) {
	var out apiv1.Chat
	err := c.do(ctx, http.MethodPost, "/chat/"+url.PathEscape(counterpartID)+"/message", apiv1.SendMessageRequest{Text: text}, &out)
	return out, err
}

// GetProfile returns the logged-in user.
func (c *Client) GetProfile(ctx context.Context) (apiv1.User, error) {
	var out apiv1.User
	err := c.do(ctx, http.MethodGet, "/profile", nil, &out)
	return out, err
}

// Login registers (or refreshes) a user on the dev relay; the relay answers
// with the session cookie, which the jar keeps.
func (c *Client) Login(ctx context.Context, u apiv1.LoginRequest) (apiv1.User, error) {
	var out apiv1.User
	err := c.do(ctx, http.MethodPost, "/login", u, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, dst any) error {
	// path segments are escaped by the callers.
	target := strings.TrimRight(c.base.String(), "/") + path

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: encode %s %s: %w", method, path, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return fmt.Errorf("api: build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.log.Debug("api.request", "method", method, "path", path, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("api: read %s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newError(resp.StatusCode, data)
	}

	if dst == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("api: decode %s %s: %w", method, path, err)
	}
	return nil
}
