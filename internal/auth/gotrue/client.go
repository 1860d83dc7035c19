// Package gotrue is the remote auth gateway: a client for GoTrue-compatible
// REST endpoints that keeps its session tokens in the device key-value store.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"raha.health/internal/auth"
	"raha.health/internal/kv"
	"raha.health/internal/obs"
	"raha.health/internal/stream"
)

// SessionKey is the device KV key holding the persisted session tokens.
const SessionKey = "raha_session"

const (
	defaultSignInPerMinute = 10
	refreshMargin          = 10 * time.Second
	maxErrorBody           = 64 << 10
)

var _ auth.Gateway = (*Client)(nil)

// Client talks to a GoTrue server and implements auth.Gateway.
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	store      kv.Store
	secret     []byte
	limiter    *rate.Limiter
	events     *stream.Stream[auth.SessionEvent]
	now        func() time.Time
	log        *zap.Logger

	mu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the transport.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithJWTSecret enables HS256 verification of access tokens.
func WithJWTSecret(secret string) Option {
	return func(c *Client) {
		if s := strings.TrimSpace(secret); s != "" {
			c.secret = []byte(s)
		}
	}
}

// WithSignInRate caps password sign-in attempts per minute. Non-positive disables the cap.
func WithSignInRate(perMinute int) Option {
	return func(c *Client) {
		if perMinute <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a client for the GoTrue server at baseURL (for example
// https://project.supabase.co/auth/v1).
func New(baseURL, anonKey string, store kv.Store, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("gotrue: base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("gotrue: invalid base url %q: %w", baseURL, err)
	}
	if store == nil {
		return nil, errors.New("gotrue: session store is required")
	}
	c := &Client{
		baseURL:    baseURL,
		anonKey:    anonKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		store:      store,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/defaultSignInPerMinute), defaultSignInPerMinute),
		events:     stream.New[auth.SessionEvent](0),
		now:        time.Now,
		log:        obs.Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close ends every notification subscription.
func (c *Client) Close() { c.events.Close() }

// Subscribe implements auth.Gateway.
func (c *Client) Subscribe(ctx context.Context) <-chan auth.SessionEvent {
	return c.events.Subscribe(ctx)
}

// Session returns the persisted session, refreshing it when the access token
// is about to expire. A refresh rejected by the server clears the session.
func (c *Client) Session(ctx context.Context) (*auth.Session, error) {
	sess, err := c.loadSession()
	if err != nil || sess == nil {
		return nil, err
	}
	if c.now().Add(refreshMargin).Before(sess.ExpiresAt) {
		return sess, nil
	}
	refreshed, err := c.refresh(ctx, sess.RefreshToken, auth.EventTokenRefreshed)
	if err != nil {
		var ge *auth.GatewayError
		if errors.As(err, &ge) && ge.Status >= 400 && ge.Status < 500 {
			c.log.Info("stored session rejected on refresh", zap.Error(err))
			c.clearSession()
			return nil, nil
		}
		return nil, err
	}
	return refreshed, nil
}

// RefreshSession rotates the stored tokens.
func (c *Client) RefreshSession(ctx context.Context) (*auth.Session, error) {
	sess, err := c.loadSession()
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, &auth.GatewayError{Status: http.StatusUnauthorized, Message: "Auth session missing!"}
	}
	return c.refresh(ctx, sess.RefreshToken, auth.EventTokenRefreshed)
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	if c.limiter != nil && !c.limiter.Allow() {
		return nil, &auth.GatewayError{Status: http.StatusTooManyRequests, Message: "Too many requests"}
	}
	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, "/token?grant_type=password", "", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return c.acceptSession(resp, auth.EventSignedIn)
}

func (c *Client) SignUp(ctx context.Context, req auth.SignUpRequest) (*auth.Identity, *auth.Session, error) {
	body := map[string]any{
		"email":    req.Email,
		"password": req.Password,
	}
	if len(req.Metadata) > 0 {
		body["data"] = req.Metadata
	}
	var resp signUpResponse
	if err := c.do(ctx, http.MethodPost, "/signup"+redirectQuery(req.RedirectTo), "", body, &resp); err != nil {
		return nil, nil, err
	}
	if resp.AccessToken != "" {
		sess, err := c.acceptSession(resp.tokenResponse, auth.EventSignedIn)
		if err != nil {
			return nil, nil, err
		}
		id := sess.Identity
		return &id, sess, nil
	}
	id := resp.userJSON.identity()
	if id.ID == "" {
		return nil, nil, &auth.GatewayError{Message: "Sign up failed"}
	}
	return &id, nil, nil
}

// SignInWithOAuth builds the provider authorize URL; the browser completes the flow.
func (c *Client) SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error) {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return "", &auth.GatewayError{Status: http.StatusBadRequest, Message: "provider is required"}
	}
	q := url.Values{}
	q.Set("provider", provider)
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	return c.baseURL + "/authorize?" + q.Encode(), nil
}

// SignOut revokes the session remotely and clears it locally. A server that
// no longer knows the session is treated as success.
func (c *Client) SignOut(ctx context.Context) error {
	sess, err := c.loadSession()
	if err != nil {
		return err
	}
	if sess != nil {
		err := c.do(ctx, http.MethodPost, "/logout", sess.AccessToken, nil, nil)
		var ge *auth.GatewayError
		if err != nil && !(errors.As(err, &ge) && (ge.Status == http.StatusUnauthorized || ge.Status == http.StatusForbidden || ge.Status == http.StatusNotFound)) {
			return err
		}
	}
	c.clearSession()
	c.events.Publish(auth.SessionEvent{Kind: auth.EventSignedOut})
	return nil
}

func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	return c.do(ctx, http.MethodPost, "/recover"+redirectQuery(redirectTo), "", map[string]string{"email": email}, nil)
}

func (c *Client) UpdateUser(ctx context.Context, attrs auth.UserAttributes) (*auth.Identity, error) {
	sess, err := c.loadSession()
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, &auth.GatewayError{Status: http.StatusUnauthorized, Message: "Auth session missing!"}
	}
	var u userJSON
	if err := c.do(ctx, http.MethodPut, "/user", sess.AccessToken, attrs, &u); err != nil {
		return nil, err
	}
	id := u.identity()
	sess.Identity = id
	if err := c.saveSession(sess); err != nil {
		return nil, err
	}
	c.events.Publish(auth.SessionEvent{Kind: auth.EventUserUpdated, Session: sess})
	return &id, nil
}

// SetSession adopts tokens delivered out of band, such as a recovery link.
// Expired access tokens are refreshed first.
func (c *Client) SetSession(ctx context.Context, accessToken, refreshToken string) (*auth.Session, error) {
	claims, err := c.parseClaims(accessToken)
	if err != nil {
		return nil, &auth.GatewayError{Status: http.StatusUnauthorized, Message: "Invalid access token"}
	}
	exp := claims.expiry()
	if !exp.IsZero() && !c.now().Before(exp) {
		return c.refresh(ctx, refreshToken, auth.EventSignedIn)
	}
	var u userJSON
	if err := c.do(ctx, http.MethodGet, "/user", accessToken, nil, &u); err != nil {
		return nil, err
	}
	sess := &auth.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    exp,
		Identity:     u.identity(),
	}
	if err := c.saveSession(sess); err != nil {
		return nil, err
	}
	c.events.Publish(auth.SessionEvent{Kind: auth.EventSignedIn, Session: sess})
	return sess, nil
}

func (c *Client) refresh(ctx context.Context, refreshToken string, kind auth.SessionEventKind) (*auth.Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, &auth.GatewayError{Status: http.StatusBadRequest, Message: "Refresh Token Not Found"}
	}
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "", map[string]string{
		"refresh_token": refreshToken,
	}, &resp); err != nil {
		return nil, err
	}
	return c.acceptSession(resp, kind)
}

func (c *Client) acceptSession(resp tokenResponse, kind auth.SessionEventKind) (*auth.Session, error) {
	if resp.AccessToken == "" {
		return nil, &auth.GatewayError{Message: "no session returned"}
	}
	sess := &auth.Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    c.expiresAt(resp),
		Identity:     resp.User.identity(),
	}
	if err := c.saveSession(sess); err != nil {
		return nil, err
	}
	c.events.Publish(auth.SessionEvent{Kind: kind, Session: sess})
	return sess, nil
}

func (c *Client) expiresAt(resp tokenResponse) time.Time {
	switch {
	case resp.ExpiresAt > 0:
		return time.Unix(resp.ExpiresAt, 0).UTC()
	case resp.ExpiresIn > 0:
		return c.now().Add(time.Duration(resp.ExpiresIn) * time.Second).UTC()
	}
	if claims, err := c.parseClaims(resp.AccessToken); err == nil {
		return claims.expiry()
	}
	return time.Time{}
}

func (c *Client) loadSession() (*auth.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var sess auth.Session
	ok, err := kv.LoadJSON(c.store, SessionKey, &sess)
	if err != nil {
		return nil, err
	}
	if !ok || sess.AccessToken == "" {
		return nil, nil
	}
	return &sess, nil
}

func (c *Client) saveSession(sess *auth.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return kv.SaveJSON(c.store, SessionKey, sess)
}

func (c *Client) clearSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Delete(SessionKey); err != nil {
		c.log.Warn("clear session failed", zap.Error(err))
	}
}

// do sends a JSON request and decodes a JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("gotrue: encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("gotrue: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.anonKey != "" {
		req.Header.Set("apikey", c.anonKey)
	}
	if bearer == "" {
		bearer = c.anonKey
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &auth.GatewayError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gotrue: decode %s response: %w", path, err)
	}
	return nil
}

func redirectQuery(redirectTo string) string {
	if redirectTo == "" {
		return ""
	}
	return "?redirect_to=" + url.QueryEscape(redirectTo)
}
