// Package auth owns the session lifecycle: it resolves the signed-in user
// against the remote gateways and broadcasts every state transition in order.
package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"raha.health/internal/obs"
	"raha.health/internal/profile"
)

// DefaultRedirectBase is used when no redirect base is configured.
const DefaultRedirectBase = "http://localhost:8080"

const (
	appPath           = "/app"
	resetPasswordPath = "/reset-password"
)

// Listener receives every state transition. Listeners run synchronously on the
// transitioning goroutine and must not start another transition themselves.
type Listener func(AuthState)

type subscription struct {
	id     uint64
	fn     Listener
	active atomic.Bool
}

// Manager holds the AuthState for one device context.
type Manager struct {
	gateway      Gateway
	profiles     profile.Gateway
	log          *zap.Logger
	redirectBase string

	transitionMu sync.Mutex

	mu      sync.RWMutex
	state   AuthState
	subs    []*subscription
	nextSub uint64

	watchMu     sync.Mutex
	cancelWatch context.CancelFunc
	watchDone   chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithProfiles sets the profile gateway used to enrich users. Without it every
// user is built from the session claims.
func WithProfiles(p profile.Gateway) Option {
	return func(m *Manager) { m.profiles = p }
}

// WithRedirectBase sets the origin used for email and OAuth redirect targets.
func WithRedirectBase(base string) Option {
	return func(m *Manager) {
		if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
			m.redirectBase = base
		}
	}
}

// WithLogger overrides the process logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// NewManager creates a manager in the Loading phase.
func NewManager(gw Gateway, opts ...Option) *Manager {
	m := &Manager{
		gateway:      gw,
		redirectBase: DefaultRedirectBase,
		state:        AuthState{Phase: PhaseLoading},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = obs.Logger()
	}
	return m
}

// Initialize resolves the current session and starts watching gateway
// notifications for the lifetime of the manager. Calling it again only
// re-resolves the session.
func (m *Manager) Initialize(ctx context.Context) error {
	sess, err := m.gateway.Session(ctx)
	switch {
	case err != nil:
		m.log.Error("session lookup failed", zap.Error(err))
		m.transition(AuthState{Phase: PhaseUnauthenticated})
	case sess != nil:
		user := m.resolveUser(ctx, sess.Identity)
		m.transition(AuthState{Phase: PhaseAuthenticated, User: &user})
	default:
		m.transition(AuthState{Phase: PhaseUnauthenticated})
	}
	m.startWatcher()
	if err != nil {
		return remoteError(err, "Failed to load session")
	}
	return nil
}

func (m *Manager) startWatcher() {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	if m.cancelWatch != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancelWatch = cancel
	m.watchDone = done

	events := m.gateway.Subscribe(ctx)
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				m.handleEvent(ctx, ev)
			}
		}
	}()
}

func (m *Manager) handleEvent(ctx context.Context, ev SessionEvent) {
	m.log.Debug("session event", zap.String("event", string(ev.Kind)))
	if ev.Session == nil || ev.Kind == EventSignedOut {
		m.transition(AuthState{Phase: PhaseUnauthenticated})
		return
	}
	user := m.resolveUser(ctx, ev.Session.Identity)
	m.transition(AuthState{Phase: PhaseAuthenticated, User: &user})
}

// Close stops the notification watcher. The manager keeps its last state.
func (m *Manager) Close() {
	m.watchMu.Lock()
	cancel, done := m.cancelWatch, m.watchDone
	m.cancelWatch, m.watchDone = nil, nil
	m.watchMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// AuthState returns a snapshot of the current state.
func (m *Manager) AuthState() AuthState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.clone()
}

// Subscribe registers fn for every later transition. Once the returned function
// returns, transitions that begin afterwards never invoke fn.
func (m *Manager) Subscribe(fn Listener) (unsubscribe func()) {
	m.mu.Lock()
	m.nextSub++
	sub := &subscription{id: m.nextSub, fn: fn}
	sub.active.Store(true)
	m.subs = append(m.subs, sub)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, s := range m.subs {
				if s == sub {
					m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
					break
				}
			}
		})
	}
}

// transition sets the state and delivers it to every subscriber before the
// next transition may begin.
func (m *Manager) transition(next AuthState) {
	m.transitionMu.Lock()
	defer m.transitionMu.Unlock()

	m.mu.Lock()
	m.state = next.clone()
	subs := make([]*subscription, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	obs.SessionTransitions.WithLabelValues(string(next.Phase)).Inc()
	for _, s := range subs {
		if s.active.Load() {
			s.fn(next.clone())
		}
	}
}

// resolveUser builds the application user. Profile failures fall back to the
// session claims so they never block authentication.
func (m *Manager) resolveUser(ctx context.Context, id Identity) User {
	var p *profile.Profile
	if m.profiles != nil {
		var err error
		p, err = m.profiles.Get(ctx, id.ID)
		if err != nil {
			m.log.Warn("profile lookup failed", zap.String("user_id", id.ID), zap.Error(err))
			p = nil
		}
	}
	if p == nil {
		return fallbackUser(id)
	}
	u := User{
		ID:           id.ID,
		Email:        id.Email,
		Name:         firstNonEmpty(p.FullName, id.MetadataString("full_name")),
		Role:         firstNonEmpty(p.Role, DefaultRole),
		Organization: p.Organization,
		AvatarURL:    firstNonEmpty(p.AvatarURL, id.MetadataString("avatar_url")),
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
	return u
}

func fallbackUser(id Identity) User {
	updated := id.UpdatedAt
	if updated.IsZero() {
		updated = id.CreatedAt
	}
	return User{
		ID:        id.ID,
		Email:     id.Email,
		Name:      firstNonEmpty(id.MetadataString("full_name"), id.MetadataString("name"), "User"),
		Role:      DefaultRole,
		AvatarURL: id.MetadataString("avatar_url"),
		CreatedAt: id.CreatedAt,
		UpdatedAt: updated,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (m *Manager) redirect(path string) string {
	return m.redirectBase + path
}

// beginLoading moves to Loading while keeping the current user and returns the
// state to restore on failure.
func (m *Manager) beginLoading() AuthState {
	prev := m.AuthState()
	m.transition(AuthState{Phase: PhaseLoading, User: prev.User})
	return prev
}

// SignIn authenticates with email and password.
func (m *Manager) SignIn(ctx context.Context, email, password string) (User, error) {
	email, err := validateEmail(email)
	if err != nil {
		return User{}, err
	}
	if password == "" {
		return User{}, validationError("Password is required")
	}

	prev := m.beginLoading()
	sess, err := m.gateway.SignInWithPassword(ctx, email, password)
	if err != nil {
		m.transition(prev)
		cerr := ClassifySignInError(err)
		m.log.Warn("sign in failed", zap.Error(cerr))
		return User{}, cerr
	}
	if sess == nil {
		m.transition(prev)
		return User{}, &RemoteError{Kind: RemoteGeneric, Message: "Sign in failed - no user data returned"}
	}
	user := m.resolveUser(ctx, sess.Identity)
	m.transition(AuthState{Phase: PhaseAuthenticated, User: &user})
	return user, nil
}

// SignUp registers a new account. The name defaults to the local part of the
// email. When the gateway opens a session right away, the resulting
// notification authenticates the manager.
func (m *Manager) SignUp(ctx context.Context, email, password, name string) (User, error) {
	email, err := validateEmail(email)
	if err != nil {
		return User{}, err
	}
	if err := validatePassword(password); err != nil {
		return User{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}

	prev := m.beginLoading()
	id, _, err := m.gateway.SignUp(ctx, SignUpRequest{
		Email:      email,
		Password:   password,
		Metadata:   map[string]any{"full_name": name},
		RedirectTo: m.redirect(appPath),
	})
	m.transition(prev)
	if err != nil {
		return User{}, remoteError(err, "Sign up failed")
	}
	if id == nil {
		return User{}, &RemoteError{Kind: RemoteGeneric, Message: "Sign up failed"}
	}
	updated := id.UpdatedAt
	if updated.IsZero() {
		updated = id.CreatedAt
	}
	return User{
		ID:        id.ID,
		Email:     id.Email,
		Name:      firstNonEmpty(name, id.MetadataString("full_name")),
		Role:      DefaultRole,
		AvatarURL: id.MetadataString("avatar_url"),
		CreatedAt: id.CreatedAt,
		UpdatedAt: updated,
	}, nil
}

// SignInWithGoogle starts the Google OAuth flow. On Redirecting the manager
// stays Loading until the gateway reports the resulting session.
func (m *Manager) SignInWithGoogle(ctx context.Context) OAuthResult {
	prev := m.beginLoading()
	url, err := m.gateway.SignInWithOAuth(ctx, "google", m.redirect(appPath))
	if err != nil {
		m.transition(prev)
		return OAuthResult{Status: OAuthFailed, Err: remoteError(err, "Google sign in failed")}
	}
	if url != "" {
		return OAuthResult{Status: OAuthRedirecting, RedirectURL: url}
	}

	sess, err := m.gateway.Session(ctx)
	if err != nil || sess == nil {
		m.transition(prev)
		if err == nil {
			err = errors.New("Google sign in failed")
		}
		return OAuthResult{Status: OAuthFailed, Err: remoteError(err, "Google sign in failed")}
	}
	user := m.resolveUser(ctx, sess.Identity)
	m.transition(AuthState{Phase: PhaseAuthenticated, User: &user})
	return OAuthResult{Status: OAuthCompleted, User: &user}
}

// SignOut ends the session. A gateway failure leaves the state untouched.
func (m *Manager) SignOut(ctx context.Context) error {
	if err := m.gateway.SignOut(ctx); err != nil {
		return remoteError(err, "Sign out failed")
	}
	m.transition(AuthState{Phase: PhaseUnauthenticated})
	return nil
}

// ResetPassword emails a recovery link pointing at the reset page.
func (m *Manager) ResetPassword(ctx context.Context, email string) error {
	email, err := validateEmail(email)
	if err != nil {
		return err
	}
	if err := m.gateway.ResetPasswordForEmail(ctx, email, m.redirect(resetPasswordPath)); err != nil {
		return remoteError(err, "Password reset failed")
	}
	return nil
}

// UpdatePassword changes the signed-in user's password.
func (m *Manager) UpdatePassword(ctx context.Context, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	if _, err := m.gateway.UpdateUser(ctx, UserAttributes{Password: newPassword}); err != nil {
		return remoteError(err, "Password update failed")
	}
	return nil
}

// HandlePasswordReset restores the session carried by a recovery link.
func (m *Manager) HandlePasswordReset(ctx context.Context, accessToken, refreshToken string) error {
	if strings.TrimSpace(accessToken) == "" || strings.TrimSpace(refreshToken) == "" {
		return validationError("Invalid or expired reset link")
	}
	sess, err := m.gateway.SetSession(ctx, accessToken, refreshToken)
	if err != nil {
		return remoteError(err, "Failed to handle password reset")
	}
	if sess != nil {
		user := m.resolveUser(ctx, sess.Identity)
		m.transition(AuthState{Phase: PhaseAuthenticated, User: &user})
	}
	return nil
}

// UpdateProfile writes the patch to the profile gateway and republishes the
// merged user.
func (m *Manager) UpdateProfile(ctx context.Context, patch profile.Patch) (User, error) {
	cur := m.AuthState()
	if cur.User == nil {
		return User{}, ErrNotAuthenticated
	}
	if m.profiles == nil {
		return User{}, ErrNoProfileStore
	}
	p, err := m.profiles.Update(ctx, cur.User.ID, patch)
	if err != nil {
		return User{}, remoteError(err, "Profile update failed")
	}
	if p == nil {
		return User{}, &RemoteError{Kind: RemoteGeneric, Message: "Profile update failed"}
	}
	user := *cur.User
	user.Name = p.FullName
	user.Role = p.Role
	user.Organization = p.Organization
	user.AvatarURL = p.AvatarURL
	user.UpdatedAt = p.UpdatedAt
	m.transition(AuthState{Phase: cur.Phase, User: &user})
	return user, nil
}
