package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"raha.health/internal/profile"
	"raha.health/internal/stream"
)

type fakeGateway struct {
	mu sync.Mutex

	session    *Session
	sessionErr error

	signInSession *Session
	signInErr     error
	signInCalls   int

	signUpIdentity *Identity
	signUpErr      error
	signUpReq      SignUpRequest

	oauthURL      string
	oauthErr      error
	oauthRedirect string

	signOutErr error

	resetEmail    string
	resetRedirect string

	updateAttrs UserAttributes
	updateErr   error

	setSession    *Session
	setSessionErr error

	events *stream.Stream[SessionEvent]
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{events: stream.New[SessionEvent](8)}
}

func (g *fakeGateway) Session(ctx context.Context) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session, g.sessionErr
}

func (g *fakeGateway) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.signInCalls++
	return g.signInSession, g.signInErr
}

func (g *fakeGateway) SignUp(ctx context.Context, req SignUpRequest) (*Identity, *Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.signUpReq = req
	return g.signUpIdentity, nil, g.signUpErr
}

func (g *fakeGateway) SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.oauthRedirect = redirectTo
	return g.oauthURL, g.oauthErr
}

func (g *fakeGateway) SignOut(ctx context.Context) error { return g.signOutErr }

func (g *fakeGateway) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	g.resetEmail, g.resetRedirect = email, redirectTo
	return nil
}

func (g *fakeGateway) UpdateUser(ctx context.Context, attrs UserAttributes) (*Identity, error) {
	g.updateAttrs = attrs
	if g.updateErr != nil {
		return nil, g.updateErr
	}
	return &Identity{ID: "u1"}, nil
}

func (g *fakeGateway) SetSession(ctx context.Context, accessToken, refreshToken string) (*Session, error) {
	return g.setSession, g.setSessionErr
}

func (g *fakeGateway) Subscribe(ctx context.Context) <-chan SessionEvent {
	return g.events.Subscribe(ctx)
}

type failingProfiles struct{ profile.Gateway }

func (failingProfiles) Get(ctx context.Context, userID string) (*profile.Profile, error) {
	return nil, errors.New("connection refused")
}

type recorder struct {
	mu     sync.Mutex
	states []AuthState
	signal chan struct{}
}

func newRecorder() *recorder { return &recorder{signal: make(chan struct{}, 64)} }

func (r *recorder) listen(s AuthState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
	r.signal <- struct{}{}
}

func (r *recorder) phases() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Phase, len(r.states))
	for i, s := range r.states {
		out[i] = s.Phase
	}
	return out
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.signal:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transition")
	}
}

func samePhases(a, b []Phase) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func identity(id, email string, meta map[string]any) Identity {
	return Identity{ID: id, Email: email, Metadata: meta}
}

func newTestManager(gw Gateway, opts ...Option) *Manager {
	return NewManager(gw, append([]Option{WithLogger(zap.NewNop())}, opts...)...)
}

func TestInitializeWithoutSession(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	gw := newFakeGateway()
	m := newTestManager(gw)
	if st := m.AuthState(); st.Phase != PhaseLoading || st.User != nil {
		t.Fatalf("initial state = %+v", st)
	}
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if st := m.AuthState(); st.Phase != PhaseUnauthenticated {
		t.Fatalf("phase = %s", st.Phase)
	}
	m.Close()
}

func TestInitializeResolvesProfile(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx := context.Background()
	profiles := profile.NewMemory()
	if _, err := profiles.Upsert(ctx, profile.Profile{UserID: "u1", FullName: "Dana", Role: "charge_nurse", Organization: "org-default"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	gw := newFakeGateway()
	gw.session = &Session{AccessToken: "a", Identity: identity("u1", "dana@example.com", nil)}

	m := newTestManager(gw, WithProfiles(profiles))
	defer m.Close()
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	st := m.AuthState()
	if !st.IsAuthenticated() || st.User == nil {
		t.Fatalf("state = %+v", st)
	}
	if st.User.Name != "Dana" || st.User.Role != "charge_nurse" || st.User.Organization != "org-default" {
		t.Fatalf("user = %+v", st.User)
	}
}

func TestInitializeSessionErrorIsUnauthenticated(t *testing.T) {
	gw := newFakeGateway()
	gw.sessionErr = &GatewayError{Status: 500, Message: "upstream down"}
	m := newTestManager(gw)
	defer m.Close()

	err := m.Initialize(context.Background())
	var re *RemoteError
	if !errors.As(err, &re) || re.Message != "upstream down" {
		t.Fatalf("expected remote error, got %v", err)
	}
	if st := m.AuthState(); st.Phase != PhaseUnauthenticated {
		t.Fatalf("phase = %s", st.Phase)
	}
}

func TestProfileFailureFallsBackToClaims(t *testing.T) {
	cases := []struct {
		name string
		meta map[string]any
		want string
	}{
		{"full name", map[string]any{"full_name": "Ana Ruiz", "name": "ana"}, "Ana Ruiz"},
		{"name only", map[string]any{"name": "ana"}, "ana"},
		{"no metadata", nil, "User"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw := newFakeGateway()
			gw.signInSession = &Session{Identity: identity("u9", "ana@example.com", tc.meta)}
			m := newTestManager(gw, WithProfiles(failingProfiles{}))

			user, err := m.SignIn(context.Background(), "ana@example.com", "secret1")
			if err != nil {
				t.Fatalf("SignIn: %v", err)
			}
			if user.Name != tc.want || user.Role != DefaultRole || user.ID != "u9" || user.Email != "ana@example.com" {
				t.Fatalf("user = %+v", user)
			}
			if !m.AuthState().IsAuthenticated() {
				t.Fatal("profile failure must not block authentication")
			}
		})
	}
}

func TestSignInErrorClassification(t *testing.T) {
	cases := []struct {
		remote   string
		wantKind RemoteKind
		wantMsg  string
	}{
		{"Invalid login credentials", RemoteInvalidCredentials, MsgInvalidCredentials},
		{"Email not confirmed", RemoteUnconfirmedEmail, MsgUnconfirmedEmail},
		{"Too many requests", RemoteRateLimited, MsgRateLimited},
		{"Database error querying schema", RemoteGeneric, "Database error querying schema"},
	}
	for _, tc := range cases {
		t.Run(tc.remote, func(t *testing.T) {
			gw := newFakeGateway()
			gw.signInErr = &GatewayError{Status: 400, Message: tc.remote}
			m := newTestManager(gw)
			m.transition(AuthState{Phase: PhaseUnauthenticated})

			rec := newRecorder()
			unsubscribe := m.Subscribe(rec.listen)
			defer unsubscribe()

			_, err := m.SignIn(context.Background(), "nurse@example.com", "pw")
			var re *RemoteError
			if !errors.As(err, &re) {
				t.Fatalf("expected *RemoteError, got %T %v", err, err)
			}
			if re.Kind != tc.wantKind || re.Error() != tc.wantMsg {
				t.Fatalf("got kind=%s msg=%q", re.Kind, re.Error())
			}
			want := []Phase{PhaseLoading, PhaseUnauthenticated}
			if got := rec.phases(); !samePhases(got, want) {
				t.Fatalf("transitions = %v, want %v", got, want)
			}
		})
	}
}

func TestSignInSuccessTransitions(t *testing.T) {
	gw := newFakeGateway()
	gw.signInSession = &Session{Identity: identity("u1", "n@example.com", map[string]any{"full_name": "Nia"})}
	m := newTestManager(gw)
	m.transition(AuthState{Phase: PhaseUnauthenticated})

	rec := newRecorder()
	defer m.Subscribe(rec.listen)()

	if _, err := m.SignIn(context.Background(), "n@example.com", "pw"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	want := []Phase{PhaseLoading, PhaseAuthenticated}
	if got := rec.phases(); !samePhases(got, want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
}

func TestSignInValidationSkipsGateway(t *testing.T) {
	gw := newFakeGateway()
	m := newTestManager(gw)
	rec := newRecorder()
	defer m.Subscribe(rec.listen)()

	for _, in := range [][2]string{{"", "pw"}, {"not-an-email", "pw"}, {"a@b.c", ""}} {
		if _, err := m.SignIn(context.Background(), in[0], in[1]); !errors.Is(err, ErrValidation) {
			t.Fatalf("SignIn(%q, %q) = %v, want ErrValidation", in[0], in[1], err)
		}
	}
	if gw.signInCalls != 0 {
		t.Fatalf("gateway called %d times", gw.signInCalls)
	}
	if n := len(rec.phases()); n != 0 {
		t.Fatalf("unexpected %d transitions", n)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	m := newTestManager(newFakeGateway())
	rec := newRecorder()
	unsubscribe := m.Subscribe(rec.listen)

	m.transition(AuthState{Phase: PhaseUnauthenticated})
	unsubscribe()
	unsubscribe()
	m.transition(AuthState{Phase: PhaseAuthenticated, User: &User{ID: "u1"}})

	if got := rec.phases(); !samePhases(got, []Phase{PhaseUnauthenticated}) {
		t.Fatalf("transitions = %v", got)
	}
}

func TestSubscribersSeeTransitionsInOrder(t *testing.T) {
	m := newTestManager(newFakeGateway())
	var mu sync.Mutex
	var a, b []Phase
	defer m.Subscribe(func(s AuthState) { mu.Lock(); a = append(a, s.Phase); mu.Unlock() })()
	defer m.Subscribe(func(s AuthState) { mu.Lock(); b = append(b, s.Phase); mu.Unlock() })()

	seq := []Phase{PhaseUnauthenticated, PhaseLoading, PhaseAuthenticated, PhaseUnauthenticated}
	for _, p := range seq {
		m.transition(AuthState{Phase: p})
	}
	if !samePhases(a, seq) || !samePhases(b, seq) {
		t.Fatalf("a=%v b=%v", a, b)
	}
}

func TestWatcherAppliesSessionEvents(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	gw := newFakeGateway()
	m := newTestManager(gw)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	rec := newRecorder()
	defer m.Subscribe(rec.listen)()

	gw.events.Publish(SessionEvent{Kind: EventSignedIn, Session: &Session{Identity: identity("u3", "x@example.com", nil)}})
	rec.wait(t)
	if st := m.AuthState(); !st.IsAuthenticated() || st.User.ID != "u3" {
		t.Fatalf("after SIGNED_IN state = %+v", st)
	}

	gw.events.Publish(SessionEvent{Kind: EventSignedOut})
	rec.wait(t)
	if st := m.AuthState(); st.Phase != PhaseUnauthenticated || st.User != nil {
		t.Fatalf("after SIGNED_OUT state = %+v", st)
	}

	m.Close()
	m.Close()
}

func TestSignUpDefaultsNameAndRestoresState(t *testing.T) {
	gw := newFakeGateway()
	gw.signUpIdentity = &Identity{ID: "new", Email: "sam.lee@example.com"}
	m := newTestManager(gw, WithRedirectBase("https://raha.example/"))
	m.transition(AuthState{Phase: PhaseUnauthenticated})

	user, err := m.SignUp(context.Background(), "sam.lee@example.com", "secret1", "")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if user.Name != "sam.lee" || user.Role != DefaultRole {
		t.Fatalf("user = %+v", user)
	}
	if gw.signUpReq.Metadata["full_name"] != "sam.lee" || gw.signUpReq.RedirectTo != "https://raha.example/app" {
		t.Fatalf("request = %+v", gw.signUpReq)
	}
	if st := m.AuthState(); st.Phase != PhaseUnauthenticated {
		t.Fatalf("phase = %s", st.Phase)
	}

	if _, err := m.SignUp(context.Background(), "sam@example.com", "123", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("short password: %v", err)
	}
}

func TestSignInWithGoogle(t *testing.T) {
	t.Run("redirecting", func(t *testing.T) {
		gw := newFakeGateway()
		gw.oauthURL = "https://auth.example/authorize?provider=google"
		m := newTestManager(gw)
		m.transition(AuthState{Phase: PhaseUnauthenticated})

		res := m.SignInWithGoogle(context.Background())
		if res.Status != OAuthRedirecting || res.RedirectURL != gw.oauthURL {
			t.Fatalf("result = %+v", res)
		}
		if m.AuthState().Phase != PhaseLoading {
			t.Fatal("expected Loading while redirecting")
		}
		if gw.oauthRedirect != DefaultRedirectBase+"/app" {
			t.Fatalf("redirect = %q", gw.oauthRedirect)
		}
	})
	t.Run("completed", func(t *testing.T) {
		gw := newFakeGateway()
		gw.session = &Session{Identity: identity("g1", "g@example.com", map[string]any{"name": "Gia"})}
		m := newTestManager(gw)

		res := m.SignInWithGoogle(context.Background())
		if res.Status != OAuthCompleted || res.User == nil || res.User.Name != "Gia" {
			t.Fatalf("result = %+v", res)
		}
		if !m.AuthState().IsAuthenticated() {
			t.Fatal("expected Authenticated")
		}
	})
	t.Run("failed", func(t *testing.T) {
		gw := newFakeGateway()
		gw.oauthErr = &GatewayError{Status: 400, Message: "Unsupported provider"}
		m := newTestManager(gw)
		m.transition(AuthState{Phase: PhaseUnauthenticated})

		res := m.SignInWithGoogle(context.Background())
		if res.Status != OAuthFailed || res.Err == nil || res.Err.Error() != "Unsupported provider" {
			t.Fatalf("result = %+v", res)
		}
		if m.AuthState().Phase != PhaseUnauthenticated {
			t.Fatal("failure must restore previous state")
		}
	})
}

func TestSignOut(t *testing.T) {
	gw := newFakeGateway()
	m := newTestManager(gw)
	m.transition(AuthState{Phase: PhaseAuthenticated, User: &User{ID: "u1"}})

	gw.signOutErr = &GatewayError{Message: "network error"}
	if err := m.SignOut(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if !m.AuthState().IsAuthenticated() {
		t.Fatal("failed sign-out must keep the session")
	}

	gw.signOutErr = nil
	if err := m.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if st := m.AuthState(); st.Phase != PhaseUnauthenticated || st.User != nil {
		t.Fatalf("state = %+v", st)
	}
}

func TestPasswordFlows(t *testing.T) {
	gw := newFakeGateway()
	m := newTestManager(gw)
	ctx := context.Background()

	if err := m.ResetPassword(ctx, " nurse@example.com "); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if gw.resetEmail != "nurse@example.com" || gw.resetRedirect != DefaultRedirectBase+"/reset-password" {
		t.Fatalf("reset = %q %q", gw.resetEmail, gw.resetRedirect)
	}

	if err := m.UpdatePassword(ctx, "12345"); !errors.Is(err, ErrValidation) {
		t.Fatalf("UpdatePassword short: %v", err)
	}
	if err := m.UpdatePassword(ctx, "123456"); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	if gw.updateAttrs.Password != "123456" {
		t.Fatalf("attrs = %+v", gw.updateAttrs)
	}

	if err := m.HandlePasswordReset(ctx, "", "r"); !errors.Is(err, ErrValidation) {
		t.Fatalf("HandlePasswordReset blank: %v", err)
	}
	gw.setSession = &Session{Identity: identity("u5", "r@example.com", nil)}
	if err := m.HandlePasswordReset(ctx, "a", "r"); err != nil {
		t.Fatalf("HandlePasswordReset: %v", err)
	}
	if st := m.AuthState(); !st.IsAuthenticated() || st.User.ID != "u5" {
		t.Fatalf("state = %+v", st)
	}
}

func TestValidatePasswordChange(t *testing.T) {
	cases := []struct {
		pw, confirm string
		ok          bool
	}{
		{"secret1", "secret1", true},
		{"secret1", "secret2", false},
		{"abc", "abc", false},
		{"abcdef", "abcdef", true},
	}
	for _, tc := range cases {
		err := ValidatePasswordChange(tc.pw, tc.confirm)
		if (err == nil) != tc.ok {
			t.Fatalf("ValidatePasswordChange(%q, %q) = %v", tc.pw, tc.confirm, err)
		}
		if err != nil && !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	}
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	profiles := profile.NewMemory()
	if _, err := profiles.Upsert(ctx, profile.Profile{UserID: "u1", FullName: "Old"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	m := newTestManager(newFakeGateway(), WithProfiles(profiles))

	if _, err := m.UpdateProfile(ctx, profile.Patch{FullName: profile.StringPtr("New")}); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}

	m.transition(AuthState{Phase: PhaseAuthenticated, User: &User{ID: "u1", Email: "u1@example.com", Name: "Old", Role: DefaultRole}})
	user, err := m.UpdateProfile(ctx, profile.Patch{FullName: profile.StringPtr("New"), Organization: profile.StringPtr("org-default")})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if user.Name != "New" || user.Organization != "org-default" || user.Email != "u1@example.com" {
		t.Fatalf("user = %+v", user)
	}
	if got := m.AuthState().User; got == nil || got.Name != "New" {
		t.Fatalf("state user = %+v", got)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := ContextWithUser(context.Background(), " user-42 ", []string{"Admin", "admin", "viewer"})
	if id, ok := UserIDFromContext(ctx); !ok || id != "user-42" {
		t.Fatalf("UserIDFromContext = %q %v", id, ok)
	}
	if roles := RolesFromContext(ctx); len(roles) != 2 {
		t.Fatalf("roles = %v", roles)
	}
	if !HasRole(ctx, "ADMIN") || HasRole(ctx, "owner") {
		t.Fatal("HasRole mismatch")
	}
	if _, ok := UserIDFromContext(ContextWithState(context.Background(), AuthState{Phase: PhaseLoading})); ok {
		t.Fatal("Loading state without user must not set identity")
	}
}
