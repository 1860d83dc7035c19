package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"raha.health/internal/admin"
	"raha.health/internal/analytics"
	"raha.health/internal/audit"
	"raha.health/internal/auth"
	"raha.health/internal/kv"
	"raha.health/internal/notes"
	"raha.health/internal/obs"
	"raha.health/internal/profile"
	"raha.health/internal/stream"
)

type fakeGateway struct {
	mu        sync.Mutex
	password  string
	identity  auth.Identity
	signedOut bool
	events    *stream.Stream[auth.SessionEvent]
}

func (g *fakeGateway) Session(ctx context.Context) (*auth.Session, error) { return nil, nil }

func (g *fakeGateway) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if email != g.identity.Email || password != g.password {
		return nil, &auth.GatewayError{Status: http.StatusBadRequest, Message: "Invalid login credentials"}
	}
	return &auth.Session{AccessToken: "at", RefreshToken: "rt", Identity: g.identity}, nil
}

func (g *fakeGateway) SignUp(ctx context.Context, req auth.SignUpRequest) (*auth.Identity, *auth.Session, error) {
	return &auth.Identity{ID: "new-user", Email: req.Email, Metadata: req.Metadata}, nil, nil
}

func (g *fakeGateway) SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error) {
	return "https://auth.example/authorize?provider=" + provider, nil
}

func (g *fakeGateway) SignOut(ctx context.Context) error {
	g.mu.Lock()
	g.signedOut = true
	g.mu.Unlock()
	return nil
}

func (g *fakeGateway) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	return nil
}

func (g *fakeGateway) UpdateUser(ctx context.Context, attrs auth.UserAttributes) (*auth.Identity, error) {
	id := g.identity
	return &id, nil
}

func (g *fakeGateway) SetSession(ctx context.Context, accessToken, refreshToken string) (*auth.Session, error) {
	return &auth.Session{AccessToken: accessToken, RefreshToken: refreshToken, Identity: g.identity}, nil
}

func (g *fakeGateway) Subscribe(ctx context.Context) <-chan auth.SessionEvent {
	return g.events.Subscribe(ctx)
}

type testEnv struct {
	t        *testing.T
	srv      *httptest.Server
	notes    *notes.Store
	audit    *audit.Log
	profiles *profile.Memory
	manager  *auth.Manager
}

func newTestEnv(t *testing.T, online bool) *testEnv {
	t.Helper()
	restore := obs.SetLogger(zap.NewNop())
	t.Cleanup(restore)

	substrate := kv.NewMemory()
	env := &testEnv{
		t:        t,
		notes:    notes.NewStore(substrate),
		audit:    audit.NewLog(substrate),
		profiles: profile.NewMemory(),
	}
	agg := analytics.New(substrate)
	deps := Deps{
		Notes:     env.notes,
		Analytics: agg,
		Admin: admin.New(substrate, env.notes, agg, env.audit,
			admin.WithProfiles(env.profiles), admin.WithLogger(zap.NewNop())),
		Version: "test",
	}
	if online {
		gw := &fakeGateway{
			password: "secret1",
			identity: auth.Identity{ID: "user-1", Email: "nurse@raha.health", Metadata: map[string]any{"full_name": "Amina"}},
			events:   stream.New[auth.SessionEvent](4),
		}
		t.Cleanup(gw.events.Close)
		env.manager = auth.NewManager(gw, auth.WithProfiles(env.profiles), auth.WithLogger(zap.NewNop()))
		t.Cleanup(env.manager.Close)
		deps.Session = env.manager
	}

	api := New(deps, WithRateLimit(100, 100))
	env.srv = httptest.NewServer(api.Handler())
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) do(method, path string, body any) (*http.Response, map[string]any) {
	e.t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		e.t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		e.t.Fatalf("read body: %v", err)
	}
	var out map[string]any
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			e.t.Fatalf("decode %s %s body %q: %v", method, path, raw, err)
		}
	}
	return resp, out
}

func (e *testEnv) expect(method, path string, body any, code int) map[string]any {
	e.t.Helper()
	resp, out := e.do(method, path, body)
	if resp.StatusCode != code {
		e.t.Fatalf("%s %s: expected %d, got %d (%v)", method, path, code, resp.StatusCode, out)
	}
	return out
}

func TestHealthAndInfo(t *testing.T) {
	env := newTestEnv(t, false)

	out := env.expect(http.MethodGet, "/healthz", nil, http.StatusOK)
	if out["status"] != "ok" || out["version"] != "test" {
		t.Fatalf("unexpected health: %v", out)
	}
	env.expect(http.MethodGet, "/readyz", nil, http.StatusOK)
	info := env.expect(http.MethodGet, "/v1/info", nil, http.StatusOK)
	if info["organization"] != admin.DefaultOrganizationID || info["online"] != false {
		t.Fatalf("unexpected info: %v", info)
	}
	env.expect(http.MethodGet, "/nope", nil, http.StatusNotFound)
	env.expect(http.MethodGet, "/v1/session", nil, http.StatusServiceUnavailable)
}

func TestNotesLifecycle(t *testing.T) {
	env := newTestEnv(t, false)

	saved := env.expect(http.MethodPut, "/v1/notes/n1", map[string]any{
		"template": "SOAP",
		"content":  "BP 120/80",
		"id":       "ignored",
	}, http.StatusOK)
	if saved["id"] != "n1" || saved["content"] != "BP 120/80" || saved["savedAt"] == nil {
		t.Fatalf("unexpected saved note: %v", saved)
	}

	got := env.expect(http.MethodGet, "/v1/notes/n1", nil, http.StatusOK)
	if got["template"] != "SOAP" {
		t.Fatalf("unexpected note: %v", got)
	}

	env.expect(http.MethodPut, "/v1/notes/n2", map[string]any{"content": "later"}, http.StatusOK)
	list := env.expect(http.MethodGet, "/v1/notes?limit=1", nil, http.StatusOK)
	if list["total"] != float64(2) || len(list["notes"].([]any)) != 1 {
		t.Fatalf("unexpected list: %v", list)
	}
	env.expect(http.MethodGet, "/v1/notes?limit=-1", nil, http.StatusBadRequest)

	resp, _ := env.do(http.MethodDelete, "/v1/notes/n1", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	env.expect(http.MethodGet, "/v1/notes/n1", nil, http.StatusNotFound)
	env.expect(http.MethodPut, "/v1/notes/%20", map[string]any{"content": "x"}, http.StatusBadRequest)

	padded := env.expect(http.MethodPut, "/v1/notes/%20n3%20", map[string]any{"content": "padded"}, http.StatusOK)
	if padded["id"] != " n3 " {
		t.Fatalf("padded id not kept: %v", padded)
	}
	env.expect(http.MethodGet, "/v1/notes/%20n3%20", nil, http.StatusOK)
}

func TestAnalyticsRoutes(t *testing.T) {
	env := newTestEnv(t, false)

	sum := env.expect(http.MethodGet, "/v1/analytics/summary", nil, http.StatusOK)
	if sum["averageAccuracy"] != analytics.DefaultAccuracy {
		t.Fatalf("unexpected default summary: %v", sum)
	}
	env.expect(http.MethodPost, "/v1/analytics/summary", map[string]any{"totalNotes": 2, "totalTimeSaved": 7.5}, http.StatusOK)
	sum = env.expect(http.MethodPost, "/v1/analytics/summary", map[string]any{"totalNotes": 1, "totalTimeSaved": 2.5}, http.StatusOK)
	if sum["totalNotes"] != float64(3) || sum["totalTimeSaved"] != float64(10) {
		t.Fatalf("expected accumulated summary, got %v", sum)
	}

	resp, _ := env.do(http.MethodPost, "/v1/analytics/events", map[string]any{"type": "note_created", "data": map[string]any{"timeSavedMinutes": 5}})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	env.expect(http.MethodPost, "/v1/analytics/events", map[string]any{"type": " "}, http.StatusBadRequest)
	env.expect(http.MethodPost, "/v1/analytics/events", map[string]any{"kind": "x"}, http.StatusBadRequest)
}

func TestAdminOffline(t *testing.T) {
	env := newTestEnv(t, false)

	dash := env.expect(http.MethodGet, "/v1/admin/dashboard?range=7", nil, http.StatusOK)
	if len(dash["analytics"].([]any)) != 7 {
		t.Fatalf("expected 7 analytics buckets, got %v", dash["analytics"])
	}
	year := env.expect(http.MethodGet, "/v1/admin/dashboard?range=366", nil, http.StatusOK)
	if len(year["analytics"].([]any)) != 366 {
		t.Fatalf("expected 366 analytics buckets, got %d", len(year["analytics"].([]any)))
	}
	env.expect(http.MethodGet, "/v1/admin/dashboard?range=367", nil, http.StatusBadRequest)
	org := dash["organization"].(map[string]any)
	if org["id"] != admin.DefaultOrganizationID {
		t.Fatalf("unexpected organization: %v", org)
	}

	tests := []struct {
		name    string
		method  string
		path    string
		body    any
		code    int
		success bool
	}{
		{"invalid role", http.MethodPost, "/v1/admin/users/u1/role", map[string]any{"role": "Janitor"}, http.StatusBadRequest, false},
		{"status has no store", http.MethodPost, "/v1/admin/users/u1/status", map[string]any{"status": "suspended"}, http.StatusOK, false},
		{"reset usage", http.MethodPost, "/v1/admin/users/u1/reset-usage", nil, http.StatusOK, true},
		{"teams", http.MethodPost, "/v1/admin/users/u1/teams", map[string]any{"teamIds": []string{"t1"}}, http.StatusOK, false},
		{"invite", http.MethodPost, "/v1/admin/invites", map[string]any{"email": "new@raha.health", "name": "New", "role": "Clinician"}, http.StatusOK, false},
		{"team", http.MethodPost, "/v1/admin/teams", map[string]any{"name": "ICU", "code": "ICU1", "hipaaLevel": "full"}, http.StatusOK, false},
		{"note status", http.MethodPost, "/v1/admin/notes/n1/status", map[string]any{"status": "reviewed"}, http.StatusOK, false},
		{"bad note status", http.MethodPost, "/v1/admin/notes/n1/status", map[string]any{"status": "lost"}, http.StatusBadRequest, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := env.expect(tc.method, tc.path, tc.body, tc.code)
			if tc.code == http.StatusOK && out["success"] != tc.success {
				t.Fatalf("expected success=%v, got %v", tc.success, out)
			}
		})
	}

	sec := env.expect(http.MethodPatch, "/v1/admin/organization/security", map[string]any{"requireMFA": true, "sessionTimeout": 15}, http.StatusOK)
	settings := sec["organization"].(map[string]any)["settings"].(map[string]any)
	if sec["success"] != true || settings["requireMFA"] != true || settings["sessionTimeout"] != float64(15) {
		t.Fatalf("unexpected security response: %v", sec)
	}

	entries := env.audit.Entries()
	if len(entries) != 9 {
		t.Fatalf("expected 9 audit entries, got %d", len(entries))
	}
	if entries[0].Event != audit.ActionUpdateOrgSecurity || entries[0].Actor != admin.DefaultActor {
		t.Fatalf("unexpected newest entry: %+v", entries[0])
	}

	logs := env.expect(http.MethodGet, "/v1/admin/audit?limit=2", nil, http.StatusOK)
	if len(logs["logs"].([]any)) != 2 {
		t.Fatalf("expected 2 raw logs, got %v", logs["logs"])
	}

	ev := env.expect(http.MethodPost, "/v1/admin/service-events", map[string]any{"service": "sync"}, http.StatusCreated)
	if ev["actor"] != "System" || ev["resolved"] != true {
		t.Fatalf("unexpected service event: %v", ev)
	}
	orgs := env.expect(http.MethodGet, "/v1/admin/organizations", nil, http.StatusOK)
	if len(orgs["organizations"].([]any)) != 1 {
		t.Fatalf("unexpected organizations: %v", orgs)
	}
}

func TestSessionFlow(t *testing.T) {
	env := newTestEnv(t, true)

	env.expect(http.MethodGet, "/v1/admin/dashboard", nil, http.StatusUnauthorized)

	out := env.expect(http.MethodPost, "/v1/session/sign-in", map[string]any{"email": "nurse@raha.health", "password": "wrong"}, http.StatusUnauthorized)
	if out["error"] != auth.MsgInvalidCredentials {
		t.Fatalf("unexpected sign-in error: %v", out)
	}
	env.expect(http.MethodPost, "/v1/session/sign-in", map[string]any{"email": "not-an-email", "password": "x"}, http.StatusBadRequest)

	user := env.expect(http.MethodPost, "/v1/session/sign-in", map[string]any{"email": "nurse@raha.health", "password": "secret1"}, http.StatusOK)
	if user["id"] != "user-1" || user["name"] != "Amina" {
		t.Fatalf("unexpected user: %v", user)
	}
	st := env.expect(http.MethodGet, "/v1/session", nil, http.StatusOK)
	if st["phase"] != string(auth.PhaseAuthenticated) {
		t.Fatalf("expected authenticated, got %v", st)
	}

	env.expect(http.MethodPost, "/v1/admin/users/user-2/status", map[string]any{"status": "active"}, http.StatusOK)
	if got := env.audit.Entries()[0].Actor; got != "user-1" {
		t.Fatalf("expected audit actor user-1, got %q", got)
	}

	mismatch := env.expect(http.MethodPost, "/v1/session/update-password", map[string]any{"password": "abcdef", "confirmPassword": "abcdeg"}, http.StatusBadRequest)
	if mismatch["error"] != "Passwords do not match" {
		t.Fatalf("unexpected password error: %v", mismatch)
	}
	resp, _ := env.do(http.MethodPost, "/v1/session/update-password", map[string]any{"password": "abcdef", "confirmPassword": "abcdef"})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	if _, err := env.profiles.Upsert(context.Background(), profile.Profile{UserID: "user-1", Email: "nurse@raha.health"}); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	updated := env.expect(http.MethodPatch, "/v1/profile", map[string]any{"fullName": "Amina K."}, http.StatusOK)
	if updated["name"] != "Amina K." {
		t.Fatalf("unexpected profile update: %v", updated)
	}
	env.expect(http.MethodPatch, "/v1/profile", map[string]any{}, http.StatusBadRequest)

	google := env.expect(http.MethodPost, "/v1/session/google", nil, http.StatusOK)
	if google["status"] != string(auth.OAuthRedirecting) || !strings.Contains(google["redirectUrl"].(string), "provider=google") {
		t.Fatalf("unexpected oauth response: %v", google)
	}

	resp, _ = env.do(http.MethodPost, "/v1/session/sign-out", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	st = env.expect(http.MethodGet, "/v1/session", nil, http.StatusOK)
	if st["phase"] != string(auth.PhaseUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", st)
	}
}

func TestSessionStream(t *testing.T) {
	env := newTestEnv(t, true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/v1/session/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := env.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	phases := make(chan string, 8)
	go func() {
		defer close(phases)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			line := sc.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var st auth.AuthState
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &st) == nil {
				phases <- string(st.Phase)
			}
		}
	}()

	if got := <-phases; got != string(auth.PhaseLoading) {
		t.Fatalf("expected initial loading state, got %q", got)
	}

	env.expect(http.MethodPost, "/v1/session/sign-in", map[string]any{"email": "nurse@raha.health", "password": "secret1"}, http.StatusOK)
	for {
		select {
		case got, ok := <-phases:
			if !ok {
				t.Fatal("stream closed before authenticated state")
			}
			if got == string(auth.PhaseAuthenticated) {
				return
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for authenticated state")
		}
	}
}
