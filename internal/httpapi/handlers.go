// Package httpapi is the loopback HTTP surface the UI shell talks to. It exposes
// the session manager, the device note store, analytics and the admin facade.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"raha.health/internal/admin"
	"raha.health/internal/analytics"
	"raha.health/internal/auth"
	"raha.health/internal/notes"
	"raha.health/internal/obs"
)

const (
	serviceName         = "rahad"
	defaultMaxBodyBytes = 1 << 20
)

// ReadyProbe pings the databases the daemon depends on. Nil entries are skipped.
type ReadyProbe struct {
	DBs []*sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	for _, db := range rp.DBs {
		if db == nil {
			continue
		}
		if err := db.PingContext(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Deps are the components served by the API. Session may be nil when no auth
// gateway is configured; session routes then answer 503.
type Deps struct {
	Session        *auth.Manager
	Notes          *notes.Store
	Analytics      *analytics.Aggregator
	Admin          *admin.Facade
	Ready          ReadyProbe
	OrganizationID string
	Version        string
	Commit         string
}

type API struct {
	mux  *http.ServeMux
	deps Deps
	now  func() time.Time

	rateBurst    int
	ratePerSec   float64
	origins      []string
	maxBodyBytes int64
}

type Option func(*API)

// WithRateLimit sets the per-IP token bucket. A non-positive rate disables limiting.
func WithRateLimit(burst int, perSecond float64) Option {
	return func(a *API) {
		a.rateBurst = burst
		a.ratePerSec = perSecond
	}
}

// WithAllowedOrigins adds CORS origins beyond loopback.
func WithAllowedOrigins(origins ...string) Option {
	return func(a *API) { a.origins = append(a.origins, origins...) }
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

func WithClock(fn func() time.Time) Option {
	return func(a *API) {
		if fn != nil {
			a.now = fn
		}
	}
}

func New(deps Deps, opts ...Option) *API {
	if deps.OrganizationID == "" {
		deps.OrganizationID = admin.DefaultOrganizationID
	}
	a := &API{
		mux:          http.NewServeMux(),
		deps:         deps,
		now:          time.Now,
		rateBurst:    40,
		ratePerSec:   20,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.routeSession()
	a.routeNotes()
	a.routeAnalytics()
	a.routeAdmin()

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	return a
}

// Handler returns the instrumented middleware chain around the router.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withIdentity(h)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	if a.ratePerSec > 0 {
		h = RateLimit(h, a.rateBurst, a.ratePerSec)
	}
	h = CORS(h, a.origins...)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	h = Recover(h)
	return obs.Instrument(h)
}

// withIdentity copies the signed-in user into the request context so audit
// entries name the acting user.
func (a *API) withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.deps.Session != nil {
			st := a.deps.Session.AuthState()
			ctx := auth.ContextWithState(r.Context(), st)
			if st.IsAuthenticated() && st.User != nil {
				ctx = auth.ContextWithUser(ctx, st.User.ID, []string{st.User.Role})
			}
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.deps.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.deps.Ready.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":         serviceName,
		"time":         a.now().UTC().Format(time.RFC3339),
		"version":      a.deps.Version,
		"commit":       a.deps.Commit,
		"organization": a.deps.OrganizationID,
		"online":       a.deps.Session != nil,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// queryInt reads a non-negative integer parameter, returning def when absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}
