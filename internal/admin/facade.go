// Package admin assembles administrative views from the device-local stores
// and the remote profile gateway, and records every mutation to the audit log.
package admin

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"raha.health/internal/analytics"
	"raha.health/internal/audit"
	"raha.health/internal/auth"
	"raha.health/internal/kv"
	"raha.health/internal/notes"
	"raha.health/internal/obs"
	"raha.health/internal/profile"
)

// DefaultActor is recorded when the context carries no user.
const DefaultActor = "Admin"

// Facade is the administrative entry point. Writes to the organization
// record are last-write-wins across processes sharing the device store.
type Facade struct {
	kv        kv.Store
	notes     *notes.Store
	analytics *analytics.Aggregator
	audit     *audit.Log
	profiles  profile.Gateway

	now        func() time.Time
	notesLimit int
	log        *zap.Logger

	orgMu sync.Mutex
}

type Option func(*Facade)

// WithProfiles wires the remote profile gateway used for role changes and
// user listings.
func WithProfiles(p profile.Gateway) Option {
	return func(f *Facade) { f.profiles = p }
}

func WithClock(fn func() time.Time) Option {
	return func(f *Facade) {
		if fn != nil {
			f.now = fn
		}
	}
}

// WithNotesLimit caps how many notes the dashboard lists.
func WithNotesLimit(n int) Option {
	return func(f *Facade) {
		if n > 0 {
			f.notesLimit = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(f *Facade) {
		if l != nil {
			f.log = l
		}
	}
}

func New(substrate kv.Store, n *notes.Store, a *analytics.Aggregator, l *audit.Log, opts ...Option) *Facade {
	f := &Facade{
		kv:         substrate,
		notes:      n,
		analytics:  a,
		audit:      l,
		now:        time.Now,
		notesLimit: DefaultNotesLimit,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.log == nil {
		f.log = obs.Logger()
	}
	return f
}

// ListOrganizations returns every organization known to this device.
func (f *Facade) ListOrganizations(ctx context.Context) []Organization {
	return []Organization{f.OrganizationSummary(ctx, "")}
}

// OrganizationSummary returns the stored organization, creating the default
// record on first read. The device holds a single organization, so the id is
// informational.
func (f *Facade) OrganizationSummary(ctx context.Context, organizationID string) Organization {
	f.orgMu.Lock()
	defer f.orgMu.Unlock()
	return f.loadOrganization()
}

func (f *Facade) loadOrganization() Organization {
	org := DefaultOrganization()
	ok, err := kv.LoadJSON(f.kv, OrgNamespace, &org)
	if err != nil {
		f.fail("read", err)
		return DefaultOrganization()
	}
	if !ok {
		if err := kv.SaveJSON(f.kv, OrgNamespace, org); err != nil {
			f.fail("write", err)
		}
		return org
	}
	if org.Settings.Version < SettingsVersion {
		org.Settings.Version = SettingsVersion
	}
	return org
}

func (f *Facade) fail(op string, err error) {
	obs.StorageFailures.WithLabelValues(OrgNamespace, op).Inc()
	f.log.Error("organization storage failed",
		zap.String("namespace", OrgNamespace),
		zap.String("op", op),
		zap.Error(err),
	)
}

// record appends exactly one audit entry for a mutation.
func (f *Facade) record(ctx context.Context, action, status, details string, resolved bool) audit.Entry {
	actor := DefaultActor
	if id, ok := auth.UserIDFromContext(ctx); ok {
		actor = id
	}
	return f.audit.Record(ctx, audit.Entry{
		Event:    action,
		Actor:    actor,
		Role:     audit.RoleAdministrator,
		Severity: audit.SeverityFor(action, status),
		Details:  details,
		Resolved: resolved,
	})
}

// reject records a mutation that failed validation and returns its error.
func (f *Facade) reject(ctx context.Context, action string, err error) (bool, error) {
	f.record(ctx, action, "", "Rejected: "+strings.TrimPrefix(err.Error(), "admin: "), false)
	return false, err
}

func invalid(msg string) error {
	return &inputError{msg: msg}
}

type inputError struct{ msg string }

func (e *inputError) Error() string { return "admin: " + e.msg }

func (e *inputError) Is(target error) bool { return target == ErrInvalidInput }

func requireID(kind, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", invalid(kind + " is required")
	}
	return v, nil
}
