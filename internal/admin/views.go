package admin

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"raha.health/internal/analytics"
	"raha.health/internal/notes"
	"raha.health/internal/profile"
)

const dayLayout = "2006-01-02"

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DashboardData gathers the organization, stats, analytics series, recent
// notes, audit log and user listing as independent reads.
func (f *Facade) DashboardData(ctx context.Context, organizationID string, rangeDays int) (DashboardData, error) {
	var out DashboardData
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		out.Organization = f.OrganizationSummary(gctx, organizationID)
		return gctx.Err()
	})
	g.Go(func() error {
		out.Stats = f.DashboardStats(gctx, organizationID)
		return gctx.Err()
	})
	g.Go(func() error {
		out.Analytics = f.AnalyticsData(gctx, organizationID, rangeDays)
		return gctx.Err()
	})
	g.Go(func() error {
		out.Notes = f.OrganizationNotes(gctx, organizationID, f.notesLimit)
		return gctx.Err()
	})
	g.Go(func() error {
		out.AuditLogs = f.audit.Entries()
		return gctx.Err()
	})
	g.Go(func() error {
		users, teams, err := f.OrganizationUsersAndTeams(gctx, organizationID)
		if err != nil {
			f.log.Warn("user listing unavailable", zap.Error(err))
		}
		out.Users, out.Teams = users, teams
		return gctx.Err()
	})

	if err := g.Wait(); err != nil {
		return DashboardData{}, err
	}
	return out, nil
}

// DashboardStats derives headline numbers from the rolling summary and the
// event log.
func (f *Facade) DashboardStats(ctx context.Context, organizationID string) Stats {
	summary := f.analytics.Summary()
	now := f.now()
	today := startOfDay(now)

	notesToday := 0
	for _, e := range f.analytics.Events().Between(today, today.AddDate(0, 0, 1)) {
		if e.Type == analytics.EventNoteCreated {
			notesToday++
		}
	}

	totalUsers := 1
	if users, err := f.listProfiles(ctx, organizationID); err != nil {
		f.log.Warn("profile listing failed", zap.Error(err))
	} else if len(users) > 0 {
		totalUsers = len(users)
	}

	return Stats{
		TotalUsers:   totalUsers,
		ActiveUsers:  totalUsers,
		TotalNotes:   summary.TotalNotes,
		NotesToday:   notesToday,
		AvgAccuracy:  summary.AverageAccuracy,
		TimeSaved:    round1(summary.TotalTimeSaved / 60),
		SystemHealth: SystemHealth,
		StorageUsed:  round1(float64(summary.TotalNotes) * StoragePerNote),
		StorageLimit: StorageLimit,
	}
}

// AnalyticsData returns exactly days buckets, oldest first, ending today.
// Buckets use the clock's location for calendar days.
func (f *Facade) AnalyticsData(ctx context.Context, organizationID string, days int) []ChartPoint {
	if days <= 0 {
		return []ChartPoint{}
	}
	defaultAccuracy := f.analytics.Summary().AverageAccuracy
	events := f.analytics.Events().All()
	today := startOfDay(f.now())

	out := make([]ChartPoint, 0, days)
	for i := days - 1; i >= 0; i-- {
		from := today.AddDate(0, 0, -i)
		to := from.AddDate(0, 0, 1)
		out = append(out, bucket(events, from, to, defaultAccuracy))
	}
	return out
}

func bucket(events []analytics.Event, from, to time.Time, defaultAccuracy float64) ChartPoint {
	p := ChartPoint{Date: from.Format(dayLayout), AccuracyRate: defaultAccuracy}
	users := make(map[string]struct{})
	var minutes, accSum float64
	accN := 0
	for _, e := range events {
		if e.Type != analytics.EventNoteCreated || e.Timestamp.Before(from) || !e.Timestamp.Before(to) {
			continue
		}
		p.NotesCreated++
		if uid, _ := e.Data[analytics.DataUserID].(string); uid != "" {
			users[uid] = struct{}{}
		}
		if v, ok := number(e.Data[analytics.DataTimeSavedMinutes]); ok {
			minutes += v
		}
		if v, ok := number(e.Data[analytics.DataAccuracy]); ok {
			accSum += v
			accN++
		}
	}
	p.UsersActive = len(users)
	if accN > 0 {
		p.AccuracyRate = round1(accSum / float64(accN))
	}
	p.TimeSaved = round1(minutes / 60)
	return p
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// OrganizationNotes maps the newest local notes to de-identified records.
func (f *Facade) OrganizationNotes(ctx context.Context, organizationID string, limit int) []NoteRecord {
	if limit <= 0 {
		limit = f.notesLimit
	}
	recent := f.notes.Recent(limit)
	out := make([]NoteRecord, 0, len(recent))
	for _, n := range recent {
		out = append(out, noteRecord(n, f.now))
	}
	return out
}

func noteRecord(n notes.Note, now func() time.Time) NoteRecord {
	template := n.Template()
	if template == "" {
		template = DefaultTemplate
	}
	created := n.SavedAt
	if created.IsZero() {
		created = now().UTC()
	}
	return NoteRecord{
		ID:        n.ID,
		Patient:   PatientPlaceholder,
		MRN:       mrn(n.ID),
		Template:  template,
		Author:    DefaultAuthor,
		Status:    NoteCompleted,
		CreatedAt: created,
		Content:   NoteContentNotice,
	}
}

func mrn(id string) string {
	if id == "" {
		return "MRN-XXXXXX"
	}
	r := []rune(id)
	if len(r) > 6 {
		r = r[:6]
	}
	return "MRN-" + strings.ToUpper(string(r))
}

// AuditLogs returns the newest entries in the flat export shape.
func (f *Facade) AuditLogs(ctx context.Context, organizationID string, limit int) []RawAuditLog {
	if limit <= 0 {
		limit = DefaultAuditLimit
	}
	entries := f.audit.Tail(limit)
	out := make([]RawAuditLog, 0, len(entries))
	for _, e := range entries {
		out = append(out, RawAuditLog{
			ID:        e.ID,
			UserID:    e.Actor,
			Action:    e.Event,
			Resource:  e.Details,
			Timestamp: e.Timestamp,
		})
	}
	return out
}

// OrganizationUsersAndTeams lists the organization's members from the profile
// gateway. Teams have no backing store and are always empty.
func (f *Facade) OrganizationUsersAndTeams(ctx context.Context, organizationID string) ([]DashboardUser, []Team, error) {
	profiles, err := f.listProfiles(ctx, organizationID)
	if err != nil {
		return []DashboardUser{}, []Team{}, err
	}
	weekAgo := f.now().AddDate(0, 0, -7)
	notesThisWeek := make(map[string]int)
	lastActive := make(map[string]time.Time)
	for _, e := range f.analytics.Events().All() {
		uid, _ := e.Data[analytics.DataUserID].(string)
		if uid == "" {
			continue
		}
		if e.Timestamp.After(lastActive[uid]) {
			lastActive[uid] = e.Timestamp
		}
		if e.Type == analytics.EventNoteCreated && !e.Timestamp.Before(weekAgo) {
			notesThisWeek[uid]++
		}
	}

	users := make([]DashboardUser, 0, len(profiles))
	for _, p := range profiles {
		seen, ok := lastActive[p.UserID]
		if !ok {
			seen = p.UpdatedAt
		}
		users = append(users, DashboardUser{
			ID:            p.UserID,
			Name:          p.FullName,
			Email:         p.Email,
			Role:          roleFromProfile(p.Role),
			Status:        StatusActive,
			LastActive:    seen,
			NotesThisWeek: notesThisWeek[p.UserID],
			TeamIDs:       []string{},
			TeamNames:     []string{},
		})
	}
	return users, []Team{}, nil
}

func (f *Facade) listProfiles(ctx context.Context, organizationID string) ([]profile.Profile, error) {
	lister, ok := f.profiles.(profile.Lister)
	if !ok || lister == nil {
		return nil, nil
	}
	if organizationID == "" {
		organizationID = DefaultOrganizationID
	}
	return lister.ListByOrganization(ctx, organizationID)
}

func roleFromProfile(role string) UserRole {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "admin", "administrator":
		return RoleAdministrator
	case "educator":
		return RoleEducator
	case "auditor":
		return RoleAuditor
	default:
		return RoleClinician
	}
}

func roleToProfile(role UserRole) string {
	return strings.ToLower(string(role))
}
