package admin

import (
	"errors"
	"time"

	"raha.health/internal/audit"
)

const (
	// OrgNamespace is the device KV key holding the organization record.
	OrgNamespace = "raha_admin_org"

	DefaultOrganizationID = "org-default"
	DefaultNotesLimit     = 200
	DefaultAuditLimit     = 50
	// MaxAnalyticsDays bounds the dashboard range accepted over HTTP.
	MaxAnalyticsDays = 366

	// SettingsVersion is bumped whenever Settings gains a field.
	SettingsVersion = 1

	// SystemHealth is an estimate; nothing measures it yet.
	SystemHealth = 99.5
	// StorageLimit is the storage quota shown on the dashboard, in GB.
	StorageLimit = 10.0
	// StoragePerNote is the estimated storage cost of one note, in GB.
	StoragePerNote = 0.02

	PatientPlaceholder = "Protected Health Information"
	NoteContentNotice  = "Note content stored locally."
	DefaultTemplate    = "SOAP"
	DefaultAuthor      = "Current User"

	// NoticeNoBackingStore is shown when a mutation could not be applied
	// because its durable store does not exist yet.
	NoticeNoBackingStore = "This change was logged but cannot be applied until the backing table is available."
)

var ErrInvalidInput = errors.New("admin: invalid input")

// Settings is the versioned organization security configuration. New fields
// must be additive; stored records decode onto DefaultOrganization.
type Settings struct {
	Version               int  `json:"version"`
	AllowDataExport       bool `json:"allowDataExport"`
	RequireMFA            bool `json:"requireMFA"`
	SessionTimeoutMinutes int  `json:"sessionTimeout"`
}

type Organization struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	HIPAACompliant bool     `json:"hipaaCompliant"`
	Settings       Settings `json:"settings"`
}

// DefaultOrganization is the record used until an organization is stored.
func DefaultOrganization() Organization {
	return Organization{
		ID:             DefaultOrganizationID,
		Name:           "Raha Healthcare",
		Type:           "clinic",
		HIPAACompliant: true,
		Settings: Settings{
			Version:               SettingsVersion,
			AllowDataExport:       true,
			RequireMFA:            false,
			SessionTimeoutMinutes: 30,
		},
	}
}

// SecurityPatch changes organization security settings; nil fields are kept.
type SecurityPatch struct {
	HIPAACompliant        *bool `json:"hipaaCompliant,omitempty"`
	AllowDataExport       *bool `json:"allowDataExport,omitempty"`
	RequireMFA            *bool `json:"requireMFA,omitempty"`
	SessionTimeoutMinutes *int  `json:"sessionTimeout,omitempty"`
}

type UserRole string

const (
	RoleAdministrator UserRole = "Administrator"
	RoleClinician     UserRole = "Clinician"
	RoleEducator      UserRole = "Educator"
	RoleAuditor       UserRole = "Auditor"
)

func (r UserRole) Valid() bool {
	switch r {
	case RoleAdministrator, RoleClinician, RoleEducator, RoleAuditor:
		return true
	}
	return false
}

type UserStatus string

const (
	StatusActive    UserStatus = "active"
	StatusInvited   UserStatus = "invited"
	StatusSuspended UserStatus = audit.StatusSuspended
)

func (s UserStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInvited, StatusSuspended:
		return true
	}
	return false
}

type HIPAALevel string

const (
	HIPAAFull    HIPAALevel = "full"
	HIPAALimited HIPAALevel = "limited"
	HIPAANone    HIPAALevel = "none"
)

func (l HIPAALevel) Valid() bool {
	switch l {
	case HIPAAFull, HIPAALimited, HIPAANone:
		return true
	}
	return false
}

type NoteStatus string

const (
	NoteDraft     NoteStatus = "draft"
	NoteCompleted NoteStatus = "completed"
	NoteReviewed  NoteStatus = "reviewed"
	NoteArchived  NoteStatus = "archived"
)

func (s NoteStatus) Valid() bool {
	switch s {
	case NoteDraft, NoteCompleted, NoteReviewed, NoteArchived:
		return true
	}
	return false
}

type Stats struct {
	TotalUsers   int     `json:"totalUsers"`
	ActiveUsers  int     `json:"activeUsers"`
	TotalNotes   int     `json:"totalNotes"`
	NotesToday   int     `json:"notesToday"`
	AvgAccuracy  float64 `json:"avgAccuracy"`
	TimeSaved    float64 `json:"timeSaved"`
	SystemHealth float64 `json:"systemHealth"`
	StorageUsed  float64 `json:"storageUsed"`
	StorageLimit float64 `json:"storageLimit"`
}

// NoteRecord is the de-identified view of a local note. It never carries the
// note's clinical content.
type NoteRecord struct {
	ID        string     `json:"id"`
	Patient   string     `json:"patient"`
	MRN       string     `json:"mrn"`
	Template  string     `json:"template"`
	Author    string     `json:"author"`
	Status    NoteStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	Content   string     `json:"content"`
}

// ChartPoint is one calendar-day analytics bucket.
type ChartPoint struct {
	Date         string  `json:"date"`
	NotesCreated int     `json:"notesCreated"`
	UsersActive  int     `json:"usersActive"`
	AccuracyRate float64 `json:"accuracyRate"`
	TimeSaved    float64 `json:"timeSaved"`
}

type DashboardUser struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	Role          UserRole   `json:"role"`
	Status        UserStatus `json:"status"`
	LastActive    time.Time  `json:"lastActiveISO"`
	NotesThisWeek int        `json:"notesThisWeek"`
	TeamIDs       []string   `json:"teamIds"`
	TeamNames     []string   `json:"teamNames"`
}

type Team struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Code        string     `json:"code"`
	HIPAALevel  HIPAALevel `json:"hipaaLevel"`
	MemberCount int        `json:"memberCount"`
}

// DashboardData is assembled per request and never persisted.
type DashboardData struct {
	Organization Organization    `json:"organization"`
	Stats        Stats           `json:"stats"`
	Analytics    []ChartPoint    `json:"analytics"`
	Notes        []NoteRecord    `json:"notes"`
	AuditLogs    []audit.Entry   `json:"auditLogs"`
	Users        []DashboardUser `json:"users"`
	Teams        []Team          `json:"teams"`
}

// RawAuditLog is the flat audit view consumed by export tooling.
type RawAuditLog struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	Timestamp time.Time `json:"timestamp"`
}
