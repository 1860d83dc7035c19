package audit

import "time"

// Severity grades an administrative action for compliance review.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Action names recorded in Entry.Event.
const (
	ActionUpdateUserRole    = "update_user_role"
	ActionUpdateUserStatus  = "update_user_status"
	ActionCreateInvite      = "create_invite"
	ActionResetUserUsage    = "reset_user_usage"
	ActionUpdateOrgSecurity = "update_org_security"
	ActionCreateTeam        = "create_team"
	ActionSetUserTeams      = "set_user_teams"
	ActionUpdateNoteStatus  = "update_note_status"
	ActionServiceCheck      = "service_check"
)

// Actor roles.
const (
	RoleAdministrator  = "Administrator"
	RoleServiceAccount = "Service Account"
)

// StatusSuspended is the only user status that raises severity.
const StatusSuspended = "suspended"

// Entry is one administrative action. Resolved reports whether the action completed
// against its backing store.
type Entry struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	Actor     string    `json:"actor"`
	Role      string    `json:"role"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestampISO"`
	Details   string    `json:"details"`
	Resolved  bool      `json:"resolved"`
}

// SeverityFor grades an action. status is only consulted for user status updates.
func SeverityFor(action, status string) Severity {
	switch action {
	case ActionUpdateUserStatus:
		if status == StatusSuspended {
			return SeverityMedium
		}
		return SeverityLow
	case ActionUpdateOrgSecurity:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
