package admin

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"raha.health/internal/analytics"
	"raha.health/internal/audit"
	"raha.health/internal/kv"
	"raha.health/internal/profile"
)

// Mutations return resolved=false when the change has no durable backing
// store yet; the attempt is still recorded. Every call records exactly one
// audit entry, including calls rejected with ErrInvalidInput.

// UpdateUserRole applies the role through the profile gateway.
func (f *Facade) UpdateUserRole(ctx context.Context, userID string, role UserRole, organizationID string) (bool, error) {
	userID, err := requireID("user id", userID)
	if err != nil {
		return f.reject(ctx, audit.ActionUpdateUserRole, err)
	}
	if !role.Valid() {
		return f.reject(ctx, audit.ActionUpdateUserRole, invalid(fmt.Sprintf("unknown role %q", role)))
	}

	details := fmt.Sprintf("Updated role to %s", role)
	if f.profiles == nil {
		f.record(ctx, audit.ActionUpdateUserRole, "", details, false)
		return false, nil
	}
	_, err = f.profiles.Update(ctx, userID, profile.Patch{Role: profile.StringPtr(roleToProfile(role))})
	f.record(ctx, audit.ActionUpdateUserRole, "", details, err == nil)
	if err != nil {
		return false, fmt.Errorf("update role for %s: %w", userID, err)
	}
	return true, nil
}

func (f *Facade) UpdateUserStatus(ctx context.Context, userID string, status UserStatus, organizationID string) (bool, error) {
	if _, err := requireID("user id", userID); err != nil {
		return f.reject(ctx, audit.ActionUpdateUserStatus, err)
	}
	if !status.Valid() {
		return f.reject(ctx, audit.ActionUpdateUserStatus, invalid(fmt.Sprintf("unknown status %q", status)))
	}
	f.record(ctx, audit.ActionUpdateUserStatus, string(status), fmt.Sprintf("Updated status to %s", status), false)
	return false, nil
}

func (f *Facade) CreateUserInvite(ctx context.Context, organizationID, email, name string, role UserRole) (bool, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return f.reject(ctx, audit.ActionCreateInvite, invalid("a valid email is required"))
	}
	if !role.Valid() {
		return f.reject(ctx, audit.ActionCreateInvite, invalid(fmt.Sprintf("unknown role %q", role)))
	}
	f.record(ctx, audit.ActionCreateInvite, "", fmt.Sprintf("Invited %s as %s", email, role), false)
	return false, nil
}

// ResetUserUsage marks a usage reset in the analytics event log.
func (f *Facade) ResetUserUsage(ctx context.Context, userID, organizationID string) (bool, error) {
	userID, err := requireID("user id", userID)
	if err != nil {
		return f.reject(ctx, audit.ActionResetUserUsage, err)
	}
	f.analytics.TrackEvent(analytics.EventAdminResetUsage, map[string]any{analytics.DataUserID: userID})
	f.record(ctx, audit.ActionResetUserUsage, "", fmt.Sprintf("Reset usage for user %s", userID), true)
	return true, nil
}

// UpdateOrganizationSecurity merges the patch into the stored organization.
func (f *Facade) UpdateOrganizationSecurity(ctx context.Context, organizationID string, patch SecurityPatch) (bool, error) {
	if patch.SessionTimeoutMinutes != nil && *patch.SessionTimeoutMinutes <= 0 {
		return f.reject(ctx, audit.ActionUpdateOrgSecurity, invalid("session timeout must be positive"))
	}

	f.orgMu.Lock()
	org := f.loadOrganization()
	if patch.HIPAACompliant != nil {
		org.HIPAACompliant = *patch.HIPAACompliant
	}
	if patch.AllowDataExport != nil {
		org.Settings.AllowDataExport = *patch.AllowDataExport
	}
	if patch.RequireMFA != nil {
		org.Settings.RequireMFA = *patch.RequireMFA
	}
	if patch.SessionTimeoutMinutes != nil {
		org.Settings.SessionTimeoutMinutes = *patch.SessionTimeoutMinutes
	}
	org.Settings.Version = SettingsVersion
	err := kv.SaveJSON(f.kv, OrgNamespace, org)
	f.orgMu.Unlock()

	if err != nil {
		f.fail("write", err)
	}
	f.record(ctx, audit.ActionUpdateOrgSecurity, "", "Updated organization security settings", err == nil)
	return err == nil, nil
}

func (f *Facade) CreateTeam(ctx context.Context, organizationID, name, code string, level HIPAALevel) (bool, error) {
	name, err := requireID("team name", name)
	if err != nil {
		return f.reject(ctx, audit.ActionCreateTeam, err)
	}
	if !level.Valid() {
		return f.reject(ctx, audit.ActionCreateTeam, invalid(fmt.Sprintf("unknown hipaa level %q", level)))
	}
	f.record(ctx, audit.ActionCreateTeam, "", fmt.Sprintf("Created team %s (%s)", name, strings.TrimSpace(code)), false)
	return false, nil
}

func (f *Facade) SetUserTeams(ctx context.Context, userID string, teamIDs []string) (bool, error) {
	userID, err := requireID("user id", userID)
	if err != nil {
		return f.reject(ctx, audit.ActionSetUserTeams, err)
	}
	f.record(ctx, audit.ActionSetUserTeams, "", fmt.Sprintf("Assigned user %s to %d team(s)", userID, len(teamIDs)), false)
	return false, nil
}

func (f *Facade) UpdateNoteStatus(ctx context.Context, noteID string, status NoteStatus, organizationID string) (bool, error) {
	noteID, err := requireID("note id", noteID)
	if err != nil {
		return f.reject(ctx, audit.ActionUpdateNoteStatus, err)
	}
	if !status.Valid() {
		return f.reject(ctx, audit.ActionUpdateNoteStatus, invalid(fmt.Sprintf("unknown note status %q", status)))
	}
	f.record(ctx, audit.ActionUpdateNoteStatus, "", fmt.Sprintf("Attempted to update note %s to %s", noteID, status), false)
	return false, nil
}

// LogServiceEvent records a health check performed by a background service.
func (f *Facade) LogServiceEvent(ctx context.Context, organizationID, serviceName string) audit.Entry {
	serviceName = strings.TrimSpace(serviceName)
	if serviceName == "" {
		serviceName = "unknown"
	}
	e := f.audit.Record(ctx, audit.Entry{
		Event:    audit.ActionServiceCheck,
		Actor:    "System",
		Role:     audit.RoleServiceAccount,
		Severity: audit.SeverityLow,
		Details:  fmt.Sprintf("Service check for %s", serviceName),
		Resolved: true,
	})
	f.log.Debug("service check recorded", zap.String("service", serviceName))
	return e
}
