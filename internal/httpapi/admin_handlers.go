package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"raha.health/internal/admin"
)

type roleRequest struct {
	Role admin.UserRole `json:"role"`
}

type statusRequest struct {
	Status admin.UserStatus `json:"status"`
}

type teamsRequest struct {
	TeamIDs []string `json:"teamIds"`
}

type inviteRequest struct {
	Email string         `json:"email"`
	Name  string         `json:"name"`
	Role  admin.UserRole `json:"role"`
}

type teamRequest struct {
	Name       string           `json:"name"`
	Code       string           `json:"code"`
	HIPAALevel admin.HIPAALevel `json:"hipaaLevel"`
}

type noteStatusRequest struct {
	Status admin.NoteStatus `json:"status"`
}

type serviceEventRequest struct {
	Service string `json:"service"`
}

// mutationResponse mirrors the facade's boolean outcome. Success is false when
// the action was audited but has no backing store.
type mutationResponse struct {
	Success bool `json:"success"`
}

func (a *API) routeAdmin() {
	a.mux.HandleFunc("GET /v1/admin/dashboard", a.admin(a.dashboard))
	a.mux.HandleFunc("GET /v1/admin/audit", a.admin(a.auditLogs))
	a.mux.HandleFunc("GET /v1/admin/organizations", a.admin(a.organizations))
	a.mux.HandleFunc("POST /v1/admin/users/{id}/role", a.admin(a.updateUserRole))
	a.mux.HandleFunc("POST /v1/admin/users/{id}/status", a.admin(a.updateUserStatus))
	a.mux.HandleFunc("POST /v1/admin/users/{id}/reset-usage", a.admin(a.resetUserUsage))
	a.mux.HandleFunc("POST /v1/admin/users/{id}/teams", a.admin(a.setUserTeams))
	a.mux.HandleFunc("POST /v1/admin/invites", a.admin(a.createInvite))
	a.mux.HandleFunc("POST /v1/admin/teams", a.admin(a.createTeam))
	a.mux.HandleFunc("PATCH /v1/admin/organization/security", a.admin(a.updateSecurity))
	a.mux.HandleFunc("POST /v1/admin/notes/{id}/status", a.admin(a.updateNoteStatus))
	a.mux.HandleFunc("POST /v1/admin/service-events", a.admin(a.serviceEvent))
}

// admin requires a signed-in user whenever a session manager is configured.
// Offline daemons serve the admin routes to the loopback caller.
func (a *API) admin(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.deps.Admin == nil {
			writeError(w, r, http.StatusServiceUnavailable, "admin facade not configured")
			return
		}
		if a.deps.Session != nil && !a.deps.Session.AuthState().IsAuthenticated() {
			writeError(w, r, http.StatusUnauthorized, "not signed in")
			return
		}
		h(w, r)
	}
}

func (a *API) orgID(r *http.Request) string {
	if id := strings.TrimSpace(r.URL.Query().Get("organizationId")); id != "" {
		return id
	}
	return a.deps.OrganizationID
}

func (a *API) dashboard(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "range", 30)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if days > admin.MaxAnalyticsDays {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("range must be at most %d days", admin.MaxAnalyticsDays))
		return
	}
	data, err := a.deps.Admin.DashboardData(r.Context(), a.orgID(r), days)
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (a *API) auditLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", admin.DefaultAuditLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logs": a.deps.Admin.AuditLogs(r.Context(), a.orgID(r), limit),
	})
}

func (a *API) organizations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"organizations": a.deps.Admin.ListOrganizations(r.Context()),
	})
}

func (a *API) updateUserRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ok, err := a.deps.Admin.UpdateUserRole(r.Context(), r.PathValue("id"), req.Role, a.orgID(r))
	respondMutation(w, r, ok, err)
}

func (a *API) updateUserStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ok, err := a.deps.Admin.UpdateUserStatus(r.Context(), r.PathValue("id"), req.Status, a.orgID(r))
	respondMutation(w, r, ok, err)
}

func (a *API) resetUserUsage(w http.ResponseWriter, r *http.Request) {
	ok, err := a.deps.Admin.ResetUserUsage(r.Context(), r.PathValue("id"), a.orgID(r))
	respondMutation(w, r, ok, err)
}

func (a *API) setUserTeams(w http.ResponseWriter, r *http.Request) {
	var req teamsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ok, err := a.deps.Admin.SetUserTeams(r.Context(), r.PathValue("id"), req.TeamIDs)
	respondMutation(w, r, ok, err)
}

func (a *API) createInvite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ok, err := a.deps.Admin.CreateUserInvite(r.Context(), a.orgID(r), req.Email, req.Name, req.Role)
	respondMutation(w, r, ok, err)
}

func (a *API) createTeam(w http.ResponseWriter, r *http.Request) {
	var req teamRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ok, err := a.deps.Admin.CreateTeam(r.Context(), a.orgID(r), req.Name, req.Code, req.HIPAALevel)
	respondMutation(w, r, ok, err)
}

func (a *API) updateSecurity(w http.ResponseWriter, r *http.Request) {
	var patch admin.SecurityPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	org := a.orgID(r)
	ok, err := a.deps.Admin.UpdateOrganizationSecurity(r.Context(), org, patch)
	if err != nil {
		respondMutation(w, r, ok, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      ok,
		"organization": a.deps.Admin.OrganizationSummary(r.Context(), org),
	})
}

func (a *API) updateNoteStatus(w http.ResponseWriter, r *http.Request) {
	var req noteStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ok, err := a.deps.Admin.UpdateNoteStatus(r.Context(), r.PathValue("id"), req.Status, a.orgID(r))
	respondMutation(w, r, ok, err)
}

func (a *API) serviceEvent(w http.ResponseWriter, r *http.Request) {
	var req serviceEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, a.deps.Admin.LogServiceEvent(r.Context(), a.orgID(r), req.Service))
}

func respondMutation(w http.ResponseWriter, r *http.Request, ok bool, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, mutationResponse{Success: ok})
	case errors.Is(err, admin.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusBadGateway, err.Error())
	}
}
