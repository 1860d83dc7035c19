package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"raha.health/internal/auth"
	"raha.health/internal/profile"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type passwordRequest struct {
	Password     string `json:"password"`
	Confirmation string `json:"confirmPassword"`
}

type recoverRequest struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type profileRequest struct {
	FullName     *string `json:"fullName"`
	Role         *string `json:"role"`
	Organization *string `json:"organization"`
	AvatarURL    *string `json:"avatarUrl"`
}

type oauthResponse struct {
	Status      auth.OAuthStatus `json:"status"`
	RedirectURL string           `json:"redirectUrl,omitempty"`
	User        *auth.User       `json:"user,omitempty"`
}

func (a *API) routeSession() {
	a.mux.HandleFunc("GET /v1/session", a.session(a.getSession))
	a.mux.HandleFunc("GET /v1/session/stream", a.session(a.streamSession))
	a.mux.HandleFunc("POST /v1/session/sign-in", a.session(a.signIn))
	a.mux.HandleFunc("POST /v1/session/sign-up", a.session(a.signUp))
	a.mux.HandleFunc("POST /v1/session/google", a.session(a.signInWithGoogle))
	a.mux.HandleFunc("POST /v1/session/sign-out", a.session(a.signOut))
	a.mux.HandleFunc("POST /v1/session/reset-password", a.session(a.resetPassword))
	a.mux.HandleFunc("POST /v1/session/update-password", a.session(a.updatePassword))
	a.mux.HandleFunc("POST /v1/session/recover", a.session(a.recoverSession))
	a.mux.HandleFunc("PATCH /v1/profile", a.session(a.updateProfile))
}

// session guards handlers that need the session manager.
func (a *API) session(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.deps.Session == nil {
			writeError(w, r, http.StatusServiceUnavailable, "auth gateway not configured")
			return
		}
		h(w, r)
	}
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.deps.Session.AuthState())
}

func (a *API) signIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.deps.Session.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) signUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.deps.Session.SignUp(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) signInWithGoogle(w http.ResponseWriter, r *http.Request) {
	res := a.deps.Session.SignInWithGoogle(r.Context())
	if res.Status == auth.OAuthFailed {
		handleAuthError(w, r, res.Err)
		return
	}
	writeJSON(w, http.StatusOK, oauthResponse{Status: res.Status, RedirectURL: res.RedirectURL, User: res.User})
}

func (a *API) signOut(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Session.SignOut(r.Context()); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.deps.Session.ResetPassword(r.Context(), req.Email); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "sent"})
}

func (a *API) updatePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := auth.ValidatePasswordChange(req.Password, req.Confirmation); err != nil {
		handleAuthError(w, r, err)
		return
	}
	if err := a.deps.Session.UpdatePassword(r.Context(), req.Password); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) recoverSession(w http.ResponseWriter, r *http.Request) {
	var req recoverRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.deps.Session.HandlePasswordReset(r.Context(), req.AccessToken, req.RefreshToken); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.deps.Session.AuthState())
}

func (a *API) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	patch := profile.Patch{
		FullName:     req.FullName,
		Role:         req.Role,
		Organization: req.Organization,
		AvatarURL:    req.AvatarURL,
	}
	if patch.Empty() {
		writeError(w, r, http.StatusBadRequest, "no profile fields to update")
		return
	}
	user, err := a.deps.Session.UpdateProfile(r.Context(), patch)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		err = errors.New("authentication failed")
	}
	var re *auth.RemoteError
	switch {
	case errors.Is(err, auth.ErrValidation):
		writeError(w, r, http.StatusBadRequest, strings.TrimPrefix(err.Error(), auth.ErrValidation.Error()+": "))
	case errors.Is(err, auth.ErrNotAuthenticated):
		writeError(w, r, http.StatusUnauthorized, "not signed in")
	case errors.Is(err, auth.ErrNoProfileStore):
		writeError(w, r, http.StatusServiceUnavailable, "profile store not configured")
	case errors.As(err, &re):
		switch re.Kind {
		case auth.RemoteInvalidCredentials, auth.RemoteUnconfirmedEmail:
			writeError(w, r, http.StatusUnauthorized, re.Message)
		case auth.RemoteRateLimited:
			w.Header().Set("Retry-After", "60")
			writeError(w, r, http.StatusTooManyRequests, re.Message)
		default:
			writeError(w, r, http.StatusBadGateway, re.Message)
		}
	default:
		writeError(w, r, http.StatusBadGateway, err.Error())
	}
}
