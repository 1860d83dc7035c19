package gotrue

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"raha.health/internal/auth"
)

type tokenResponse struct {
	AccessToken  string   `json:"access_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int64    `json:"expires_in"`
	ExpiresAt    int64    `json:"expires_at"`
	RefreshToken string   `json:"refresh_token"`
	User         userJSON `json:"user"`
}

// signUpResponse is either a full session or, while confirmation is pending,
// the bare user object.
type signUpResponse struct {
	tokenResponse
	userJSON
}

func (r *signUpResponse) UnmarshalJSON(b []byte) error {
	if err := json.Unmarshal(b, &r.tokenResponse); err != nil {
		return err
	}
	return json.Unmarshal(b, &r.userJSON)
}

type userJSON struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at"`
	UserMetadata     map[string]any `json:"user_metadata"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func (u userJSON) identity() auth.Identity {
	return auth.Identity{
		ID:             u.ID,
		Email:          u.Email,
		Metadata:       u.UserMetadata,
		EmailConfirmed: u.EmailConfirmedAt != nil,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}

// errorBody covers the error shapes GoTrue has used across versions.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func decodeError(status int, raw []byte) error {
	if status == http.StatusTooManyRequests {
		return &auth.GatewayError{Status: status, Message: "Too many requests"}
	}
	var eb errorBody
	_ = json.Unmarshal(raw, &eb)
	msg := eb.ErrorDescription
	for _, alt := range []string{eb.Msg, eb.Message, eb.Error, strings.TrimSpace(string(raw)), http.StatusText(status)} {
		if msg != "" {
			break
		}
		msg = alt
	}
	return &auth.GatewayError{Status: status, Message: msg}
}
