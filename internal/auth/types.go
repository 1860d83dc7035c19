package auth

import "time"

// DefaultRole is assigned to users without a stored profile role.
const DefaultRole = "nurse"

// Phase is the coarse session lifecycle position.
type Phase string

const (
	PhaseLoading         Phase = "loading"
	PhaseAuthenticated   Phase = "authenticated"
	PhaseUnauthenticated Phase = "unauthenticated"
)

// User is the identity exposed to the rest of the application.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	Role         string    `json:"role,omitempty"`
	Organization string    `json:"organization,omitempty"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// AuthState is a snapshot of the session. User is retained while Loading
// during an explicit sign-in so views can keep rendering it.
type AuthState struct {
	Phase Phase `json:"phase"`
	User  *User `json:"user"`
}

// IsLoading reports whether a session check or sign-in is in flight.
func (s AuthState) IsLoading() bool { return s.Phase == PhaseLoading }

// IsAuthenticated reports whether a user is signed in.
func (s AuthState) IsAuthenticated() bool { return s.Phase == PhaseAuthenticated }

func (s AuthState) clone() AuthState {
	if s.User == nil {
		return s
	}
	u := *s.User
	return AuthState{Phase: s.Phase, User: &u}
}

// Identity is the user record held by the remote auth gateway.
type Identity struct {
	ID             string         `json:"id"`
	Email          string         `json:"email"`
	Metadata       map[string]any `json:"user_metadata,omitempty"`
	EmailConfirmed bool           `json:"email_confirmed,omitempty"`
	CreatedAt      time.Time      `json:"created_at,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at,omitempty"`
}

// MetadataString returns a non-empty string metadata value.
func (i Identity) MetadataString(key string) string {
	if i.Metadata == nil {
		return ""
	}
	s, _ := i.Metadata[key].(string)
	return s
}

// Session is an authenticated gateway session.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Identity     Identity  `json:"user"`
}

// SessionEventKind names a session-change notification.
type SessionEventKind string

const (
	EventInitialSession   SessionEventKind = "INITIAL_SESSION"
	EventSignedIn         SessionEventKind = "SIGNED_IN"
	EventSignedOut        SessionEventKind = "SIGNED_OUT"
	EventTokenRefreshed   SessionEventKind = "TOKEN_REFRESHED"
	EventUserUpdated      SessionEventKind = "USER_UPDATED"
	EventPasswordRecovery SessionEventKind = "PASSWORD_RECOVERY"
)

// SessionEvent is pushed by the gateway whenever its session changes.
type SessionEvent struct {
	Kind    SessionEventKind
	Session *Session
}

// SignUpRequest carries the registration form.
type SignUpRequest struct {
	Email      string
	Password   string
	Metadata   map[string]any
	RedirectTo string
}

// UserAttributes lists the identity fields to change on the gateway.
type UserAttributes struct {
	Password string         `json:"password,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// OAuthStatus is the outcome kind of an OAuth sign-in attempt.
type OAuthStatus string

const (
	OAuthRedirecting OAuthStatus = "redirecting"
	OAuthCompleted   OAuthStatus = "completed"
	OAuthFailed      OAuthStatus = "failed"
)

// OAuthResult is returned by SignInWithGoogle. Exactly one of RedirectURL, User
// or Err is meaningful, selected by Status.
type OAuthResult struct {
	Status      OAuthStatus
	RedirectURL string
	User        *User
	Err         error
}
