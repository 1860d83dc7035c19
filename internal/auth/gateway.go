package auth

import (
	"context"
	"fmt"
)

// Gateway is the remote identity provider.
type Gateway interface {
	// Session returns the current session or nil when signed out.
	Session(ctx context.Context) (*Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	// SignUp returns the created identity; the session is nil while email
	// confirmation is pending.
	SignUp(ctx context.Context, req SignUpRequest) (*Identity, *Session, error)
	// SignInWithOAuth returns the provider URL to open. An empty URL means the
	// flow completed without a redirect and Session now reports the result.
	SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error)
	SignOut(ctx context.Context) error
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	UpdateUser(ctx context.Context, attrs UserAttributes) (*Identity, error)
	SetSession(ctx context.Context, accessToken, refreshToken string) (*Session, error)
	// Subscribe delivers session-change notifications until ctx ends.
	Subscribe(ctx context.Context) <-chan SessionEvent
}

// GatewayError is a failure reported by the remote gateway.
type GatewayError struct {
	Status  int
	Message string
}

func (e *GatewayError) Error() string {
	if e.Status == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}
