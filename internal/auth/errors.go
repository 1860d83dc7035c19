package auth

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation is wrapped by every input check made before a remote call.
	ErrValidation       = errors.New("auth: validation failed")
	ErrNotAuthenticated = errors.New("auth: not authenticated")
	ErrNoProfileStore   = errors.New("auth: profile store not configured")
)

const (
	MsgInvalidCredentials = "Invalid email or password. Please check your credentials and try again."
	MsgUnconfirmedEmail   = "Please check your email and click the confirmation link before signing in."
	MsgRateLimited        = "Too many sign-in attempts. Please wait a few minutes and try again."
)

// MinPasswordLength matches the gateway's own password policy.
const MinPasswordLength = 6

// RemoteKind classifies gateway failures.
type RemoteKind int

const (
	RemoteGeneric RemoteKind = iota
	RemoteInvalidCredentials
	RemoteUnconfirmedEmail
	RemoteRateLimited
)

func (k RemoteKind) String() string {
	switch k {
	case RemoteInvalidCredentials:
		return "invalid_credentials"
	case RemoteUnconfirmedEmail:
		return "unconfirmed_email"
	case RemoteRateLimited:
		return "rate_limited"
	default:
		return "generic"
	}
}

// RemoteError carries a user-facing message for a failed gateway call.
type RemoteError struct {
	Kind    RemoteKind
	Message string
	Err     error
}

func (e *RemoteError) Error() string { return e.Message }

func (e *RemoteError) Unwrap() error { return e.Err }

// ClassifySignInError maps gateway failures to the messages shown on the sign-in form.
// Unrecognized failures keep the gateway's message verbatim.
func ClassifySignInError(err error) error {
	if err == nil {
		return nil
	}
	var re *RemoteError
	if errors.As(err, &re) || errors.Is(err, ErrValidation) {
		return err
	}
	msg := gatewayMessage(err)
	switch {
	case strings.Contains(msg, "Invalid login credentials"):
		return &RemoteError{Kind: RemoteInvalidCredentials, Message: MsgInvalidCredentials, Err: err}
	case strings.Contains(msg, "Email not confirmed"):
		return &RemoteError{Kind: RemoteUnconfirmedEmail, Message: MsgUnconfirmedEmail, Err: err}
	case strings.Contains(msg, "Too many requests"):
		return &RemoteError{Kind: RemoteRateLimited, Message: MsgRateLimited, Err: err}
	}
	return &RemoteError{Kind: RemoteGeneric, Message: msg, Err: err}
}

// remoteError wraps a failure without sign-in specific mapping.
func remoteError(err error, fallback string) error {
	if err == nil {
		return nil
	}
	var re *RemoteError
	if errors.As(err, &re) || errors.Is(err, ErrValidation) {
		return err
	}
	msg := gatewayMessage(err)
	if msg == "" {
		msg = fallback
	}
	return &RemoteError{Kind: RemoteGeneric, Message: msg, Err: err}
}

func gatewayMessage(err error) string {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Message
	}
	return err.Error()
}

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// ValidatePasswordChange checks a new password and its confirmation before any remote call.
func ValidatePasswordChange(newPassword, confirmation string) error {
	if newPassword != confirmation {
		return validationError("Passwords do not match")
	}
	return validatePassword(newPassword)
}

func validatePassword(p string) error {
	if len(p) < MinPasswordLength {
		return validationError(fmt.Sprintf("Password must be at least %d characters long", MinPasswordLength))
	}
	return nil
}

func validateEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", validationError("Email is required")
	}
	if !strings.Contains(email, "@") {
		return "", validationError("Please enter a valid email address")
	}
	return email, nil
}
