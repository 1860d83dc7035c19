// Package profile is the remote profile gateway: identity attributes that live server
// side (name, role, organization). It never carries clinical content.
package profile

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultRole is assigned when no role has been stored for a user.
const DefaultRole = "nurse"

var (
	ErrNotFound     = errors.New("profile: not found")
	ErrInvalidInput = errors.New("profile: invalid input")
)

// Profile is one row of the remote profiles table, keyed by UserID.
type Profile struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email,omitempty"`
	FullName     string    `json:"full_name,omitempty"`
	Role         string    `json:"role,omitempty"`
	Organization string    `json:"organization,omitempty"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Patch lists the attributes to change; nil fields are left untouched.
type Patch struct {
	FullName     *string `json:"full_name,omitempty"`
	Role         *string `json:"role,omitempty"`
	Organization *string `json:"organization,omitempty"`
	AvatarURL    *string `json:"avatar_url,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.FullName == nil && p.Role == nil && p.Organization == nil && p.AvatarURL == nil
}

// Gateway is the remote profile store. Get returns (nil, nil) when no profile exists.
type Gateway interface {
	Get(ctx context.Context, userID string) (*Profile, error)
	Upsert(ctx context.Context, p Profile) (*Profile, error)
	Update(ctx context.Context, userID string, patch Patch) (*Profile, error)
}

// Lister is implemented by gateways that can enumerate an organization's members.
type Lister interface {
	ListByOrganization(ctx context.Context, organization string) ([]Profile, error)
}

func normalizeUserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.Join(ErrInvalidInput, errors.New("user id is required"))
	}
	return userID, nil
}

func stringPtr(s string) *string { return &s }

// StringPtr is a convenience for building patches.
func StringPtr(s string) *string { return stringPtr(s) }
