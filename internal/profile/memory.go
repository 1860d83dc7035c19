package profile

import (
	"context"
	"sort"
	"sync"
	"time"

	"raha.health/internal/ids"
)

var (
	_ Gateway = (*Memory)(nil)
	_ Lister  = (*Memory)(nil)
)

// Memory is an in-process gateway used in offline mode and tests.
type Memory struct {
	mu   sync.RWMutex
	rows map[string]Profile
	now  func() time.Time
}

// NewMemory creates an empty in-memory gateway.
func NewMemory() *Memory {
	return &Memory{rows: make(map[string]Profile), now: time.Now}
}

func (m *Memory) Get(ctx context.Context, userID string) (*Profile, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.rows[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) Upsert(ctx context.Context, p Profile) (*Profile, error) {
	userID, err := normalizeUserID(p.UserID)
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.rows[userID]
	if !ok {
		existing = Profile{ID: ids.New(), UserID: userID, CreatedAt: now}
	}
	if p.Email != "" {
		existing.Email = p.Email
	}
	existing.FullName = p.FullName
	existing.Role = p.Role
	if existing.Role == "" {
		existing.Role = DefaultRole
	}
	existing.Organization = p.Organization
	existing.AvatarURL = p.AvatarURL
	existing.UpdatedAt = now
	m.rows[userID] = existing
	out := existing
	return &out, nil
}

func (m *Memory) Update(ctx context.Context, userID string, patch Patch) (*Profile, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[userID]
	if !ok {
		return nil, ErrNotFound
	}
	if patch.FullName != nil {
		p.FullName = *patch.FullName
	}
	if patch.Role != nil {
		p.Role = *patch.Role
	}
	if patch.Organization != nil {
		p.Organization = *patch.Organization
	}
	if patch.AvatarURL != nil {
		p.AvatarURL = *patch.AvatarURL
	}
	p.UpdatedAt = m.now().UTC()
	m.rows[userID] = p
	out := p
	return &out, nil
}

func (m *Memory) ListByOrganization(ctx context.Context, organization string) ([]Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Profile
	for _, p := range m.rows {
		if p.Organization == organization {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}
