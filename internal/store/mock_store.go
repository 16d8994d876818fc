// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu         sync.RWMutex
	principals map[string]*Principal        // keyed by principal ID
	roles      map[string]map[RoleName]bool // keyed by principal ID
	handshakes []HandshakeRecord
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		principals: make(map[string]*Principal),
		roles:      make(map[string]map[RoleName]bool),
	}
}

// CreatePrincipal stores a copy of p.
func (m *MockStore) CreatePrincipal(_ context.Context, p *Principal) error {
	if !validStatus(p.Status) {
		return fmt.Errorf("invalid principal status %q", p.Status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.principals {
		if existing.ID == p.ID || existing.DisplayName == p.DisplayName ||
			(p.PubkeyFP != "" && existing.PubkeyFP == p.PubkeyFP) {
			return ErrDuplicatePrincipal
		}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	cp := *p
	m.principals[p.ID] = &cp
	return nil
}

// GetPrincipal retrieves a principal by ID.
func (m *MockStore) GetPrincipal(_ context.Context, id string) (*Principal, error) {
	return m.find(func(p *Principal) bool { return p.ID == id })
}

// GetPrincipalByPubkey retrieves a principal by fingerprint.
func (m *MockStore) GetPrincipalByPubkey(_ context.Context, fingerprint string) (*Principal, error) {
	if fingerprint == "" {
		return nil, ErrPrincipalNotFound
	}
	return m.find(func(p *Principal) bool { return p.PubkeyFP == fingerprint })
}

// GetPrincipalByName retrieves a principal by display name.
func (m *MockStore) GetPrincipalByName(_ context.Context, name string) (*Principal, error) {
	return m.find(func(p *Principal) bool { return p.DisplayName == name })
}

func (m *MockStore) find(match func(*Principal) bool) (*Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.principals {
		if match(p) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPrincipalNotFound
}

// UpdatePrincipalStatus changes a principal's status.
func (m *MockStore) UpdatePrincipalStatus(_ context.Context, id string, status PrincipalStatus) error {
	if !validStatus(status) {
		return fmt.Errorf("invalid principal status %q", status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.principals[id]
	if !ok {
		return ErrPrincipalNotFound
	}
	p.Status = status
	return nil
}

// ListPrincipals returns all principals ordered by creation time.
func (m *MockStore) ListPrincipals(_ context.Context) ([]*Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Principal, 0, len(m.principals))
	for _, p := range m.principals {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// AddRole grants a role.
func (m *MockStore) AddRole(_ context.Context, principalID string, role RoleName) error {
	if !validRole(role) {
		return fmt.Errorf("invalid role %q", role)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.roles[principalID] == nil {
		m.roles[principalID] = make(map[RoleName]bool)
	}
	m.roles[principalID][role] = true
	return nil
}

// RemoveRole revokes a role.
func (m *MockStore) RemoveRole(_ context.Context, principalID string, role RoleName) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.roles[principalID], role)
	return nil
}

// ListRoles returns a principal's roles in name order.
func (m *MockStore) ListRoles(_ context.Context, principalID string) ([]RoleName, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	roles := []RoleName{}
	for r := range m.roles[principalID] {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles, nil
}

// AppendHandshake records a handshake.
func (m *MockStore) AppendHandshake(_ context.Context, r *HandshakeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now().UTC()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = r.FinishedAt
	}
	m.handshakes = append(m.handshakes, *r)
	return nil
}

// ListHandshakes returns matching records, newest first.
func (m *MockStore) ListHandshakes(_ context.Context, f HandshakeFilter) ([]HandshakeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []HandshakeRecord{}
	for i := len(m.handshakes) - 1; i >= 0; i-- {
		r := m.handshakes[i]
		if f.Scheme != "" && r.Scheme != f.Scheme {
			continue
		}
		if f.PrincipalID != "" && r.ProxyPrincipalID != f.PrincipalID && r.ClientPrincipalID != f.PrincipalID {
			continue
		}
		if f.Outcome != "" && r.Outcome != f.Outcome {
			continue
		}
		out = append(out, r)
		if len(out) == normalizeLimit(f.Limit) {
			break
		}
	}
	return out, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
