// ABOUTME: Mock CredentialStore implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject failures

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory CredentialStore implementation for testing.
type MockStore struct {
	mu    sync.RWMutex
	creds map[string]*Credentials

	// LoadErr, SaveErr, DeleteErr and ListErr, when set, are returned by the matching method.
	LoadErr   error
	SaveErr   error
	DeleteErr error
	ListErr   error

	saves int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		creds: make(map[string]*Credentials),
	}
}

// Load returns a copy of the stored credentials.
func (m *MockStore) Load(ctx context.Context, clientID string) (*Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	c, ok := m.creds[clientID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	cp.Data = append([]byte(nil), c.Data...)
	return &cp, nil
}

// Save stores a copy of creds.
func (m *MockStore) Save(ctx context.Context, creds *Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveErr != nil {
		return m.SaveErr
	}
	cp := *creds
	cp.Data = append([]byte(nil), creds.Data...)
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	m.creds[cp.ClientID] = &cp
	m.saves++
	return nil
}

// Delete removes the stored credentials.
func (m *MockStore) Delete(ctx context.Context, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.creds, clientID)
	return nil
}

// ListClientIDs returns the stored client IDs, sorted.
func (m *MockStore) ListClientIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.ListErr != nil {
		return nil, m.ListErr
	}
	ids := make([]string, 0, len(m.creds))
	for id := range m.creds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// SaveCount reports how many successful saves happened.
func (m *MockStore) SaveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
