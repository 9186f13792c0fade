// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sync"

	"github.com/2389/coven-groups/internal/auth"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu         sync.RWMutex
	credential *auth.Credential
	lastGroup  string
	clears     int
	closed     bool
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// GetCredential returns the saved credential.
func (m *MockStore) GetCredential(ctx context.Context) (*auth.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.credential == nil {
		return nil, ErrNotFound
	}
	c := *m.credential
	return &c, nil
}

// SaveCredential stores a copy of cred.
func (m *MockStore) SaveCredential(ctx context.Context, cred *auth.Credential) error {
	if cred == nil || cred.Token == "" {
		return auth.ErrMissingCredential
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := *cred
	m.credential = &c
	return nil
}

// ClearCredential removes the saved credential.
func (m *MockStore) ClearCredential(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.credential = nil
	m.clears++
	return nil
}

// Clears returns how many times ClearCredential was called.
func (m *MockStore) Clears() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clears
}

// GetLastConversation returns the last selected group ID.
func (m *MockStore) GetLastConversation(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lastGroup == "" {
		return "", ErrNotFound
	}
	return m.lastGroup, nil
}

// SetLastConversation records the last selected group ID.
func (m *MockStore) SetLastConversation(ctx context.Context, groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastGroup = groupID
	return nil
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// Compile-time interface checks
var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
