// ABOUTME: In-memory Directory for tests
// ABOUTME: Matches usernames before emails, like the SQL lookup

package directory

import (
	"context"
	"sync"
)

// MockDirectory is an in-memory Directory.
type MockDirectory struct {
	mu      sync.RWMutex
	users   []User
	lookups int
}

// NewMockDirectory creates a directory holding copies of users.
func NewMockDirectory(users ...User) *MockDirectory {
	return &MockDirectory{users: append([]User(nil), users...)}
}

// Add stores a copy of u.
func (m *MockDirectory) Add(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = append(m.users, u)
}

// Lookups returns how many lookups have been made.
func (m *MockDirectory) Lookups() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookups
}

// LookupBySubjectOrEmail implements Directory.
func (m *MockDirectory) LookupBySubjectOrEmail(ctx context.Context, text string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++

	for _, u := range m.users {
		if u.Username == text {
			out := u
			return &out, nil
		}
	}
	for _, u := range m.users {
		if u.Email == text {
			out := u
			return &out, nil
		}
	}
	return nil, ErrNotFound
}
