package users

import (
	"context"
	"sort"
	"sync"

	"github.com/stockroom/stockroom/internal/shared"
)

// MemoryRepository keeps accounts in process memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryRepository constructs an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]User)}
}

// GetByUsername loads an account.
func (m *MemoryRepository) GetByUsername(ctx context.Context, username string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[username]
	if !ok {
		return User{}, shared.NotFoundf("user %s not found", username)
	}
	return u, nil
}

// List returns all users ordered by username.
func (m *MemoryRepository) List(ctx context.Context) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// Insert stores a new account.
func (m *MemoryRepository) Insert(ctx context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[u.Username]; exists {
		return ErrUsernameTaken(u.Username)
	}
	m.users[u.Username] = u
	return nil
}

// Update replaces an account.
func (m *MemoryRepository) Update(ctx context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.Username]; !ok {
		return shared.NotFoundf("user %s not found", u.Username)
	}
	m.users[u.Username] = u
	return nil
}

// Delete removes an account.
func (m *MemoryRepository) Delete(ctx context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; !ok {
		return shared.NotFoundf("user %s not found", username)
	}
	delete(m.users, username)
	return nil
}
