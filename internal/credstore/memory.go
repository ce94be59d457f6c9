package credstore

import (
	"context"
	"sync"
)

// MemoryStore keeps the credential pair in process memory.
type MemoryStore struct {
	mu           sync.RWMutex
	accessToken  string
	refreshToken string
}

// Compile-time check to ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) AccessToken(ctx context.Context) (string, error) {
	return m.get(ctx, &m.accessToken)
}

func (m *MemoryStore) RefreshToken(ctx context.Context) (string, error) {
	return m.get(ctx, &m.refreshToken)
}

func (m *MemoryStore) SetAccessToken(ctx context.Context, token string) error {
	return m.set(ctx, &m.accessToken, token)
}

func (m *MemoryStore) SetRefreshToken(ctx context.Context, token string) error {
	return m.set(ctx, &m.refreshToken, token)
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessToken = ""
	m.refreshToken = ""
	return nil
}

func (m *MemoryStore) get(ctx context.Context, field *string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if *field == "" {
		return "", ErrNotFound
	}
	return *field, nil
}

func (m *MemoryStore) set(ctx context.Context, field *string, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	*field = token
	return nil
}
