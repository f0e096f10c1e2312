//go:build !integration

package postgres

import (
	"context"
	"sync"
	"time"

	"codepolish/internal/domain/model"
	"codepolish/internal/domain/ports/repository"
	"codepolish/internal/infra/cache"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerUserRepo mocks the database repository that the User decorator wraps.
type mockInnerUserRepo struct {
	UpsertFunc       func(ctx context.Context, tx repository.Tx, u *model.User) error
	FindByIDFunc     func(ctx context.Context, tx repository.Tx, id int64) (*model.User, error)
	FindByOpenIDFunc func(ctx context.Context, tx repository.Tx, openID string) (*model.User, error)
}

func (m *mockInnerUserRepo) Upsert(ctx context.Context, tx repository.Tx, u *model.User) error {
	return m.UpsertFunc(ctx, tx, u)
}
func (m *mockInnerUserRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.User, error) {
	return m.FindByIDFunc(ctx, tx, id)
}
func (m *mockInnerUserRepo) FindByOpenID(ctx context.Context, tx repository.Tx, openID string) (*model.User, error) {
	return m.FindByOpenIDFunc(ctx, tx, openID)
}

// mockCache records calls and serves from a map.
type mockCache struct {
	mu      sync.Mutex
	store   map[string][]byte
	sets    []string
	deleted []string
}

var _ cache.Cache = (*mockCache)(nil)

func newMockCache() *mockCache { return &mockCache{store: map[string][]byte{}} }

func (m *mockCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.store[key]
	if !ok {
		return nil, cache.ErrMiss
	}
	return v, nil
}

func (m *mockCache) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[key] = val
	m.sets = append(m.sets, key)
	return nil
}

func (m *mockCache) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.store, k)
		m.deleted = append(m.deleted, k)
	}
	return nil
}
