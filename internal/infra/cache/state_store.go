package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"codepolish/internal/domain"
	"codepolish/internal/domain/ports/repository"
)

var _ repository.StateStore = (*MemoryStateStore)(nil)

// MemoryStateStore keeps OAuth state in process memory for single-instance deployments.
type MemoryStateStore struct {
	c *gocache.Cache
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{c: gocache.New(10*time.Minute, time.Minute)}
}

func (s *MemoryStateStore) Put(_ context.Context, key string, st *repository.OAuthState, ttl time.Duration) error {
	cp := *st
	s.c.Set(key, &cp, ttl)
	return nil
}

func (s *MemoryStateStore) Consume(_ context.Context, key string) (*repository.OAuthState, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return nil, domain.ErrNotFound
	}
	s.c.Delete(key)
	return v.(*repository.OAuthState), nil
}
