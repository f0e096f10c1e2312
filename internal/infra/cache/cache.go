// Package cache provides a small byte cache with a process-local and a Redis backend.
package cache

import (
	"context"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"

	red "codepolish/internal/infra/redis"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

var (
	_ Cache = (*Memory)(nil)
	_ Cache = (*Redis)(nil)
)

// Memory is backed by go-cache and only visible to this process.
type Memory struct {
	c *gocache.Cache
}

func NewMemory(defaultTTL, cleanup time.Duration) *Memory {
	return &Memory{c: gocache.New(defaultTTL, cleanup)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	return v.([]byte), nil
}

func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.c.Set(key, val, ttl)
	return nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.c.Delete(k)
	}
	return nil
}

// Redis adapts the shared Redis client.
type Redis struct {
	cli red.RedisClient
}

func NewRedis(cli red.RedisClient) *Redis { return &Redis{cli: cli} }

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	s, err := r.cli.Get(ctx, key)
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, ErrMiss
		}
		return nil, err
	}
	return []byte(s), nil
}

func (r *Redis) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return r.cli.Set(ctx, key, val, ttl)
}

func (r *Redis) Del(ctx context.Context, keys ...string) error {
	return r.cli.Del(ctx, keys...)
}
