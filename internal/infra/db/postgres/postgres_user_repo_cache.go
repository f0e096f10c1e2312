package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"codepolish/internal/domain/model"
	"codepolish/internal/domain/ports/repository"
	"codepolish/internal/infra/cache"
	"codepolish/internal/infra/metrics"
)

var _ repository.UserRepository = (*userRepoCacheDecorator)(nil)

// userRepoCacheDecorator caches lookups made on every authenticated request.
type userRepoCacheDecorator struct {
	inner repository.UserRepository
	cache cache.Cache
	ttl   time.Duration
}

func NewUserRepoCacheDecorator(inner repository.UserRepository, c cache.Cache, ttl time.Duration) repository.UserRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &userRepoCacheDecorator{inner: inner, cache: c, ttl: ttl}
}

func idKey(id int64) string         { return fmt.Sprintf("user:id:%d", id) }
func openIDKey(openID string) string { return fmt.Sprintf("user:oid:%s", openID) }

// Upsert writes through and drops both keys for the user.
func (d *userRepoCacheDecorator) Upsert(ctx context.Context, tx repository.Tx, u *model.User) error {
	_ = d.cache.Del(ctx, openIDKey(u.OpenID))
	if err := d.inner.Upsert(ctx, tx, u); err != nil {
		return err
	}
	_ = d.cache.Del(ctx, idKey(u.ID), openIDKey(u.OpenID))
	return nil
}

func (d *userRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.User, error) {
	if u := d.lookup(ctx, idKey(id)); u != nil {
		return u, nil
	}
	u, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	d.store(ctx, u)
	return u, nil
}

func (d *userRepoCacheDecorator) FindByOpenID(ctx context.Context, tx repository.Tx, openID string) (*model.User, error) {
	if u := d.lookup(ctx, openIDKey(openID)); u != nil {
		return u, nil
	}
	u, err := d.inner.FindByOpenID(ctx, tx, openID)
	if err != nil {
		return nil, err
	}
	d.store(ctx, u)
	return u, nil
}

func (d *userRepoCacheDecorator) lookup(ctx context.Context, key string) *model.User {
	val, err := d.cache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			metrics.IncCacheRequest("user", "miss")
		} else {
			metrics.IncCacheRequest("user", "error")
		}
		return nil
	}
	var u model.User
	if json.Unmarshal(val, &u) != nil {
		metrics.IncCacheRequest("user", "corrupt")
		return nil
	}
	metrics.IncCacheRequest("user", "hit")
	return &u
}

// store warms both keys so either lookup hits next time.
func (d *userRepoCacheDecorator) store(ctx context.Context, u *model.User) {
	b, err := json.Marshal(u)
	if err != nil {
		return
	}
	_ = d.cache.Set(ctx, idKey(u.ID), b, d.ttl)
	_ = d.cache.Set(ctx, openIDKey(u.OpenID), b, d.ttl)
}
