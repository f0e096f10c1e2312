//go:build !integration

package postgres

import (
	"context"
	"testing"

	"codepolish/internal/domain"
	"codepolish/internal/domain/model"
	"codepolish/internal/domain/ports/repository"
)

func TestUserRepoCacheDecorator(t *testing.T) {
	ctx := context.Background()
	user := &model.User{ID: 42, OpenID: "gh-42", Name: "Ada"}

	t.Run("FindByID should fetch from DB and warm both keys on miss", func(t *testing.T) {
		calls := 0
		mc := newMockCache()
		inner := &mockInnerUserRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id int64) (*model.User, error) {
				calls++
				return user, nil
			},
		}
		d := NewUserRepoCacheDecorator(inner, mc, 0)

		got, err := d.FindByID(ctx, nil, 42)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.OpenID != "gh-42" {
			t.Errorf("unexpected user %+v", got)
		}
		if len(mc.sets) != 2 {
			t.Errorf("expected 2 cache keys to be set, got %d", len(mc.sets))
		}

		// second call is served from cache
		if _, err := d.FindByID(ctx, nil, 42); err != nil {
			t.Fatalf("cached lookup failed: %v", err)
		}
		if calls != 1 {
			t.Errorf("inner repository should be called once, got %d", calls)
		}

		// open id lookup hits the warmed key
		if _, err := d.FindByOpenID(ctx, nil, "gh-42"); err != nil {
			t.Fatalf("open id lookup failed: %v", err)
		}
	})

	t.Run("FindByID should not cache a miss", func(t *testing.T) {
		mc := newMockCache()
		inner := &mockInnerUserRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id int64) (*model.User, error) {
				return nil, domain.ErrNotFound
			},
		}
		d := NewUserRepoCacheDecorator(inner, mc, 0)
		if _, err := d.FindByID(ctx, nil, 7); err != domain.ErrNotFound {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if len(mc.sets) != 0 {
			t.Error("a miss must not populate the cache")
		}
	})

	t.Run("Upsert should invalidate both cache keys", func(t *testing.T) {
		mc := newMockCache()
		inner := &mockInnerUserRepo{
			UpsertFunc: func(ctx context.Context, tx repository.Tx, u *model.User) error {
				u.ID = 42
				return nil
			},
		}
		d := NewUserRepoCacheDecorator(inner, mc, 0)
		_ = mc.Set(ctx, "user:id:42", []byte(`{}`), 0)

		if err := d.Upsert(ctx, nil, &model.User{OpenID: "gh-42"}); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
		if _, err := mc.Get(ctx, "user:id:42"); err == nil {
			t.Error("id key should have been invalidated")
		}
		want := map[string]bool{"user:id:42": false, "user:oid:gh-42": false}
		for _, k := range mc.deleted {
			want[k] = true
		}
		for k, ok := range want {
			if !ok {
				t.Errorf("expected %s to be deleted", k)
			}
		}
	})
}
