//go:build !integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codepolish/internal/domain"
	"codepolish/internal/domain/ports/repository"
)

func TestMemory_GetSetDel(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute, time.Minute)

	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, m.Del(ctx, "k"))
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute, time.Minute)
	require.NoError(t, m.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)
	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryStateStore_Consume(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStateStore()
	require.NoError(t, s.Put(ctx, "state", &repository.OAuthState{RedirectTo: "/x"}, time.Minute))

	st, err := s.Consume(ctx, "state")
	require.NoError(t, err)
	assert.Equal(t, "/x", st.RedirectTo)

	_, err = s.Consume(ctx, "state")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
