package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"codepolish/internal/domain"
	"codepolish/internal/domain/ports/repository"
)

var _ repository.StateStore = (*StateRepo)(nil)

// StateRepo keeps OAuth login state in Redis.
type StateRepo struct {
	client RedisClient
}

func NewStateRepo(client RedisClient) *StateRepo {
	return &StateRepo{client: client}
}

func (s *StateRepo) stateKey(key string) string {
	return fmt.Sprintf("oauth_state:%s", key)
}

func (s *StateRepo) Put(ctx context.Context, key string, st *repository.OAuthState, ttl time.Duration) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.stateKey(key), data, ttl)
}

func (s *StateRepo) Consume(ctx context.Context, key string) (*repository.OAuthState, error) {
	data, err := s.client.GetDel(ctx, s.stateKey(key))
	if err != nil {
		if errors.Is(err, Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	var st repository.OAuthState
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, err
	}
	return &st, nil
}
