package redis

import (
	"context"
	"fmt"
	"time"
)

// WindowStore keeps fixed-window counters in Redis so every instance shares them.
type WindowStore struct {
	client RedisClient
	prefix string
}

func NewWindowStore(client RedisClient) *WindowStore {
	return &WindowStore{client: client, prefix: "rate_limit"}
}

// Hit counts one request against key and reports the count within the current
// window together with the time left until the window resets.
func (s *WindowStore) Hit(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	k := fmt.Sprintf("%s:%s", s.prefix, key)
	count, err := s.client.Incr(ctx, k)
	if err != nil {
		return 0, 0, err
	}
	if count == 1 {
		if err := s.client.Expire(ctx, k, window); err != nil {
			return 0, 0, err
		}
		return 1, window, nil
	}
	ttl, err := s.client.PTTL(ctx, k)
	if err != nil {
		return 0, 0, err
	}
	if ttl < 0 {
		// key lost its expiry (crash between INCR and EXPIRE)
		_ = s.client.Expire(ctx, k, window)
		ttl = window
	}
	return int(count), ttl, nil
}
