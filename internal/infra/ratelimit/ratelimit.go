// Package ratelimit implements fixed-window request counting per caller and class.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"codepolish/internal/config"
	"codepolish/internal/domain"
	"codepolish/internal/infra/metrics"
)

type Class string

const (
	ClassPolish   Class = "polish"
	ClassMutation Class = "mutation"
	ClassQuery    Class = "query"
	ClassAuth     Class = "auth"
)

// Rule is the ceiling for one class.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Result describes the counter after a hit.
type Result struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

func (r Result) Allowed() bool { return r.Remaining >= 0 }

// Store counts hits in a window. Implementations must be safe for concurrent use.
type Store interface {
	Hit(ctx context.Context, key string, window time.Duration) (count int, ttl time.Duration, err error)
}

// Limiter applies per-class rules on top of a Store.
type Limiter struct {
	rules map[Class]Rule
	store Store
	now   func() time.Time
	log   *zerolog.Logger
}

// RulesFromConfig maps the ratelimit config section onto class rules.
func RulesFromConfig(c config.RateLimitConfig) map[Class]Rule {
	return map[Class]Rule{
		ClassPolish:   {Limit: c.Polish, Window: c.Window},
		ClassMutation: {Limit: c.Mutation, Window: c.Window},
		ClassQuery:    {Limit: c.Query, Window: c.Window},
		ClassAuth:     {Limit: c.Auth, Window: c.AuthWin},
	}
}

// New builds a limiter. A nil store keeps counters in process memory.
func New(rules map[Class]Rule, store Store, log *zerolog.Logger) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}
	l := log.With().Str("component", "ratelimit").Logger()
	return &Limiter{rules: rules, store: store, now: time.Now, log: &l}
}

// Allow counts one request by identity in class. It returns a
// *domain.RateLimitError when the ceiling is exceeded. Unknown classes and
// store failures let the request through.
func (l *Limiter) Allow(ctx context.Context, class Class, identity string) (Result, error) {
	rule, ok := l.rules[class]
	if !ok || rule.Limit <= 0 {
		return Result{Remaining: 1}, nil
	}
	count, ttl, err := l.store.Hit(ctx, fmt.Sprintf("%s:%s", class, identity), rule.Window)
	if err != nil {
		// fail open; a broken counter store must not take the API down
		l.log.Warn().Err(err).Str("class", string(class)).Msg("rate limit store failed")
		return Result{Limit: rule.Limit, Remaining: rule.Limit}, nil
	}
	res := Result{Limit: rule.Limit, Remaining: rule.Limit - count, ResetAt: l.now().Add(ttl)}
	if !res.Allowed() {
		metrics.IncRateLimited(string(class))
		return res, &domain.RateLimitError{Class: string(class), RetryAfter: ttl}
	}
	return res, nil
}

type window struct {
	count   int
	resetAt time.Time
}

// MemoryStore keeps counters in a map. Expired windows are replaced lazily on
// the next hit and removed in bulk by Cleanup.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window), now: time.Now}
}

func (s *MemoryStore) Hit(_ context.Context, key string, win time.Duration) (int, time.Duration, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(win)}
		s.windows[key] = w
	}
	w.count++
	return w.count, w.resetAt.Sub(now), nil
}

// Cleanup drops expired windows and returns how many were removed.
func (s *MemoryStore) Cleanup() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, w := range s.windows {
		if !now.Before(w.resetAt) {
			delete(s.windows, k)
			n++
		}
	}
	return n
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (s *MemoryStore) RunCleanup(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Cleanup()
		}
	}
}
