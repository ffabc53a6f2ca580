package utils

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateStore keeps single-use OAuth state values to mitigate CSRF.
type StateStore struct {
	rc  *redis.Client
	mem *ttlMap
}

func NewStateStore(rc *redis.Client) *StateStore {
	return &StateStore{rc: rc, mem: newTTLMap()}
}

// Save stores an OAuth state token with TTL.
func (s *StateStore) Save(ctx context.Context, state string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	key := "oauth:state:" + state
	if s.rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rc.Set(ctx, key, "1", ttl).Err(); err == nil {
			return
		}
	}
	s.mem.set(key, "1", ttl)
}

// Consume validates and removes a state token.
func (s *StateStore) Consume(ctx context.Context, state string) bool {
	if state == "" {
		return false
	}
	key := "oauth:state:" + state
	if s.rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if v, err := getDel(ctx, s.rc, key); err == nil {
			return v != ""
		}
	}
	_, ok := s.mem.get(key, true)
	return ok
}
