package utils

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RevocationList remembers access tokens revoked by logout until they would
// have expired anyway.
type RevocationList struct {
	rc  *redis.Client
	mem *ttlMap
}

// NewRevocationList prefers redis and falls back to memory when rc is nil.
func NewRevocationList(rc *redis.Client) *RevocationList {
	return &RevocationList{rc: rc, mem: newTTLMap()}
}

func revocationKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "jwt:revoked:" + hex.EncodeToString(sum[:])
}

// Revoke marks the token as unusable until expiresAt.
func (r *RevocationList) Revoke(ctx context.Context, token string, expiresAt time.Time) {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return
	}
	key := revocationKey(token)
	if r.rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := r.rc.Set(ctx, key, "1", ttl).Err(); err == nil {
			return
		} else {
			Logger.Warn("redis revoke failed, using memory", zap.Error(err))
		}
	}
	r.mem.set(key, "1", ttl)
}

// IsRevoked checks redis first, then memory. Redis errors fail open.
func (r *RevocationList) IsRevoked(ctx context.Context, token string) bool {
	key := revocationKey(token)
	if r.rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if n, err := r.rc.Exists(ctx, key).Result(); err == nil && n > 0 {
			return true
		}
	}
	_, ok := r.mem.get(key, false)
	return ok
}
