package utils

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
)

// GenerateNumericCode creates a numeric code with n digits from crypto/rand.
func GenerateNumericCode(n int) (string, error) {
	if n <= 0 {
		n = 6
	}
	digits := make([]byte, n)
	for i := range digits {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + v.Int64())
	}
	return string(digits), nil
}

// Cooldowns throttles repeated actions per key, e.g. OTP mails per address.
type Cooldowns struct {
	rc  *redis.Client
	mem *ttlMap
}

func NewCooldowns(rc *redis.Client) *Cooldowns {
	return &Cooldowns{rc: rc, mem: newTTLMap()}
}

// TryAcquire returns true if no cooldown was active for key, and starts one.
func (c *Cooldowns) TryAcquire(ctx context.Context, key string, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	key = "cooldown:" + key
	if c.rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if ok, err := c.rc.SetNX(ctx, key, "1", cooldown).Result(); err == nil {
			return ok
		}
	}
	return c.mem.setNX(key, "1", cooldown)
}

// Release ends the cooldown for key early, e.g. when the guarded action failed.
func (c *Cooldowns) Release(ctx context.Context, key string) {
	key = "cooldown:" + key
	if c.rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_ = c.rc.Del(ctx, key).Err()
	}
	c.mem.del(key)
}
