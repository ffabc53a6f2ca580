package utils

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/whisperhub/whisperhub/config"
)

var (
	redisClient *redis.Client
	redisOnce   sync.Once
)

// GetRedis returns a singleton Redis client based on loaded config, or nil when
// redis is disabled. Callers fall back to process memory on nil.
func GetRedis() *redis.Client {
	redisOnce.Do(func() {
		cfg := config.Get()
		if !cfg.RedisEnabled {
			return
		}
		redisClient = redis.NewClient(&redis.Options{
			Addr:         net.JoinHostPort(cfg.RedisHost, strconv.Itoa(cfg.RedisPort)),
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  3 * time.Second,
			ReadTimeout:  2 * time.Second,
			WriteTimeout: 2 * time.Second,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			Logger.Warn("redis ping failed, continuing with degraded fallbacks", zap.Error(err))
		}
	})
	return redisClient
}

// getDel reads and deletes key atomically. GETDEL needs Redis >= 6.2; older
// servers get the same effect through a Lua script.
func getDel(ctx context.Context, rc *redis.Client, key string) (string, error) {
	if val, err := rc.GetDel(ctx, key).Result(); err == nil || err == redis.Nil {
		return val, err
	}
	script := `local v=redis.call('GET', KEYS[1]); if v then redis.call('DEL', KEYS[1]); end; return v`
	res, err := rc.Eval(ctx, script, []string{key}).Result()
	if err != nil {
		return "", err
	}
	s, _ := res.(string)
	if s == "" {
		return "", redis.Nil
	}
	return s, nil
}

// ttlMap is the in-process fallback shared by the redis-backed stores.
// Expired entries are swept on writes at most once per sweepEvery.
type ttlMap struct {
	mu        sync.Mutex
	entries   map[string]ttlEntry
	lastSweep time.Time
}

type ttlEntry struct {
	value     string
	expiresAt time.Time
}

const sweepEvery = time.Minute

func newTTLMap() *ttlMap {
	return &ttlMap{entries: map[string]ttlEntry{}, lastSweep: time.Now()}
}

// sweepLocked drops expired entries. Callers hold mu.
func (m *ttlMap) sweepLocked(now time.Time) {
	if now.Sub(m.lastSweep) < sweepEvery {
		return
	}
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
		}
	}
	m.lastSweep = now
}

func (m *ttlMap) set(key, value string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.sweepLocked(now)
	m.entries[key] = ttlEntry{value: value, expiresAt: now.Add(ttl)}
}

// setNX stores the key only when absent or expired.
func (m *ttlMap) setNX(key, value string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.sweepLocked(now)
	if e, ok := m.entries[key]; ok && now.Before(e.expiresAt) {
		return false
	}
	m.entries[key] = ttlEntry{value: value, expiresAt: now.Add(ttl)}
	return true
}

func (m *ttlMap) get(key string, remove bool) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return "", false
	}
	expired := !time.Now().Before(e.expiresAt)
	if remove || expired {
		delete(m.entries, key)
	}
	if expired {
		return "", false
	}
	return e.value, true
}

func (m *ttlMap) del(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

func (m *ttlMap) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
