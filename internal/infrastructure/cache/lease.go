package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const releaseTimeout = 5 * time.Second

// releaseScript deletes the lease only if it is still held by the caller's token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease is a best-effort distributed lock based on SET NX PX
type RedisLease struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisLease creates a Redis-backed lease
func NewRedisLease(client *redis.Client, logger *zap.Logger) *RedisLease {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLease{
		client: client,
		logger: logger,
	}
}

// TryAcquire takes the lease for ttl without blocking.
// The returned release func is safe to call once the lease has expired or been taken over.
func (l *RedisLease) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
				l.logger.Warn("Failed to release lease", zap.String("key", key), zap.Error(err))
			}
		})
	}
	return release, true, nil
}

// LocalLease is an in-process lease for single-instance deployments without Redis
type LocalLease struct {
	mu     sync.Mutex
	leases map[string]localHold
	now    func() time.Time
}

type localHold struct {
	token     uint64
	expiresAt time.Time
}

// NewLocalLease creates an in-process lease
func NewLocalLease() *LocalLease {
	return &LocalLease{
		leases: make(map[string]localHold),
		now:    time.Now,
	}
}

// TryAcquire takes the lease for ttl without blocking
func (l *LocalLease) TryAcquire(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if hold, ok := l.leases[key]; ok && now.Before(hold.expiresAt) {
		return nil, false, nil
	}

	hold := localHold{token: uint64(now.UnixNano()), expiresAt: now.Add(ttl)}
	if prev, ok := l.leases[key]; ok && prev.token == hold.token {
		hold.token++
	}
	l.leases[key] = hold

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if current, ok := l.leases[key]; ok && current.token == hold.token {
			delete(l.leases, key)
		}
	}
	return release, true, nil
}
