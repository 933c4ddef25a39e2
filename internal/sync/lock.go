package sync

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker provides per-key mutual exclusion for sync runs. Acquire is
// non-blocking: a held key reports acquired=false so a second trigger can
// fail fast instead of racing the first.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), acquired bool, err error)
}

// RedisLocker implements Locker with SET NX and a TTL, so the single-flight
// rule holds across service replicas and a crashed holder cannot wedge the
// pair forever.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// Compare-and-delete: a release that arrives after the TTL expired and
// another holder re-acquired the key must not remove that holder's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0`)

// NewRedisLocker constructs a RedisLocker.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl}
}

// Acquire takes the key if free. The returned release func deletes the key
// only while this acquisition still holds it; the TTL fires when the holder
// died without releasing.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// Best effort; the TTL is the backstop.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		releaseScript.Run(releaseCtx, l.client, []string{key}, token)
	}
	return release, true, nil
}

// MemoryLocker is an in-process Locker for tests and single-replica runs.
// Release carries the same per-acquisition token check as RedisLocker: a
// stale release never frees a later holder's lock.
type MemoryLocker struct {
	mu   stdsync.Mutex
	held map[string]string
}

// NewMemoryLocker constructs a MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]string)}
}

// Acquire takes the key if free.
func (l *MemoryLocker) Acquire(_ context.Context, key string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, false, nil
	}
	token := uuid.NewString()
	l.held[key] = token

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key] == token {
			delete(l.held, key)
		}
	}
	return release, true, nil
}
