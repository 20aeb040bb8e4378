package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockLost means the session's conversation lease disappeared or was taken
// over, which should never happen while the holder keeps refreshing.
var ErrLockLost = errors.New("conversation lock lost")

// WriterLock serializes chat sessions: at most one open socket may drive a
// conversation at a time. Leases expire so a crashed holder self-heals.
type WriterLock interface {
	Acquire(ctx context.Context, conversationID, owner string) (bool, error)
	Refresh(ctx context.Context, conversationID, owner string) error
	Release(ctx context.Context, conversationID, owner string) error
}

func lockKey(conversationID string) string {
	return "chat:lock:" + conversationID
}

// RedisLock implements WriterLock on SETNX with a TTL, which holds across
// replicas. The caller decides whether to fall back to MemoryLock when redis
// is unreachable.
type RedisLock struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisLock(addr, password string, db int, ttl time.Duration) (*RedisLock, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}
	return &RedisLock{rdb: rdb, ttl: ttl}, nil
}

func (l *RedisLock) Close() error {
	return l.rdb.Close()
}

func (l *RedisLock) Acquire(ctx context.Context, conversationID, owner string) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, lockKey(conversationID), owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire conversation lock: %w", err)
	}
	return ok, nil
}

// Refresh extends the lease. If the key expired under us it is re-taken; if
// someone else holds it the session must end.
func (l *RedisLock) Refresh(ctx context.Context, conversationID, owner string) error {
	key := lockKey(conversationID)
	val, err := l.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		ok, err := l.rdb.SetNX(ctx, key, owner, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("failed to refresh conversation lock: %w", err)
		}
		if !ok {
			return ErrLockLost
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to refresh conversation lock: %w", err)
	}
	if val != owner {
		return ErrLockLost
	}
	return l.rdb.Expire(ctx, key, l.ttl).Err()
}

// Release drops the lease if we still own it. The check-then-delete is not
// atomic; the TTL bounds the damage of the narrow race.
func (l *RedisLock) Release(ctx context.Context, conversationID, owner string) error {
	key := lockKey(conversationID)
	val, err := l.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to release conversation lock: %w", err)
	}
	if val != owner {
		return nil
	}
	return l.rdb.Del(ctx, key).Err()
}

// MemoryLock is the single-process fallback when redis is absent. Leases
// carry the same TTL semantics so handler behavior does not depend on which
// implementation is wired.
type MemoryLock struct {
	mu     sync.Mutex
	ttl    time.Duration
	leases map[string]memoryLease
}

type memoryLease struct {
	owner   string
	expires time.Time
}

func NewMemoryLock(ttl time.Duration) *MemoryLock {
	return &MemoryLock{ttl: ttl, leases: make(map[string]memoryLease)}
}

func (l *MemoryLock) Acquire(ctx context.Context, conversationID, owner string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lease, held := l.leases[conversationID]
	if held && lease.owner != owner && lease.expires.After(time.Now()) {
		return false, nil
	}
	l.leases[conversationID] = memoryLease{owner: owner, expires: time.Now().Add(l.ttl)}
	return true, nil
}

func (l *MemoryLock) Refresh(ctx context.Context, conversationID, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	lease, held := l.leases[conversationID]
	if held && lease.owner != owner && lease.expires.After(time.Now()) {
		return ErrLockLost
	}
	l.leases[conversationID] = memoryLease{owner: owner, expires: time.Now().Add(l.ttl)}
	return nil
}

func (l *MemoryLock) Release(ctx context.Context, conversationID, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lease, held := l.leases[conversationID]; held && lease.owner == owner {
		delete(l.leases, conversationID)
	}
	return nil
}
