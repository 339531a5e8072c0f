package infra

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"tradeflow/internal/domain"
)

// unlockLua deletes a lease key only if its value matches the caller's
// token, so one holder cannot release another holder's lease.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisExitLease implements domain.ExitLease with Redis SETNX plus a
// Lua-based conditional unlock, giving exactly-once exit submission
// even when multiple engine instances share the store.
type RedisExitLease struct {
	rdb      *redis.Client
	unlockSc *redis.Script
}

// NewRedisExitLease creates a lease manager from a Redis URL.
func NewRedisExitLease(ctx context.Context, redisURL string) (*RedisExitLease, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisExitLease{
		rdb:      rdb,
		unlockSc: redis.NewScript(unlockLua),
	}, nil
}

// Close releases the underlying Redis connection.
func (l *RedisExitLease) Close() error {
	return l.rdb.Close()
}

// Ping verifies the Redis connection, used by the health endpoint.
func (l *RedisExitLease) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

func leaseKey(positionID uuid.UUID) string {
	return "exit-lease:" + positionID.String()
}

// Acquire obtains the exit lease for a position. It returns
// domain.ErrLeaseHeld if another flow holds it.
func (l *RedisExitLease) Acquire(ctx context.Context, positionID uuid.UUID, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	key := leaseKey(positionID)

	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire exit lease for %s: %w", positionID, err)
	}
	if !ok {
		return nil, domain.ErrLeaseHeld
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true

		// Background context so release succeeds even after the flow's
		// context is cancelled.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = l.unlockSc.Run(releaseCtx, l.rdb, []string{key}, token).Err()
	}

	return release, nil
}

// LocalExitLease implements domain.ExitLease with an in-process table.
// It guards the same race for a single engine instance when Redis is
// not configured.
type LocalExitLease struct {
	mu        sync.Mutex
	lastToken uint64
	held      map[uuid.UUID]localLeaseEntry
}

type localLeaseEntry struct {
	token  uint64
	expiry time.Time
}

// NewLocalExitLease creates an in-process lease table.
func NewLocalExitLease() *LocalExitLease {
	return &LocalExitLease{held: make(map[uuid.UUID]localLeaseEntry)}
}

// Acquire obtains the lease for a position, honoring expired entries
// left behind by a flow that never released.
func (l *LocalExitLease) Acquire(_ context.Context, positionID uuid.UUID, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if entry, ok := l.held[positionID]; ok && entry.expiry.After(now) {
		return nil, domain.ErrLeaseHeld
	}

	l.lastToken++
	token := l.lastToken
	l.held[positionID] = localLeaseEntry{token: token, expiry: now.Add(ttl)}

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		// Same conditional delete as the Redis unlock script: a holder
		// that outlived its TTL must not evict the lease a later flow
		// now owns.
		if entry, ok := l.held[positionID]; ok && entry.token == token {
			delete(l.held, positionID)
		}
	}

	return release, nil
}

// Compile-time interface checks.
var (
	_ domain.ExitLease = (*RedisExitLease)(nil)
	_ domain.ExitLease = (*LocalExitLease)(nil)
)
