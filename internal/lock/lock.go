// Package lock provides the single-flight guard taken around a broadcast.
package lock

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a non-blocking mutual exclusion primitive.
type Lock interface {
	// Acquire tries to take the lock and reports whether it succeeded.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock up if this holder still owns it.
	Release(ctx context.Context) error
}

// NewLock picks the widest-reaching backend available: Redis across hosts,
// then PostgreSQL advisory locks, then an in-process mutex.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) Lock {
	switch {
	case redisClient != nil:
		return NewRedisLock(redisClient, key, ttl)
	case db != nil:
		return NewPGAdvisoryLock(db, key)
	default:
		return &LocalLock{}
	}
}

// LocalLock guards a single process.
type LocalLock struct {
	mu sync.Mutex
}

func (l *LocalLock) Acquire(_ context.Context) (bool, error) {
	return l.mu.TryLock(), nil
}

func (l *LocalLock) Release(_ context.Context) error {
	l.mu.Unlock()
	return nil
}
