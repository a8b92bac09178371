package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ImportLockKey builds the redis key serializing imports of one source type.
func ImportLockKey(sourceType string) string {
	return fmt.Sprintf("import:%s:lock", sourceType)
}

// CorrelationLockKey serializes correlation engine runs.
func CorrelationLockKey() string {
	return "correlation:run:lock"
}

// Locker wraps redislock for single-writer critical sections.
type Locker struct {
	client *redislock.Client
}

// NewLocker constructs a Locker on top of a redis client.
func NewLocker(rdb *redis.Client) *Locker {
	return &Locker{client: redislock.New(rdb)}
}

// Acquire obtains the named lock for ttl and returns a release func.
// Returns ErrLockHeld when another holder owns the lock.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if l == nil || l.client == nil {
		return nil, errors.New("shared: locker not initialised")
	}
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrLockHeld
		}
		return nil, fmt.Errorf("shared: obtain lock %s: %w", key, err)
	}
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lock.Release(releaseCtx)
	}
	return release, nil
}
