package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) *Locker {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewLocker(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestLockerMutualExclusion(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, ImportLockKey("scorecard"), time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, ImportLockKey("scorecard"), time.Minute)
	require.ErrorIs(t, err, ErrLockHeld)

	// A different source type locks independently.
	release2, err := locker.Acquire(ctx, ImportLockKey("payroll"), time.Minute)
	require.NoError(t, err)
	release2()

	release()
	release3, err := locker.Acquire(ctx, ImportLockKey("scorecard"), time.Minute)
	require.NoError(t, err)
	release3()
}

func TestLockKeys(t *testing.T) {
	require.Equal(t, "import:scorecard:lock", ImportLockKey("scorecard"))
	require.Equal(t, "correlation:run:lock", CorrelationLockKey())
}
