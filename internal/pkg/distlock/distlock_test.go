package distlock

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisLockMutualExclusion(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "campaign-run:7", time.Minute)
	b := NewRedisLock(client, "campaign-run:7", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second holder for the same campaign is rejected.
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// b cannot release a's lock.
	require.NoError(t, b.Release(ctx))
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// After a releases, b can acquire.
	require.NoError(t, a.Release(ctx))
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockDifferentCampaignsIndependent(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	a := ForCampaign(client, nil, 1, time.Minute)
	b := ForCampaign(client, nil, 2, time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPGAdvisoryLockHoldsSessionUntilRelease(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	// Advisory locks are session-scoped: the unlock must land on the same
	// connection that acquired, which the lock pins until Release.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT pg_try_advisory_lock($1)")).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_unlock($1)")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	l := NewPGAdvisoryLock(db, "campaign-run:7")
	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// While held, a re-acquire on the same instance is rejected without
	// touching the database.
	ok, err = l.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGAdvisoryLockRejectedReturnsConnection(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT pg_try_advisory_lock($1)")).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	l := NewPGAdvisoryLock(db, "campaign-run:7")
	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// Nothing held: Release is a no-op and must not issue an unlock.
	require.NoError(t, l.Release(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLockExtend(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	l := NewRedisLock(client, "campaign-run:9", time.Minute)
	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	assert.NoError(t, l.Extend(ctx, 2*time.Minute))
}
