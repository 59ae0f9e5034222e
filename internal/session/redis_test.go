package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookingagent/internal/booking"
	"bookingagent/internal/otp"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	store := NewRedisStore(rdb, 2*time.Hour)
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	s := newSession("r1", now)
	s.State = booking.StateOTPSent
	s.Intent[booking.FieldPhone] = "+9779876543210"
	s.Pending = &otp.Pending{Code: "123456", MaxAttempts: 3, ExpiresAt: now.Add(5 * time.Minute)}
	require.NoError(t, store.Save(ctx, s))

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, booking.StateOTPSent, got.State)
	assert.Equal(t, "+9779876543210", got.Intent.Get(booking.FieldPhone))
	require.NotNil(t, got.Pending)
	assert.Equal(t, "123456", got.Pending.Code)
	assert.True(t, mr.Exists("agent:session:r1"))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].Collected)

	require.NoError(t, store.Save(ctx, newSession("r2", now)))
	mr.FastForward(3 * time.Hour)

	_, err = store.Get(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)

	removed, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	list, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NoError(t, store.Ping(ctx))
}

func TestRedisStoreDelete(t *testing.T) {
	ctx := context.Background()
	_, rdb := newRedis(t)
	store := NewRedisStore(rdb, time.Hour)

	require.NoError(t, store.Save(ctx, newSession("d1", time.Now())))
	assert.NoError(t, store.Delete(ctx, "d1"))
	assert.ErrorIs(t, store.Delete(ctx, "d1"), ErrNotFound)
}
