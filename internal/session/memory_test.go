package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookingagent/internal/booking"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newSession(id string, at time.Time) booking.Session {
	return booking.NewSession(id, booking.LangEnglish, at)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(2*time.Hour, WithClock(clock.now))

	t.Run("MissingIsNotFound", func(t *testing.T) {
		_, err := store.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ReturnsCopies", func(t *testing.T) {
		s := newSession("a", clock.t)
		s.Intent[booking.FieldName] = "Priya"
		require.NoError(t, store.Save(ctx, s))

		got, err := store.Get(ctx, "a")
		require.NoError(t, err)
		got.Intent[booking.FieldName] = "Changed"

		again, err := store.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "Priya", again.Intent.Get(booking.FieldName))
	})

	t.Run("ExpiresAfterTTL", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, newSession("b", clock.t)))
		clock.t = clock.t.Add(2*time.Hour + time.Minute)

		_, err := store.Get(ctx, "b")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("SweepAndList", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, newSession("fresh", clock.t)))

		list, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "fresh", list[0].ID)

		removed, err := store.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("Delete", func(t *testing.T) {
		assert.NoError(t, store.Delete(ctx, "fresh"))
		assert.ErrorIs(t, store.Delete(ctx, "fresh"), ErrNotFound)
	})
}

func TestMemoryStoreEvictsOldest(t *testing.T) {
	ctx := context.Background()
	base := time.Now()
	store := NewMemoryStore(time.Hour, WithMaxSessions(2))

	require.NoError(t, store.Save(ctx, newSession("old", base.Add(-3*time.Minute))))
	require.NoError(t, store.Save(ctx, newSession("mid", base.Add(-2*time.Minute))))
	require.NoError(t, store.Save(ctx, newSession("new", base)))

	assert.Equal(t, 2, store.Len())
	_, err := store.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "new")
	assert.NoError(t, err)
}

func TestCreate(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(time.Hour, WithClock(clock.now))

	s, err := Create(context.Background(), store, booking.LangNepali, clock.t)
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, booking.StateGreeting, s.State)

	got, err := store.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.LangNepali, got.Language)
}
