package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutexSerializesSameID(t *testing.T) {
	km := NewKeyedMutex()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := km.Lock(ctx, "same")
			if err != nil {
				return
			}
			defer unlock()
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Zero(t, km.held())
}

func TestKeyedMutexIndependentIDs(t *testing.T) {
	km := NewKeyedMutex()
	ctx := context.Background()

	unlockA, err := km.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, err := km.Lock(ctx, "b")
		if err == nil {
			unlockB()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b waited for a")
	}
}

func TestKeyedMutexContextCancel(t *testing.T) {
	km := NewKeyedMutex()
	unlock, err := km.Lock(context.Background(), "x")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = km.Lock(ctx, "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Zero(t, km.held())
}

func TestRedisLocker(t *testing.T) {
	mr, rdb := newRedis(t)
	locker := NewRedisLocker(rdb, 30*time.Second)

	unlock, err := locker.Lock(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("agent:lock:s1"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "s1")
	assert.True(t, errors.Is(err, ErrLockTimeout))

	unlock()
	assert.False(t, mr.Exists("agent:lock:s1"))

	unlock2, err := locker.Lock(context.Background(), "s1")
	require.NoError(t, err)

	mr.FastForward(31 * time.Second)
	unlock3, err := locker.Lock(context.Background(), "s1")
	require.NoError(t, err)

	unlock2()
	assert.True(t, mr.Exists("agent:lock:s1"), "stale holder must not release a newer lock")
	unlock3()
}
