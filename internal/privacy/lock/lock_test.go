package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "privacy/pkg/domain-errors"
)

func TestKeyedMutex_TryLockSkipsHeldKey(t *testing.T) {
	k := NewKeyedMutex()
	ctx := context.Background()

	unlock, ok, err := k.TryLock(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = k.TryLock(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok, "held key must not be acquired twice")

	other, ok, err := k.TryLock(ctx, "s2")
	require.NoError(t, err)
	assert.True(t, ok, "unrelated keys are independent")
	other()

	unlock()
	again, ok, err := k.TryLock(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)
	again()
}

func TestKeyedMutex_UnlockIsIdempotent(t *testing.T) {
	k := NewKeyedMutex()
	unlock, err := k.Lock(context.Background(), "s1")
	require.NoError(t, err)
	unlock()
	assert.NotPanics(t, unlock)
}

func TestKeyedMutex_LockWaitsForRelease(t *testing.T) {
	k := NewKeyedMutex()
	ctx := context.Background()

	unlock, err := k.Lock(ctx, "s1")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := k.Lock(ctx, "s1")
		if err == nil {
			close(acquired)
			u()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock returned while key was held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired the released key")
	}
}

func TestKeyedMutex_LockHonoursContext(t *testing.T) {
	k := NewKeyedMutex()
	unlock, err := k.Lock(context.Background(), "s1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "s1")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
}

func TestKeyedMutex_MutualExclusion(t *testing.T) {
	k := NewKeyedMutex()
	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(context.Background(), "shared")
			if err != nil {
				return
			}
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestHashKey_Distributes(t *testing.T) {
	seen := map[uint32]bool{}
	for _, key := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		seen[hashKey(key)%numShards] = true
	}
	assert.Greater(t, len(seen), 1)
}
