package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquire_AllowsUpToCapacity(t *testing.T) {
	g := New(5, time.Hour)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, g.Acquire(ctx))
	}
	total, concurrent, capacity := g.Stats()
	require.Equal(t, 5, total)
	require.Equal(t, 5, concurrent)
	require.Equal(t, 5, capacity)
}

func TestAcquire_BlocksBeyondCapacityUntilRelease(t *testing.T) {
	// A short window lets total reset before the first check below, so the
	// third acquire is held back by concurrency alone until Release.
	g := New(2, 20*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, g.Acquire(ctx))
	require.NoError(t, g.Acquire(ctx))

	acquired := make(chan struct{})
	go func() {
		require.NoError(t, g.Acquire(ctx))
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire should have blocked at capacity")
	case <-time.After(50 * time.Millisecond):
	}

	g.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("acquire did not unblock after release")
	}
}

func TestAcquire_WindowResetsTotal(t *testing.T) {
	g := New(2, 50*time.Millisecond)
	ctx := context.Background()

	// Drive total to capacity while keeping concurrent low, so the next
	// acquire is blocked purely by the total counter, not by concurrency.
	require.NoError(t, g.Acquire(ctx))
	g.Release()
	require.NoError(t, g.Acquire(ctx))
	g.Release()

	done := make(chan struct{})
	go func() {
		require.NoError(t, g.Acquire(ctx))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("third acquire should have unblocked once the window reset total")
	}
}

func TestAcquire_ContextCancelReturnsError(t *testing.T) {
	g := New(1, time.Hour)
	ctx := context.Background()
	require.NoError(t, g.Acquire(ctx))

	cancelCtx, cancel := context.WithCancel(ctx)
	cancel()
	err := g.Acquire(cancelCtx)
	require.Error(t, err)
}

func TestConcurrentNeverExceedsCapacity(t *testing.T) {
	// The window resets total often enough for all 20 acquires to finish.
	g := New(5, 10*time.Millisecond)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	maxSeen := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, g.Acquire(ctx))
			_, concurrent, _ := g.Stats()
			mu.Lock()
			if concurrent > maxSeen {
				maxSeen = concurrent
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			g.Release()
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, maxSeen, 5)
}
