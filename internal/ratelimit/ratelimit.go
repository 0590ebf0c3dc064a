// Package ratelimit implements the sliding-window concurrency gate used by
// the GraphQL client. (The channel-service directory scanner uses
// golang.org/x/time/rate instead.)
//
// Unlike a plain token bucket, the gate tracks two counters: total (calls
// issued in the current window) and concurrent (calls currently in
// flight). An acquire blocks until both are below capacity; a background
// timer, armed on the first acquire of an empty window, resets total
// after window elapses. The GraphQL defaults (capacity=5, window=1s) are
// deliberately not tunable from call sites — see NewGQLGate.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/dropsminer/core/internal/errors"
)

// Gate is a sliding-window concurrency limiter.
type Gate struct {
	capacity int
	window   time.Duration

	mu         sync.Mutex
	total      int
	concurrent int
	timerArmed bool
	waitCh     chan struct{}
}

// New builds a Gate with the given capacity and window. Most callers
// should prefer NewGQLGate, which pins the platform-mandated defaults.
func New(capacity int, window time.Duration) *Gate {
	return &Gate{
		capacity: capacity,
		window:   window,
		waitCh:   make(chan struct{}),
	}
}

// NewGQLGate returns the GraphQL rate limiter with capacity=5, window=1s.
// Do not tune these without evidence: a higher cap has been observed to
// cause platform-side blocking of the entire account.
func NewGQLGate() *Gate {
	return New(5, time.Second)
}

// Acquire blocks until a slot is available, then reserves it. The caller
// must call Release exactly once per successful Acquire. Returns
// errors.ErrRateLimited (wrapped) if ctx is cancelled while waiting.
func (g *Gate) Acquire(ctx context.Context) error {
	for {
		g.mu.Lock()
		if g.total < g.capacity && g.concurrent < g.capacity {
			g.total++
			g.concurrent++
			if !g.timerArmed {
				g.timerArmed = true
				go g.runWindowTimer()
			}
			g.mu.Unlock()
			return nil
		}
		ch := g.waitCh
		g.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return errors.Wrapf(errors.ErrRateLimited, "ratelimit: acquire cancelled: %v", ctx.Err())
		}
	}
}

// Release marks one in-flight call as complete and wakes waiters up to
// the newly freed capacity.
func (g *Gate) Release() {
	g.mu.Lock()
	if g.concurrent > 0 {
		g.concurrent--
	}
	g.broadcastLocked()
	g.mu.Unlock()
}

func (g *Gate) runWindowTimer() {
	time.Sleep(g.window)
	g.mu.Lock()
	g.total = 0
	g.timerArmed = false
	g.broadcastLocked()
	g.mu.Unlock()
}

// broadcastLocked must be called with g.mu held.
func (g *Gate) broadcastLocked() {
	close(g.waitCh)
	g.waitCh = make(chan struct{})
}

// Stats reports the current counters for diagnostics / --dump.
func (g *Gate) Stats() (total, concurrent, capacity int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.total, g.concurrent, g.capacity
}
