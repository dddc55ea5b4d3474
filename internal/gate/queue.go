// ABOUTME: Strict FIFO admission queue enforcing the one-interactive-decision
// ABOUTME: invariant for the approval gate.

package gate

import (
	"context"
	"sync"
)

// admission serializes interactive sessions. Exactly one holder at a time;
// waiters are admitted in arrival order. This makes concurrent-request
// behavior a deliberate policy instead of an accident of shared variables.
type admission struct {
	mu    sync.Mutex
	busy  bool
	queue []chan struct{}
}

// acquire blocks until the caller holds the slot or ctx expires.
func (a *admission) acquire(ctx context.Context) error {
	a.mu.Lock()
	if !a.busy {
		a.busy = true
		a.mu.Unlock()
		return nil
	}
	w := make(chan struct{})
	a.queue = append(a.queue, w)
	a.mu.Unlock()

	select {
	case <-w:
		return nil
	case <-ctx.Done():
		a.mu.Lock()
		for i, q := range a.queue {
			if q == w {
				a.queue = append(a.queue[:i], a.queue[i+1:]...)
				a.mu.Unlock()
				return ctx.Err()
			}
		}
		a.mu.Unlock()
		// The slot was granted between ctx expiry and removal; pass it on.
		a.release()
		return ctx.Err()
	}
}

// release hands the slot to the oldest waiter, or frees it.
func (a *admission) release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.queue) > 0 {
		next := a.queue[0]
		a.queue = a.queue[1:]
		close(next)
		return
	}
	a.busy = false
}
