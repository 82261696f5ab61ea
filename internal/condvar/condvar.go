// Package condvar provides a condition variable that is safe to use with
// locks other than sync.Mutex, the same problem the parent repo's own
// compatCond and Event types solve: sync.Cond requires a *sync.Locker whose
// Unlock doesn't do extra work on the way out, which rules out lock wrappers
// that run deferred actions on Unlock.
//
// This is the parent repo's event.go broadcast design (a slice of
// once-closed channels, woken in registration order) generalized with a
// predicate so a caller can wait for "the guarded state satisfies f" in one
// call, which is what a per-family updating-state machine needs.
package condvar

import "sync"

// Cond is a broadcast-only condition variable: Wait blocks until the next
// Broadcast; WaitUntil returns immediately if its predicate is already true.
type Cond struct {
	L sync.Locker

	mu      sync.Mutex
	waiters []chan struct{}
}

// New returns a Cond associated with l. Panics if l is nil, matching
// sync.NewCond's contract.
func New(l sync.Locker) *Cond {
	if l == nil {
		panic("nil Locker passed to condvar.New")
	}
	return &Cond{L: l}
}

// Wait atomically unlocks c.L and suspends the goroutine. On return, c.L is
// locked again. The caller must hold c.L when calling Wait.
func (c *Cond) Wait() {
	ch := make(chan struct{})
	c.mu.Lock()
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()

	c.L.Unlock()
	<-ch
	c.L.Lock()
}

// WaitUntil blocks, re-checking ready() each time Broadcast wakes it, until
// ready() returns true. The caller must hold c.L throughout; ready() is
// called with c.L held.
func (c *Cond) WaitUntil(ready func() bool) {
	for !ready() {
		c.Wait()
	}
}

// Broadcast wakes every goroutine currently blocked in Wait.
func (c *Cond) Broadcast() {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
}
