// Package semaphore bounds the number of connections an endpoint holds.
// Blocking acquisition with a timeout serves transports that upgrade
// connections concurrently. The reactor accept path uses TryAcquire, since it
// must never block.
package semaphore

import (
	"context"
	"fmt"
	"time"
)

// ConnSemaphore hands out a fixed number of connection slots. All methods
// are no-ops on a nil semaphore, which means unlimited.
type ConnSemaphore struct {
	slots   chan struct{}
	timeout time.Duration
}

// New creates a semaphore with n free slots. Acquire waits at most timeout.
func New(n int, timeout time.Duration) *ConnSemaphore {
	slots := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		slots <- struct{}{}
	}
	return &ConnSemaphore{slots: slots, timeout: timeout}
}

// Acquire waits for a free slot until the timeout expires or ctx is done.
func (s *ConnSemaphore) Acquire(ctx context.Context) error {
	if s == nil {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	select {
	case <-s.slots:
		return nil
	case <-waitCtx.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("no connection slot free after %v", s.timeout)
	}
}

// TryAcquire takes a slot if one is free and reports whether it did.
func (s *ConnSemaphore) TryAcquire() bool {
	if s == nil {
		return true
	}

	select {
	case <-s.slots:
		return true
	default:
		return false
	}
}

// Release returns a slot taken by Acquire or TryAcquire.
func (s *ConnSemaphore) Release() {
	if s == nil {
		return
	}
	s.slots <- struct{}{}
}
