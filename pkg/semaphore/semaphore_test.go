package semaphore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTryAcquire(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		capacity int
	}{
		{"one slot", 1},
		{"few slots", 3},
		{"many slots", 64},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			sem := New(tc.capacity, time.Second)
			for i := 0; i < tc.capacity; i++ {
				if !sem.TryAcquire() {
					t.Fatalf("TryAcquire() %d failed with free slots", i)
				}
			}
			if sem.TryAcquire() {
				t.Fatal("TryAcquire() succeeded on a full semaphore")
			}

			sem.Release()
			if !sem.TryAcquire() {
				t.Error("TryAcquire() failed after Release()")
			}
		})
	}
}

func TestNilSemaphore(t *testing.T) {
	t.Parallel()

	var sem *ConnSemaphore
	if !sem.TryAcquire() {
		t.Error("nil TryAcquire() = false, want true")
	}
	if err := sem.Acquire(context.Background()); err != nil {
		t.Errorf("nil Acquire() error = %v", err)
	}
	sem.Release()
}

func TestAcquire_Timeout(t *testing.T) {
	t.Parallel()

	sem := New(1, 50*time.Millisecond)
	if err := sem.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	start := time.Now()
	err := sem.Acquire(context.Background())
	if err == nil {
		t.Fatal("Acquire() on a full semaphore succeeded")
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Acquire() gave up after %v, want about 50ms", elapsed)
	}
}

func TestAcquire_ContextCancelled(t *testing.T) {
	t.Parallel()

	sem := New(1, time.Minute)
	sem.TryAcquire()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if err := sem.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() error = %v, want context.Canceled", err)
	}
}

func TestAcquire_WaitsForRelease(t *testing.T) {
	t.Parallel()

	sem := New(1, time.Second)
	sem.TryAcquire()

	go func() {
		time.Sleep(20 * time.Millisecond)
		sem.Release()
	}()

	if err := sem.Acquire(context.Background()); err != nil {
		t.Errorf("Acquire() error = %v, want the released slot", err)
	}
}

func TestConcurrentHolders(t *testing.T) {
	t.Parallel()

	const capacity = 4
	sem := New(capacity, time.Second)

	var holders, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			defer sem.Release()

			n := holders.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			holders.Add(-1)
		}()
	}
	wg.Wait()

	if p := peak.Load(); p > capacity {
		t.Errorf("%d concurrent holders, want at most %d", p, capacity)
	}
}
