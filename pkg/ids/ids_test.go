package ids

import (
	"bytes"
	"errors"
	"sync"
	"testing"
)

func TestNext_Positive(t *testing.T) {
	t.Parallel()

	for i := 0; i < 1000; i++ {
		id, err := Next(func(int32) bool { return false })
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if id <= 0 {
			t.Fatalf("Next() = %d, want a positive id", id)
		}
	}
}

func TestNext_SkipsUsedAndZero(t *testing.T) {
	t.Parallel()

	// draws: 0 (skipped), 5 (in use), 0x80000007 (sign bit masked -> 7)
	r := bytes.NewReader([]byte{
		0, 0, 0, 0,
		0, 0, 0, 5,
		0x80, 0, 0, 7,
	})
	used := map[int32]bool{5: true}

	id, err := next(r, func(id int32) bool { return used[id] }, 10)
	if err != nil {
		t.Fatalf("next() error = %v", err)
	}
	if id != 7 {
		t.Errorf("next() = %d, want 7", id)
	}
}

func TestNext_Exhausted(t *testing.T) {
	t.Parallel()

	_, err := Next(func(int32) bool { return true })
	if !errors.Is(err, ErrExhausted) {
		t.Errorf("Next() error = %v, want ErrExhausted", err)
	}
}

func TestNext_ReaderError(t *testing.T) {
	t.Parallel()

	_, err := next(bytes.NewReader([]byte{1, 2}), func(int32) bool { return false }, 3)
	if err == nil || errors.Is(err, ErrExhausted) {
		t.Errorf("next() error = %v, want a read error", err)
	}
}

func TestNext_UniqueUnderConcurrency(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	taken := make(map[int32]bool)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				mu.Lock()
				id, err := Next(func(id int32) bool { return taken[id] })
				if err == nil {
					taken[id] = true
				}
				mu.Unlock()
				if err != nil {
					t.Errorf("Next() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if len(taken) != 64*50 {
		t.Errorf("got %d distinct ids, want %d", len(taken), 64*50)
	}
}
