// Package reactor provides a readiness-driven event loop on top of Go's
// blocking network primitives.
//
// Sources (streams, datagram sockets, listeners) run small pump goroutines that
// move bytes between the socket and in-memory queues and signal readiness to a
// Selector. All protocol work happens on the goroutine that calls Select, which
// only ever sees non-blocking reads and writes:
//
//	sel := reactor.NewSelector()
//	st := reactor.NewStream(sel, conn, reactor.OpRead, handle)
//	for {
//		events, err := sel.Select(250 * time.Millisecond)
//		if err != nil {
//			return err
//		}
//		for _, ev := range events {
//			ev.Dispatch()
//		}
//	}
package reactor

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Select once the selector has been closed.
var ErrClosed = errors.New("selector is closed")

// Op is a set of readiness operations.
type Op uint32

const (
	// OpAccept signals that a listener has a pending connection.
	OpAccept Op = 1 << iota
	// OpRead signals that a source has buffered input or a pending error.
	OpRead
	// OpWrite signals that a source can take more output.
	OpWrite
)

func (o Op) String() string {
	var parts []string
	if o&OpAccept != 0 {
		parts = append(parts, "accept")
	}
	if o&OpRead != 0 {
		parts = append(parts, "read")
	}
	if o&OpWrite != 0 {
		parts = append(parts, "write")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Handler processes one readiness event. It runs on the select goroutine.
type Handler func(ev Event) error

// Event is the readiness of one key, restricted to the key's interest set.
type Event struct {
	Key   *Key
	Ready Op
}

// Acceptable reports whether a connection can be accepted.
func (e Event) Acceptable() bool { return e.Ready&OpAccept != 0 }

// Readable reports whether input (or an input error) is available.
func (e Event) Readable() bool { return e.Ready&OpRead != 0 }

// Writable reports whether queued output can be handed to the source.
func (e Event) Writable() bool { return e.Ready&OpWrite != 0 }

// Dispatch hands the event to the handler its key was registered with.
func (e Event) Dispatch() error {
	if e.Key == nil || e.Key.handler == nil {
		return nil
	}
	return e.Key.handler(e)
}

// Key is the registration of one source with a Selector.
type Key struct {
	sel       *Selector
	handler   Handler
	interest  atomic.Uint32
	ready     atomic.Uint32
	cancelled atomic.Bool

	queued bool // guarded by sel.mu
}

// Selector returns the selector the key is registered with.
func (k *Key) Selector() *Selector { return k.sel }

// Interest returns the operations the key is currently interested in.
func (k *Key) Interest() Op { return Op(k.interest.Load()) }

// SetInterest replaces the interest set. Readiness that was signalled while
// the key was not interested is delivered on the next select.
func (k *Key) SetInterest(ops Op) {
	k.interest.Store(uint32(ops))
	if Op(k.ready.Load())&ops != 0 {
		k.sel.enqueue(k)
	}
}

// Cancel removes the key from future selects.
func (k *Key) Cancel() {
	if k.cancelled.CompareAndSwap(false, true) {
		k.sel.Wakeup()
	}
}

// Cancelled reports whether Cancel was called.
func (k *Key) Cancelled() bool { return k.cancelled.Load() }

func (k *Key) signal(ops Op) {
	k.ready.Or(uint32(ops))
	if k.Interest()&ops != 0 {
		k.sel.enqueue(k)
	}
}

// Selector multiplexes readiness of many keys onto one goroutine.
// Select must not be called concurrently; every other method is safe for
// concurrent use.
type Selector struct {
	mu    sync.Mutex
	ready []*Key

	wake   chan struct{}
	closed atomic.Bool
}

// NewSelector creates an open selector.
func NewSelector() *Selector {
	return &Selector{wake: make(chan struct{}, 1)}
}

// Register creates a key for a source. The handler is invoked by Event.Dispatch.
func (s *Selector) Register(handler Handler, interest Op) *Key {
	k := &Key{sel: s, handler: handler}
	k.interest.Store(uint32(interest))
	return k
}

// Wakeup makes a blocked (or the next) Select return immediately.
func (s *Selector) Wakeup() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Select waits up to timeout for at least one key to become ready and returns
// the ready keys. A timeout of zero polls without blocking. Select may return
// no events before the timeout if it was woken up.
func (s *Selector) Select(timeout time.Duration) ([]Event, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	if timeout > 0 && !s.hasReady() {
		timer := time.NewTimer(timeout)
		select {
		case <-s.wake:
		case <-timer.C:
		}
		timer.Stop()
	} else {
		select {
		case <-s.wake:
		default:
		}
	}

	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.Lock()
	keys := s.ready
	s.ready = nil
	for _, k := range keys {
		k.queued = false
	}
	s.mu.Unlock()

	events := make([]Event, 0, len(keys))
	for _, k := range keys {
		if k.Cancelled() {
			continue
		}
		ready := Op(k.ready.Swap(0))
		match := ready & k.Interest()
		if rest := ready &^ match; rest != 0 {
			k.ready.Or(uint32(rest))
		}
		if match != 0 {
			events = append(events, Event{Key: k, Ready: match})
		}
	}

	return events, nil
}

// Close disposes the selector. Pending and future Selects return ErrClosed.
func (s *Selector) Close() error {
	s.closed.Store(true)
	s.Wakeup()
	return nil
}

// Closed reports whether Close was called.
func (s *Selector) Closed() bool { return s.closed.Load() }

func (s *Selector) hasReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ready) > 0
}

func (s *Selector) enqueue(k *Key) {
	s.mu.Lock()
	if !k.queued {
		k.queued = true
		s.ready = append(s.ready, k)
	}
	s.mu.Unlock()
	s.Wakeup()
}

// errBox holds the first error a pump goroutine ran into.
type errBox struct {
	mu  sync.Mutex
	err error
}

func (b *errBox) set(err error) {
	b.mu.Lock()
	if b.err == nil {
		b.err = err
	}
	b.mu.Unlock()
}

func (b *errBox) get() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}
