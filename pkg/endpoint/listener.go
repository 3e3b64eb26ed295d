package endpoint

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Listener receives connection notifications. Unless wrapped by one of the
// middleware constructors, methods run on the goroutine calling Update and
// must not block for long.
//
// Listeners are compared with ==, so implementations must be comparable.
// Use pointer types.
type Listener interface {
	Connected(c *Connection)
	Disconnected(c *Connection, reason Reason)
	Received(c *Connection, v any)
	Idle(c *Connection)
}

// Funcs adapts plain functions to a Listener. Nil fields are skipped.
type Funcs struct {
	OnConnected    func(c *Connection)
	OnDisconnected func(c *Connection, reason Reason)
	OnReceived     func(c *Connection, v any)
	OnIdle         func(c *Connection)
}

// Connected calls OnConnected.
func (f *Funcs) Connected(c *Connection) {
	if f.OnConnected != nil {
		f.OnConnected(c)
	}
}

// Disconnected calls OnDisconnected.
func (f *Funcs) Disconnected(c *Connection, reason Reason) {
	if f.OnDisconnected != nil {
		f.OnDisconnected(c, reason)
	}
}

// Received calls OnReceived.
func (f *Funcs) Received(c *Connection, v any) {
	if f.OnReceived != nil {
		f.OnReceived(c, v)
	}
}

// Idle calls OnIdle.
func (f *Funcs) Idle(c *Connection) {
	if f.OnIdle != nil {
		f.OnIdle(c)
	}
}

// Registry is an ordered set of listeners. Adding and removing copies the
// list, so notifications iterate a snapshot without locking. A listener
// that panics is reported and skipped, and later listeners still run.
type Registry struct {
	mu        sync.Mutex
	listeners atomic.Pointer[[]Listener]
	onPanic   func(error)
}

// Add appends l. Adding a listener twice has no effect.
func (r *Registry) Add(l Listener) {
	if l == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.Listeners()
	for _, x := range cur {
		if x == l {
			return
		}
	}

	next := make([]Listener, 0, len(cur)+1)
	next = append(next, cur...)
	next = append(next, l)
	r.listeners.Store(&next)
}

// Remove drops l if present.
func (r *Registry) Remove(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.Listeners()
	next := make([]Listener, 0, len(cur))
	for _, x := range cur {
		if x != l {
			next = append(next, x)
		}
	}
	if len(next) != len(cur) {
		r.listeners.Store(&next)
	}
}

// Listeners returns the current snapshot. It must not be modified.
func (r *Registry) Listeners() []Listener {
	if p := r.listeners.Load(); p != nil {
		return *p
	}
	return nil
}

// Len returns the number of listeners.
func (r *Registry) Len() int {
	return len(r.Listeners())
}

func (r *Registry) connected(c *Connection) {
	r.each(func(l Listener) { l.Connected(c) })
}

func (r *Registry) disconnected(c *Connection, reason Reason) {
	r.each(func(l Listener) { l.Disconnected(c, reason) })
}

func (r *Registry) received(c *Connection, v any) {
	r.each(func(l Listener) { l.Received(c, v) })
}

func (r *Registry) idle(c *Connection) {
	r.each(func(l Listener) { l.Idle(c) })
}

func (r *Registry) each(f func(Listener)) {
	for _, l := range r.Listeners() {
		r.call(l, f)
	}
}

func (r *Registry) call(l Listener, f func(Listener)) {
	defer func() {
		if p := recover(); p != nil && r.onPanic != nil {
			r.onPanic(panicError(l, p))
		}
	}()
	f(l)
}

// panicError describes a panic recovered from listener l. Error values stay
// reachable through errors.Is and errors.As.
func panicError(l Listener, p any) error {
	if err, ok := p.(error); ok {
		return fmt.Errorf("listener %T panicked: %w", l, err)
	}
	return fmt.Errorf("listener %T panicked: %v", l, p)
}
