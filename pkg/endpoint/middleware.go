package endpoint

import (
	"math/rand"
	"sync"
	"time"
)

// deferred hands every notification to schedule instead of running it.
type deferred struct {
	target   Listener
	schedule func(func())
}

// Deferred wraps l so that notifications are passed to schedule as closures
// and run wherever schedule runs them.
func Deferred(l Listener, schedule func(func())) Listener {
	return &deferred{target: l, schedule: schedule}
}

func (d *deferred) Connected(c *Connection) {
	d.schedule(func() { d.target.Connected(c) })
}

func (d *deferred) Disconnected(c *Connection, reason Reason) {
	d.schedule(func() { d.target.Disconnected(c, reason) })
}

func (d *deferred) Received(c *Connection, v any) {
	d.schedule(func() { d.target.Received(c, v) })
}

func (d *deferred) Idle(c *Connection) {
	d.schedule(func() { d.target.Idle(c) })
}

const threadedQueueSize = 256

// ThreadedListener runs notifications on a pool of worker goroutines. With
// more than one worker, notifications may run out of order.
type ThreadedListener struct {
	Listener

	target  Listener
	onPanic func(error)

	tasks chan func()
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

// Threaded wraps l so that its notifications run on workers goroutines
// instead of the update goroutine. Close stops the workers. A panicking
// notification is recovered and, if onPanic is set, reported to it.
func Threaded(l Listener, workers int, onPanic func(error)) *ThreadedListener {
	if workers < 1 {
		workers = 1
	}

	t := &ThreadedListener{
		target:  l,
		onPanic: onPanic,
		tasks:   make(chan func(), threadedQueueSize),
		done:    make(chan struct{}),
	}
	t.Listener = Deferred(l, t.queue)

	t.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go t.work()
	}
	return t
}

func (t *ThreadedListener) queue(f func()) {
	select {
	case t.tasks <- f:
	case <-t.done:
	}
}

func (t *ThreadedListener) work() {
	defer t.wg.Done()
	for {
		select {
		case f := <-t.tasks:
			runRecovered(t.target, f, t.onPanic)
		case <-t.done:
			return
		}
	}
}

// Close stops the workers and waits for running notifications. Queued
// notifications are dropped.
func (t *ThreadedListener) Close() {
	t.once.Do(func() {
		close(t.done)
		t.wg.Wait()
	})
}

// LaggedListener delays notifications by a random duration to simulate a
// slow network. Only incoming notifications are delayed; wrap the listener
// on the other endpoint to delay the opposite direction.
type LaggedListener struct {
	Listener

	min, max time.Duration
	target   Listener
	onPanic  func(error)

	mu      sync.Mutex
	pending []func()
	runMu   sync.Mutex
}

// Lagged wraps l so every notification runs after a delay in [min, max).
// Notifications keep their order. Panics are recovered and reported to
// onPanic if it is set.
func Lagged(l Listener, min, max time.Duration, onPanic func(error)) *LaggedListener {
	if max < min {
		max = min
	}
	g := &LaggedListener{min: min, max: max, target: l, onPanic: onPanic}
	g.Listener = Deferred(l, g.queue)
	return g
}

func (g *LaggedListener) queue(f func()) {
	g.mu.Lock()
	g.pending = append(g.pending, f)
	g.mu.Unlock()

	time.AfterFunc(g.lag(), g.runOldest)
}

func (g *LaggedListener) lag() time.Duration {
	if g.max <= g.min {
		return g.min
	}
	return g.min + time.Duration(rand.Int63n(int64(g.max-g.min)))
}

// runOldest runs the oldest queued notification. Each timer runs one, so
// random delays never reorder them.
func (g *LaggedListener) runOldest() {
	g.runMu.Lock()
	defer g.runMu.Unlock()

	g.mu.Lock()
	if len(g.pending) == 0 {
		g.mu.Unlock()
		return
	}
	f := g.pending[0]
	g.pending = g.pending[1:]
	g.mu.Unlock()

	runRecovered(g.target, f, g.onPanic)
}

func runRecovered(l Listener, f func(), onPanic func(error)) {
	defer func() {
		if p := recover(); p != nil && onPanic != nil {
			onPanic(panicError(l, p))
		}
	}()
	f()
}
