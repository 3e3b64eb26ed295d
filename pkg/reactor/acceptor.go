package reactor

import (
	"net"
	"sync"
)

const acceptQueue = 16

// Acceptor adapts a net.Listener to non-blocking accepts.
type Acceptor struct {
	l   net.Listener
	key *Key

	in  chan net.Conn
	err errBox

	done      chan struct{}
	closeOnce sync.Once
}

// NewAcceptor registers l with sel for OpAccept and starts its accept pump.
func NewAcceptor(sel *Selector, l net.Listener, handler Handler) *Acceptor {
	a := &Acceptor{
		l:    l,
		in:   make(chan net.Conn, acceptQueue),
		done: make(chan struct{}),
	}
	a.key = sel.Register(handler, OpAccept)

	go a.acceptPump()

	return a
}

// Key returns the listener's selector registration.
func (a *Acceptor) Key() *Key { return a.key }

// Addr returns the listening address.
func (a *Acceptor) Addr() net.Addr { return a.l.Addr() }

// Accept returns the next pending connection without blocking, or nil when
// there is none.
func (a *Acceptor) Accept() (net.Conn, error) {
	select {
	case c := <-a.in:
		if len(a.in) > 0 {
			a.key.signal(OpAccept)
		}
		return c, nil
	default:
	}

	if err := a.err.get(); err != nil && len(a.in) == 0 {
		return nil, err
	}
	return nil, nil
}

// Close stops accepting, closes the listener and any connection that was
// accepted but not yet handed out.
func (a *Acceptor) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.done)
		a.key.Cancel()
		err = a.l.Close()

		for {
			select {
			case c := <-a.in:
				c.Close()
			default:
				return
			}
		}
	})
	return err
}

func (a *Acceptor) acceptPump() {
	for {
		c, err := a.l.Accept()
		if err != nil {
			a.err.set(err)
			a.key.signal(OpAccept)
			return
		}

		select {
		case a.in <- c:
			a.key.signal(OpAccept)
		case <-a.done:
			c.Close()
			return
		}
	}
}
