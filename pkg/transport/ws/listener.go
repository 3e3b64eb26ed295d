package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"dominicbreuker/lanlink/pkg/config"
	"dominicbreuker/lanlink/pkg/semaphore"

	"github.com/coder/websocket"
)

// MaxConcurrent bounds the WebSocket connections one listener holds open.
// Upgrades beyond it receive HTTP 503.
const MaxConcurrent = 100

// Listener accepts WebSocket upgrades on an HTTP server and hands the
// resulting streams out through Accept, like a net.Listener.
type Listener struct {
	nl  net.Listener
	srv *http.Server
	sem *semaphore.ConnSemaphore

	conns chan net.Conn

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Listen starts an HTTP server on addr that upgrades every request to a
// WebSocket. The deps parameter is optional and can be nil to use default
// implementations.
func Listen(addr string, deps *config.Dependencies) (*Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("net.ResolveTCPAddr(tcp, %s): %w", addr, err)
	}

	nl, err := config.GetTCPListenerFunc(deps)("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("net.ListenTCP(tcp, %s): %w", tcpAddr.String(), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		nl:     nl,
		sem:    semaphore.New(MaxConcurrent, time.Second),
		conns:  make(chan net.Conn),
		ctx:    ctx,
		cancel: cancel,
	}
	l.srv = &http.Server{
		Handler:           http.HandlerFunc(l.handle),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go l.srv.Serve(nl)

	return l, nil
}

func (l *Listener) handle(w http.ResponseWriter, r *http.Request) {
	if err := l.sem.Acquire(r.Context()); err != nil {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	defer l.sem.Release()

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"bin"},
	})
	if err != nil {
		return
	}

	conn := &trackedConn{
		Conn: websocket.NetConn(l.ctx, c, websocket.MessageBinary),
		done: make(chan struct{}),
	}

	select {
	case l.conns <- conn:
	case <-l.ctx.Done():
		conn.Close()
		return
	}

	// Hold the slot until the stream is closed.
	select {
	case <-conn.done:
	case <-l.ctx.Done():
	}
}

// Accept waits for the next upgraded connection.
func (l *Listener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.ctx.Done():
		return nil, net.ErrClosed
	}
}

// Addr returns the listening address.
func (l *Listener) Addr() net.Addr {
	return l.nl.Addr()
}

// Close stops the HTTP server and tears down every open WebSocket.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.cancel()
		err = l.srv.Close()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	})
	return err
}

type trackedConn struct {
	net.Conn
	once sync.Once
	done chan struct{}
}

func (c *trackedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(func() { close(c.done) })
	return err
}

var _ net.Listener = (*Listener)(nil)
