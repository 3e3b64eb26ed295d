package reactor

import (
	"net"
	"sync"
	"sync/atomic"
)

const chunkSize = 16 * 1024

// Stream adapts a blocking net.Conn to non-blocking reads and writes.
//
// A reader pump hands received chunks to the select goroutine one at a time
// and signals OpRead. A writer pump performs one blocking write at a time and
// signals OpWrite when it is done, which is the stream's notion of the socket
// becoming writable again.
type Stream struct {
	conn net.Conn
	key  *Key

	in      chan []byte
	pending []byte // owned by the select goroutine
	readErr errBox

	out      chan []byte
	busy     atomic.Bool
	writeErr errBox

	done      chan struct{}
	closeOnce sync.Once
}

// NewStream registers conn with sel and starts its pumps.
func NewStream(sel *Selector, conn net.Conn, interest Op, handler Handler) *Stream {
	s := &Stream{
		conn: conn,
		in:   make(chan []byte, 1),
		out:  make(chan []byte, 1),
		done: make(chan struct{}),
	}
	s.key = sel.Register(handler, interest)

	go s.readPump()
	go s.writePump()

	return s
}

// Key returns the stream's selector registration.
func (s *Stream) Key() *Key { return s.key }

// Conn returns the wrapped connection.
func (s *Stream) Conn() net.Conn { return s.conn }

// Read copies buffered input into p without blocking. It returns 0 and a nil
// error when nothing is buffered, and the connection's read error once every
// byte received before that error has been consumed.
func (s *Stream) Read(p []byte) (int, error) {
	select {
	case <-s.done:
		return 0, net.ErrClosed
	default:
	}

	n := 0
	for n < len(p) {
		if len(s.pending) == 0 {
			select {
			case chunk := <-s.in:
				s.pending = chunk
			default:
			}
			if len(s.pending) == 0 {
				break
			}
		}
		m := copy(p[n:], s.pending)
		s.pending = s.pending[m:]
		n += m
	}

	if len(s.pending) > 0 || len(s.in) > 0 {
		s.key.signal(OpRead)
	}

	if n == 0 {
		if err := s.readErr.get(); err != nil {
			if len(s.in) == 0 {
				return 0, err
			}
			s.key.signal(OpRead)
		}
	}

	return n, nil
}

// Write hands all of p to the writer pump, or nothing if a previous write is
// still in flight. It never blocks.
func (s *Stream) Write(p []byte) (int, error) {
	if err := s.writeErr.get(); err != nil {
		return 0, err
	}
	select {
	case <-s.done:
		return 0, net.ErrClosed
	default:
	}

	if len(p) == 0 || !s.busy.CompareAndSwap(false, true) {
		return 0, nil
	}

	b := make([]byte, len(p))
	copy(b, p)
	s.out <- b

	return len(p), nil
}

// Flushed reports whether no write is in flight.
func (s *Stream) Flushed() bool { return !s.busy.Load() }

// Close closes the connection and cancels the key. It is idempotent.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.key.Cancel()
		err = s.conn.Close()
	})
	return err
}

func (s *Stream) readPump() {
	buf := make([]byte, chunkSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			select {
			case s.in <- chunk:
				s.key.signal(OpRead)
			case <-s.done:
				return
			}
		}
		if err != nil {
			s.readErr.set(err)
			s.key.signal(OpRead)
			return
		}
	}
}

func (s *Stream) writePump() {
	for {
		select {
		case b := <-s.out:
			_, err := s.conn.Write(b)
			s.busy.Store(false)
			if err != nil {
				s.writeErr.set(err)
				s.key.signal(OpRead | OpWrite)
				return
			}
			s.key.signal(OpWrite)
		case <-s.done:
			return
		}
	}
}
