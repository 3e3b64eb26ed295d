package tcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"dominicbreuker/lanlink/pkg/codec"
	"dominicbreuker/lanlink/pkg/reactor"
	"dominicbreuker/lanlink/pkg/transport"
)

// Defaults for the liveness intervals of a reliable channel.
const (
	DefaultTimeout   = 12 * time.Second
	DefaultKeepAlive = 8 * time.Second
)

var (
	errWriteOverflow = errors.New("write buffer limit exceeded")
	errFrameTooLarge = errors.New("encoded object exceeds the frame limit")
)

// Channel is the framed, ordered half of a connection. Every frame is a
// length prefix followed by one encoded object.
//
// ReadObject, WriteOperation and Close are driven by the select goroutine.
// Send may be called from any goroutine.
type Channel struct {
	// Timeout is how long the channel may go without reading before
	// IsTimedOut reports true. Zero disables the check.
	Timeout time.Duration
	// KeepAlive is how long the channel may go without writing before
	// NeedsKeepAlive reports true. Zero disables keep-alives.
	KeepAlive time.Duration

	serializer codec.Serializer
	stream     atomic.Pointer[reactor.Stream]

	readBuf    []byte
	pos, lim   int
	currentLen int

	writeMu    sync.Mutex
	writeBuf   []byte
	wpos, wlim int
	scratch    bytes.Buffer

	lastRead  atomic.Int64
	lastWrite atomic.Int64
}

// NewChannel creates an unattached channel. objectBufferSize bounds a single
// frame, writeBufferSize bounds all queued output.
func NewChannel(s codec.Serializer, writeBufferSize, objectBufferSize int) *Channel {
	return &Channel{
		Timeout:    DefaultTimeout,
		KeepAlive:  DefaultKeepAlive,
		serializer: s,
		readBuf:    make([]byte, objectBufferSize),
		writeBuf:   make([]byte, writeBufferSize),
	}
}

// Connect dials addr and attaches the resulting stream to sel. It blocks up
// to timeout.
func (c *Channel) Connect(ctx context.Context, sel *reactor.Selector, dial transport.Dialer, addr string, timeout time.Duration, handler reactor.Handler) error {
	c.Close()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("dial(%s): %w", addr, err)
	}

	c.Accept(sel, conn, handler)
	return nil
}

// Accept attaches an established connection to sel.
func (c *Channel) Accept(sel *reactor.Selector, conn net.Conn, handler reactor.Handler) *reactor.Key {
	c.Close()

	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	c.writeMu.Lock()
	c.pos, c.lim, c.currentLen = 0, 0, 0
	c.wpos, c.wlim = 0, 0
	c.writeMu.Unlock()

	now := time.Now().UnixNano()
	c.lastRead.Store(now)
	c.lastWrite.Store(now)

	st := reactor.NewStream(sel, conn, reactor.OpRead, handler)
	c.stream.Store(st)
	return st.Key()
}

// ReadObject returns the next complete object, or nil if no complete frame
// is buffered yet. It never blocks.
func (c *Channel) ReadObject() (any, error) {
	st := c.stream.Load()
	if st == nil {
		return nil, transport.ErrClosed
	}

	width := c.serializer.LengthLength()

	if c.currentLen == 0 {
		ok, err := c.fill(st, width)
		if err != nil || !ok {
			return nil, err
		}

		length := c.serializer.ReadLength(c.readBuf[c.pos : c.pos+width])
		c.pos += width
		if length <= 0 {
			return nil, transport.NewProtocolError("read", fmt.Errorf("invalid object length: %d", length))
		}
		if length > len(c.readBuf) {
			return nil, transport.NewProtocolError("read", fmt.Errorf("unable to read object larger than read buffer: %d", length))
		}
		c.currentLen = length
	}

	length := c.currentLen
	ok, err := c.fill(st, length)
	if err != nil || !ok {
		return nil, err
	}

	frame := bytes.NewReader(c.readBuf[c.pos : c.pos+length])
	c.pos += length
	c.currentLen = 0

	v, err := c.serializer.Read(frame)
	if err != nil {
		return nil, transport.NewProtocolError("read", err)
	}
	if frame.Len() != 0 {
		return nil, transport.NewProtocolError("read", fmt.Errorf("incorrect number of bytes (%d remaining) used to deserialize object: %T", frame.Len(), v))
	}

	return v, nil
}

// fill makes n unread bytes available in the read buffer if the stream has
// them. It reports whether it succeeded.
func (c *Channel) fill(st *reactor.Stream, n int) (bool, error) {
	if c.lim-c.pos >= n {
		return true, nil
	}

	if c.pos > 0 {
		c.lim = copy(c.readBuf, c.readBuf[c.pos:c.lim])
		c.pos = 0
	}

	for c.lim < n {
		m, err := st.Read(c.readBuf[c.lim:])
		if m > 0 {
			c.lim += m
			c.lastRead.Store(time.Now().UnixNano())
		}
		if err != nil {
			return false, fmt.Errorf("read: %w", err)
		}
		if m == 0 {
			return false, nil
		}
	}

	return true, nil
}

// Send encodes v as one frame and queues it. It returns the number of bytes
// queued. If the frame cannot be handed to the socket right away the key is
// armed for write readiness and WriteOperation finishes the job.
func (c *Channel) Send(v any) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	st := c.stream.Load()
	if st == nil {
		return 0, transport.ErrClosed
	}

	c.scratch.Reset()
	if err := c.serializer.Write(&c.scratch, v); err != nil {
		return 0, transport.NewProtocolError("send", err)
	}

	n := c.scratch.Len()
	if n > codec.MaxLength(c.serializer) || n > len(c.readBuf) {
		return 0, transport.NewProtocolError("send", fmt.Errorf("%w: %d bytes (%T)", errFrameTooLarge, n, v))
	}

	width := c.serializer.LengthLength()
	total := width + n

	wasEmpty := c.wpos == c.wlim
	if c.wpos > 0 {
		c.wlim = copy(c.writeBuf, c.writeBuf[c.wpos:c.wlim])
		c.wpos = 0
	}
	if c.wlim+total > len(c.writeBuf) {
		return 0, transport.NewProtocolError("send", fmt.Errorf("%w writing object of type %T", errWriteOverflow, v))
	}

	c.serializer.WriteLength(c.writeBuf[c.wlim:c.wlim+width], n)
	copy(c.writeBuf[c.wlim+width:], c.scratch.Bytes())
	c.wlim += total

	if wasEmpty {
		flushed, err := c.writeToSocket(st)
		if err != nil {
			return 0, err
		}
		if !flushed {
			st.Key().SetInterest(reactor.OpRead | reactor.OpWrite)
		}
	} else {
		st.Key().Selector().Wakeup()
	}

	c.lastWrite.Store(time.Now().UnixNano())
	return total, nil
}

// WriteOperation flushes queued output after the key became writable and
// disarms write readiness once nothing is left.
func (c *Channel) WriteOperation() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	st := c.stream.Load()
	if st == nil {
		return transport.ErrClosed
	}

	flushed, err := c.writeToSocket(st)
	if err != nil {
		return err
	}
	if flushed {
		st.Key().SetInterest(reactor.OpRead)
	}
	c.lastWrite.Store(time.Now().UnixNano())
	return nil
}

// writeToSocket hands queued bytes to the stream until it takes no more.
// writeMu must be held.
func (c *Channel) writeToSocket(st *reactor.Stream) (bool, error) {
	for c.wpos < c.wlim {
		n, err := st.Write(c.writeBuf[c.wpos:c.wlim])
		if err != nil {
			return false, fmt.Errorf("write: %w", err)
		}
		if n == 0 {
			break
		}
		c.wpos += n
	}

	if c.wpos < c.wlim {
		return false, nil
	}
	c.wpos, c.wlim = 0, 0
	return true, nil
}

// Close closes the socket. It is idempotent and safe from any goroutine.
func (c *Channel) Close() error {
	st := c.stream.Swap(nil)
	if st == nil {
		return nil
	}
	return st.Close()
}

// Key returns the selector registration, or nil when not connected.
func (c *Channel) Key() *reactor.Key {
	st := c.stream.Load()
	if st == nil {
		return nil
	}
	return st.Key()
}

// IsConnected reports whether a socket is attached.
func (c *Channel) IsConnected() bool {
	return c.stream.Load() != nil
}

// IsTimedOut reports whether nothing was read for longer than Timeout.
func (c *Channel) IsTimedOut(now time.Time) bool {
	return c.IsConnected() && c.Timeout > 0 &&
		now.Sub(time.Unix(0, c.lastRead.Load())) > c.Timeout
}

// NeedsKeepAlive reports whether nothing was written for longer than KeepAlive.
func (c *Channel) NeedsKeepAlive(now time.Time) bool {
	return c.IsConnected() && c.KeepAlive > 0 &&
		now.Sub(time.Unix(0, c.lastWrite.Load())) > c.KeepAlive
}

// WriteBufferLoad returns the fraction of the write buffer in use.
func (c *Channel) WriteBufferLoad() float64 {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return float64(c.wlim-c.wpos) / float64(len(c.writeBuf))
}

// WriteBufferSize returns the capacity of the write buffer.
func (c *Channel) WriteBufferSize() int {
	return len(c.writeBuf)
}

// RemoteAddr returns the peer address, or nil when not connected.
func (c *Channel) RemoteAddr() net.Addr {
	st := c.stream.Load()
	if st == nil {
		return nil
	}
	return st.Conn().RemoteAddr()
}
