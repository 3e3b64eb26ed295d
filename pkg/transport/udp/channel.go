// Package udp provides the datagram Channel, UDP socket helpers and the
// multicast and broadcast sockets used by LAN discovery.
//
// One datagram carries one encoded object and has no length prefix.
package udp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"dominicbreuker/lanlink/pkg/codec"
	"dominicbreuker/lanlink/pkg/reactor"
	"dominicbreuker/lanlink/pkg/transport"
)

// DefaultKeepAlive is the keep-alive interval of a connected datagram channel.
const DefaultKeepAlive = 19 * time.Second

var errTooLarge = errors.New("encoded object exceeds the datagram buffer")

// Channel is the unreliable half of a connection. A bound channel serves
// many peers through one socket, a connected channel talks to one.
//
// ReadFromAddress, ReadObject and Close are driven by the select goroutine.
// Send may be called from any goroutine; all peers share one encode buffer
// guarded by one lock.
type Channel struct {
	// KeepAlive is how long a connected channel may go without traffic
	// before NeedsKeepAlive reports true. Zero disables keep-alives.
	KeepAlive time.Duration

	serializer codec.Serializer
	dgram      atomic.Pointer[reactor.Datagram]

	readBuf []byte
	n       int
	readErr error

	writeMu  sync.Mutex
	writeBuf bytes.Buffer

	lastCommunication atomic.Int64
}

// NewChannel creates an unattached channel whose datagrams hold at most
// bufferSize bytes.
func NewChannel(s codec.Serializer, bufferSize int) *Channel {
	return &Channel{
		KeepAlive:  DefaultKeepAlive,
		serializer: s,
		readBuf:    make([]byte, bufferSize),
	}
}

// Bind attaches a socket that receives from any peer.
func (c *Channel) Bind(sel *reactor.Selector, pc net.PacketConn, handler reactor.Handler) *reactor.Key {
	return c.attach(sel, pc, nil, handler)
}

// Connect attaches a socket that exchanges datagrams with remote only.
func (c *Channel) Connect(sel *reactor.Selector, pc net.PacketConn, remote net.Addr, handler reactor.Handler) *reactor.Key {
	return c.attach(sel, pc, remote, handler)
}

func (c *Channel) attach(sel *reactor.Selector, pc net.PacketConn, remote net.Addr, handler reactor.Handler) *reactor.Key {
	c.Close()

	c.n, c.readErr = 0, nil
	c.lastCommunication.Store(time.Now().UnixNano())

	d := reactor.NewDatagram(sel, pc, remote, handler)
	c.dgram.Store(d)
	return d.Key()
}

// ReadFromAddress receives the next datagram into the read buffer and
// returns its sender, or nil if nothing is pending. In connected mode the
// sender is always the connected peer.
func (c *Channel) ReadFromAddress() (net.Addr, error) {
	d := c.dgram.Load()
	if d == nil {
		return nil, transport.ErrClosed
	}
	c.lastCommunication.Store(time.Now().UnixNano())

	n, addr, err := d.ReadFrom(c.readBuf)
	c.n, c.readErr = n, nil
	if errors.Is(err, io.ErrShortBuffer) {
		// Deliver the sender so the caller can attribute the failure, and
		// let ReadObject report it.
		c.readErr = transport.NewProtocolError("read", fmt.Errorf("datagram larger than %d bytes", len(c.readBuf)))
		return addr, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return addr, nil
}

// ReadObject decodes the datagram last received by ReadFromAddress. The
// object must use every byte of the datagram.
func (c *Channel) ReadObject() (any, error) {
	defer func() { c.n, c.readErr = 0, nil }()

	if c.readErr != nil {
		return nil, c.readErr
	}

	r := bytes.NewReader(c.readBuf[:c.n])
	v, err := c.serializer.Read(r)
	if err != nil {
		return nil, transport.NewProtocolError("read", err)
	}
	if r.Len() != 0 {
		return nil, transport.NewProtocolError("read", fmt.Errorf("incorrect number of bytes (%d remaining) used to deserialize object: %T", r.Len(), v))
	}
	return v, nil
}

// Send encodes v into one datagram and sends it to addr. In connected mode
// addr is ignored.
func (c *Channel) Send(v any, addr net.Addr) (int, error) {
	d := c.dgram.Load()
	if d == nil {
		return 0, transport.ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.writeBuf.Reset()
	if err := c.serializer.Write(&c.writeBuf, v); err != nil {
		return 0, transport.NewProtocolError("send", err)
	}
	if c.writeBuf.Len() > len(c.readBuf) {
		return 0, transport.NewProtocolError("send", fmt.Errorf("%w: %d bytes (%T)", errTooLarge, c.writeBuf.Len(), v))
	}

	n, err := d.WriteTo(c.writeBuf.Bytes(), addr)
	if err != nil {
		return 0, fmt.Errorf("send to %v: %w", addr, err)
	}
	c.lastCommunication.Store(time.Now().UnixNano())

	return n, nil
}

// WriteTo sends p unencoded as one datagram to addr. Discovery replies use it.
func (c *Channel) WriteTo(p []byte, addr net.Addr) (int, error) {
	d := c.dgram.Load()
	if d == nil {
		return 0, transport.ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	n, err := d.WriteTo(p, addr)
	if err != nil {
		return 0, fmt.Errorf("send to %v: %w", addr, err)
	}
	return n, nil
}

// Close closes the socket. It is idempotent and safe from any goroutine.
func (c *Channel) Close() error {
	d := c.dgram.Swap(nil)
	if d == nil {
		return nil
	}
	return d.Close()
}

// IsConnected reports whether a socket is attached.
func (c *Channel) IsConnected() bool {
	return c.dgram.Load() != nil
}

// NeedsKeepAlive reports whether a connected channel has been quiet for
// longer than KeepAlive. Bound channels never need keep-alives.
func (c *Channel) NeedsKeepAlive(now time.Time) bool {
	return c.ConnectedAddr() != nil && c.KeepAlive > 0 &&
		now.Sub(time.Unix(0, c.lastCommunication.Load())) > c.KeepAlive
}

// ConnectedAddr returns the peer of a connected channel, nil otherwise.
func (c *Channel) ConnectedAddr() net.Addr {
	d := c.dgram.Load()
	if d == nil {
		return nil
	}
	return d.Remote()
}

// LocalAddr returns the local socket address, or nil when not attached.
func (c *Channel) LocalAddr() net.Addr {
	d := c.dgram.Load()
	if d == nil {
		return nil
	}
	return d.LocalAddr()
}
