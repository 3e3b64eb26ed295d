package udp

import (
	"fmt"
	"net"
	"sync"
	"time"
)

type packet struct {
	data []byte
	addr *net.UDPAddr
}

// MockUDPConn is a socket on a MockUDPNetwork. A connected socket only
// accepts datagrams from its peer and supports Read and Write.
type MockUDPConn struct {
	addr    *net.UDPAddr
	remote  *net.UDPAddr
	packets chan packet
	closeCh chan struct{}
	closed  bool
	mu      sync.Mutex
	network *MockUDPNetwork
}

// ReadFrom blocks until a datagram arrives or the socket is closed.
func (c *MockUDPConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case pkt := <-c.packets:
		return copy(p, pkt.data), pkt.addr, nil
	case <-c.closeCh:
		return 0, nil, net.ErrClosed
	}
}

// Read is ReadFrom without the sender.
func (c *MockUDPConn) Read(p []byte) (int, error) {
	n, _, err := c.ReadFrom(p)
	return n, err
}

// WriteTo sends p to addr. Datagrams to unbound ports are lost.
func (c *MockUDPConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, net.ErrClosed
	}

	dst, ok := addr.(*net.UDPAddr)
	if !ok {
		return 0, fmt.Errorf("address must be *net.UDPAddr, got %T", addr)
	}

	c.network.deliver(c.addr, dst, p)
	return len(p), nil
}

// Write sends p to the connected peer.
func (c *MockUDPConn) Write(p []byte) (int, error) {
	if c.remote == nil {
		return 0, fmt.Errorf("write on unconnected socket")
	}
	return c.WriteTo(p, c.remote)
}

// Close unbinds the socket. It is idempotent.
func (c *MockUDPConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closeCh)

	c.network.mu.Lock()
	if c.network.sockets[c.addr.Port] == c {
		delete(c.network.sockets, c.addr.Port)
	}
	c.network.mu.Unlock()

	return nil
}

// LocalAddr returns the bound address.
func (c *MockUDPConn) LocalAddr() net.Addr { return c.addr }

// RemoteAddr returns the connected peer, or nil.
func (c *MockUDPConn) RemoteAddr() net.Addr {
	if c.remote == nil {
		return nil
	}
	return c.remote
}

// SetDeadline is a no-op.
func (c *MockUDPConn) SetDeadline(t time.Time) error { return nil }

// SetReadDeadline is a no-op.
func (c *MockUDPConn) SetReadDeadline(t time.Time) error { return nil }

// SetWriteDeadline is a no-op.
func (c *MockUDPConn) SetWriteDeadline(t time.Time) error { return nil }

var (
	_ net.PacketConn = (*MockUDPConn)(nil)
	_ net.Conn       = (*MockUDPConn)(nil)
)
