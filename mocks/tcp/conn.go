package tcp

import (
	"net"
	"sync/atomic"
)

// MockTCPConn is one end of an in-memory stream. It reports the addresses
// the dialer and listener agreed on instead of the pipe's placeholders.
type MockTCPConn struct {
	net.Conn
	localAddr  *net.TCPAddr
	remoteAddr *net.TCPAddr

	peer    *MockTCPConn
	written atomic.Int64
}

// newConnPair links both ends of a fresh pipe.
func newConnPair(local, remote *net.TCPAddr) (client, server *MockTCPConn) {
	a, b := net.Pipe()
	client = &MockTCPConn{Conn: a, localAddr: local, remoteAddr: remote}
	server = &MockTCPConn{Conn: b, localAddr: remote, remoteAddr: local}
	client.peer, server.peer = server, client
	return client, server
}

func (c *MockTCPConn) LocalAddr() net.Addr {
	if c.localAddr != nil {
		return c.localAddr
	}
	return c.Conn.LocalAddr()
}

func (c *MockTCPConn) RemoteAddr() net.Addr {
	if c.remoteAddr != nil {
		return c.remoteAddr
	}
	return c.Conn.RemoteAddr()
}

// Write counts the bytes that made it into the pipe.
func (c *MockTCPConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	c.written.Add(int64(n))
	return n, err
}

// BytesWritten returns how many bytes this end has sent so far.
func (c *MockTCPConn) BytesWritten() int64 {
	return c.written.Load()
}

// Sever drops the link in both directions at once, the way a pulled cable
// or a peer that crashed looks to the endpoints.
func (c *MockTCPConn) Sever() {
	c.Conn.Close()
	if c.peer != nil {
		c.peer.Conn.Close()
	}
}

var _ net.Conn = (*MockTCPConn)(nil)
