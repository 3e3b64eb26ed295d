// Package tcp provides an in-memory TCP network for tests.
//
// Listeners are keyed by port alone, so a server bound to ":7000" is reached
// by dialing "127.0.0.1:7000" just like on a real host.
package tcp

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

const firstEphemeralPort = 50000

// MockTCPNetwork simulates a TCP network for testing without real network connections.
// Dialers and listeners communicate through in-memory pipes.
type MockTCPNetwork struct {
	listeners    map[int]*MockTCPListener
	nextPort     int
	mu           sync.Mutex
	listenerCond *sync.Cond // signals listener changes
}

// NewMockTCPNetwork creates a new mock TCP network.
func NewMockTCPNetwork() *MockTCPNetwork {
	m := &MockTCPNetwork{
		listeners: make(map[int]*MockTCPListener),
		nextPort:  firstEphemeralPort,
	}
	m.listenerCond = sync.NewCond(&m.mu)
	return m
}

// ephemeralPort returns an unused port. The caller must hold m.mu.
func (m *MockTCPNetwork) ephemeralPort() int {
	for {
		p := m.nextPort
		m.nextPort++
		if _, used := m.listeners[p]; !used {
			return p
		}
	}
}

// ListenTCP creates a mock TCP listener. Port 0 picks an ephemeral port.
func (m *MockTCPNetwork) ListenTCP(network string, laddr *net.TCPAddr) (net.Listener, error) {
	if network != "tcp" {
		return nil, fmt.Errorf("unsupported network type: %s", network)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	addr := &net.TCPAddr{IP: laddr.IP, Port: laddr.Port}
	if addr.Port == 0 {
		addr.Port = m.ephemeralPort()
	}
	if addr.IP == nil {
		addr.IP = net.IPv4zero
	}
	if _, exists := m.listeners[addr.Port]; exists {
		return nil, fmt.Errorf("address already in use: %s", addr)
	}

	listener := &MockTCPListener{
		addr:       addr,
		connCh:     make(chan *MockTCPConn, 10),
		acceptedCh: make(chan *MockTCPConn, 16),
		closeCh:    make(chan struct{}),
		network:    m,
	}
	m.listeners[addr.Port] = listener
	m.listenerCond.Broadcast()

	return listener, nil
}

// DialTCP connects to the listener on raddr's port.
func (m *MockTCPNetwork) DialTCP(network string, laddr, raddr *net.TCPAddr) (net.Conn, error) {
	if network != "tcp" {
		return nil, fmt.Errorf("unsupported network type: %s", network)
	}

	m.mu.Lock()
	listener, exists := m.listeners[raddr.Port]
	if laddr == nil {
		laddr = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: m.ephemeralPort()}
	}
	m.mu.Unlock()

	if !exists {
		return nil, fmt.Errorf("connection refused: no listener on %s", raddr)
	}

	mockClient, mockServer := newConnPair(laddr, raddr)

	select {
	case listener.connCh <- mockServer:
	case <-listener.closeCh:
		mockClient.Sever()
		return nil, fmt.Errorf("connection refused: listener closed")
	case <-time.After(1 * time.Second):
		mockClient.Sever()
		return nil, fmt.Errorf("connection timeout")
	}

	return mockClient, nil
}

// DialTCPContext is DialTCP with an early exit for a done context.
func (m *MockTCPNetwork) DialTCPContext(ctx context.Context, network string, laddr, raddr *net.TCPAddr) (net.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	return m.DialTCP(network, laddr, raddr)
}

// WaitForListener waits until a listener serves the port of addr.
// The timeout is specified in milliseconds.
func (m *MockTCPNetwork) WaitForListener(addr string, timeoutMs int) (*MockTCPListener, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in %q: %w", addr, err)
	}

	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)

	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		if l, exists := m.listeners[port]; exists {
			return l, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timeout waiting for listener on %s", addr)
		}

		// wake up periodically to check the deadline
		go func() {
			time.Sleep(50 * time.Millisecond)
			m.listenerCond.Broadcast()
		}()
		m.listenerCond.Wait()
	}
}
