// Package udp provides an in-memory UDP network for tests.
//
// Sockets are keyed by port alone. Delivery never blocks: a datagram sent to
// a full queue, to an unbound port or rejected by the drop filter is lost,
// as on a real network.
package udp

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

const (
	firstEphemeralPort = 40000
	queueSize          = 100
)

// DropFunc decides whether a datagram from src to dst is lost.
type DropFunc func(src, dst *net.UDPAddr, data []byte) bool

// MockUDPNetwork simulates a UDP network without real sockets.
type MockUDPNetwork struct {
	mu           sync.Mutex
	sockets      map[int]*MockUDPConn
	nextPort     int
	drop         DropFunc
	listenerCond *sync.Cond
}

// NewMockUDPNetwork creates a new mock UDP network.
func NewMockUDPNetwork() *MockUDPNetwork {
	m := &MockUDPNetwork{
		sockets:  make(map[int]*MockUDPConn),
		nextPort: firstEphemeralPort,
	}
	m.listenerCond = sync.NewCond(&m.mu)
	return m
}

// SetDrop installs a filter consulted for every datagram. Nil delivers all.
func (m *MockUDPNetwork) SetDrop(drop DropFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drop = drop
}

// ListenUDP binds a mock socket. Port 0 picks an ephemeral port.
func (m *MockUDPNetwork) ListenUDP(network string, laddr *net.UDPAddr) (net.PacketConn, error) {
	return m.bind(network, laddr, nil)
}

// ListenPacket is ListenUDP with net.ListenPacket's signature.
func (m *MockUDPNetwork) ListenPacket(network, address string) (net.PacketConn, error) {
	if network != "udp" && network != "udp4" {
		return nil, fmt.Errorf("unsupported network type: %s", network)
	}

	laddr, err := net.ResolveUDPAddr(network, address)
	if err != nil {
		return nil, err
	}

	return m.bind("udp", laddr, nil)
}

// DialUDP binds an ephemeral socket connected to raddr. The result also
// implements net.Conn.
func (m *MockUDPNetwork) DialUDP(network string, laddr, raddr *net.UDPAddr) (net.PacketConn, error) {
	if raddr == nil {
		return nil, fmt.Errorf("missing remote address")
	}
	if laddr == nil {
		laddr = &net.UDPAddr{}
	}
	return m.bind(network, laddr, raddr)
}

func (m *MockUDPNetwork) bind(network string, laddr, raddr *net.UDPAddr) (*MockUDPConn, error) {
	if network != "udp" {
		return nil, fmt.Errorf("unsupported network type: %s", network)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	addr := &net.UDPAddr{IP: laddr.IP, Port: laddr.Port}
	if addr.IP == nil || addr.IP.IsUnspecified() {
		addr.IP = net.IPv4(127, 0, 0, 1)
	}
	if addr.Port == 0 {
		for {
			addr.Port = m.nextPort
			m.nextPort++
			if _, used := m.sockets[addr.Port]; !used {
				break
			}
		}
	}
	if _, exists := m.sockets[addr.Port]; exists {
		return nil, fmt.Errorf("address already in use: %s", addr)
	}

	c := &MockUDPConn{
		addr:    addr,
		remote:  raddr,
		packets: make(chan packet, queueSize),
		closeCh: make(chan struct{}),
		network: m,
	}
	m.sockets[addr.Port] = c
	m.listenerCond.Broadcast()

	return c, nil
}

// deliver hands a copy of data to the socket bound to dst.
func (m *MockUDPNetwork) deliver(src, dst *net.UDPAddr, data []byte) {
	m.mu.Lock()
	dest, exists := m.sockets[dst.Port]
	drop := m.drop
	m.mu.Unlock()

	if !exists || (drop != nil && drop(src, dst, data)) {
		return
	}
	if dest.remote != nil && dest.remote.Port != src.Port {
		return
	}

	pkt := packet{data: append([]byte(nil), data...), addr: src}
	select {
	case dest.packets <- pkt:
	case <-dest.closeCh:
	default:
	}
}

// WaitForListener waits until a socket is bound to the port of addr.
// The timeout is specified in milliseconds.
func (m *MockUDPNetwork) WaitForListener(addr string, timeoutMs int) error {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port in %q: %w", addr, err)
	}

	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)

	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		if _, exists := m.sockets[port]; exists {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for UDP listener on %s", addr)
		}

		go func() {
			time.Sleep(50 * time.Millisecond)
			m.listenerCond.Broadcast()
		}()
		m.listenerCond.Wait()
	}
}
