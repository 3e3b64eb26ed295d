package config

import (
	"io"
	"net"
	"os"
)

// Dependencies contains injectable dependencies for testing and customization.
// All fields are optional and will use default implementations if nil.
type Dependencies struct {
	TCPDialer      TCPDialerFunc
	TCPListener    TCPListenerFunc
	UDPListener    UDPListenerFunc
	UDPDialer      UDPDialerFunc
	PacketListener PacketListenerFunc
	BroadcastAddrs BroadcastAddrsFunc
	Stdin          StdinFunc
	Stdout         StdoutFunc
}

// TCPDialerFunc is a function that dials a TCP connection.
// It returns a net.Conn to allow for mock implementations.
type TCPDialerFunc func(network string, laddr, raddr *net.TCPAddr) (net.Conn, error)

// TCPListenerFunc is a function that creates a TCP listener.
// It returns a net.Listener to allow for mock implementations.
type TCPListenerFunc func(network string, laddr *net.TCPAddr) (net.Listener, error)

// UDPListenerFunc is a function that binds a UDP socket.
// It returns a net.PacketConn to allow for mock implementations.
type UDPListenerFunc func(network string, laddr *net.UDPAddr) (net.PacketConn, error)

// UDPDialerFunc is a function that creates a connected UDP socket.
// Implementations should also implement net.Conn so writes need no address.
type UDPDialerFunc func(network string, laddr, raddr *net.UDPAddr) (net.PacketConn, error)

// PacketListenerFunc is a function that creates a packet listener.
// It returns a net.PacketConn to allow for mock implementations.
type PacketListenerFunc func(network, address string) (net.PacketConn, error)

// BroadcastAddrsFunc returns the IPv4 broadcast address of every local
// interface that supports broadcast.
type BroadcastAddrsFunc func() ([]net.IP, error)

// StdinFunc is a function that returns a reader for stdin.
// It returns an io.Reader to allow for mock implementations.
type StdinFunc func() io.Reader

// StdoutFunc is a function that returns a writer for stdout.
// It returns an io.Writer to allow for mock implementations.
type StdoutFunc func() io.Writer

// GetTCPDialerFunc returns the TCP dialer function from dependencies, or a default implementation.
// If deps is nil or deps.TCPDialer is nil, returns a function that uses net.DialTCP.
func GetTCPDialerFunc(deps *Dependencies) TCPDialerFunc {
	if deps != nil && deps.TCPDialer != nil {
		return deps.TCPDialer
	}
	return func(network string, laddr, raddr *net.TCPAddr) (net.Conn, error) {
		return net.DialTCP(network, laddr, raddr)
	}
}

// GetTCPListenerFunc returns the TCP listener function from dependencies, or a default implementation.
// If deps is nil or deps.TCPListener is nil, returns a function that uses net.ListenTCP.
func GetTCPListenerFunc(deps *Dependencies) TCPListenerFunc {
	if deps != nil && deps.TCPListener != nil {
		return deps.TCPListener
	}
	return func(network string, laddr *net.TCPAddr) (net.Listener, error) {
		return net.ListenTCP(network, laddr)
	}
}

// GetUDPListenerFunc returns the UDP listener function from dependencies, or a default implementation.
// If deps is nil or deps.UDPListener is nil, returns a function that uses net.ListenUDP.
func GetUDPListenerFunc(deps *Dependencies) UDPListenerFunc {
	if deps != nil && deps.UDPListener != nil {
		return deps.UDPListener
	}
	return func(network string, laddr *net.UDPAddr) (net.PacketConn, error) {
		return net.ListenUDP(network, laddr)
	}
}

// GetUDPDialerFunc returns the UDP dialer function from dependencies, or a default implementation.
// If deps is nil or deps.UDPDialer is nil, returns a function that uses net.DialUDP.
func GetUDPDialerFunc(deps *Dependencies) UDPDialerFunc {
	if deps != nil && deps.UDPDialer != nil {
		return deps.UDPDialer
	}
	return func(network string, laddr, raddr *net.UDPAddr) (net.PacketConn, error) {
		return net.DialUDP(network, laddr, raddr)
	}
}

// GetPacketListenerFunc returns the packet listener function from dependencies, or a default implementation.
// If deps is nil or deps.PacketListener is nil, returns a function that uses net.ListenPacket.
func GetPacketListenerFunc(deps *Dependencies) PacketListenerFunc {
	if deps != nil && deps.PacketListener != nil {
		return deps.PacketListener
	}
	return func(network, address string) (net.PacketConn, error) {
		return net.ListenPacket(network, address)
	}
}

// GetBroadcastAddrsFunc returns the broadcast address function from dependencies, or a default implementation.
// If deps is nil or deps.BroadcastAddrs is nil, returns a function that inspects the local interfaces.
func GetBroadcastAddrsFunc(deps *Dependencies) BroadcastAddrsFunc {
	if deps != nil && deps.BroadcastAddrs != nil {
		return deps.BroadcastAddrs
	}
	return interfaceBroadcastAddrs
}

// GetStdinFunc returns the stdin function from dependencies, or a default implementation.
// If deps is nil or deps.Stdin is nil, returns a function that uses os.Stdin.
func GetStdinFunc(deps *Dependencies) StdinFunc {
	if deps != nil && deps.Stdin != nil {
		return deps.Stdin
	}
	return func() io.Reader {
		return os.Stdin
	}
}

// GetStdoutFunc returns the stdout function from dependencies, or a default implementation.
// If deps is nil or deps.Stdout is nil, returns a function that uses os.Stdout.
func GetStdoutFunc(deps *Dependencies) StdoutFunc {
	if deps != nil && deps.Stdout != nil {
		return deps.Stdout
	}
	return func() io.Writer {
		return os.Stdout
	}
}

func interfaceBroadcastAddrs() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if bc := broadcastOf(ipnet); bc != nil {
				out = append(out, bc)
			}
		}
	}
	return out, nil
}

// broadcastOf returns the directed broadcast address of an IPv4 network.
func broadcastOf(n *net.IPNet) net.IP {
	ip := n.IP.To4()
	if ip == nil || len(n.Mask) != net.IPv4len {
		return nil
	}
	bc := make(net.IP, net.IPv4len)
	for i := range ip {
		bc[i] = ip[i] | ^n.Mask[i]
	}
	return bc
}
