package udp

import (
	"fmt"
	"net"

	"dominicbreuker/lanlink/pkg/config"
)

// Dial creates a UDP socket connected to addr and returns it with the
// resolved peer address. The deps parameter is optional and can be nil to
// use default implementations.
func Dial(addr string, deps *config.Dependencies) (net.PacketConn, net.Addr, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("net.ResolveUDPAddr(udp, %s): %w", addr, err)
	}

	conn, err := config.GetUDPDialerFunc(deps)("udp", nil, udpAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("net.DialUDP(udp, %s): %w", udpAddr.String(), err)
	}

	return conn, udpAddr, nil
}
