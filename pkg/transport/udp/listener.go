package udp

import (
	"context"
	"fmt"
	"net"

	"dominicbreuker/lanlink/pkg/config"

	"golang.org/x/net/ipv4"
)

// Listen binds a UDP socket on addr. The deps parameter is optional and can
// be nil to use default implementations.
func Listen(addr string, deps *config.Dependencies) (net.PacketConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("net.ResolveUDPAddr(udp, %s): %w", addr, err)
	}

	conn, err := config.GetUDPListenerFunc(deps)("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen(udp, %s): %w", addr, err)
	}

	return conn, nil
}

// ListenMulticast binds port with SO_REUSEADDR and joins group on every
// multicast capable interface. The returned connection leaves the group when
// closed.
func ListenMulticast(ctx context.Context, group string, port int) (*ipv4.PacketConn, error) {
	ip := net.ParseIP(group)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("invalid IPv4 multicast group %q", group)
	}

	lc := net.ListenConfig{Control: reuseAddrControl}
	addr := net.JoinHostPort("0.0.0.0", fmt.Sprint(port))
	c, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("listen(udp4, %s): %w", addr, err)
	}

	p := ipv4.NewPacketConn(c)
	gaddr := &net.UDPAddr{IP: ip}

	joined := 0
	ifaces, _ := net.Interfaces()
	for i := range ifaces {
		iface := &ifaces[i]
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := p.JoinGroup(iface, gaddr); err == nil {
			joined++
		}
	}
	if joined == 0 {
		if err := p.JoinGroup(nil, gaddr); err != nil {
			p.Close()
			return nil, fmt.Errorf("JoinGroup(%s): %w", group, err)
		}
	}

	return p, nil
}

// ListenProbe opens an ephemeral UDP socket allowed to send broadcasts, with
// multicast loopback enabled so hosts on the same machine see the probes.
func ListenProbe(ctx context.Context, ttl int) (*ipv4.PacketConn, error) {
	lc := net.ListenConfig{Control: broadcastControl}
	c, err := lc.ListenPacket(ctx, "udp4", "0.0.0.0:0")
	if err != nil {
		return nil, fmt.Errorf("listen(udp4, 0.0.0.0:0): %w", err)
	}

	p := ipv4.NewPacketConn(c)
	p.SetMulticastLoopback(true)
	if ttl > 0 {
		p.SetMulticastTTL(ttl)
	}
	return p, nil
}
