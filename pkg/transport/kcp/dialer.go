// Package kcp carries the reliable channel over KCP, a reliable and ordered
// stream protocol on top of UDP. It is selected with the kcp:// scheme and
// behaves like tcp towards the framing layer.
package kcp

import (
	"context"
	"fmt"
	"net"

	"dominicbreuker/lanlink/pkg/config"

	kcp "github.com/xtaci/kcp-go/v5"
)

// Dial establishes a KCP session over UDP to addr. The deps parameter is
// optional and can be nil to use default implementations.
func Dial(ctx context.Context, addr string, deps *config.Dependencies) (net.Conn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("net.ResolveUDPAddr(udp, %s): %w", addr, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Use ":0" for local address to let OS choose an ephemeral port
	conn, err := config.GetPacketListenerFunc(deps)("udp", ":0")
	if err != nil {
		return nil, fmt.Errorf("net.ListenPacket(udp, :0): %w", err)
	}

	// Parameters: remoteAddr, block cipher (nil for no encryption), dataShards (0), parityShards (0), conn
	sess, err := kcp.NewConn(udpAddr.String(), nil, 0, 0, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("kcp.NewConn(%s): %w", udpAddr.String(), err)
	}

	configure(sess)

	// The listener learns about a session from its first segment, and the
	// server speaks first, so announce the session right away.
	if _, err := sess.Write([]byte{initByte}); err != nil {
		sess.Close()
		conn.Close()
		return nil, fmt.Errorf("writing init byte: %w", err)
	}

	return &session{UDPSession: sess, pc: conn}, nil
}

const initByte = 0x4b

// configure tunes a session for low latency.
// SetNoDelay(nodelay, interval, resend, nc)
// nodelay: 0=disable, 1=enable
// interval: internal update interval in ms
// resend: 0=disable fast resend, 1=enable fast resend, 2=2 ACK crosses trigger fast resend
// nc: 0=normal congestion control, 1=disable congestion control
func configure(sess *kcp.UDPSession) {
	sess.SetNoDelay(1, 10, 2, 1)
	sess.SetStreamMode(true)
	sess.SetWindowSize(1024, 1024)
}

// session closes the packet socket a dialled session owns. kcp.NewConn does
// not take ownership of it.
type session struct {
	*kcp.UDPSession
	pc net.PacketConn
}

func (s *session) Close() error {
	err := s.UDPSession.Close()
	s.pc.Close()
	return err
}
