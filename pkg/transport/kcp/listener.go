package kcp

import (
	"fmt"
	"io"
	"net"
	"time"

	"dominicbreuker/lanlink/pkg/config"

	kcp "github.com/xtaci/kcp-go/v5"
)

// Listen opens a KCP listener on addr. Accepted sessions are tuned like
// dialled ones. The deps parameter is optional and can be nil to use default
// implementations.
func Listen(addr string, deps *config.Dependencies) (net.Listener, error) {
	if _, err := net.ResolveUDPAddr("udp", addr); err != nil {
		return nil, fmt.Errorf("net.ResolveUDPAddr(udp, %s): %w", addr, err)
	}

	conn, err := config.GetPacketListenerFunc(deps)("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen(udp, %s): %w", addr, err)
	}

	// Parameters: block cipher (nil for no encryption), dataShards (0), parityShards (0), conn
	kl, err := kcp.ServeConn(nil, 0, 0, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("kcp.ServeConn(): %w", err)
	}

	return &listener{Listener: kl, pc: conn}, nil
}

type listener struct {
	*kcp.Listener
	pc net.PacketConn
}

const initTimeout = 5 * time.Second

func (l *listener) Accept() (net.Conn, error) {
	for {
		sess, err := l.AcceptKCP()
		if err != nil {
			return nil, fmt.Errorf("AcceptKCP(): %w", err)
		}
		configure(sess)

		var b [1]byte
		sess.SetReadDeadline(time.Now().Add(initTimeout))
		_, err = io.ReadFull(sess, b[:])
		sess.SetReadDeadline(time.Time{})
		if err != nil || b[0] != initByte {
			sess.Close()
			continue
		}

		return sess, nil
	}
}

func (l *listener) Close() error {
	err := l.Listener.Close()
	l.pc.Close()
	return err
}
