// Package tcp provides the TCP transport and the framed reliable Channel
// that runs on top of any stream transport.
package tcp

import (
	"context"
	"fmt"
	"net"

	"dominicbreuker/lanlink/pkg/config"
)

// Dial establishes a TCP connection to addr. The deps parameter is optional
// and can be nil to use default implementations. Dialers from deps do not
// take a context, so cancellation abandons the attempt and closes a
// connection that completes late.
func Dial(ctx context.Context, addr string, deps *config.Dependencies) (net.Conn, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("net.ResolveTCPAddr(tcp, %s): %w", addr, err)
	}

	dial := config.GetTCPDialerFunc(deps)

	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := dial("tcp", nil, tcpAddr)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("net.DialTCP(tcp, %s): %w", tcpAddr.String(), r.err)
		}
		return r.conn, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, fmt.Errorf("net.DialTCP(tcp, %s): %w", tcpAddr.String(), ctx.Err())
	}
}

// Dialer returns Dial bound to deps.
func Dialer(deps *config.Dependencies) func(ctx context.Context, addr string) (net.Conn, error) {
	return func(ctx context.Context, addr string) (net.Conn, error) {
		return Dial(ctx, addr, deps)
	}
}
