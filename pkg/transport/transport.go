// Package transport holds what the channel implementations share: the error
// taxonomy and the dial function type.
//
// Each reliable transport (tcp, ws, kcp) provides two functions:
//
//	conn, err := tcp.Dial(ctx, "localhost:54555", deps)
//	l, err := tcp.Listen(":54555", deps)
//
// The tcp package additionally owns the framed reliable Channel, which runs
// over any of them. The udp package owns the datagram Channel.
//
// Errors are split in two. A ProtocolError means the peer sent something that
// cannot be framed or decoded, or a local send could not be framed. Any other
// error is a transport error (reset, closed socket). Both close the
// connection, but with different reasons.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrClosed is returned by operations on a closed channel.
var ErrClosed = errors.New("channel is closed")

// Dialer opens a reliable byte stream to addr.
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

// ProtocolError reports a framing or codec violation.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s: %s", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// NewProtocolError wraps err as a ProtocolError for op.
func NewProtocolError(op string, err error) error {
	return &ProtocolError{Op: op, Err: err}
}

// IsProtocolError reports whether err is or wraps a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
