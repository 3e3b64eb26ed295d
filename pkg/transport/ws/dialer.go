// Package ws carries the reliable channel over WebSocket binary messages. It
// is selected with the ws:// scheme and lets lanlink cross HTTP proxies.
package ws

import (
	"context"
	"fmt"
	"net"

	"github.com/coder/websocket"
)

// Dial opens a WebSocket connection to addr and returns it as a byte stream.
func Dial(ctx context.Context, addr string) (net.Conn, error) {
	url := fmt.Sprintf("ws://%s/", addr)

	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{"bin"},
	})
	if err != nil {
		return nil, fmt.Errorf("websocket.Dial(%s): %w", url, err)
	}

	// The context given to NetConn bounds the lifetime of the connection,
	// so it must outlive the dial deadline.
	return websocket.NetConn(context.Background(), c, websocket.MessageBinary), nil
}
