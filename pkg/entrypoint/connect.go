package entrypoint

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"dominicbreuker/lanlink/pkg/config"
	"dominicbreuker/lanlink/pkg/console"
	"dominicbreuker/lanlink/pkg/endpoint"
	"dominicbreuker/lanlink/pkg/msg"
)

// ConnectOptions says which server to chat on.
type ConnectOptions struct {
	Host    string
	TCPPort int
	// UDPPort also registers a datagram route if > 0.
	UDPPort int
	// Name is the sender name of typed messages.
	Name    string
	Timeout time.Duration
}

// Connect joins a chat server. Typed lines are sent to the server and
// messages from others are printed, until stdin ends, the connection
// closes or ctx is done.
func Connect(ctx context.Context, cfg *config.Config, opts ConnectOptions) error {
	return connect(ctx, cfg, opts, console.NewStdio(cfg.Deps))
}

func connect(parent context.Context, cfg *config.Config, opts ConnectOptions, stdio *console.Stdio) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	c, err := endpoint.NewClient(cfg, nil)
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	defer c.Dispose()

	c.AddListener(&endpoint.Funcs{
		OnReceived: func(_ *endpoint.Connection, v any) {
			if m, ok := v.(msg.Chat); ok {
				stdio.Message(m.From, m.Text)
			}
		},
		OnDisconnected: func(_ *endpoint.Connection, reason endpoint.Reason) {
			cfg.Logger.InfoMsg("Disconnected (%s)\n", reason)
			cancel()
		},
	})
	c.Start()

	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.TCPPort))
	if err := c.Connect(opts.Timeout, opts.Host, opts.TCPPort, opts.UDPPort); err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	cfg.Logger.InfoMsg("Connected to %s as connection %d\n", addr, c.ID())

	return stdio.Scan(ctx, func(line string) error {
		if strings.TrimSpace(line) == "" {
			return nil
		}
		if _, err := c.SendTCP(msg.Chat{From: opts.Name, Text: line}); err != nil {
			return fmt.Errorf("sending: %w", err)
		}
		return nil
	})
}
