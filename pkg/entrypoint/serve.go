package entrypoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"dominicbreuker/lanlink/pkg/codec"
	"dominicbreuker/lanlink/pkg/config"
	"dominicbreuker/lanlink/pkg/endpoint"
	"dominicbreuker/lanlink/pkg/log"
	"dominicbreuker/lanlink/pkg/msg"
	"dominicbreuker/lanlink/pkg/reactor"
)

// ServeOptions says where the chat server listens.
type ServeOptions struct {
	// Host is the interface to bind. Empty binds all.
	Host    string
	TCPPort int
	// UDPPort enables the datagram channel and discovery replies if > 0.
	UDPPort int
	// Name is announced to clients discovering the server.
	Name string
}

// Serve runs a chat relay until ctx is done. Every chat message a client
// sends is forwarded to all other clients.
func Serve(ctx context.Context, cfg *config.Config, opts ServeOptions) error {
	return serve(ctx, cfg, opts, nil)
}

// serve is the internal implementation; ready, if set, sees the bound server.
func serve(ctx context.Context, cfg *config.Config, opts ServeOptions, ready func(*endpoint.Server)) error {
	s, err := endpoint.NewServer(cfg, nil)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer s.Dispose()

	r := &relay{server: s, logger: cfg.Logger}
	s.AddListener(r.listener())

	tcpAddr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.TCPPort))
	udpAddr := ""
	if opts.UDPPort > 0 {
		udpAddr = net.JoinHostPort(opts.Host, strconv.Itoa(opts.UDPPort))
	}
	if err := s.BindAddr(tcpAddr, udpAddr); err != nil {
		return fmt.Errorf("binding: %w", err)
	}

	info := msg.HostInfo{ServerID: s.ID(), Name: opts.Name, TCPPort: portOf(s.TCPAddr())}
	if a := s.UDPAddr(); a != nil {
		info.UDPPort = portOf(a)
	}
	s.SetDiscoveryHandler(hostInfoReply(codec.Gob{}, info))

	cfg.Logger.InfoMsg("Serving %q on %v (udp: %v)\n", opts.Name, s.TCPAddr(), s.UDPAddr())
	if ready != nil {
		ready(s)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run() }()

	select {
	case <-ctx.Done():
		s.Dispose()
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, reactor.ErrClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	}
}

func portOf(a net.Addr) int {
	switch a := a.(type) {
	case *net.TCPAddr:
		return a.Port
	case *net.UDPAddr:
		return a.Port
	}
	if a == nil {
		return 0
	}
	_, p, err := net.SplitHostPort(a.String())
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(p)
	return port
}

// relay forwards chat messages between the clients of one server.
type relay struct {
	server *endpoint.Server
	logger *log.Logger
}

func (r *relay) listener() *endpoint.Funcs {
	return &endpoint.Funcs{
		OnConnected: func(c *endpoint.Connection) {
			r.logger.InfoMsg("%s joined from %v\n", c, c.RemoteAddrTCP())
		},
		OnDisconnected: func(c *endpoint.Connection, reason endpoint.Reason) {
			r.logger.InfoMsg("%s left (%s)\n", c, reason)
		},
		OnReceived: func(c *endpoint.Connection, v any) {
			m, ok := v.(msg.Chat)
			if !ok {
				r.logger.VerboseMsg("Ignoring %T from %s", v, c)
				return
			}
			if m.From == "" {
				m.From = c.String()
			} else {
				c.SetName(m.From)
			}
			r.server.SendToAllExceptTCP(c.ID(), m)
		},
	}
}
