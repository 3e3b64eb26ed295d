package endpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	"dominicbreuker/lanlink/pkg/config"
	"dominicbreuker/lanlink/pkg/msg"
	"dominicbreuker/lanlink/pkg/transport/udp"
)

// probeTTL keeps multicast probes on the local network.
const probeTTL = 1

// Packet is one discovery reply.
type Packet struct {
	Addr net.Addr
	Data []byte
}

// DiscoveryHandler answers a DiscoverHost probe from a sender. It may call
// reply any number of times, including not at all.
type DiscoveryHandler func(from net.Addr, reply func(payload []byte) error) error

// EmptyDiscoveryReply answers every probe with an empty datagram.
func EmptyDiscoveryReply(_ net.Addr, reply func([]byte) error) error {
	return reply(nil)
}

func (s *Server) answerDiscovery(from net.Addr, reply func([]byte) error) {
	s.hookMu.Lock()
	h := s.discoveryHandler
	s.hookMu.Unlock()
	if h == nil {
		return
	}

	if err := h(from, reply); err != nil {
		s.reportError(fmt.Errorf("discovery reply to %v: %w", from, err))
	}
}

// discoveryReceiver answers probes sent to the multicast group. It runs on
// its own goroutine, outside the update loop.
type discoveryReceiver struct {
	conn *ipv4.PacketConn
	done chan struct{}
	once sync.Once
}

func (s *Server) startDiscoveryReceiver(group string, port int) (*discoveryReceiver, error) {
	p, err := udp.ListenMulticast(context.Background(), group, port)
	if err != nil {
		return nil, fmt.Errorf("multicast receiver: %w", err)
	}

	r := &discoveryReceiver{conn: p, done: make(chan struct{})}
	go func() {
		defer close(r.done)
		s.receiveProbes(p)
	}()

	s.cfg.Logger.VerboseMsg("Listening for discovery on %s:%d", group, port)
	return r, nil
}

func (s *Server) receiveProbes(p *ipv4.PacketConn) {
	buf := make([]byte, s.cfg.Discovery.BufferSize)
	for {
		n, _, src, err := p.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.reportError(fmt.Errorf("multicast receiver: %w", err))
			}
			return
		}

		v, err := s.serializer.Read(bytes.NewReader(buf[:n]))
		if err != nil {
			s.cfg.Logger.VerboseMsg("Ignoring multicast datagram from %v: %s", src, err)
			continue
		}
		if _, ok := v.(msg.DiscoverHost); !ok {
			continue
		}

		s.answerDiscovery(src, func(reply []byte) error {
			_, err := p.WriteTo(reply, nil, src)
			return err
		})
	}
}

func (r *discoveryReceiver) close() {
	r.once.Do(func() {
		r.conn.Close()
		<-r.done
	})
}

// DiscoverHosts looks for servers on the local network. Unless udpPort is
// zero it broadcasts DiscoverHost to udpPort on every interface, and unless
// group is empty it sends it to group:multicastPort. Both probes run concurrently for up to
// timeout and call onPacket for every reply. onDone is called once, when
// the first probe finishes. DiscoverHosts does not block.
func (c *Client) DiscoverHosts(udpPort int, group string, multicastPort int, timeout time.Duration, onPacket func(Packet), onDone func()) {
	var once sync.Once
	done := func() {
		once.Do(func() {
			if onDone != nil {
				onDone()
			}
		})
	}

	if udpPort <= 0 && group == "" {
		go done()
		return
	}

	if udpPort > 0 {
		go c.broadcastProbe(udpPort, timeout, onPacket, done)
	}

	if group == "" {
		return
	}

	go func() {
		defer done()
		target := &net.UDPAddr{IP: net.ParseIP(group), Port: multicastPort}
		if err := c.probe([]net.Addr{target}, timeout, onPacket); err != nil {
			c.reportError(fmt.Errorf("multicast discovery: %w", err))
		}
	}()
}

func (c *Client) broadcastProbe(udpPort int, timeout time.Duration, onPacket func(Packet), done func()) {
	defer done()

	targets, err := c.broadcastTargets(udpPort)
	if err != nil {
		c.reportError(fmt.Errorf("broadcast discovery: %w", err))
		return
	}
	if err := c.probe(targets, timeout, onPacket); err != nil {
		c.reportError(fmt.Errorf("broadcast discovery: %w", err))
	}
}

// DiscoverHost broadcasts a probe to udpPort and returns the first reply,
// or nil if none arrived within timeout.
func (c *Client) DiscoverHost(udpPort int, timeout time.Duration) *Packet {
	found := make(chan Packet, 1)
	done := make(chan struct{})

	c.DiscoverHosts(udpPort, "", 0, timeout, func(p Packet) {
		select {
		case found <- p:
		default:
		}
	}, func() { close(done) })

	select {
	case p := <-found:
		return &p
	case <-done:
		select {
		case p := <-found:
			return &p
		default:
			return nil
		}
	}
}

func (c *Client) broadcastTargets(port int) ([]net.Addr, error) {
	ips, err := config.GetBroadcastAddrsFunc(c.cfg.Deps)()
	if err != nil {
		return nil, fmt.Errorf("broadcast addresses: %w", err)
	}
	if len(ips) == 0 {
		ips = []net.IP{net.IPv4bcast}
	}

	targets := make([]net.Addr, 0, len(ips))
	for _, ip := range ips {
		targets = append(targets, &net.UDPAddr{IP: ip, Port: port})
	}
	return targets, nil
}

// probe sends DiscoverHost to every target from one socket and collects
// replies until timeout.
func (c *Client) probe(targets []net.Addr, timeout time.Duration, onPacket func(Packet)) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	p, err := udp.ListenProbe(ctx, probeTTL)
	if err != nil {
		return err
	}
	defer p.Close()

	var buf bytes.Buffer
	if err := c.serializer.Write(&buf, msg.DiscoverHost{}); err != nil {
		return fmt.Errorf("encode probe: %w", err)
	}

	sent := 0
	for _, t := range targets {
		if _, err := p.WriteTo(buf.Bytes(), nil, t); err != nil {
			c.cfg.Logger.VerboseMsg("Discovery probe to %v failed: %s", t, err)
			continue
		}
		sent++
	}
	if sent == 0 {
		return fmt.Errorf("no probe could be sent to %d target(s)", len(targets))
	}
	c.cfg.Logger.VerboseMsg("Sent discovery probes to %d target(s)", sent)

	if err := p.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("SetReadDeadline: %w", err)
	}

	rbuf := make([]byte, c.cfg.Discovery.BufferSize)
	for {
		n, _, src, err := p.ReadFrom(rbuf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if onPacket != nil {
			onPacket(Packet{Addr: src, Data: append([]byte(nil), rbuf[:n]...)})
		}
	}
}

// HostAddr returns the address of the host that sent p, joined with port.
func (p Packet) HostAddr(port int) string {
	host := p.Addr.String()
	if ua, ok := p.Addr.(*net.UDPAddr); ok {
		host = ua.IP.String()
	} else if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
