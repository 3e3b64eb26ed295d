// Package entrypoint provides the entry functions of the lanlink commands.
// They run the chat server, the chat client and host discovery, separating
// that logic from CLI argument parsing.
package entrypoint

import (
	"bytes"
	"fmt"
	"net"

	"dominicbreuker/lanlink/pkg/codec"
	"dominicbreuker/lanlink/pkg/endpoint"
	"dominicbreuker/lanlink/pkg/msg"
)

// Host is a server found by Discover.
type Host struct {
	// Addr is where the discovery reply came from.
	Addr net.Addr
	// Info is nil if the server answered with something other than a
	// HostInfo, such as the default empty reply.
	Info *msg.HostInfo
}

func (h Host) String() string {
	if h.Info == nil {
		return fmt.Sprintf("%v (no host info)", h.Addr)
	}

	p := endpoint.Packet{Addr: h.Addr}
	s := fmt.Sprintf("%s  %s", h.Info.Name, p.HostAddr(h.Info.TCPPort))
	if h.Info.UDPPort > 0 {
		s += fmt.Sprintf(" udp=%d", h.Info.UDPPort)
	}
	return s + "  " + h.Info.ServerID.String()
}

func (h Host) key() string {
	if h.Info != nil {
		return h.Info.ServerID.String()
	}
	return h.Addr.String()
}

// hostInfoReply answers discovery probes with info encoded like any other
// object.
func hostInfoReply(s codec.Serializer, info msg.HostInfo) endpoint.DiscoveryHandler {
	return func(_ net.Addr, reply func([]byte) error) error {
		var buf bytes.Buffer
		if err := s.Write(&buf, info); err != nil {
			return fmt.Errorf("encoding host info: %w", err)
		}
		return reply(buf.Bytes())
	}
}

func decodeHost(s codec.Serializer, p endpoint.Packet) Host {
	h := Host{Addr: p.Addr}
	if len(p.Data) == 0 {
		return h
	}

	v, err := s.Read(bytes.NewReader(p.Data))
	if err != nil {
		return h
	}
	if info, ok := v.(msg.HostInfo); ok {
		h.Info = &info
	}
	return h
}
