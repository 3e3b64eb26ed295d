package msg

import (
	"encoding/gob"

	"github.com/google/uuid"
)

func init() {
	gob.Register(DiscoverHost{})
	gob.Register(HostInfo{})
}

// DiscoverHost is broadcast by clients looking for servers on the LAN.
type DiscoverHost struct{}

// MsgType returns the message type identifier for DiscoverHost messages.
func (m DiscoverHost) MsgType() string {
	return "DiscoverHost"
}

// HostInfo is the discovery reply of a lanlink server.
type HostInfo struct {
	ServerID uuid.UUID
	Name     string
	TCPPort  int
	UDPPort  int
}

// MsgType returns the message type identifier for HostInfo messages.
func (m HostInfo) MsgType() string {
	return "HostInfo"
}
