package msg

import "encoding/gob"

func init() {
	gob.Register(RegisterTCP{})
	gob.Register(RegisterUDP{})
}

// RegisterTCP is sent by the server right after accepting a connection and
// carries the id it assigned.
type RegisterTCP struct {
	ConnectionID int32
}

// MsgType returns the message type identifier for RegisterTCP messages.
func (m RegisterTCP) MsgType() string {
	return "RegisterTCP"
}

// RegisterUDP binds a datagram sender to a connection id. The client repeats
// it over UDP until the server echoes it back over TCP.
type RegisterUDP struct {
	ConnectionID int32
}

// MsgType returns the message type identifier for RegisterUDP messages.
func (m RegisterUDP) MsgType() string {
	return "RegisterUDP"
}
