// Package msg defines the messages exchanged by endpoints. Framework messages
// drive registration, liveness, discovery and round-trip measurement and are
// consumed by the endpoint. The remaining types are application payloads used
// by the lanlink commands. All types are registered with gob so they can be
// sent as interface values.
package msg

// Message is the interface that all message types implement.
// MsgType returns a string identifier used for logging.
type Message interface {
	MsgType() string
}

// IsFramework reports whether v is an internal protocol message that must
// not be handed to application listeners.
func IsFramework(v any) bool {
	switch v.(type) {
	case RegisterTCP, RegisterUDP, KeepAlive, DiscoverHost, Ping:
		return true
	}
	return false
}
