package msg

import "encoding/gob"

func init() {
	gob.Register(KeepAlive{})
	gob.Register(Ping{})
}

// KeepAlive is an empty frame sent on a channel that has been quiet for its
// keep-alive interval.
type KeepAlive struct{}

// MsgType returns the message type identifier for KeepAlive messages.
func (m KeepAlive) MsgType() string {
	return "KeepAlive"
}

// Ping measures the round-trip time of a connection. The receiver answers
// with the same ID and IsReply set.
type Ping struct {
	ID      int32
	IsReply bool
}

// MsgType returns the message type identifier for Ping messages.
func (m Ping) MsgType() string {
	return "Ping"
}
