package msg

import "encoding/gob"

func init() {
	gob.Register(Chat{})
}

// Chat is one line of text relayed by a lanlink server.
type Chat struct {
	From string
	Text string
}

// MsgType returns the message type identifier for Chat messages.
func (m Chat) MsgType() string {
	return "Chat"
}
