// Package endpoint implements the client and server roles of a lanlink
// connection.
//
// Each endpoint owns one reactor.Selector and is driven by calling Update
// from one goroutine, either directly or through Run/Start. Update is where
// data is read, handshakes advance and listeners are notified. Sends may
// happen from any goroutine.
//
// A connection is registered in two phases. The server assigns an id and
// sends it over the reliable channel (RegisterTCP). If the server also
// listens for datagrams, the client repeats RegisterUDP with that id over
// UDP until the server echoes it back over TCP, which binds the sender
// address to the connection.
package endpoint

import (
	"errors"
	"time"

	"dominicbreuker/lanlink/pkg/log"
	"dominicbreuker/lanlink/pkg/transport"
)

var (
	// ErrTimeout is returned by Client.Connect when registration does not
	// complete before the deadline.
	ErrTimeout = errors.New("connect timed out")
	// ErrDispatching is returned, wrapped together with ErrTimeout, when
	// Client.Connect could not take over the sockets because Update kept
	// dispatching until the deadline. Connecting from a listener causes it.
	ErrDispatching = errors.New("update is dispatching events; connect must not be called from a listener")
	// ErrNotConnected is returned when sending on a connection without the
	// required transport.
	ErrNotConnected = errors.New("not connected")
)

const (
	// updateInterval is the select timeout used by Run.
	updateInterval = 250 * time.Millisecond

	emptySelectLimit = 100
	emptySelectPause = 25 * time.Millisecond
)

// Endpoint is the part of the API shared by Client and Server.
type Endpoint interface {
	AddListener(l Listener)
	RemoveListener(l Listener)
	Update(timeout time.Duration) error
	Run() error
	Start()
	Stop()
	Close()
	Dispose()
}

// State is the lifecycle state of a connection.
type State int32

// Connection states. StateClosed is terminal until a client connects again.
const (
	StateClosed State = iota
	StateConnecting
	StateAwaitingUDP
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateAwaitingUDP:
		return "awaiting-udp"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Reason tells why a connection closed.
type Reason int32

// Close reasons.
const (
	// ReasonClosed is an explicit close or a transport failure such as a
	// peer reset.
	ReasonClosed Reason = iota
	// ReasonTimeout means nothing was read for longer than the timeout.
	ReasonTimeout
	// ReasonError means the peer violated the protocol.
	ReasonError
)

func (r Reason) String() string {
	switch r {
	case ReasonClosed:
		return "closed"
	case ReasonTimeout:
		return "timeout"
	case ReasonError:
		return "error"
	default:
		return "unknown"
	}
}

// reasonFor maps a channel error to the reason the connection closes with.
func reasonFor(err error) Reason {
	if transport.IsProtocolError(err) {
		return ReasonError
	}
	return ReasonClosed
}

// spinGuard keeps a loop whose selects keep returning empty from hogging
// the CPU.
type spinGuard struct {
	empty int
}

func (g *spinGuard) observe(events int, start time.Time) {
	if events > 0 {
		g.empty = 0
		return
	}

	g.empty++
	if g.empty < emptySelectLimit {
		return
	}
	g.empty = 0
	if d := emptySelectPause - time.Since(start); d > 0 {
		time.Sleep(d)
	}
}

// defaultErrorHandler logs errors if the logger is verbose.
func defaultErrorHandler(l *log.Logger) func(error) {
	return func(err error) {
		if l.Verbose() {
			l.ErrorMsg("%s\n", err)
		}
	}
}
