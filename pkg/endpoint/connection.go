package endpoint

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"dominicbreuker/lanlink/pkg/codec"
	"dominicbreuker/lanlink/pkg/config"
	"dominicbreuker/lanlink/pkg/log"
	"dominicbreuker/lanlink/pkg/msg"
	"dominicbreuker/lanlink/pkg/transport"
	"dominicbreuker/lanlink/pkg/transport/tcp"
	"dominicbreuker/lanlink/pkg/transport/udp"
)

// Connection is one logical link between a client and a server: a reliable
// channel and optionally a datagram route. On the server every accepted
// socket gets a Connection; a Client is itself a Connection.
type Connection struct {
	id atomic.Int32
	// status holds the State in its low byte and the Reason of the last
	// close above it, so both change in one step.
	status atomic.Int32

	endpoint Endpoint
	logger   *log.Logger

	tcp *tcp.Channel
	udp *udp.Channel
	// ownsUDP is false on the server, where all connections share one socket.
	ownsUDP   bool
	udpRemote atomic.Pointer[net.Addr]

	listeners Registry
	parent    *Registry
	onClose   func(c *Connection)

	mu            sync.Mutex
	name          string
	idleThreshold float64

	pingMu       sync.Mutex
	lastPingID   int32
	lastPingSent time.Time
	rtt          atomic.Int64

	lastProtocolError atomic.Pointer[error]
}

func newConnection(ep Endpoint, cfg *config.Config, s codec.Serializer, writeBufferSize int) *Connection {
	c := &Connection{
		endpoint:      ep,
		logger:        cfg.Logger,
		idleThreshold: cfg.IdleThreshold,
	}
	c.tcp = tcp.NewChannel(s, writeBufferSize, cfg.ObjectBufferSize)
	c.tcp.Timeout = cfg.Timeout
	c.tcp.KeepAlive = cfg.KeepAliveTCP
	c.id.Store(-1)
	c.rtt.Store(-1)
	return c
}

// ID returns the id the server assigned, or -1 before registration.
func (c *Connection) ID() int32 {
	return c.id.Load()
}

// State returns the lifecycle state.
func (c *Connection) State() State {
	return stateOf(c.status.Load())
}

func stateOf(status int32) State   { return State(status & 0xff) }
func reasonOf(status int32) Reason { return Reason(status >> 8) }

func withState(status int32, s State) int32 {
	return status&^0xff | int32(s)
}

// setState moves to s and keeps the last close reason.
func (c *Connection) setState(s State) {
	for {
		cur := c.status.Load()
		if c.status.CompareAndSwap(cur, withState(cur, s)) {
			return
		}
	}
}

// IsConnected reports whether registration completed and the connection
// has not closed since.
func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected
}

// CloseReason returns why the connection last closed.
func (c *Connection) CloseReason() Reason {
	return reasonOf(c.status.Load())
}

// Endpoint returns the client or server owning the connection.
func (c *Connection) Endpoint() Endpoint {
	return c.endpoint
}

// SendTCP sends v over the reliable channel and returns the number of
// bytes queued. A failed send closes the connection.
func (c *Connection) SendTCP(v any) (int, error) {
	if c.State() == StateClosed || !c.tcp.IsConnected() {
		return 0, ErrNotConnected
	}

	n, err := c.tcp.Send(v)
	if err != nil {
		return 0, c.fail("send TCP", err)
	}
	return n, nil
}

// SendUDP sends v as one datagram and returns its size. It fails with
// ErrNotConnected if the connection has no datagram route. A failed send
// closes the connection.
func (c *Connection) SendUDP(v any) (int, error) {
	if c.State() == StateClosed || c.udp == nil {
		return 0, ErrNotConnected
	}

	addr := c.RemoteAddrUDP()
	if addr == nil {
		return 0, ErrNotConnected
	}

	n, err := c.udp.Send(v, addr)
	if err != nil {
		return 0, c.fail("send UDP", err)
	}
	return n, nil
}

// Close closes the connection with ReasonClosed. It is idempotent.
func (c *Connection) Close() {
	c.close(ReasonClosed)
}

// close moves the connection to StateClosed exactly once. Listeners hear
// about it only if the connection had been connected.
func (c *Connection) close(reason Reason) {
	var prev State
	for {
		cur := c.status.Load()
		prev = stateOf(cur)
		if prev == StateClosed {
			return
		}
		if c.status.CompareAndSwap(cur, int32(reason)<<8|int32(StateClosed)) {
			break
		}
	}

	c.tcp.Close()
	if c.ownsUDP && c.udp != nil {
		c.udp.Close()
	}

	c.logger.VerboseMsg("%s closed (%s)", c, reason)

	if c.onClose != nil {
		c.onClose(c)
	}
	if prev == StateConnected {
		c.notifyDisconnected(reason)
	}
}

// fail closes the connection for err and returns err annotated with the
// connection.
func (c *Connection) fail(op string, err error) error {
	err = fmt.Errorf("%s %s: %w", op, c, err)
	if transport.IsProtocolError(err) {
		c.lastProtocolError.Store(&err)
	}
	c.close(reasonFor(err))
	return err
}

// transition moves from one state to another unless something else changed
// the state first.
func (c *Connection) transition(from, to State) bool {
	for {
		cur := c.status.Load()
		if stateOf(cur) != from {
			return false
		}
		if c.status.CompareAndSwap(cur, withState(cur, to)) {
			return true
		}
	}
}

// LastProtocolError returns the protocol error that last closed the
// connection, or nil.
func (c *Connection) LastProtocolError() error {
	if p := c.lastProtocolError.Load(); p != nil {
		return *p
	}
	return nil
}

// AddListener attaches l to this connection only.
func (c *Connection) AddListener(l Listener) {
	c.listeners.Add(l)
}

// RemoveListener detaches l.
func (c *Connection) RemoveListener(l Listener) {
	c.listeners.Remove(l)
}

// RemoteAddrTCP returns the peer of the reliable channel, or nil.
func (c *Connection) RemoteAddrTCP() net.Addr {
	return c.tcp.RemoteAddr()
}

// RemoteAddrUDP returns the datagram peer, or nil before UDP registration.
func (c *Connection) RemoteAddrUDP() net.Addr {
	if p := c.udpRemote.Load(); p != nil {
		return *p
	}
	if c.ownsUDP && c.udp != nil {
		return c.udp.ConnectedAddr()
	}
	return nil
}

func (c *Connection) setUDPRemote(addr net.Addr) {
	c.udpRemote.Store(&addr)
}

// SetName sets the name used by String.
func (c *Connection) SetName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = name
}

func (c *Connection) String() string {
	c.mu.Lock()
	name := c.name
	c.mu.Unlock()

	if name != "" {
		return name
	}
	return fmt.Sprintf("Connection %d", c.ID())
}

// SetIdleThreshold sets the fraction of the write buffer below which the
// connection is idle. Idle listeners are notified on every update while
// the connection stays idle.
func (c *Connection) SetIdleThreshold(f float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idleThreshold = f
}

// IsIdle reports whether queued output is below the idle threshold.
func (c *Connection) IsIdle() bool {
	c.mu.Lock()
	threshold := c.idleThreshold
	c.mu.Unlock()
	return c.tcp.WriteBufferLoad() < threshold
}

// SetTimeout sets how long the connection may go without reading before it
// closes with ReasonTimeout. Zero disables the check. Call it before the
// connection is used.
func (c *Connection) SetTimeout(d time.Duration) {
	c.tcp.Timeout = d
}

// SetKeepAliveTCP sets how long the reliable channel may go without writing
// before a KeepAlive is sent. Zero disables keep-alives. Call it before the
// connection is used.
func (c *Connection) SetKeepAliveTCP(d time.Duration) {
	c.tcp.KeepAlive = d
}

// UpdateReturnTripTime sends a Ping. The reply updates ReturnTripTime.
func (c *Connection) UpdateReturnTripTime() error {
	c.pingMu.Lock()
	id := c.lastPingID
	c.lastPingID++
	c.lastPingSent = time.Now()
	c.pingMu.Unlock()

	_, err := c.SendTCP(msg.Ping{ID: id})
	return err
}

// ReturnTripTime returns the last measured round trip. The second result
// is false until a Ping reply arrived.
func (c *Connection) ReturnTripTime() (time.Duration, bool) {
	rtt := c.rtt.Load()
	return time.Duration(rtt), rtt >= 0
}

// receive consumes framework messages and hands everything else to the
// listeners of a connected connection.
func (c *Connection) receive(v any) {
	switch m := v.(type) {
	case msg.Ping:
		if !m.IsReply {
			c.SendTCP(msg.Ping{ID: m.ID, IsReply: true})
			return
		}
		c.pingMu.Lock()
		if m.ID == c.lastPingID-1 {
			c.rtt.Store(int64(time.Since(c.lastPingSent)))
		}
		c.pingMu.Unlock()
		return
	}

	if msg.IsFramework(v) || !c.IsConnected() {
		return
	}
	c.notifyReceived(v)
}

func (c *Connection) notifyConnected() {
	c.logger.VerboseMsg("%s connected: %v", c, c.RemoteAddrTCP())
	if c.parent != nil {
		c.parent.connected(c)
	}
	c.listeners.connected(c)
}

func (c *Connection) notifyDisconnected(reason Reason) {
	if c.parent != nil {
		c.parent.disconnected(c, reason)
	}
	c.listeners.disconnected(c, reason)
}

func (c *Connection) notifyReceived(v any) {
	if c.parent != nil {
		c.parent.received(c, v)
	}
	c.listeners.received(c, v)
}

func (c *Connection) notifyIdle() {
	if c.parent != nil {
		c.parent.idle(c)
	}
	c.listeners.idle(c)
}
