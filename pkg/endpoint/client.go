package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"dominicbreuker/lanlink/pkg/codec"
	"dominicbreuker/lanlink/pkg/config"
	"dominicbreuker/lanlink/pkg/msg"
	lnet "dominicbreuker/lanlink/pkg/net"
	"dominicbreuker/lanlink/pkg/reactor"
	"dominicbreuker/lanlink/pkg/transport"
	"dominicbreuker/lanlink/pkg/transport/udp"
)

// registerUDPInterval is how often Connect repeats RegisterUDP.
const registerUDPInterval = 100 * time.Millisecond

// Client holds one connection to a server.
//
// Connect blocks until registration completes, but registration messages
// are only read by Update. Drive Update from another goroutine (Start does
// that) while connecting. Connect called from a listener gives up at its
// deadline with an error wrapping ErrDispatching.
type Client struct {
	*Connection

	cfg        *config.Config
	serializer codec.Serializer
	sel        *reactor.Selector
	dial       transport.Dialer

	// updateMu keeps Update from dispatching while Connect swaps sockets.
	updateMu    sync.Mutex
	dispatching atomic.Bool
	guard    spinGuard

	useUDP        atomic.Bool
	tcpRegistered atomic.Bool
	udpRegistered atomic.Bool
	registered    chan struct{}

	connectMu      sync.Mutex
	connectTimeout time.Duration
	connectHost    string
	connectTCPPort int
	connectUDPPort int

	shutdown atomic.Bool
	running  chan struct{}
	runMu    sync.Mutex

	errMu        sync.Mutex
	errorHandler func(error)
}

// NewClient creates a client. A nil serializer selects codec.Gob.
func NewClient(cfg *config.Config, s codec.Serializer) (*Client, error) {
	if err := config.Check(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if s == nil {
		s = codec.Gob{}
	}

	c := &Client{
		cfg:          cfg,
		serializer:   s,
		sel:          reactor.NewSelector(),
		dial:         lnet.Dialer(cfg),
		registered:   make(chan struct{}, 1),
		errorHandler: defaultErrorHandler(cfg.Logger),
	}

	c.Connection = newConnection(c, cfg, s, cfg.WriteBufferSize)
	c.Connection.udp = udp.NewChannel(s, cfg.ObjectBufferSize)
	c.Connection.udp.KeepAlive = cfg.KeepAliveUDP
	c.Connection.ownsUDP = true
	c.listeners.onPanic = c.reportError

	return c, nil
}

// SetErrorHandler replaces the function receiving errors that Update does
// not return, such as transport failures and listener panics.
func (c *Client) SetErrorHandler(f func(error)) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	c.errorHandler = f
}

func (c *Client) reportError(err error) {
	c.errMu.Lock()
	f := c.errorHandler
	c.errMu.Unlock()
	if f != nil {
		f(err)
	}
}

// SetKeepAliveUDP sets the datagram keep-alive interval. Zero disables it.
func (c *Client) SetKeepAliveUDP(d time.Duration) {
	c.Connection.udp.KeepAlive = d
}

// Connect opens a connection to host and waits until the server registered
// it. A udpPort <= 0 connects over the reliable channel only. Any previous
// connection is closed first. On timeout the error wraps ErrTimeout and the
// client is left unconnected.
func (c *Client) Connect(timeout time.Duration, host string, tcpPort, udpPort int) error {
	c.connectMu.Lock()
	c.connectTimeout = timeout
	c.connectHost = host
	c.connectTCPPort = tcpPort
	c.connectUDPPort = udpPort
	c.connectMu.Unlock()

	c.Close()

	deadline := time.Now().Add(timeout)
	if err := c.open(deadline, host, tcpPort, udpPort); err != nil {
		c.Close()
		return err
	}

	if !c.await(&c.tcpRegistered, deadline, nil) {
		if c.State() == StateClosed {
			return fmt.Errorf("connection closed during TCP registration: %w", transport.ErrClosed)
		}
		c.Close()
		return fmt.Errorf("%w: connected, but timed out during TCP registration (Update must run on another goroutine during Connect)", ErrTimeout)
	}

	if udpPort <= 0 {
		return nil
	}

	var sendErr error
	resend := func() bool {
		_, sendErr = c.Connection.udp.Send(msg.RegisterUDP{ConnectionID: c.ID()}, nil)
		return sendErr == nil
	}
	if !c.await(&c.udpRegistered, deadline, resend) {
		if c.State() == StateClosed && sendErr == nil {
			return fmt.Errorf("connection closed during UDP registration: %w", transport.ErrClosed)
		}
		c.Close()
		if sendErr != nil {
			return fmt.Errorf("send RegisterUDP: %w", sendErr)
		}
		return fmt.Errorf("%w: connected, but timed out during UDP registration: %s", ErrTimeout, net.JoinHostPort(host, strconv.Itoa(udpPort)))
	}

	return nil
}

// open attaches fresh sockets to the selector. Dialing gives up at
// deadline or after the configured dial timeout, whichever comes first.
func (c *Client) open(deadline time.Time, host string, tcpPort, udpPort int) error {
	if err := c.lockUpdate(deadline); err != nil {
		return err
	}
	defer c.updateMu.Unlock()

	c.id.Store(-1)
	c.tcpRegistered.Store(false)
	c.udpRegistered.Store(false)
	c.useUDP.Store(udpPort > 0)
	c.udpRemote.Store(nil)
	select {
	case <-c.registered:
	default:
	}
	c.setState(StateConnecting)
	c.sel.Wakeup()

	addr := net.JoinHostPort(host, strconv.Itoa(tcpPort))
	c.logger.VerboseMsg("Connecting to %s using protocol %s", addr, c.cfg.Protocol)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	if err := c.tcp.Connect(ctx, c.sel, c.dial, addr, c.cfg.ConnectDialTimeout, c.handleTCP); err != nil {
		return fmt.Errorf("connect(%s): %w", addr, err)
	}

	if udpPort > 0 {
		udpAddr := net.JoinHostPort(host, strconv.Itoa(udpPort))
		pc, remote, err := udp.Dial(udpAddr, c.cfg.Deps)
		if err != nil {
			return fmt.Errorf("udp.Dial(%s): %w", udpAddr, err)
		}
		c.Connection.udp.Connect(c.sel, pc, remote, c.handleUDP)
	}

	return nil
}

// lockUpdate takes updateMu before deadline. Update holds it while
// dispatching, so a Connect made by a listener on the update goroutine
// cannot get it and must not wait forever.
func (c *Client) lockUpdate(deadline time.Time) error {
	for !c.updateMu.TryLock() {
		if !time.Now().Before(deadline) {
			if c.dispatching.Load() {
				return fmt.Errorf("%w: %w", ErrTimeout, ErrDispatching)
			}
			return fmt.Errorf("%w: waiting for Update to release the sockets", ErrTimeout)
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

// await waits for flag until deadline, calling each (if set) every
// registerUDPInterval. It stops early if each fails or the connection
// closes.
func (c *Client) await(flag *atomic.Bool, deadline time.Time, each func() bool) bool {
	for !flag.Load() && time.Now().Before(deadline) && c.State() != StateClosed {
		if each != nil && !each() {
			return false
		}

		wait := time.Until(deadline)
		if wait > registerUDPInterval {
			wait = registerUDPInterval
		}
		timer := time.NewTimer(wait)
		select {
		case <-c.registered:
		case <-timer.C:
		}
		timer.Stop()
	}
	return flag.Load()
}

func (c *Client) signalRegistered() {
	select {
	case c.registered <- struct{}{}:
	default:
	}
}

// Reconnect calls Connect with the parameters of the last Connect. A
// timeout <= 0 reuses the last timeout.
func (c *Client) Reconnect(timeout time.Duration) error {
	c.connectMu.Lock()
	host, tcpPort, udpPort := c.connectHost, c.connectTCPPort, c.connectUDPPort
	if timeout <= 0 {
		timeout = c.connectTimeout
	}
	c.connectMu.Unlock()

	if host == "" {
		return errors.New("client has never been connected")
	}
	return c.Connect(timeout, host, tcpPort, udpPort)
}

// Update waits up to timeout for socket activity, processes it and runs
// the liveness checks. A zero timeout polls. Protocol errors close the
// connection and are returned. Other failures close the connection and go
// to the error handler.
func (c *Client) Update(timeout time.Duration) error {
	start := time.Now()
	events, err := c.sel.Select(timeout)
	if err != nil {
		return fmt.Errorf("select: %w", err)
	}
	c.guard.observe(len(events), start)

	var protoErr error
	if len(events) > 0 {
		c.updateMu.Lock()
		c.dispatching.Store(true)
		for _, ev := range events {
			c.keepAlive(time.Now())
			if err := ev.Dispatch(); err != nil {
				if transport.IsProtocolError(err) {
					protoErr = err
					continue
				}
				c.reportError(err)
			}
		}
		c.dispatching.Store(false)
		c.updateMu.Unlock()
	}

	if c.IsConnected() {
		now := time.Now()
		if c.tcp.IsTimedOut(now) {
			c.close(ReasonTimeout)
		} else {
			c.keepAlive(now)
		}
		if c.IsIdle() {
			c.notifyIdle()
		}
	}

	return protoErr
}

func (c *Client) handleTCP(ev reactor.Event) error {
	if ev.Readable() {
		for {
			v, err := c.tcp.ReadObject()
			if err != nil {
				return c.fail("read TCP", err)
			}
			if v == nil {
				break
			}
			c.handleObject(v)
		}
	}

	if ev.Writable() {
		if err := c.tcp.WriteOperation(); err != nil {
			return c.fail("write TCP", err)
		}
	}
	return nil
}

// handleObject advances registration or passes v on.
func (c *Client) handleObject(v any) {
	if !c.tcpRegistered.Load() {
		m, ok := v.(msg.RegisterTCP)
		if !ok {
			return
		}
		c.id.Store(m.ConnectionID)

		next := StateConnected
		if c.useUDP.Load() {
			next = StateAwaitingUDP
		}
		if !c.transition(StateConnecting, next) {
			return
		}
		c.tcpRegistered.Store(true)
		c.signalRegistered()
		c.logger.VerboseMsg("Registered as connection %d", m.ConnectionID)
		if next == StateConnected {
			c.notifyConnected()
		}
		return
	}

	if c.useUDP.Load() && !c.udpRegistered.Load() {
		m, ok := v.(msg.RegisterUDP)
		if !ok || m.ConnectionID != c.ID() {
			return
		}
		if !c.transition(StateAwaitingUDP, StateConnected) {
			return
		}
		c.udpRegistered.Store(true)
		c.signalRegistered()
		c.notifyConnected()
		return
	}

	c.receive(v)
}

func (c *Client) handleUDP(ev reactor.Event) error {
	ch := c.Connection.udp
	for {
		from, err := ch.ReadFromAddress()
		if err != nil {
			return c.fail("read UDP", err)
		}
		if from == nil {
			return nil
		}

		v, err := ch.ReadObject()
		if err != nil {
			return c.fail("read UDP", err)
		}
		c.receive(v)
	}
}

func (c *Client) keepAlive(now time.Time) {
	if !c.IsConnected() {
		return
	}
	if c.tcp.NeedsKeepAlive(now) {
		if _, err := c.SendTCP(msg.KeepAlive{}); err != nil {
			c.reportError(err)
		}
	}
	if c.udpRegistered.Load() && c.Connection.udp.NeedsKeepAlive(now) {
		if _, err := c.SendUDP(msg.KeepAlive{}); err != nil {
			c.reportError(err)
		}
	}
}

// Run calls Update until Stop is called or a protocol error occurs, which
// it returns.
func (c *Client) Run() error {
	c.shutdown.Store(false)
	return c.loop()
}

func (c *Client) loop() error {
	for !c.shutdown.Load() {
		if err := c.Update(updateInterval); err != nil {
			if errors.Is(err, reactor.ErrClosed) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Start runs the client on a new goroutine, first waiting up to five
// seconds for a previous one to stop. Errors returned by Run go to the
// error handler.
func (c *Client) Start() {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.running != nil {
		c.shutdown.Store(true)
		c.sel.Wakeup()
		select {
		case <-c.running:
		case <-time.After(5 * time.Second):
		}
	}

	done := make(chan struct{})
	c.running = done
	c.shutdown.Store(false)
	go func() {
		defer close(done)
		if err := c.loop(); err != nil {
			c.reportError(err)
		}
	}()
}

// Stop closes the connection and ends Run.
func (c *Client) Stop() {
	if c.shutdown.Swap(true) {
		return
	}
	c.Close()
	c.sel.Wakeup()
}

// Close closes the connection. It is idempotent and safe from any
// goroutine, including listeners.
func (c *Client) Close() {
	c.close(ReasonClosed)
	c.sel.Wakeup()
}

// Dispose closes the client and releases its selector. The client cannot
// be used afterwards.
func (c *Client) Dispose() {
	c.Stop()
	c.Close()
	c.sel.Close()
}
