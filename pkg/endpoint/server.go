package endpoint

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"dominicbreuker/lanlink/pkg/codec"
	"dominicbreuker/lanlink/pkg/config"
	"dominicbreuker/lanlink/pkg/ids"
	"dominicbreuker/lanlink/pkg/msg"
	lnet "dominicbreuker/lanlink/pkg/net"
	"dominicbreuker/lanlink/pkg/reactor"
	"dominicbreuker/lanlink/pkg/semaphore"
	"dominicbreuker/lanlink/pkg/transport/udp"
)

// ConnectFilter decides whether an accepted socket from remote may become a
// connection. Rejected sockets are closed without notification.
type ConnectFilter func(remote net.Addr) bool

// Server accepts connections from many clients. With a UDP port, clients
// must also register a datagram route before they count as connected.
type Server struct {
	cfg        *config.Config
	serializer codec.Serializer
	id         uuid.UUID
	sel        *reactor.Selector
	guard      spinGuard

	acceptor atomic.Pointer[reactor.Acceptor]
	udp      atomic.Pointer[udp.Channel]
	receiver atomic.Pointer[discoveryReceiver]

	// mu guards the connection indices.
	mu      sync.Mutex
	byID    map[int32]*Connection
	pending map[int32]*Connection
	byUDP   map[string]*Connection
	live    atomic.Pointer[[]*Connection]

	sem       *semaphore.ConnSemaphore
	listeners Registry

	hookMu           sync.Mutex
	connectFilter    ConnectFilter
	discoveryHandler DiscoveryHandler
	errorHandler     func(error)
	multicastGroup   string
	multicastPort    int

	shutdown atomic.Bool
}

// NewServer creates an unbound server. A nil serializer selects codec.Gob.
func NewServer(cfg *config.Config, s codec.Serializer) (*Server, error) {
	if err := config.Check(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if s == nil {
		s = codec.Gob{}
	}

	srv := &Server{
		cfg:              cfg,
		serializer:       s,
		id:               uuid.New(),
		sel:              reactor.NewSelector(),
		byID:             make(map[int32]*Connection),
		pending:          make(map[int32]*Connection),
		byUDP:            make(map[string]*Connection),
		discoveryHandler: EmptyDiscoveryReply,
		errorHandler:     defaultErrorHandler(cfg.Logger),
		multicastGroup:   cfg.Discovery.MulticastGroup,
		multicastPort:    cfg.Discovery.MulticastPort,
	}
	if cfg.MaxConnections > 0 {
		srv.sem = semaphore.New(cfg.MaxConnections, 0)
	}
	srv.listeners.onPanic = srv.reportError

	return srv, nil
}

// ID returns the random id of this server instance.
func (s *Server) ID() uuid.UUID {
	return s.id
}

// SetConnectFilter installs a filter for accepted sockets. Nil accepts all.
func (s *Server) SetConnectFilter(f ConnectFilter) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.connectFilter = f
}

// SetDiscoveryHandler replaces the handler answering DiscoverHost probes.
func (s *Server) SetDiscoveryHandler(h DiscoveryHandler) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.discoveryHandler = h
}

// SetErrorHandler replaces the function receiving errors from the update
// loop. Errors never stop the server.
func (s *Server) SetErrorHandler(f func(error)) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.errorHandler = f
}

// SetMulticast sets the group and port the discovery receiver joins on the
// next Bind. An empty group disables it.
func (s *Server) SetMulticast(group string, port int) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.multicastGroup = group
	s.multicastPort = port
}

func (s *Server) reportError(err error) {
	s.hookMu.Lock()
	f := s.errorHandler
	s.hookMu.Unlock()
	if f != nil {
		f(err)
	}
}

// Bind listens on tcpPort on all interfaces, and on udpPort for datagrams
// if udpPort > 0.
func (s *Server) Bind(tcpPort, udpPort int) error {
	udpAddr := ""
	if udpPort > 0 {
		udpAddr = ":" + strconv.Itoa(udpPort)
	}
	return s.BindAddr(":"+strconv.Itoa(tcpPort), udpAddr)
}

// BindAddr listens on tcpAddr, and on udpAddr for datagrams unless it is
// empty. A server that is already bound is closed first.
func (s *Server) BindAddr(tcpAddr, udpAddr string) error {
	s.Close()

	l, err := lnet.Listen(s.cfg, tcpAddr)
	if err != nil {
		return fmt.Errorf("listen(%s): %w", tcpAddr, err)
	}
	s.acceptor.Store(reactor.NewAcceptor(s.sel, l, s.handleAccept))

	udpPort := 0
	if udpAddr != "" {
		pc, err := udp.Listen(udpAddr, s.cfg.Deps)
		if err != nil {
			s.Close()
			return fmt.Errorf("udp.Listen(%s): %w", udpAddr, err)
		}
		ch := udp.NewChannel(s.serializer, s.cfg.ObjectBufferSize)
		ch.Bind(s.sel, pc, s.handleUDP)
		s.udp.Store(ch)
		if a, ok := pc.LocalAddr().(*net.UDPAddr); ok {
			udpPort = a.Port
		}
	}

	s.hookMu.Lock()
	group, port := s.multicastGroup, s.multicastPort
	s.hookMu.Unlock()
	if group != "" && port != udpPort {
		r, err := s.startDiscoveryReceiver(group, port)
		if err != nil {
			s.Close()
			return err
		}
		s.receiver.Store(r)
	}

	s.cfg.Logger.VerboseMsg("Server bound to %v (udp: %v)", s.TCPAddr(), s.UDPAddr())
	s.sel.Wakeup()
	return nil
}

// TCPAddr returns the listening address, or nil when unbound.
func (s *Server) TCPAddr() net.Addr {
	if a := s.acceptor.Load(); a != nil {
		return a.Addr()
	}
	return nil
}

// UDPAddr returns the datagram socket address, or nil.
func (s *Server) UDPAddr() net.Addr {
	if ch := s.udp.Load(); ch != nil {
		return ch.LocalAddr()
	}
	return nil
}

// AddListener attaches l to every connection of the server.
func (s *Server) AddListener(l Listener) {
	s.listeners.Add(l)
}

// RemoveListener detaches l.
func (s *Server) RemoveListener(l Listener) {
	s.listeners.Remove(l)
}

// Connections returns the connected connections. The slice must not be
// modified.
func (s *Server) Connections() []*Connection {
	if p := s.live.Load(); p != nil {
		return *p
	}
	return nil
}

// Update waits up to timeout for socket activity, processes it and runs the
// liveness checks. A zero timeout polls. Per-connection failures close that
// connection and go to the error handler; only a closed selector is
// returned.
func (s *Server) Update(timeout time.Duration) error {
	start := time.Now()
	events, err := s.sel.Select(timeout)
	if err != nil {
		return fmt.Errorf("select: %w", err)
	}
	s.guard.observe(len(events), start)

	for _, ev := range events {
		if err := ev.Dispatch(); err != nil {
			s.reportError(err)
		}
	}

	s.checkLiveness(time.Now())
	return nil
}

// checkLiveness closes connections that stopped reading, pending ones
// included, and notifies idle listeners.
func (s *Server) checkLiveness(now time.Time) {
	s.mu.Lock()
	pending := make([]*Connection, 0, len(s.pending))
	for _, c := range s.pending {
		pending = append(pending, c)
	}
	s.mu.Unlock()

	for _, c := range pending {
		if c.tcp.IsTimedOut(now) {
			c.close(ReasonTimeout)
		}
	}

	for _, c := range s.Connections() {
		if c.tcp.IsTimedOut(now) {
			c.close(ReasonTimeout)
			continue
		}
		if c.tcp.NeedsKeepAlive(now) {
			if _, err := c.SendTCP(msg.KeepAlive{}); err != nil {
				s.reportError(err)
				continue
			}
		}
		if c.IsIdle() {
			c.notifyIdle()
		}
	}
}

func (s *Server) handleAccept(ev reactor.Event) error {
	a := s.acceptor.Load()
	if a == nil || a.Key() != ev.Key {
		return nil
	}

	for {
		conn, err := a.Accept()
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		if conn == nil {
			return nil
		}
		s.acceptOperation(conn)
	}
}

func (s *Server) acceptOperation(conn net.Conn) {
	s.hookMu.Lock()
	filter := s.connectFilter
	s.hookMu.Unlock()

	if filter != nil && !filter(conn.RemoteAddr()) {
		s.cfg.Logger.VerboseMsg("Rejected connection from %v", conn.RemoteAddr())
		conn.Close()
		return
	}
	if !s.sem.TryAcquire() {
		s.cfg.Logger.VerboseMsg("Rejected connection from %v: limit of %d reached", conn.RemoteAddr(), s.cfg.MaxConnections)
		conn.Close()
		return
	}

	c := newConnection(s, s.cfg, s.serializer, s.cfg.WriteBufferSize)
	c.parent = &s.listeners
	c.listeners.onPanic = s.reportError
	shared := s.udp.Load()
	c.udp = shared
	c.onClose = s.removeConnection
	c.tcp.Accept(s.sel, conn, s.tcpHandler(c))

	// c becomes reachable through the indexes only once it can be closed
	// and removed again.
	s.mu.Lock()
	id, err := ids.Next(func(id int32) bool {
		_, ok := s.byID[id]
		return ok
	})
	if err != nil {
		s.mu.Unlock()
		c.tcp.Close()
		s.sem.Release()
		s.reportError(fmt.Errorf("accept %v: %w", conn.RemoteAddr(), err))
		return
	}
	c.id.Store(id)
	s.byID[id] = c
	if shared == nil {
		c.setState(StateConnected)
		s.addLiveLocked(c)
	} else {
		c.setState(StateAwaitingUDP)
		s.pending[id] = c
	}
	s.mu.Unlock()

	s.cfg.Logger.VerboseMsg("Accepted %s from %v", c, conn.RemoteAddr())

	if _, err := c.SendTCP(msg.RegisterTCP{ConnectionID: id}); err != nil {
		s.reportError(err)
		return
	}
	if shared == nil {
		c.notifyConnected()
	}
}

func (s *Server) tcpHandler(c *Connection) reactor.Handler {
	return func(ev reactor.Event) error {
		if ev.Readable() {
			for {
				v, err := c.tcp.ReadObject()
				if err != nil {
					return c.fail("read TCP", err)
				}
				if v == nil {
					break
				}
				c.receive(v)
			}
		}

		if ev.Writable() {
			if err := c.tcp.WriteOperation(); err != nil {
				return c.fail("write TCP", err)
			}
		}
		return nil
	}
}

func (s *Server) handleUDP(ev reactor.Event) error {
	ch := s.udp.Load()
	if ch == nil {
		return nil
	}

	for {
		from, err := ch.ReadFromAddress()
		if err != nil {
			return fmt.Errorf("read UDP: %w", err)
		}
		if from == nil {
			return nil
		}

		s.mu.Lock()
		c := s.byUDP[from.String()]
		s.mu.Unlock()

		v, err := ch.ReadObject()
		if err != nil {
			s.reportError(fmt.Errorf("read UDP from %v: %w", from, err))
			continue
		}

		switch m := v.(type) {
		case msg.RegisterUDP:
			s.registerUDP(m.ConnectionID, from)
			continue
		case msg.DiscoverHost:
			if c == nil {
				s.answerDiscovery(from, func(reply []byte) error {
					_, err := ch.WriteTo(reply, from)
					return err
				})
			}
			continue
		}

		if c != nil {
			c.receive(v)
		}
	}
}

// registerUDP binds from to the pending connection id and promotes it.
// Repeated registrations of an already promoted id are ignored.
func (s *Server) registerUDP(id int32, from net.Addr) {
	s.mu.Lock()
	c, ok := s.pending[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	c.setUDPRemote(from)
	s.byUDP[from.String()] = c
	s.addLiveLocked(c)
	s.mu.Unlock()

	if !c.transition(StateAwaitingUDP, StateConnected) {
		return
	}

	s.cfg.Logger.VerboseMsg("%s registered UDP from %v", c, from)

	if _, err := c.SendTCP(msg.RegisterUDP{ConnectionID: id}); err != nil {
		s.reportError(err)
		return
	}
	c.notifyConnected()
}

// addLiveLocked publishes a new live snapshot. s.mu must be held.
func (s *Server) addLiveLocked(c *Connection) {
	cur := s.Connections()
	next := make([]*Connection, 0, len(cur)+1)
	next = append(next, cur...)
	next = append(next, c)
	s.live.Store(&next)
}

// removeConnection drops c from every index. It runs once per connection.
func (s *Server) removeConnection(c *Connection) {
	s.mu.Lock()
	id := c.ID()
	if s.byID[id] == c {
		delete(s.byID, id)
	}
	if s.pending[id] == c {
		delete(s.pending, id)
	}
	if addr := c.RemoteAddrUDP(); addr != nil && s.byUDP[addr.String()] == c {
		delete(s.byUDP, addr.String())
	}

	cur := s.Connections()
	next := make([]*Connection, 0, len(cur))
	for _, x := range cur {
		if x != c {
			next = append(next, x)
		}
	}
	if len(next) != len(cur) {
		s.live.Store(&next)
	}
	s.mu.Unlock()

	s.sem.Release()
}

func (s *Server) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// SendToAllTCP sends v to every connection over the reliable channel.
func (s *Server) SendToAllTCP(v any) {
	for _, c := range s.Connections() {
		if _, err := c.SendTCP(v); err != nil {
			s.reportError(err)
		}
	}
}

// SendToAllExceptTCP sends v to every connection but id.
func (s *Server) SendToAllExceptTCP(id int32, v any) {
	for _, c := range s.Connections() {
		if c.ID() == id {
			continue
		}
		if _, err := c.SendTCP(v); err != nil {
			s.reportError(err)
		}
	}
}

// SendToTCP sends v to connection id.
func (s *Server) SendToTCP(id int32, v any) error {
	c := s.connection(id)
	if c == nil {
		return fmt.Errorf("connection %d: %w", id, ErrNotConnected)
	}
	_, err := c.SendTCP(v)
	return err
}

// SendToAllUDP sends v to every connection as a datagram.
func (s *Server) SendToAllUDP(v any) {
	for _, c := range s.Connections() {
		if _, err := c.SendUDP(v); err != nil {
			s.reportError(err)
		}
	}
}

// SendToAllExceptUDP sends v as a datagram to every connection but id.
func (s *Server) SendToAllExceptUDP(id int32, v any) {
	for _, c := range s.Connections() {
		if c.ID() == id {
			continue
		}
		if _, err := c.SendUDP(v); err != nil {
			s.reportError(err)
		}
	}
}

// SendToUDP sends v as a datagram to connection id.
func (s *Server) SendToUDP(id int32, v any) error {
	c := s.connection(id)
	if c == nil {
		return fmt.Errorf("connection %d: %w", id, ErrNotConnected)
	}
	_, err := c.SendUDP(v)
	return err
}

func (s *Server) connection(id int32) *Connection {
	for _, c := range s.Connections() {
		if c.ID() == id {
			return c
		}
	}
	return nil
}

// Run calls Update until Stop is called or the server is disposed.
func (s *Server) Run() error {
	s.shutdown.Store(false)
	for !s.shutdown.Load() {
		if err := s.Update(updateInterval); err != nil {
			if errors.Is(err, reactor.ErrClosed) {
				return nil
			}
			s.reportError(err)
			s.Close()
		}
	}
	return nil
}

// Start runs the server on a new goroutine.
func (s *Server) Start() {
	go func() {
		if err := s.Run(); err != nil {
			s.reportError(err)
		}
	}()
}

// Stop closes the server and ends Run.
func (s *Server) Stop() {
	if s.shutdown.Swap(true) {
		return
	}
	s.Close()
}

// Close closes every connection and the server sockets. It is idempotent
// and safe from any goroutine, including listeners.
func (s *Server) Close() {
	s.mu.Lock()
	all := make([]*Connection, 0, len(s.byID))
	for _, c := range s.byID {
		all = append(all, c)
	}
	s.mu.Unlock()

	for _, c := range all {
		c.close(ReasonClosed)
	}

	if a := s.acceptor.Swap(nil); a != nil {
		a.Close()
	}
	if r := s.receiver.Swap(nil); r != nil {
		r.close()
	}
	if ch := s.udp.Swap(nil); ch != nil {
		ch.Close()
	}

	s.sel.Wakeup()
}

// Dispose closes the server and releases its selector. The server cannot
// be used afterwards.
func (s *Server) Dispose() {
	s.Stop()
	s.Close()
	s.sel.Close()
}
