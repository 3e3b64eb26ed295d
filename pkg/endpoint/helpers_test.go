package endpoint

import (
	"net"
	"testing"
	"time"

	mocks_tcp "dominicbreuker/lanlink/mocks/tcp"
	mocks_udp "dominicbreuker/lanlink/mocks/udp"
	"dominicbreuker/lanlink/pkg/config"
)

const (
	connectTimeout = 3 * time.Second
	eventTimeout   = 3 * time.Second
)

// harness is a started server on an in-memory network.
type harness struct {
	tcpNet  *mocks_tcp.MockTCPNetwork
	udpNet  *mocks_udp.MockUDPNetwork
	server  *Server
	events  *events
	tcpPort int
	udpPort int
}

func newHarness(t *testing.T, withUDP bool, tweak func(cfg *config.Config)) *harness {
	t.Helper()

	h := &harness{
		tcpNet: mocks_tcp.NewMockTCPNetwork(),
		udpNet: mocks_udp.NewMockUDPNetwork(),
		events: newEvents(),
	}

	cfg := h.config(config.Default())
	if tweak != nil {
		tweak(cfg)
	}

	s, err := NewServer(cfg, nil)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	s.SetErrorHandler(func(err error) { t.Logf("server: %v", err) })
	s.AddListener(h.events.listener())

	udpAddr := ""
	if withUDP {
		udpAddr = ":0"
	}
	if err := s.BindAddr(":0", udpAddr); err != nil {
		t.Fatalf("BindAddr() error = %v", err)
	}
	h.tcpPort = s.TCPAddr().(*net.TCPAddr).Port
	if withUDP {
		h.udpPort = s.UDPAddr().(*net.UDPAddr).Port
	}

	s.Start()
	t.Cleanup(s.Dispose)
	h.server = s

	return h
}

func (h *harness) config(cfg *config.Config) *config.Config {
	cfg.Deps = &config.Dependencies{
		TCPDialer:   h.tcpNet.DialTCP,
		TCPListener: h.tcpNet.ListenTCP,
		UDPListener: h.udpNet.ListenUDP,
		UDPDialer:   h.udpNet.DialUDP,
	}
	return cfg
}

// newClient returns a started client with listener events recorded.
func (h *harness) newClient(t *testing.T, tweak func(cfg *config.Config)) (*Client, *events) {
	t.Helper()

	cfg := h.config(config.DefaultClient())
	if tweak != nil {
		tweak(cfg)
	}

	c, err := NewClient(cfg, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	c.SetErrorHandler(func(err error) { t.Logf("client: %v", err) })

	ev := newEvents()
	c.AddListener(ev.listener())
	c.Start()
	t.Cleanup(c.Dispose)

	return c, ev
}

func (h *harness) connect(c *Client) error {
	return c.Connect(connectTimeout, "127.0.0.1", h.tcpPort, h.udpPort)
}

// dialRaw opens a socket to the server that speaks no protocol. Everything
// the server sends is discarded.
func (h *harness) dialRaw(t *testing.T) net.Conn {
	t.Helper()

	conn, err := h.tcpNet.DialTCP("tcp", nil, &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: h.tcpPort})
	if err != nil {
		t.Fatalf("DialTCP() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 512)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()
	return conn
}

type disconnect struct {
	conn   *Connection
	reason Reason
}

type received struct {
	conn *Connection
	v    any
}

// events records listener notifications on channels.
type events struct {
	connected    chan *Connection
	disconnected chan disconnect
	received     chan received
}

func newEvents() *events {
	return &events{
		connected:    make(chan *Connection, 64),
		disconnected: make(chan disconnect, 64),
		received:     make(chan received, 64),
	}
}

func (e *events) listener() *Funcs {
	return &Funcs{
		OnConnected:    func(c *Connection) { e.connected <- c },
		OnDisconnected: func(c *Connection, r Reason) { e.disconnected <- disconnect{c, r} },
		OnReceived:     func(c *Connection, v any) { e.received <- received{c, v} },
	}
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(eventTimeout):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

func expectNone[T any](t *testing.T, ch <-chan T, d time.Duration, what string) {
	t.Helper()

	select {
	case v := <-ch:
		t.Fatalf("unexpected %s: %v", what, v)
	case <-time.After(d):
	}
}

// eventually polls cond until it holds or the event timeout passes.
func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()

	deadline := time.Now().Add(eventTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
