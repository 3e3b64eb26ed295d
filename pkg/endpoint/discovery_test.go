package endpoint

import (
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"dominicbreuker/lanlink/pkg/config"
	"dominicbreuker/lanlink/pkg/msg"
)

// newLoopbackServer binds a server to real loopback sockets.
func newLoopbackServer(t *testing.T) (*Server, int, int) {
	t.Helper()

	s, err := NewServer(config.Default(), nil)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if err := s.BindAddr("127.0.0.1:0", "127.0.0.1:0"); err != nil {
		t.Fatalf("BindAddr() error = %v", err)
	}
	s.Start()
	t.Cleanup(s.Dispose)

	return s, s.TCPAddr().(*net.TCPAddr).Port, s.UDPAddr().(*net.UDPAddr).Port
}

func loopbackClient(t *testing.T) *Client {
	t.Helper()

	cfg := config.DefaultClient()
	cfg.Deps = &config.Dependencies{
		BroadcastAddrs: func() ([]net.IP, error) { return []net.IP{net.IPv4(127, 0, 0, 1)}, nil },
	}
	c, err := NewClient(cfg, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(c.Dispose)
	return c
}

func TestDiscoverHost_DefaultReply(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}
	t.Parallel()

	_, _, udpPort := newLoopbackServer(t)
	c := loopbackClient(t)

	p := c.DiscoverHost(udpPort, 2*time.Second)
	if p == nil {
		t.Fatal("DiscoverHost() = nil, want the server's reply")
	}
	if len(p.Data) != 0 {
		t.Errorf("reply = %q, want an empty datagram", p.Data)
	}
	if got := p.Addr.(*net.UDPAddr).Port; got != udpPort {
		t.Errorf("reply from port %d, want %d", got, udpPort)
	}
}

func TestDiscoverHosts_CustomHandler(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}
	t.Parallel()

	s, tcpPort, udpPort := newLoopbackServer(t)
	s.SetDiscoveryHandler(func(from net.Addr, reply func([]byte) error) error {
		return reply([]byte("lanlink"))
	})

	c := loopbackClient(t)

	packets := make(chan Packet, 4)
	var done atomic.Int32
	finished := make(chan struct{})
	c.DiscoverHosts(udpPort, "", 0, 500*time.Millisecond, func(p Packet) {
		packets <- p
	}, func() {
		if done.Add(1) == 1 {
			close(finished)
		}
	})

	select {
	case p := <-packets:
		if string(p.Data) != "lanlink" {
			t.Errorf("reply = %q, want %q", p.Data, "lanlink")
		}
		if got := p.HostAddr(tcpPort); got != net.JoinHostPort("127.0.0.1", strconv.Itoa(tcpPort)) {
			t.Errorf("HostAddr() = %q", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no discovery reply")
	}

	select {
	case <-finished:
	case <-time.After(3 * time.Second):
		t.Fatal("onDone was not called")
	}
	time.Sleep(100 * time.Millisecond)
	if n := done.Load(); n != 1 {
		t.Errorf("onDone called %d times, want 1", n)
	}
}

func TestDiscoverHost_NoServer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}
	t.Parallel()

	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket() error = %v", err)
	}
	port := pc.LocalAddr().(*net.UDPAddr).Port
	pc.Close()

	c := loopbackClient(t)
	if p := c.DiscoverHost(port, 300*time.Millisecond); p != nil {
		t.Errorf("DiscoverHost() = %v, want nil", p)
	}
}

func TestDiscoveryHandler_ConnectedPeersAreNotProbes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}
	t.Parallel()

	s, tcpPort, udpPort := newLoopbackServer(t)
	var probes atomic.Int32
	s.SetDiscoveryHandler(func(net.Addr, func([]byte) error) error {
		probes.Add(1)
		return nil
	})

	c := loopbackClient(t)
	c.Start()
	if err := c.Connect(3*time.Second, "127.0.0.1", tcpPort, udpPort); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// a connected peer's DiscoverHost is framework traffic, not a probe
	if _, err := c.SendUDP(msg.DiscoverHost{}); err != nil {
		t.Fatalf("SendUDP() error = %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if n := probes.Load(); n != 0 {
		t.Errorf("discovery handler called %d times for a connected peer", n)
	}
}

func TestLoopback_TCPAndUDP(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}
	t.Parallel()

	s, tcpPort, udpPort := newLoopbackServer(t)
	s.AddListener(&Funcs{OnReceived: func(c *Connection, v any) {
		if m, ok := v.(msg.Chat); ok {
			c.SendTCP(m)
			c.SendUDP(m)
		}
	}})

	c := loopbackClient(t)
	got := make(chan any, 4)
	c.AddListener(&Funcs{OnReceived: func(_ *Connection, v any) { got <- v }})
	c.Start()

	if err := c.Connect(3*time.Second, "127.0.0.1", tcpPort, udpPort); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if _, err := c.SendTCP(msg.Chat{From: "me", Text: "hello"}); err != nil {
		t.Fatalf("SendTCP() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case v := <-got:
			if v != (msg.Chat{From: "me", Text: "hello"}) {
				t.Errorf("received %v", v)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("received %d of 2 echoes", i)
		}
	}
}

func TestDiscoverHosts_NothingToProbe(t *testing.T) {
	t.Parallel()

	c, err := NewClient(config.DefaultClient(), nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer c.Dispose()

	done := make(chan struct{})
	c.DiscoverHosts(0, "", 0, time.Minute, func(Packet) {
		t.Error("unexpected packet")
	}, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onDone not called without udp port or group")
	}
}
