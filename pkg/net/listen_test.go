package net

import (
	"errors"
	"net"
	"testing"

	mocks_tcp "dominicbreuker/lanlink/mocks/tcp"
	"dominicbreuker/lanlink/pkg/config"
)

func TestListen_SelectsTransport(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		protocol config.Protocol
		want     string
	}{
		{"TCP", config.ProtoTCP, "tcp"},
		{"WebSocket", config.ProtoWS, "ws"},
		{"KCP", config.ProtoKCP, "kcp"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var used string
			record := func(name string) func(string, *config.Dependencies) (net.Listener, error) {
				return func(addr string, deps *config.Dependencies) (net.Listener, error) {
					used = name
					return nil, errors.New("not listening")
				}
			}
			deps := &listenDependencies{
				listenTCP: record("tcp"),
				listenWS:  record("ws"),
				listenKCP: record("kcp"),
			}

			cfg := config.Default()
			cfg.Protocol = tc.protocol

			if _, err := listen(cfg, ":54555", deps); err == nil {
				t.Error("listen() error = nil, want the transport error")
			}
			if used != tc.want {
				t.Errorf("listen() used %q, want %q", used, tc.want)
			}
		})
	}
}

func TestListen_MockTCP(t *testing.T) {
	t.Parallel()

	mockNet := mocks_tcp.NewMockTCPNetwork()
	cfg := config.Default()
	cfg.Deps = &config.Dependencies{TCPListener: mockNet.ListenTCP}

	l, err := Listen(cfg, "127.0.0.1:54555")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer l.Close()

	if _, err := mockNet.WaitForListener("127.0.0.1:54555", 1000); err != nil {
		t.Errorf("listener not registered with the mock network: %v", err)
	}
}
