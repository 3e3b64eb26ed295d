package udp

import (
	"context"
	"net"
	"testing"
)

func TestListen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{
			name:    "valid address with port 0",
			addr:    "127.0.0.1:0",
			wantErr: false,
		},
		{
			name:    "invalid address",
			addr:    "not-a-valid-address",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			pc, err := Listen(tc.addr, nil)
			if (err != nil) != tc.wantErr {
				t.Errorf("Listen(%q) error = %v, wantErr %v", tc.addr, err, tc.wantErr)
			}
			if pc != nil {
				pc.Close()
			}
		})
	}
}

func TestDial(t *testing.T) {
	t.Parallel()

	if _, _, err := Dial("not-a-valid-address", nil); err == nil {
		t.Error("Dial() expected error for invalid address")
	}

	pc, remote, err := Dial("127.0.0.1:9", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer pc.Close()

	if remote.String() != "127.0.0.1:9" {
		t.Errorf("remote = %v, want 127.0.0.1:9", remote)
	}
	if _, ok := pc.(net.Conn); !ok {
		t.Error("connected socket does not implement net.Conn")
	}
}

func TestListenMulticast_InvalidGroup(t *testing.T) {
	t.Parallel()

	if _, err := ListenMulticast(context.Background(), "not-an-ip", 21010); err == nil {
		t.Error("ListenMulticast() expected error for invalid group")
	}
}

func TestListenProbe(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	p, err := ListenProbe(context.Background(), 2)
	if err != nil {
		t.Fatalf("ListenProbe() error = %v", err)
	}
	defer p.Close()

	if ttl, err := p.MulticastTTL(); err == nil && ttl != 2 {
		t.Errorf("MulticastTTL() = %d, want 2", ttl)
	}
}
