package ws

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func TestListen(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}
	t.Parallel()

	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{
			name:    "valid address",
			addr:    "127.0.0.1:0",
			wantErr: false,
		},
		{
			name:    "invalid address",
			addr:    "invalid:abc",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			l, err := Listen(tc.addr, nil)
			if (err != nil) != tc.wantErr {
				t.Errorf("Listen() error = %v, wantErr %v", err, tc.wantErr)
			}
			if l != nil {
				l.Close()
			}
		})
	}
}

func TestListener_AcceptDialRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	l, err := Listen("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer l.Close()

	echoed := make(chan error, 1)
	go func() {
		c, err := l.Accept()
		if err != nil {
			echoed <- err
			return
		}
		defer c.Close()
		buf := make([]byte, 4)
		if _, err := io.ReadFull(c, buf); err != nil {
			echoed <- err
			return
		}
		_, err = c.Write(buf)
		echoed <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, l.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	// cancelling the dial context must not kill the established stream
	cancel()

	if _, err := c.Write([]byte("ping")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(c, buf); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}
	if string(buf) != "ping" {
		t.Errorf("echo = %q, want %q", buf, "ping")
	}
	if err := <-echoed; err != nil {
		t.Errorf("listener side error = %v", err)
	}
}

func TestListener_Close(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	l, err := Listen("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := l.Accept()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	l.Close()

	select {
	case err := <-done:
		if !errors.Is(err, net.ErrClosed) {
			t.Errorf("Accept() after Close() error = %v, want net.ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Accept() did not return after Close()")
	}
}
