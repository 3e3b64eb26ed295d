package kcp

import (
	"context"
	"io"
	"testing"
	"time"
)

func TestListen_InvalidAddress(t *testing.T) {
	t.Parallel()

	if _, err := Listen("not-a-valid-address", nil); err == nil {
		t.Error("Listen() expected error for invalid address")
	}
	if _, err := Dial(context.Background(), "not-a-valid-address", nil); err == nil {
		t.Error("Dial() expected error for invalid address")
	}
}

func TestDial_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Dial(ctx, "127.0.0.1:9", nil); err == nil {
		t.Error("Dial() with cancelled context expected error")
	}
}

func TestDialListen_RoundTrip(t *testing.T) {
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
		buf := make([]byte, 5)
		if _, err := io.ReadFull(c, buf); err != nil {
			echoed <- err
			return
		}
		_, err = c.Write(buf)
		echoed <- err
	}()

	c, err := Dial(context.Background(), l.Addr().String(), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	if _, err := c.Write([]byte("hello")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 5)
	if _, err := io.ReadFull(c, buf); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}
	if string(buf) != "hello" {
		t.Errorf("echo = %q, want %q", buf, "hello")
	}
	if err := <-echoed; err != nil {
		t.Errorf("listener side error = %v", err)
	}
}
