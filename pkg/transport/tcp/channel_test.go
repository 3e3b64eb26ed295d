package tcp

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"testing"
	"time"

	"dominicbreuker/lanlink/pkg/codec"
	"dominicbreuker/lanlink/pkg/reactor"
	"dominicbreuker/lanlink/pkg/transport"
)

// drive runs the selector until cond holds or the deadline passes.
func drive(t *testing.T, sel *reactor.Selector, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		events, err := sel.Select(20 * time.Millisecond)
		if err != nil {
			t.Fatalf("Select() error = %v", err)
		}
		for _, ev := range events {
			ev.Dispatch()
		}
	}
}

// reader attaches conn to a new channel whose handler collects objects.
type reader struct {
	ch   *Channel
	objs []any
	err  error
}

func newReader(sel *reactor.Selector, conn net.Conn, objectBufferSize int) *reader {
	r := &reader{ch: NewChannel(codec.Gob{}, 4*objectBufferSize, objectBufferSize)}
	r.ch.Accept(sel, conn, func(ev reactor.Event) error {
		if ev.Writable() {
			if err := r.ch.WriteOperation(); err != nil {
				r.err = err
				return err
			}
		}
		for r.err == nil {
			v, err := r.ch.ReadObject()
			if err != nil {
				r.err = err
				return err
			}
			if v == nil {
				return nil
			}
			r.objs = append(r.objs, v)
		}
		return nil
	})
	return r
}

func frame(t *testing.T, v any) []byte {
	t.Helper()
	var s codec.Gob
	var payload bytes.Buffer
	if err := s.Write(&payload, v); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	out := make([]byte, 2+payload.Len())
	s.WriteLength(out, payload.Len())
	copy(out[2:], payload.Bytes())
	return out
}

func TestChannel_PartialFrames(t *testing.T) {
	t.Parallel()

	sizes := []int{1, 10, 100, 1000, 1900}
	for _, size := range sizes {
		size := size
		t.Run(fmt.Sprintf("size %d", size), func(t *testing.T) {
			t.Parallel()

			a, b := net.Pipe()
			defer b.Close()

			sel := reactor.NewSelector()
			defer sel.Close()

			r := newReader(sel, a, 2048)
			defer r.ch.Close()

			payload := bytes.Repeat([]byte{byte(size)}, size)
			raw := append(frame(t, payload), frame(t, "second")...)

			rng := rand.New(rand.NewSource(int64(size)))
			go func() {
				for len(raw) > 0 {
					n := 1 + rng.Intn(len(raw))
					b.Write(raw[:n])
					raw = raw[n:]
				}
			}()

			drive(t, sel, func() bool { return len(r.objs) == 2 || r.err != nil })

			if r.err != nil {
				t.Fatalf("ReadObject() error = %v", r.err)
			}
			if got, ok := r.objs[0].([]byte); !ok || !bytes.Equal(got, payload) {
				t.Errorf("first object = %T of len %d, want %d payload bytes", r.objs[0], len(got), size)
			}
			if r.objs[1] != "second" {
				t.Errorf("second object = %#v, want %q", r.objs[1], "second")
			}
		})
	}
}

func TestChannel_InvalidLength(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prefix []byte
	}{
		{"zero length", []byte{0x00, 0x00}},
		{"larger than read buffer", []byte{0x00, 0x81}}, // 129 > 128
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			a, b := net.Pipe()
			defer b.Close()

			sel := reactor.NewSelector()
			defer sel.Close()

			r := newReader(sel, a, 128)
			defer r.ch.Close()

			go b.Write(tc.prefix)

			drive(t, sel, func() bool { return r.err != nil })

			if !transport.IsProtocolError(r.err) {
				t.Errorf("ReadObject() error = %v, want a protocol error", r.err)
			}
		})
	}
}

func TestChannel_TrailingBytesInFrame(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()
	defer b.Close()

	sel := reactor.NewSelector()
	defer sel.Close()

	r := newReader(sel, a, 2048)
	defer r.ch.Close()

	// a valid encoding followed by garbage inside the declared length
	raw := frame(t, "hello")
	n := int(raw[0])<<8 | int(raw[1])
	raw = append(raw, 0xde, 0xad)
	raw[0], raw[1] = byte((n+2)>>8), byte(n+2)

	go b.Write(raw)

	drive(t, sel, func() bool { return r.err != nil })

	if !transport.IsProtocolError(r.err) {
		t.Errorf("ReadObject() error = %v, want a protocol error", r.err)
	}
}

func TestChannel_PeerClosed(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()

	sel := reactor.NewSelector()
	defer sel.Close()

	r := newReader(sel, a, 256)
	defer r.ch.Close()

	raw := frame(t, "last words")
	go func() {
		b.Write(raw)
		b.Close()
	}()

	drive(t, sel, func() bool { return r.err != nil })

	if len(r.objs) != 1 || r.objs[0] != "last words" {
		t.Errorf("objects before close = %v, want [last words]", r.objs)
	}
	if transport.IsProtocolError(r.err) {
		t.Errorf("peer close reported as protocol error: %v", r.err)
	}
}

func TestChannel_SendReceive(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()

	sel := reactor.NewSelector()
	defer sel.Close()

	sender := newReader(sel, a, 2048)
	defer sender.ch.Close()
	receiver := newReader(sel, b, 2048)
	defer receiver.ch.Close()

	want := []any{"one", 2, []byte("three")}
	for _, v := range want {
		n, err := sender.ch.Send(v)
		if err != nil {
			t.Fatalf("Send(%v) error = %v", v, err)
		}
		if n <= 2 {
			t.Errorf("Send(%v) = %d bytes, want more than the prefix", v, n)
		}
	}

	drive(t, sel, func() bool { return len(receiver.objs) == len(want) || receiver.err != nil })

	if receiver.err != nil {
		t.Fatalf("receiver error = %v", receiver.err)
	}
	if receiver.objs[0] != "one" || receiver.objs[1] != 2 || !bytes.Equal(receiver.objs[2].([]byte), []byte("three")) {
		t.Errorf("received %#v, want %#v", receiver.objs, want)
	}
	if sender.ch.WriteBufferLoad() != 0 {
		t.Errorf("WriteBufferLoad() = %v after flush, want 0", sender.ch.WriteBufferLoad())
	}
}

func TestChannel_SendLimits(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()
	defer b.Close() // never read, so the first frame stays in flight

	sel := reactor.NewSelector()
	defer sel.Close()

	ch := NewChannel(codec.Gob{}, 256, 256)
	ch.Accept(sel, a, nil)
	defer ch.Close()

	if _, err := ch.Send(make([]byte, 300)); !transport.IsProtocolError(err) || !errors.Is(err, errFrameTooLarge) {
		t.Errorf("Send(oversized) error = %v, want frame too large", err)
	}

	payload := make([]byte, 150)
	if _, err := ch.Send(payload); err != nil {
		t.Fatalf("first Send() error = %v", err)
	}
	if _, err := ch.Send(payload); err != nil {
		t.Fatalf("second Send() error = %v", err)
	}
	if ch.WriteBufferLoad() <= 0 {
		t.Error("second frame not queued while the first is in flight")
	}
	if ch.Key().Interest()&reactor.OpWrite == 0 {
		t.Error("write readiness not armed for queued output")
	}

	if _, err := ch.Send(payload); !transport.IsProtocolError(err) || !errors.Is(err, errWriteOverflow) {
		t.Errorf("third Send() error = %v, want write buffer overflow", err)
	}
}

func TestChannel_Liveness(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()
	defer b.Close()

	sel := reactor.NewSelector()
	defer sel.Close()

	ch := NewChannel(codec.Gob{}, 1024, 512)
	now := time.Now()
	if ch.IsTimedOut(now.Add(time.Hour)) || ch.NeedsKeepAlive(now.Add(time.Hour)) {
		t.Error("unattached channel reports liveness conditions")
	}

	ch.Accept(sel, a, nil)
	defer ch.Close()

	now = time.Now()
	if ch.IsTimedOut(now) || ch.NeedsKeepAlive(now) {
		t.Error("fresh channel reports liveness conditions")
	}
	if !ch.NeedsKeepAlive(now.Add(DefaultKeepAlive + time.Second)) {
		t.Error("NeedsKeepAlive() = false after the keep-alive interval")
	}
	if !ch.IsTimedOut(now.Add(DefaultTimeout + time.Second)) {
		t.Error("IsTimedOut() = false after the timeout")
	}

	ch.Timeout, ch.KeepAlive = 0, 0
	if ch.IsTimedOut(now.Add(time.Hour)) || ch.NeedsKeepAlive(now.Add(time.Hour)) {
		t.Error("zero intervals did not disable liveness checks")
	}
}

func TestChannel_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()
	defer b.Close()

	sel := reactor.NewSelector()
	defer sel.Close()

	ch := NewChannel(codec.Gob{}, 1024, 512)
	ch.Accept(sel, a, nil)

	if err := ch.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if ch.IsConnected() || ch.RemoteAddr() != nil {
		t.Error("channel still connected after Close()")
	}
	if _, err := ch.Send("x"); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Send() after Close() error = %v, want ErrClosed", err)
	}
	if _, err := ch.ReadObject(); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("ReadObject() after Close() error = %v, want ErrClosed", err)
	}
}
