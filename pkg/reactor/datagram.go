package reactor

import (
	"errors"
	"io"
	"net"
	"sync"
	"syscall"
)

const (
	maxDatagram   = 64 * 1024
	datagramQueue = 64
)

type packet struct {
	data []byte
	addr net.Addr
}

// Datagram adapts a net.PacketConn to non-blocking receives.
//
// In connected mode (remote != nil) the operating system filters traffic to
// the one peer, writes go through Write and every packet is reported as
// coming from remote.
type Datagram struct {
	conn   net.PacketConn
	remote net.Addr
	key    *Key

	in  chan packet
	err errBox

	done      chan struct{}
	closeOnce sync.Once
}

// NewDatagram registers conn with sel for OpRead and starts its receive pump.
func NewDatagram(sel *Selector, conn net.PacketConn, remote net.Addr, handler Handler) *Datagram {
	d := &Datagram{
		conn:   conn,
		remote: remote,
		in:     make(chan packet, datagramQueue),
		done:   make(chan struct{}),
	}
	d.key = sel.Register(handler, OpRead)

	go d.readPump()

	return d
}

// Key returns the datagram socket's selector registration.
func (d *Datagram) Key() *Key { return d.key }

// LocalAddr returns the local address of the socket.
func (d *Datagram) LocalAddr() net.Addr { return d.conn.LocalAddr() }

// Remote returns the fixed peer in connected mode, nil otherwise.
func (d *Datagram) Remote() net.Addr { return d.remote }

// ReadFrom copies the next queued datagram into p without blocking. It returns
// a nil address when nothing is queued. A datagram larger than p is truncated
// and reported with io.ErrShortBuffer.
func (d *Datagram) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case pkt := <-d.in:
		if len(d.in) > 0 {
			d.key.signal(OpRead)
		}
		addr := pkt.addr
		if d.remote != nil {
			addr = d.remote
		}
		n := copy(p, pkt.data)
		if n < len(pkt.data) {
			return n, addr, io.ErrShortBuffer
		}
		return n, addr, nil
	default:
	}

	if err := d.err.get(); err != nil && len(d.in) == 0 {
		return 0, nil, err
	}
	return 0, nil, nil
}

// WriteTo sends one datagram. In connected mode addr is ignored.
func (d *Datagram) WriteTo(p []byte, addr net.Addr) (int, error) {
	if d.remote != nil {
		if c, ok := d.conn.(net.Conn); ok {
			return c.Write(p)
		}
		addr = d.remote
	}
	return d.conn.WriteTo(p, addr)
}

// Close closes the socket and cancels the key. It is idempotent.
func (d *Datagram) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.done)
		d.key.Cancel()
		err = d.conn.Close()
	})
	return err
}

func (d *Datagram) readPump() {
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := d.conn.ReadFrom(buf)
		if err != nil {
			// ICMP port unreachable surfaces on connected sockets; the
			// socket itself is still usable.
			if errors.Is(err, syscall.ECONNREFUSED) {
				continue
			}
			d.err.set(err)
			d.key.signal(OpRead)
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case d.in <- packet{data: data, addr: addr}:
			d.key.signal(OpRead)
		case <-d.done:
			return
		}
	}
}
