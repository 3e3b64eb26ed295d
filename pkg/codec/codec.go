// Package codec converts objects to and from the bytes carried by a frame.
//
// A Serializer is pluggable. It decides how a value is encoded and how the
// length prefix of a reliable-channel frame looks on the wire. Gob is the
// default and uses a 2-byte unsigned big-endian prefix.
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
)

// MaxFrameLength is the largest payload a 2-byte length prefix can describe.
const MaxFrameLength = 1<<16 - 1

// ErrNil is returned when asked to encode a nil value.
var ErrNil = errors.New("cannot encode nil")

// Serializer encodes and decodes frame payloads and their length prefix.
type Serializer interface {
	// Write appends the encoding of v to w.
	Write(w *bytes.Buffer, v any) error
	// Read decodes one value from r.
	Read(r *bytes.Reader) (any, error)
	// LengthLength is the width of the length prefix in bytes.
	LengthLength() int
	// WriteLength stores n in b[:LengthLength()].
	WriteLength(b []byte, n int)
	// ReadLength loads the length stored in b[:LengthLength()].
	ReadLength(b []byte) int
}

// Gob is the default Serializer. Every value is encoded with a fresh
// encoder so each frame carries its own type information and frames can
// be decoded in isolation, which datagrams require.
type Gob struct{}

// Write implements Serializer.
func (Gob) Write(w *bytes.Buffer, v any) error {
	if v == nil {
		return ErrNil
	}
	if err := gob.NewEncoder(w).Encode(&v); err != nil {
		return fmt.Errorf("gob.Encode(%T): %w", v, err)
	}
	return nil
}

// Read implements Serializer.
func (Gob) Read(r *bytes.Reader) (any, error) {
	var v any
	if err := gob.NewDecoder(r).Decode(&v); err != nil {
		return nil, fmt.Errorf("gob.Decode(): %w", err)
	}
	if v == nil {
		return nil, ErrNil
	}
	return v, nil
}

// LengthLength implements Serializer.
func (Gob) LengthLength() int { return 2 }

// WriteLength implements Serializer.
func (Gob) WriteLength(b []byte, n int) {
	binary.BigEndian.PutUint16(b, uint16(n))
}

// ReadLength implements Serializer.
func (Gob) ReadLength(b []byte) int {
	return int(binary.BigEndian.Uint16(b))
}

// Register makes a concrete type known to the gob serializer. Values are
// sent as interfaces, so every application type must be registered on both
// sides before it is sent.
func Register(v any) {
	gob.Register(v)
}

// MaxLength returns the largest length s can put in a prefix.
func MaxLength(s Serializer) int {
	width := s.LengthLength()
	if width >= 4 {
		return 1<<31 - 1
	}
	return 1<<(8*width) - 1
}
