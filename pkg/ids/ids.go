// Package ids draws connection ids.
//
// Ids are positive int32 values drawn from crypto/rand and retried while they
// collide with an id in use. The number of draws is bounded so a nearly full
// id space fails instead of spinning.
package ids

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxAttempts bounds the draws of one Next call.
const MaxAttempts = 1024

// ErrExhausted is returned when no free id was found within MaxAttempts draws.
var ErrExhausted = errors.New("no free connection id")

// Next returns a random positive id for which inUse returns false.
func Next(inUse func(id int32) bool) (int32, error) {
	return next(rand.Reader, inUse, MaxAttempts)
}

func next(r io.Reader, inUse func(id int32) bool, attempts int) (int32, error) {
	var b [4]byte
	for i := 0; i < attempts; i++ {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, fmt.Errorf("reading random bytes: %w", err)
		}
		id := int32(binary.BigEndian.Uint32(b[:]) & 0x7fffffff)
		if id == 0 {
			continue
		}
		if !inUse(id) {
			return id, nil
		}
	}
	return 0, ErrExhausted
}
