package transport

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestIsProtocolError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", io.EOF, false},
		{"closed", ErrClosed, false},
		{"protocol", NewProtocolError("read", io.ErrUnexpectedEOF), true},
		{"wrapped", fmt.Errorf("channel: %w", NewProtocolError("send", errors.New("too big"))), true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := IsProtocolError(tc.err); got != tc.want {
				t.Errorf("IsProtocolError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestProtocolError_Unwrap(t *testing.T) {
	t.Parallel()

	err := NewProtocolError("read", io.ErrUnexpectedEOF)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("errors.Is did not see the wrapped error")
	}
	if err.Error() != "protocol error: read: unexpected EOF" {
		t.Errorf("Error() = %q", err.Error())
	}
}
