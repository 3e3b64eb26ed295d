package ws

import (
	"context"
	"testing"
	"time"
)

func TestDial_Failure(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := Dial(ctx, "127.0.0.1:1"); err == nil {
		t.Error("Dial() expected error for non-existent server")
	}
}
