package main

import (
	"context"
	"testing"
)

func TestNewCommand(t *testing.T) {
	t.Parallel()

	cmd := newCommand()

	want := map[string]bool{"serve": false, "connect": false, "discover": false, "version": false}
	for _, sub := range cmd.Commands {
		if _, ok := want[sub.Name]; ok {
			want[sub.Name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing expected subcommand: %q", name)
		}
	}
}

func TestNewCommand_RejectsBadArguments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
	}{
		{"serve without transport", []string{"lanlink", "serve"}},
		{"serve bad protocol", []string{"lanlink", "serve", "udp://:54555"}},
		{"serve bad udp port", []string{"lanlink", "serve", "--udp", "70000", "tcp://:54555"}},
		{"connect without host", []string{"lanlink", "connect", "tcp://:54555"}},
		{"connect bad multicast", []string{"lanlink", "connect", "--multicast", "1.2.3.4:5", "tcp://127.0.0.1:54555"}},
		{"discover without target", []string{"lanlink", "discover"}},
		{"discover with argument", []string{"lanlink", "discover", "--udp", "54777", "extra"}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if err := newCommand().Run(context.Background(), tc.args); err == nil {
				t.Errorf("Run(%v) succeeded, want error", tc.args)
			}
		})
	}
}
