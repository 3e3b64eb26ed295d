package shared

import (
	"context"
	"strings"
	"testing"
	"time"

	"dominicbreuker/lanlink/pkg/config"

	"github.com/urfave/cli/v3"
)

func TestGetBaseDescription(t *testing.T) {
	t.Parallel()

	desc := GetBaseDescription()
	for _, proto := range []string{"tcp", "ws", "kcp"} {
		if !strings.Contains(desc, proto) {
			t.Errorf("description should mention %s protocol", proto)
		}
	}
}

func flagNames(flags []cli.Flag) map[string]bool {
	names := make(map[string]bool)
	for _, flag := range flags {
		if n := flag.Names(); len(n) > 0 {
			names[n[0]] = true
		}
	}
	return names
}

func TestFlagSets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		flags []cli.Flag
		want  []string
	}{
		{"common", GetCommonFlags(), []string{VerboseFlag, TimeoutFlag, UDPFlag, MulticastFlag, TrafficLogFlag}},
		{"serve", GetServeFlags(), []string{NameFlag, MaxConnectionsFlag}},
		{"connect", GetConnectFlags(), []string{NameFlag}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := flagNames(tc.flags)
			for _, name := range tc.want {
				if !got[name] {
					t.Errorf("expected flag %q not found", name)
				}
			}
		})
	}
}

// runWith parses args against the common flags and applies them to cfg.
func runWith(t *testing.T, cfg *config.Config, args ...string) error {
	t.Helper()

	cmd := &cli.Command{
		Name:  "test",
		Flags: GetCommonFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return ApplyCommon(cmd, cfg)
		},
	}
	return cmd.Run(context.Background(), append([]string{"test"}, args...))
}

func TestApplyCommon(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	err := runWith(t, cfg, "--verbose", "--timeout", "1500", "--multicast", "239.255.0.1:21011", "--traffic-log", "/tmp/dump.log")
	if err != nil {
		t.Fatalf("ApplyCommon() error = %v", err)
	}

	if !cfg.Verbose || cfg.Logger == nil || !cfg.Logger.Verbose() {
		t.Error("verbose flag not applied")
	}
	if cfg.Timeout != 1500*time.Millisecond {
		t.Errorf("Timeout = %v, want 1.5s", cfg.Timeout)
	}
	if cfg.Discovery.MulticastGroup != "239.255.0.1" || cfg.Discovery.MulticastPort != 21011 {
		t.Errorf("Discovery = %+v, want 239.255.0.1:21011", cfg.Discovery)
	}
	if cfg.TrafficLog != "/tmp/dump.log" {
		t.Errorf("TrafficLog = %q", cfg.TrafficLog)
	}
}

func TestApplyCommon_Defaults(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	if err := runWith(t, cfg); err != nil {
		t.Fatalf("ApplyCommon() error = %v", err)
	}
	if cfg.Timeout != config.DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", cfg.Timeout, config.DefaultTimeout)
	}
	if cfg.Discovery.MulticastGroup != "" {
		t.Errorf("MulticastGroup = %q, want none", cfg.Discovery.MulticastGroup)
	}
}

func TestApplyCommon_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
	}{
		{"bad multicast", []string{"--multicast", "10.0.0.1:21010"}},
		{"negative timeout", []string{"--timeout=-5"}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if err := runWith(t, config.Default(), tc.args...); err == nil {
				t.Errorf("ApplyCommon(%v) succeeded, want error", tc.args)
			}
		})
	}
}
