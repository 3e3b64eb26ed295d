package entrypoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dominicbreuker/lanlink/pkg/codec"
	"dominicbreuker/lanlink/pkg/config"
	"dominicbreuker/lanlink/pkg/endpoint"
)

// DiscoverOptions configures a discovery run. The multicast group is taken
// from the config.
type DiscoverOptions struct {
	UDPPort int
	Timeout time.Duration
}

// Discover probes the local network and returns the servers that answered,
// one entry per server.
func Discover(ctx context.Context, cfg *config.Config, opts DiscoverOptions) ([]Host, error) {
	c, err := endpoint.NewClient(cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}
	defer c.Dispose()

	var mu sync.Mutex
	seen := make(map[string]bool)
	var hosts []Host

	done := make(chan struct{})
	c.DiscoverHosts(opts.UDPPort, cfg.Discovery.MulticastGroup, cfg.Discovery.MulticastPort, opts.Timeout,
		func(p endpoint.Packet) {
			h := decodeHost(codec.Gob{}, p)
			mu.Lock()
			defer mu.Unlock()
			if !seen[h.key()] {
				seen[h.key()] = true
				hosts = append(hosts, h)
			}
		},
		func() { close(done) },
	)

	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	return append([]Host(nil), hosts...), nil
}
