// Package discover implements the discover command, which lists the chat
// servers answering on the local network.
package discover

import (
	"context"
	"fmt"

	"dominicbreuker/lanlink/cmd/shared"
	"dominicbreuker/lanlink/pkg/config"
	"dominicbreuker/lanlink/pkg/entrypoint"
	"dominicbreuker/lanlink/pkg/log"

	"github.com/urfave/cli/v3"
)

// GetCommand returns the CLI command for discovery.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:  "discover",
		Usage: "Find chat servers on the local network",
		Description: "Broadcasts a probe to the UDP port given with --udp, and to the multicast\n" +
			"group if one is given, then lists every server that answered before the timeout.",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 0 {
				return fmt.Errorf("discover takes no arguments")
			}

			cfg := config.DefaultClient()
			if err := shared.ApplyCommon(cmd, cfg); err != nil {
				return err
			}

			udpPort, err := shared.UDPPort(cmd)
			if err != nil {
				return err
			}
			if udpPort == 0 && cfg.Discovery.MulticastGroup == "" {
				return fmt.Errorf("--%s or --%s is required", shared.UDPFlag, shared.MulticastFlag)
			}

			hosts, err := entrypoint.Discover(ctx, cfg, entrypoint.DiscoverOptions{
				UDPPort: udpPort,
				Timeout: cfg.Timeout,
			})
			if err != nil {
				return fmt.Errorf("discovering: %w", err)
			}

			if len(hosts) == 0 {
				log.InfoMsg("No servers found\n")
				return nil
			}
			for _, h := range hosts {
				fmt.Println(h)
			}
			return nil
		},
		Flags: shared.GetCommonFlags(),
	}
}
