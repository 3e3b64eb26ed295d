// Package connect implements the connect command, which joins a chat server
// and exchanges typed lines with the other participants.
package connect

import (
	"context"
	"fmt"
	"strings"

	"dominicbreuker/lanlink/cmd/shared"
	"dominicbreuker/lanlink/pkg/config"
	"dominicbreuker/lanlink/pkg/entrypoint"

	"github.com/urfave/cli/v3"
)

// GetCommand returns the CLI command for connect mode.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:        "connect",
		Usage:       "Join a chat server",
		Description: shared.GetBaseDescription(),
		ArgsUsage:   shared.GetArgsUsage(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args()
			if args.Len() != 1 {
				return fmt.Errorf("must provide exactly one argument, got %d (%s)", args.Len(), strings.Join(args.Slice(), ", "))
			}

			proto, host, port, err := shared.ParseTransport(args.Get(0))
			if err != nil {
				return fmt.Errorf("parsing transport: %s", err)
			}
			if host == "" {
				return fmt.Errorf("parsing transport: connect needs a host")
			}

			cfg := config.DefaultClient()
			cfg.Protocol = proto
			if err := shared.ApplyCommon(cmd, cfg); err != nil {
				return err
			}

			udpPort, err := shared.UDPPort(cmd)
			if err != nil {
				return err
			}

			return entrypoint.Connect(ctx, cfg, entrypoint.ConnectOptions{
				Host:    host,
				TCPPort: port,
				UDPPort: udpPort,
				Name:    cmd.String(shared.NameFlag),
				Timeout: cfg.Timeout,
			})
		},
		Flags: getFlags(),
	}
}

func getFlags() []cli.Flag {
	flags := []cli.Flag{}

	flags = append(flags, shared.GetCommonFlags()...)
	flags = append(flags, shared.GetConnectFlags()...)

	return flags
}
