// Package serve implements the serve command, which runs a chat relay that
// LAN clients can discover and join.
package serve

import (
	"context"
	"fmt"
	"strings"

	"dominicbreuker/lanlink/cmd/shared"
	"dominicbreuker/lanlink/pkg/config"
	"dominicbreuker/lanlink/pkg/entrypoint"

	"github.com/urfave/cli/v3"
)

// GetCommand returns the CLI command for serve mode.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:        "serve",
		Usage:       "Run a chat server",
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

			cfg := config.Default()
			cfg.Protocol = proto
			cfg.MaxConnections = int(cmd.Int(shared.MaxConnectionsFlag))
			if err := shared.ApplyCommon(cmd, cfg); err != nil {
				return err
			}

			udpPort, err := shared.UDPPort(cmd)
			if err != nil {
				return err
			}

			return entrypoint.Serve(ctx, cfg, entrypoint.ServeOptions{
				Host:    host,
				TCPPort: port,
				UDPPort: udpPort,
				Name:    cmd.String(shared.NameFlag),
			})
		},
		Flags: getFlags(),
	}
}

func getFlags() []cli.Flag {
	flags := []cli.Flag{}

	flags = append(flags, shared.GetCommonFlags()...)
	flags = append(flags, shared.GetServeFlags()...)

	return flags
}
