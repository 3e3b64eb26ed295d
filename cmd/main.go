package main

import (
	"context"
	"os"

	"dominicbreuker/lanlink/cmd/connect"
	"dominicbreuker/lanlink/cmd/discover"
	"dominicbreuker/lanlink/cmd/serve"
	"dominicbreuker/lanlink/cmd/shared"
	"dominicbreuker/lanlink/cmd/version"
	"dominicbreuker/lanlink/pkg/log"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	shared.SetupSignalHandling(cancel)

	if err := newCommand().Run(ctx, os.Args); err != nil {
		log.ErrorMsg("%s\n", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "lanlink",
		Usage: "LAN chat over framed TCP and UDP connections",
		Commands: []*cli.Command{
			serve.GetCommand(),
			connect.GetCommand(),
			discover.GetCommand(),
			version.GetCommand(),
		},
	}
}
