// Package version provides the version command.
package version

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

// Version is set at build time via ldflags.
var Version = "unknown"

// GetCommand returns the CLI command printing the lanlink version.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print the lanlink version",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			w := cmd.Root().Writer
			if w == nil {
				w = os.Stdout
			}
			_, err := fmt.Fprintf(w, "lanlink %s\n", Version)
			return err
		},
	}
}
