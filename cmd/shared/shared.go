// Package shared provides common CLI flag definitions and utility functions
// used across lanlink's command-line interface.
package shared

import (
	"fmt"
	"strings"
	"time"

	"dominicbreuker/lanlink/pkg/config"
	"dominicbreuker/lanlink/pkg/log"

	"github.com/urfave/cli/v3"
)

const categoryCommon = "common"

// VerboseFlag is the name of the flag to enable verbose logging.
const VerboseFlag = "verbose"

// TimeoutFlag is the name of the flag to specify the connection timeout in milliseconds.
const TimeoutFlag = "timeout"

// TrafficLogFlag is the name of the flag to specify a traffic dump file.
const TrafficLogFlag = "traffic-log"

// UDPFlag is the name of the flag to specify the UDP port.
const UDPFlag = "udp"

// MulticastFlag is the name of the flag to specify the discovery multicast group.
const MulticastFlag = "multicast"

// GetBaseDescription returns the base description text for transport
// specifications used in CLI commands.
func GetBaseDescription() string {
	return strings.Join([]string{
		"Specify transport like this: tcp://127.0.0.1:54555 (supports tcp|ws|kcp)",
		"You can omit the host when serving to bind to all interfaces.",
	}, "\n")
}

// GetArgsUsage returns the arguments usage string for CLI commands.
func GetArgsUsage() string {
	return "transport"
}

// GetCommonFlags returns the flags shared by all network commands.
func GetCommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:     VerboseFlag,
			Aliases:  []string{"v"},
			Usage:    "Verbose logging",
			Category: categoryCommon,
			Value:    false,
		},
		&cli.IntFlag{
			Name:     TimeoutFlag,
			Aliases:  []string{"t"},
			Usage:    "Timeout in milliseconds (connection liveness, connect handshake, discovery wait)",
			Category: categoryCommon,
			Value:    12000, // config.DefaultTimeout
		},
		&cli.IntFlag{
			Name:     UDPFlag,
			Aliases:  []string{"u"},
			Usage:    "UDP port, 0 disables the datagram channel",
			Category: categoryCommon,
			Value:    0,
		},
		&cli.StringFlag{
			Name:     MulticastFlag,
			Aliases:  []string{"m"},
			Usage:    "Discovery multicast group, format: <group>:<port>, e.g. 239.255.0.1:21010",
			Category: categoryCommon,
			Value:    "",
		},
		&cli.StringFlag{
			Name:     TrafficLogFlag,
			Aliases:  []string{"l"},
			Usage:    "Append a hex dump of all TCP traffic to this file",
			Category: categoryCommon,
			Value:    "",
		},
	}
}

const categoryChat = "chat"

// NameFlag is the name of the flag to specify the chat name.
const NameFlag = "name"

// MaxConnectionsFlag is the name of the flag to limit server connections.
const MaxConnectionsFlag = "max-connections"

// GetServeFlags returns the CLI flags specific to the serve command.
func GetServeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     NameFlag,
			Aliases:  []string{"n"},
			Usage:    "Server name announced to discovering clients",
			Category: categoryChat,
			Value:    "lanlink",
		},
		&cli.IntFlag{
			Name:     MaxConnectionsFlag,
			Usage:    "Maximum number of connected clients, 0 means unlimited",
			Category: categoryChat,
			Value:    0,
		},
	}
}

// GetConnectFlags returns the CLI flags specific to the connect command.
func GetConnectFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     NameFlag,
			Aliases:  []string{"n"},
			Usage:    "Name shown to other chat participants",
			Category: categoryChat,
			Value:    "",
		},
	}
}

// Timeout returns the timeout flag as a duration.
func Timeout(cmd *cli.Command) time.Duration {
	return time.Duration(cmd.Int(TimeoutFlag)) * time.Millisecond
}

// UDPPort returns the UDP port flag. Zero means no UDP.
func UDPPort(cmd *cli.Command) (int, error) {
	port := int(cmd.Int(UDPFlag))
	if port == 0 {
		return 0, nil
	}
	if err := config.ValidatePort(port); err != nil {
		return 0, fmt.Errorf("--%s: %w", UDPFlag, err)
	}
	return port, nil
}

// ApplyCommon copies the common flags into cfg and validates the result.
// Validation errors are printed one per line.
func ApplyCommon(cmd *cli.Command, cfg *config.Config) error {
	cfg.Verbose = cmd.Bool(VerboseFlag)
	cfg.Logger = log.NewLogger(cfg.Verbose)
	cfg.Timeout = Timeout(cmd)
	cfg.TrafficLog = cmd.String(TrafficLogFlag)

	if m := cmd.String(MulticastFlag); m != "" {
		group, port, err := ParseMulticast(m)
		if err != nil {
			return fmt.Errorf("parsing multicast group: %w", err)
		}
		cfg.Discovery.MulticastGroup = group
		cfg.Discovery.MulticastPort = port
	}

	if errs := config.Validate(cfg, &cfg.Discovery); len(errs) > 0 {
		log.ErrorMsg("Argument validation errors:\n")
		for _, err := range errs {
			log.ErrorMsg(" - %s\n", err)
		}
		return fmt.Errorf("exiting")
	}
	return nil
}
