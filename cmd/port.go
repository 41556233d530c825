package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ramparthq/rampart/config"
	"github.com/ramparthq/rampart/database"
	"github.com/ramparthq/rampart/util"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
)

var ErrMissingPort = errors.New("a port argument is required")
var ErrInvalidPort = errors.New("port must be between 1 and 65535")

var PortCommand = &cli.Command{
	Name:      "port",
	Usage:     "manage firewall port rules",
	UsageText: "port open|close|block [--protocol tcp|udp] PORT",
	Subcommands: []*cli.Command{
		{
			Name:      "open",
			Usage:     "allow inbound traffic on a port",
			UsageText: "port open [--protocol tcp|udp] [--source CIDR] PORT",
			Args:      true,
			Flags: []cli.Flag{
				protocolFlag(),
				&cli.StringFlag{
					Name:    "source",
					Aliases: []string{"s"},
					Usage:   "restrict the rule to a source `CIDR`",
					Action: func(_ *cli.Context, value string) error {
						_, err := util.ParseSubnet(value)
						return err
					},
				},
				ConfigFlag(false),
			},
			Action: portAction("open"),
		},
		{
			Name:      "close",
			Usage:     "remove the rules for a port",
			UsageText: "port close [--protocol tcp|udp] PORT",
			Args:      true,
			Flags: []cli.Flag{
				protocolFlag(),
				ConfigFlag(false),
			},
			Action: portAction("close"),
		},
		{
			Name:      "block",
			Usage:     "drop inbound traffic on a port",
			UsageText: "port block [--protocol tcp|udp] PORT",
			Args:      true,
			Flags: []cli.Flag{
				protocolFlag(),
				ConfigFlag(false),
			},
			Action: portAction("block"),
		},
	},
}

func protocolFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "protocol",
		Aliases: []string{"P"},
		Usage:   "tcp or udp",
		Value:   "tcp",
	}
}

func portAction(op string) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		// check if too many arguments were provided
		if cCtx.NArg() > 1 {
			return ErrTooManyArguments
		}

		// check if a port was provided
		if !cCtx.Args().Present() {
			return ErrMissingPort
		}

		port, err := ParsePort(cCtx.Args().First())
		if err != nil {
			return err
		}

		afs := afero.NewOsFs()

		cfg, err := LoadConfig(afs, cCtx.String("config"))
		if err != nil {
			return err
		}

		if err := RunPortCommand(afs, cfg, op, port, cCtx.String("protocol"), cCtx.String("source")); err != nil {
			return err
		}

		// check for updates after running the command
		return CheckForUpdate(cfg)
	}
}

func ParsePort(raw string) (int32, error) {
	port, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || port < 1 || port > 65535 {
		return 0, ErrInvalidPort
	}
	return int32(port), nil
}

func RunPortCommand(afs afero.Fs, cfg *config.Config, op string, port int32, protocol, source string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := openEnforcerSession(ctx, afs, cfg, cancel)
	if err != nil {
		return err
	}
	defer session.close()

	switch op {
	case "open":
		if _, err := session.executor.OpenPort(ctx, port, protocol, source); err != nil {
			return err
		}
		if source != "" {
			fmt.Printf("\n\t[✓] Opened %d/%s to %s\n\n", port, protocol, source)
		} else {
			fmt.Printf("\n\t[✓] Opened %d/%s\n\n", port, protocol)
		}
	case "close":
		_, err := session.executor.ClosePort(ctx, port, protocol)
		if errors.Is(err, database.ErrNotFound) {
			// the kernel rules were cleared; there was just no record to close
			fmt.Printf("\n\t[✓] Cleared %d/%s (no stored rule)\n\n", port, protocol)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("\n\t[✓] Closed %d/%s\n\n", port, protocol)
	case "block":
		if _, err := session.executor.BlockPort(ctx, port, protocol); err != nil {
			return err
		}
		fmt.Printf("\n\t[✓] Blocked %d/%s\n\n", port, protocol)
	default:
		return fmt.Errorf("unknown port operation: %s", op)
	}
	return nil
}
