package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ramparthq/rampart/config"
	"github.com/ramparthq/rampart/database"
	"github.com/ramparthq/rampart/firewall"
	"github.com/ramparthq/rampart/rdns"
	"github.com/ramparthq/rampart/util"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/manifoldco/promptui"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
)

var BanCommand = &cli.Command{
	Name:      "ban",
	Usage:     "ban an ip address",
	UsageText: "ban [--reason TEXT] [--duration SECONDS] [--permanent] ADDRESS",
	Args:      true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "reason",
			Aliases: []string{"r"},
			Usage:   "reason recorded on the ban",
			Value:   "manual ban",
		},
		&cli.Int64Flag{
			Name:    "duration",
			Aliases: []string{"t"},
			Usage:   "ban length in `SECONDS`; 0 uses the configured default",
		},
		&cli.BoolFlag{
			Name:    "permanent",
			Aliases: []string{"p"},
			Usage:   "never expire the ban",
		},
		ConfigFlag(false),
	},
	Action: func(cCtx *cli.Context) error {
		// check if too many arguments were provided
		if cCtx.NArg() > 1 {
			return ErrTooManyArguments
		}

		// check if an address was provided
		if !cCtx.Args().Present() {
			return ErrMissingAddress
		}

		address := cCtx.Args().First()
		if !util.ValidIP(address) {
			return firewall.ErrBadAddress
		}

		afs := afero.NewOsFs()

		cfg, err := LoadConfig(afs, cCtx.String("config"))
		if err != nil {
			return err
		}

		duration := time.Duration(cCtx.Int64("duration")) * time.Second
		if err := RunBanCommand(afs, cfg, address, cCtx.String("reason"), duration, cCtx.Bool("permanent")); err != nil {
			return err
		}

		// check for updates after running the command
		return CheckForUpdate(cfg)
	},
}

func RunBanCommand(afs afero.Fs, cfg *config.Config, address, reason string, duration time.Duration, permanent bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := openEnforcerSession(ctx, afs, cfg, cancel)
	if err != nil {
		return err
	}
	defer session.close()

	record, err := session.executor.Ban(ctx, firewall.BanRequest{
		Address:   address,
		Reason:    reason,
		Duration:  duration,
		Permanent: permanent,
	})
	if err != nil {
		return err
	}

	switch {
	case record.IsPermanent:
		fmt.Printf("\n\t[✓] Permanently banned %s\n\n", record.IPAddress)
	case record.BanUntil != nil:
		fmt.Printf("\n\t[✓] Banned %s until %s\n\n", record.IPAddress, record.BanUntil.UTC().Format("2006-01-02 15:04:05 MST"))
	default:
		fmt.Printf("\n\t[✓] Banned %s\n\n", record.IPAddress)
	}
	return nil
}

var UnbanCommand = &cli.Command{
	Name:      "unban",
	Usage:     "lift an active ban",
	UsageText: "unban [--non-interactive] ADDRESS",
	Args:      true,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:     "non-interactive",
			Aliases:  []string{"ni"},
			Usage:    "does not prompt for confirmation",
			Value:    false,
			Required: false,
		},
		ConfigFlag(false),
	},
	Action: func(cCtx *cli.Context) error {
		// check if too many arguments were provided
		if cCtx.NArg() > 1 {
			return ErrTooManyArguments
		}

		// check if an address was provided
		if !cCtx.Args().Present() {
			return ErrMissingAddress
		}

		address := cCtx.Args().First()
		if !util.ValidIP(address) {
			return firewall.ErrBadAddress
		}

		prompt := true
		if cCtx.Bool("non-interactive") {
			prompt = false
		}

		afs := afero.NewOsFs()

		cfg, err := LoadConfig(afs, cCtx.String("config"))
		if err != nil {
			return err
		}

		if err := RunUnbanCommand(afs, cfg, address, prompt); err != nil {
			return err
		}

		// check for updates after running the command
		return CheckForUpdate(cfg)
	},
}

func RunUnbanCommand(afs afero.Fs, cfg *config.Config, address string, ask bool) error {
	if ask {
		prompt := promptui.Prompt{
			Label:     fmt.Sprintf("Unban %s", address),
			IsConfirm: true,
		}
		if _, err := prompt.Run(); err != nil {
			fmt.Println("Cancelling unban...")
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := openEnforcerSession(ctx, afs, cfg, cancel)
	if err != nil {
		return err
	}
	defer session.close()

	record, err := session.executor.Unban(ctx, address)
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("no active ban for %s", address)
	}
	if err != nil {
		return err
	}

	fmt.Printf("\n\t[✓] Unbanned %s (banned %d times)\n\n", record.IPAddress, record.BanCount)
	return nil
}

var BannedCommand = &cli.Command{
	Name:      "banned",
	Usage:     "list active bans",
	UsageText: "banned [--limit N]",
	Args:      false,
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "limit",
			Aliases: []string{"l"},
			Usage:   "show at most `N` bans",
		},
		ConfigFlag(false),
	},
	Action: func(cCtx *cli.Context) error {
		// check if too many arguments were provided
		if cCtx.NArg() > 0 {
			return ErrTooManyArguments
		}

		afs := afero.NewOsFs()

		cfg, err := LoadConfig(afs, cCtx.String("config"))
		if err != nil {
			return err
		}

		return RunBannedCommand(cfg, cCtx.Int("limit"))
	},
}

func RunBannedCommand(cfg *config.Config, limit int) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.ConnectToDB(ctx, cfg, cancel)
	if err != nil {
		return err
	}
	defer db.Close()

	bans, err := db.ActiveBans(ctx)
	if err != nil {
		return err
	}
	if limit > 0 && len(bans) > limit {
		bans = bans[:limit]
	}

	if len(bans) == 0 {
		fmt.Println("No active bans.")
		return nil
	}

	// hostnames are decoration; a disabled resolver leaves the column empty
	resolver := rdns.NewResolver(cfg, nil)
	var hostnames map[string]string
	if resolver.Enabled() {
		addresses := make([]string, 0, len(bans))
		for _, ban := range bans {
			addresses = append(addresses, ban.IPAddress)
		}
		hostnames = resolver.Annotate(ctx, addresses)
	}

	t := FormatBansTable(bans, hostnames)
	fmt.Println(t)
	return nil
}

func FormatBansTable(bans []database.BanRecord, hostnames map[string]string) *table.Table {
	var data [][]string

	for _, ban := range bans {
		expires := "permanent"
		if !ban.IsPermanent && ban.BanUntil != nil {
			expires = ban.BanUntil.UTC().Format("2006-01-02 15:04")
		}
		data = append(data, []string{ban.IPAddress, hostnames[ban.IPAddress], ban.Reason, expires, strconv.Itoa(int(ban.BanCount))})
	}

	re := lipgloss.NewRenderer(os.Stdout)
	baseStyle := re.NewStyle().Padding(0, 1)
	headerStyle := baseStyle.Foreground(lipgloss.Color("252")).Bold(true)

	headers := []string{"Address", "Hostname", "Reason", "Expires (UTC)", "Count"}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(re.NewStyle().Foreground(lipgloss.Color("238"))).
		Headers(headers...).
		Rows(data...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == 0 {
				return headerStyle
			}

			even := row%2 == 0

			if even {
				return baseStyle.Foreground(lipgloss.Color("245"))
			}
			return baseStyle.Foreground(lipgloss.Color("252"))
		})

	return t
}
