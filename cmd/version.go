package cmd

import (
	"fmt"
	"io"

	"github.com/ramparthq/rampart/config"
	"github.com/ramparthq/rampart/util"

	"github.com/google/go-github/github"
	"github.com/urfave/cli/v2"
)

var VersionCommand = &cli.Command{
	Name:      "version",
	Usage:     "show the installed version and check for a newer release",
	UsageText: "version",
	Args:      false,
	Action: func(cCtx *cli.Context) error {
		// check if too many arguments were provided
		if cCtx.NArg() > 0 {
			return ErrTooManyArguments
		}

		return RunVersionCommand(cCtx.App.Writer, config.Version)
	},
}

func RunVersionCommand(w io.Writer, currentVersion string) error {
	if currentVersion == "" {
		fmt.Fprintf(w, "\n\trampart (development build)\n\n")
		return nil
	}

	fmt.Fprintf(w, "\n\trampart %s\n", currentVersion)

	newer, latestVersion, err := util.CheckForNewerVersion(github.NewClient(nil), currentVersion)
	if err != nil {
		// the probe needs the network; the version itself printed fine
		fmt.Fprintf(w, "\tcould not check for updates: %v\n\n", err)
		return nil
	}
	if newer {
		fmt.Fprintf(w, "\t✨ A newer version (%s) is available! https://github.com/ramparthq/rampart/releases ✨\n\n", latestVersion)
	} else {
		fmt.Fprintf(w, "\tYou are on the latest version.\n\n")
	}
	return nil
}
