package cmd

import (
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/ramparthq/rampart/config"
	"github.com/ramparthq/rampart/util"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
)

var ValidateConfigCommand = &cli.Command{
	Name:      "validate",
	Usage:     "validate a configuration file and report the effective detection setup",
	UsageText: "validate [--config FILE]",
	Args:      false,
	Flags: []cli.Flag{
		ConfigFlag(false),
	},
	Action: func(cCtx *cli.Context) error {
		if cCtx.String("config") == "" {
			return ErrMissingConfigPath
		}
		if cCtx.NArg() > 0 {
			return ErrTooManyArguments
		}

		afs := afero.NewOsFs()

		cfg, err := RunValidateConfigCommand(afs, cCtx.String("config"), os.Stdout)
		if err != nil {
			fmt.Printf("\n\t[!] Configuration file is not valid...")
			return err
		}

		// check for updates after running the command
		if err := CheckForUpdate(cfg); err != nil {
			return err
		}

		return nil
	},
}

// RunValidateConfigCommand loads the config, which runs the field
// validators, then summarizes what the daemon would actually run with:
// which detection patterns compile, the firewall backend, and the ban
// thresholds. Patterns that fail to compile are warnings here because the
// detector skips them at runtime rather than refusing to start.
func RunValidateConfigCommand(afs afero.Fs, configPath string, out io.Writer) (*config.Config, error) {
	cfg, err := LoadConfig(afs, configPath)
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(out, "\n\t[✨] Configuration file is valid \n\n")

	for _, list := range []struct {
		name     string
		patterns []string
	}{
		{"sql injection", cfg.Detection.SQLInjectionPatterns},
		{"xss", cfg.Detection.XSSPatterns},
		{"bad user agent", cfg.Detection.BadUserAgents},
	} {
		ok, bad := countCompilable(list.patterns)
		fmt.Fprintf(out, "\t%-16s %d patterns", list.name, ok)
		if len(bad) > 0 {
			fmt.Fprintf(out, " (%d will be skipped: %v)", len(bad), bad)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "\t%-16s %d prefixes\n", "sensitive paths", len(cfg.Detection.SensitivePaths))
	fmt.Fprintf(out, "\t%-16s %s\n", "firewall", cfg.Firewall.Backend)
	fmt.Fprintf(out, "\t%-16s temporary ≥ %d, extended ≥ %d, permanent ≥ %d\n\n",
		"ban thresholds", cfg.Scoring.TemporaryThreshold, cfg.Scoring.ExtendedThreshold, cfg.Scoring.PermanentThreshold)

	return cfg, nil
}

// countCompilable compiles each pattern the way the detector does and
// returns how many succeed along with the failures.
func countCompilable(patterns []string) (int, []string) {
	var bad []string
	ok := 0
	for _, pattern := range patterns {
		if _, err := regexp.Compile("(?i)" + pattern); err != nil {
			bad = append(bad, pattern)
			continue
		}
		ok++
	}
	return ok, bad
}

func ValidateConfigPath(afs afero.Fs, configPath string) error {
	if configPath == "" {
		return ErrMissingConfigPath
	}

	// get relative file path
	_, err := util.ParseRelativePath(configPath)
	if err != nil {
		return err
	}

	// validate file path
	if err := util.ValidateFile(afs, configPath); err != nil {
		return err
	}

	return nil
}
