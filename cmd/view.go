package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/ramparthq/rampart/config"
	"github.com/ramparthq/rampart/database"
	"github.com/ramparthq/rampart/scoring"
	"github.com/ramparthq/rampart/viewer"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
)

var ErrInvalidViewLimit = errors.New("limit must be a positive integer greater than 0")

// defaultViewLimit caps the stdout export when no --limit is given.
const defaultViewLimit = 500

var ViewCommand = &cli.Command{
	Name:  "view",
	Usage: "browse tracked fingerprints and active bans in the terminal",
	Args:  false,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:     "stdout",
			Aliases:  []string{"o"},
			Usage:    "pipe comma-delimited fingerprint data to stdout",
			Required: false,
		},
		&cli.IntFlag{
			Name:     "limit",
			Aliases:  []string{"l"},
			Usage:    "limit the number of results to display",
			Required: false,
		},
		ConfigFlag(false),
	},
	Action: func(cCtx *cli.Context) error {
		if cCtx.NArg() > 0 {
			return ErrTooManyArguments
		}

		// validate limit flag
		if cCtx.IsSet("limit") && cCtx.Int("limit") <= 0 {
			return ErrInvalidViewLimit
		}

		cfg, err := LoadConfig(afero.NewOsFs(), cCtx.String("config"))
		if err != nil {
			return err
		}

		if err := RunViewCommand(cfg, cCtx.Bool("stdout"), cCtx.Int("limit")); err != nil {
			return err
		}

		// check for updates after running the command
		return CheckForUpdate(cfg)
	},
}

// RunViewCommand starts the terminal UI, or dumps the top fingerprints as
// CSV when stdout is requested.
func RunViewCommand(cfg *config.Config, stdout bool, limit int) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// connect to database
	db, err := database.ConnectToDB(ctx, cfg, cancel)
	if err != nil {
		return err
	}
	defer db.Close()

	// risk buckets come from the configured scoring thresholds
	scorer := scoring.NewEngine(db, &cfg.Scoring)

	if stdout {
		if limit <= 0 {
			limit = defaultViewLimit
		}
		fingerprints, err := db.TopFingerprints(ctx, limit)
		if err != nil {
			return err
		}
		return viewer.WriteCSV(os.Stdout, fingerprints, scorer.RiskFor)
	}

	return viewer.CreateUI(db, scorer.RiskFor, limit)
}
