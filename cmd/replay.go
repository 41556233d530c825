package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ramparthq/rampart/analysis"
	"github.com/ramparthq/rampart/audit"
	"github.com/ramparthq/rampart/config"
	"github.com/ramparthq/rampart/database"
	"github.com/ramparthq/rampart/detect"
	"github.com/ramparthq/rampart/firewall"
	"github.com/ramparthq/rampart/ingest"
	zlog "github.com/ramparthq/rampart/logger"
	"github.com/ramparthq/rampart/pipeline"
	"github.com/ramparthq/rampart/progressbar"
	"github.com/ramparthq/rampart/scoring"
	"github.com/ramparthq/rampart/util"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var ErrMissingLogFile = errors.New("a log file argument is required")

var ReplayCommand = &cli.Command{
	Name:        "replay",
	Usage:       "replay historical access logs through the detection pipeline",
	UsageText:   "replay [--config FILE] [--limit N] PATH",
	Description: "replaying counts toward scores and can install bans, which is the point of catching up after an outage. PATH is a log file or a directory of rotated logs, replayed in name order",
	Args:        true,
	Flags: []cli.Flag{
		&cli.Int64Flag{
			Name:    "limit",
			Aliases: []string{"l"},
			Usage:   "stop after `N` parsed records",
		},
		ConfigFlag(false),
	},
	Action: func(cCtx *cli.Context) error {
		// check if too many arguments were provided
		if cCtx.NArg() > 1 {
			return ErrTooManyArguments
		}

		// check if a log file was provided
		if !cCtx.Args().Present() {
			return ErrMissingLogFile
		}

		afs := afero.NewOsFs()

		paths, err := ReplayTargets(afs, cCtx.Args().First())
		if err != nil {
			return err
		}

		cfg, err := LoadConfig(afs, cCtx.String("config"))
		if err != nil {
			return err
		}

		summary, err := RunReplayCommand(afs, cfg, paths, cCtx.Int64("limit"))
		if err != nil {
			return err
		}

		printer := message.NewPrinter(language.English)
		if len(paths) > 1 {
			printer.Printf("\n\tReplayed %d files, %d lines: %d parsed, %d failed\n\n", len(paths), summary.Lines, summary.Parsed, summary.Failed)
		} else {
			printer.Printf("\n\tReplayed %d lines: %d parsed, %d failed\n\n", summary.Lines, summary.Parsed, summary.Failed)
		}

		// check for updates after running the command
		if err := CheckForUpdate(cfg); err != nil {
			return err
		}

		return nil
	},
}

// ReplayTargets expands the replay argument into the files to play back.
// A directory yields every non-empty file inside it in name order; empty
// entries, such as a freshly rotated log, are skipped.
func ReplayTargets(afs afero.Fs, path string) ([]string, error) {
	if isDir, err := afero.IsDir(afs, path); err == nil && isDir {
		if err := util.ValidateDirectory(afs, path); err != nil {
			return nil, err
		}
		entries, err := afero.ReadDir(afs, path)
		if err != nil {
			return nil, err
		}

		var files []string
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			file := filepath.Join(path, entry.Name())
			if err := util.ValidateFile(afs, file); err != nil {
				continue
			}
			files = append(files, file)
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("%w: no log files in %s", util.ErrDirIsEmpty, path)
		}
		return files, nil
	}

	if err := util.ValidateFile(afs, path); err != nil {
		return nil, err
	}
	return []string{path}, nil
}

// RunReplayCommand pushes existing log files through the same pipeline the
// watcher runs, enforcement included. Files play back in the order given,
// sharing one limit. An interrupt stops the replay early and still reports
// what was processed.
func RunReplayCommand(afs afero.Fs, cfg *config.Config, paths []string, limit int64) (*ingest.ReplaySummary, error) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := database.ConnectToDB(ctx, cfg, cancel)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	filter, err := loadFilter(ctx, db, cfg, nil)
	if err != nil {
		return nil, err
	}

	parser, err := ingest.NewParser(cfg.Monitor.Format)
	if err != nil {
		return nil, err
	}

	auditor := audit.NewLogger(afs, &cfg.Audit)

	backend := firewall.NewBackend(afs, &cfg.Firewall)
	executor := firewall.NewExecutor(backend, db, cfg, filter)
	executor.OnBan = func(record *database.BanRecord) {
		auditor.LogBan(record, operatorCLI)
	}
	executor.OnUnban = func(record *database.BanRecord) {
		auditor.LogUnban(record, operatorCLI)
	}

	scorer := scoring.NewEngine(db, &cfg.Scoring)
	analyzer := analysis.NewAnalyzer(db, cfg)

	rules := detect.NewRuleEngine(db, &cfg.Detection)
	if err := rules.Reload(ctx); err != nil {
		zlog.GetLogger().Warn().Err(err).Msg("could not load custom rules")
	}

	pipe := pipeline.New(db, filter, analyzer, rules, scorer, executor, cfg)

	if err := executor.Setup(ctx); err != nil {
		return nil, fmt.Errorf("firewall setup failed: %w", err)
	}

	progress := progressbar.New()
	records := make(chan ingest.Record, cfg.Monitor.QueueSize)

	g, gCtx := errgroup.WithContext(ctx)
	runCtx, stopRun := context.WithCancel(gCtx)
	defer stopRun()

	g.Go(func() error { return executor.Run(runCtx) })

	var summary *ingest.ReplaySummary
	g.Go(func() error {
		defer close(records)
		var err error
		summary, err = ReplayFiles(gCtx, afs, parser, progress, paths, limit, records)
		return ignoreCanceled(err)
	})
	g.Go(func() error {
		defer stopRun()
		return ignoreCanceled(pipe.Run(runCtx, records))
	})

	err = g.Wait()
	progress.Wait()

	if err != nil {
		return nil, err
	}
	return summary, nil
}

// ReplayFiles streams each file into the record channel in order, one
// progress bar per file, and folds the per-file counts into one summary. A
// positive limit caps the parsed total across all files; once it is reached
// the remaining files are skipped.
func ReplayFiles(ctx context.Context, afs afero.Fs, parser *ingest.Parser, progress *progressbar.Progress, paths []string, limit int64, records chan<- ingest.Record) (*ingest.ReplaySummary, error) {
	total := &ingest.ReplaySummary{}
	for _, path := range paths {
		remaining := limit
		if limit > 0 {
			remaining = limit - total.Parsed
			if remaining <= 0 {
				break
			}
		}

		summary, err := replayFile(ctx, afs, parser, progress, path, remaining, records)
		if summary != nil {
			total.Lines += summary.Lines
			total.Parsed += summary.Parsed
			total.Failed += summary.Failed
		}
		if err != nil {
			return total, fmt.Errorf("replay of %s failed: %w", path, err)
		}
	}
	return total, nil
}

func replayFile(ctx context.Context, afs afero.Fs, parser *ingest.Parser, progress *progressbar.Progress, path string, limit int64, records chan<- ingest.Record) (*ingest.ReplaySummary, error) {
	file, err := afs.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}

	bar := progress.NewBytesBar(filepath.Base(path), info.Size())
	reader := bar.Reader(file)
	defer reader.Close()

	summary, err := ingest.Replay(ctx, reader, parser, limit, records)

	// a --limit stop or an interrupt leaves the bar short of its total
	bar.Abort()
	return summary, err
}
