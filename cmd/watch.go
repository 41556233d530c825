package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ramparthq/rampart/alert"
	"github.com/ramparthq/rampart/analysis"
	"github.com/ramparthq/rampart/api"
	"github.com/ramparthq/rampart/audit"
	"github.com/ramparthq/rampart/cache"
	"github.com/ramparthq/rampart/config"
	"github.com/ramparthq/rampart/database"
	"github.com/ramparthq/rampart/detect"
	"github.com/ramparthq/rampart/firewall"
	"github.com/ramparthq/rampart/ingest"
	zlog "github.com/ramparthq/rampart/logger"
	"github.com/ramparthq/rampart/metrics"
	"github.com/ramparthq/rampart/pipeline"
	"github.com/ramparthq/rampart/rdns"
	"github.com/ramparthq/rampart/scheduler"
	"github.com/ramparthq/rampart/scoring"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var WatchCommand = &cli.Command{
	Name:      "watch",
	Usage:     "tail the access log and enforce bans in real time",
	UsageText: "watch [--config FILE]",
	Args:      false,
	Flags: []cli.Flag{
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

		return RunWatchCommand(afs, cfg)
	},
}

// RunWatchCommand runs the live pipeline until a signal arrives: tail the
// access log, push records through detection and scoring, enforce bans,
// serve the admin API, and keep the maintenance jobs ticking.
//
// Shutdown is ordered. The first signal stops the tailer, which closes the
// record channel; the pipeline drains what is still queued; only then do
// the executor, the scheduler, and the API stop.
func RunWatchCommand(afs afero.Fs, cfg *config.Config) error {
	logger := zlog.GetLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.ConnectToDB(ctx, cfg, cancel)
	if err != nil {
		return err
	}
	defer db.Close()

	mirror, err := cache.Connect(ctx, cfg)
	if err != nil {
		// the cache is an accelerator, not a dependency
		logger.Warn().Err(err).Msg("continuing without the redis cache")
	}
	defer mirror.Close()

	filter, err := loadFilter(ctx, db, cfg, mirror)
	if err != nil {
		return err
	}

	parser, err := ingest.NewParser(cfg.Monitor.Format)
	if err != nil {
		return err
	}

	auditor := audit.NewLogger(afs, &cfg.Audit)
	resolver := rdns.NewResolver(cfg, mirror)

	alerter := alert.NewManager(&cfg.Alerting, cfg.Env.AlertWebhookURL)
	alerter.Hostname = resolver.Lookup

	backend := firewall.NewBackend(afs, &cfg.Firewall)
	executor := firewall.NewExecutor(backend, db, cfg, filter)

	mon := metrics.Get()
	executor.OnBan = func(record *database.BanRecord) {
		auditor.LogBan(record, operatorSystem)
		mirror.MarkBanned(ctx, record.IPAddress)
		if err := alerter.BanAlert(ctx, record); err != nil {
			logger.Warn().Err(err).Str("ip", record.IPAddress).Msg("ban alert delivery failed")
		}
	}
	executor.OnUnban = func(record *database.BanRecord) {
		auditor.LogUnban(record, operatorSystem)
		mirror.ClearBanned(ctx, record.IPAddress)
		mon.Unbans.Inc()
	}
	executor.OnPortChange = func(rule *database.PortRule) {
		auditor.LogPortChange(rule, operatorSystem)
	}

	scorer := scoring.NewEngine(db, &cfg.Scoring)
	analyzer := analysis.NewAnalyzer(db, cfg)

	rules := detect.NewRuleEngine(db, &cfg.Detection)
	if err := rules.Reload(ctx); err != nil {
		// enforcement still works on the built-in detectors
		logger.Warn().Err(err).Msg("could not load custom rules")
	}

	pipe := pipeline.New(db, filter, analyzer, rules, scorer, executor, cfg)
	pipe.OnFinding = func(event *database.ThreatEvent) {
		if err := alerter.ThreatAlert(ctx, event); err != nil {
			logger.Warn().Err(err).Str("ip", event.IPAddress).Msg("threat alert delivery failed")
		}
		// cache the resolved name on the fingerprint so listings keep their
		// hostnames even when the resolver is down
		if hostname := resolver.Lookup(ctx, event.IPAddress); hostname != "" {
			if err := db.UpdateFingerprintMetadata(ctx, event.BaseHash, map[string]string{"rdns": hostname}); err != nil {
				logger.Warn().Err(err).Str("base_hash", event.BaseHash).Msg("failed to store rdns name on fingerprint")
			}
		}
	}

	if err := executor.Setup(ctx); err != nil {
		return fmt.Errorf("firewall setup failed: %w", err)
	}

	tailer := ingest.NewTailer(afs, cfg.Monitor.LogPath, parser, time.Duration(cfg.Monitor.PollIntervalMillis)*time.Millisecond)
	sched := scheduler.New(db, executor, &cfg.Scheduler)

	g, gCtx := errgroup.WithContext(ctx)

	// the first signal stops only the tailer; runCtx stays live so the
	// pipeline can drain, then stopRun releases everything else
	sigCtx, stopSignals := signal.NotifyContext(gCtx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	runCtx, stopRun := context.WithCancel(gCtx)
	defer stopRun()

	g.Go(func() error { return executor.Run(runCtx) })

	// reconcile once the executor loop is draining mutations
	report, err := executor.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("firewall reconciliation failed: %w", err)
	}
	if report.Reinstalled > 0 || report.Removed > 0 {
		logger.Info().Int("reinstalled", report.Reinstalled).Int("removed", report.Removed).Msg("reconciled firewall rules with the store")
	}

	seedMirror(ctx, db, mirror)

	auditor.LogSystemStart(config.Version)
	defer auditor.LogSystemStop()

	records := make(chan ingest.Record, cfg.Monitor.QueueSize)

	g.Go(func() error {
		defer close(records)
		return ignoreCanceled(tailer.Run(sigCtx, records))
	})
	g.Go(func() error {
		defer stopRun()
		return ignoreCanceled(pipe.Run(runCtx, records))
	})
	g.Go(func() error { return ignoreCanceled(sched.Run(runCtx)) })
	g.Go(func() error {
		rules.Run(runCtx)
		return nil
	})

	if cfg.API.Enabled {
		server := api.NewServer(cfg, db, executor, scorer, filter, auditor, mirror, resolver)
		g.Go(func() error { return ignoreCanceled(server.Run(runCtx)) })
	}

	logger.Info().
		Str("path", cfg.Monitor.LogPath).
		Str("format", cfg.Monitor.Format).
		Str("backend", executor.BackendName()).
		Msg("watching access log")

	err = g.Wait()

	logger.Info().
		Uint64("processed", pipe.Stats.Processed).
		Uint64("findings", pipe.Stats.Findings).
		Uint64("bans", pipe.Stats.Bans).
		Msg("watch stopped")

	return err
}

// seedMirror pushes the authoritative ban set into the cache so external
// readers see current state immediately after a restart.
func seedMirror(ctx context.Context, db *database.DB, mirror *cache.Mirror) {
	bans, err := db.ActiveBans(ctx)
	if err != nil {
		zlog.GetLogger().Warn().Err(err).Msg("could not seed the cache with active bans")
		return
	}
	addresses := make([]string, 0, len(bans))
	for _, ban := range bans {
		addresses = append(addresses, ban.IPAddress)
	}
	mirror.ReplaceBanned(ctx, addresses)
}
