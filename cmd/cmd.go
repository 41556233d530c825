package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/ramparthq/rampart/audit"
	"github.com/ramparthq/rampart/cache"
	"github.com/ramparthq/rampart/config"
	"github.com/ramparthq/rampart/database"
	"github.com/ramparthq/rampart/firewall"
	zlog "github.com/ramparthq/rampart/logger"
	"github.com/ramparthq/rampart/util"

	"github.com/google/go-github/github"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
)

var ErrMissingAddress = errors.New("an ip address argument is required")
var ErrMissingConfigPath = errors.New("config path parameter is required")
var ErrTooManyArguments = errors.New("too many arguments provided")

// operators recorded on audit entries written by this process
const (
	operatorSystem = "system"
	operatorCLI    = "cli"
)

func Commands() []*cli.Command {
	return []*cli.Command{
		WatchCommand,
		ReplayCommand,
		BanCommand,
		UnbanCommand,
		BannedCommand,
		PortCommand,
		ViewCommand,
		ValidateConfigCommand,
		VersionCommand,
	}
}

func ConfigFlag(required bool) *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "config",
		Aliases:  []string{"c"},
		Usage:    "Load configuration from `FILE`",
		Value:    config.DefaultConfigPath,
		Required: required,
		Action: func(_ *cli.Context, path string) error {
			return ValidateConfigPath(afero.NewOsFs(), path)
		},
	}
}

// LoadConfig validates the config path and parses the file, bringing in the
// environment variables the config requires.
func LoadConfig(afs afero.Fs, configPath string) (*config.Config, error) {
	if err := ValidateConfigPath(afs, configPath); err != nil {
		return nil, err
	}
	return config.ReadFileConfig(afs, configPath)
}

func CheckForUpdate(cfg *config.Config) error {
	// get the current version
	currentVersion := config.Version

	// check for update if version is set
	if cfg.UpdateCheckEnabled && currentVersion != "" {
		newer, latestVersion, err := util.CheckForNewerVersion(github.NewClient(nil), currentVersion)
		if err != nil {
			return fmt.Errorf("error checking for newer version of rampart: %w", err)
		}
		if newer {
			fmt.Printf("\n\t✨ A newer version (%s) of rampart is available! https://github.com/ramparthq/rampart/releases ✨\n\n", latestVersion)
		}
	}
	return nil
}

// listStore is the slice of the database the filter loader reads.
// *database.DB satisfies it.
type listStore interface {
	ListEntries(ctx context.Context, kind database.ListKind) ([]database.ListEntry, error)
}

// loadFilter seeds the runtime filter with the config subnets plus the
// allow and deny list entries persisted in the store, and mirrors the
// persisted lists when a cache is attached. A malformed stored entry is
// logged and skipped so one bad row cannot keep the process down.
func loadFilter(ctx context.Context, store listStore, cfg *config.Config, mirror *cache.Mirror) (*config.Filter, error) {
	filter := config.NewFilter(cfg.Filtering)

	allowed, err := store.ListEntries(ctx, database.Allowlist)
	if err != nil {
		return nil, fmt.Errorf("could not load allow list entries: %w", err)
	}
	blocked, err := store.ListEntries(ctx, database.Denylist)
	if err != nil {
		return nil, fmt.Errorf("could not load deny list entries: %w", err)
	}

	for _, entry := range allowed {
		subnet, err := util.ParseSubnet(entry.CIDR)
		if err != nil {
			zlog.GetLogger().Warn().Str("cidr", entry.CIDR).Msg("skipping malformed allow list entry")
			continue
		}
		filter.AddAllowed(subnet)
	}
	for _, entry := range blocked {
		subnet, err := util.ParseSubnet(entry.CIDR)
		if err != nil {
			zlog.GetLogger().Warn().Str("cidr", entry.CIDR).Msg("skipping malformed deny list entry")
			continue
		}
		filter.AddBlocked(subnet)
	}

	mirror.SyncAllowlist(ctx, entryCIDRs(allowed))
	mirror.SyncDenylist(ctx, entryCIDRs(blocked))

	return filter, nil
}

func entryCIDRs(entries []database.ListEntry) []string {
	cidrs := make([]string, 0, len(entries))
	for _, entry := range entries {
		cidrs = append(cidrs, entry.CIDR)
	}
	return cidrs
}

// ignoreCanceled filters out context cancellation, which is the normal
// shutdown path for the long-running tasks, not a failure.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// enforcerSession holds everything a one-shot firewall mutation needs: the
// store, the filter seeded from it, an audit log attributing changes to
// the cli, and a running executor.
type enforcerSession struct {
	db       *database.DB
	executor *firewall.Executor
	close    func()
}

func openEnforcerSession(ctx context.Context, afs afero.Fs, cfg *config.Config, cancel context.CancelFunc) (*enforcerSession, error) {
	db, err := database.ConnectToDB(ctx, cfg, cancel)
	if err != nil {
		return nil, err
	}

	filter, err := loadFilter(ctx, db, cfg, nil)
	if err != nil {
		db.Close()
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
	executor.OnPortChange = func(rule *database.PortRule) {
		auditor.LogPortChange(rule, operatorCLI)
	}

	// mutations block until the executor loop drains them
	runCtx, stopRun := context.WithCancel(ctx)
	go func() { _ = executor.Run(runCtx) }()

	if err := executor.Setup(ctx); err != nil {
		stopRun()
		db.Close()
		return nil, fmt.Errorf("firewall setup failed: %w", err)
	}

	return &enforcerSession{
		db:       db,
		executor: executor,
		close: func() {
			stopRun()
			db.Close()
		},
	}, nil
}
