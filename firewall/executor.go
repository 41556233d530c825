package firewall

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/ramparthq/rampart/config"
	"github.com/ramparthq/rampart/database"
	"github.com/ramparthq/rampart/logger"
)

var (
	ErrAllowlisted = errors.New("address is inside an allowed subnet")
	ErrBadAddress  = errors.New("invalid ip address")
)

// Store is the slice of the database the executor needs to keep ban and port
// records in step with the kernel.
type Store interface {
	UpsertBan(ctx context.Context, req database.BanRequest, escalationCount int32, now time.Time) (*database.BanRecord, error)
	DeactivateBan(ctx context.Context, address string, now time.Time) (*database.BanRecord, error)
	GetActiveBan(ctx context.Context, address string) (*database.BanRecord, error)
	ActiveBans(ctx context.Context) ([]database.BanRecord, error)
	ExpiredActiveBans(ctx context.Context, now time.Time) ([]database.BanRecord, error)
	InsertPortRule(ctx context.Context, rule *database.PortRule) error
	DeactivatePortRule(ctx context.Context, port int32, protocol string) (*database.PortRule, error)
}

// BanRequest carries one ban decision to the executor.
type BanRequest struct {
	Address       string
	Reason        string
	Duration      time.Duration // ignored when Permanent; zero means the temporary default
	Permanent     bool
	ThreatEventID *string
}

// ReconcileReport summarizes how far the kernel had drifted from the store.
type ReconcileReport struct {
	Reinstalled int
	Removed     int
}

// Executor owns every firewall mutation. All writes funnel through a single
// task goroutine, so ban churn, expiry sweeps, and reconciliation never
// interleave half-applied rule sets. Reads go straight to the backend.
type Executor struct {
	backend Backend
	store   Store
	cfg     *config.Config
	filter  *config.Filter
	now     func() time.Time
	tasks   chan task

	// optional side channels wired up by the coordinator before Run starts
	OnBan        func(record *database.BanRecord)
	OnUnban      func(record *database.BanRecord)
	OnPortChange func(rule *database.PortRule)
}

type task struct {
	run  func() error
	done chan error
}

func NewExecutor(backend Backend, store Store, cfg *config.Config, filter *config.Filter) *Executor {
	return &Executor{
		backend: backend,
		store:   store,
		cfg:     cfg,
		filter:  filter,
		now:     time.Now,
		tasks:   make(chan task),
	}
}

// Setup prepares the backend. Call it before Run; mutations submitted while
// Run is not draining the task channel block until it is.
func (e *Executor) Setup(ctx context.Context) error {
	return e.backend.Setup(ctx)
}

// Run drains the mutation channel until the context is cancelled.
func (e *Executor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-e.tasks:
			t.done <- t.run()
		}
	}
}

func (e *Executor) submit(ctx context.Context, fn func() error) error {
	t := task{run: fn, done: make(chan error, 1)}
	select {
	case e.tasks <- t:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ban installs a drop rule and records the ban. Allow-listed addresses are
// rejected before anything is touched. A command failure aborts the mutation
// with the store untouched; a store failure after the rule landed leaves an
// orphan rule for reconciliation to remove.
func (e *Executor) Ban(ctx context.Context, req BanRequest) (*database.BanRecord, error) {
	if net.ParseIP(req.Address) == nil {
		return nil, fmt.Errorf("%w: %q", ErrBadAddress, req.Address)
	}
	if e.filter.Allowed(req.Address) {
		return nil, fmt.Errorf("%w: %s", ErrAllowlisted, req.Address)
	}

	var record *database.BanRecord
	err := e.submit(ctx, func() error {
		var err error
		record, err = e.ban(ctx, req)
		return err
	})
	return record, err
}

func (e *Executor) ban(ctx context.Context, req BanRequest) (*database.BanRecord, error) {
	existing, err := e.store.GetActiveBan(ctx, req.Address)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		installed, err := e.backend.IsInstalled(ctx, req.Address)
		if err != nil {
			return nil, err
		}
		if installed {
			return existing, nil
		}
		// the record is live but the rule vanished, reinstall without
		// escalating the ban count
		if err := e.backend.Ban(ctx, req.Address, banComment(existing.Reason, existing.BanUntil)); err != nil {
			return nil, err
		}
		logger.GetLogger().Warn().Str("address", req.Address).Msg("reinstalled missing ban rule")
		return existing, nil
	}

	now := e.now()
	var until *time.Time
	if !req.Permanent {
		duration := req.Duration
		if duration <= 0 {
			duration = time.Duration(e.cfg.Scoring.TemporaryBanSeconds) * time.Second
		}
		expiry := now.Add(duration)
		until = &expiry
	}
	if err := e.backend.Ban(ctx, req.Address, banComment(req.Reason, until)); err != nil {
		return nil, fmt.Errorf("installing ban for %s: %w", req.Address, err)
	}
	record, err := e.store.UpsertBan(ctx, database.BanRequest{
		Address:       req.Address,
		Reason:        req.Reason,
		BanUntil:      until,
		ThreatEventID: req.ThreatEventID,
		Permanent:     req.Permanent,
	}, e.cfg.Scoring.PermanentBanCount, now)
	if err != nil {
		return nil, fmt.Errorf("recording ban for %s: %w", req.Address, err)
	}

	logger.GetLogger().Info().
		Str("address", record.IPAddress).
		Str("reason", record.Reason).
		Bool("permanent", record.IsPermanent).
		Int32("ban_count", record.BanCount).
		Msg("banned address")
	if e.OnBan != nil {
		e.OnBan(record)
	}
	return record, nil
}

// Unban removes the drop rules and deactivates the record. Rules go first: if
// a delete fails the record stays active and reconciliation reinstalls
// whatever was already removed. Removing rules for an address with no record
// still succeeds and reports ErrNotFound so callers can tell the operator.
func (e *Executor) Unban(ctx context.Context, address string) (*database.BanRecord, error) {
	var record *database.BanRecord
	err := e.submit(ctx, func() error {
		if err := e.backend.Unban(ctx, address); err != nil {
			return fmt.Errorf("removing ban rules for %s: %w", address, err)
		}
		rec, err := e.store.DeactivateBan(ctx, address, e.now())
		if err != nil {
			return err
		}
		record = rec
		logger.GetLogger().Info().Str("address", address).Msg("unbanned address")
		if e.OnUnban != nil {
			e.OnUnban(record)
		}
		return nil
	})
	return record, err
}

// UnbanExpired lifts every temporary ban whose expiry has passed. Failures
// are logged and skipped so one stubborn address cannot wedge the sweep.
func (e *Executor) UnbanExpired(ctx context.Context) (int, error) {
	expired, err := e.store.ExpiredActiveBans(ctx, e.now())
	if err != nil {
		return 0, err
	}
	lifted := 0
	for _, ban := range expired {
		if _, err := e.Unban(ctx, ban.IPAddress); err != nil && !errors.Is(err, database.ErrNotFound) {
			logger.GetLogger().Warn().Err(err).Str("address", ban.IPAddress).Msg("failed to lift expired ban")
			continue
		}
		lifted++
	}
	return lifted, nil
}

// Reconcile heals drift between the store and the kernel in one task:
// active records missing their rule get it reinstalled, rules with no active
// record are removed. Expired-but-active records are left for UnbanExpired.
func (e *Executor) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	err := e.submit(ctx, func() error {
		active, err := e.store.ActiveBans(ctx)
		if err != nil {
			return err
		}
		installed, err := e.backend.ListBanned(ctx)
		if err != nil {
			return err
		}
		stray := make(map[string]bool, len(installed))
		for _, ban := range installed {
			stray[ban.Address] = true
		}

		now := e.now()
		for _, ban := range active {
			if ban.BanUntil != nil && !ban.BanUntil.After(now) {
				continue
			}
			if !stray[ban.IPAddress] {
				if err := e.backend.Ban(ctx, ban.IPAddress, banComment(ban.Reason, ban.BanUntil)); err != nil {
					logger.GetLogger().Warn().Err(err).Str("address", ban.IPAddress).Msg("failed to reinstall ban rule")
					continue
				}
				report.Reinstalled++
			}
			delete(stray, ban.IPAddress)
		}
		for address := range stray {
			if err := e.backend.Unban(ctx, address); err != nil {
				logger.GetLogger().Warn().Err(err).Str("address", address).Msg("failed to remove stray ban rule")
				continue
			}
			report.Removed++
		}
		if report.Reinstalled > 0 || report.Removed > 0 {
			logger.GetLogger().Info().
				Int("reinstalled", report.Reinstalled).
				Int("removed", report.Removed).
				Msg("reconciled firewall state")
		}
		return nil
	})
	return report, err
}

// OpenPort allows inbound traffic on the port, optionally restricted to a
// source subnet, and records the rule.
func (e *Executor) OpenPort(ctx context.Context, port int32, protocol, source string) (*database.PortRule, error) {
	protocol, err := normalizeProtocol(port, protocol)
	if err != nil {
		return nil, err
	}
	return e.insertPortRule(ctx, port, protocol, source, "open", func() error {
		return e.backend.OpenPort(ctx, port, protocol, source)
	})
}

// BlockPort drops inbound traffic on the port and records the rule.
func (e *Executor) BlockPort(ctx context.Context, port int32, protocol string) (*database.PortRule, error) {
	protocol, err := normalizeProtocol(port, protocol)
	if err != nil {
		return nil, err
	}
	return e.insertPortRule(ctx, port, protocol, "", "block", func() error {
		return e.backend.BlockPort(ctx, port, protocol)
	})
}

func (e *Executor) insertPortRule(ctx context.Context, port int32, protocol, source, action string, install func() error) (*database.PortRule, error) {
	rule := &database.PortRule{
		Port:      port,
		Protocol:  protocol,
		Action:    action,
		Source:    source,
		IsActive:  true,
		CreatedAt: e.now(),
	}
	err := e.submit(ctx, func() error {
		if err := install(); err != nil {
			return err
		}
		if err := e.store.InsertPortRule(ctx, rule); err != nil {
			return fmt.Errorf("recording port rule: %w", err)
		}
		logger.GetLogger().Info().
			Int32("port", port).
			Str("protocol", protocol).
			Str("action", action).
			Msg("applied port rule")
		if e.OnPortChange != nil {
			e.OnPortChange(rule)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ClosePort clears every rule for the port, allow and block alike, and
// deactivates the stored rule. ErrNotFound means the kernel was cleaned but
// no record existed.
func (e *Executor) ClosePort(ctx context.Context, port int32, protocol string) (*database.PortRule, error) {
	protocol, err := normalizeProtocol(port, protocol)
	if err != nil {
		return nil, err
	}
	var rule *database.PortRule
	err = e.submit(ctx, func() error {
		if err := e.backend.ClosePort(ctx, port, protocol); err != nil {
			return err
		}
		r, err := e.store.DeactivatePortRule(ctx, port, protocol)
		if err != nil {
			return err
		}
		rule = r
		logger.GetLogger().Info().Int32("port", port).Str("protocol", protocol).Msg("closed port")
		if e.OnPortChange != nil {
			e.OnPortChange(rule)
		}
		return nil
	})
	return rule, err
}

// AddRateLimit installs a per-source rate cap. Port zero applies it to all
// inbound traffic. Rate limits live only in the kernel; they carry no store
// record.
func (e *Executor) AddRateLimit(ctx context.Context, limit, periodSeconds, port int32) error {
	if limit <= 0 {
		return fmt.Errorf("rate limit must be positive, got %d", limit)
	}
	if periodSeconds <= 0 {
		return fmt.Errorf("rate limit period must be positive, got %d", periodSeconds)
	}
	if port != 0 {
		if err := validatePort(port); err != nil {
			return err
		}
	}
	return e.submit(ctx, func() error {
		if err := e.backend.AddRateLimit(ctx, limit, periodSeconds, port); err != nil {
			return err
		}
		logger.GetLogger().Info().
			Int32("limit", limit).
			Int32("period_seconds", periodSeconds).
			Int32("port", port).
			Msg("applied rate limit")
		return nil
	})
}

// Reset flushes every managed rule and deactivates all active bans.
func (e *Executor) Reset(ctx context.Context) (int, error) {
	deactivated := 0
	err := e.submit(ctx, func() error {
		if err := e.backend.Flush(ctx); err != nil {
			return err
		}
		active, err := e.store.ActiveBans(ctx)
		if err != nil {
			return err
		}
		now := e.now()
		for _, ban := range active {
			if _, err := e.store.DeactivateBan(ctx, ban.IPAddress, now); err != nil {
				logger.GetLogger().Warn().Err(err).Str("address", ban.IPAddress).Msg("failed to deactivate ban during reset")
				continue
			}
			deactivated++
		}
		logger.GetLogger().Info().Int("deactivated", deactivated).Msg("reset firewall")
		return nil
	})
	return deactivated, err
}

// SaveRules and RestoreRules funnel through the task channel so snapshots
// never race a mutation.
func (e *Executor) SaveRules(ctx context.Context) error {
	return e.submit(ctx, func() error { return e.backend.SaveRules(ctx) })
}

func (e *Executor) RestoreRules(ctx context.Context) error {
	return e.submit(ctx, func() error { return e.backend.RestoreRules(ctx) })
}

// Read-only passthroughs.

func (e *Executor) BackendName() string { return e.backend.Name() }

func (e *Executor) HealthCheck(ctx context.Context) (map[string]bool, error) {
	return e.backend.HealthCheck(ctx)
}

func (e *Executor) InstalledBans(ctx context.Context) ([]InstalledBan, error) {
	return e.backend.ListBanned(ctx)
}

func (e *Executor) IsInstalled(ctx context.Context, address string) (bool, error) {
	return e.backend.IsInstalled(ctx, address)
}

func normalizeProtocol(port int32, protocol string) (string, error) {
	if err := validatePort(port); err != nil {
		return "", err
	}
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	if protocol != "tcp" && protocol != "udp" {
		return "", fmt.Errorf("invalid protocol %q, must be tcp or udp", protocol)
	}
	return protocol, nil
}

func validatePort(port int32) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}
	return nil
}
