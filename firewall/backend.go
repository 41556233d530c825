package firewall

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/ramparthq/rampart/config"
	"github.com/ramparthq/rampart/logger"
	"github.com/spf13/afero"
)

var (
	ErrUnsupported = errors.New("not supported by this firewall backend")
	ErrUnhealthy   = errors.New("firewall health check failed")
)

// InstalledBan is one live drop rule reported by the packet filter. Packets
// and Bytes are zero on backends that do not expose counters.
type InstalledBan struct {
	Address string `json:"address"`
	Packets int64  `json:"packets"`
	Bytes   int64  `json:"bytes"`
	Comment string `json:"comment,omitempty"`
}

// Backend abstracts the host packet filter. Implementations are not required
// to be safe for concurrent use; the executor serializes every mutation.
type Backend interface {
	Name() string
	// Setup prepares the host filter (chains, jumps). It must be idempotent.
	Setup(ctx context.Context) error
	Ban(ctx context.Context, address string, comment string) error
	Unban(ctx context.Context, address string) error
	IsInstalled(ctx context.Context, address string) (bool, error)
	ListBanned(ctx context.Context) ([]InstalledBan, error)
	OpenPort(ctx context.Context, port int32, protocol string, source string) error
	ClosePort(ctx context.Context, port int32, protocol string) error
	BlockPort(ctx context.Context, port int32, protocol string) error
	AddRateLimit(ctx context.Context, limit int32, periodSeconds int32, port int32) error
	HealthCheck(ctx context.Context) (map[string]bool, error)
	SaveRules(ctx context.Context) error
	RestoreRules(ctx context.Context) error
	Flush(ctx context.Context) error
}

// NewBackend picks the packet filter implementation for this host. The
// explicit backends honor the config as-is; auto selects by platform and
// falls back to the disabled backend rather than failing startup.
func NewBackend(afs afero.Fs, cfg *config.Firewall) Backend {
	run := &execRunner{timeout: time.Duration(cfg.CommandTimeoutSeconds) * time.Second}
	switch cfg.Backend {
	case "iptables":
		return newIptablesBackend(run, afs, cfg.RulesPath)
	case "netsh":
		return newNetshBackend(run)
	case "disabled":
		return disabledBackend{}
	}
	switch runtime.GOOS {
	case "linux":
		return newIptablesBackend(run, afs, cfg.RulesPath)
	case "windows":
		return newNetshBackend(run)
	default:
		logger.GetLogger().Warn().Str("os", runtime.GOOS).Msg("no firewall backend for this platform, bans will not reach the kernel")
		return disabledBackend{}
	}
}

// banComment renders the rule comment carried alongside a drop rule so an
// operator reading raw iptables output can tell why an address is banned.
// The comment match caps comments at 256 bytes including the terminator.
func banComment(reason string, until *time.Time) string {
	expiry := "permanent"
	if until != nil {
		expiry = "until " + until.UTC().Format(time.RFC3339)
	}
	comment := reason + ", " + expiry
	if len(comment) > 255 {
		comment = comment[:255]
	}
	return comment
}

// runner is the seam between backends and the host. Tests substitute a fake
// so no test ever touches a real packet filter.
type runner interface {
	run(ctx context.Context, name string, args ...string) (string, error)
	runInput(ctx context.Context, input string, name string, args ...string) (string, error)
}

type execRunner struct {
	timeout time.Duration
}

func (r *execRunner) run(ctx context.Context, name string, args ...string) (string, error) {
	return r.runInput(ctx, "", name, args...)
}

func (r *execRunner) runInput(ctx context.Context, input string, name string, args ...string) (string, error) {
	// each command gets its own deadline so a wedged iptables cannot stall
	// the executor forever
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// disabledBackend skips every host command while letting the rest of the
// pipeline run, which gives a dry-run mode on hosts without a packet filter.
type disabledBackend struct{}

func (disabledBackend) Name() string { return "disabled" }

func (disabledBackend) Setup(context.Context) error { return nil }

func (disabledBackend) Ban(_ context.Context, address string, _ string) error {
	logger.GetLogger().Debug().Str("address", address).Msg("firewall disabled, skipping ban rule")
	return nil
}

func (disabledBackend) Unban(_ context.Context, address string) error {
	logger.GetLogger().Debug().Str("address", address).Msg("firewall disabled, skipping unban")
	return nil
}

func (disabledBackend) IsInstalled(context.Context, string) (bool, error) { return false, nil }

func (disabledBackend) ListBanned(context.Context) ([]InstalledBan, error) { return nil, nil }

func (disabledBackend) OpenPort(_ context.Context, port int32, protocol string, _ string) error {
	logger.GetLogger().Debug().Int32("port", port).Str("protocol", protocol).Msg("firewall disabled, skipping port rule")
	return nil
}

func (disabledBackend) ClosePort(_ context.Context, port int32, protocol string) error {
	logger.GetLogger().Debug().Int32("port", port).Str("protocol", protocol).Msg("firewall disabled, skipping port rule")
	return nil
}

func (disabledBackend) BlockPort(_ context.Context, port int32, protocol string) error {
	logger.GetLogger().Debug().Int32("port", port).Str("protocol", protocol).Msg("firewall disabled, skipping port rule")
	return nil
}

func (disabledBackend) AddRateLimit(_ context.Context, limit, periodSeconds, port int32) error {
	logger.GetLogger().Debug().Int32("limit", limit).Int32("period_seconds", periodSeconds).Int32("port", port).
		Msg("firewall disabled, skipping rate limit rule")
	return nil
}

func (disabledBackend) HealthCheck(context.Context) (map[string]bool, error) {
	return map[string]bool{"disabled": true}, nil
}

func (disabledBackend) SaveRules(context.Context) error { return nil }

func (disabledBackend) RestoreRules(context.Context) error { return nil }

func (disabledBackend) Flush(context.Context) error { return nil }
