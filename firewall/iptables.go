package firewall

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ramparthq/rampart/logger"
	"github.com/spf13/afero"
)

// Dedicated chains keep rampart's rules separate from whatever else manages
// the host filter, so flushing or rebuilding them never touches foreign rules.
const (
	bansChain      = "FIREWALL_BANS"
	rateLimitChain = "FIREWALL_RATE_LIMIT"
	portRulesChain = "FIREWALL_PORT_RULES"
)

type iptablesBackend struct {
	run       runner
	afs       afero.Fs
	rulesPath string
}

func newIptablesBackend(run runner, afs afero.Fs, rulesPath string) *iptablesBackend {
	return &iptablesBackend{run: run, afs: afs, rulesPath: rulesPath}
}

func (b *iptablesBackend) Name() string { return "iptables" }

// Setup ensures the managed chains exist and are linked from INPUT. Inserting
// at position 1 reverses order, so the bans chain is linked last to guarantee
// it is evaluated before port accepts can let a banned address through.
func (b *iptablesBackend) Setup(ctx context.Context) error {
	for _, chain := range []string{portRulesChain, rateLimitChain, bansChain} {
		if err := b.ensureChain(ctx, chain); err != nil {
			return err
		}
	}
	return nil
}

func (b *iptablesBackend) ensureChain(ctx context.Context, chain string) error {
	if _, err := b.run.run(ctx, "iptables", "-L", chain, "-n"); err != nil {
		if _, err := b.run.run(ctx, "iptables", "-N", chain); err != nil {
			return fmt.Errorf("creating chain %s: %w", chain, err)
		}
	}
	if _, err := b.run.run(ctx, "iptables", "-C", "INPUT", "-j", chain); err != nil {
		if _, err := b.run.run(ctx, "iptables", "-I", "INPUT", "1", "-j", chain); err != nil {
			return fmt.Errorf("linking chain %s from INPUT: %w", chain, err)
		}
	}
	return nil
}

func (b *iptablesBackend) Ban(ctx context.Context, address string, comment string) error {
	args := []string{"-A", bansChain, "-s", address, "-j", "DROP"}
	if comment != "" {
		args = append(args, "-m", "comment", "--comment", comment)
	}
	if _, err := b.run.run(ctx, "iptables", args...); err != nil {
		return err
	}
	b.saveQuietly(ctx)
	return nil
}

// Unban removes every drop rule for the address. Duplicates can accumulate if
// an operator adds rules by hand, so deletion walks the line numbers in
// descending order to keep the remaining numbers stable.
func (b *iptablesBackend) Unban(ctx context.Context, address string) error {
	lines, err := b.banLines(ctx, address)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}
	sort.Sort(sort.Reverse(sort.IntSlice(lines)))
	for _, num := range lines {
		if _, err := b.run.run(ctx, "iptables", "-D", bansChain, strconv.Itoa(num)); err != nil {
			return err
		}
	}
	b.saveQuietly(ctx)
	return nil
}

func (b *iptablesBackend) IsInstalled(ctx context.Context, address string) (bool, error) {
	lines, err := b.banLines(ctx, address)
	if err != nil {
		return false, err
	}
	return len(lines) > 0, nil
}

// banLines returns the rule positions holding drops for the address.
// Listing output looks like:
//
//	num  target  prot opt source       destination
//	1    DROP    all  --  203.0.113.9  0.0.0.0/0    /* scanner, until ... */
func (b *iptablesBackend) banLines(ctx context.Context, address string) ([]int, error) {
	out, err := b.run.run(ctx, "iptables", "-L", bansChain, "-n", "--line-numbers")
	if err != nil {
		return nil, err
	}
	var lines []int
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		num, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		if fields[1] == "DROP" && fields[4] == address {
			lines = append(lines, num)
		}
	}
	return lines, nil
}

// ListBanned reads the verbose listing so callers also get the packet and
// byte counters the kernel kept for each drop rule.
func (b *iptablesBackend) ListBanned(ctx context.Context) ([]InstalledBan, error) {
	out, err := b.run.run(ctx, "iptables", "-L", bansChain, "-v", "-x", "-n")
	if err != nil {
		return nil, err
	}
	var bans []InstalledBan
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 9 || fields[2] != "DROP" {
			continue
		}
		packets, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			continue
		}
		bytes, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		bans = append(bans, InstalledBan{
			Address: fields[7],
			Packets: packets,
			Bytes:   bytes,
			Comment: ruleComment(line),
		})
	}
	return bans, nil
}

func ruleComment(line string) string {
	start := strings.Index(line, "/*")
	end := strings.LastIndex(line, "*/")
	if start < 0 || end <= start {
		return ""
	}
	return strings.TrimSpace(line[start+2 : end])
}

func (b *iptablesBackend) OpenPort(ctx context.Context, port int32, protocol string, source string) error {
	return b.addPortRule(ctx, port, protocol, source, "ACCEPT")
}

func (b *iptablesBackend) BlockPort(ctx context.Context, port int32, protocol string) error {
	return b.addPortRule(ctx, port, protocol, "", "DROP")
}

func (b *iptablesBackend) addPortRule(ctx context.Context, port int32, protocol, source, target string) error {
	args := []string{"-A", portRulesChain, "-p", protocol, "--dport", strconv.Itoa(int(port))}
	if source != "" {
		args = append(args, "-s", source)
	}
	args = append(args, "-j", target)
	if _, err := b.run.run(ctx, "iptables", args...); err != nil {
		return err
	}
	b.saveQuietly(ctx)
	return nil
}

// ClosePort drops every rule for the port and protocol from the port chain,
// accepts and blocks alike.
func (b *iptablesBackend) ClosePort(ctx context.Context, port int32, protocol string) error {
	out, err := b.run.run(ctx, "iptables", "-L", portRulesChain, "-n", "--line-numbers")
	if err != nil {
		return err
	}
	dport := "dpt:" + strconv.Itoa(int(port))
	var lines []int
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		num, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		if fields[2] != protocol {
			continue
		}
		for _, field := range fields[5:] {
			if field == dport {
				lines = append(lines, num)
				break
			}
		}
	}
	if len(lines) == 0 {
		return nil
	}
	sort.Sort(sort.Reverse(sort.IntSlice(lines)))
	for _, num := range lines {
		if _, err := b.run.run(ctx, "iptables", "-D", portRulesChain, strconv.Itoa(num)); err != nil {
			return err
		}
	}
	b.saveQuietly(ctx)
	return nil
}

func (b *iptablesBackend) AddRateLimit(ctx context.Context, limit, periodSeconds, port int32) error {
	name := "rampart_all"
	args := []string{"-A", rateLimitChain}
	if port > 0 {
		name = fmt.Sprintf("rampart_%d", port)
		args = append(args, "-p", "tcp", "--dport", strconv.Itoa(int(port)))
	}
	args = append(args,
		"-m", "hashlimit",
		"--hashlimit-above", fmt.Sprintf("%d/%s", limit, hashlimitUnit(periodSeconds)),
		"--hashlimit-burst", strconv.Itoa(int(limit)),
		"--hashlimit-mode", "srcip",
		"--hashlimit-name", name,
		"-j", "DROP",
	)
	if _, err := b.run.run(ctx, "iptables", args...); err != nil {
		return err
	}
	b.saveQuietly(ctx)
	return nil
}

// hashlimit only understands fixed units, so the period rounds up to the
// nearest one.
func hashlimitUnit(periodSeconds int32) string {
	switch {
	case periodSeconds <= 1:
		return "second"
	case periodSeconds <= 60:
		return "minute"
	case periodSeconds <= 3600:
		return "hour"
	default:
		return "day"
	}
}

func (b *iptablesBackend) HealthCheck(ctx context.Context) (map[string]bool, error) {
	checks := make(map[string]bool)
	_, err := b.run.run(ctx, "iptables", "--version")
	checks["iptables"] = err == nil
	for _, chain := range []string{bansChain, rateLimitChain, portRulesChain} {
		_, err := b.run.run(ctx, "iptables", "-L", chain, "-n")
		checks["chain_"+strings.ToLower(chain)] = err == nil
	}
	_, err = b.run.run(ctx, "iptables", "-C", "INPUT", "-j", bansChain)
	checks["input_jump"] = err == nil

	for name, ok := range checks {
		if !ok {
			return checks, fmt.Errorf("%w: %s", ErrUnhealthy, name)
		}
	}
	return checks, nil
}

// SaveRules snapshots the full ruleset so bans survive a host reboot.
func (b *iptablesBackend) SaveRules(ctx context.Context) error {
	if b.rulesPath == "" {
		return nil
	}
	out, err := b.run.run(ctx, "iptables-save")
	if err != nil {
		return err
	}
	if err := b.afs.MkdirAll(filepath.Dir(b.rulesPath), 0o755); err != nil {
		return fmt.Errorf("creating rules directory: %w", err)
	}
	if err := afero.WriteFile(b.afs, b.rulesPath, []byte(out), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", b.rulesPath, err)
	}
	return nil
}

func (b *iptablesBackend) RestoreRules(ctx context.Context) error {
	data, err := afero.ReadFile(b.afs, b.rulesPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", b.rulesPath, err)
	}
	_, err = b.run.runInput(ctx, string(data), "iptables-restore")
	return err
}

func (b *iptablesBackend) Flush(ctx context.Context) error {
	for _, chain := range []string{bansChain, rateLimitChain, portRulesChain} {
		if _, err := b.run.run(ctx, "iptables", "-F", chain); err != nil {
			return fmt.Errorf("flushing chain %s: %w", chain, err)
		}
	}
	b.saveQuietly(ctx)
	return nil
}

// saveQuietly persists after a mutation. The rule is already live, so a
// failed snapshot is logged rather than failing the mutation; reconciliation
// reinstalls anything lost across a reboot.
func (b *iptablesBackend) saveQuietly(ctx context.Context) {
	if err := b.SaveRules(ctx); err != nil {
		logger.GetLogger().Warn().Err(err).Str("path", b.rulesPath).Msg("failed to persist firewall rules")
	}
}
