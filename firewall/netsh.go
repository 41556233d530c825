package firewall

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Rule name prefixes mirror the chain split on the iptables side: one
// namespace per concern, so managed rules can be found and removed without
// touching rules owned by anything else on the host.
const (
	blockRulePrefix     = "FirewallBlock_"
	portRulePrefix      = "FirewallPort_"
	blockPortRulePrefix = "FirewallBlockPort_"
)

type netshBackend struct {
	run runner
}

func newNetshBackend(run runner) *netshBackend {
	return &netshBackend{run: run}
}

func (b *netshBackend) Name() string { return "netsh" }

// Setup is a no-op: Windows Firewall needs no chain scaffolding and rules
// persist on their own.
func (b *netshBackend) Setup(context.Context) error { return nil }

// blockRuleName derives a stable rule name from the address. Dots and colons
// both map to underscores because netsh rejects them in names.
func blockRuleName(address string) string {
	return blockRulePrefix + strings.NewReplacer(".", "_", ":", "_").Replace(address)
}

func portRuleName(prefix, protocol string, port int32) string {
	return fmt.Sprintf("%s%s_%d", prefix, strings.ToUpper(protocol), port)
}

func (b *netshBackend) Ban(ctx context.Context, address string, comment string) error {
	args := []string{"advfirewall", "firewall", "add", "rule",
		"name=" + blockRuleName(address), "dir=in", "action=block", "remoteip=" + address}
	if comment != "" {
		args = append(args, "description="+comment)
	}
	_, err := b.run.run(ctx, "netsh", args...)
	return err
}

func (b *netshBackend) Unban(ctx context.Context, address string) error {
	return b.deleteRule(ctx, blockRuleName(address))
}

// deleteRule tolerates a missing rule so unban stays idempotent.
func (b *netshBackend) deleteRule(ctx context.Context, name string) error {
	out, err := b.run.run(ctx, "netsh", "advfirewall", "firewall", "delete", "rule", "name="+name)
	if err != nil && !noRulesMatch(out, err) {
		return err
	}
	return nil
}

func noRulesMatch(out string, err error) bool {
	return strings.Contains(out, "No rules match") || strings.Contains(err.Error(), "No rules match")
}

func (b *netshBackend) IsInstalled(ctx context.Context, address string) (bool, error) {
	out, err := b.run.run(ctx, "netsh", "advfirewall", "firewall", "show", "rule", "name="+blockRuleName(address))
	if err != nil {
		if noRulesMatch(out, err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListBanned parses the full rule listing. netsh prints one block per rule:
//
//	Rule Name:  FirewallBlock_203_0_113_9
//	...
//	RemoteIP:   203.0.113.9/32
//
// Windows Firewall keeps no per-rule counters, so Packets and Bytes are zero.
func (b *netshBackend) ListBanned(ctx context.Context) ([]InstalledBan, error) {
	out, err := b.run.run(ctx, "netsh", "advfirewall", "firewall", "show", "rule", "name=all", "dir=in")
	if err != nil {
		if noRulesMatch(out, err) {
			return nil, nil
		}
		return nil, err
	}
	var bans []InstalledBan
	managed := false
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if name, ok := strings.CutPrefix(line, "Rule Name:"); ok {
			managed = strings.HasPrefix(strings.TrimSpace(name), blockRulePrefix)
			continue
		}
		if !managed {
			continue
		}
		if value, ok := strings.CutPrefix(line, "RemoteIP:"); ok {
			address := strings.TrimSpace(value)
			address = strings.TrimSuffix(address, "/32")
			address = strings.TrimSuffix(address, "/128")
			if address != "" && address != "Any" {
				bans = append(bans, InstalledBan{Address: address})
			}
			managed = false
		}
	}
	return bans, nil
}

func (b *netshBackend) OpenPort(ctx context.Context, port int32, protocol string, source string) error {
	args := []string{"advfirewall", "firewall", "add", "rule",
		"name=" + portRuleName(portRulePrefix, protocol, port),
		"dir=in", "action=allow",
		"protocol=" + strings.ToUpper(protocol),
		"localport=" + strconv.Itoa(int(port))}
	if source != "" {
		args = append(args, "remoteip="+source)
	}
	_, err := b.run.run(ctx, "netsh", args...)
	return err
}

func (b *netshBackend) BlockPort(ctx context.Context, port int32, protocol string) error {
	_, err := b.run.run(ctx, "netsh", "advfirewall", "firewall", "add", "rule",
		"name="+portRuleName(blockPortRulePrefix, protocol, port),
		"dir=in", "action=block",
		"protocol="+strings.ToUpper(protocol),
		"localport="+strconv.Itoa(int(port)))
	return err
}

// ClosePort removes both the allow and the block rule for the port, matching
// the iptables behavior of clearing every rule for that port.
func (b *netshBackend) ClosePort(ctx context.Context, port int32, protocol string) error {
	if err := b.deleteRule(ctx, portRuleName(portRulePrefix, protocol, port)); err != nil {
		return err
	}
	return b.deleteRule(ctx, portRuleName(blockPortRulePrefix, protocol, port))
}

func (b *netshBackend) AddRateLimit(ctx context.Context, limit, periodSeconds, port int32) error {
	return fmt.Errorf("rate limits: %w", ErrUnsupported)
}

func (b *netshBackend) HealthCheck(ctx context.Context) (map[string]bool, error) {
	checks := make(map[string]bool)
	out, err := b.run.run(ctx, "netsh", "advfirewall", "show", "currentprofile")
	checks["netsh"] = err == nil
	checks["firewall_enabled"] = err == nil && profileEnabled(out)
	for name, ok := range checks {
		if !ok {
			return checks, fmt.Errorf("%w: %s", ErrUnhealthy, name)
		}
	}
	return checks, nil
}

func profileEnabled(out string) bool {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "State" && fields[1] == "ON" {
			return true
		}
	}
	return false
}

// SaveRules and RestoreRules are no-ops: Windows Firewall persists its own
// rule set across reboots.
func (b *netshBackend) SaveRules(context.Context) error { return nil }

func (b *netshBackend) RestoreRules(context.Context) error { return nil }

// Flush deletes every rampart-managed rule by name prefix.
func (b *netshBackend) Flush(ctx context.Context) error {
	out, err := b.run.run(ctx, "netsh", "advfirewall", "firewall", "show", "rule", "name=all")
	if err != nil {
		if noRulesMatch(out, err) {
			return nil
		}
		return err
	}
	for _, name := range managedRuleNames(out) {
		if err := b.deleteRule(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func managedRuleNames(out string) []string {
	var names []string
	for _, line := range strings.Split(out, "\n") {
		value, ok := strings.CutPrefix(strings.TrimSpace(line), "Rule Name:")
		if !ok {
			continue
		}
		name := strings.TrimSpace(value)
		for _, prefix := range []string{blockRulePrefix, portRulePrefix, blockPortRulePrefix} {
			if strings.HasPrefix(name, prefix) {
				names = append(names, name)
				break
			}
		}
	}
	return names
}
