package config

import (
	"net"
	"sync"

	"github.com/ramparthq/rampart/util"
)

// GetMandatoryAllowedSubnets returns the subnets that must always be on the
// allow list. Banning loopback or the unspecified address would cut the
// host off from itself, so these cannot be removed by configuration.
func GetMandatoryAllowedSubnets() []util.Subnet {
	return []util.Subnet{
		{IPNet: &net.IPNet{IP: net.IP{127, 0, 0, 0}, Mask: net.CIDRMask(8, 32)}},  // loopback
		{IPNet: &net.IPNet{IP: net.ParseIP("::1"), Mask: net.CIDRMask(128, 128)}}, // IPv6 loopback
		{IPNet: &net.IPNet{IP: net.IP{0, 0, 0, 0}, Mask: net.CIDRMask(32, 32)}},   // current host
		{IPNet: &net.IPNet{IP: net.ParseIP("::"), Mask: net.CIDRMask(128, 128)}},  // unspecified IPv6
	}
}

// AllowsIP returns true if an IP is on the configured allow list.
func (fs *Filtering) AllowsIP(ip net.IP) bool {
	return util.ContainsIP(fs.AllowedSubnets, ip)
}

// BlocksIP returns true if an IP is on the configured block list.
// The allow list always wins over the block list.
func (fs *Filtering) BlocksIP(ip net.IP) bool {
	if fs.AllowsIP(ip) {
		return false
	}
	return util.ContainsIP(fs.BlockedSubnets, ip)
}

// Filter answers allow/block questions for the pipeline and the firewall
// executor. It starts from the configured subnets and is extended at runtime
// with the address lists persisted in the store, so it takes a lock: the
// admin surface mutates it while the workers read it.
type Filter struct {
	mu      sync.RWMutex
	allowed []util.Subnet
	blocked []util.Subnet
}

// NewFilter builds a filter seeded from the configured subnet lists.
func NewFilter(filtering Filtering) *Filter {
	allowed := make([]util.Subnet, len(filtering.AllowedSubnets))
	copy(allowed, filtering.AllowedSubnets)
	blocked := make([]util.Subnet, len(filtering.BlockedSubnets))
	copy(blocked, filtering.BlockedSubnets)

	return &Filter{
		allowed: util.IncludeMandatorySubnets(allowed, GetMandatoryAllowedSubnets()),
		blocked: blocked,
	}
}

// Allowed returns true if an address can never be scored or banned.
// Addresses that do not parse are not allow-listed.
func (f *Filter) Allowed(address string) bool {
	ip := net.ParseIP(address)
	if ip == nil {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return util.ContainsIP(f.allowed, ip)
}

// Blocked returns true if an address is on the block list. The allow list
// always wins over the block list.
func (f *Filter) Blocked(address string) bool {
	ip := net.ParseIP(address)
	if ip == nil {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if util.ContainsIP(f.allowed, ip) {
		return false
	}
	return util.ContainsIP(f.blocked, ip)
}

// AddAllowed adds a subnet to the allow list.
func (f *Filter) AddAllowed(subnet util.Subnet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allowed = util.CompactSubnets(append(f.allowed, subnet))
}

// AddBlocked adds a subnet to the block list.
func (f *Filter) AddBlocked(subnet util.Subnet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked = util.CompactSubnets(append(f.blocked, subnet))
}

// ReplaceAllowed swaps in a fresh allow list, preserving the mandatory
// subnets. Used when the persisted lists are (re)loaded from the store.
func (f *Filter) ReplaceAllowed(subnets []util.Subnet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allowed = util.IncludeMandatorySubnets(util.CompactSubnets(subnets), GetMandatoryAllowedSubnets())
}

// ReplaceBlocked swaps in a fresh block list.
func (f *Filter) ReplaceBlocked(subnets []util.Subnet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked = util.CompactSubnets(subnets)
}
