package rdns

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"

	"github.com/ramparthq/rampart/config"
	zlog "github.com/ramparthq/rampart/logger"
	"github.com/ramparthq/rampart/util"
)

// fallbackTTL bounds the in-process memo when the cache TTL is unset.
const fallbackTTL = time.Hour

// the batch annotator runs this many lookups in flight at once
const annotateConcurrency = 8

// Cache persists resolved names across restarts. *cache.Mirror satisfies it.
// Negative results are stored as empty hostnames so dead addresses are not
// re-queried on every listing.
type Cache interface {
	GetRDNS(ctx context.Context, address string) (string, bool)
	SetRDNS(ctx context.Context, address string, hostname string)
}

type memoEntry struct {
	hostname string
	expires  time.Time
}

// Resolver answers reverse DNS lookups for display purposes. Every lookup is
// bounded by the configured timeout and every result, including a miss, is
// memoized so a slow or dead resolver cannot stall the callers that decorate
// listings and alerts with hostnames.
type Resolver struct {
	cfg    *config.RDNS
	server string
	cache  Cache
	ttl    time.Duration

	mu   sync.Mutex
	memo map[string]memoEntry

	// exchange performs one DNS round trip and is swapped out by tests
	exchange func(ctx context.Context, msg *dns.Msg, server string) (*dns.Msg, error)

	now func() time.Time
}

// NewResolver builds a resolver from the rdns and caching sections of the
// config. A nil shared cache is fine; the resolver then relies on its own
// in-process memo.
func NewResolver(cfg *config.Config, cache Cache) *Resolver {
	client := &dns.Client{
		Timeout: time.Duration(cfg.RDNS.TimeoutSeconds) * time.Second,
	}

	server := cfg.RDNS.Resolver
	if server == "" {
		server = systemResolver()
	}

	ttl := time.Duration(cfg.Caching.RDNSTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = fallbackTTL
	}

	r := &Resolver{
		cfg:    &cfg.RDNS,
		server: server,
		cache:  cache,
		ttl:    ttl,
		memo:   make(map[string]memoEntry),
		now:    time.Now,
	}
	r.exchange = func(ctx context.Context, msg *dns.Msg, server string) (*dns.Msg, error) {
		in, _, err := client.ExchangeContext(ctx, msg, server)
		return in, err
	}
	return r
}

// systemResolver reads the first nameserver from resolv.conf, falling back
// to a public resolver when the file is missing or empty.
func systemResolver() string {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return "1.1.1.1:53"
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port)
}

// Enabled reports whether lookups will actually be performed. A nil resolver
// counts as disabled so callers can wire it unconditionally.
func (r *Resolver) Enabled() bool {
	return r != nil && r.cfg.Enabled
}

// Lookup returns the PTR name for an address, or the empty string when rdns
// is disabled, the address has no record, or the lookup fails. Failures are
// remembered like ordinary misses for the cache TTL.
func (r *Resolver) Lookup(ctx context.Context, address string) string {
	if !r.Enabled() {
		return ""
	}
	// loopback and RFC1918 sources have no public PTR record; skip the
	// round trip instead of caching a miss for them
	if ip := net.ParseIP(address); ip == nil || !util.IPIsPubliclyRoutable(ip) {
		return ""
	}

	if hostname, ok := r.fromMemo(address); ok {
		return hostname
	}
	if r.cache != nil {
		if hostname, ok := r.cache.GetRDNS(ctx, address); ok {
			r.memoize(address, hostname)
			return hostname
		}
	}

	hostname := r.query(ctx, address)
	r.memoize(address, hostname)
	if r.cache != nil {
		r.cache.SetRDNS(ctx, address, hostname)
	}
	return hostname
}

// Annotate resolves a batch of addresses and returns hostnames keyed by
// address. Addresses that do not resolve are left out of the map. Lookups
// run concurrently with a fixed bound so large ban listings stay fast even
// when the resolver is slow.
func (r *Resolver) Annotate(ctx context.Context, addresses []string) map[string]string {
	hostnames := make(map[string]string)
	if !r.Enabled() || len(addresses) == 0 {
		return hostnames
	}

	seen := make(map[string]bool, len(addresses))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(annotateConcurrency)
	for _, address := range addresses {
		if seen[address] {
			continue
		}
		seen[address] = true

		address := address
		g.Go(func() error {
			if hostname := r.Lookup(ctx, address); hostname != "" {
				mu.Lock()
				hostnames[address] = hostname
				mu.Unlock()
			}
			return nil
		})
	}
	// workers never return errors; Wait is just the join point
	_ = g.Wait()
	return hostnames
}

func (r *Resolver) query(ctx context.Context, address string) string {
	arpa, err := dns.ReverseAddr(address)
	if err != nil {
		return ""
	}

	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)

	in, err := r.exchange(ctx, msg, r.server)
	if err != nil {
		zlog.GetLogger().Debug().Err(err).
			Str("address", address).
			Str("server", r.server).
			Msg("reverse dns lookup failed")
		return ""
	}

	for _, answer := range in.Answer {
		if ptr, ok := answer.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, ".")
		}
	}
	return ""
}

func (r *Resolver) fromMemo(address string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.memo[address]
	if !ok {
		return "", false
	}
	if r.now().After(entry.expires) {
		delete(r.memo, address)
		return "", false
	}
	return entry.hostname, true
}

func (r *Resolver) memoize(address, hostname string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memo[address] = memoEntry{hostname: hostname, expires: r.now().Add(r.ttl)}
}
