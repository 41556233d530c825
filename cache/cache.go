package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ramparthq/rampart/config"
	zlog "github.com/ramparthq/rampart/logger"
)

// key layout
const (
	bannedSetKey = "banned_ips"
	allowSetKey  = "whitelist"
	denySetKey   = "blacklist"
	scorePrefix  = "score:"
	rdnsPrefix   = "rdns:"
	ratePrefix   = "rate:"
)

// Mirror keeps hot lookups in redis. The store stays the source of truth:
// every path here is fail-open, so a dead redis degrades to slower reads
// and stale mirrors, never to wrong enforcement. All methods tolerate a
// nil receiver, which is what Connect returns when caching is off.
type Mirror struct {
	client *redis.Client
	cfg    *config.Caching
	now    func() time.Time
}

// Connect dials redis and verifies the connection. Returns nil with no
// error when the cache tier is disabled or unconfigured.
func Connect(ctx context.Context, cfg *config.Config) (*Mirror, error) {
	if !cfg.Caching.Enabled || cfg.Env.RedisAddress == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Env.RedisAddress,
		Password:     cfg.Env.RedisPassword,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", cfg.Env.RedisAddress, err)
	}

	zlog.GetLogger().Info().Str("address", cfg.Env.RedisAddress).Msg("connected to redis cache")
	return &Mirror{client: client, cfg: &cfg.Caching, now: time.Now}, nil
}

func (m *Mirror) enabled() bool {
	return m != nil && m.client != nil
}

func (m *Mirror) Close() {
	if m.enabled() {
		_ = m.client.Close()
	}
}

func (m *Mirror) warn(op string, err error) {
	zlog.GetLogger().Warn().Err(err).Str("op", op).Msg("cache operation failed, continuing without it")
}

// GetScore returns a cached score. A miss, a disabled cache and a redis
// error all read the same: not cached.
func (m *Mirror) GetScore(ctx context.Context, baseHash string) (int32, bool) {
	if !m.enabled() {
		return 0, false
	}
	score, err := m.client.Get(ctx, scorePrefix+baseHash).Int()
	if err == redis.Nil {
		return 0, false
	}
	if err != nil {
		m.warn("get_score", err)
		return 0, false
	}
	return int32(score), true
}

func (m *Mirror) SetScore(ctx context.Context, baseHash string, score int32) {
	if !m.enabled() {
		return
	}
	ttl := time.Duration(m.cfg.ScoreTTLSeconds) * time.Second
	if err := m.client.Set(ctx, scorePrefix+baseHash, int64(score), ttl).Err(); err != nil {
		m.warn("set_score", err)
	}
}

// GetRDNS returns a cached reverse lookup. Cached negatives (empty
// hostname) count as hits so unresolvable addresses do not retrigger
// lookups every time.
func (m *Mirror) GetRDNS(ctx context.Context, address string) (string, bool) {
	if !m.enabled() {
		return "", false
	}
	hostname, err := m.client.Get(ctx, rdnsPrefix+address).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		m.warn("get_rdns", err)
		return "", false
	}
	return hostname, true
}

func (m *Mirror) SetRDNS(ctx context.Context, address string, hostname string) {
	if !m.enabled() {
		return
	}
	ttl := time.Duration(m.cfg.RDNSTTLSeconds) * time.Second
	if err := m.client.Set(ctx, rdnsPrefix+address, hostname, ttl).Err(); err != nil {
		m.warn("set_rdns", err)
	}
}

func (m *Mirror) MarkBanned(ctx context.Context, address string) {
	if !m.enabled() {
		return
	}
	if err := m.client.SAdd(ctx, bannedSetKey, address).Err(); err != nil {
		m.warn("mark_banned", err)
	}
}

func (m *Mirror) ClearBanned(ctx context.Context, address string) {
	if !m.enabled() {
		return
	}
	if err := m.client.SRem(ctx, bannedSetKey, address).Err(); err != nil {
		m.warn("clear_banned", err)
	}
}

func (m *Mirror) IsBanned(ctx context.Context, address string) bool {
	if !m.enabled() {
		return false
	}
	banned, err := m.client.SIsMember(ctx, bannedSetKey, address).Result()
	if err != nil {
		m.warn("is_banned", err)
		return false
	}
	return banned
}

// ReplaceBanned rewrites the banned set wholesale, used at startup after
// reconciliation so the mirror reflects the store.
func (m *Mirror) ReplaceBanned(ctx context.Context, addresses []string) {
	m.replaceSet(ctx, bannedSetKey, addresses)
}

// SyncAllowlist and SyncDenylist mirror the admin lists for external
// consumers; the in-process filter never reads them back.
func (m *Mirror) SyncAllowlist(ctx context.Context, cidrs []string) {
	m.replaceSet(ctx, allowSetKey, cidrs)
}

func (m *Mirror) SyncDenylist(ctx context.Context, cidrs []string) {
	m.replaceSet(ctx, denySetKey, cidrs)
}

func (m *Mirror) replaceSet(ctx context.Context, key string, members []string) {
	if !m.enabled() {
		return
	}
	pipe := m.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(members) > 0 {
		values := make([]interface{}, len(members))
		for i, member := range members {
			values[i] = member
		}
		pipe.SAdd(ctx, key, values...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		m.warn("replace_set", err)
	}
}

// IncrWindow bumps a fixed-window counter and returns the count inside the
// current window. The first hit of a window sets the key to expire with
// it. Returns 0 whenever the cache cannot answer, which callers must treat
// as "under any limit".
func (m *Mirror) IncrWindow(ctx context.Context, name string, window time.Duration) int64 {
	if !m.enabled() || window <= 0 {
		return 0
	}
	bucket := m.now().Unix() / int64(window.Seconds())
	key := fmt.Sprintf("%s%s:%d", ratePrefix, name, bucket)

	count, err := m.client.Incr(ctx, key).Result()
	if err != nil {
		m.warn("incr_window", err)
		return 0
	}
	if count == 1 {
		if err := m.client.Expire(ctx, key, window).Err(); err != nil {
			m.warn("incr_window", err)
		}
	}
	return count
}

// WindowCount reads a fixed-window counter without bumping it.
func (m *Mirror) WindowCount(ctx context.Context, name string, window time.Duration) int64 {
	if !m.enabled() || window <= 0 {
		return 0
	}
	bucket := m.now().Unix() / int64(window.Seconds())
	key := fmt.Sprintf("%s%s:%d", ratePrefix, name, bucket)

	count, err := m.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0
	}
	if err != nil {
		m.warn("window_count", err)
		return 0
	}
	return count
}

// Stats reports the mirror's health for the API's health endpoint.
type Stats struct {
	Enabled   bool  `json:"enabled"`
	Connected bool  `json:"connected"`
	Keys      int64 `json:"keys"`
}

func (m *Mirror) Stats(ctx context.Context) Stats {
	if !m.enabled() {
		return Stats{}
	}
	keys, err := m.client.DBSize(ctx).Result()
	if err != nil {
		return Stats{Enabled: true}
	}
	return Stats{Enabled: true, Connected: true, Keys: keys}
}
