package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/ramparthq/rampart/audit"
	"github.com/ramparthq/rampart/config"
	"github.com/ramparthq/rampart/database"
	"github.com/ramparthq/rampart/firewall"
	"github.com/ramparthq/rampart/scoring"
)

type fakeStore struct {
	mu sync.Mutex

	pingErr      error
	bans         []database.BanRecord
	activeBan    *database.BanRecord
	threats      []database.ThreatEvent
	fingerprints []database.Fingerprint
	fp           *database.Fingerprint
	history      []database.ScoreHistory
	chain        *database.IdentityChain
	logs         []database.AccessLog
	stats        []database.Statistic
	lists        map[database.ListKind][]database.ListEntry
	ports        []database.PortRule
	rules        []database.CustomRule
	nextRuleID   int64

	totalRequests   int64
	uniqueAddresses int64
	threatCount     int64
	banCount        int64
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) ActiveBans(context.Context) ([]database.BanRecord, error) {
	return f.bans, nil
}

func (f *fakeStore) GetActiveBan(_ context.Context, address string) (*database.BanRecord, error) {
	if f.activeBan == nil || f.activeBan.IPAddress != address {
		return nil, database.ErrNotFound
	}
	return f.activeBan, nil
}

func (f *fakeStore) RecentThreats(_ context.Context, _ string, _ int) ([]database.ThreatEvent, error) {
	return f.threats, nil
}

func (f *fakeStore) TopFingerprints(_ context.Context, _ int) ([]database.Fingerprint, error) {
	return f.fingerprints, nil
}

func (f *fakeStore) GetFingerprint(_ context.Context, baseHash string) (*database.Fingerprint, error) {
	if f.fp == nil || f.fp.BaseHash != baseHash {
		return nil, database.ErrNotFound
	}
	return f.fp, nil
}

func (f *fakeStore) ScoreHistoryFor(_ context.Context, _ string, _ int) ([]database.ScoreHistory, error) {
	return f.history, nil
}

func (f *fakeStore) GetChain(_ context.Context, id string) (*database.IdentityChain, error) {
	if f.chain == nil || f.chain.ID != id {
		return nil, database.ErrNotFound
	}
	return f.chain, nil
}

func (f *fakeStore) RecentLogsByAddress(_ context.Context, _ string, _ int) ([]database.AccessLog, error) {
	return f.logs, nil
}

func (f *fakeStore) RecentStatistics(_ context.Context, _ int) ([]database.Statistic, error) {
	return f.stats, nil
}

func (f *fakeStore) RequestCountBetween(_ context.Context, _, _ time.Time) (int64, int64, error) {
	return f.totalRequests, f.uniqueAddresses, nil
}

func (f *fakeStore) CountThreatsBetween(_ context.Context, _, _ time.Time) (int64, error) {
	return f.threatCount, nil
}

func (f *fakeStore) CountBansBetween(_ context.Context, _, _ time.Time) (int64, error) {
	return f.banCount, nil
}

func (f *fakeStore) AddListEntry(_ context.Context, kind database.ListKind, cidr, description string) (*database.ListEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lists == nil {
		f.lists = make(map[database.ListKind][]database.ListEntry)
	}
	entry := database.ListEntry{ID: int64(len(f.lists[kind]) + 1), CIDR: cidr, Description: description}
	f.lists[kind] = append(f.lists[kind], entry)
	return &entry, nil
}

func (f *fakeStore) RemoveListEntry(_ context.Context, kind database.ListKind, cidr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := f.lists[kind]
	for i, entry := range entries {
		if entry.CIDR == cidr {
			f.lists[kind] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}
	return database.ErrNotFound
}

func (f *fakeStore) ListEntries(_ context.Context, kind database.ListKind) ([]database.ListEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]database.ListEntry{}, f.lists[kind]...), nil
}

func (f *fakeStore) ListPortRules(_ context.Context, _ bool) ([]database.PortRule, error) {
	return f.ports, nil
}

func (f *fakeStore) ListCustomRules(_ context.Context, enabledOnly bool) ([]database.CustomRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]database.CustomRule, 0, len(f.rules))
	for _, rule := range f.rules {
		if enabledOnly && !rule.Enabled {
			continue
		}
		out = append(out, rule)
	}
	return out, nil
}

func (f *fakeStore) CreateCustomRule(_ context.Context, rule *database.CustomRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRuleID++
	rule.ID = f.nextRuleID
	f.rules = append(f.rules, *rule)
	return nil
}

func (f *fakeStore) UpdateCustomRule(_ context.Context, rule *database.CustomRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rules {
		if f.rules[i].ID == rule.ID {
			f.rules[i] = *rule
			return nil
		}
	}
	return database.ErrNotFound
}

func (f *fakeStore) SetCustomRuleEnabled(_ context.Context, id int64, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rules {
		if f.rules[i].ID == id {
			f.rules[i].Enabled = enabled
			return nil
		}
	}
	return database.ErrNotFound
}

func (f *fakeStore) DeleteCustomRule(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rules {
		if f.rules[i].ID == id {
			f.rules = append(f.rules[:i], f.rules[i+1:]...)
			return nil
		}
	}
	return database.ErrNotFound
}

type fakeEnforcer struct {
	mu         sync.Mutex
	banReqs    []firewall.BanRequest
	banErr     error
	unbanErr   error
	record     *database.BanRecord
	portOps    []string
	rateLimits []string
	health     map[string]bool
	healthErr  error
}

func (f *fakeEnforcer) Ban(_ context.Context, req firewall.BanRequest) (*database.BanRecord, error) {
	if f.banErr != nil {
		return nil, f.banErr
	}
	f.mu.Lock()
	f.banReqs = append(f.banReqs, req)
	f.mu.Unlock()
	return &database.BanRecord{IPAddress: req.Address, Reason: req.Reason, IsActive: true, BanCount: 1}, nil
}

func (f *fakeEnforcer) Unban(_ context.Context, address string) (*database.BanRecord, error) {
	if f.unbanErr != nil {
		return nil, f.unbanErr
	}
	return &database.BanRecord{IPAddress: address, IsActive: false}, nil
}

func (f *fakeEnforcer) OpenPort(_ context.Context, port int32, protocol, source string) (*database.PortRule, error) {
	f.mu.Lock()
	f.portOps = append(f.portOps, fmt.Sprintf("open %d/%s source=%q", port, protocol, source))
	f.mu.Unlock()
	return &database.PortRule{Port: port, Protocol: protocol, Action: "open", Source: source, IsActive: true}, nil
}

func (f *fakeEnforcer) ClosePort(_ context.Context, port int32, protocol string) (*database.PortRule, error) {
	f.mu.Lock()
	f.portOps = append(f.portOps, fmt.Sprintf("close %d/%s", port, protocol))
	f.mu.Unlock()
	return &database.PortRule{Port: port, Protocol: protocol, Action: "close"}, nil
}

func (f *fakeEnforcer) BlockPort(_ context.Context, port int32, protocol string) (*database.PortRule, error) {
	f.mu.Lock()
	f.portOps = append(f.portOps, fmt.Sprintf("block %d/%s", port, protocol))
	f.mu.Unlock()
	return &database.PortRule{Port: port, Protocol: protocol, Action: "block", IsActive: true}, nil
}

func (f *fakeEnforcer) AddRateLimit(_ context.Context, limit, periodSeconds, port int32) error {
	f.mu.Lock()
	f.rateLimits = append(f.rateLimits, fmt.Sprintf("%d/%ds port=%d", limit, periodSeconds, port))
	f.mu.Unlock()
	return nil
}

func (f *fakeEnforcer) HealthCheck(context.Context) (map[string]bool, error) {
	return f.health, f.healthErr
}

func (f *fakeEnforcer) BackendName() string { return "iptables" }

type fakeScorer struct {
	mu    sync.Mutex
	score int32
	risk  scoring.RiskLevel
	total int32
	adds  []scoring.Addition
	err   error
}

func (f *fakeScorer) CurrentScore(context.Context, string) (int32, scoring.RiskLevel, error) {
	return f.score, f.risk, f.err
}

func (f *fakeScorer) RiskFor(int32) scoring.RiskLevel { return f.risk }

func (f *fakeScorer) Apply(_ context.Context, add scoring.Addition) (int32, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.mu.Lock()
	f.adds = append(f.adds, add)
	f.mu.Unlock()
	return f.total, nil
}

type fakeResolver struct {
	hostnames map[string]string
}

func (f *fakeResolver) Annotate(_ context.Context, addresses []string) map[string]string {
	out := make(map[string]string)
	for _, address := range addresses {
		if hostname, ok := f.hostnames[address]; ok {
			out[address] = hostname
		}
	}
	return out
}

type testServer struct {
	*Server
	store    *fakeStore
	enforcer *fakeEnforcer
	scorer   *fakeScorer
	fs       afero.Fs
	cfg      *config.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := config.GetDefaultConfig()
	store := &fakeStore{}
	enforcer := &fakeEnforcer{health: map[string]bool{"INPUT": true}}
	scorer := &fakeScorer{risk: scoring.RiskHigh}
	fs := afero.NewMemMapFs()
	resolver := &fakeResolver{hostnames: map[string]string{"203.0.113.9": "crawler.example.net"}}

	server := NewServer(&cfg, store, enforcer, scorer,
		config.NewFilter(cfg.Filtering), audit.NewLogger(fs, &cfg.Audit), nil, resolver)
	return &testServer{Server: server, store: store, enforcer: enforcer, scorer: scorer, fs: fs, cfg: &cfg}
}

func (ts *testServer) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	return w
}

func (ts *testServer) auditLog(t *testing.T) string {
	t.Helper()
	data, err := afero.ReadFile(ts.fs, filepath.Join(ts.cfg.Audit.Directory, "audit.log"))
	require.NoError(t, err)
	return string(data)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthEndpoint(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		ts := newTestServer(t)
		w := ts.do(t, http.MethodGet, "/health", nil)

		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		require.Equal(t, "ok", body["status"])
		require.Equal(t, "iptables", body["backend"])
	})

	t.Run("database down", func(t *testing.T) {
		ts := newTestServer(t)
		ts.store.pingErr = errors.New("connection refused")

		w := ts.do(t, http.MethodGet, "/health", nil)
		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		require.Equal(t, "degraded", decodeBody(t, w)["status"])
	})

	t.Run("firewall check failing", func(t *testing.T) {
		ts := newTestServer(t)
		ts.enforcer.health = map[string]bool{"INPUT": false}

		w := ts.do(t, http.MethodGet, "/health", nil)
		require.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestCreateBan(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		ts := newTestServer(t)

		w := ts.do(t, http.MethodPost, "/bans", gin.H{"address": "203.0.113.9"})
		require.Equal(t, http.StatusCreated, w.Code)

		require.Len(t, ts.enforcer.banReqs, 1)
		req := ts.enforcer.banReqs[0]
		require.Equal(t, "203.0.113.9", req.Address)
		require.Equal(t, "manual ban", req.Reason)
		require.Zero(t, req.Duration)
		require.False(t, req.Permanent)
	})

	t.Run("honors duration and reason", func(t *testing.T) {
		ts := newTestServer(t)

		w := ts.do(t, http.MethodPost, "/bans", gin.H{
			"address":          "203.0.113.9",
			"reason":           "scraping",
			"duration_seconds": 600,
		})
		require.Equal(t, http.StatusCreated, w.Code)
		require.Equal(t, 10*time.Minute, ts.enforcer.banReqs[0].Duration)
		require.Equal(t, "scraping", ts.enforcer.banReqs[0].Reason)
	})

	t.Run("rejects malformed address", func(t *testing.T) {
		ts := newTestServer(t)

		w := ts.do(t, http.MethodPost, "/bans", gin.H{"address": "not-an-ip"})
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Empty(t, ts.enforcer.banReqs)
	})

	t.Run("allow-listed address conflicts", func(t *testing.T) {
		ts := newTestServer(t)
		ts.enforcer.banErr = firewall.ErrAllowlisted

		w := ts.do(t, http.MethodPost, "/bans", gin.H{"address": "127.0.0.1"})
		require.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestDeleteBan(t *testing.T) {
	t.Run("no active ban", func(t *testing.T) {
		ts := newTestServer(t)
		ts.enforcer.unbanErr = database.ErrNotFound

		w := ts.do(t, http.MethodDelete, "/bans/203.0.113.9", nil)
		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("active ban removed", func(t *testing.T) {
		ts := newTestServer(t)

		w := ts.do(t, http.MethodDelete, "/bans/203.0.113.9", nil)
		require.Equal(t, http.StatusOK, w.Code)
	})
}

func TestListBansAnnotatesHostnames(t *testing.T) {
	ts := newTestServer(t)
	ts.store.bans = []database.BanRecord{
		{IPAddress: "203.0.113.9", Reason: "scraping", IsActive: true},
		{IPAddress: "198.51.100.7", Reason: "sql injection", IsActive: true},
	}

	w := ts.do(t, http.MethodGet, "/bans", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Bans []struct {
			IPAddress string `json:"ip_address"`
			Hostname  string `json:"hostname"`
		} `json:"bans"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	require.Equal(t, "crawler.example.net", body.Bans[0].Hostname)
	require.Empty(t, body.Bans[1].Hostname)
}

func TestScoreDetail(t *testing.T) {
	t.Run("unknown fingerprint", func(t *testing.T) {
		ts := newTestServer(t)

		w := ts.do(t, http.MethodGet, "/scores/deadbeef", nil)
		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("known fingerprint", func(t *testing.T) {
		ts := newTestServer(t)
		ts.store.fp = &database.Fingerprint{BaseHash: "deadbeef", IPAddress: "203.0.113.9", ThreatScore: 120}
		ts.store.history = []database.ScoreHistory{{BaseHash: "deadbeef", Delta: 45}}
		ts.scorer.score = 120

		w := ts.do(t, http.MethodGet, "/scores/deadbeef", nil)
		require.Equal(t, http.StatusOK, w.Code)

		body := decodeBody(t, w)
		require.EqualValues(t, 120, body["score"])
		require.Equal(t, "high", body["risk"])
	})
}

func TestAdjustScore(t *testing.T) {
	t.Run("requires a reason", func(t *testing.T) {
		ts := newTestServer(t)
		ts.store.fp = &database.Fingerprint{BaseHash: "deadbeef"}

		w := ts.do(t, http.MethodPost, "/scores/deadbeef/adjust", gin.H{"delta": 20})
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Empty(t, ts.scorer.adds)
	})

	t.Run("applies and audits", func(t *testing.T) {
		ts := newTestServer(t)
		ts.store.fp = &database.Fingerprint{BaseHash: "deadbeef", ThreatScore: 10}
		ts.scorer.total = 30

		w := ts.do(t, http.MethodPost, "/scores/deadbeef/adjust", gin.H{
			"delta":  20,
			"reason": "repeat offender",
		})
		require.Equal(t, http.StatusOK, w.Code)

		require.Len(t, ts.scorer.adds, 1)
		require.Equal(t, "api", ts.scorer.adds[0].Operator)
		require.Equal(t, "repeat offender", ts.scorer.adds[0].Reason)

		entries := ts.auditLog(t)
		require.Contains(t, entries, `"action":"score_adjust"`)
		require.Contains(t, entries, `"operator":"api"`)
	})
}

func TestTopScores(t *testing.T) {
	ts := newTestServer(t)
	ts.store.fingerprints = []database.Fingerprint{
		{BaseHash: "aa", ThreatScore: 150},
		{BaseHash: "bb", ThreatScore: 90},
	}

	w := ts.do(t, http.MethodGet, "/scores/top?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 2, decodeBody(t, w)["count"])
}

func TestRecentLogsRequiresAddress(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/logs/recent", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	ts.store.logs = []database.AccessLog{{IPAddress: "203.0.113.9", Path: "/admin"}}
	w = ts.do(t, http.MethodGet, "/logs/recent?address=203.0.113.9", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 1, decodeBody(t, w)["count"])
}

func TestSearch(t *testing.T) {
	t.Run("rejects malformed address", func(t *testing.T) {
		ts := newTestServer(t)

		w := ts.do(t, http.MethodGet, "/search/nonsense", nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("reports ban state and hostname", func(t *testing.T) {
		ts := newTestServer(t)
		ts.store.activeBan = &database.BanRecord{IPAddress: "203.0.113.9", IsActive: true}

		w := ts.do(t, http.MethodGet, "/search/203.0.113.9", nil)
		require.Equal(t, http.StatusOK, w.Code)

		body := decodeBody(t, w)
		require.Equal(t, true, body["banned"])
		require.Equal(t, "crawler.example.net", body["hostname"])
		require.Equal(t, false, body["allowlisted"])
	})
}

func TestPortEndpoints(t *testing.T) {
	t.Run("open defaults to tcp", func(t *testing.T) {
		ts := newTestServer(t)

		w := ts.do(t, http.MethodPost, "/ports/open", gin.H{"port": 8443})
		require.Equal(t, http.StatusCreated, w.Code)
		require.Equal(t, []string{`open 8443/tcp source=""`}, ts.enforcer.portOps)
	})

	t.Run("rejects port zero", func(t *testing.T) {
		ts := newTestServer(t)

		w := ts.do(t, http.MethodPost, "/ports/open", gin.H{"port": 0})
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Empty(t, ts.enforcer.portOps)
	})

	t.Run("block", func(t *testing.T) {
		ts := newTestServer(t)

		w := ts.do(t, http.MethodPost, "/ports/block", gin.H{"port": 23, "protocol": "tcp"})
		require.Equal(t, http.StatusCreated, w.Code)
		require.Equal(t, []string{"block 23/tcp"}, ts.enforcer.portOps)
	})
}

func TestRateLimitEndpoint(t *testing.T) {
	t.Run("creates and audits", func(t *testing.T) {
		ts := newTestServer(t)

		w := ts.do(t, http.MethodPost, "/ratelimits", gin.H{
			"limit":          100,
			"period_seconds": 60,
			"port":           443,
		})
		require.Equal(t, http.StatusCreated, w.Code)
		require.Equal(t, []string{"100/60s port=443"}, ts.enforcer.rateLimits)
		require.Contains(t, ts.auditLog(t), `"action":"rate_limit_add"`)
	})

	t.Run("rejects zero limit", func(t *testing.T) {
		ts := newTestServer(t)

		w := ts.do(t, http.MethodPost, "/ratelimits", gin.H{"limit": 0, "period_seconds": 60})
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Empty(t, ts.enforcer.rateLimits)
	})
}

func TestListEndpoints(t *testing.T) {
	t.Run("unknown kind", func(t *testing.T) {
		ts := newTestServer(t)

		w := ts.do(t, http.MethodGet, "/lists/graylist", nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("add updates the runtime filter", func(t *testing.T) {
		ts := newTestServer(t)
		require.False(t, ts.Server.filter.Allowed("10.1.2.3"))

		w := ts.do(t, http.MethodPost, "/lists/allowlist", gin.H{
			"cidr":        "10.0.0.0/8",
			"description": "office network",
		})
		require.Equal(t, http.StatusCreated, w.Code)
		require.True(t, ts.Server.filter.Allowed("10.1.2.3"))
		require.Contains(t, ts.auditLog(t), `"action":"whitelist_add"`)
	})

	t.Run("rejects malformed cidr", func(t *testing.T) {
		ts := newTestServer(t)

		w := ts.do(t, http.MethodPost, "/lists/denylist", gin.H{"cidr": "500.1.1.1/8"})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("remove rebuilds the filter", func(t *testing.T) {
		ts := newTestServer(t)

		w := ts.do(t, http.MethodPost, "/lists/allowlist", gin.H{"cidr": "10.0.0.0/8"})
		require.Equal(t, http.StatusCreated, w.Code)
		require.True(t, ts.Server.filter.Allowed("10.1.2.3"))

		w = ts.do(t, http.MethodDelete, "/lists/allowlist?cidr=10.0.0.0%2F8", nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.False(t, ts.Server.filter.Allowed("10.1.2.3"))

		w = ts.do(t, http.MethodDelete, "/lists/allowlist?cidr=10.0.0.0%2F8", nil)
		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("remove requires cidr", func(t *testing.T) {
		ts := newTestServer(t)

		w := ts.do(t, http.MethodDelete, "/lists/allowlist", nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRuleEndpoints(t *testing.T) {
	validRule := gin.H{
		"name":  "night scraper",
		"score": 15,
		"conditions": []gin.H{
			{"type": "path_contains", "value": "/export"},
			{"type": "time_range", "value": "01:00-05:00"},
		},
	}

	t.Run("create applies defaults", func(t *testing.T) {
		ts := newTestServer(t)

		w := ts.do(t, http.MethodPost, "/rules", validRule)
		require.Equal(t, http.StatusCreated, w.Code)

		require.Len(t, ts.store.rules, 1)
		stored := ts.store.rules[0]
		require.Equal(t, "night scraper", stored.Name)
		require.Equal(t, config.MediumSeverity, stored.Severity)
		require.True(t, stored.Enabled)
	})

	t.Run("create rejects a condition that does not compile", func(t *testing.T) {
		ts := newTestServer(t)

		w := ts.do(t, http.MethodPost, "/rules", gin.H{
			"name":       "broken",
			"score":      10,
			"conditions": []gin.H{{"type": "path_pattern", "value": "(unclosed"}},
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Empty(t, ts.store.rules)
	})

	t.Run("create rejects an unknown condition type", func(t *testing.T) {
		ts := newTestServer(t)

		w := ts.do(t, http.MethodPost, "/rules", gin.H{
			"name":       "broken",
			"score":      10,
			"conditions": []gin.H{{"type": "astrology", "value": "mercury retrograde"}},
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("create requires conditions and a positive score", func(t *testing.T) {
		ts := newTestServer(t)

		w := ts.do(t, http.MethodPost, "/rules", gin.H{"name": "empty", "score": 10})
		require.Equal(t, http.StatusBadRequest, w.Code)

		w = ts.do(t, http.MethodPost, "/rules", gin.H{
			"name":       "negative",
			"score":      -5,
			"conditions": []gin.H{{"type": "path_contains", "value": "/x"}},
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Empty(t, ts.store.rules)
	})

	t.Run("list filters to enabled", func(t *testing.T) {
		ts := newTestServer(t)
		ts.store.rules = []database.CustomRule{
			{ID: 1, Name: "on", Enabled: true},
			{ID: 2, Name: "off", Enabled: false},
		}
		ts.store.nextRuleID = 2

		w := ts.do(t, http.MethodGet, "/rules", nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.EqualValues(t, 2, decodeBody(t, w)["count"])

		w = ts.do(t, http.MethodGet, "/rules?enabled=true", nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.EqualValues(t, 1, decodeBody(t, w)["count"])
	})

	t.Run("update unknown rule", func(t *testing.T) {
		ts := newTestServer(t)

		w := ts.do(t, http.MethodPut, "/rules/42", validRule)
		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("toggle and delete", func(t *testing.T) {
		ts := newTestServer(t)

		w := ts.do(t, http.MethodPost, "/rules", validRule)
		require.Equal(t, http.StatusCreated, w.Code)
		id := ts.store.rules[0].ID

		w = ts.do(t, http.MethodPatch, fmt.Sprintf("/rules/%d", id), gin.H{"enabled": false})
		require.Equal(t, http.StatusOK, w.Code)
		require.False(t, ts.store.rules[0].Enabled)

		w = ts.do(t, http.MethodDelete, fmt.Sprintf("/rules/%d", id), nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.Empty(t, ts.store.rules)

		w = ts.do(t, http.MethodDelete, fmt.Sprintf("/rules/%d", id), nil)
		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("rejects junk id", func(t *testing.T) {
		ts := newTestServer(t)

		w := ts.do(t, http.MethodDelete, "/rules/banana", nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestChainDetail(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/chains/missing", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	ts.store.chain = &database.IdentityChain{ID: "chain-1", MemberCount: 3}
	w = ts.do(t, http.MethodGet, "/chains/chain-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestStatsOverview(t *testing.T) {
	ts := newTestServer(t)
	ts.store.totalRequests = 12000
	ts.store.uniqueAddresses = 340
	ts.store.threatCount = 17
	ts.store.banCount = 4
	ts.store.bans = []database.BanRecord{{IPAddress: "203.0.113.9"}}

	w := ts.do(t, http.MethodGet, "/stats/overview", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	require.EqualValues(t, 12000, body["total_requests"])
	require.EqualValues(t, 340, body["unique_addresses"])
	require.EqualValues(t, 17, body["threats_detected"])
	require.EqualValues(t, 4, body["bans_applied"])
	require.EqualValues(t, 1, body["active_bans"])
}

func TestHourlyStats(t *testing.T) {
	ts := newTestServer(t)
	ts.store.stats = []database.Statistic{{TotalRequests: 900}, {TotalRequests: 700}}

	w := ts.do(t, http.MethodGet, "/stats/hourly?hours=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 2, decodeBody(t, w)["count"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Body.String())
}

func TestWriteThrottle(t *testing.T) {
	ts := newTestServer(t)

	var ok, throttled int
	for i := 0; i < writesPerMinute+1; i++ {
		w := ts.do(t, http.MethodPost, "/bans", gin.H{"address": "203.0.113.9"})
		switch w.Code {
		case http.StatusCreated:
			ok++
		case http.StatusTooManyRequests:
			throttled++
		default:
			t.Fatalf("unexpected status %d", w.Code)
		}
	}
	require.Equal(t, writesPerMinute, ok)
	require.Equal(t, 1, throttled)
}
