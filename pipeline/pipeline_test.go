package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ramparthq/rampart/analysis"
	"github.com/ramparthq/rampart/config"
	"github.com/ramparthq/rampart/database"
	"github.com/ramparthq/rampart/detect"
	"github.com/ramparthq/rampart/fingerprint"
	"github.com/ramparthq/rampart/firewall"
	"github.com/ramparthq/rampart/ingest"
	"github.com/ramparthq/rampart/scoring"
	"github.com/ramparthq/rampart/util"

	"github.com/stretchr/testify/require"
)

// fakeDB plays the whole store: pipeline.Store plus the slices the scoring
// engine and the behavior analyzer need, all in memory.
type fakeDB struct {
	mu           sync.Mutex
	logs         []database.AccessLog
	fingerprints map[string]*database.Fingerprint
	events       map[string]*database.ThreatEvent
	eventOrder   []string
	history      []database.ScoreHistory
	chains       map[string]*database.IdentityChain
	nextID       int64

	recordErr error
	eventErr  error
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		fingerprints: make(map[string]*database.Fingerprint),
		events:       make(map[string]*database.ThreatEvent),
		chains:       make(map[string]*database.IdentityChain),
	}
}

func (f *fakeDB) RecordAccess(_ context.Context, entry *database.AccessLog) (*database.Fingerprint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return nil, f.recordErr
	}

	f.nextID++
	entry.ID = f.nextID
	f.logs = append(f.logs, *entry)

	fp, ok := f.fingerprints[entry.BaseHash]
	if !ok {
		fp = &database.Fingerprint{
			ID:              f.nextID,
			BaseHash:        entry.BaseHash,
			FirstSeen:       entry.Timestamp,
			LastSeen:        entry.Timestamp,
			BehaviorCount:   1,
			LastScoreUpdate: entry.Timestamp,
		}
		f.fingerprints[entry.BaseHash] = fp
	}
	fp.IPAddress = entry.IPAddress
	fp.UserAgent = entry.UserAgent
	fp.VisitCount++
	if entry.Timestamp.Before(fp.FirstSeen) {
		fp.FirstSeen = entry.Timestamp
	}
	if entry.Timestamp.After(fp.LastSeen) {
		fp.LastSeen = entry.Timestamp
	}

	out := *fp
	return &out, nil
}

func (f *fakeDB) InsertThreatEvent(_ context.Context, event *database.ThreatEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.eventErr != nil {
		return f.eventErr
	}
	if event.ID == "" {
		f.nextID++
		event.ID = fmt.Sprintf("event-%d", f.nextID)
	}
	stored := *event
	f.events[event.ID] = &stored
	f.eventOrder = append(f.eventOrder, event.ID)
	return nil
}

func (f *fakeDB) SetThreatAction(_ context.Context, id string, actionTaken string, handled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	event, ok := f.events[id]
	if !ok {
		return database.ErrNotFound
	}
	event.ActionTaken = actionTaken
	event.Handled = handled
	return nil
}

func (f *fakeDB) GetFingerprint(_ context.Context, baseHash string) (*database.Fingerprint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fp, ok := f.fingerprints[baseHash]
	if !ok {
		return nil, database.ErrNotFound
	}
	out := *fp
	return &out, nil
}

func (f *fakeDB) UpdateThreatScore(_ context.Context, baseHash string, score int32, updatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fp, ok := f.fingerprints[baseHash]
	if !ok {
		return database.ErrNotFound
	}
	fp.ThreatScore = score
	fp.LastScoreUpdate = updatedAt
	return nil
}

func (f *fakeDB) CompareAndSetScore(_ context.Context, baseHash string, score int32, updatedAt time.Time, readAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fp, ok := f.fingerprints[baseHash]
	if !ok || !fp.LastScoreUpdate.Equal(readAt) {
		return false, nil
	}
	fp.ThreatScore = score
	fp.LastScoreUpdate = updatedAt
	return true, nil
}

func (f *fakeDB) InsertScoreHistory(_ context.Context, entry *database.ScoreHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, *entry)
	return nil
}

func (f *fakeDB) BehaviorDiversity(_ context.Context, baseHash string, sampleSize int) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	distinct := make(map[string]struct{})
	for i := len(f.logs) - 1; i >= 0 && total < int64(sampleSize); i-- {
		if f.logs[i].BaseHash != baseHash {
			continue
		}
		total++
		distinct[f.logs[i].BehaviorHash] = struct{}{}
	}
	return total, int64(len(distinct)), nil
}

func (f *fakeDB) UpdateBehaviorCount(_ context.Context, baseHash string, count int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fp, ok := f.fingerprints[baseHash]; ok {
		fp.BehaviorCount = count
	}
	return nil
}

func (f *fakeDB) InsertChain(_ context.Context, chain *database.IdentityChain) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *chain
	f.chains[chain.ID] = &stored
	return nil
}

func (f *fakeDB) GetChain(_ context.Context, id string) (*database.IdentityChain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chain, ok := f.chains[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	out := *chain
	return &out, nil
}

func (f *fakeDB) UpdateChain(_ context.Context, chain *database.IdentityChain) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *chain
	f.chains[chain.ID] = &stored
	return nil
}

func (f *fakeDB) MergeChains(_ context.Context, merged *database.IdentityChain, sourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *merged
	f.chains[merged.ID] = &stored
	delete(f.chains, sourceID)
	return nil
}

func (f *fakeDB) SetFingerprintChain(_ context.Context, baseHash string, chainID string, isRoot bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fp, ok := f.fingerprints[baseHash]
	if !ok {
		return database.ErrNotFound
	}
	id := chainID
	fp.ChainID = &id
	fp.IsChainRoot = isRoot
	return nil
}

func (f *fakeDB) RelinkAccessLogs(_ context.Context, baseHash string, chainID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var relinked int64
	for i := range f.logs {
		if f.logs[i].BaseHash == baseHash && f.logs[i].ChainID == nil {
			id := chainID
			f.logs[i].ChainID = &id
			relinked++
		}
	}
	return relinked, nil
}

func (f *fakeDB) accessLogs() []database.AccessLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]database.AccessLog, len(f.logs))
	copy(out, f.logs)
	return out
}

func (f *fakeDB) fingerprint(baseHash string) *database.Fingerprint {
	f.mu.Lock()
	defer f.mu.Unlock()
	fp, ok := f.fingerprints[baseHash]
	if !ok {
		return nil
	}
	out := *fp
	return &out
}

func (f *fakeDB) eventsInOrder() []database.ThreatEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]database.ThreatEvent, 0, len(f.eventOrder))
	for _, id := range f.eventOrder {
		out = append(out, *f.events[id])
	}
	return out
}

func (f *fakeDB) scoreHistory() []database.ScoreHistory {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]database.ScoreHistory, len(f.history))
	copy(out, f.history)
	return out
}

// fakeBanner mimics the executor's repeat-ban behavior: a second ban while
// one is active returns the existing record untouched.
type fakeBanner struct {
	mu     sync.Mutex
	reqs   []firewall.BanRequest
	active map[string]*database.BanRecord
	counts map[string]int32
	err    error
}

func newFakeBanner() *fakeBanner {
	return &fakeBanner{
		active: make(map[string]*database.BanRecord),
		counts: make(map[string]int32),
	}
}

func (b *fakeBanner) Ban(_ context.Context, req firewall.BanRequest) (*database.BanRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	b.reqs = append(b.reqs, req)

	if existing, ok := b.active[req.Address]; ok {
		out := *existing
		return &out, nil
	}

	b.counts[req.Address]++
	record := &database.BanRecord{
		ID:            int64(len(b.reqs)),
		IPAddress:     req.Address,
		BannedAt:      time.Now(),
		Reason:        req.Reason,
		ThreatEventID: req.ThreatEventID,
		IsPermanent:   req.Permanent,
		IsActive:      true,
		BanCount:      b.counts[req.Address],
	}
	if !req.Permanent {
		until := record.BannedAt.Add(req.Duration)
		record.BanUntil = &until
	}
	b.active[req.Address] = record
	out := *record
	return &out, nil
}

func (b *fakeBanner) requests() []firewall.BanRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]firewall.BanRequest, len(b.reqs))
	copy(out, b.reqs)
	return out
}

func newTestPipeline(store *fakeDB, banner *fakeBanner, cfg *config.Config) *Pipeline {
	filter := config.NewFilter(cfg.Filtering)
	engine := scoring.NewEngine(store, &cfg.Scoring)
	analyzer := analysis.NewAnalyzer(store, cfg)
	return New(store, filter, analyzer, nil, engine, banner, cfg)
}

func logRecord(addr, userAgent, method, path, query string, status int32, ts time.Time) ingest.Record {
	return ingest.Record{
		Timestamp:  ts,
		IPAddress:  addr,
		Method:     method,
		Path:       path,
		Query:      query,
		StatusCode: status,
		UserAgent:  userAgent,
	}
}

// runPipeline feeds every record through Run and waits for the drain.
func runPipeline(t *testing.T, p *Pipeline, recs []ingest.Record) {
	t.Helper()
	records := make(chan ingest.Record, len(recs)+1)
	for _, rec := range recs {
		records <- rec
	}
	close(records)
	require.NoError(t, p.Run(context.Background(), records))
}

// A flood crosses the rate limit once (one finding, +37), then a sql
// injection from the same identity (+100) pushes the score to 137 and an
// extended ban lands, stamped back onto the triggering event.
func TestPipelineScoresAndBansOneIdentity(t *testing.T) {
	cfg := config.GetDefaultConfig()
	store := newFakeDB()
	banner := newFakeBanner()
	p := newTestPipeline(store, banner, &cfg)

	var notified []database.ThreatEvent
	var notifyMu sync.Mutex
	p.OnFinding = func(event *database.ThreatEvent) {
		notifyMu.Lock()
		defer notifyMu.Unlock()
		notified = append(notified, *event)
	}

	base := time.Now().Add(-time.Minute)
	var recs []ingest.Record
	for i := 0; i < 101; i++ {
		recs = append(recs, logRecord("198.51.100.9", "curl/8.0", "GET", "/index.html", "", 200,
			base.Add(time.Duration(i)*100*time.Millisecond)))
	}
	recs = append(recs, logRecord("198.51.100.9", "curl/8.0", "GET", "/search", "q=' or '1'='1", 200,
		base.Add(11*time.Second)))

	runPipeline(t, p, recs)

	require.EqualValues(t, 102, p.Stats.Processed)
	require.EqualValues(t, 2, p.Stats.Findings)
	require.EqualValues(t, 1, p.Stats.Bans)
	require.Zero(t, p.Stats.Errors)

	baseHash := fingerprint.BaseHash("198.51.100.9", "curl/8.0")
	fp := store.fingerprint(baseHash)
	require.NotNil(t, fp)
	require.EqualValues(t, 137, fp.ThreatScore)

	events := store.eventsInOrder()
	require.Len(t, events, 2)
	require.Equal(t, config.ThreatRateLimitExceeded, events[0].ThreatType)
	require.False(t, events[0].Handled)
	require.Empty(t, events[0].ActionTaken)
	require.Equal(t, config.ThreatSQLInjection, events[1].ThreatType)
	require.True(t, events[1].Handled)
	require.Equal(t, string(scoring.TierExtended), events[1].ActionTaken)

	history := store.scoreHistory()
	require.Len(t, history, 2)
	require.EqualValues(t, 37, history[0].Delta)
	require.Equal(t, "threat detected: rate_limit_exceeded", history[0].Reason)
	require.EqualValues(t, 100, history[1].Delta)
	require.EqualValues(t, 137, history[1].Total)
	require.Equal(t, "threat detected: sql_injection", history[1].Reason)

	reqs := banner.requests()
	require.Len(t, reqs, 1)
	require.Equal(t, "198.51.100.9", reqs[0].Address)
	require.Equal(t, 24*time.Hour, reqs[0].Duration)
	require.False(t, reqs[0].Permanent)
	require.Contains(t, reqs[0].Reason, "score threshold exceeded")
	require.Contains(t, reqs[0].Reason, "sql injection")
	require.NotNil(t, reqs[0].ThreatEventID)
	require.Equal(t, events[1].ID, *reqs[0].ThreatEventID)

	// the callback sees events after enforcement settled them
	notifyMu.Lock()
	defer notifyMu.Unlock()
	require.Len(t, notified, 2)
	require.Empty(t, notified[0].ActionTaken)
	require.Equal(t, string(scoring.TierExtended), notified[1].ActionTaken)
}

func TestPipelineDropsAllowlistedRecords(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Filtering.AllowedSubnets = util.NewTestSubnetList(t, []string{"203.0.113.0/24"})
	store := newFakeDB()
	banner := newFakeBanner()
	p := newTestPipeline(store, banner, &cfg)

	runPipeline(t, p, []ingest.Record{
		logRecord("203.0.113.7", "sqlmap/1.7", "GET", "/search", "q=union select password from users", 200, time.Now()),
	})

	require.EqualValues(t, 1, p.Stats.Allowlisted)
	require.Zero(t, p.Stats.Processed)
	require.Empty(t, store.accessLogs())
	require.Empty(t, store.eventsInOrder())
	require.Empty(t, banner.requests())
}

// An allow-list entry added at runtime takes effect on the very next record.
func TestPipelineHonorsRuntimeAllowlist(t *testing.T) {
	cfg := config.GetDefaultConfig()
	store := newFakeDB()
	banner := newFakeBanner()
	filter := config.NewFilter(cfg.Filtering)
	engine := scoring.NewEngine(store, &cfg.Scoring)
	analyzer := analysis.NewAnalyzer(store, &cfg)
	p := New(store, filter, analyzer, nil, engine, banner, &cfg)

	subnet, err := util.ParseSubnet("198.51.100.0/24")
	require.NoError(t, err)
	filter.AddAllowed(subnet)

	runPipeline(t, p, []ingest.Record{
		logRecord("198.51.100.42", "sqlmap/1.7", "GET", "/", "q=admin'--", 200, time.Now()),
	})

	require.EqualValues(t, 1, p.Stats.Allowlisted)
	require.Empty(t, store.accessLogs())
	require.Empty(t, banner.requests())
}

type fakeRules struct {
	matches []detect.RuleMatch
}

func (f *fakeRules) Evaluate(_ *ingest.Record, _ time.Time) []detect.RuleMatch {
	return f.matches
}

func TestPipelineAppliesCustomRuleScores(t *testing.T) {
	cfg := config.GetDefaultConfig()
	store := newFakeDB()
	banner := newFakeBanner()
	rules := &fakeRules{matches: []detect.RuleMatch{
		{RuleName: "night traffic", Score: 15, Severity: config.MediumSeverity, Priority: 5},
	}}
	filter := config.NewFilter(cfg.Filtering)
	engine := scoring.NewEngine(store, &cfg.Scoring)
	analyzer := analysis.NewAnalyzer(store, &cfg)
	p := New(store, filter, analyzer, rules, engine, banner, &cfg)

	runPipeline(t, p, []ingest.Record{
		logRecord("198.51.100.4", "Mozilla/5.0", "GET", "/", "", 200, time.Now()),
	})

	require.EqualValues(t, 1, p.Stats.RuleMatches)

	history := store.scoreHistory()
	require.Len(t, history, 1)
	require.Equal(t, "custom rule: night traffic", history[0].Reason)
	require.EqualValues(t, 15, history[0].Delta)

	fp := store.fingerprint(fingerprint.BaseHash("198.51.100.4", "Mozilla/5.0"))
	require.NotNil(t, fp)
	require.EqualValues(t, 15, fp.ThreatScore)
}

func TestPipelineMarksFailedEnforcement(t *testing.T) {
	cfg := config.GetDefaultConfig()
	store := newFakeDB()
	banner := newFakeBanner()
	banner.err = errors.New("iptables: permission denied")
	p := newTestPipeline(store, banner, &cfg)

	runPipeline(t, p, []ingest.Record{
		logRecord("198.51.100.8", "curl/8.0", "GET", "/search", "q=union select 1", 200, time.Now()),
	})

	events := store.eventsInOrder()
	require.Len(t, events, 1)
	require.False(t, events[0].Handled)
	require.Equal(t, "enforcement_failed", events[0].ActionTaken)
	require.Zero(t, p.Stats.Bans)
	require.EqualValues(t, 1, p.Stats.Errors)
}

func TestPipelineSurvivesStoreFailures(t *testing.T) {
	t.Run("failed access write aborts the record only", func(t *testing.T) {
		cfg := config.GetDefaultConfig()
		store := newFakeDB()
		store.recordErr = errors.New("connection reset")
		banner := newFakeBanner()
		p := newTestPipeline(store, banner, &cfg)

		runPipeline(t, p, []ingest.Record{
			logRecord("198.51.100.3", "curl/8.0", "GET", "/search", "q=union select 1", 200, time.Now()),
		})

		require.EqualValues(t, 1, p.Stats.Processed)
		require.EqualValues(t, 1, p.Stats.Errors)
		require.Empty(t, store.eventsInOrder())
		require.Empty(t, banner.requests())
	})

	t.Run("failed finding write skips scoring and enforcement", func(t *testing.T) {
		cfg := config.GetDefaultConfig()
		store := newFakeDB()
		store.eventErr = errors.New("disk full")
		banner := newFakeBanner()
		p := newTestPipeline(store, banner, &cfg)

		runPipeline(t, p, []ingest.Record{
			logRecord("198.51.100.3", "curl/8.0", "GET", "/search", "q=union select 1", 200, time.Now()),
		})

		require.EqualValues(t, 1, p.Stats.Errors)
		require.Empty(t, store.eventsInOrder())
		require.Empty(t, store.scoreHistory())
		require.Empty(t, banner.requests())
		require.Len(t, store.accessLogs(), 1)
	})
}

func TestPipelineSerializesPerIdentity(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Monitor.Workers = 4
	store := newFakeDB()
	banner := newFakeBanner()
	p := newTestPipeline(store, banner, &cfg)

	now := time.Now()
	var recs []ingest.Record
	for i := 0; i < 200; i++ {
		addr := fmt.Sprintf("198.51.100.%d", i%20)
		recs = append(recs, logRecord(addr, "Mozilla/5.0", "GET", "/", "", 200,
			now.Add(time.Duration(i)*time.Millisecond)))
	}

	runPipeline(t, p, recs)

	require.EqualValues(t, 200, p.Stats.Processed)
	require.Len(t, store.accessLogs(), 200)
	for i := 0; i < 20; i++ {
		addr := fmt.Sprintf("198.51.100.%d", i)
		fp := store.fingerprint(fingerprint.BaseHash(addr, "Mozilla/5.0"))
		require.NotNil(t, fp, "missing fingerprint for %s", addr)
		require.EqualValues(t, 10, fp.VisitCount, "visit count for %s", addr)
	}
}

func TestShardForIsStable(t *testing.T) {
	first := shardFor("198.51.100.9", 4)
	require.GreaterOrEqual(t, first, 0)
	require.Less(t, first, 4)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, shardFor("198.51.100.9", 4))
	}
}

// Sharding is by address, so a client rotating user agents still funnels
// into the one worker holding its per-address request window and the flood
// trips the rate limit exactly once.
func TestPipelineRateLimitsAcrossUserAgents(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Monitor.Workers = 4
	store := newFakeDB()
	banner := newFakeBanner()
	p := newTestPipeline(store, banner, &cfg)

	agents := []string{"curl/8.0", "Mozilla/5.0"}
	base := time.Now().Add(-time.Minute)
	var recs []ingest.Record
	for i := 0; i < 150; i++ {
		recs = append(recs, logRecord("198.51.100.77", agents[i%len(agents)], "GET", "/index.html", "", 200,
			base.Add(time.Duration(i)*100*time.Millisecond)))
	}

	runPipeline(t, p, recs)

	var rateFindings int
	for _, event := range store.eventsInOrder() {
		if event.ThreatType == config.ThreatRateLimitExceeded {
			rateFindings++
		}
	}
	require.Equal(t, 1, rateFindings, "one window crossing, one finding")
	require.EqualValues(t, 150, p.Stats.Processed)
	require.Zero(t, p.Stats.Errors)
}

// Replayed files can deliver records out of order; an older record must not
// shrink the fingerprint's first_seen/last_seen span.
func TestPipelineOutOfOrderRecordsWidenSeenSpan(t *testing.T) {
	cfg := config.GetDefaultConfig()
	store := newFakeDB()
	p := newTestPipeline(store, newFakeBanner(), &cfg)

	now := time.Now()
	recs := []ingest.Record{
		logRecord("198.51.100.4", "Mozilla/5.0", "GET", "/a", "", 200, now),
		logRecord("198.51.100.4", "Mozilla/5.0", "GET", "/b", "", 200, now.Add(-time.Hour)),
		logRecord("198.51.100.4", "Mozilla/5.0", "GET", "/c", "", 200, now.Add(time.Minute)),
	}
	runPipeline(t, p, recs)

	fp := store.fingerprint(fingerprint.BaseHash("198.51.100.4", "Mozilla/5.0"))
	require.NotNil(t, fp)
	require.True(t, fp.FirstSeen.Equal(now.Add(-time.Hour)), "first_seen widens backwards")
	require.True(t, fp.LastSeen.Equal(now.Add(time.Minute)), "last_seen widens forwards")
	require.EqualValues(t, 3, fp.VisitCount)
}

// Once behavior diversity starts a chain, findings from the same identity
// carry the chain id.
func TestPipelineLinksFindingsToChains(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Analysis.SameBaseCount = 4
	store := newFakeDB()
	banner := newFakeBanner()
	p := newTestPipeline(store, banner, &cfg)

	now := time.Now()
	recs := []ingest.Record{
		logRecord("192.0.2.66", "python-requests/2.31", "GET", "/a", "", 200, now),
		logRecord("192.0.2.66", "python-requests/2.31", "GET", "/b", "", 200, now.Add(time.Second)),
		logRecord("192.0.2.66", "python-requests/2.31", "GET", "/c", "", 200, now.Add(2*time.Second)),
		logRecord("192.0.2.66", "python-requests/2.31", "GET", "/d", "", 200, now.Add(3*time.Second)),
		logRecord("192.0.2.66", "python-requests/2.31", "GET", "/search", "q=admin'--", 200, now.Add(4*time.Second)),
	}

	runPipeline(t, p, recs)

	require.NotZero(t, p.Stats.Episodes)

	fp := store.fingerprint(fingerprint.BaseHash("192.0.2.66", "python-requests/2.31"))
	require.NotNil(t, fp)
	require.NotNil(t, fp.ChainID)

	events := store.eventsInOrder()
	require.Len(t, events, 1)
	require.Equal(t, config.ThreatSQLInjection, events[0].ThreatType)
	require.NotNil(t, events[0].ChainID)
	require.Equal(t, *fp.ChainID, *events[0].ChainID)
}
