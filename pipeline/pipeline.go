package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dchest/siphash"
	"golang.org/x/sync/errgroup"

	"github.com/ramparthq/rampart/analysis"
	"github.com/ramparthq/rampart/config"
	"github.com/ramparthq/rampart/database"
	"github.com/ramparthq/rampart/detect"
	"github.com/ramparthq/rampart/fingerprint"
	"github.com/ramparthq/rampart/firewall"
	"github.com/ramparthq/rampart/ingest"
	zlog "github.com/ramparthq/rampart/logger"
	"github.com/ramparthq/rampart/metrics"
	"github.com/ramparthq/rampart/scoring"
)

// action recorded on a threat event whose ban could not be installed
const actionEnforcementFailed = "enforcement_failed"

// Store is the persistence surface one worker needs. *database.DB
// satisfies it.
type Store interface {
	RecordAccess(ctx context.Context, entry *database.AccessLog) (*database.Fingerprint, error)
	InsertThreatEvent(ctx context.Context, event *database.ThreatEvent) error
	SetThreatAction(ctx context.Context, id string, actionTaken string, handled bool) error
}

// Analyzer watches behavior diversity after each recorded access.
type Analyzer interface {
	AnalyzeRecord(ctx context.Context, fp *database.Fingerprint) (*analysis.Episode, error)
}

// Rules evaluates admin-defined custom rules against a record.
type Rules interface {
	Evaluate(rec *ingest.Record, now time.Time) []detect.RuleMatch
}

// Scorer folds findings into decaying threat scores and advises on bans.
// *scoring.Engine satisfies it.
type Scorer interface {
	CalculateScore(threatType string, severity config.Severity) float64
	Apply(ctx context.Context, add scoring.Addition) (int32, error)
	Decide(ctx context.Context, baseHash string) (*scoring.Decision, error)
}

// Banner installs bans. *firewall.Executor satisfies it.
type Banner interface {
	Ban(ctx context.Context, req firewall.BanRequest) (*database.BanRecord, error)
}

// Stats counts pipeline outcomes. Fields are updated atomically and may be
// read while the pipeline is running.
type Stats struct {
	Processed   uint64
	Allowlisted uint64
	Episodes    uint64
	RuleMatches uint64
	Findings    uint64
	Bans        uint64
	Errors      uint64
}

// Pipeline fans records out to a fixed pool of workers. Records are sharded
// by base hash so that all work for one identity lands on one worker and
// stays in arrival order; cross-identity order is not preserved.
type Pipeline struct {
	store    Store
	filter   *config.Filter
	analyzer Analyzer
	rules    Rules
	scorer   Scorer
	banner   Banner
	cfg      *config.Config

	Stats Stats

	// OnFinding runs on the worker goroutine after a finding has been
	// persisted, scored and enforced, with the event reflecting the
	// enforcement outcome. Used to fan findings out to the alerter.
	OnFinding func(event *database.ThreatEvent)

	now func() time.Time
}

// New wires a pipeline. rules may be nil when the custom rule engine is
// disabled.
func New(store Store, filter *config.Filter, analyzer Analyzer, rules Rules, scorer Scorer, banner Banner, cfg *config.Config) *Pipeline {
	return &Pipeline{
		store:    store,
		filter:   filter,
		analyzer: analyzer,
		rules:    rules,
		scorer:   scorer,
		banner:   banner,
		cfg:      cfg,
		now:      time.Now,
	}
}

type work struct {
	rec      ingest.Record
	baseHash string
}

// fixed shard keys; the assignment only needs a stable uniform spread
const (
	shardKey0 = 0x72616d70617274
	shardKey1 = 0x6669726577616c6c
)

// shardFor assigns by client address: the detector windows are keyed per
// address, so every record for an address must land on the same worker no
// matter how the client rotates user agents. One address maps to many base
// hashes but never the reverse, so this also serializes each fingerprint.
func shardFor(address string, workers int) int {
	return int(siphash.Hash(shardKey0, shardKey1, []byte(address)) % uint64(workers))
}

// Run consumes records until the channel closes or ctx is cancelled, then
// drains the workers and returns. The caller closes the records channel
// once the tailer has stopped; ctx should stay live through the drain so
// in-flight store writes can finish.
func (p *Pipeline) Run(ctx context.Context, records <-chan ingest.Record) error {
	workers := int(p.cfg.Monitor.Workers)
	if workers < 1 {
		workers = 1
	}
	shardCap := int(p.cfg.Monitor.QueueSize) / workers
	if shardCap < 1 {
		shardCap = 1
	}

	shards := make([]chan work, workers)
	for i := range shards {
		shards[i] = make(chan work, shardCap)
	}

	g := new(errgroup.Group)
	for _, shard := range shards {
		shard := shard
		g.Go(func() error {
			p.worker(ctx, shard)
			return nil
		})
	}

	m := metrics.Get()
dispatch:
	for {
		select {
		case <-ctx.Done():
			break dispatch
		case rec, ok := <-records:
			if !ok {
				break dispatch
			}
			m.QueueDepth.Set(float64(len(records)))
			p.dispatch(ctx, rec, shards)
		}
	}

	for _, shard := range shards {
		close(shard)
	}
	return g.Wait()
}

// dispatch drops allow-listed records and hands everything else to its
// shard. A full shard blocks the dispatcher, which in turn blocks the
// tailer's queue: backpressure instead of unbounded growth.
func (p *Pipeline) dispatch(ctx context.Context, rec ingest.Record, shards []chan work) {
	if p.filter.Allowed(rec.IPAddress) {
		atomic.AddUint64(&p.Stats.Allowlisted, 1)
		metrics.Get().RecordsAllowlisted.Inc()
		return
	}

	baseHash := fingerprint.BaseHash(rec.IPAddress, rec.UserAgent)
	select {
	case shards[shardFor(rec.IPAddress, len(shards))] <- work{rec: rec, baseHash: baseHash}:
	case <-ctx.Done():
	}
}

// worker drains its shard. Each worker owns one Detector, so the sliding
// windows it keeps have exactly one writer.
func (p *Pipeline) worker(ctx context.Context, shard <-chan work) {
	detector := detect.NewDetector(&p.cfg.Detection)
	for w := range shard {
		p.process(ctx, detector, &w.rec, w.baseHash)
	}
}

// process runs one record through the full battery: persist, analyze
// behavior, evaluate custom rules, detect threats. Step failures are
// logged and counted; only losing the access write aborts the record,
// because everything downstream hangs off the fingerprint.
func (p *Pipeline) process(ctx context.Context, detector *detect.Detector, rec *ingest.Record, baseHash string) {
	m := metrics.Get()
	atomic.AddUint64(&p.Stats.Processed, 1)
	m.RecordsProcessed.Inc()

	entry := &database.AccessLog{
		Timestamp:    rec.Timestamp,
		IPAddress:    rec.IPAddress,
		UserAgent:    rec.UserAgent,
		Method:       rec.Method,
		Path:         rec.Path,
		QueryString:  rec.Query,
		StatusCode:   rec.StatusCode,
		ResponseSize: rec.ResponseSize,
		Referer:      rec.Referer,
		Duration:     rec.Duration,
		BaseHash:     baseHash,
		BehaviorHash: fingerprint.BehaviorHash(rec.Path, rec.Method, int(rec.StatusCode)),
	}
	fp, err := p.store.RecordAccess(ctx, entry)
	if err != nil {
		p.stepError("record_access", rec.IPAddress, err)
		return
	}

	chainID := fp.ChainID
	episode, err := p.analyzer.AnalyzeRecord(ctx, fp)
	if err != nil {
		p.stepError("behavior_analysis", rec.IPAddress, err)
	} else if episode != nil {
		atomic.AddUint64(&p.Stats.Episodes, 1)
		m.ChainEpisodes.Inc()
		chainID = &episode.ChainID
	}

	if p.rules != nil {
		for _, match := range p.rules.Evaluate(rec, p.now()) {
			if _, err := p.scorer.Apply(ctx, scoring.Addition{
				BaseHash: baseHash,
				Delta:    match.Score,
				Reason:   fmt.Sprintf("custom rule: %s", match.RuleName),
			}); err != nil {
				p.stepError("custom_rules", rec.IPAddress, err)
				continue
			}
			atomic.AddUint64(&p.Stats.RuleMatches, 1)
			m.RuleMatches.Inc()
		}
	}

	for _, finding := range detector.Detect(rec) {
		p.handleFinding(ctx, rec, baseHash, chainID, finding)
	}
}

// handleFinding persists one finding, folds it into the identity's score
// and enforces the resulting decision. The threat event ends up recording
// what enforcement did: the ban tier when a ban was installed, an error
// sentinel when installation failed, untouched when no ban applied.
func (p *Pipeline) handleFinding(ctx context.Context, rec *ingest.Record, baseHash string, chainID *string, finding detect.Finding) {
	logger := zlog.GetLogger()
	m := metrics.Get()

	event := &database.ThreatEvent{
		Timestamp:   rec.Timestamp,
		IPAddress:   rec.IPAddress,
		BaseHash:    baseHash,
		ChainID:     chainID,
		ThreatType:  finding.ThreatType,
		Severity:    finding.Severity,
		Description: finding.Description,
		Details:     finding.Details,
	}
	if err := p.store.InsertThreatEvent(ctx, event); err != nil {
		p.stepError("persist_finding", rec.IPAddress, err)
		return
	}
	atomic.AddUint64(&p.Stats.Findings, 1)
	m.Findings.WithLabelValues(finding.ThreatType).Inc()

	logger.Info().
		Str("ip", rec.IPAddress).
		Str("threat_type", finding.ThreatType).
		Str("severity", string(finding.Severity)).
		Str("description", finding.Description).
		Msg("threat detected")

	delta := p.scorer.CalculateScore(finding.ThreatType, finding.Severity)
	if _, err := p.scorer.Apply(ctx, scoring.Addition{
		BaseHash:      baseHash,
		Delta:         delta,
		Reason:        fmt.Sprintf("threat detected: %s", finding.ThreatType),
		ThreatEventID: &event.ID,
	}); err != nil {
		p.stepError("scoring", rec.IPAddress, err)
	}

	p.enforce(ctx, rec.IPAddress, baseHash, event, finding)

	if p.OnFinding != nil {
		p.OnFinding(event)
	}
}

// enforce reads the identity's standing and installs a ban when a threshold
// has been crossed.
func (p *Pipeline) enforce(ctx context.Context, address string, baseHash string, event *database.ThreatEvent, finding detect.Finding) {
	logger := zlog.GetLogger()
	m := metrics.Get()

	decision, err := p.scorer.Decide(ctx, baseHash)
	if err != nil {
		p.stepError("ban_decision", address, err)
		return
	}
	if !decision.Ban {
		return
	}

	record, err := p.banner.Ban(ctx, firewall.BanRequest{
		Address:       address,
		Reason:        fmt.Sprintf("score threshold exceeded: %s", finding.Description),
		Duration:      decision.Duration,
		Permanent:     decision.Permanent,
		ThreatEventID: &event.ID,
	})
	if err != nil {
		p.stepError("enforcement", address, err)
		p.setThreatAction(ctx, event, actionEnforcementFailed, false)
		return
	}

	p.setThreatAction(ctx, event, string(decision.Tier), true)

	// a ban that was already active comes back carrying its original
	// trigger; only fresh installs count
	if record.ThreatEventID == nil || *record.ThreatEventID != event.ID {
		return
	}
	atomic.AddUint64(&p.Stats.Bans, 1)
	m.Bans.WithLabelValues(string(decision.Tier)).Inc()
	logger.Warn().
		Str("ip", address).
		Str("tier", string(decision.Tier)).
		Int32("score", decision.Score).
		Int32("ban_count", record.BanCount).
		Msg("banned address")
}

func (p *Pipeline) setThreatAction(ctx context.Context, event *database.ThreatEvent, action string, handled bool) {
	if err := p.store.SetThreatAction(ctx, event.ID, action, handled); err != nil {
		p.stepError("threat_action", event.IPAddress, err)
		return
	}
	event.ActionTaken = action
	event.Handled = handled
}

func (p *Pipeline) stepError(step string, address string, err error) {
	atomic.AddUint64(&p.Stats.Errors, 1)
	metrics.Get().PipelineErrors.WithLabelValues(step).Inc()
	zlog.GetLogger().Error().Err(err).Str("step", step).Str("ip", address).Msg("pipeline step failed")
}
