package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ramparthq/rampart/config"
	"github.com/ramparthq/rampart/database"
	"github.com/ramparthq/rampart/logger"
)

// ban tiers in escalation order
type BanTier string

const (
	TierNone      BanTier = ""
	TierTemporary BanTier = "temporary_ban"
	TierExtended  BanTier = "extended_ban"
	TierPermanent BanTier = "permanent_ban"
)

// RiskLevel buckets a score for operators; it never drives enforcement on
// its own, the ban tiers do.
type RiskLevel string

const (
	RiskCritical RiskLevel = "critical"
	RiskHigh     RiskLevel = "high"
	RiskMedium   RiskLevel = "medium"
	RiskLow      RiskLevel = "low"
	RiskSafe     RiskLevel = "safe"
)

// Decision is the advisory outcome of reading a fingerprint's score. The
// coordinator decides whether to enforce it.
type Decision struct {
	Score     int32
	Risk      RiskLevel
	Ban       bool
	Tier      BanTier
	Permanent bool
	Duration  time.Duration // zero when permanent or when no ban applies
}

// Addition is one audited score change.
type Addition struct {
	BaseHash      string
	Delta         float64
	Reason        string
	ThreatEventID *string
	Operator      string // recorded in the history row, defaults to "system"
}

// Store is the slice of the database the engine needs.
type Store interface {
	GetFingerprint(ctx context.Context, baseHash string) (*database.Fingerprint, error)
	UpdateThreatScore(ctx context.Context, baseHash string, score int32, updatedAt time.Time) error
	CompareAndSetScore(ctx context.Context, baseHash string, score int32, updatedAt time.Time, readAt time.Time) (bool, error)
	InsertScoreHistory(ctx context.Context, entry *database.ScoreHistory) error
}

// Engine maintains decaying threat scores. Scores only move through here so
// that every change lands in the score history.
type Engine struct {
	store Store
	cfg   *config.Scoring

	now func() time.Time
}

func NewEngine(store Store, cfg *config.Scoring) *Engine {
	return &Engine{store: store, cfg: cfg, now: time.Now}
}

// CalculateScore returns the raw delta for a finding: the threat type's base
// score times the severity multiplier.
func (e *Engine) CalculateScore(threatType string, severity config.Severity) float64 {
	return e.cfg.BaseScores.ScoreFor(threatType) * e.cfg.SeverityMultipliers.MultiplierFor(severity)
}

// decay returns the fingerprint's score after elapsed decay cycles, along
// with how many cycles applied. Scores inside their first cycle pass through
// untouched.
func (e *Engine) decay(fp *database.Fingerprint, now time.Time) (int32, int) {
	if fp.LastScoreUpdate.IsZero() {
		return fp.ThreatScore, 0
	}

	hours := now.Sub(fp.LastScoreUpdate).Hours()
	if hours < e.cfg.DecayHours {
		return fp.ThreatScore, 0
	}

	cycles := int(hours / e.cfg.DecayHours)
	decayed := float64(fp.ThreatScore) * math.Pow(e.cfg.DecayRate, float64(cycles))
	return e.clamp(decayed), cycles
}

// clamp floors a score to an integer and bounds it to [0, max].
func (e *Engine) clamp(score float64) int32 {
	total := int32(math.Floor(score))
	if total < 0 {
		return 0
	}
	if total > e.cfg.MaxScore {
		return e.cfg.MaxScore
	}
	return total
}

// Apply decays the fingerprint's score, adds the delta, clamps, persists the
// new total and appends a history row. The delta is floored to an integer
// before it is applied so the audit trail sums exactly to the stored score.
// The write CASes on the score timestamp; a lost race re-reads and adds the
// delta on top of the racing writer's total instead of overwriting it.
func (e *Engine) Apply(ctx context.Context, add Addition) (int32, error) {
	delta := int32(math.Floor(add.Delta))

	var (
		fp    *database.Fingerprint
		now   time.Time
		total int32
	)
	for {
		var err error
		fp, err = e.store.GetFingerprint(ctx, add.BaseHash)
		if err != nil {
			return 0, fmt.Errorf("failed to load fingerprint for score change: %w", err)
		}

		now = e.now()
		decayed, _ := e.decay(fp, now)
		total = e.clamp(float64(decayed) + float64(delta))

		applied, err := e.store.CompareAndSetScore(ctx, add.BaseHash, total, now, fp.LastScoreUpdate)
		if err != nil {
			return 0, fmt.Errorf("failed to store score change: %w", err)
		}
		if applied {
			break
		}
	}

	operator := add.Operator
	if operator == "" {
		operator = "system"
	}
	entry := &database.ScoreHistory{
		Timestamp:     now,
		FingerprintID: fp.ID,
		BaseHash:      add.BaseHash,
		Delta:         delta,
		Total:         total,
		Reason:        add.Reason,
		ThreatEventID: add.ThreatEventID,
		Operator:      operator,
	}
	if err := e.store.InsertScoreHistory(ctx, entry); err != nil {
		return 0, fmt.Errorf("failed to record score history: %w", err)
	}

	logger.GetLogger().Debug().
		Str("base_hash", add.BaseHash).
		Int32("delta", delta).
		Int32("total", total).
		Str("reason", add.Reason).
		Msg("threat score updated")

	return total, nil
}

// AddBehaviorScore adds the configured bonus for a named behavior pattern.
// Unconfigured patterns are a no-op.
func (e *Engine) AddBehaviorScore(ctx context.Context, baseHash string, pattern string) error {
	bonus := e.cfg.BehaviorScores.ScoreFor(pattern)
	if bonus <= 0 {
		return nil
	}

	_, err := e.Apply(ctx, Addition{
		BaseHash: baseHash,
		Delta:    bonus,
		Reason:   fmt.Sprintf("behavior pattern: %s", pattern),
	})
	return err
}

// AddRewardScore applies the configured negative delta for a named good
// behavior. Unconfigured rewards are a no-op.
func (e *Engine) AddRewardScore(ctx context.Context, baseHash string, reward string) error {
	delta := e.cfg.RewardFor(reward)
	if delta == 0 {
		return nil
	}

	_, err := e.Apply(ctx, Addition{
		BaseHash: baseHash,
		Delta:    delta,
		Reason:   fmt.Sprintf("good behavior: %s", reward),
	})
	return err
}

// CurrentScore returns a fingerprint's decayed score and risk level,
// persisting the decay when at least one full cycle has elapsed. Unknown
// fingerprints read as safe. The write-back CASes on the score timestamp so
// a racing writer wins and this read retries against its result.
func (e *Engine) CurrentScore(ctx context.Context, baseHash string) (int32, RiskLevel, error) {
	for {
		fp, err := e.store.GetFingerprint(ctx, baseHash)
		if errors.Is(err, database.ErrNotFound) {
			return 0, RiskSafe, nil
		}
		if err != nil {
			return 0, RiskSafe, err
		}

		now := e.now()
		decayed, cycles := e.decay(fp, now)
		if cycles == 0 {
			return decayed, e.RiskFor(decayed), nil
		}

		applied, err := e.store.CompareAndSetScore(ctx, baseHash, decayed, now, fp.LastScoreUpdate)
		if err != nil {
			return 0, RiskSafe, err
		}
		if applied {
			return decayed, e.RiskFor(decayed), nil
		}
	}
}

// RiskFor buckets a score into a risk level.
func (e *Engine) RiskFor(score int32) RiskLevel {
	switch {
	case score >= e.cfg.PermanentThreshold:
		return RiskCritical
	case score >= e.cfg.ExtendedThreshold:
		return RiskHigh
	case score >= e.cfg.TemporaryThreshold:
		return RiskMedium
	case score >= e.cfg.LowRiskScore:
		return RiskLow
	}
	return RiskSafe
}

// Decide reads the decayed score and maps it onto a ban tier.
func (e *Engine) Decide(ctx context.Context, baseHash string) (*Decision, error) {
	score, risk, err := e.CurrentScore(ctx, baseHash)
	if err != nil {
		return nil, err
	}

	decision := &Decision{Score: score, Risk: risk}
	switch {
	case score >= e.cfg.PermanentThreshold:
		decision.Ban = true
		decision.Tier = TierPermanent
		decision.Permanent = true
	case score >= e.cfg.ExtendedThreshold:
		decision.Ban = true
		decision.Tier = TierExtended
		decision.Duration = time.Duration(e.cfg.ExtendedBanSeconds) * time.Second
	case score >= e.cfg.TemporaryThreshold:
		decision.Ban = true
		decision.Tier = TierTemporary
		decision.Duration = time.Duration(e.cfg.TemporaryBanSeconds) * time.Second
	}
	return decision, nil
}

// ResetScore zeroes a fingerprint's score through the audited path.
func (e *Engine) ResetScore(ctx context.Context, baseHash string, reason string, operator string) error {
	fp, err := e.store.GetFingerprint(ctx, baseHash)
	if err != nil {
		return fmt.Errorf("failed to load fingerprint for score reset: %w", err)
	}

	now := e.now()
	if err := e.store.UpdateThreatScore(ctx, baseHash, 0, now); err != nil {
		return fmt.Errorf("failed to reset score: %w", err)
	}

	if operator == "" {
		operator = "system"
	}
	entry := &database.ScoreHistory{
		Timestamp:     now,
		FingerprintID: fp.ID,
		BaseHash:      baseHash,
		Delta:         -fp.ThreatScore,
		Total:         0,
		Reason:        reason,
		Operator:      operator,
	}
	if err := e.store.InsertScoreHistory(ctx, entry); err != nil {
		return fmt.Errorf("failed to record score reset: %w", err)
	}

	logger.GetLogger().Info().
		Str("base_hash", baseHash).
		Int32("previous", fp.ThreatScore).
		Str("operator", operator).
		Msg("threat score reset")

	return nil
}
