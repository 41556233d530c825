package analysis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ramparthq/rampart/config"
	"github.com/ramparthq/rampart/database"
	"github.com/ramparthq/rampart/fingerprint"
	zlog "github.com/ramparthq/rampart/logger"

	"github.com/google/uuid"
)

// episode causes recorded in a chain's evolution history
const (
	CauseEvolutionDetected  = "behavior_evolution_detected"
	CauseContinuedEvolution = "behavior_continued_evolution"
	CauseChainMerge         = "chain_merge"
)

// Store is the persistence surface the analyzer needs. *database.DB
// satisfies it.
type Store interface {
	BehaviorDiversity(ctx context.Context, baseHash string, sampleSize int) (total int64, distinct int64, err error)
	UpdateBehaviorCount(ctx context.Context, baseHash string, count int64) error
	InsertChain(ctx context.Context, chain *database.IdentityChain) error
	GetChain(ctx context.Context, id string) (*database.IdentityChain, error)
	UpdateChain(ctx context.Context, chain *database.IdentityChain) error
	MergeChains(ctx context.Context, merged *database.IdentityChain, sourceID string) error
	SetFingerprintChain(ctx context.Context, baseHash string, chainID string, isRoot bool) error
	RelinkAccessLogs(ctx context.Context, baseHash string, chainID string) (int64, error)
}

// Episode describes one detected behavior-evolution episode.
type Episode struct {
	BaseHash  string
	ChainID   string
	Created   bool // a new chain was started rather than an existing one extended
	Diversity float64
	Behaviors int64 // distinct behavior hashes in the sample
	Sampled   int64 // records examined
}

// Analyzer watches per-fingerprint behavior diversity and maintains identity
// chains for fingerprints whose behavior keeps evolving.
type Analyzer struct {
	store Store
	cfg   *config.Config
}

func NewAnalyzer(store Store, cfg *config.Config) *Analyzer {
	return &Analyzer{store: store, cfg: cfg}
}

// AnalyzeRecord examines the recent behavior sample for a fingerprint after
// an access was recorded. It returns a non-nil Episode when behavior
// diversity crossed the configured rate, creating or extending the
// fingerprint's identity chain as a side effect.
func (analyzer *Analyzer) AnalyzeRecord(ctx context.Context, fp *database.Fingerprint) (*Episode, error) {
	total, distinct, err := analyzer.store.BehaviorDiversity(ctx, fp.BaseHash, int(analyzer.cfg.Analysis.SampleSize))
	if err != nil {
		return nil, fmt.Errorf("failed to sample behavior diversity: %w", err)
	}
	if total == 0 {
		return nil, nil
	}

	if err := analyzer.store.UpdateBehaviorCount(ctx, fp.BaseHash, distinct); err != nil {
		return nil, fmt.Errorf("failed to update behavior count: %w", err)
	}

	// too few observations to call anything an evolution
	if total < int64(analyzer.cfg.Analysis.SameBaseCount) {
		return nil, nil
	}

	diversity := float64(distinct) / float64(total)
	if diversity < analyzer.cfg.Analysis.BehaviorChangeRate {
		return nil, nil
	}

	episode := &Episode{
		BaseHash:  fp.BaseHash,
		Diversity: diversity,
		Behaviors: distinct,
		Sampled:   total,
	}

	if fp.ChainID == nil {
		chainID, err := analyzer.createChain(ctx, fp, episode)
		if err != nil {
			return nil, err
		}
		episode.ChainID = chainID
		episode.Created = true
	} else {
		if err := analyzer.extendChain(ctx, *fp.ChainID, fp.BaseHash, episode); err != nil {
			return nil, err
		}
		episode.ChainID = *fp.ChainID
	}

	return episode, nil
}

// createChain starts a new identity chain rooted at the fingerprint.
func (analyzer *Analyzer) createChain(ctx context.Context, fp *database.Fingerprint, episode *Episode) (string, error) {
	logger := zlog.GetLogger()
	now := time.Now()

	chain := &database.IdentityChain{
		ID:          uuid.New().String(),
		RootHash:    fingerprint.IdentityHash([]string{fp.BaseHash}),
		CreatedAt:   now,
		UpdatedAt:   now,
		MemberCount: 1,
		TotalVisits: episode.Sampled,
		History: []database.ChainEvent{{
			BaseHash:  fp.BaseHash,
			Timestamp: now,
			Cause:     CauseEvolutionDetected,
			Diversity: episode.Diversity,
		}},
		Description: fmt.Sprintf("chain created: behavior evolution detected (diversity %.2f)", episode.Diversity),
	}

	if err := analyzer.store.InsertChain(ctx, chain); err != nil {
		return "", fmt.Errorf("failed to create identity chain: %w", err)
	}
	if err := analyzer.store.SetFingerprintChain(ctx, fp.BaseHash, chain.ID, true); err != nil {
		return "", fmt.Errorf("failed to link fingerprint to chain: %w", err)
	}
	relinked, err := analyzer.store.RelinkAccessLogs(ctx, fp.BaseHash, chain.ID)
	if err != nil {
		return "", fmt.Errorf("failed to relink access logs to chain: %w", err)
	}

	logger.Debug().
		Str("base_hash", fp.BaseHash).
		Str("chain_id", chain.ID).
		Float64("diversity", episode.Diversity).
		Int64("relinked_logs", relinked).
		Msg("created identity chain")
	return chain.ID, nil
}

// extendChain appends an evolution entry and recomputes the chain's root
// hash over the union of hashes in its history.
func (analyzer *Analyzer) extendChain(ctx context.Context, chainID string, baseHash string, episode *Episode) error {
	chain, err := analyzer.store.GetChain(ctx, chainID)
	if err != nil {
		return fmt.Errorf("failed to load identity chain: %w", err)
	}

	now := time.Now()
	chain.History = append(chain.History, database.ChainEvent{
		BaseHash:  baseHash,
		Timestamp: now,
		Cause:     CauseContinuedEvolution,
		Diversity: episode.Diversity,
	})

	members := historyMembers(chain.History)
	chain.RootHash = fingerprint.IdentityHash(members)
	chain.MemberCount = int32(len(members))
	chain.UpdatedAt = now
	chain.Description = fmt.Sprintf("chain extended: %d linked fingerprints", len(members))

	if err := analyzer.store.UpdateChain(ctx, chain); err != nil {
		return fmt.Errorf("failed to update identity chain: %w", err)
	}

	zlog.GetLogger().Debug().
		Str("base_hash", baseHash).
		Str("chain_id", chainID).
		Float64("diversity", episode.Diversity).
		Int("members", len(members)).
		Msg("extended identity chain")
	return nil
}

// MergeChains combines chain B into chain A: histories are interleaved by
// timestamp, the root hash is recomputed over the union of members, visits
// are summed and the higher threat score wins. Everything pointing at B is
// re-parented onto A and B is deleted, all in one store transaction.
func (analyzer *Analyzer) MergeChains(ctx context.Context, destID string, sourceID string) (*database.IdentityChain, error) {
	if destID == sourceID {
		return nil, fmt.Errorf("cannot merge a chain into itself: %s", destID)
	}

	dest, err := analyzer.store.GetChain(ctx, destID)
	if err != nil {
		return nil, fmt.Errorf("failed to load destination chain: %w", err)
	}
	source, err := analyzer.store.GetChain(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load source chain: %w", err)
	}

	merged := *dest
	merged.History = append(append([]database.ChainEvent{}, dest.History...), source.History...)
	sort.SliceStable(merged.History, func(i, j int) bool {
		return merged.History[i].Timestamp.Before(merged.History[j].Timestamp)
	})

	members := historyMembers(merged.History)
	merged.RootHash = fingerprint.IdentityHash(members)
	merged.MemberCount = int32(len(members))
	merged.TotalVisits = dest.TotalVisits + source.TotalVisits
	if source.ThreatScore > merged.ThreatScore {
		merged.ThreatScore = source.ThreatScore
	}
	merged.UpdatedAt = time.Now()
	merged.Description = fmt.Sprintf("chains merged: %d linked fingerprints", len(members))

	if err := analyzer.store.MergeChains(ctx, &merged, sourceID); err != nil {
		return nil, fmt.Errorf("failed to merge identity chains: %w", err)
	}

	zlog.GetLogger().Info().
		Str("chain_id", merged.ID).
		Str("merged_chain_id", sourceID).
		Int("members", len(members)).
		Msg("merged identity chains")
	return &merged, nil
}

// historyMembers returns the distinct base hashes appearing in an evolution
// history, in first-seen order.
func historyMembers(history []database.ChainEvent) []string {
	seen := make(map[string]bool, len(history))
	members := make([]string, 0, len(history))
	for _, event := range history {
		if !seen[event.BaseHash] {
			seen[event.BaseHash] = true
			members = append(members, event.BaseHash)
		}
	}
	return members
}
