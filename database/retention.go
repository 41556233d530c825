package database

import (
	"context"
	"time"
)

// RetentionResult reports how many rows a retention sweep removed.
type RetentionResult struct {
	Fingerprints int64
	AccessLogs   int64
	ThreatEvents int64
	Chains       int64
}

// RetentionSweep deletes fingerprints idle since before the horizon along
// with their access logs, threat events, and score history, then reaps
// identity chains left without members. Ban records are kept: they carry the
// escalation count across quiet periods.
func (db *DB) RetentionSweep(ctx context.Context, horizon time.Time) (*RetentionResult, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var result RetentionResult

	const staleHashes = `SELECT base_hash FROM fingerprints WHERE last_seen < $1`

	logs, err := tx.Exec(ctx, `DELETE FROM access_logs WHERE base_hash IN (`+staleHashes+`);`, horizon)
	if err != nil {
		return nil, err
	}
	result.AccessLogs = logs.RowsAffected()

	threats, err := tx.Exec(ctx, `DELETE FROM threat_events WHERE base_hash IN (`+staleHashes+`);`, horizon)
	if err != nil {
		return nil, err
	}
	result.ThreatEvents = threats.RowsAffected()

	_, err = tx.Exec(ctx, `DELETE FROM score_history WHERE base_hash IN (`+staleHashes+`);`, horizon)
	if err != nil {
		return nil, err
	}

	fingerprints, err := tx.Exec(ctx, `DELETE FROM fingerprints WHERE last_seen < $1;`, horizon)
	if err != nil {
		return nil, err
	}
	result.Fingerprints = fingerprints.RowsAffected()

	chains, err := tx.Exec(ctx, `
		DELETE FROM identity_chains
		WHERE id NOT IN (SELECT DISTINCT chain_id FROM fingerprints WHERE chain_id IS NOT NULL);
	`)
	if err != nil {
		return nil, err
	}
	result.Chains = chains.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &result, nil
}
