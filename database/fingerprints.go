package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const fingerprintColumns = `id, base_hash, ip_address, user_agent, first_seen, last_seen,
	visit_count, behavior_count, threat_score, last_score_update, chain_id, is_chain_root, metadata`

// scanFingerprint scans one fingerprint row in fingerprintColumns order.
func scanFingerprint(row pgx.Row) (*Fingerprint, error) {
	var fp Fingerprint
	var metadata []byte
	err := row.Scan(
		&fp.ID, &fp.BaseHash, &fp.IPAddress, &fp.UserAgent, &fp.FirstSeen, &fp.LastSeen,
		&fp.VisitCount, &fp.BehaviorCount, &fp.ThreatScore, &fp.LastScoreUpdate,
		&fp.ChainID, &fp.IsChainRoot, &metadata,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSONColumn(metadata, &fp.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode fingerprint metadata: %w", err)
	}
	return &fp, nil
}

// GetFingerprint fetches a fingerprint by its base hash.
func (db *DB) GetFingerprint(ctx context.Context, baseHash string) (*Fingerprint, error) {
	querySQL := `SELECT ` + fingerprintColumns + ` FROM fingerprints WHERE base_hash = $1;`
	fp, err := scanFingerprint(db.Pool.QueryRow(ctx, querySQL, baseHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return fp, err
}

// TopFingerprints returns the highest scored fingerprints, highest first.
func (db *DB) TopFingerprints(ctx context.Context, limit int) ([]Fingerprint, error) {
	querySQL := `
		SELECT ` + fingerprintColumns + ` FROM fingerprints
		ORDER BY threat_score DESC, last_seen DESC
		LIMIT $1;
	`
	rows, err := db.Pool.Query(ctx, querySQL, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fingerprints := make([]Fingerprint, 0)
	for rows.Next() {
		fp, err := scanFingerprint(rows)
		if err != nil {
			return nil, err
		}
		fingerprints = append(fingerprints, *fp)
	}
	return fingerprints, rows.Err()
}

// UpdateThreatScore writes a fingerprint's score and score timestamp.
func (db *DB) UpdateThreatScore(ctx context.Context, baseHash string, score int32, updatedAt time.Time) error {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE fingerprints SET threat_score = $2, last_score_update = $3 WHERE base_hash = $1;`,
		baseHash, score, updatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CompareAndSetScore writes a fingerprint's score only if nobody advanced the
// score timestamp since it was read. Returns false when the write lost the
// race and the caller must re-read.
func (db *DB) CompareAndSetScore(ctx context.Context, baseHash string, score int32, updatedAt time.Time, readAt time.Time) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE fingerprints SET threat_score = $2, last_score_update = $3
		WHERE base_hash = $1 AND last_score_update = $4;
	`, baseHash, score, updatedAt, readAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetFingerprintChain links a fingerprint to an identity chain.
func (db *DB) SetFingerprintChain(ctx context.Context, baseHash string, chainID string, isRoot bool) error {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE fingerprints SET chain_id = $2, is_chain_root = $3 WHERE base_hash = $1;`,
		baseHash, chainID, isRoot)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateBehaviorCount records how many distinct behavior hashes a
// fingerprint has produced in its recent sample.
func (db *DB) UpdateBehaviorCount(ctx context.Context, baseHash string, count int64) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE fingerprints SET behavior_count = $2 WHERE base_hash = $1;`,
		baseHash, count)
	return err
}

// UpdateFingerprintMetadata merges enrichment values (rdns, geo) into a
// fingerprint's metadata column.
func (db *DB) UpdateFingerprintMetadata(ctx context.Context, baseHash string, metadata map[string]string) error {
	data, err := marshalJSONColumn(metadata)
	if err != nil {
		return err
	}
	_, err = db.Pool.Exec(ctx,
		`UPDATE fingerprints SET metadata = metadata || $2::jsonb WHERE base_hash = $1;`,
		baseHash, data)
	return err
}
