package database

import (
	"context"
	"fmt"
)

// RecordAccess inserts an access log row and upserts its fingerprint inside
// one transaction, returning the post-upsert fingerprint. New fingerprints
// start with one visit and a zero score; existing ones bump the visit count,
// widen first_seen/last_seen so out-of-order replays cannot shrink the span,
// and take over the latest address and user agent.
func (db *DB) RecordAccess(ctx context.Context, entry *AccessLog) (*Fingerprint, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	insertLogSQL := `
		INSERT INTO access_logs
			(timestamp, ip_address, user_agent, method, path, query_string,
			 status_code, response_size, referer, duration, base_hash, behavior_hash, chain_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id;
	`
	err = tx.QueryRow(ctx, insertLogSQL,
		entry.Timestamp,
		entry.IPAddress,
		entry.UserAgent,
		entry.Method,
		entry.Path,
		entry.QueryString,
		entry.StatusCode,
		entry.ResponseSize,
		entry.Referer,
		entry.Duration,
		entry.BaseHash,
		entry.BehaviorHash,
		entry.ChainID,
	).Scan(&entry.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert access log: %w", err)
	}

	upsertSQL := `
		INSERT INTO fingerprints
			(base_hash, ip_address, user_agent, first_seen, last_seen,
			 visit_count, behavior_count, threat_score, last_score_update)
		VALUES ($1, $2, $3, $4, $4, 1, 1, 0, $4)
		ON CONFLICT (base_hash) DO UPDATE SET
			ip_address = EXCLUDED.ip_address,
			user_agent = EXCLUDED.user_agent,
			first_seen = LEAST(fingerprints.first_seen, EXCLUDED.first_seen),
			last_seen = GREATEST(fingerprints.last_seen, EXCLUDED.last_seen),
			visit_count = fingerprints.visit_count + 1
		RETURNING ` + fingerprintColumns + `;
	`
	fingerprint, err := scanFingerprint(tx.QueryRow(ctx, upsertSQL, entry.BaseHash, entry.IPAddress, entry.UserAgent, entry.Timestamp))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert fingerprint: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return fingerprint, nil
}

// RecentLogsByAddress returns the newest access log rows for an address,
// newest first.
func (db *DB) RecentLogsByAddress(ctx context.Context, address string, limit int) ([]AccessLog, error) {
	querySQL := `
		SELECT id, timestamp, ip_address, user_agent, method, path, query_string,
			status_code, response_size, referer, duration, base_hash, behavior_hash, chain_id
		FROM access_logs
		WHERE ip_address = $1
		ORDER BY timestamp DESC
		LIMIT $2;
	`
	rows, err := db.Pool.Query(ctx, querySQL, address, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]AccessLog, 0)
	for rows.Next() {
		var entry AccessLog
		err := rows.Scan(
			&entry.ID, &entry.Timestamp, &entry.IPAddress, &entry.UserAgent,
			&entry.Method, &entry.Path, &entry.QueryString, &entry.StatusCode,
			&entry.ResponseSize, &entry.Referer, &entry.Duration,
			&entry.BaseHash, &entry.BehaviorHash, &entry.ChainID,
		)
		if err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

// BehaviorDiversity examines the newest sample of rows for a base hash and
// returns how many rows were seen and how many distinct behavior hashes they
// carry. The diversity ratio drives identity chain episodes.
func (db *DB) BehaviorDiversity(ctx context.Context, baseHash string, sampleSize int) (total int64, distinct int64, err error) {
	querySQL := `
		SELECT count(*), count(DISTINCT behavior_hash) FROM (
			SELECT behavior_hash FROM access_logs
			WHERE base_hash = $1
			ORDER BY timestamp DESC
			LIMIT $2
		) sample;
	`
	err = db.Pool.QueryRow(ctx, querySQL, baseHash, sampleSize).Scan(&total, &distinct)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to compute behavior diversity: %w", err)
	}
	return total, distinct, nil
}

// RelinkAccessLogs points every access log row of a base hash at a chain.
func (db *DB) RelinkAccessLogs(ctx context.Context, baseHash string, chainID string) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `UPDATE access_logs SET chain_id = $2 WHERE base_hash = $1;`, baseHash, chainID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
