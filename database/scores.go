package database

import (
	"context"
)

// InsertScoreHistory appends one score ledger entry. The entry keeps both the
// delta and the resulting total so the ledger replays without the fingerprint
// row.
func (db *DB) InsertScoreHistory(ctx context.Context, entry *ScoreHistory) error {
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO score_history
			(timestamp, fingerprint_id, base_hash, delta, total, reason, threat_event_id, operator)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id;
	`, entry.Timestamp, entry.FingerprintID, entry.BaseHash,
		entry.Delta, entry.Total, entry.Reason, entry.ThreatEventID, entry.Operator).Scan(&entry.ID)
	return err
}

// ScoreHistoryFor returns the most recent ledger entries for a fingerprint,
// newest first.
func (db *DB) ScoreHistoryFor(ctx context.Context, baseHash string, limit int) ([]ScoreHistory, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, timestamp, fingerprint_id, base_hash, delta, total, reason, threat_event_id, operator
		FROM score_history
		WHERE base_hash = $1
		ORDER BY timestamp DESC
		LIMIT $2;
	`, baseHash, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]ScoreHistory, 0, limit)
	for rows.Next() {
		var entry ScoreHistory
		err = rows.Scan(
			&entry.ID, &entry.Timestamp, &entry.FingerprintID, &entry.BaseHash,
			&entry.Delta, &entry.Total, &entry.Reason, &entry.ThreatEventID, &entry.Operator,
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
