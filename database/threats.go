package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const threatColumns = `id, timestamp, ip_address, base_hash, chain_id, threat_type,
	severity, description, details, handled, action_taken`

func scanThreatEvent(row pgx.Row) (*ThreatEvent, error) {
	var event ThreatEvent
	var details []byte
	err := row.Scan(
		&event.ID, &event.Timestamp, &event.IPAddress, &event.BaseHash, &event.ChainID,
		&event.ThreatType, &event.Severity, &event.Description, &details,
		&event.Handled, &event.ActionTaken,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSONColumn(details, &event.Details); err != nil {
		return nil, fmt.Errorf("failed to decode threat details: %w", err)
	}
	return &event, nil
}

// InsertThreatEvent persists a finding. An id is assigned when the caller
// did not supply one.
func (db *DB) InsertThreatEvent(ctx context.Context, event *ThreatEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	details, err := marshalJSONColumn(event.Details)
	if err != nil {
		return err
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO threat_events
			(id, timestamp, ip_address, base_hash, chain_id, threat_type,
			 severity, description, details, handled, action_taken)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);
	`, event.ID, event.Timestamp, event.IPAddress, event.BaseHash, event.ChainID,
		event.ThreatType, event.Severity, event.Description, details,
		event.Handled, event.ActionTaken)
	if err != nil {
		return fmt.Errorf("failed to insert threat event: %w", err)
	}
	return nil
}

// RecentThreats returns the newest findings, newest first. An empty address
// returns findings for all addresses.
func (db *DB) RecentThreats(ctx context.Context, address string, limit int) ([]ThreatEvent, error) {
	querySQL := `
		SELECT ` + threatColumns + ` FROM threat_events
		WHERE ($1 = '' OR ip_address = $1)
		ORDER BY timestamp DESC
		LIMIT $2;
	`
	rows, err := db.Pool.Query(ctx, querySQL, address, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]ThreatEvent, 0)
	for rows.Next() {
		event, err := scanThreatEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

// SetThreatAction records what was done about a finding. A failed
// enforcement writes an error sentinel here so the event is never silently
// half-handled.
func (db *DB) SetThreatAction(ctx context.Context, id string, actionTaken string, handled bool) error {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE threat_events SET action_taken = $2, handled = $3 WHERE id = $1;`,
		id, actionTaken, handled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
