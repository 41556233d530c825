package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const chainColumns = `id, root_hash, created_at, updated_at, member_count,
	total_visits, threat_score, evolution_history, description`

func scanChain(row pgx.Row) (*IdentityChain, error) {
	var chain IdentityChain
	var history []byte
	err := row.Scan(
		&chain.ID, &chain.RootHash, &chain.CreatedAt, &chain.UpdatedAt,
		&chain.MemberCount, &chain.TotalVisits, &chain.ThreatScore,
		&history, &chain.Description,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSONColumn(history, &chain.History); err != nil {
		return nil, fmt.Errorf("failed to decode chain history: %w", err)
	}
	return &chain, nil
}

// InsertChain persists a new identity chain.
func (db *DB) InsertChain(ctx context.Context, chain *IdentityChain) error {
	history, err := marshalJSONColumn(chain.History)
	if err != nil {
		return err
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO identity_chains
			(id, root_hash, created_at, updated_at, member_count, total_visits,
			 threat_score, evolution_history, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
	`, chain.ID, chain.RootHash, chain.CreatedAt, chain.UpdatedAt,
		chain.MemberCount, chain.TotalVisits, chain.ThreatScore, history, chain.Description)
	if err != nil {
		return fmt.Errorf("failed to insert identity chain: %w", err)
	}
	return nil
}

// GetChain fetches an identity chain by id.
func (db *DB) GetChain(ctx context.Context, id string) (*IdentityChain, error) {
	chain, err := scanChain(db.Pool.QueryRow(ctx,
		`SELECT `+chainColumns+` FROM identity_chains WHERE id = $1;`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return chain, err
}

// UpdateChain writes back an evolved chain: new root hash, counters and the
// appended history.
func (db *DB) UpdateChain(ctx context.Context, chain *IdentityChain) error {
	history, err := marshalJSONColumn(chain.History)
	if err != nil {
		return err
	}
	tag, err := db.Pool.Exec(ctx, `
		UPDATE identity_chains SET
			root_hash = $2,
			updated_at = $3,
			member_count = $4,
			total_visits = $5,
			threat_score = $6,
			evolution_history = $7,
			description = $8
		WHERE id = $1;
	`, chain.ID, chain.RootHash, chain.UpdatedAt, chain.MemberCount,
		chain.TotalVisits, chain.ThreatScore, history, chain.Description)
	if err != nil {
		return fmt.Errorf("failed to update identity chain: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MergeChains folds the source chain into the destination chain: the
// destination row takes the merged fields, every fingerprint, access log and
// threat event of the source is re-parented, and the source row is deleted.
// The whole merge is one transaction.
func (db *DB) MergeChains(ctx context.Context, merged *IdentityChain, sourceID string) error {
	history, err := marshalJSONColumn(merged.History)
	if err != nil {
		return err
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE identity_chains SET
			root_hash = $2,
			updated_at = $3,
			member_count = $4,
			total_visits = $5,
			threat_score = $6,
			evolution_history = $7,
			description = $8
		WHERE id = $1;
	`, merged.ID, merged.RootHash, merged.UpdatedAt, merged.MemberCount,
		merged.TotalVisits, merged.ThreatScore, history, merged.Description)
	if err != nil {
		return fmt.Errorf("failed to update destination chain: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx,
		`UPDATE fingerprints SET chain_id = $1, is_chain_root = FALSE WHERE chain_id = $2;`,
		merged.ID, sourceID); err != nil {
		return fmt.Errorf("failed to re-parent fingerprints: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE access_logs SET chain_id = $1 WHERE chain_id = $2;`,
		merged.ID, sourceID); err != nil {
		return fmt.Errorf("failed to re-parent access logs: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE threat_events SET chain_id = $1 WHERE chain_id = $2;`,
		merged.ID, sourceID); err != nil {
		return fmt.Errorf("failed to re-parent threat events: %w", err)
	}

	tag, err = tx.Exec(ctx, `DELETE FROM identity_chains WHERE id = $1;`, sourceID)
	if err != nil {
		return fmt.Errorf("failed to delete source chain: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return tx.Commit(ctx)
}
