package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const banColumns = `id, ip_address, banned_at, ban_until, reason, threat_event_id,
	is_permanent, is_active, unbanned_at, ban_count`

// BanRequest describes one requested ban mutation.
type BanRequest struct {
	Address       string
	Reason        string
	BanUntil      *time.Time // nil = permanent
	ThreatEventID *string
	Permanent     bool
}

func scanBanRecord(row pgx.Row) (*BanRecord, error) {
	var ban BanRecord
	err := row.Scan(
		&ban.ID, &ban.IPAddress, &ban.BannedAt, &ban.BanUntil, &ban.Reason,
		&ban.ThreatEventID, &ban.IsPermanent, &ban.IsActive, &ban.UnbannedAt, &ban.BanCount,
	)
	if err != nil {
		return nil, err
	}
	return &ban, nil
}

// UpsertBan creates or reactivates the ban record for an address. An address
// keeps one record across its ban history: each re-ban reactivates the row
// and increments ban_count, and reaching escalationCount flips the ban
// permanent. Permanent bans carry a null ban_until.
func (db *DB) UpsertBan(ctx context.Context, req BanRequest, escalationCount int32, now time.Time) (*BanRecord, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var priorID int64
	var priorCount int32
	err = tx.QueryRow(ctx, `
		SELECT id, ban_count FROM ban_records
		WHERE ip_address = $1
		ORDER BY banned_at DESC
		LIMIT 1
		FOR UPDATE;
	`, req.Address).Scan(&priorID, &priorCount)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up prior ban record: %w", err)
	}

	banCount := int32(1)
	if err == nil {
		banCount = priorCount + 1
	}

	permanent := req.Permanent || banCount >= escalationCount
	banUntil := req.BanUntil
	if permanent {
		banUntil = nil
	}

	var ban *BanRecord
	if banCount > 1 {
		ban, err = scanBanRecord(tx.QueryRow(ctx, `
			UPDATE ban_records SET
				banned_at = $2,
				ban_until = $3,
				reason = $4,
				threat_event_id = $5,
				is_permanent = $6,
				is_active = TRUE,
				unbanned_at = NULL,
				ban_count = $7
			WHERE id = $1
			RETURNING `+banColumns+`;
		`, priorID, now, banUntil, req.Reason, req.ThreatEventID, permanent, banCount))
	} else {
		ban, err = scanBanRecord(tx.QueryRow(ctx, `
			INSERT INTO ban_records
				(ip_address, banned_at, ban_until, reason, threat_event_id,
				 is_permanent, is_active, ban_count)
			VALUES ($1, $2, $3, $4, $5, $6, TRUE, 1)
			RETURNING `+banColumns+`;
		`, req.Address, now, banUntil, req.Reason, req.ThreatEventID, permanent))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert ban record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ban, nil
}

// DeactivateBan marks the active ban for an address inactive and stamps
// unbanned_at. Returns ErrNotFound when no active ban exists.
func (db *DB) DeactivateBan(ctx context.Context, address string, now time.Time) (*BanRecord, error) {
	ban, err := scanBanRecord(db.Pool.QueryRow(ctx, `
		UPDATE ban_records SET is_active = FALSE, unbanned_at = $2
		WHERE ip_address = $1 AND is_active
		RETURNING `+banColumns+`;
	`, address, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ban, err
}

// GetActiveBan fetches the active ban record for an address, if any.
func (db *DB) GetActiveBan(ctx context.Context, address string) (*BanRecord, error) {
	ban, err := scanBanRecord(db.Pool.QueryRow(ctx, `
		SELECT `+banColumns+` FROM ban_records
		WHERE ip_address = $1 AND is_active;
	`, address))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ban, err
}

// ActiveBans lists every active ban, newest first.
func (db *DB) ActiveBans(ctx context.Context) ([]BanRecord, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+banColumns+` FROM ban_records
		WHERE is_active
		ORDER BY banned_at DESC;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bans := make([]BanRecord, 0)
	for rows.Next() {
		ban, err := scanBanRecord(rows)
		if err != nil {
			return nil, err
		}
		bans = append(bans, *ban)
	}
	return bans, rows.Err()
}

// ExpiredActiveBans lists active non-permanent bans whose ban_until has
// passed. The scheduler sweep feeds these to the firewall executor.
func (db *DB) ExpiredActiveBans(ctx context.Context, now time.Time) ([]BanRecord, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+banColumns+` FROM ban_records
		WHERE is_active AND NOT is_permanent AND ban_until IS NOT NULL AND ban_until <= $1
		ORDER BY ban_until;
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bans := make([]BanRecord, 0)
	for rows.Next() {
		ban, err := scanBanRecord(rows)
		if err != nil {
			return nil, err
		}
		bans = append(bans, *ban)
	}
	return bans, rows.Err()
}
