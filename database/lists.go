package database

import (
	"context"
	"fmt"
	"time"
)

// ListKind selects between the persisted allowlist and denylist.
type ListKind string

const (
	Allowlist ListKind = "allowlist"
	Denylist  ListKind = "denylist"
)

func listTable(kind ListKind) (string, error) {
	switch kind {
	case Allowlist:
		return "allowlist", nil
	case Denylist:
		return "denylist", nil
	default:
		return "", fmt.Errorf("unknown list kind: %q", kind)
	}
}

// AddListEntry inserts a CIDR into the allowlist or denylist. Re-adding an
// existing CIDR refreshes its description.
func (db *DB) AddListEntry(ctx context.Context, kind ListKind, cidr, description string) (*ListEntry, error) {
	table, err := listTable(kind)
	if err != nil {
		return nil, err
	}

	entry := ListEntry{CIDR: cidr, Description: description, CreatedAt: time.Now()}
	err = db.Pool.QueryRow(ctx, `
		INSERT INTO `+table+` (cidr, description, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (cidr) DO UPDATE SET description = EXCLUDED.description
		RETURNING id, cidr, description, created_at;
	`, entry.CIDR, entry.Description, entry.CreatedAt).Scan(
		&entry.ID, &entry.CIDR, &entry.Description, &entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// RemoveListEntry deletes a CIDR from the given list. Returns ErrNotFound
// when the CIDR is absent.
func (db *DB) RemoveListEntry(ctx context.Context, kind ListKind, cidr string) error {
	table, err := listTable(kind)
	if err != nil {
		return err
	}

	result, err := db.Pool.Exec(ctx, `DELETE FROM `+table+` WHERE cidr = $1;`, cidr)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEntries returns every entry of the given list, oldest first.
func (db *DB) ListEntries(ctx context.Context, kind ListKind) ([]ListEntry, error) {
	table, err := listTable(kind)
	if err != nil {
		return nil, err
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT id, cidr, description, created_at FROM `+table+`
		ORDER BY created_at;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]ListEntry, 0)
	for rows.Next() {
		var entry ListEntry
		if err := rows.Scan(&entry.ID, &entry.CIDR, &entry.Description, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
