package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const customRuleColumns = `id, name, description, conditions, score, severity,
	priority, enabled, created_at, updated_at`

func scanCustomRule(row pgx.Row) (*CustomRule, error) {
	var rule CustomRule
	var conditions []byte
	err := row.Scan(
		&rule.ID, &rule.Name, &rule.Description, &conditions, &rule.Score,
		&rule.Severity, &rule.Priority, &rule.Enabled, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSONColumn(conditions, &rule.Conditions); err != nil {
		return nil, err
	}
	return &rule, nil
}

// CreateCustomRule stores a new rule. Rule names are unique.
func (db *DB) CreateCustomRule(ctx context.Context, rule *CustomRule) error {
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	conditions, err := marshalJSONColumn(rule.Conditions)
	if err != nil {
		return err
	}

	err = db.Pool.QueryRow(ctx, `
		INSERT INTO custom_rules
			(name, description, conditions, score, severity, priority, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id;
	`, rule.Name, rule.Description, conditions, rule.Score,
		rule.Severity, rule.Priority, rule.Enabled, rule.CreatedAt, rule.UpdatedAt).Scan(&rule.ID)
	if err != nil {
		return fmt.Errorf("failed to create custom rule %q: %w", rule.Name, err)
	}
	return nil
}

// UpdateCustomRule overwrites an existing rule's mutable fields.
func (db *DB) UpdateCustomRule(ctx context.Context, rule *CustomRule) error {
	rule.UpdatedAt = time.Now()

	conditions, err := marshalJSONColumn(rule.Conditions)
	if err != nil {
		return err
	}

	result, err := db.Pool.Exec(ctx, `
		UPDATE custom_rules SET
			name = $2, description = $3, conditions = $4, score = $5,
			severity = $6, priority = $7, enabled = $8, updated_at = $9
		WHERE id = $1;
	`, rule.ID, rule.Name, rule.Description, conditions, rule.Score,
		rule.Severity, rule.Priority, rule.Enabled, rule.UpdatedAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCustomRuleEnabled toggles a rule without touching its definition.
func (db *DB) SetCustomRuleEnabled(ctx context.Context, id int64, enabled bool) error {
	result, err := db.Pool.Exec(ctx, `
		UPDATE custom_rules SET enabled = $2, updated_at = $3 WHERE id = $1;
	`, id, enabled, time.Now())
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCustomRule removes a rule permanently.
func (db *DB) DeleteCustomRule(ctx context.Context, id int64) error {
	result, err := db.Pool.Exec(ctx, `DELETE FROM custom_rules WHERE id = $1;`, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCustomRules returns rules in evaluation order: priority descending,
// then name for a stable tiebreak.
func (db *DB) ListCustomRules(ctx context.Context, enabledOnly bool) ([]CustomRule, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+customRuleColumns+` FROM custom_rules
		WHERE NOT $1 OR enabled
		ORDER BY priority DESC, name;
	`, enabledOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]CustomRule, 0)
	for rows.Next() {
		rule, err := scanCustomRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

const portRuleColumns = `id, port, protocol, action, source, is_active, created_at`

func scanPortRule(row pgx.Row) (*PortRule, error) {
	var rule PortRule
	err := row.Scan(
		&rule.ID, &rule.Port, &rule.Protocol, &rule.Action,
		&rule.Source, &rule.IsActive, &rule.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// InsertPortRule records a port mutation, deactivating any prior active rule
// for the same port and protocol so the table keeps one live row per pair.
func (db *DB) InsertPortRule(ctx context.Context, rule *PortRule) error {
	rule.IsActive = true
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		UPDATE port_rules SET is_active = FALSE
		WHERE port = $1 AND protocol = $2 AND is_active;
	`, rule.Port, rule.Protocol)
	if err != nil {
		return err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO port_rules (port, protocol, action, source, is_active, created_at)
		VALUES ($1, $2, $3, $4, TRUE, $5)
		RETURNING id;
	`, rule.Port, rule.Protocol, rule.Action, rule.Source, rule.CreatedAt).Scan(&rule.ID)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// DeactivatePortRule retires the active rule for a port and protocol.
// Returns the retired rule, or ErrNotFound when none was active.
func (db *DB) DeactivatePortRule(ctx context.Context, port int32, protocol string) (*PortRule, error) {
	rule, err := scanPortRule(db.Pool.QueryRow(ctx, `
		UPDATE port_rules SET is_active = FALSE
		WHERE port = $1 AND protocol = $2 AND is_active
		RETURNING `+portRuleColumns+`;
	`, port, protocol))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListPortRules returns port rules, optionally only the active ones.
func (db *DB) ListPortRules(ctx context.Context, activeOnly bool) ([]PortRule, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+portRuleColumns+` FROM port_rules
		WHERE NOT $1 OR is_active
		ORDER BY port, protocol, created_at DESC;
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]PortRule, 0)
	for rows.Next() {
		rule, err := scanPortRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}
