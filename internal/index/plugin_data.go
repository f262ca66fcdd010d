package index

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Load returns the plugin data tree: one entry per stored key, decoded from JSON.
// An empty table yields an empty map.
func (db *DB) Load(ctx context.Context) (map[string]any, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT key, value FROM plugin_data`)
	if err != nil {
		return nil, fmt.Errorf("index: load plugin data: %w", err)
	}
	defer rows.Close()

	out := make(map[string]any)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("index: decode plugin data %q: %w", key, err)
		}
		out[key] = v
	}
	return out, rows.Err()
}

// Save replaces the plugin data tree. Keys absent from tree are removed.
func (db *DB) Save(ctx context.Context, tree map[string]any) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM plugin_data`); err != nil {
		return fmt.Errorf("index: clear plugin data: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO plugin_data (key, value, updated_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare plugin data insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for key, v := range tree {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("index: encode plugin data %q: %w", key, err)
		}
		if _, err := stmt.ExecContext(ctx, key, string(raw), now); err != nil {
			return fmt.Errorf("index: save plugin data %q: %w", key, err)
		}
	}
	return tx.Commit()
}
