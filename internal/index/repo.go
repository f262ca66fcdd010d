package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// FileRow is a row in the files table.
type FileRow struct {
	Path      string
	Checksum  string
	UpdatedAt time.Time
}

// TagRow is one indexed tag occurrence. Detail is the JSON form of its
// record, or null when the occurrence has no detail.
type TagRow struct {
	Path        string          `json:"path"`
	Index       int             `json:"index"`
	Tag         string          `json:"tag"`
	Fingerprint string          `json:"fingerprint"`
	HasDetail   bool            `json:"has_detail"`
	Detail      json.RawMessage `json:"detail"`
}

// ReviewItem is a file whose last reconciliation could not be aligned with certainty.
type ReviewItem struct {
	Path      string    `json:"path"`
	Reason    string    `json:"reason"`
	FlaggedAt time.Time `json:"flagged_at"`
}

// UpsertFile replaces the file row and all its tag rows within a transaction.
func (db *DB) UpsertFile(ctx context.Context, f FileRow, tags []TagRow) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = time.Now()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO files (path, checksum, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			checksum   = excluded.checksum,
			updated_at = excluded.updated_at
	`, f.Path, f.Checksum, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert file: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tag_details WHERE path = ?`, f.Path); err != nil {
		return fmt.Errorf("index: clear tags: %w", err)
	}
	if len(tags) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO tag_details (path, idx, tag, fingerprint, has_detail, detail)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare tag insert: %w", err)
		}
		defer stmt.Close()
		for _, t := range tags {
			detail := string(t.Detail)
			if detail == "" {
				detail = "null"
			}
			if _, err := stmt.ExecContext(ctx, f.Path, t.Index, t.Tag, t.Fingerprint, t.HasDetail, detail); err != nil {
				return fmt.Errorf("index: insert tag: %w", err)
			}
		}
	}

	return tx.Commit()
}

// DeleteFile removes a file, its tag rows and any review flag.
func (db *DB) DeleteFile(ctx context.Context, path string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, q := range []string{
		`DELETE FROM tag_details WHERE path = ?`,
		`DELETE FROM review_queue WHERE path = ?`,
		`DELETE FROM files WHERE path = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, path); err != nil {
			return fmt.Errorf("index: delete file: %w", err)
		}
	}
	return tx.Commit()
}

// GetChecksum returns the stored checksum for a file, or empty string if not found.
func (db *DB) GetChecksum(ctx context.Context, path string) (string, error) {
	var cs string
	err := db.conn.QueryRowContext(ctx, `SELECT checksum FROM files WHERE path = ?`, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get checksum: %w", err)
	}
	return cs, nil
}

// AllChecksums returns the checksum of every indexed file.
func (db *DB) AllChecksums(ctx context.Context) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT path, checksum FROM files`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// ListByTag returns every occurrence of tag across the vault, ordered by path and position.
func (db *DB) ListByTag(ctx context.Context, tag string) ([]TagRow, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT path, idx, tag, fingerprint, has_detail, detail
		FROM tag_details
		WHERE tag = ?
		ORDER BY path, idx
	`, tag)
	if err != nil {
		return nil, fmt.Errorf("index: list by tag: %w", err)
	}
	return scanTags(rows)
}

// Search matches query as a substring of tag text, attribute values and typed
// item values. Attribute and item names and the JSON layout never match.
func (db *DB) Search(ctx context.Context, query string, limit int) ([]TagRow, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + escapeLike(query) + "%"
	rows, err := db.conn.QueryContext(ctx, `
		SELECT path, idx, tag, fingerprint, has_detail, detail
		FROM tag_details
		WHERE tag LIKE ?1 ESCAPE '\'
			OR (has_detail = 1 AND (
				EXISTS (SELECT 1 FROM json_each(detail, '$.attributes') a
					WHERE a.value LIKE ?1 ESCAPE '\')
				OR EXISTS (SELECT 1 FROM json_each(detail, '$.items') i
					WHERE json_extract(i.value, '$.raw') LIKE ?1 ESCAPE '\')))
		ORDER BY path, idx
		LIMIT ?2
	`, like, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	return scanTags(rows)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes LIKE wildcards in s match literally.
func escapeLike(s string) string { return likeEscaper.Replace(s) }

func scanTags(rows *sql.Rows) ([]TagRow, error) {
	defer rows.Close()
	var out []TagRow
	for rows.Next() {
		var r TagRow
		var detail string
		if err := rows.Scan(&r.Path, &r.Index, &r.Tag, &r.Fingerprint, &r.HasDetail, &detail); err != nil {
			return nil, err
		}
		r.Detail = json.RawMessage(detail)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Flag records path in the review queue, replacing an earlier reason.
func (db *DB) Flag(ctx context.Context, path, reason string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO review_queue (path, reason, flagged_at) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET reason = excluded.reason, flagged_at = excluded.flagged_at
	`, path, reason, time.Now())
	if err != nil {
		return fmt.Errorf("index: flag: %w", err)
	}
	return nil
}

// ListFlagged returns the review queue, oldest first.
func (db *DB) ListFlagged(ctx context.Context) ([]ReviewItem, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT path, reason, flagged_at FROM review_queue ORDER BY flagged_at, path`)
	if err != nil {
		return nil, fmt.Errorf("index: list flagged: %w", err)
	}
	defer rows.Close()
	var out []ReviewItem
	for rows.Next() {
		var it ReviewItem
		if err := rows.Scan(&it.Path, &it.Reason, &it.FlaggedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ClearFlag removes path from the review queue and reports whether it was queued.
func (db *DB) ClearFlag(ctx context.Context, path string) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM review_queue WHERE path = ?`, path)
	if err != nil {
		return false, fmt.Errorf("index: clear flag: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
