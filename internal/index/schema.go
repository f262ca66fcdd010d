// Package index provides the SQLite store behind tagledger: the generic
// plugin-data key/value table and a queryable index of tag details.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS plugin_data (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS files (
	path       TEXT PRIMARY KEY,
	checksum   TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS tag_details (
	path        TEXT NOT NULL,
	idx         INTEGER NOT NULL,
	tag         TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	has_detail  INTEGER NOT NULL DEFAULT 0,
	detail      TEXT NOT NULL DEFAULT 'null',
	PRIMARY KEY (path, idx)
);

CREATE INDEX IF NOT EXISTS idx_tag_details_tag ON tag_details(tag);

CREATE TABLE IF NOT EXISTS review_queue (
	path       TEXT PRIMARY KEY,
	reason     TEXT NOT NULL DEFAULT '',
	flagged_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
