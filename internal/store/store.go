// Package store implements the embedded, bounded-retention persistence
// layer: an indexed table of canonical alerts backed by a pure-Go,
// WAL-mode SQLite database.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/iff-guardian/siem-gateway/internal/alert"
)

// Store is a single handle around the embedded database. Its internal
// locking (via database/sql's connection pool plus SQLite's WAL journal)
// lets readers proceed while a writer is active.
type Store struct {
	db *sql.DB
}

// Open creates the parent directory for dbFile if needed, opens the
// database in WAL mode, and ensures the alerts table exists.
func Open(dbFile string) (*Store, error) {
	if dir := filepath.Dir(dbFile); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbFile)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	// A small pool of connections; under WAL, readers proceed against the
	// same file while a writer is active.
	db.SetMaxOpenConns(4)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL journal: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS alerts (
	id        TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL,
	level     TEXT NOT NULL,
	category  TEXT NOT NULL,
	data      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alerts(timestamp);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Ping verifies the store is reachable, for health checks.
func (s *Store) Ping() error {
	var one int
	return s.db.QueryRow(`SELECT 1`).Scan(&one)
}

// Append inserts a row for the given alert. I/O errors are returned to the
// caller to log and swallow; persistence is best-effort relative to delivery.
func (s *Store) Append(a alert.CanonicalAlert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO alerts (id, timestamp, level, category, data) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.Timestamp, a.Level, a.Category, string(data),
	)
	if err != nil {
		return fmt.Errorf("inserting alert: %w", err)
	}
	return nil
}

// RecentN returns the n rows with the greatest timestamp, oldest first.
func (s *Store) RecentN(n int) ([]alert.CanonicalAlert, error) {
	rows, err := s.db.Query(
		`SELECT data FROM alerts ORDER BY timestamp DESC LIMIT ?`, n,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recent alerts: %w", err)
	}
	defer rows.Close()

	var reversed []alert.CanonicalAlert
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning alert row: %w", err)
		}
		var a alert.CanonicalAlert
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return nil, fmt.Errorf("decoding stored alert: %w", err)
		}
		reversed = append(reversed, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query order is newest-first; callers want oldest-first replay order.
	out := make([]alert.CanonicalAlert, len(reversed))
	for i, a := range reversed {
		out[len(reversed)-1-i] = a
	}
	return out, nil
}

// Prune deletes every row not in the top-limit rows by descending timestamp.
// Idempotent.
func (s *Store) Prune(limit int) error {
	_, err := s.db.Exec(`
DELETE FROM alerts WHERE id NOT IN (
	SELECT id FROM alerts ORDER BY timestamp DESC LIMIT ?
)`, limit)
	if err != nil {
		return fmt.Errorf("pruning alerts: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
