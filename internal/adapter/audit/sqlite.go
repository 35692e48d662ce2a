// Package audit persists the access log in SQLite.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"doorman/internal/domain"
)

// timeFormat keeps a fixed nanosecond width so the TEXT column compares
// lexicographically in chronological order. RFC3339Nano trims trailing
// zeros and breaks range scans.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// defaultRecentLimit applies when a caller passes a non-positive limit.
const defaultRecentLimit = 50

// SQLiteStore implements domain.AuditStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	closed atomic.Bool
}

// NewSQLiteStore opens (or creates) the audit database at dbPath and runs
// the schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS access_events (
			id         TEXT PRIMARY KEY,
			door_id    TEXT NOT NULL,
			type       TEXT NOT NULL,
			card_raw   TEXT NOT NULL DEFAULT '',
			granted    INTEGER NOT NULL DEFAULT 0,
			reason     TEXT NOT NULL DEFAULT '',
			detail     TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_access_door_created ON access_events (door_id, created_at DESC)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_access_created ON access_events (created_at)`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	s.closed.Store(true)
	return s.db.Close()
}

func (s *SQLiteStore) Insert(_ context.Context, rec domain.AuditRecord) error {
	if s.closed.Load() {
		return domain.ErrStoreClosed
	}
	_, err := s.db.Exec(
		"INSERT INTO access_events (id, door_id, type, card_raw, granted, reason, detail, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		rec.ID, rec.DoorID, string(rec.Type), rec.CardRaw, rec.Granted, rec.Reason, rec.Detail,
		rec.CreatedAt.UTC().Format(timeFormat),
	)
	return domain.WrapOp("audit.insert", err)
}

// RecentByDoor returns up to limit records for one door, newest first.
func (s *SQLiteStore) RecentByDoor(_ context.Context, doorID string, limit int) ([]domain.AuditRecord, error) {
	if s.closed.Load() {
		return nil, domain.ErrStoreClosed
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	rows, err := s.db.Query(
		"SELECT id, door_id, type, card_raw, granted, reason, detail, created_at FROM access_events WHERE door_id = ? ORDER BY created_at DESC LIMIT ?",
		doorID, limit,
	)
	if err != nil {
		return nil, domain.WrapOp("audit.query", err)
	}
	defer rows.Close()

	var recs []domain.AuditRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// PruneBefore deletes records strictly older than cutoff and reports how
// many were removed.
func (s *SQLiteStore) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	if s.closed.Load() {
		return 0, domain.ErrStoreClosed
	}
	res, err := s.db.Exec(
		"DELETE FROM access_events WHERE created_at < ?",
		cutoff.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, domain.WrapOp("audit.prune", err)
	}
	return res.RowsAffected()
}

func scanRecord(rows *sql.Rows) (domain.AuditRecord, error) {
	var rec domain.AuditRecord
	var typeStr, createdStr string
	if err := rows.Scan(&rec.ID, &rec.DoorID, &typeStr, &rec.CardRaw, &rec.Granted, &rec.Reason, &rec.Detail, &createdStr); err != nil {
		return rec, err
	}
	rec.Type = domain.EventType(typeStr)
	rec.CreatedAt, _ = time.Parse(timeFormat, createdStr)
	return rec, nil
}
