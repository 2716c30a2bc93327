package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/avs/pkg/contracts"
)

// SQLiteStore is the single-node durable implementation.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer avoids SQLITE_BUSY under concurrent scenario ingest.
	db.SetMaxOpenConns(1)
	s, err := NewSQLiteStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS provenance_records (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		hash TEXT NOT NULL UNIQUE,
		trace_id TEXT NOT NULL DEFAULT '',
		agent TEXT NOT NULL,
		action TEXT NOT NULL,
		ts TEXT NOT NULL,
		record TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_provenance_records_trace ON provenance_records (trace_id, seq);`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("migrate sqlite store: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, rec contracts.ProvenanceRecord) error {
	if err := checkAppendable(rec); err != nil {
		return err
	}
	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	query := `INSERT OR IGNORE INTO provenance_records (hash, trace_id, agent, action, ts, record) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, rec.Hash, rec.TraceID, rec.Agent, rec.Action, rec.Timestamp, raw); err != nil {
		return fmt.Errorf("failed to insert provenance record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListByTrace(ctx context.Context, traceID string) ([]contracts.ProvenanceRecord, error) {
	query := `SELECT record FROM provenance_records WHERE trace_id = ? ORDER BY seq`
	return listRecords(ctx, s.db, query, traceID)
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM provenance_records`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func listRecords(ctx context.Context, db *sql.DB, query string, traceID string) ([]contracts.ProvenanceRecord, error) {
	rows, err := db.QueryContext(ctx, query, traceID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.ProvenanceRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
