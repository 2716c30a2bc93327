package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/Mindburn-Labs/avs/pkg/contracts"
)

// PostgresStore is the shared durable implementation used by gateways
// serving many runners.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects with a lib/pq DSN and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewPostgresStore(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS provenance_records (
		seq BIGSERIAL PRIMARY KEY,
		hash TEXT NOT NULL UNIQUE,
		trace_id TEXT NOT NULL DEFAULT '',
		agent TEXT NOT NULL,
		action TEXT NOT NULL,
		ts TEXT NOT NULL,
		record JSONB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_provenance_records_trace ON provenance_records (trace_id, seq);`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("migrate postgres store: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, rec contracts.ProvenanceRecord) error {
	if err := checkAppendable(rec); err != nil {
		return err
	}
	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO provenance_records (hash, trace_id, agent, action, ts, record)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (hash) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, rec.Hash, rec.TraceID, rec.Agent, rec.Action, rec.Timestamp, raw); err != nil {
		return fmt.Errorf("failed to insert provenance record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByTrace(ctx context.Context, traceID string) ([]contracts.ProvenanceRecord, error) {
	query := `SELECT record::text FROM provenance_records WHERE trace_id = $1 ORDER BY seq`
	return listRecords(ctx, s.db, query, traceID)
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM provenance_records`).Scan(&n)
	return n, err
}

func (s *PostgresStore) Close() error { return s.db.Close() }
