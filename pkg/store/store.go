// Package store persists provenance records grouped by trace. Appends are
// idempotent on the record hash so retried ingests never duplicate.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/avs/pkg/contracts"
	"github.com/Mindburn-Labs/avs/pkg/provenance"
)

// TraceStore defines the interface for persisting and retrieving provenance records.
type TraceStore interface {
	// Append stores rec unless a record with the same hash exists.
	Append(ctx context.Context, rec contracts.ProvenanceRecord) error
	// ListByTrace returns a trace's records in append order.
	ListByTrace(ctx context.Context, traceID string) ([]contracts.ProvenanceRecord, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

func checkAppendable(rec contracts.ProvenanceRecord) error {
	if rec.Hash == "" {
		return fmt.Errorf("%w: record has no hash", contracts.ErrMalformed)
	}
	return nil
}

func encodeRecord(rec contracts.ProvenanceRecord) (string, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	return string(b), nil
}

func decodeRecord(raw string) (contracts.ProvenanceRecord, error) {
	var rec contracts.ProvenanceRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return rec, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// MemoryStore keeps records in process.
type MemoryStore struct {
	mu      sync.RWMutex
	seen    map[string]bool
	byTrace map[string][]contracts.ProvenanceRecord
	count   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seen:    make(map[string]bool),
		byTrace: make(map[string][]contracts.ProvenanceRecord),
	}
}

func (m *MemoryStore) Append(_ context.Context, rec contracts.ProvenanceRecord) error {
	if err := checkAppendable(rec); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[rec.Hash] {
		return nil
	}
	m.seen[rec.Hash] = true
	m.byTrace[rec.TraceID] = append(m.byTrace[rec.TraceID], rec)
	m.count++
	return nil
}

func (m *MemoryStore) ListByTrace(_ context.Context, traceID string) ([]contracts.ProvenanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]contracts.ProvenanceRecord(nil), m.byTrace[traceID]...), nil
}

func (m *MemoryStore) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count, nil
}

func (m *MemoryStore) Close() error { return nil }

// Sink adapts a TraceStore to the runner's record sink. When Provenance is
// set, records are verified before they are stored.
type Sink struct {
	Store      TraceStore
	Provenance *provenance.Service
}

func (s Sink) Ingest(ctx context.Context, rec contracts.ProvenanceRecord) error {
	if s.Provenance != nil {
		if err := s.Provenance.Verify(rec); err != nil {
			return err
		}
	}
	return s.Store.Append(ctx, rec)
}
