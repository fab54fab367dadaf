package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/storage"
)

// RawRecordStore implements storage.RawRecordStore using PostgreSQL.
// The archive is append-only: conflicts on (source, source_id,
// data_timestamp) are skipped, never overwritten.
type RawRecordStore struct {
	pool *Pool
}

// NewRawRecordStore creates a new RawRecordStore.
func NewRawRecordStore(pool *Pool) *RawRecordStore {
	return &RawRecordStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RawRecordStore = (*RawRecordStore)(nil)

// Archive stores raw records, skipping ones already present.
func (s *RawRecordStore) Archive(ctx context.Context, records []*domain.RawRecord) (int, error) {
	stored := 0
	for _, r := range records {
		if r == nil || !r.Source.IsValid() || r.SourceID == "" {
			return stored, storage.ErrInvalidInput
		}

		payload, err := json.Marshal(r.Payload)
		if err != nil {
			return stored, fmt.Errorf("marshal raw payload: %w", err)
		}

		tag, err := s.pool.Exec(ctx, `
			INSERT INTO raw_records (source, source_id, payload, data_timestamp, fetched_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (source, source_id, data_timestamp) DO NOTHING
		`, string(r.Source), r.SourceID, payload, r.DataTimestamp.UTC(), r.FetchedAt.UTC())
		if err != nil {
			return stored, fmt.Errorf("archive raw record %s/%s: %w", r.Source, r.SourceID, err)
		}
		stored += int(tag.RowsAffected())
	}
	return stored, nil
}

// GetBySource retrieves archived records for a source, newest first.
func (s *RawRecordStore) GetBySource(ctx context.Context, source domain.Source, limit int) ([]*domain.RawRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT source, source_id, payload, data_timestamp, fetched_at
		FROM raw_records
		WHERE source = $1
		ORDER BY data_timestamp DESC, id DESC
		LIMIT $2
	`, string(source), limit)
	if err != nil {
		return nil, fmt.Errorf("get raw records by source: %w", err)
	}
	defer rows.Close()

	var records []*domain.RawRecord
	for rows.Next() {
		var r domain.RawRecord
		var sourceStr string
		var payload []byte
		if err := rows.Scan(&sourceStr, &r.SourceID, &payload, &r.DataTimestamp, &r.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan raw record row: %w", err)
		}
		r.Source = domain.Source(sourceStr)
		if err := json.Unmarshal(payload, &r.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal raw payload: %w", err)
		}
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate raw record rows: %w", err)
	}
	return records, nil
}
