package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/storage"
)

// NormalizedStore implements storage.NormalizedStore and
// storage.BatchCommitter using PostgreSQL.
type NormalizedStore struct {
	pool *Pool
}

// NewNormalizedStore creates a new NormalizedStore.
func NewNormalizedStore(pool *Pool) *NormalizedStore {
	return &NormalizedStore{pool: pool}
}

// Compile-time interface checks.
var (
	_ storage.NormalizedStore = (*NormalizedStore)(nil)
	_ storage.BatchCommitter  = (*NormalizedStore)(nil)
)

const normalizedColumns = `
	source, source_id, master_coin_id, symbol, name,
	price_usd, market_cap_usd, volume_24h_usd, rank,
	circulating_supply, total_supply, max_supply, percent_change_24h,
	additional_data, data_timestamp, ingested_at`

// UpsertBatch inserts or updates a batch of normalized records keyed on
// (source, source_id, data_timestamp).
func (s *NormalizedStore) UpsertBatch(ctx context.Context, records []*domain.NormalizedRecord) (storage.UpsertCounts, error) {
	return upsertBatch(ctx, s.pool, records)
}

// CommitBatch persists a normalized batch and advances the source checkpoint
// in one transaction. Either both commit or neither does.
func (s *NormalizedStore) CommitBatch(ctx context.Context, records []*domain.NormalizedRecord, source domain.Source, typ domain.CheckpointType, newValue string, at time.Time) (storage.UpsertCounts, error) {
	var counts storage.UpsertCounts

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return counts, fmt.Errorf("begin commit batch: %w", err)
	}
	defer tx.Rollback(ctx)

	counts, err = upsertBatch(ctx, tx, records)
	if err != nil {
		return storage.UpsertCounts{}, err
	}

	if err := advanceCheckpoint(ctx, tx, source, typ, newValue, at); err != nil {
		return storage.UpsertCounts{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return storage.UpsertCounts{}, fmt.Errorf("commit batch: %w", err)
	}
	return counts, nil
}

// upsertBatch writes records one by one on the given connection.
// xmax = 0 distinguishes a fresh insert from an overwrite.
func upsertBatch(ctx context.Context, db dbtx, records []*domain.NormalizedRecord) (storage.UpsertCounts, error) {
	var counts storage.UpsertCounts

	for _, r := range records {
		if r == nil || !r.Source.IsValid() || r.SourceID == "" {
			return storage.UpsertCounts{}, storage.ErrInvalidInput
		}

		extra, err := json.Marshal(r.AdditionalData)
		if err != nil {
			return storage.UpsertCounts{}, fmt.Errorf("marshal additional_data: %w", err)
		}
		if r.AdditionalData == nil {
			extra = []byte("{}")
		}

		var inserted bool
		err = db.QueryRow(ctx, `
			INSERT INTO normalized_records (`+normalizedColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			ON CONFLICT (source, source_id, data_timestamp) DO UPDATE
			SET master_coin_id     = EXCLUDED.master_coin_id,
			    symbol             = EXCLUDED.symbol,
			    name               = EXCLUDED.name,
			    price_usd          = EXCLUDED.price_usd,
			    market_cap_usd     = EXCLUDED.market_cap_usd,
			    volume_24h_usd     = EXCLUDED.volume_24h_usd,
			    rank               = EXCLUDED.rank,
			    circulating_supply = EXCLUDED.circulating_supply,
			    total_supply       = EXCLUDED.total_supply,
			    max_supply         = EXCLUDED.max_supply,
			    percent_change_24h = EXCLUDED.percent_change_24h,
			    additional_data    = EXCLUDED.additional_data,
			    ingested_at        = EXCLUDED.ingested_at
			RETURNING (xmax = 0)
		`,
			string(r.Source), r.SourceID, r.MasterCoinID, r.Symbol, r.Name,
			r.PriceUSD, r.MarketCapUSD, r.Volume24hUSD, r.Rank,
			r.CirculatingSupply, r.TotalSupply, r.MaxSupply, r.PercentChange24h,
			extra, r.DataTimestamp.UTC(), r.IngestedAt.UTC(),
		).Scan(&inserted)
		if err != nil {
			return storage.UpsertCounts{}, fmt.Errorf("upsert normalized record %s/%s: %w", r.Source, r.SourceID, err)
		}

		if inserted {
			counts.Inserted++
		} else {
			counts.Updated++
		}
	}

	return counts, nil
}

// GetBySourceID retrieves all records for one source-local identity.
func (s *NormalizedStore) GetBySourceID(ctx context.Context, source domain.Source, sourceID string) ([]*domain.NormalizedRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+normalizedColumns+`
		FROM normalized_records
		WHERE source = $1 AND source_id = $2
		ORDER BY data_timestamp ASC
	`, string(source), sourceID)
	if err != nil {
		return nil, fmt.Errorf("get records by source id: %w", err)
	}
	defer rows.Close()

	return scanNormalizedRecords(rows)
}

// GetByMasterCoin retrieves a master coin's timeline across all sources
// within [start, end].
func (s *NormalizedStore) GetByMasterCoin(ctx context.Context, masterCoinID int64, start, end time.Time) ([]*domain.NormalizedRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+normalizedColumns+`
		FROM normalized_records
		WHERE master_coin_id = $1 AND data_timestamp >= $2 AND data_timestamp <= $3
		ORDER BY data_timestamp ASC, source ASC
	`, masterCoinID, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("get records by master coin: %w", err)
	}
	defer rows.Close()

	return scanNormalizedRecords(rows)
}

// GetLatest retrieves the most recent record per (source, source_id),
// optionally filtered by source and/or symbol.
func (s *NormalizedStore) GetLatest(ctx context.Context, source *domain.Source, symbol *string, limit int) ([]*domain.NormalizedRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var sourceArg, symbolArg *string
	if source != nil {
		v := string(*source)
		sourceArg = &v
	}
	if symbol != nil {
		symbolArg = symbol
	}

	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (source, source_id) `+normalizedColumns+`
		FROM normalized_records
		WHERE ($1::text IS NULL OR source = $1)
		  AND ($2::text IS NULL OR UPPER(symbol) = UPPER($2))
		ORDER BY source, source_id, data_timestamp DESC
		LIMIT $3
	`, sourceArg, symbolArg, limit)
	if err != nil {
		return nil, fmt.Errorf("get latest records: %w", err)
	}
	defer rows.Close()

	return scanNormalizedRecords(rows)
}

// scanNormalizedRecords scans multiple rows into normalized records.
func scanNormalizedRecords(rows pgx.Rows) ([]*domain.NormalizedRecord, error) {
	var records []*domain.NormalizedRecord

	for rows.Next() {
		var r domain.NormalizedRecord
		var sourceStr string
		var extra []byte

		err := rows.Scan(
			&sourceStr, &r.SourceID, &r.MasterCoinID, &r.Symbol, &r.Name,
			&r.PriceUSD, &r.MarketCapUSD, &r.Volume24hUSD, &r.Rank,
			&r.CirculatingSupply, &r.TotalSupply, &r.MaxSupply, &r.PercentChange24h,
			&extra, &r.DataTimestamp, &r.IngestedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan normalized record row: %w", err)
		}

		r.Source = domain.Source(sourceStr)
		if len(extra) > 0 {
			if err := json.Unmarshal(extra, &r.AdditionalData); err != nil {
				return nil, fmt.Errorf("unmarshal additional_data: %w", err)
			}
		}
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate normalized record rows: %w", err)
	}
	return records, nil
}
