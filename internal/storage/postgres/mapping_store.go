package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/storage"
)

// MappingStore implements storage.MappingStore using PostgreSQL.
type MappingStore struct {
	pool *Pool
}

// NewMappingStore creates a new MappingStore.
func NewMappingStore(pool *Pool) *MappingStore {
	return &MappingStore{pool: pool}
}

// Compile-time interface check.
var _ storage.MappingStore = (*MappingStore)(nil)

// Get retrieves the mapping for (source, source_id).
func (s *MappingStore) Get(ctx context.Context, source domain.Source, sourceID string) (*domain.SourceMapping, error) {
	if !source.IsValid() || sourceID == "" {
		return nil, storage.ErrInvalidInput
	}

	row := s.pool.QueryRow(ctx, `
		SELECT id, master_coin_id, source, source_id, confidence_score, needs_review, created_at
		FROM source_mappings
		WHERE source = $1 AND source_id = $2
	`, string(source), sourceID)

	var m domain.SourceMapping
	var sourceStr string
	err := row.Scan(&m.ID, &m.MasterCoinID, &sourceStr, &m.SourceID, &m.Confidence, &m.NeedsReview, &m.CreatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get source mapping: %w", err)
	}
	m.Source = domain.Source(sourceStr)
	return &m, nil
}

// Create inserts a new mapping and fills in its ID.
// Returns ErrDuplicateKey if (source, source_id) already exists.
func (s *MappingStore) Create(ctx context.Context, m *domain.SourceMapping) error {
	if m == nil || !m.Source.IsValid() || m.SourceID == "" || m.MasterCoinID == 0 {
		return storage.ErrInvalidInput
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return storage.ErrInvalidInput
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO source_mappings (master_coin_id, source, source_id, confidence_score, needs_review, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, m.MasterCoinID, string(m.Source), m.SourceID, m.Confidence, m.NeedsReview, time.Now().UTC()).
		Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert source mapping: %w", err)
	}
	return nil
}

// FlagForReview marks a mapping as contradicted by later evidence.
func (s *MappingStore) FlagForReview(ctx context.Context, source domain.Source, sourceID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE source_mappings SET needs_review = TRUE
		WHERE source = $1 AND source_id = $2
	`, string(source), sourceID)
	if err != nil {
		return fmt.Errorf("flag source mapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListByMasterCoin retrieves all mappings pointing at a master coin.
func (s *MappingStore) ListByMasterCoin(ctx context.Context, masterCoinID int64) ([]*domain.SourceMapping, error) {
	return s.list(ctx, `
		SELECT id, master_coin_id, source, source_id, confidence_score, needs_review, created_at
		FROM source_mappings
		WHERE master_coin_id = $1
		ORDER BY id ASC
	`, masterCoinID)
}

// ListFlagged retrieves all mappings awaiting manual review.
func (s *MappingStore) ListFlagged(ctx context.Context) ([]*domain.SourceMapping, error) {
	return s.list(ctx, `
		SELECT id, master_coin_id, source, source_id, confidence_score, needs_review, created_at
		FROM source_mappings
		WHERE needs_review
		ORDER BY id ASC
	`)
}

func (s *MappingStore) list(ctx context.Context, query string, args ...any) ([]*domain.SourceMapping, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list source mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*domain.SourceMapping
	for rows.Next() {
		var m domain.SourceMapping
		var sourceStr string
		if err := rows.Scan(&m.ID, &m.MasterCoinID, &sourceStr, &m.SourceID, &m.Confidence, &m.NeedsReview, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan source mapping row: %w", err)
		}
		m.Source = domain.Source(sourceStr)
		mappings = append(mappings, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source mapping rows: %w", err)
	}
	return mappings, nil
}
