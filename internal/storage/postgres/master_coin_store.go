package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/storage"
)

// MasterCoinStore implements storage.MasterCoinStore using PostgreSQL.
type MasterCoinStore struct {
	pool *Pool
}

// NewMasterCoinStore creates a new MasterCoinStore.
func NewMasterCoinStore(pool *Pool) *MasterCoinStore {
	return &MasterCoinStore{pool: pool}
}

// Compile-time interface check.
var _ storage.MasterCoinStore = (*MasterCoinStore)(nil)

// Create inserts a new master coin and fills in its ID.
// Returns ErrDuplicateKey if symbol or canonical_id already exists.
func (s *MasterCoinStore) Create(ctx context.Context, coin *domain.MasterCoin) error {
	if coin == nil || coin.Symbol == "" || coin.CanonicalID == "" {
		return storage.ErrInvalidInput
	}

	now := time.Now().UTC()
	err := s.pool.QueryRow(ctx, `
		INSERT INTO master_coins (symbol, name, canonical_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING id, created_at, updated_at
	`, strings.ToUpper(coin.Symbol), coin.Name, coin.CanonicalID, now).
		Scan(&coin.ID, &coin.CreatedAt, &coin.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert master coin: %w", err)
	}
	return nil
}

// GetByID retrieves a master coin by ID. Returns ErrNotFound if absent.
func (s *MasterCoinStore) GetByID(ctx context.Context, id int64) (*domain.MasterCoin, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, symbol, name, canonical_id, created_at, updated_at
		FROM master_coins
		WHERE id = $1
	`, id)
	return scanMasterCoin(row)
}

// GetBySymbol retrieves a master coin by case-insensitive symbol.
func (s *MasterCoinStore) GetBySymbol(ctx context.Context, symbol string) (*domain.MasterCoin, error) {
	if symbol == "" {
		return nil, storage.ErrInvalidInput
	}

	row := s.pool.QueryRow(ctx, `
		SELECT id, symbol, name, canonical_id, created_at, updated_at
		FROM master_coins
		WHERE UPPER(symbol) = UPPER($1)
	`, symbol)
	return scanMasterCoin(row)
}

// List retrieves all master coins ordered by ID.
func (s *MasterCoinStore) List(ctx context.Context) ([]*domain.MasterCoin, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, symbol, name, canonical_id, created_at, updated_at
		FROM master_coins
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list master coins: %w", err)
	}
	defer rows.Close()

	var coins []*domain.MasterCoin
	for rows.Next() {
		var c domain.MasterCoin
		if err := rows.Scan(&c.ID, &c.Symbol, &c.Name, &c.CanonicalID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan master coin row: %w", err)
		}
		coins = append(coins, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate master coin rows: %w", err)
	}
	return coins, nil
}

// UpdateName reconciles a coin's name and bumps updated_at.
func (s *MasterCoinStore) UpdateName(ctx context.Context, id int64, name string, at time.Time) error {
	if name == "" {
		return storage.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE master_coins SET name = $2, updated_at = $3 WHERE id = $1
	`, id, name, at.UTC())
	if err != nil {
		return fmt.Errorf("update master coin name: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// scanMasterCoin scans a single row into a MasterCoin.
func scanMasterCoin(row pgx.Row) (*domain.MasterCoin, error) {
	var c domain.MasterCoin
	err := row.Scan(&c.ID, &c.Symbol, &c.Name, &c.CanonicalID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get master coin: %w", err)
	}
	return &c, nil
}
