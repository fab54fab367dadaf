package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/storage"
)

// MasterCoinStore is an in-memory implementation of storage.MasterCoinStore.
type MasterCoinStore struct {
	mu     sync.RWMutex
	nextID int64
	coins  map[int64]*domain.MasterCoin
}

// NewMasterCoinStore creates a new in-memory master coin store.
func NewMasterCoinStore() *MasterCoinStore {
	return &MasterCoinStore{coins: make(map[int64]*domain.MasterCoin)}
}

// Compile-time interface check.
var _ storage.MasterCoinStore = (*MasterCoinStore)(nil)

// Create inserts a new master coin, enforcing symbol and canonical_id
// uniqueness the way the postgres constraints do.
func (s *MasterCoinStore) Create(_ context.Context, coin *domain.MasterCoin) error {
	if coin == nil || coin.Symbol == "" || coin.CanonicalID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	symbol := strings.ToUpper(coin.Symbol)
	for _, existing := range s.coins {
		if existing.Symbol == symbol || existing.CanonicalID == coin.CanonicalID {
			return storage.ErrDuplicateKey
		}
	}

	s.nextID++
	now := time.Now().UTC()
	coin.ID = s.nextID
	coin.Symbol = symbol
	coin.CreatedAt = now
	coin.UpdatedAt = now

	copied := *coin
	s.coins[coin.ID] = &copied
	return nil
}

// GetByID retrieves a master coin by ID.
func (s *MasterCoinStore) GetByID(_ context.Context, id int64) (*domain.MasterCoin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coin, ok := s.coins[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *coin
	return &copied, nil
}

// GetBySymbol retrieves a master coin by case-insensitive symbol.
func (s *MasterCoinStore) GetBySymbol(_ context.Context, symbol string) (*domain.MasterCoin, error) {
	if symbol == "" {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	upper := strings.ToUpper(symbol)
	for _, coin := range s.coins {
		if coin.Symbol == upper {
			copied := *coin
			return &copied, nil
		}
	}
	return nil, storage.ErrNotFound
}

// List retrieves all master coins ordered by ID.
func (s *MasterCoinStore) List(_ context.Context) ([]*domain.MasterCoin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coins := make([]*domain.MasterCoin, 0, len(s.coins))
	for _, coin := range s.coins {
		copied := *coin
		coins = append(coins, &copied)
	}
	sort.Slice(coins, func(i, j int) bool { return coins[i].ID < coins[j].ID })
	return coins, nil
}

// UpdateName reconciles a coin's name and bumps updated_at.
func (s *MasterCoinStore) UpdateName(_ context.Context, id int64, name string, at time.Time) error {
	if name == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coin, ok := s.coins[id]
	if !ok {
		return storage.ErrNotFound
	}
	coin.Name = name
	coin.UpdatedAt = at.UTC()
	return nil
}
