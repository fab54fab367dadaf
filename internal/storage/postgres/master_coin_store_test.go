package postgres_test

import (
	. "github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/storage/postgres"

	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/storage"
)

func TestMasterCoinStore_CreateAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMasterCoinStore(pool)
	ctx := context.Background()

	coin := &domain.MasterCoin{Symbol: "zeta", Name: "Zeta Protocol", CanonicalID: "zeta-protocol"}
	require.NoError(t, store.Create(ctx, coin))
	assert.NotZero(t, coin.ID)
	assert.False(t, coin.CreatedAt.IsZero())

	got, err := store.GetByID(ctx, coin.ID)
	require.NoError(t, err)
	assert.Equal(t, "ZETA", got.Symbol, "symbols are stored uppercase")
	assert.Equal(t, "Zeta Protocol", got.Name)
	assert.Equal(t, "zeta-protocol", got.CanonicalID)
}

func TestMasterCoinStore_DuplicateSymbol(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMasterCoinStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &domain.MasterCoin{Symbol: "ZETA", Name: "Zeta Protocol", CanonicalID: "zeta-protocol"}))

	err := store.Create(ctx, &domain.MasterCoin{Symbol: "zeta", Name: "Other Zeta", CanonicalID: "other-zeta"})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	err = store.Create(ctx, &domain.MasterCoin{Symbol: "ZETB", Name: "Zeta Protocol", CanonicalID: "zeta-protocol"})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey, "canonical_id is unique too")
}

func TestMasterCoinStore_GetBySymbolCaseInsensitive(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMasterCoinStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &domain.MasterCoin{Symbol: "ZETA", Name: "Zeta Protocol", CanonicalID: "zeta-protocol"}))

	got, err := store.GetBySymbol(ctx, "zEtA")
	require.NoError(t, err)
	assert.Equal(t, "ZETA", got.Symbol)

	_, err = store.GetBySymbol(ctx, "NOPE")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMasterCoinStore_SeededCoinsPresent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMasterCoinStore(pool)
	ctx := context.Background()

	// Migrations seed the well-known top coins.
	btc, err := store.GetBySymbol(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, "Bitcoin", btc.Name)
	assert.Equal(t, "bitcoin", btc.CanonicalID)

	coins, err := store.List(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(coins), 10)
}

func TestMasterCoinStore_UpdateName(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMasterCoinStore(pool)
	ctx := context.Background()

	coin := &domain.MasterCoin{Symbol: "ZETA", Name: "zeta protocol", CanonicalID: "zeta-protocol"}
	require.NoError(t, store.Create(ctx, coin))

	at := time.Now().UTC().Add(time.Minute)
	require.NoError(t, store.UpdateName(ctx, coin.ID, "Zeta Protocol", at))

	got, err := store.GetByID(ctx, coin.ID)
	require.NoError(t, err)
	assert.Equal(t, "Zeta Protocol", got.Name)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	err = store.UpdateName(ctx, 999999, "Ghost", at)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
