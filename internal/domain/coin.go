package domain

import "time"

// MasterCoin is the single canonical entity for one cryptocurrency across all
// sources. Corresponds to the master_coins table. Created by seed data or by
// auto-discovery during resolution; never deleted by normal operation.
type MasterCoin struct {
	ID          int64
	Symbol      string // unique, upper-case
	Name        string
	CanonicalID string // unique stable slug, e.g. "bitcoin"
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SourceMapping records that a source-local identifier denotes a master coin.
// Corresponds to the source_mappings table. Unique on (source, source_id).
type SourceMapping struct {
	ID           int64
	MasterCoinID int64
	Source       Source
	SourceID     string
	// Confidence is the strength of belief in the mapping, in [0.0, 1.0].
	// Exact symbol matches and auto-discovered coins get 1.0.
	Confidence float64
	// NeedsReview is set when later evidence contradicts the mapping.
	// Flagged mappings are kept as-is until an operator resolves them.
	NeedsReview bool
	CreatedAt   time.Time
}
