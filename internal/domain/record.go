package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawRecord is a single record as delivered by a source, before normalization.
// Archived verbatim in the raw_records table; never mutated.
type RawRecord struct {
	Source        Source
	SourceID      string         // source-local identity ("btc-bitcoin", "bitcoin", "csv_BTC")
	Payload       map[string]any // source-shaped fields, untyped
	DataTimestamp time.Time      // the instant the values describe
	FetchedAt     time.Time
}

// NormalizedRecord is a raw record mapped into the canonical schema.
// Corresponds to the normalized_records table.
// Unique on (source, source_id, data_timestamp).
type NormalizedRecord struct {
	Source            Source
	SourceID          string
	MasterCoinID      *int64 // nil until resolved
	Symbol            string
	Name              string
	PriceUSD          decimal.NullDecimal
	MarketCapUSD      decimal.NullDecimal
	Volume24hUSD      decimal.NullDecimal
	Rank              *int
	CirculatingSupply decimal.NullDecimal
	TotalSupply       decimal.NullDecimal
	MaxSupply         decimal.NullDecimal
	PercentChange24h  decimal.NullDecimal
	AdditionalData    map[string]any // source fields outside the canonical set, verbatim
	DataTimestamp     time.Time
	IngestedAt        time.Time
}

// Key returns the record's idempotence key.
func (r *NormalizedRecord) Key() RecordKey {
	return RecordKey{Source: r.Source, SourceID: r.SourceID, DataTimestamp: r.DataTimestamp.UTC()}
}

// RecordKey is the unique key of a normalized record.
type RecordKey struct {
	Source        Source
	SourceID      string
	DataTimestamp time.Time
}
