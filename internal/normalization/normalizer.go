// Package normalization converts raw source payloads into the canonical
// record schema. It is the single boundary where untyped source data becomes
// typed: every function here is pure and deterministic, which the storage
// layer exploits for idempotent replays.
package normalization

import (
	"fmt"
	"strings"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
)

// ValidationError reports a raw record that cannot be normalized because a
// required field is absent or of the wrong shape. It fails the record, not
// the batch.
type ValidationError struct {
	Source   domain.Source
	SourceID string
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s/%s: field %q %s", e.Source, e.SourceID, e.Field, e.Reason)
}

// Normalize maps one raw record into the canonical schema.
// Monetary fields become fixed-point decimals, missing optional fields stay
// null, and every payload field outside the canonical set is preserved
// verbatim in AdditionalData. IngestedAt is left for the caller to stamp.
func Normalize(raw *domain.RawRecord) (*domain.NormalizedRecord, error) {
	if raw == nil {
		return nil, &ValidationError{Field: "payload", Reason: "is nil"}
	}

	switch raw.Source {
	case domain.SourceCoinPaprika:
		return normalizeCoinPaprika(raw)
	case domain.SourceCoinGecko:
		return normalizeCoinGecko(raw)
	case domain.SourceCSV:
		return normalizeCSV(raw)
	default:
		return nil, &ValidationError{Source: raw.Source, SourceID: raw.SourceID, Field: "source", Reason: "is unknown"}
	}
}

// normalizeCoinPaprika handles both the flat ticker shape and the newer
// nested quotes.USD shape the API migrated to.
func normalizeCoinPaprika(raw *domain.RawRecord) (*domain.NormalizedRecord, error) {
	p := newPayload(raw)

	rec, err := p.requireIdentity("coin_id")
	if err != nil {
		return nil, err
	}

	rec.PriceUSD = p.decimal("price_usd")
	rec.Volume24hUSD = p.decimal("volume_24h_usd")
	rec.MarketCapUSD = p.decimal("market_cap_usd")

	// Nested quote shape takes over when the flat fields are absent.
	if usd, ok := p.usdQuote(); ok {
		if !rec.PriceUSD.Valid {
			rec.PriceUSD = coerceDecimal(usd["price"])
		}
		if !rec.Volume24hUSD.Valid {
			rec.Volume24hUSD = coerceDecimal(usd["volume_24h"])
		}
		if !rec.MarketCapUSD.Valid {
			rec.MarketCapUSD = coerceDecimal(usd["market_cap"])
		}
	}

	rec.Rank = p.integer("rank")
	rec.CirculatingSupply = p.decimal("circulating_supply")
	rec.TotalSupply = p.decimal("total_supply")
	rec.MaxSupply = p.decimal("max_supply")
	rec.PercentChange24h = p.decimal("percent_change_24h")

	rec.AdditionalData = p.leftover()
	return rec, nil
}

func normalizeCoinGecko(raw *domain.RawRecord) (*domain.NormalizedRecord, error) {
	p := newPayload(raw)

	rec, err := p.requireIdentity("coin_id", "id")
	if err != nil {
		return nil, err
	}

	rec.PriceUSD = p.decimal("current_price")
	rec.MarketCapUSD = p.decimal("market_cap")
	rec.Volume24hUSD = p.decimal("total_volume")
	rec.Rank = p.integer("market_cap_rank")
	rec.CirculatingSupply = p.decimal("circulating_supply")
	rec.TotalSupply = p.decimal("total_supply")
	rec.MaxSupply = p.decimal("max_supply")
	rec.PercentChange24h = p.decimal("price_change_percentage_24h")

	rec.AdditionalData = p.leftover()
	return rec, nil
}

func normalizeCSV(raw *domain.RawRecord) (*domain.NormalizedRecord, error) {
	p := newPayload(raw)

	rec, err := p.requireIdentity()
	if err != nil {
		return nil, err
	}

	// CSV rows carry no source-local identity of their own; derive one from
	// the symbol so the idempotence key stays stable across re-deliveries.
	if rec.SourceID == "" {
		rec.SourceID = "csv_" + rec.Symbol
	}

	rec.PriceUSD = p.decimal("price_usd")
	rec.MarketCapUSD = p.decimal("market_cap_usd")
	rec.Volume24hUSD = p.decimal("volume_24h_usd")
	rec.PercentChange24h = p.decimal("percent_change_24h")

	rec.AdditionalData = p.leftover()
	return rec, nil
}

// requireIdentity extracts the required fields (symbol, name, data_timestamp,
// plus the source-local ID where the source carries one) and builds the
// record skeleton.
func (p *payload) requireIdentity(idKeys ...string) (*domain.NormalizedRecord, error) {
	symbol, ok := p.str("symbol")
	if !ok || symbol == "" {
		return nil, p.invalid("symbol", "is required")
	}
	name, ok := p.str("name")
	if !ok || name == "" {
		return nil, p.invalid("name", "is required")
	}
	if p.raw.DataTimestamp.IsZero() {
		return nil, p.invalid("data_timestamp", "is required")
	}

	sourceID := p.raw.SourceID
	for _, key := range idKeys {
		if sourceID != "" {
			break
		}
		if v, ok := p.str(key); ok && v != "" {
			sourceID = v
		}
	}
	if len(idKeys) > 0 && sourceID == "" {
		return nil, p.invalid(idKeys[0], "is required")
	}
	// Consume the ID aliases either way so they do not leak into leftovers.
	for _, key := range idKeys {
		p.consume(key)
	}

	return &domain.NormalizedRecord{
		Source:        p.raw.Source,
		SourceID:      sourceID,
		Symbol:        strings.ToUpper(symbol),
		Name:          name,
		DataTimestamp: p.raw.DataTimestamp.UTC(),
	}, nil
}
