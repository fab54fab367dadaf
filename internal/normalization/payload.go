package normalization

import (
	"encoding/json"
	"math"

	"github.com/shopspring/decimal"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
)

// payload tracks which keys of a raw payload have been consumed by the
// canonical schema, so leftover() can pass the rest through losslessly.
type payload struct {
	raw      *domain.RawRecord
	consumed map[string]bool
}

func newPayload(raw *domain.RawRecord) *payload {
	return &payload{raw: raw, consumed: make(map[string]bool)}
}

func (p *payload) invalid(field, reason string) *ValidationError {
	return &ValidationError{Source: p.raw.Source, SourceID: p.raw.SourceID, Field: field, Reason: reason}
}

func (p *payload) consume(key string) {
	p.consumed[key] = true
}

// str fetches a string field and marks it consumed.
func (p *payload) str(key string) (string, bool) {
	v, ok := p.raw.Payload[key]
	if !ok {
		return "", false
	}
	p.consume(key)
	s, ok := v.(string)
	return s, ok
}

// decimal fetches an optional monetary/numeric field as a fixed-point
// decimal. Absent, null or uncoercible values map to an invalid NullDecimal;
// the uncoercible original stays available through leftover().
func (p *payload) decimal(key string) decimal.NullDecimal {
	v, ok := p.raw.Payload[key]
	if !ok || v == nil {
		p.consume(key)
		return decimal.NullDecimal{}
	}
	d := coerceDecimal(v)
	if d.Valid {
		p.consume(key)
	}
	return d
}

// integer fetches an optional integral field.
func (p *payload) integer(key string) *int {
	v, ok := p.raw.Payload[key]
	if !ok || v == nil {
		p.consume(key)
		return nil
	}

	var n int
	switch t := v.(type) {
	case int:
		n = t
	case int64:
		n = int(t)
	case float64:
		if t != math.Trunc(t) {
			return nil
		}
		n = int(t)
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return nil
		}
		n = int(i)
	default:
		return nil
	}
	p.consume(key)
	return &n
}

// usdQuote digs out the nested quotes.USD object if present.
func (p *payload) usdQuote() (map[string]any, bool) {
	v, ok := p.raw.Payload["quotes"]
	if !ok {
		return nil, false
	}
	quotes, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	usd, ok := quotes["USD"].(map[string]any)
	if !ok {
		return nil, false
	}
	p.consume("quotes")
	return usd, true
}

// leftover returns every payload field the canonical schema did not consume,
// verbatim. Never nil, so additional_data serializes as {} not null.
func (p *payload) leftover() map[string]any {
	extra := make(map[string]any)
	for k, v := range p.raw.Payload {
		if !p.consumed[k] {
			extra[k] = v
		}
	}
	return extra
}

// coerceDecimal converts the JSON-ish values sources emit for numbers into a
// fixed-point decimal. Strings are preferred verbatim to avoid float drift.
func coerceDecimal(v any) decimal.NullDecimal {
	switch t := v.(type) {
	case string:
		d, err := decimal.NewFromString(t)
		if err != nil {
			return decimal.NullDecimal{}
		}
		return decimal.NullDecimal{Decimal: d, Valid: true}
	case float64:
		return decimal.NullDecimal{Decimal: decimal.NewFromFloat(t), Valid: true}
	case int:
		return decimal.NullDecimal{Decimal: decimal.NewFromInt(int64(t)), Valid: true}
	case int64:
		return decimal.NullDecimal{Decimal: decimal.NewFromInt(t), Valid: true}
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return decimal.NullDecimal{}
		}
		return decimal.NullDecimal{Decimal: d, Valid: true}
	default:
		return decimal.NullDecimal{}
	}
}
