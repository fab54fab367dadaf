package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
)

const defaultCoinPaprikaURL = "https://api.coinpaprika.com/v1"

// CoinPaprikaAdapter fetches ticker snapshots from the CoinPaprika REST API.
// The API serves current state, not history, so the checkpoint is the
// timestamp of the last successful fetch.
type CoinPaprikaAdapter struct {
	baseURL   string
	apiKey    string
	batchSize int
	client    *http.Client
	now       func() time.Time
}

// CoinPaprikaOptions configures the adapter.
type CoinPaprikaOptions struct {
	BaseURL   string
	APIKey    string
	BatchSize int // default 100
	Client    *http.Client
	Now       func() time.Time // test hook
}

// NewCoinPaprikaAdapter creates a new CoinPaprika adapter.
func NewCoinPaprikaAdapter(opts CoinPaprikaOptions) *CoinPaprikaAdapter {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultCoinPaprikaURL
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &CoinPaprikaAdapter{
		baseURL:   baseURL,
		apiKey:    opts.APIKey,
		batchSize: batchSize,
		client:    client,
		now:       now,
	}
}

// Compile-time interface check.
var _ SourceAdapter = (*CoinPaprikaAdapter)(nil)

// Source identifies the adapter's source.
func (a *CoinPaprikaAdapter) Source() domain.Source {
	return domain.SourceCoinPaprika
}

// CheckpointType declares the cursor format.
func (a *CoinPaprikaAdapter) CheckpointType() domain.CheckpointType {
	return domain.CheckpointTimestamp
}

// FetchSince fetches the current ticker snapshot. The cursor is informative
// only (snapshot APIs cannot page into the past); the returned cursor is the
// fetch time.
func (a *CoinPaprikaAdapter) FetchSince(ctx context.Context, _ string) (*Page, error) {
	fetchedAt := a.now().UTC()

	endpoint := fmt.Sprintf("%s/tickers?%s", a.baseURL, url.Values{
		"limit": {strconv.Itoa(a.batchSize)},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build coinpaprika request: %w", err)
	}
	if a.apiKey != "" {
		req.Header.Set("Authorization", a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch coinpaprika tickers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coinpaprika returned status %d", resp.StatusCode)
	}

	var items []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode coinpaprika response: %w", err)
	}

	records := make([]*domain.RawRecord, 0, len(items))
	for _, item := range items {
		sourceID, _ := item["id"].(string)
		if sourceID == "" {
			continue
		}
		// The tickers endpoint calls the identity field "id"; downstream
		// schemas know it as "coin_id".
		item["coin_id"] = sourceID
		delete(item, "id")

		records = append(records, &domain.RawRecord{
			Source:        domain.SourceCoinPaprika,
			SourceID:      sourceID,
			Payload:       item,
			DataTimestamp: payloadTimestamp(item, "last_updated", fetchedAt),
			FetchedAt:     fetchedAt,
		})
	}

	return &Page{
		Records:    records,
		NextCursor: fetchedAt.Format(time.RFC3339),
		HasMore:    false,
	}, nil
}

// payloadTimestamp parses an RFC3339 timestamp field from a payload,
// falling back to the fetch time.
func payloadTimestamp(payload map[string]any, key string, fallback time.Time) time.Time {
	if s, ok := payload[key].(string); ok {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts.UTC()
		}
	}
	return fallback
}
