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

const defaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// CoinGeckoAdapter fetches market snapshots from the CoinGecko REST API.
// Snapshot source: the checkpoint is the timestamp of the last successful
// fetch.
type CoinGeckoAdapter struct {
	baseURL   string
	apiKey    string
	batchSize int
	client    *http.Client
	now       func() time.Time
}

// CoinGeckoOptions configures the adapter.
type CoinGeckoOptions struct {
	BaseURL   string
	APIKey    string
	BatchSize int // default 100, API max 250
	Client    *http.Client
	Now       func() time.Time // test hook
}

// NewCoinGeckoAdapter creates a new CoinGecko adapter.
func NewCoinGeckoAdapter(opts CoinGeckoOptions) *CoinGeckoAdapter {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultCoinGeckoURL
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 || batchSize > 250 {
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
	return &CoinGeckoAdapter{
		baseURL:   baseURL,
		apiKey:    opts.APIKey,
		batchSize: batchSize,
		client:    client,
		now:       now,
	}
}

// Compile-time interface check.
var _ SourceAdapter = (*CoinGeckoAdapter)(nil)

// Source identifies the adapter's source.
func (a *CoinGeckoAdapter) Source() domain.Source {
	return domain.SourceCoinGecko
}

// CheckpointType declares the cursor format.
func (a *CoinGeckoAdapter) CheckpointType() domain.CheckpointType {
	return domain.CheckpointTimestamp
}

// FetchSince fetches the current markets snapshot ordered by market cap.
func (a *CoinGeckoAdapter) FetchSince(ctx context.Context, _ string) (*Page, error) {
	fetchedAt := a.now().UTC()

	endpoint := fmt.Sprintf("%s/coins/markets?%s", a.baseURL, url.Values{
		"vs_currency": {"usd"},
		"order":       {"market_cap_desc"},
		"per_page":    {strconv.Itoa(a.batchSize)},
		"page":        {"1"},
		"sparkline":   {"false"},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build coingecko request: %w", err)
	}
	if a.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch coingecko markets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coingecko returned status %d", resp.StatusCode)
	}

	var items []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode coingecko response: %w", err)
	}

	records := make([]*domain.RawRecord, 0, len(items))
	for _, item := range items {
		sourceID, _ := item["id"].(string)
		if sourceID == "" {
			continue
		}
		item["coin_id"] = sourceID
		delete(item, "id")

		records = append(records, &domain.RawRecord{
			Source:        domain.SourceCoinGecko,
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
