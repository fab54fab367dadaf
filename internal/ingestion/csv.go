package ingestion

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
)

// CSVAdapter reads coin rows from a local CSV file. The file is append-only
// between runs, so the checkpoint is the number of data rows already ingested
// and each fetch resumes at the next unread row.
type CSVAdapter struct {
	path      string
	batchSize int
	now       func() time.Time
}

// CSVOptions configures the adapter.
type CSVOptions struct {
	Path      string
	BatchSize int // rows per page, default 500
	Now       func() time.Time // test hook
}

// NewCSVAdapter creates a new CSV file adapter.
func NewCSVAdapter(opts CSVOptions) *CSVAdapter {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &CSVAdapter{
		path:      opts.Path,
		batchSize: batchSize,
		now:       now,
	}
}

// Compile-time interface check.
var _ SourceAdapter = (*CSVAdapter)(nil)

// Source identifies the adapter's source.
func (a *CSVAdapter) Source() domain.Source {
	return domain.SourceCSV
}

// CheckpointType declares the cursor format.
func (a *CSVAdapter) CheckpointType() domain.CheckpointType {
	return domain.CheckpointRowNumber
}

// FetchSince reads up to one batch of rows past the cursor. The cursor is the
// count of data rows already consumed (header excluded), so "0" starts at the
// first data row.
func (a *CSVAdapter) FetchSince(ctx context.Context, cursor string) (*Page, error) {
	skip := int64(0)
	if cursor != "" {
		parsed, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse csv cursor %q: %w", cursor, err)
		}
		skip = parsed
	}

	f, err := os.Open(a.path)
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return &Page{NextCursor: strconv.FormatInt(skip, 10)}, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i, col := range header {
		header[i] = strings.ToLower(strings.TrimSpace(col))
	}

	fetchedAt := a.now().UTC()
	records := make([]*domain.RawRecord, 0, a.batchSize)
	rowNum := int64(0)
	hasMore := false

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", rowNum+1, err)
		}
		rowNum++
		if rowNum <= skip {
			continue
		}
		if len(records) >= a.batchSize {
			hasMore = true
			break
		}

		payload := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(row) {
				payload[col] = strings.TrimSpace(row[i])
			}
		}

		symbol, _ := payload["symbol"].(string)
		sourceID := "csv_" + strings.ToUpper(symbol)

		records = append(records, &domain.RawRecord{
			Source:        domain.SourceCSV,
			SourceID:      sourceID,
			Payload:       payload,
			DataTimestamp: csvTimestamp(payload, fetchedAt),
			FetchedAt:     fetchedAt,
		})
	}

	nextCursor := skip + int64(len(records))
	return &Page{
		Records:    records,
		NextCursor: strconv.FormatInt(nextCursor, 10),
		HasMore:    hasMore,
	}, nil
}

// csvTimestamp parses the row's data_timestamp column, accepting RFC3339 and
// the date-only form spreadsheets export. Falls back to the fetch time.
func csvTimestamp(payload map[string]any, fallback time.Time) time.Time {
	s, ok := payload["data_timestamp"].(string)
	if !ok || s == "" {
		return fallback
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC()
		}
	}
	return fallback
}
