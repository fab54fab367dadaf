package domain

// Source identifies an ingestion data source.
type Source string

const (
	SourceCoinPaprika Source = "coinpaprika"
	SourceCoinGecko   Source = "coingecko"
	SourceCSV         Source = "csv"
)

// String returns the string representation of Source.
func (s Source) String() string {
	return string(s)
}

// IsValid checks if the source is a valid value.
func (s Source) IsValid() bool {
	return s == SourceCoinPaprika || s == SourceCoinGecko || s == SourceCSV
}

// CheckpointType describes how a source's checkpoint value is interpreted.
type CheckpointType string

const (
	// CheckpointTimestamp stores an RFC3339 timestamp of the last successful fetch.
	CheckpointTimestamp CheckpointType = "timestamp"

	// CheckpointRowNumber stores the last processed row number of a file feed.
	CheckpointRowNumber CheckpointType = "row_number"

	// CheckpointCursor stores an opaque pagination token. Not ordered.
	CheckpointCursor CheckpointType = "cursor"
)

// IsValid checks if the checkpoint type is a known value.
func (t CheckpointType) IsValid() bool {
	return t == CheckpointTimestamp || t == CheckpointRowNumber || t == CheckpointCursor
}

// Ordered reports whether checkpoint values of this type have a total order
// that can be enforced on advance. Opaque cursors do not.
func (t CheckpointType) Ordered() bool {
	return t == CheckpointTimestamp || t == CheckpointRowNumber
}
