// Package main runs one-shot ingestion: fetch, normalize, resolve and commit
// for each selected source, then exit. Suited to cron; the server binary
// covers continuous operation.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/etl"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/ingestion"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/resolution"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/storage"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/storage/memory"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/storage/migrations"
	pgstore "github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/storage/postgres"
)

func main() {
	// Load .env if present; real env vars win.
	_ = godotenv.Load()

	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory stores (local development)")
	sourcesFlag := flag.String("sources", envOr("ETL_SOURCES", "coinpaprika,coingecko,csv"), "Comma-separated sources to ingest")
	csvPath := flag.String("csv-path", envOr("CSV_PATH", "data/coins.csv"), "Path to the CSV source file")
	batchSize := flag.Int("batch-size", 100, "Records per fetch page")
	maxRetries := flag.Uint64("max-retries", 3, "Fetch retries per page")
	timeout := flag.Duration("timeout", 10*time.Minute, "Overall run timeout")
	flag.Parse()

	logger := log.New(os.Stdout, "[etl] ", log.LstdFlags|log.Lmsgprefix)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	adapters, err := buildAdapters(*sourcesFlag, *csvPath, *batchSize, *maxRetries, logger)
	if err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}

	stores, cleanup, err := buildStores(ctx, *postgresDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Storage init failed: %v", err)
	}
	defer cleanup()

	resolver := resolution.New(resolution.Options{
		Coins:    stores.coins,
		Mappings: stores.mappings,
		Logger:   logger,
	})
	orchestrator := etl.New(etl.Options{
		Runs:        stores.runs,
		Raw:         stores.raw,
		Checkpoints: stores.checkpoints,
		Committer:   stores.committer,
		Resolver:    resolver,
		Logger:      logger,
	})

	failures := 0
	for _, adapter := range adapters {
		run, err := orchestrator.RunSource(ctx, adapter)
		if err != nil {
			failures++
			continue
		}
		logger.Printf("Source %s done: run %s, %d processed", adapter.Source(), run.RunID, run.RecordsProcessed)
	}
	if failures > 0 {
		logger.Fatalf("%d of %d sources failed", failures, len(adapters))
	}
}

type stores struct {
	coins       storage.MasterCoinStore
	mappings    storage.MappingStore
	runs        storage.RunStore
	raw         storage.RawRecordStore
	checkpoints storage.CheckpointStore
	committer   storage.BatchCommitter
	normalized  storage.NormalizedStore
}

// buildStores wires either the postgres stack (with migrations) or the
// in-memory stack.
func buildStores(ctx context.Context, dsn string, useMemory bool) (*stores, func(), error) {
	if useMemory {
		checkpoints := memory.NewCheckpointStore()
		normalized := memory.NewNormalizedStore(checkpoints)
		return &stores{
			coins:       memory.NewMasterCoinStore(),
			mappings:    memory.NewMappingStore(),
			runs:        memory.NewRunStore(),
			raw:         memory.NewRawRecordStore(),
			checkpoints: checkpoints,
			committer:   normalized,
			normalized:  normalized,
		}, func() {}, nil
	}

	if dsn == "" {
		return nil, nil, fmt.Errorf("postgres-dsn is required (or pass -use-memory)")
	}
	pool, err := pgstore.NewPool(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}

	normalized := pgstore.NewNormalizedStore(pool)
	return &stores{
		coins:       pgstore.NewMasterCoinStore(pool),
		mappings:    pgstore.NewMappingStore(pool),
		runs:        pgstore.NewRunStore(pool),
		raw:         pgstore.NewRawRecordStore(pool),
		checkpoints: pgstore.NewCheckpointStore(pool),
		committer:   normalized,
		normalized:  normalized,
	}, pool.Close, nil
}

// buildAdapters parses the sources flag into retry-wrapped adapters.
func buildAdapters(sourcesFlag, csvPath string, batchSize int, maxRetries uint64, logger *log.Logger) ([]ingestion.SourceAdapter, error) {
	var adapters []ingestion.SourceAdapter
	for _, name := range strings.Split(sourcesFlag, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		var inner ingestion.SourceAdapter
		switch domain.Source(name) {
		case domain.SourceCoinPaprika:
			inner = ingestion.NewCoinPaprikaAdapter(ingestion.CoinPaprikaOptions{
				APIKey:    os.Getenv("COINPAPRIKA_API_KEY"),
				BatchSize: batchSize,
			})
		case domain.SourceCoinGecko:
			inner = ingestion.NewCoinGeckoAdapter(ingestion.CoinGeckoOptions{
				APIKey:    os.Getenv("COINGECKO_API_KEY"),
				BatchSize: batchSize,
			})
		case domain.SourceCSV:
			inner = ingestion.NewCSVAdapter(ingestion.CSVOptions{
				Path:      csvPath,
				BatchSize: batchSize,
			})
		default:
			return nil, fmt.Errorf("unknown source %q", name)
		}

		adapters = append(adapters, ingestion.WithRetry(ingestion.RetryOptions{
			Adapter:    inner,
			MaxRetries: maxRetries,
			Logger:     logger,
		}))
	}
	if len(adapters) == 0 {
		return nil, fmt.Errorf("no sources selected")
	}
	return adapters, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
