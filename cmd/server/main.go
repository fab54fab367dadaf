// Package main runs the unified service: scheduled ingestion for every
// configured source plus the HTTP query API and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/api"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/etl"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/ingestion"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/observability"
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
	httpAddr := flag.String("http-addr", envOr("HTTP_ADDR", ":8080"), "HTTP listen address")
	sourcesFlag := flag.String("sources", envOr("ETL_SOURCES", "coinpaprika,coingecko,csv"), "Comma-separated sources to ingest")
	csvPath := flag.String("csv-path", envOr("CSV_PATH", "data/coins.csv"), "Path to the CSV source file")
	batchSize := flag.Int("batch-size", 100, "Records per fetch page")
	interval := flag.Duration("interval", time.Hour, "Ingestion interval per source")
	runOnStart := flag.Bool("run-on-start", true, "Trigger an immediate run for every source at startup")
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmsgprefix)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	adapters, err := buildAdapters(*sourcesFlag, *csvPath, *batchSize, logger)
	if err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}

	stores, cleanup, err := buildStores(ctx, *postgresDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Storage init failed: %v", err)
	}
	defer cleanup()

	metrics := observability.NewMetrics()
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
		Metrics:     metrics,
		Logger:      logger,
	})

	scheduler := etl.NewScheduler(etl.SchedulerOptions{
		Orchestrator: orchestrator,
		Interval:     *interval,
		RunOnStart:   *runOnStart,
		Logger:       logger,
	})
	sources := make(map[domain.Source]domain.CheckpointType, len(adapters))
	for _, adapter := range adapters {
		scheduler.Register(adapter)
		sources[adapter.Source()] = adapter.CheckpointType()
	}

	apiServer := api.New(api.Options{
		Normalized:  stores.normalized,
		Coins:       stores.coins,
		Mappings:    stores.mappings,
		Runs:        stores.runs,
		Checkpoints: stores.checkpoints,
		Metrics:     metrics,
		Sources:     sources,
		Logger:      logger,
	})
	httpServer := &http.Server{
		Addr:              *httpAddr,
		Handler:           apiServer.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		logger.Printf("HTTP server listening on %s", *httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("HTTP server error: %v", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Printf("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP shutdown error: %v", err)
	}
	wg.Wait()
	logger.Printf("Stopped")
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
func buildAdapters(sourcesFlag, csvPath string, batchSize int, logger *log.Logger) ([]ingestion.SourceAdapter, error) {
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
			Adapter: inner,
			Logger:  logger,
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
