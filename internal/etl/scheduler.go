package etl

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/ingestion"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/storage"
)

// Scheduler triggers periodic ingestion runs, one goroutine per source.
// Sources run independently: a slow or failing source never delays the
// others.
type Scheduler struct {
	orchestrator *Orchestrator
	interval     time.Duration
	runOnStart   bool
	logger       *log.Logger

	mu       sync.Mutex
	adapters []ingestion.SourceAdapter
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Orchestrator *Orchestrator

	// Interval between run triggers per source. Default 1h.
	Interval time.Duration

	// RunOnStart triggers an immediate run for every source before the first
	// tick.
	RunOnStart bool

	Logger *log.Logger
}

// NewScheduler creates a new Scheduler.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		orchestrator: opts.Orchestrator,
		interval:     interval,
		runOnStart:   opts.RunOnStart,
		logger:       logger,
	}
}

// Register adds a source adapter to the schedule. Must be called before Run.
func (s *Scheduler) Register(adapter ingestion.SourceAdapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapters = append(s.adapters, adapter)
}

// Run blocks until the context is cancelled, triggering runs on the
// configured interval. In-flight runs finish before Run returns.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	adapters := make([]ingestion.SourceAdapter, len(s.adapters))
	copy(adapters, s.adapters)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, adapter := range adapters {
		wg.Add(1)
		go func(adapter ingestion.SourceAdapter) {
			defer wg.Done()
			s.runLoop(ctx, adapter)
		}(adapter)
	}
	wg.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, adapter ingestion.SourceAdapter) {
	if s.runOnStart {
		s.trigger(ctx, adapter)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Printf("Scheduler for %s stopping", adapter.Source())
			return
		case <-ticker.C:
			s.trigger(ctx, adapter)
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context, adapter ingestion.SourceAdapter) {
	if ctx.Err() != nil {
		return
	}
	_, err := s.orchestrator.RunSource(ctx, adapter)
	if err != nil && !errors.Is(err, storage.ErrRunActive) {
		s.logger.Printf("Scheduled run for %s failed: %v", adapter.Source(), err)
	}
}
