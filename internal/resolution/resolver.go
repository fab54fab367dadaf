// Package resolution maps source-local coin identifiers onto master coin
// entities, discovering new entities on first sight.
package resolution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/storage"
)

// ErrAmbiguousMatch is returned when fuzzy name matching finds more than one
// plausible master coin. The record is persisted unresolved and left for
// manual review instead of guessing.
var ErrAmbiguousMatch = errors.New("ambiguous master coin match")

// slugAttempts bounds canonical_id disambiguation suffixes.
const slugAttempts = 10

// Resolver resolves (source, source_id) pairs to master coins.
// Resolution is idempotent: a pair that already has a mapping is never
// re-resolved, and create conflicts fall back to the exact lookup so
// concurrent runs across sources converge on one entity.
type Resolver struct {
	coins           storage.MasterCoinStore
	mappings        storage.MappingStore
	acceptThreshold float64
	ambiguityMargin float64
	logger          *log.Logger
}

// Options configures a Resolver. Thresholds are policy, not derived from
// data; the defaults match observed coin-name noise but are tunable.
type Options struct {
	Coins    storage.MasterCoinStore
	Mappings storage.MappingStore

	// AcceptThreshold is the minimum fuzzy name similarity for a match.
	// Default 0.85.
	AcceptThreshold float64

	// AmbiguityMargin is the minimum lead the best candidate needs over the
	// runner-up. Default 0.05.
	AmbiguityMargin float64

	Logger *log.Logger
}

// New creates a new Resolver.
func New(opts Options) *Resolver {
	threshold := opts.AcceptThreshold
	if threshold == 0 {
		threshold = 0.85
	}
	margin := opts.AmbiguityMargin
	if margin == 0 {
		margin = 0.05
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{
		coins:           opts.Coins,
		mappings:        opts.Mappings,
		acceptThreshold: threshold,
		ambiguityMargin: margin,
		logger:          logger,
	}
}

// Resolve attaches a master coin ID to the record, creating the master coin
// and mapping as needed. On ErrAmbiguousMatch the record is left unresolved;
// callers persist it anyway.
func (r *Resolver) Resolve(ctx context.Context, rec *domain.NormalizedRecord) error {
	if rec == nil || !rec.Source.IsValid() || rec.SourceID == "" {
		return storage.ErrInvalidInput
	}

	// Step 1: exact mapping lookup. The common case after first sight.
	mapping, err := r.mappings.Get(ctx, rec.Source, rec.SourceID)
	if err == nil {
		r.checkContradiction(ctx, rec, mapping)
		rec.MasterCoinID = &mapping.MasterCoinID
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("lookup mapping: %w", err)
	}

	// Step 2: exact symbol match across sources.
	coin, err := r.coins.GetBySymbol(ctx, rec.Symbol)
	if err == nil {
		return r.attach(ctx, rec, coin, 1.0)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("lookup master coin by symbol: %w", err)
	}

	// Step 3: fuzzy name match.
	coin, score, err := r.bestNameMatch(ctx, rec.Name)
	if err != nil {
		if errors.Is(err, ErrAmbiguousMatch) {
			r.logger.Printf("Ambiguous match for %s/%s (%q), leaving unresolved", rec.Source, rec.SourceID, rec.Name)
			return ErrAmbiguousMatch
		}
		return err
	}
	if coin != nil {
		return r.attach(ctx, rec, coin, score)
	}

	// Step 4: auto-discovery. A brand-new entity is certain about itself.
	coin, err = r.discover(ctx, rec)
	if err != nil {
		return err
	}
	return r.attach(ctx, rec, coin, 1.0)
}

// attach creates (or re-reads, on conflict) the mapping and sets the
// record's master coin.
func (r *Resolver) attach(ctx context.Context, rec *domain.NormalizedRecord, coin *domain.MasterCoin, confidence float64) error {
	mapping := &domain.SourceMapping{
		MasterCoinID: coin.ID,
		Source:       rec.Source,
		SourceID:     rec.SourceID,
		Confidence:   confidence,
	}
	err := r.mappings.Create(ctx, mapping)
	if errors.Is(err, storage.ErrDuplicateKey) {
		// A concurrent run won the race; its mapping is authoritative.
		existing, getErr := r.mappings.Get(ctx, rec.Source, rec.SourceID)
		if getErr != nil {
			return fmt.Errorf("reread mapping after conflict: %w", getErr)
		}
		rec.MasterCoinID = &existing.MasterCoinID
		return nil
	}
	if err != nil {
		return fmt.Errorf("create mapping: %w", err)
	}

	r.reconcileName(ctx, rec, coin)
	rec.MasterCoinID = &coin.ID
	return nil
}

// reconcileName refreshes a coin's display name when a confident source
// reports a different one, bumping updated_at.
func (r *Resolver) reconcileName(ctx context.Context, rec *domain.NormalizedRecord, coin *domain.MasterCoin) {
	if rec.Name == "" || rec.Name == coin.Name {
		return
	}
	if normalizeName(rec.Name) == normalizeName(coin.Name) {
		return
	}
	if err := r.coins.UpdateName(ctx, coin.ID, rec.Name, time.Now().UTC()); err != nil {
		r.logger.Printf("Failed to reconcile name for coin %d: %v", coin.ID, err)
		return
	}
	r.logger.Printf("Reconciled master coin %d name %q -> %q", coin.ID, coin.Name, rec.Name)
}

// checkContradiction flags an existing low-confidence mapping when the
// record's symbol now exact-matches a different master coin. The mapping is
// kept as-is; overwriting silently would hide the disagreement.
func (r *Resolver) checkContradiction(ctx context.Context, rec *domain.NormalizedRecord, mapping *domain.SourceMapping) {
	if mapping.Confidence >= 1.0 || mapping.NeedsReview {
		return
	}
	coin, err := r.coins.GetBySymbol(ctx, rec.Symbol)
	if err != nil || coin.ID == mapping.MasterCoinID {
		return
	}
	if err := r.mappings.FlagForReview(ctx, rec.Source, rec.SourceID); err != nil {
		r.logger.Printf("Failed to flag mapping %s/%s: %v", rec.Source, rec.SourceID, err)
		return
	}
	r.logger.Printf("Mapping %s/%s (coin %d, confidence %.2f) contradicted by symbol match on coin %d, flagged for review",
		rec.Source, rec.SourceID, mapping.MasterCoinID, mapping.Confidence, coin.ID)
}

// bestNameMatch scans all master coins for the closest name. Returns
// (nil, 0, nil) when nothing clears the acceptance threshold, and
// ErrAmbiguousMatch when the runner-up is within the ambiguity margin.
func (r *Resolver) bestNameMatch(ctx context.Context, name string) (*domain.MasterCoin, float64, error) {
	coins, err := r.coins.List(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list master coins: %w", err)
	}

	var best *domain.MasterCoin
	var bestScore, secondScore float64
	for _, coin := range coins {
		score := similarity(name, coin.Name)
		switch {
		case score > bestScore:
			secondScore = bestScore
			bestScore = score
			best = coin
		case score > secondScore:
			secondScore = score
		}
	}

	if best == nil || bestScore < r.acceptThreshold {
		return nil, 0, nil
	}
	if bestScore-secondScore < r.ambiguityMargin {
		return nil, 0, ErrAmbiguousMatch
	}
	return best, bestScore, nil
}

// discover creates a new master coin, disambiguating canonical_id collisions
// with a numeric suffix and retrying the symbol lookup when a concurrent run
// creates the same coin first.
func (r *Resolver) discover(ctx context.Context, rec *domain.NormalizedRecord) (*domain.MasterCoin, error) {
	slug := slugify(rec.Name)
	if slug == "" {
		slug = slugify(rec.Symbol)
	}

	for attempt := 1; attempt <= slugAttempts; attempt++ {
		candidate := slug
		if attempt > 1 {
			candidate = slug + "-" + strconv.Itoa(attempt)
		}

		coin := &domain.MasterCoin{
			Symbol:      rec.Symbol,
			Name:        rec.Name,
			CanonicalID: candidate,
		}
		err := r.coins.Create(ctx, coin)
		if err == nil {
			r.logger.Printf("Discovered new master coin %d: %s (%s)", coin.ID, coin.Symbol, coin.CanonicalID)
			return coin, nil
		}
		if !errors.Is(err, storage.ErrDuplicateKey) {
			return nil, fmt.Errorf("create master coin: %w", err)
		}

		// Either a concurrent run created this symbol, or the slug is taken
		// by a different coin. Re-check the symbol before trying a suffix.
		existing, getErr := r.coins.GetBySymbol(ctx, rec.Symbol)
		if getErr == nil {
			return existing, nil
		}
		if !errors.Is(getErr, storage.ErrNotFound) {
			return nil, fmt.Errorf("reread master coin after conflict: %w", getErr)
		}
	}

	return nil, fmt.Errorf("discover master coin %s: exhausted canonical_id candidates for %q", rec.Symbol, slug)
}
