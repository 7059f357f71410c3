package searcher

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// FusionSearcher combines multiple searchers by min-max normalizing each
// source's scores and taking a weighted sum per document.
//
// Supports three modes:
//   - Hybrid: Both BM25 and Vector searchers (full fusion)
//   - BM25-only: Just BM25 searcher (lexical search)
//   - Vector-only: Just Vector searcher (semantic search)
//
// Thread-safe for concurrent use.
type FusionSearcher struct {
	bm25   Searcher
	vector Searcher
	config FusionConfig
	mu     sync.RWMutex
}

// FusionOption configures FusionSearcher.
type FusionOption func(*FusionSearcher)

// WithBM25Searcher sets the BM25 searcher for lexical search.
func WithBM25Searcher(s Searcher) FusionOption {
	return func(f *FusionSearcher) {
		f.bm25 = s
	}
}

// WithVectorSearcher sets the Vector searcher for semantic search.
func WithVectorSearcher(s Searcher) FusionOption {
	return func(f *FusionSearcher) {
		f.vector = s
	}
}

// WithFusionConfig sets the score-combination configuration.
func WithFusionConfig(config FusionConfig) FusionOption {
	return func(f *FusionSearcher) {
		f.config = config
	}
}

// NewFusionSearcher creates a new fusion searcher.
//
// At least one searcher (BM25 or Vector) must be provided.
// Returns ErrNoSearchers if no searchers are configured.
func NewFusionSearcher(opts ...FusionOption) (*FusionSearcher, error) {
	f := &FusionSearcher{
		config: DefaultFusionConfig(),
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.bm25 == nil && f.vector == nil {
		return nil, ErrNoSearchers
	}

	return f, nil
}

// Search executes search on all configured searchers and fuses results.
//
// Behavior by mode:
//   - Hybrid: Parallel BM25 + Vector search, then weighted score merge
//   - BM25-only: Direct BM25 search
//   - Vector-only: Direct Vector search
//
// Graceful degradation: If one searcher fails, returns results from the other.
// Returns error only if all searchers fail.
func (f *FusionSearcher) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	// Single searcher modes
	if f.bm25 == nil {
		return f.vector.Search(ctx, query, limit)
	}
	if f.vector == nil {
		return f.bm25.Search(ctx, query, limit)
	}

	// Hybrid mode: parallel search with graceful degradation
	return f.hybridSearch(ctx, query, limit)
}

// hybridSearch runs both searchers in parallel and fuses results.
func (f *FusionSearcher) hybridSearch(ctx context.Context, query string, limit int) ([]Result, error) {
	var (
		bm25Results   []Result
		vectorResults []Result
		bm25Err       error
		vectorErr     error
	)

	// Fetch more results for fusion (2x limit)
	fetchLimit := limit * 2
	if fetchLimit < 20 {
		fetchLimit = 20 // Minimum for good fusion
	}

	// Run searches in parallel
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		bm25Results, err = f.bm25.Search(gctx, query, fetchLimit)
		bm25Err = err
		return nil // Don't fail the group, we handle errors below
	})

	g.Go(func() error {
		var err error
		vectorResults, err = f.vector.Search(gctx, query, fetchLimit)
		vectorErr = err
		return nil // Don't fail the group, we handle errors below
	})

	// Wait for both to complete
	_ = g.Wait()

	// Handle errors with graceful degradation
	if bm25Err != nil && vectorErr != nil {
		return nil, fmt.Errorf("all searchers failed: BM25: %v, Vector: %v", bm25Err, vectorErr)
	}

	// Single-source fallback
	if bm25Err != nil {
		return truncateResults(vectorResults, limit), nil
	}
	if vectorErr != nil {
		return truncateResults(bm25Results, limit), nil
	}

	fused := f.fuseResults(bm25Results, vectorResults)

	return truncateResults(fused, limit), nil
}

// fusedScore tracks per-source contributions during the merge.
type fusedScore struct {
	ID           string
	bm25Score    float64
	vectorScore  float64
	hasBM25      bool
	hasVector    bool
	MatchedTerms []string
}

// fuseResults min-max normalizes each source list to [0,1], then merges by
// document ID: documents in both lists get the weighted sum of their
// normalized scores, single-source documents keep their normalized score.
func (f *FusionSearcher) fuseResults(bm25Results, vectorResults []Result) []Result {
	bm25Norm := normalizeScores(bm25Results)
	vectorNorm := normalizeScores(vectorResults)

	scores := make(map[string]*fusedScore)

	for i, r := range bm25Results {
		scores[r.ID] = &fusedScore{
			ID:           r.ID,
			bm25Score:    bm25Norm[i],
			hasBM25:      true,
			MatchedTerms: r.MatchedTerms,
		}
	}

	for i, r := range vectorResults {
		if existing, ok := scores[r.ID]; ok {
			existing.vectorScore = vectorNorm[i]
			existing.hasVector = true
		} else {
			scores[r.ID] = &fusedScore{
				ID:          r.ID,
				vectorScore: vectorNorm[i],
				hasVector:   true,
			}
		}
	}

	results := make([]Result, 0, len(scores))
	for _, s := range scores {
		var combined float64
		switch {
		case s.hasBM25 && s.hasVector:
			combined = f.config.BM25Weight*s.bm25Score + f.config.SemanticWeight*s.vectorScore
		case s.hasBM25:
			combined = s.bm25Score
		default:
			combined = s.vectorScore
		}
		results = append(results, Result{
			ID:           s.ID,
			Score:        combined,
			MatchedTerms: s.MatchedTerms,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		// Stable sort by ID for deterministic ordering
		return results[i].ID < results[j].ID
	})

	return results
}

// normalizeScores min-max rescales a result list's scores to [0,1] without
// mutating the inputs. A single element, or a list whose scores are all
// equal, maps to 1.0.
func normalizeScores(results []Result) []float64 {
	if len(results) == 0 {
		return nil
	}

	min, max := results[0].Score, results[0].Score
	for _, r := range results[1:] {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}

	out := make([]float64, len(results))
	for i, r := range results {
		if max == min {
			out[i] = 1.0
		} else {
			out[i] = (r.Score - min) / (max - min)
		}
	}
	return out
}

// truncateResults returns at most limit results.
func truncateResults(results []Result, limit int) []Result {
	if len(results) <= limit {
		return results
	}
	return results[:limit]
}
