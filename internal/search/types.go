// Package search implements the hybrid search pipeline: score
// normalization, weighted hybrid combination, result merging, and the
// orchestrator that dispatches keyword, vector, and graph backends.
package search

import (
	"context"

	"github.com/codesearch-hq/hybridsearch/internal/store"
)

// SearchEngine is the seam between the search pipeline and its callers
// (CLI, MCP server, daemon, index coordinator). The concrete Engine wraps
// the Orchestrator plus the keyword and vector indexes behind it.
type SearchEngine interface {
	// Search executes a hybrid search query and returns ranked results.
	Search(ctx context.Context, query string, opts SearchOptions) ([]*SearchResult, error)

	// Index adds chunks to the keyword and vector indices. Chunks are
	// grouped by file and applied as atomic per-file replacements.
	Index(ctx context.Context, chunks []*store.Chunk) error

	// Delete removes chunks from both indices by ChunkId string.
	Delete(ctx context.Context, chunkIDs []string) error

	// DeleteFile removes every chunk indexed under a file path from both
	// indices in one pass.
	DeleteFile(ctx context.Context, filePath string) error

	// Stats returns engine statistics.
	Stats() *EngineStats

	// Close releases all resources.
	Close() error
}

// SearchOptions configures a search query.
type SearchOptions struct {
	// Limit is the maximum number of results to return (default: 10, max: 100).
	Limit int

	// Offset skips the first N merged results (pagination).
	Offset int

	// Filter restricts results by content type: "all", "code", "docs".
	Filter string

	// Language filters results by programming language (e.g., "go", "typescript").
	Language string

	// SymbolType filters results by symbol type (e.g., "function", "class").
	SymbolType string

	// Repositories filters results by repository tag.
	Repositories []string

	// Scopes restricts results to files within these path prefixes.
	// Multiple scopes use OR logic (matches if file is within ANY scope).
	Scopes []string

	// Mode selects which backends run: hybrid (default), keyword, vector.
	Mode Mode

	// BM25Only forces keyword-only search, skipping semantic/vector search
	// entirely. Equivalent to Mode = ModeKeyword; kept as a flag because
	// the CLI and daemon wire it as a boolean.
	BM25Only bool

	// Transitive enables implements/extends graph-closure augmentation.
	Transitive bool

	// Depth bounds the graph closure traversal when Transitive is set.
	Depth int

	// Weights overrides the engine's default keyword/vector weights for
	// this request only. Validated like the defaults: both in [0,1],
	// summing to 1.0.
	Weights *HybridWeights

	// AdjacentChunks specifies how many chunks before/after to retrieve
	// for context continuity. 0 disables enrichment.
	AdjacentChunks int

	// Explain attaches ExplainData to the first result.
	Explain bool
}

// SearchResult represents a single search result with scores and metadata.
type SearchResult struct {
	// Chunk contains the chunk data reconstructed from the keyword index's
	// stored fields (or, for vector-only hits, from the ChunkId).
	Chunk *store.Chunk

	// Score is the combined normalized score (0-1).
	Score float64

	// BM25Score is the keyword-side normalized score (0 if absent).
	BM25Score float64

	// VecScore is the vector-side normalized score (0 if absent).
	VecScore float64

	// InBothLists indicates the result appeared in both keyword and
	// vector results.
	InBothLists bool

	// MatchedTerms contains the analyzed query terms found in the
	// result's content.
	MatchedTerms []string

	// TransitivePath is the implements/extends relationship path from the
	// structural query's root to this result; nil for direct hits.
	TransitivePath []string

	// Adjacent holds surrounding chunks for context continuity, populated
	// only when SearchOptions.AdjacentChunks > 0.
	Adjacent *AdjacentContext

	// Explain contains search decision information when opts.Explain=true.
	// Only populated on the first result to avoid duplication.
	Explain *ExplainData
}

// EngineStats provides statistics about the search engine.
type EngineStats struct {
	// Keyword contains keyword index statistics.
	Keyword store.IndexStatsFull

	// VectorCount is the number of vectors in the store.
	VectorCount int
}
