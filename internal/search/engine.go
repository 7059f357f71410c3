package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/codesearch-hq/hybridsearch/internal/analysis"
	"github.com/codesearch-hq/hybridsearch/internal/config"
	"github.com/codesearch-hq/hybridsearch/internal/embed"
	"github.com/codesearch-hq/hybridsearch/internal/graph"
	"github.com/codesearch-hq/hybridsearch/internal/store"
	"github.com/codesearch-hq/hybridsearch/internal/telemetry"
)

// Engine wires the keyword index, vector index, and graph service behind
// the SearchEngine seam. Search requests flow through the Orchestrator;
// Index/Delete apply atomic per-file updates to both indexes.
type Engine struct {
	keyword  *store.KeywordIndex
	vector   *store.VectorIndex
	embedder embed.Embedder
	metadata store.MetadataStore
	graph    *graph.Service
	orch     *Orchestrator
	cfg      config.SearchConfig
	metrics  *telemetry.QueryMetrics
}

// Ensure Engine implements SearchEngine interface.
var _ SearchEngine = (*Engine)(nil)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// ErrDimensionMismatch is returned when query embedding dimension doesn't
// match the vector index dimension.
// QW-5: Clear error message when embedder changed (e.g., Ollama -> Static768 fallback).
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Qwen3QueryInstruction is the instruction prefix for Qwen3 embedding queries.
// Per Qwen3 documentation: queries require instruction prefix for optimal retrieval.
// Documents are embedded without instruction; queries need task-specific prefix.
// See: https://huggingface.co/Qwen/Qwen3-Embedding-0.6B
const Qwen3QueryInstruction = "Instruct: Given a code search query, retrieve relevant code snippets that answer the query\nQuery:"

// formatQueryForEmbedding formats a query with Qwen3 instruction prefix.
func formatQueryForEmbedding(query string) string {
	return Qwen3QueryInstruction + query
}

// EngineOption configures the search engine.
type EngineOption func(*Engine)

// WithGraph sets the structural graph service used for transitive
// implements/extends augmentation. When unset, structural queries return
// direct hits only.
func WithGraph(g *graph.Service) EngineOption {
	return func(e *Engine) {
		e.graph = g
	}
}

// WithMetrics sets an optional query metrics collector for telemetry.
// When set, query patterns, latency, and zero-result queries are tracked.
func WithMetrics(m *telemetry.QueryMetrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates a hybrid search engine. The keyword index and metadata
// store are required; a nil vector index or embedder degrades the engine to
// keyword-only search rather than failing construction.
func NewEngine(
	keyword *store.KeywordIndex,
	vector *store.VectorIndex,
	embedder embed.Embedder,
	metadata store.MetadataStore,
	cfg config.SearchConfig,
	opts ...EngineOption,
) (*Engine, error) {
	if keyword == nil {
		return nil, fmt.Errorf("%w: keyword index is required", ErrNilDependency)
	}
	if metadata == nil {
		return nil, fmt.Errorf("%w: metadata store is required", ErrNilDependency)
	}

	e := &Engine{
		keyword:  keyword,
		vector:   vector,
		embedder: embedder,
		metadata: metadata,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(e)
	}

	var vectorBackend VectorBackend
	if vector != nil {
		vectorBackend = vector
	}
	var graphBackend GraphBackend
	if e.graph != nil {
		graphBackend = e.graph
	}

	e.orch = NewOrchestratorFromConfig(cfg, keyword, vectorBackend, graphBackend)
	e.orch.Adjacent = keyword
	return e, nil
}

// Orchestrator exposes the engine's underlying orchestrator, e.g. for the
// A/B evaluation harness.
func (e *Engine) Orchestrator() *Orchestrator {
	return e.orch
}

// Search executes a hybrid search query and returns ranked results.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) ([]*SearchResult, error) {
	start := time.Now()
	opts = e.applyDefaults(opts)

	req := Request{
		Query:          query,
		Filters:        filtersFromOptions(opts),
		Limit:          opts.Limit,
		Offset:         opts.Offset,
		Mode:           opts.Mode,
		Transitive:     opts.Transitive,
		Depth:          opts.Depth,
		Weights:        opts.Weights,
		AdjacentChunks: opts.AdjacentChunks,
		Explain:        opts.Explain,
	}
	resp, err := e.SearchRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	results := e.toSearchResults(query, resp)
	e.recordMetrics(query, len(results), time.Since(start))
	return results, nil
}

// SearchRequest executes a raw pipeline request, embedding the query text
// when the selected mode needs a vector. Adapters that want facets and the
// merged results directly (the HTTP endpoint) use this instead of Search.
func (e *Engine) SearchRequest(ctx context.Context, req Request) (*Response, error) {
	req = RequestDefaults(req, e.cfg)
	if req.Mode == "" {
		req.Mode = ModeHybrid
	}

	switch {
	case req.Mode == ModeKeyword || len(req.QueryVector) > 0:
		// Nothing to embed.
	case e.vector == nil || e.embedder == nil:
		if req.Mode == ModeVector {
			// No vector backend: empty results, not an error.
			return &Response{Stage: StageEmitted}, nil
		}
		req.Mode = ModeKeyword
	default:
		vec, err := e.embedder.Embed(ctx, formatQueryForEmbedding(req.Query))
		switch {
		case err != nil && req.Mode == ModeVector:
			// Embedding failure in vector mode yields empty results, not
			// an error.
			slog.Warn("query embedding failed, returning empty vector results",
				slog.String("error", err.Error()))
			return &Response{Stage: StageEmitted, VectorFailed: true}, nil
		case err != nil:
			slog.Warn("query embedding failed, falling back to keyword-only",
				slog.String("error", err.Error()))
			req.Mode = ModeKeyword
		default:
			req.QueryVector = vec
		}
	}

	return e.orch.Search(ctx, req)
}

// applyDefaults clamps limits and resolves the BM25Only flag into a mode.
func (e *Engine) applyDefaults(opts SearchOptions) SearchOptions {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.BM25Only {
		opts.Mode = ModeKeyword
	}
	if opts.Mode == "" {
		opts.Mode = ModeHybrid
	}
	if opts.Mode != ModeKeyword && (e.vector == nil || e.embedder == nil) {
		// No vector backend to dispatch to.
		if opts.Mode == ModeHybrid {
			opts.Mode = ModeKeyword
		}
	}
	return opts
}

// docEntityTypes and codeEntityTypes back the legacy "docs"/"code" content
// filter: the keyword index has no negated predicates, so both directions
// are expressed as positive entity_type disjunctions.
var (
	docEntityTypes  = []string{"markdown", "text", "section"}
	codeEntityTypes = []string{"function", "method", "class", "interface", "type", "struct", "variable", "constant"}
)

func filtersFromOptions(opts SearchOptions) store.SearchFilters {
	f := store.SearchFilters{
		FilePathPrefixes: opts.Scopes,
		Repositories:     opts.Repositories,
	}
	if opts.Language != "" {
		f.Languages = []string{strings.ToLower(opts.Language)}
	}
	switch {
	case opts.SymbolType != "" && opts.SymbolType != "any":
		f.EntityTypes = []string{opts.SymbolType}
	case opts.Filter == "docs":
		f.EntityTypes = docEntityTypes
	case opts.Filter == "code":
		f.EntityTypes = codeEntityTypes
	}
	return f
}

func (e *Engine) toSearchResults(query string, resp *Response) []*SearchResult {
	queryTerms := analysis.New().Analyze(query)

	out := make([]*SearchResult, 0, len(resp.Results))
	for _, m := range resp.Results {
		r := &SearchResult{
			Chunk:          chunkFromMerged(m),
			Score:          m.CombinedScore,
			BM25Score:      m.KeywordScore,
			VecScore:       m.VectorScore,
			InBothLists:    m.FromBothSources,
			TransitivePath: m.TransitivePath,
			Adjacent:       m.AdjacentContext,
		}
		if m.KeywordDoc != nil && m.KeywordDoc.Content != "" {
			r.MatchedTerms = matchedTerms(queryTerms, m.KeywordDoc.Content)
		}
		out = append(out, r)
	}
	if resp.Explain != nil && len(out) > 0 {
		out[0].Explain = resp.Explain
	}
	return out
}

// chunkFromMerged reconstructs a store.Chunk view of a merged result: from
// the keyword index's stored fields when present, else from the ChunkId of
// a vector-only hit.
func chunkFromMerged(m MergedResult) *store.Chunk {
	c := &store.Chunk{ID: string(m.ChunkID)}
	if doc := m.KeywordDoc; doc != nil {
		c.FilePath = doc.FilePath
		c.Content = doc.Content
		c.Language = doc.Language
		c.StartLine = doc.StartLine
		c.EndLine = doc.EndLine
		if doc.EntityName != "" {
			c.Symbols = []*store.Symbol{{
				Name:      doc.EntityName,
				Type:      store.SymbolType(doc.EntityType),
				StartLine: doc.StartLine,
				EndLine:   doc.EndLine,
			}}
		}
		return c
	}
	if filePath, entityName, startLine, endLine, ok := store.ParseChunkId(m.ChunkID); ok {
		c.FilePath = filePath
		c.StartLine = startLine
		c.EndLine = endLine
		if entityName != "" {
			c.Symbols = []*store.Symbol{{Name: entityName, StartLine: startLine, EndLine: endLine}}
		}
	}
	return c
}

// matchedTerms returns the analyzed query terms present in content.
func matchedTerms(queryTerms []string, content string) []string {
	lower := strings.ToLower(content)
	seen := make(map[string]bool, len(queryTerms))
	var matched []string
	for _, t := range queryTerms {
		if seen[t] {
			continue
		}
		seen[t] = true
		if strings.Contains(lower, t) {
			matched = append(matched, t)
		}
	}
	sort.Strings(matched)
	return matched
}

func (e *Engine) recordMetrics(query string, resultCount int, latency time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.Record(telemetry.QueryEvent{
		Query:       query,
		QueryType:   telemetry.QueryTypeMixed,
		ResultCount: resultCount,
		Latency:     latency,
		Timestamp:   time.Now(),
	})
}

// Index adds chunks to the keyword and vector indices, grouped by file so
// each file's chunk set is replaced atomically.
func (e *Engine) Index(ctx context.Context, chunks []*store.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	byFile := make(map[string][]*store.TextChunk)
	fileOrder := make([]string, 0)
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		tc := store.ToTextChunk(c)
		if _, ok := byFile[tc.FilePath]; !ok {
			fileOrder = append(fileOrder, tc.FilePath)
		}
		byFile[tc.FilePath] = append(byFile[tc.FilePath], tc)
		ids[i] = string(tc.ChunkId())
	}

	// Replace stale vector entries for the touched files before the
	// keyword-side update drops the old chunk set.
	if e.vector != nil {
		for _, filePath := range fileOrder {
			stale, err := e.keyword.SearchField(store.FieldFilePath, filePath, 0)
			if err != nil || len(stale) == 0 {
				continue
			}
			staleIDs := make([]string, len(stale))
			for i, h := range stale {
				staleIDs[i] = string(h.ChunkID)
			}
			if err := e.vector.DeleteBatch(ctx, staleIDs); err != nil {
				slog.Warn("stale vector delete failed, orphans will remain until compaction",
					slog.String("file", filePath),
					slog.String("error", err.Error()))
			}
		}
	}

	for _, filePath := range fileOrder {
		if err := e.keyword.UpdateChunksForFile(filePath, byFile[filePath]); err != nil {
			return fmt.Errorf("update keyword index for %s: %w", filePath, err)
		}
	}

	if e.graph != nil {
		for _, c := range chunks {
			for _, rel := range graph.ExtractRelations(c.Content, c.Language) {
				if err := e.graph.AddEdge(rel.Kind, rel.From, rel.To); err != nil {
					slog.Debug("graph edge rejected",
						slog.String("from", rel.From),
						slog.String("to", rel.To),
						slog.String("error", err.Error()))
				}
			}
		}
	}

	if e.vector != nil && e.embedder != nil {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		embeddings, err := e.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("generate embeddings: %w", err)
		}
		if err := e.vector.StoreBatch(ctx, ids, embeddings); err != nil {
			return fmt.Errorf("store vectors: %w", err)
		}

		// Persist embeddings in SQLite for future compaction (BUG-024 fix),
		// keyed by the metadata chunk id rather than the ChunkId the vector
		// store uses.
		metaIDs := make([]string, len(chunks))
		for i, c := range chunks {
			metaIDs[i] = c.ID
		}
		if err := e.metadata.SaveChunkEmbeddings(ctx, metaIDs, embeddings, e.embedder.ModelName()); err != nil {
			slog.Warn("failed to persist embeddings, compaction will require re-embedding",
				slog.String("error", err.Error()),
				slog.Int("count", len(ids)))
		}

		// QW-5: Store embedding dimension and model for mismatch detection
		if err := e.storeIndexEmbeddingInfo(ctx); err != nil {
			slog.Warn("failed to store index embedding info",
				slog.String("error", err.Error()))
		}
	}

	if err := e.metadata.SaveChunks(ctx, chunks); err != nil {
		return fmt.Errorf("save chunks metadata: %w", err)
	}

	return nil
}

// storeIndexEmbeddingInfo saves the current embedder's dimension and model to metadata.
// QW-5: This enables detection of dimension mismatch when embedder changes.
func (e *Engine) storeIndexEmbeddingInfo(ctx context.Context) error {
	dim := fmt.Sprintf("%d", e.embedder.Dimensions())
	model := e.embedder.ModelName()

	if err := e.metadata.SetState(ctx, store.StateKeyIndexDimension, dim); err != nil {
		return fmt.Errorf("failed to store index dimension: %w", err)
	}
	if err := e.metadata.SetState(ctx, store.StateKeyIndexModel, model); err != nil {
		return fmt.Errorf("failed to store index model: %w", err)
	}
	return nil
}

// Delete removes chunks from both indices by ChunkId string.
func (e *Engine) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	ids := make([]store.ChunkId, len(chunkIDs))
	for i, id := range chunkIDs {
		ids[i] = store.ChunkId(id)
	}
	if _, err := e.keyword.RemoveDocuments(ids); err != nil {
		return fmt.Errorf("delete from keyword index: %w", err)
	}

	if e.vector != nil {
		if err := e.vector.DeleteBatch(ctx, chunkIDs); err != nil {
			slog.Warn("vector delete failed, orphans will remain until compaction",
				slog.String("error", err.Error()),
				slog.Int("count", len(chunkIDs)))
		}
	}

	return nil
}

// DeleteFile removes every chunk indexed under filePath from both indices.
func (e *Engine) DeleteFile(ctx context.Context, filePath string) error {
	if e.vector != nil {
		hits, err := e.keyword.SearchField(store.FieldFilePath, filePath, 0)
		if err == nil && len(hits) > 0 {
			ids := make([]string, len(hits))
			for i, h := range hits {
				ids[i] = string(h.ChunkID)
			}
			if err := e.vector.DeleteBatch(ctx, ids); err != nil {
				slog.Warn("vector delete failed, orphans will remain until compaction",
					slog.String("file", filePath),
					slog.String("error", err.Error()))
			}
		}
	}
	return e.keyword.RemoveChunksForFile(filePath)
}

// Stats returns engine statistics.
func (e *Engine) Stats() *EngineStats {
	stats := &EngineStats{}
	if ks, err := e.keyword.GetIndexStats(); err == nil {
		stats.Keyword = ks
	}
	if e.vector != nil {
		stats.VectorCount = e.vector.Stats().Count
	}
	return stats
}

// Close releases all resources.
func (e *Engine) Close() error {
	var errs []error

	if err := e.keyword.Close(); err != nil {
		errs = append(errs, err)
	}
	if e.vector != nil {
		if err := e.vector.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.metadata.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
