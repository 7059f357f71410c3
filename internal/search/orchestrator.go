package search

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	cserrors "github.com/codesearch-hq/hybridsearch/internal/errors"
	"github.com/codesearch-hq/hybridsearch/internal/graph"
	"github.com/codesearch-hq/hybridsearch/internal/queryast"
	"github.com/codesearch-hq/hybridsearch/internal/store"
)

// Mode selects which backend(s) a request dispatches to.
type Mode string

const (
	ModeHybrid  Mode = "HYBRID"
	ModeKeyword Mode = "KEYWORD"
	ModeVector  Mode = "VECTOR"
)

// Stage is a point in the orchestrator's state machine:
// Received -> Dispatched -> Normalized -> Merged -> (Transitive? ->
// Augmented) -> Emitted.
type Stage string

const (
	StageReceived   Stage = "received"
	StageDispatched Stage = "dispatched"
	StageNormalized Stage = "normalized"
	StageMerged     Stage = "merged"
	StageAugmented  Stage = "augmented"
	StageEmitted    Stage = "emitted"
)

// KeywordBackend is the subset of the Keyword Index the orchestrator needs.
type KeywordBackend interface {
	SearchWithScores(q string, limit int, filters store.SearchFilters, includeFieldMatch bool) ([]*store.KeywordHitDoc, error)
	LookupByEntityNames(names []string, limit int, filters store.SearchFilters) ([]*store.KeywordHitDoc, error)
	ComputeFacets(q string, filters store.SearchFilters, maxValuesPerFacet int) (map[string][]store.FacetResult, error)
}

// VectorBackend is the subset of the Vector Index the orchestrator needs.
type VectorBackend interface {
	Search(ctx context.Context, query []float32, k int, threshold float32) ([]*store.VectorResult, error)
}

// GraphBackend is the subset of the Graph Query Service the orchestrator needs.
type GraphBackend interface {
	FindRelatedEntities(q string, depth int) (results []graph.GraphRelatedEntity, ok bool)
}

// AdjacentBackend looks up every chunk on record for a file, used for
// adjacent-chunk context enrichment.
type AdjacentBackend interface {
	SearchField(field, value string, limit int) ([]*store.KeywordHitDoc, error)
}

// Request is a single search invocation.
type Request struct {
	Query           string
	Filters         store.SearchFilters
	Limit           int
	Offset          int
	Mode            Mode
	QueryVector     []float32
	VectorK         int
	VectorThreshold float32
	Transitive      bool
	Depth           int
	FacetLimit      int
	// Weights overrides the orchestrator's default hybrid weights for
	// this request only. Validated like
	// the defaults.
	Weights *HybridWeights
	// AdjacentChunks is how many chunks before/after each top result to
	// fetch for context (0 disables enrichment).
	AdjacentChunks int
	// Explain requests ExplainData on the response.
	Explain bool
}

// Response is the orchestrator's output.
type Response struct {
	Results        []MergedResult
	Facets         map[string][]store.FacetResult
	Stage          Stage
	KeywordFailed  bool
	VectorFailed   bool
	TransitiveUsed bool
	// Explain is populated only when Request.Explain is true
	//.
	Explain *ExplainData
}

// ExplainData surfaces which backends contributed, the weights used, and
// whether transitive augmentation ran.
type ExplainData struct {
	Query              string
	Mode               Mode
	Weights            HybridWeights
	KeywordResultCount int
	VectorResultCount  int
	KeywordFailed      bool
	VectorFailed       bool
	TransitiveUsed     bool
}

// Orchestrator implements the Search Orchestrator: it dispatches
// a request to the configured backends in parallel, tolerating a partial
// backend failure, then normalizes, merges, computes facets, and optionally
// augments with a transitive graph lookup.
type Orchestrator struct {
	Keyword  KeywordBackend
	Vector   VectorBackend
	Graph    GraphBackend
	Adjacent AdjacentBackend
	Weights  HybridWeights
	Parser   *queryast.QueryParser

	entityCache *entityLookupCache
}

// NewOrchestrator constructs an Orchestrator with default hybrid weights and
// a default query parser. Any backend may be nil; a nil backend is treated
// as unavailable and contributes no results for that source.
func NewOrchestrator(keyword KeywordBackend, vector VectorBackend, graphBackend GraphBackend) *Orchestrator {
	return &Orchestrator{
		Keyword:     keyword,
		Vector:      vector,
		Graph:       graphBackend,
		Weights:     DefaultHybridWeights(),
		Parser:      queryast.NewQueryParser(nil),
		entityCache: newEntityLookupCache(DefaultEntityLookupCacheSize),
	}
}

// Search executes req end to end. It validates
// req first; a validation failure is returned as-is so
// callers (e.g. the HTTP adapter) can map it to a 400 response.
func (o *Orchestrator) Search(ctx context.Context, req Request) (*Response, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp := &Response{Stage: StageReceived}

	// Null mode defaults to HYBRID.
	if req.Mode == "" {
		req.Mode = ModeHybrid
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}

	var keywordHits []*store.KeywordHitDoc
	var vectorHits []*store.VectorResult

	g, gctx := errgroup.WithContext(ctx)

	wantKeyword := req.Mode == ModeHybrid || req.Mode == ModeKeyword
	wantVector := (req.Mode == ModeHybrid || req.Mode == ModeVector) && len(req.QueryVector) > 0

	if wantKeyword && o.Keyword != nil {
		g.Go(func() error {
			hits, err := o.Keyword.SearchWithScores(req.Query, limit+req.Offset, req.Filters, false)
			if err != nil {
				resp.KeywordFailed = true
				if req.Mode == ModeKeyword {
					// KEYWORD mode has no fallback backend to merge around
					//: surface the error.
					return cserrors.New(cserrors.ErrCodeSearchFailed, "keyword backend failed", err)
				}
				return nil // partial-failure tolerance: hybrid can still merge on vector hits
			}
			keywordHits = hits
			return nil
		})
	}

	if wantVector && o.Vector != nil {
		g.Go(func() error {
			k := req.VectorK
			if k <= 0 {
				k = limit + req.Offset
			}
			hits, err := o.Vector.Search(gctx, req.QueryVector, k, req.VectorThreshold)
			if err != nil {
				resp.VectorFailed = true
				return nil
			}
			vectorHits = hits
			return nil
		})
	}

	// Most backend failures are recorded on resp and tolerated (partial
	// results); the one exception is a keyword-backend failure in KEYWORD
	// mode, which has no other backend to fall back to and must surface
	//. Wait also surfaces ctx cancellation.
	if err := g.Wait(); err != nil {
		return nil, err
	}
	resp.Stage = StageDispatched

	weights := o.Weights
	if req.Weights != nil {
		weights = *req.Weights
	}

	normKeyword := normalizeKeywordHits(keywordHits)
	normVector := normalizeVectorHits(vectorHits)
	resp.Stage = StageNormalized

	merged := Merge(weights, normKeyword, normVector)
	resp.Stage = StageMerged

	if req.FacetLimit > 0 && o.Keyword != nil {
		facets, err := o.Keyword.ComputeFacets(req.Query, req.Filters, req.FacetLimit)
		if err == nil {
			resp.Facets = facets
		}
	}

	if req.Transitive && o.Graph != nil {
		merged = o.augmentTransitive(req, weights, merged, limit)
		resp.Stage = StageAugmented
		resp.TransitiveUsed = true
	}

	if req.Offset > 0 && req.Offset < len(merged) {
		merged = merged[req.Offset:]
	} else if req.Offset >= len(merged) {
		merged = nil
	}
	if len(merged) > limit {
		merged = merged[:limit]
	}

	if req.AdjacentChunks > 0 && o.Adjacent != nil {
		o.enrichAdjacent(merged, req.AdjacentChunks, 5)
	}

	if req.Explain {
		resp.Explain = &ExplainData{
			Query:              req.Query,
			Mode:               req.Mode,
			Weights:            weights,
			KeywordResultCount: len(keywordHits),
			VectorResultCount:  len(vectorHits),
			KeywordFailed:      resp.KeywordFailed,
			VectorFailed:       resp.VectorFailed,
			TransitiveUsed:     resp.TransitiveUsed,
		}
	}

	resp.Results = merged
	resp.Stage = StageEmitted
	return resp, nil
}

// enrichAdjacent populates AdjacentContext on the first topN results,
// grouping by file to batch the lookup.
func (o *Orchestrator) enrichAdjacent(results []MergedResult, adjacentCount, topN int) {
	enrichCount := len(results)
	if topN > 0 && enrichCount > topN {
		enrichCount = topN
	}

	byFile := make(map[string][]int)
	for i := 0; i < enrichCount; i++ {
		doc := results[i].KeywordDoc
		if doc == nil || doc.FilePath == "" {
			continue
		}
		byFile[doc.FilePath] = append(byFile[doc.FilePath], i)
	}

	for filePath, indices := range byFile {
		hits, err := o.Adjacent.SearchField(store.FieldFilePath, filePath, 0)
		if err != nil || len(hits) == 0 {
			continue
		}

		for _, idx := range indices {
			target := results[idx].KeywordDoc
			var before, after []*store.TextChunk

			for _, h := range hits {
				isSelf := h.EntityName == target.EntityName && h.StartLine == target.StartLine && h.EndLine == target.EndLine
				if h.FilePath != filePath || isSelf {
					continue
				}
				chunk := &store.TextChunk{
					EntityName: h.EntityName,
					FilePath:   h.FilePath,
					Language:   h.Language,
					EntityType: h.EntityType,
					StartLine:  h.StartLine,
					EndLine:    h.EndLine,
				}
				if h.EndLine < target.StartLine {
					before = append(before, chunk)
				} else if h.StartLine > target.EndLine {
					after = append(after, chunk)
				}
			}

			sort.Slice(before, func(i, j int) bool { return before[i].EndLine > before[j].EndLine })
			if len(before) > adjacentCount {
				before = before[:adjacentCount]
			}
			sort.Slice(after, func(i, j int) bool { return after[i].StartLine < after[j].StartLine })
			if len(after) > adjacentCount {
				after = after[:adjacentCount]
			}

			results[idx].AdjacentContext = &AdjacentContext{Before: before, After: after}
		}
	}
}

// augmentTransitive dispatches the query's structural target (if any)
// through the graph backend, looks up the related entity names in the
// keyword index, and re-merges/re-sorts, tagging each augmented result's
// TransitivePath.
func (o *Orchestrator) augmentTransitive(req Request, weights HybridWeights, merged []MergedResult, limit int) []MergedResult {
	related, ok := o.Graph.FindRelatedEntities(req.Query, req.Depth)
	if !ok || len(related) == 0 || o.Keyword == nil {
		return merged
	}

	names := make([]string, len(related))
	pathByName := make(map[string][]string, len(related))
	for i, r := range related {
		names[i] = r.EntityName
		pathByName[r.EntityName] = r.RelationshipPath
	}

	hits, err := o.lookupByEntityNamesCached(names, limit*2, req.Filters)
	if err != nil || len(hits) == 0 {
		return merged
	}

	existing := make(map[store.ChunkId]bool, len(merged))
	for _, m := range merged {
		existing[m.ChunkID] = true
	}

	extra := make([]KeywordHit, 0, len(hits))
	for _, hit := range hits {
		if existing[hit.ChunkID] {
			continue
		}
		extra = append(extra, KeywordHit{ChunkID: hit.ChunkID, Doc: textChunkFromHitDoc(hit), Score: 1.0})
	}
	if len(extra) == 0 {
		return merged
	}

	extraNorm := normalizeKeywordHitsRaw(extra)
	augmented := Merge(weights, append(toKeywordHits(merged), extraNorm...), nil)

	for i := range augmented {
		if path, ok := pathByName[entityNameOf(augmented[i])]; ok {
			augmented[i].TransitivePath = path
		}
	}
	return augmented
}

// lookupByEntityNamesCached memoizes o.Keyword.LookupByEntityNames by
// (names, filters) so repeated transitive augmentations over the same
// structural closure skip the keyword index round trip.
func (o *Orchestrator) lookupByEntityNamesCached(names []string, limit int, filters store.SearchFilters) ([]*store.KeywordHitDoc, error) {
	if o.entityCache == nil {
		return o.Keyword.LookupByEntityNames(names, limit, filters)
	}

	key := fmt.Sprintf("%s|limit=%d", entityLookupKey(names, filters), limit)
	if hits, ok := o.entityCache.get(key); ok {
		return hits, nil
	}

	hits, err := o.Keyword.LookupByEntityNames(names, limit, filters)
	if err != nil {
		return nil, err
	}
	o.entityCache.put(key, hits)
	return hits, nil
}

func entityNameOf(m MergedResult) string {
	if m.KeywordDoc != nil {
		return m.KeywordDoc.EntityName
	}
	return ""
}

// toKeywordHits re-derives KeywordHit inputs from already-merged results so
// augmentTransitive can feed them back through Merge alongside new hits
// without losing prior combined scores as the keyword-side contribution.
func toKeywordHits(merged []MergedResult) []KeywordHit {
	out := make([]KeywordHit, len(merged))
	for i, m := range merged {
		out[i] = KeywordHit{ChunkID: m.ChunkID, Doc: m.KeywordDoc, Score: m.CombinedScore}
	}
	return out
}

func normalizeKeywordHits(hits []*store.KeywordHitDoc) []KeywordHit {
	if len(hits) == 0 {
		return nil
	}
	scored := make([]Scored[*store.KeywordHitDoc, float64], len(hits))
	for i, h := range hits {
		scored[i] = Scored[*store.KeywordHitDoc, float64]{Item: h, Score: h.Score}
	}
	norm := NormalizeScores(scored)
	out := make([]KeywordHit, len(norm))
	for i, s := range norm {
		out[i] = KeywordHit{ChunkID: s.Item.ChunkID, Doc: textChunkFromHitDoc(s.Item), Score: s.Score}
	}
	return out
}

func textChunkFromHitDoc(h *store.KeywordHitDoc) *store.TextChunk {
	return &store.TextChunk{
		Content:    h.Content,
		EntityName: h.EntityName,
		FilePath:   h.FilePath,
		Language:   h.Language,
		EntityType: h.EntityType,
		StartLine:  h.StartLine,
		EndLine:    h.EndLine,
	}
}

func normalizeKeywordHitsRaw(hits []KeywordHit) []KeywordHit {
	if len(hits) == 0 {
		return nil
	}
	scored := make([]Scored[KeywordHit, float64], len(hits))
	for i, h := range hits {
		scored[i] = Scored[KeywordHit, float64]{Item: h, Score: h.Score}
	}
	norm := NormalizeScores(scored)
	out := make([]KeywordHit, len(norm))
	for i, s := range norm {
		item := s.Item
		item.Score = s.Score
		out[i] = item
	}
	return out
}

func normalizeVectorHits(hits []*store.VectorResult) []VectorHit {
	if len(hits) == 0 {
		return nil
	}
	scored := make([]Scored[*store.VectorResult, float64], len(hits))
	for i, h := range hits {
		scored[i] = Scored[*store.VectorResult, float64]{Item: h, Score: float64(h.Score)}
	}
	norm := NormalizeScores(scored)
	out := make([]VectorHit, len(norm))
	for i, s := range norm {
		out[i] = VectorHit{ChunkID: store.ChunkId(s.Item.ID), Result: s.Item, Score: s.Score}
	}
	return out
}
