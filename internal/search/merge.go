package search

import (
	"sort"

	"github.com/codesearch-hq/hybridsearch/internal/store"
)

// KeywordHit is a single normalized keyword-index result feeding the merger.
type KeywordHit struct {
	ChunkID store.ChunkId
	Doc     *store.TextChunk
	Score   float64 // normalized, [0,1]
}

// VectorHit is a single normalized vector-index result feeding the merger.
type VectorHit struct {
	ChunkID store.ChunkId
	Result  *store.VectorResult
	Score   float64 // normalized, [0,1]
}

// MergedResult is a single row of the final response.
type MergedResult struct {
	ChunkID         store.ChunkId
	KeywordDoc      *store.TextChunk
	VectorResult    *store.VectorResult
	CombinedScore   float64
	// KeywordScore and VectorScore retain each side's normalized
	// contribution (0 when that side is absent).
	KeywordScore    float64
	VectorScore     float64
	FromBothSources bool
	// TransitivePath is non-nil only for graph-sourced results.
	TransitivePath []string
	// AdjacentContext holds surrounding chunks for context continuity,
	// populated only when a request asks for it.
	AdjacentContext *AdjacentContext
}

// AdjacentContext carries the chunks immediately before/after a result's
// chunk within the same file, closest first.
type AdjacentContext struct {
	Before []*store.TextChunk
	After  []*store.TextChunk
}

// accumulator is the merger's per-ChunkId scratch state: it never escapes a
// single Merge call, so Merge is safe for concurrent use across requests.
type accumulator struct {
	chunkID      store.ChunkId
	keywordDoc   *store.TextChunk
	vectorResult *store.VectorResult
	keywordScore float64
	vectorScore  float64
	hasKeyword   bool
	hasVector    bool
	order        int
}

// Merge deduplicates keyword and vector hits by ChunkId, combines scores
// via weights, and returns a list sorted descending by combined score with
// ties broken by insertion order (keyword-seen-first, then vector-only
// arrival order).
func Merge(weights HybridWeights, keyword []KeywordHit, vector []VectorHit) []MergedResult {
	index := make(map[store.ChunkId]*accumulator, len(keyword)+len(vector))
	order := make([]store.ChunkId, 0, len(keyword)+len(vector))

	for _, kh := range keyword {
		acc := &accumulator{
			chunkID:      kh.ChunkID,
			keywordDoc:   kh.Doc,
			keywordScore: kh.Score,
			hasKeyword:   true,
			order:        len(order),
		}
		index[kh.ChunkID] = acc
		order = append(order, kh.ChunkID)
	}

	for _, vh := range vector {
		if acc, ok := index[vh.ChunkID]; ok {
			acc.vectorResult = vh.Result
			acc.vectorScore = vh.Score
			acc.hasVector = true
			continue
		}
		acc := &accumulator{
			chunkID:     vh.ChunkID,
			vectorResult: vh.Result,
			vectorScore: vh.Score,
			hasVector:   true,
			order:       len(order),
		}
		index[vh.ChunkID] = acc
		order = append(order, vh.ChunkID)
	}

	entries := make([]*accumulator, 0, len(order))
	for _, id := range order {
		entries = append(entries, index[id])
	}

	sort.SliceStable(entries, func(i, j int) bool {
		si := combinedScore(weights, entries[i])
		sj := combinedScore(weights, entries[j])
		if si != sj {
			return si > sj
		}
		return entries[i].order < entries[j].order
	})

	out := make([]MergedResult, len(entries))
	for i, acc := range entries {
		out[i] = MergedResult{
			ChunkID:         acc.chunkID,
			KeywordDoc:      acc.keywordDoc,
			VectorResult:    acc.vectorResult,
			CombinedScore:   combinedScore(weights, acc),
			KeywordScore:    acc.keywordScore,
			VectorScore:     acc.vectorScore,
			FromBothSources: acc.hasKeyword && acc.hasVector,
		}
	}
	return out
}

func combinedScore(weights HybridWeights, acc *accumulator) float64 {
	switch {
	case acc.hasKeyword && acc.hasVector:
		return weights.Combine(acc.keywordScore, acc.vectorScore)
	case acc.hasKeyword:
		return acc.keywordScore
	default:
		return acc.vectorScore
	}
}
