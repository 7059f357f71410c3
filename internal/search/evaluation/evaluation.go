// Package evaluation implements the A/B harness: offline
// precision@k and recall measurement against a labelled judgment set, and a
// weight-sweep recommender over the Hybrid Scorer's (keyword, vector)
// weight pair.
package evaluation

import (
	"context"
	"sort"

	"github.com/codesearch-hq/hybridsearch/internal/search"
	"github.com/codesearch-hq/hybridsearch/internal/store"
)

// Judgment is one labelled query in the evaluation set: the set of chunk
// IDs considered relevant for Query, independent of how any backend ranks
// them.
type Judgment struct {
	Query    string
	Relevant map[store.ChunkId]bool
}

// QueryResult holds one query's precision@k and recall against its
// judgment, plus the k used to compute precision.
type QueryResult struct {
	Query       string
	PrecisionAt float64
	Recall      float64
	Returned    int
	RelevantHit int
}

// Report aggregates per-query results into the A/B harness's output.
type Report struct {
	PerQuery        []QueryResult
	MeanPrecisionAt float64
	MeanRecall      float64
	K               int
}

// Evaluate runs every judgment's query through o and scores the top K
// results against that judgment's relevant set. A judgment whose Relevant
// set is empty contributes 0 to both metrics and is still counted (no
// relevant documents means nothing was recallable, but an empty result for
// it is still a data point about the query).
func Evaluate(ctx context.Context, o *search.Orchestrator, judgments []Judgment, k int) (*Report, error) {
	if k <= 0 {
		k = 10
	}

	report := &Report{K: k, PerQuery: make([]QueryResult, 0, len(judgments))}
	if len(judgments) == 0 {
		return report, nil
	}

	var sumPrecision, sumRecall float64
	for _, j := range judgments {
		resp, err := o.Search(ctx, search.Request{Query: j.Query, Mode: search.ModeHybrid, Limit: k})
		if err != nil {
			return nil, err
		}

		hits := 0
		for _, r := range resp.Results {
			if j.Relevant[r.ChunkID] {
				hits++
			}
		}

		qr := QueryResult{
			Query:       j.Query,
			Returned:    len(resp.Results),
			RelevantHit: hits,
		}
		if len(resp.Results) > 0 {
			qr.PrecisionAt = float64(hits) / float64(len(resp.Results))
		}
		if len(j.Relevant) > 0 {
			qr.Recall = float64(hits) / float64(len(j.Relevant))
		}

		report.PerQuery = append(report.PerQuery, qr)
		sumPrecision += qr.PrecisionAt
		sumRecall += qr.Recall
	}

	report.MeanPrecisionAt = sumPrecision / float64(len(judgments))
	report.MeanRecall = sumRecall / float64(len(judgments))
	return report, nil
}

// WeightCandidate is one point on the weight-sweep grid and its resulting
// mean precision@k.
type WeightCandidate struct {
	Weights         search.HybridWeights
	MeanPrecisionAt float64
	MeanRecall      float64
}

// DefaultWeightGrid is the sweep's candidate (keyword, vector) pairs, each
// summing to 1.0 within the tolerance NewHybridWeights enforces.
func DefaultWeightGrid() []search.HybridWeights {
	keywordFractions := []float64{0.0, 0.2, 0.4, 0.5, 0.6, 0.8, 1.0}
	grid := make([]search.HybridWeights, 0, len(keywordFractions))
	for _, kw := range keywordFractions {
		grid = append(grid, search.HybridWeights{Keyword: kw, Vector: 1.0 - kw})
	}
	return grid
}

// SweepWeights evaluates every candidate in grid against judgments (mutating
// o.Weights for the duration of each run) and returns all candidates sorted
// best-mean-precision-first, along with the top recommendation. o.Weights is
// restored to its original value before returning.
func SweepWeights(ctx context.Context, o *search.Orchestrator, judgments []Judgment, k int, grid []search.HybridWeights) ([]WeightCandidate, error) {
	if grid == nil {
		grid = DefaultWeightGrid()
	}

	original := o.Weights
	defer func() { o.Weights = original }()

	candidates := make([]WeightCandidate, 0, len(grid))
	for _, w := range grid {
		o.Weights = w
		report, err := Evaluate(ctx, o, judgments, k)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, WeightCandidate{
			Weights:         w,
			MeanPrecisionAt: report.MeanPrecisionAt,
			MeanRecall:      report.MeanRecall,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].MeanPrecisionAt > candidates[j].MeanPrecisionAt
	})
	return candidates, nil
}

// Recommend returns the best-scoring candidate from SweepWeights, or the
// default weights unchanged if judgments is empty (nothing to optimize
// against).
func Recommend(ctx context.Context, o *search.Orchestrator, judgments []Judgment, k int) (search.HybridWeights, error) {
	if len(judgments) == 0 {
		return search.DefaultHybridWeights(), nil
	}
	candidates, err := SweepWeights(ctx, o, judgments, k, nil)
	if err != nil {
		return search.HybridWeights{}, err
	}
	return candidates[0].Weights, nil
}
