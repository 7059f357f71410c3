package evaluation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codesearch-hq/hybridsearch/internal/search"
	"github.com/codesearch-hq/hybridsearch/internal/store"
)

type fakeKeyword struct {
	hits []*store.KeywordHitDoc
}

func (f *fakeKeyword) SearchWithScores(q string, limit int, filters store.SearchFilters, includeFieldMatch bool) ([]*store.KeywordHitDoc, error) {
	return f.hits, nil
}

func (f *fakeKeyword) LookupByEntityNames(names []string, limit int, filters store.SearchFilters) ([]*store.KeywordHitDoc, error) {
	return nil, nil
}

func (f *fakeKeyword) ComputeFacets(q string, filters store.SearchFilters, maxValuesPerFacet int) (map[string][]store.FacetResult, error) {
	return nil, nil
}

func TestEvaluate_PerfectMatch(t *testing.T) {
	chunkA := store.NewChunkId("a.go", "A", 1, 2)
	chunkB := store.NewChunkId("b.go", "B", 1, 2)
	kw := &fakeKeyword{hits: []*store.KeywordHitDoc{
		{ChunkID: chunkA, Score: 1.0},
		{ChunkID: chunkB, Score: 0.5},
	}}
	o := search.NewOrchestrator(kw, nil, nil)

	judgments := []Judgment{
		{Query: "foo", Relevant: map[store.ChunkId]bool{chunkA: true, chunkB: true}},
	}

	report, err := Evaluate(context.Background(), o, judgments, 2)
	require.NoError(t, err)
	assert.Equal(t, 1.0, report.MeanPrecisionAt)
	assert.Equal(t, 1.0, report.MeanRecall)
}

func TestEvaluate_PartialMatch(t *testing.T) {
	chunkA := store.NewChunkId("a.go", "A", 1, 2)
	chunkB := store.NewChunkId("b.go", "B", 1, 2)
	chunkC := store.NewChunkId("c.go", "C", 1, 2)
	kw := &fakeKeyword{hits: []*store.KeywordHitDoc{
		{ChunkID: chunkA, Score: 1.0},
		{ChunkID: chunkC, Score: 0.5},
	}}
	o := search.NewOrchestrator(kw, nil, nil)

	judgments := []Judgment{
		{Query: "foo", Relevant: map[store.ChunkId]bool{chunkA: true, chunkB: true}},
	}

	report, err := Evaluate(context.Background(), o, judgments, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, report.MeanPrecisionAt, 1e-9)
	assert.InDelta(t, 0.5, report.MeanRecall, 1e-9)
}

func TestEvaluate_EmptyJudgments(t *testing.T) {
	o := search.NewOrchestrator(&fakeKeyword{}, nil, nil)
	report, err := Evaluate(context.Background(), o, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, len(report.PerQuery))
}

func TestSweepWeights_PrefersMatchingBackend(t *testing.T) {
	chunkA := store.NewChunkId("a.go", "A", 1, 2)
	kw := &fakeKeyword{hits: []*store.KeywordHitDoc{{ChunkID: chunkA, Score: 1.0}}}
	o := search.NewOrchestrator(kw, nil, nil)
	original := o.Weights

	judgments := []Judgment{
		{Query: "foo", Relevant: map[store.ChunkId]bool{chunkA: true}},
	}

	candidates, err := SweepWeights(context.Background(), o, judgments, 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	assert.Equal(t, original, o.Weights, "SweepWeights must restore original weights")

	for i := 1; i < len(candidates); i++ {
		assert.GreaterOrEqual(t, candidates[i-1].MeanPrecisionAt, candidates[i].MeanPrecisionAt)
	}
}

func TestRecommend_NoJudgmentsReturnsDefault(t *testing.T) {
	o := search.NewOrchestrator(&fakeKeyword{}, nil, nil)
	w, err := Recommend(context.Background(), o, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, search.DefaultHybridWeights(), w)
}
