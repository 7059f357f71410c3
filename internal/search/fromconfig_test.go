package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codesearch-hq/hybridsearch/internal/config"
)

func TestNewOrchestratorFromConfig_AppliesWeightsAndBoosts(t *testing.T) {
	cfg := config.SearchConfig{
		BM25Weight:     0.8,
		SemanticWeight: 0.2,
		FieldBoosts:    map[string]float64{"doc_summary": 5.0},
	}
	kw := &fakeKeyword{}
	o := NewOrchestratorFromConfig(cfg, kw, nil, nil)

	require.NotNil(t, o)
	assert.InDelta(t, 0.8, o.Weights.Keyword, 1e-9)
	assert.InDelta(t, 0.2, o.Weights.Vector, 1e-9)
	require.NotNil(t, o.Parser)
}

func TestNewOrchestratorFromConfig_FallsBackToDefaults(t *testing.T) {
	o := NewOrchestratorFromConfig(config.SearchConfig{}, &fakeKeyword{}, nil, nil)
	assert.Equal(t, DefaultHybridWeights(), o.Weights)
}

func TestRequestDefaults_FillsFacetLimitAndDepth(t *testing.T) {
	cfg := config.SearchConfig{
		FacetLimit: 7,
		Transitive: config.TransitiveConfig{DefaultDepth: 4, MaxDepth: 10},
	}
	req := RequestDefaults(Request{Query: "x", Transitive: true}, cfg)
	assert.Equal(t, 7, req.FacetLimit)
	assert.Equal(t, 4, req.Depth)
}

func TestRequestDefaults_LeavesExplicitValuesAlone(t *testing.T) {
	cfg := config.SearchConfig{
		FacetLimit: 7,
		Transitive: config.TransitiveConfig{DefaultDepth: 4, MaxDepth: 10},
	}
	req := RequestDefaults(Request{Query: "x", Transitive: true, Depth: 2, FacetLimit: 3}, cfg)
	assert.Equal(t, 3, req.FacetLimit)
	assert.Equal(t, 2, req.Depth)
}
