package search

import (
	"context"

	"github.com/codesearch-hq/hybridsearch/internal/config"
	"github.com/codesearch-hq/hybridsearch/internal/graph"
	"github.com/codesearch-hq/hybridsearch/internal/queryast"
	"github.com/codesearch-hq/hybridsearch/internal/store"
)

// NewOrchestratorFromConfig builds an Orchestrator whose hybrid weights
// and per-field boost table are taken from the loaded Search configuration,
// falling back to the package defaults for any zero-valued setting. cfg is assumed
// already validated via (*config.Config).Validate at startup.
func NewOrchestratorFromConfig(cfg config.SearchConfig, keyword KeywordBackend, vector VectorBackend, graphBackend GraphBackend) *Orchestrator {
	o := NewOrchestrator(keyword, vector, graphBackend)

	if cfg.BM25Weight > 0 || cfg.SemanticWeight > 0 {
		if w, err := NewHybridWeights(cfg.BM25Weight, cfg.SemanticWeight); err == nil {
			o.Weights = w
		}
	}

	if len(cfg.FieldBoosts) > 0 {
		boosts := queryast.DefaultBoostTable()
		for field, boost := range cfg.FieldBoosts {
			boosts[field] = boost
		}
		o.Parser = queryast.NewQueryParser(boosts)
	}

	return o
}

// LoadGraphService rebuilds the structural implements/extends graph from
// the relations the indexing pipeline persisted in the metadata store's
// key-value state. Missing or corrupt state yields an empty service, which
// simply disables transitive augmentation.
func LoadGraphService(ctx context.Context, metadata store.MetadataStore) *graph.Service {
	encoded, err := metadata.GetState(ctx, store.StateKeyGraphRelations)
	if err != nil || encoded == "" {
		return graph.NewService()
	}
	rels, err := graph.DecodeRelations(encoded)
	if err != nil {
		return graph.NewService()
	}
	return graph.ServiceFromRelations(rels)
}

// RequestDefaults fills the facet-limit and transitive-depth fields of req
// from cfg whenever the caller left them unset, so an HTTP/MCP adapter can
// build a bare Request{Query: ..., Transitive: true} and get
// the configured defaults rather than ValidateRequest's zero-depth
// rejection.
func RequestDefaults(req Request, cfg config.SearchConfig) Request {
	if req.FacetLimit == 0 && cfg.FacetLimit > 0 {
		req.FacetLimit = cfg.FacetLimit
	}
	if req.Transitive && req.Depth == 0 && cfg.Transitive.DefaultDepth > 0 {
		req.Depth = cfg.Transitive.DefaultDepth
	}
	return req
}
