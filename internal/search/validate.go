package search

import (
	"fmt"

	cserrors "github.com/codesearch-hq/hybridsearch/internal/errors"
	"github.com/codesearch-hq/hybridsearch/internal/graph"
	"github.com/codesearch-hq/hybridsearch/internal/store"
)

// ValidateRequest rejects malformed requests before they reach the
// orchestrator. Unlike graph.ClampDepth, which silently clamps a depth
// used internally, a request-level depth outside [1,10] is a client error
// when transitive augmentation was asked for.
func ValidateRequest(req Request) error {
	if req.Transitive && (req.Depth < 1 || req.Depth > graph.MaxDepth) {
		return cserrors.New(
			cserrors.ErrCodeDepthOutOfRange,
			fmt.Sprintf("depth must be between %d and %d, got %d", graph.MinDepth, graph.MaxDepth, req.Depth),
			nil,
		)
	}

	switch req.Mode {
	case ModeHybrid, ModeKeyword, ModeVector, "":
	default:
		return cserrors.New(cserrors.ErrCodeInvalidInput, fmt.Sprintf("unknown mode %q", req.Mode), nil)
	}

	if req.Mode == ModeVector && len(req.QueryVector) == 0 {
		return cserrors.New(cserrors.ErrCodeInvalidInput, "vector mode requires a query_vector", nil)
	}

	if req.Limit < 0 {
		return cserrors.New(cserrors.ErrCodeInvalidInput, "limit must be non-negative", nil)
	}
	if req.Offset < 0 {
		return cserrors.New(cserrors.ErrCodeInvalidInput, "offset must be non-negative", nil)
	}

	if req.Weights != nil {
		if _, err := NewHybridWeights(req.Weights.Keyword, req.Weights.Vector); err != nil {
			return err
		}
	}

	if err := validateFilters(req.Filters); err != nil {
		return err
	}

	return nil
}

func validateFilters(f store.SearchFilters) error {
	for _, l := range f.Languages {
		if l == "" {
			return cserrors.New(cserrors.ErrCodeInvalidInput, "language filter values must be non-empty", nil)
		}
	}
	return nil
}
