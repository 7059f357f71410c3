package search

import (
	"fmt"
	"math"

	cserrors "github.com/codesearch-hq/hybridsearch/internal/errors"
)

// weightSumTolerance bounds the |keyword+vector-1| check.
const weightSumTolerance = 1e-6

// DefaultKeywordWeight and DefaultVectorWeight are the process defaults
// unless overridden by configuration or a
// per-request override.
const (
	DefaultKeywordWeight = 0.6
	DefaultVectorWeight  = 0.4
)

// HybridWeights holds validated keyword/vector weights summing to 1.0.
// Construct only via NewHybridWeights or DefaultHybridWeights.
type HybridWeights struct {
	Keyword float64
	Vector  float64
}

// DefaultHybridWeights returns the process-default weights (0.6/0.4).
func DefaultHybridWeights() HybridWeights {
	return HybridWeights{Keyword: DefaultKeywordWeight, Vector: DefaultVectorWeight}
}

// NewHybridWeights validates and constructs a HybridWeights. Both weights
// must be in [0,1] and sum to 1.0 within weightSumTolerance; both-zero never
// passes the sum check. On failure it returns an InvariantViolation error
//.
func NewHybridWeights(keyword, vector float64) (HybridWeights, error) {
	if keyword < 0 || keyword > 1 || vector < 0 || vector > 1 {
		return HybridWeights{}, cserrors.New(
			cserrors.ErrCodeWeightInvariant,
			fmt.Sprintf("hybrid weights out of range: keyword=%v vector=%v", keyword, vector),
			nil,
		)
	}
	if math.Abs(keyword+vector-1.0) > weightSumTolerance {
		return HybridWeights{}, cserrors.New(
			cserrors.ErrCodeWeightInvariant,
			fmt.Sprintf("hybrid weights must sum to 1.0 (±%g): got %v+%v=%v", weightSumTolerance, keyword, vector, keyword+vector),
			nil,
		)
	}
	return HybridWeights{Keyword: keyword, Vector: vector}, nil
}

// Combine linearly combines a normalized keyword score and a normalized
// vector score: w_k*k + w_v*v.
func (w HybridWeights) Combine(keywordScore, vectorScore float64) float64 {
	return w.Keyword*keywordScore + w.Vector*vectorScore
}
