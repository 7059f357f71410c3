package store

import (
	"context"
	"fmt"
	"sync"
)

// VectorIndex is the dense-vector operation surface over HNSWStore:
// store, store_batch, search(+threshold), delete, delete_batch,
// health_check, stats. HNSWStore already treats Add/Delete as batch
// operations, so this is a thin adapter adding threshold filtering, the
// health check, and the stats shape.
type VectorIndex struct {
	mu        sync.RWMutex
	store     *HNSWStore
	dimension int
}

// VectorIndexStats is the vector index's stats() shape.
type VectorIndexStats struct {
	Count      int
	Dimensions int
	Metric     string
}

// NewVectorIndex wraps an HNSWStore configured for the given fixed dimension.
func NewVectorIndex(cfg VectorStoreConfig) (*VectorIndex, error) {
	hs, err := NewHNSWStore(cfg)
	if err != nil {
		return nil, err
	}
	return &VectorIndex{store: hs, dimension: cfg.Dimensions}, nil
}

// Store inserts or updates a single vector under id. Rejects vectors whose
// dimension doesn't match the index's fixed dimension.
func (v *VectorIndex) Store(ctx context.Context, id string, vector []float32) error {
	return v.StoreBatch(ctx, []string{id}, [][]float32{vector})
}

// StoreBatch inserts or updates multiple vectors atomically as one batch.
func (v *VectorIndex) StoreBatch(ctx context.Context, ids []string, vectors [][]float32) error {
	for _, vec := range vectors {
		if vec == nil || len(vec) != v.dimension {
			return ErrDimensionMismatch{Expected: v.dimension, Got: len(vec)}
		}
	}
	return v.hnsw().Add(ctx, ids, vectors)
}

// Search returns the k nearest neighbors to query, optionally filtering to
// results whose similarity score is >= threshold. A threshold of 0 applies
// no filtering.
func (v *VectorIndex) Search(ctx context.Context, query []float32, k int, threshold float32) ([]*VectorResult, error) {
	results, err := v.hnsw().Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	if threshold <= 0 {
		return results, nil
	}
	filtered := make([]*VectorResult, 0, len(results))
	for _, r := range results {
		if r.Score >= threshold {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// Delete removes a single vector by id.
func (v *VectorIndex) Delete(ctx context.Context, id string) error {
	return v.DeleteBatch(ctx, []string{id})
}

// DeleteBatch removes multiple vectors by id in one call.
func (v *VectorIndex) DeleteBatch(ctx context.Context, ids []string) error {
	return v.hnsw().Delete(ctx, ids)
}

// HealthCheck reports whether the underlying store is open and usable.
func (v *VectorIndex) HealthCheck(ctx context.Context) error {
	if v.hnsw().closed {
		return fmt.Errorf("vector index is closed")
	}
	return nil
}

// Stats returns the index's current size and configuration.
func (v *VectorIndex) Stats() VectorIndexStats {
	hs := v.hnsw()
	return VectorIndexStats{
		Count:      hs.Count(),
		Dimensions: v.dimension,
		Metric:     hs.config.Metric,
	}
}

// Load restores a persisted index from path.
func (v *VectorIndex) Load(path string) error {
	return v.hnsw().Load(path)
}

// Save persists the index to path.
func (v *VectorIndex) Save(path string) error {
	return v.hnsw().Save(path)
}

// Close releases the underlying store's resources.
func (v *VectorIndex) Close() error {
	return v.hnsw().Close()
}

func (v *VectorIndex) hnsw() *HNSWStore {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.store
}

// HNSWStats exposes the underlying graph statistics (orphan accounting for
// background compaction).
func (v *VectorIndex) HNSWStats() HNSWStats {
	return v.hnsw().Stats()
}

// Swap atomically replaces the underlying store and returns the previous
// one, so a freshly compacted graph can be hot-swapped under live readers.
// The caller owns closing the returned store.
func (v *VectorIndex) Swap(hs *HNSWStore) *HNSWStore {
	v.mu.Lock()
	defer v.mu.Unlock()
	old := v.store
	v.store = hs
	return old
}
