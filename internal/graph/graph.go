// Package graph implements the structural Graph Query Service:
// a directed graph of entity names connected by "implements" and "extends"
// edges, queried for transitive closures up to a bounded depth.
package graph

import (
	"fmt"

	dgraph "github.com/dominikbraun/graph"

	"github.com/codesearch-hq/hybridsearch/internal/queryast"
)

// MinDepth and MaxDepth bound the transitive closure traversal.
const (
	MinDepth = 1
	MaxDepth = 10
)

// DefaultDepth is used when a caller doesn't specify one.
const DefaultDepth = 1

// RelationKind distinguishes the two structural edge types this service
// understands.
type RelationKind string

const (
	RelationImplements RelationKind = "implements"
	RelationExtends    RelationKind = "extends"
)

// GraphRelatedEntity is a single hit from a closure traversal: the related
// entity's name and the path of entity names from the query target to it
// (inclusive of both ends).
type GraphRelatedEntity struct {
	EntityName       string
	RelationshipPath []string
}

// Service holds two directed graphs — one per relation kind — built over
// entity names, and answers closure queries against them.
type Service struct {
	implementsGraph dgraph.Graph[string, string]
	extendsGraph    dgraph.Graph[string, string]
}

// NewService constructs an empty Service. Use AddEdge to populate it as
// entities are ingested.
func NewService() *Service {
	hash := func(s string) string { return s }
	return &Service{
		implementsGraph: dgraph.New(hash, dgraph.Directed()),
		extendsGraph:    dgraph.New(hash, dgraph.Directed()),
	}
}

// AddEdge records that `from` stands in relation `kind` to `to` (e.g. "from
// implements to", "from extends to"). Both vertices are created on demand;
// duplicate edges are ignored.
func (s *Service) AddEdge(kind RelationKind, from, to string) error {
	g := s.graphFor(kind)
	_ = g.AddVertex(from)
	_ = g.AddVertex(to)
	if err := g.AddEdge(from, to); err != nil && err != dgraph.ErrEdgeAlreadyExists {
		return fmt.Errorf("add %s edge %s->%s: %w", kind, from, to, err)
	}
	return nil
}

func (s *Service) graphFor(kind RelationKind) dgraph.Graph[string, string] {
	if kind == RelationExtends {
		return s.extendsGraph
	}
	return s.implementsGraph
}

// ClampDepth restricts depth to [1, MaxDepth].
func ClampDepth(depth int) int {
	if depth < 1 {
		return 1
	}
	if depth > MaxDepth {
		return MaxDepth
	}
	return depth
}

// ImplementsClosure returns every entity reachable from target by following
// "implements" edges up to depth hops (depth clamped to [1,10]).
func (s *Service) ImplementsClosure(target string, depth int) []GraphRelatedEntity {
	return closure(s.implementsGraph, target, ClampDepth(depth))
}

// ExtendsClosure is the "extends" counterpart of ImplementsClosure.
func (s *Service) ExtendsClosure(target string, depth int) []GraphRelatedEntity {
	return closure(s.extendsGraph, target, ClampDepth(depth))
}

// closure performs a depth-bounded DFS from target, recording the first
// (shallowest) path found to each reachable vertex. A vertex seen again at
// a deeper level is not re-traversed.
func closure(g dgraph.Graph[string, string], target string, depth int) []GraphRelatedEntity {
	var results []GraphRelatedEntity
	visited := make(map[string]int) // vertex -> depth first visited at

	var traverse func(current string, currentDepth int, path []string)
	traverse = func(current string, currentDepth int, path []string) {
		if currentDepth > depth {
			return
		}
		adjacency, err := g.AdjacencyMap()
		if err != nil {
			return
		}
		edges, ok := adjacency[current]
		if !ok {
			return
		}
		for to := range edges {
			if prevDepth, seen := visited[to]; seen && prevDepth <= currentDepth {
				continue
			}
			visited[to] = currentDepth
			nextPath := append(append([]string{}, path...), to)
			results = append(results, GraphRelatedEntity{EntityName: to, RelationshipPath: nextPath})
			if currentDepth < depth {
				traverse(to, currentDepth+1, nextPath)
			}
		}
	}

	traverse(target, 1, []string{target})
	return results
}

// FindRelatedEntities dispatches a structural query: it first
// tries to parse q as an "implements:" or "extends:" structural query via
// internal/queryast, and returns (nil, false) when q matches neither shape
// (the caller should fall back to the ordinary search pipeline in that case).
func (s *Service) FindRelatedEntities(q string, depth int) ([]GraphRelatedEntity, bool) {
	if target, ok := queryast.ParseImplementsTarget(q); ok {
		return s.ImplementsClosure(target, depth), true
	}
	if target, ok := queryast.ParseExtendsTarget(q); ok {
		return s.ExtendsClosure(target, depth), true
	}
	return nil, false
}
