package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampDepth(t *testing.T) {
	assert.Equal(t, 1, ClampDepth(0))
	assert.Equal(t, 1, ClampDepth(-5))
	assert.Equal(t, MaxDepth, ClampDepth(100))
	assert.Equal(t, 5, ClampDepth(5))
}

// Scenario 6: transitive closure.
func TestImplementsClosure_TransitiveChain(t *testing.T) {
	s := NewService()
	require.NoError(t, s.AddEdge(RelationImplements, "IBase", "IRepo"))
	require.NoError(t, s.AddEdge(RelationImplements, "IRepo", "SqlRepo"))

	results := s.ImplementsClosure("IBase", 10)

	names := map[string]bool{}
	for _, r := range results {
		names[r.EntityName] = true
	}
	assert.True(t, names["IRepo"])
	assert.True(t, names["SqlRepo"])
}

func TestImplementsClosure_DepthLimited(t *testing.T) {
	s := NewService()
	require.NoError(t, s.AddEdge(RelationImplements, "A", "B"))
	require.NoError(t, s.AddEdge(RelationImplements, "B", "C"))
	require.NoError(t, s.AddEdge(RelationImplements, "C", "D"))

	results := s.ImplementsClosure("A", 1)
	names := map[string]bool{}
	for _, r := range results {
		names[r.EntityName] = true
	}
	assert.True(t, names["B"])
	assert.False(t, names["C"])
}

func TestImplementsClosure_RecordsRelationshipPath(t *testing.T) {
	s := NewService()
	require.NoError(t, s.AddEdge(RelationImplements, "A", "B"))
	require.NoError(t, s.AddEdge(RelationImplements, "B", "C"))

	results := s.ImplementsClosure("A", 10)
	var forC *GraphRelatedEntity
	for i := range results {
		if results[i].EntityName == "C" {
			forC = &results[i]
		}
	}
	require.NotNil(t, forC)
	assert.Equal(t, []string{"A", "B", "C"}, forC.RelationshipPath)
}

func TestExtendsClosure_IndependentFromImplements(t *testing.T) {
	s := NewService()
	require.NoError(t, s.AddEdge(RelationImplements, "A", "B"))
	require.NoError(t, s.AddEdge(RelationExtends, "A", "E"))

	implResults := s.ImplementsClosure("A", 10)
	extResults := s.ExtendsClosure("A", 10)

	assert.Len(t, implResults, 1)
	assert.Equal(t, "B", implResults[0].EntityName)
	assert.Len(t, extResults, 1)
	assert.Equal(t, "E", extResults[0].EntityName)
}

func TestFindRelatedEntities_DispatchesOnPrefix(t *testing.T) {
	s := NewService()
	require.NoError(t, s.AddEdge(RelationImplements, "IRepo", "SqlRepo"))

	results, ok := s.FindRelatedEntities("implements:IRepo", 5)
	require.True(t, ok)
	require.Len(t, results, 1)
	assert.Equal(t, "SqlRepo", results[0].EntityName)

	_, ok = s.FindRelatedEntities("content:foo", 5)
	assert.False(t, ok)
}
