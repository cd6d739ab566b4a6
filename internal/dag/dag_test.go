package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func TestGraph_AddNodeAndEdge(t *testing.T) {
	g := NewGraph()
	g.AddNode("a", "node A")
	g.AddNode("b", "node B")
	g.AddNode("c", "node C")
	assert.Equal(t, 3, g.NodeCount())

	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))
	require.NoError(t, g.AddEdge("b", "c"))
	assert.Equal(t, 2, g.EdgeCount())
	assert.True(t, g.HasEdge("a", "b"))
	assert.Equal(t, []string{"a"}, g.GetParents("b"))
	assert.Equal(t, []string{"c"}, g.GetChildren("b"))

	g.AddNode("a", "updated")
	n, ok := g.GetNode("a")
	require.True(t, ok)
	assert.Equal(t, "updated", n.Data)
	assert.Equal(t, []string{"a", "b", "c"}, ids(g.Nodes()))
}

func TestGraph_AddEdge_Invalid(t *testing.T) {
	g := NewGraph()
	g.AddNode("a", nil)
	assert.Error(t, g.AddEdge("a", "nonexistent"))
	assert.Error(t, g.AddEdge("nonexistent", "a"))
	assert.Error(t, g.AddEdge("a", "a"))
}

func TestGraph_RemoveEdge(t *testing.T) {
	g := NewGraph()
	g.AddNode("a", nil)
	g.AddNode("b", nil)
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "a"))
	cyclic, _ := g.HasCycle()
	assert.True(t, cyclic)

	g.RemoveEdge("b", "a")
	cyclic, _ = g.HasCycle()
	assert.False(t, cyclic)
	assert.Empty(t, g.GetParents("a"))
}

func TestGraph_HasCycle(t *testing.T) {
	g := NewGraph()
	for _, id := range []string{"a", "b", "c"} {
		g.AddNode(id, nil)
	}
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))
	cyclic, path := g.HasCycle()
	assert.False(t, cyclic)
	assert.Nil(t, path)

	require.NoError(t, g.AddEdge("c", "a"))
	cyclic, path = g.HasCycle()
	assert.True(t, cyclic)
	assert.Equal(t, []string{"a", "b", "c", "a"}, path)

	_, err := g.TopologicalSort()
	assert.Error(t, err)
}

func TestGraph_TopologicalSort(t *testing.T) {
	g := NewGraph()
	// Insertion order decides ties.
	for _, id := range []string{"orders", "addresses", "users", "items"} {
		g.AddNode(id, nil)
	}
	require.NoError(t, g.AddEdge("users", "addresses"))
	require.NoError(t, g.AddEdge("users", "orders"))
	require.NoError(t, g.AddEdge("orders", "items"))

	sorted, err := g.TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, []string{"users", "orders", "addresses", "items"}, ids(sorted))

	for i := 0; i < 10; i++ {
		again, err := g.TopologicalSort()
		require.NoError(t, err)
		assert.Equal(t, ids(sorted), ids(again))
	}
}

func TestGraph_GetUpstreamNodes(t *testing.T) {
	g := NewGraph()
	for _, id := range []string{"a", "b", "c", "d"} {
		g.AddNode(id, nil)
	}
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))
	require.NoError(t, g.AddEdge("d", "c"))
	assert.Equal(t, []string{"a", "b", "d"}, g.GetUpstreamNodes("c"))
	assert.Empty(t, g.GetUpstreamNodes("a"))
}
