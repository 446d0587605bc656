package relationship_test

import (
	"testing"

	"github.com/devrev/omnistore/internal/relationship"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLinkAndRelated(t *testing.T) {
	g := relationship.NewGraph(zap.NewNop())

	assert.True(t, g.Link("user:1", "owns", "doc:b"))
	assert.True(t, g.Link("user:1", "owns", "doc:a"))
	assert.False(t, g.Link("user:1", "owns", "doc:a"), "duplicate link")

	assert.Equal(t, []string{"doc:a", "doc:b"}, g.Related("user:1", "owns"))
	assert.Empty(t, g.Related("user:1", "likes"))
	assert.Empty(t, g.Related("user:2", "owns"))
}

func TestDirectionIsExplicit(t *testing.T) {
	g := relationship.NewGraph(zap.NewNop())

	g.Link("a", "follows", "b")

	assert.Equal(t, []string{"b"}, g.Related("a", "follows"))
	assert.Empty(t, g.Related("b", "follows"))
	assert.Equal(t, []string{"a"}, g.RelatedTo("b", "follows"))
}

func TestUnlink(t *testing.T) {
	g := relationship.NewGraph(zap.NewNop())

	g.Link("a", "owns", "b")
	assert.True(t, g.Unlink("a", "owns", "b"))
	assert.False(t, g.Unlink("a", "owns", "b"), "already removed")

	assert.Empty(t, g.Related("a", "owns"))
	assert.Empty(t, g.RelatedTo("b", "owns"))
	assert.Equal(t, 0, g.Stats().Edges)
}

func TestAll(t *testing.T) {
	g := relationship.NewGraph(zap.NewNop())

	g.Link("a", "owns", "b")
	g.Link("c", "references", "a")
	g.Link("x", "owns", "y")

	edges := g.All("a")
	require.Len(t, edges, 2)
	assert.Contains(t, edges, relationship.Edge{Subject: "a", Predicate: "owns", Object: "b"})
	assert.Contains(t, edges, relationship.Edge{Subject: "c", Predicate: "references", Object: "a"})
}

func TestPurgeRemovesBothDirections(t *testing.T) {
	g := relationship.NewGraph(zap.NewNop())

	g.Link("a", "owns", "b")
	g.Link("c", "references", "a")
	g.Link("b", "references", "c") // untouched by purge of a

	removed := g.Purge("a")
	require.Len(t, removed, 2)

	assert.Empty(t, g.Related("a", "owns"))
	assert.Empty(t, g.Related("c", "references"))
	assert.Equal(t, []string{"c"}, g.Related("b", "references"))
	assert.Equal(t, 1, g.Stats().Edges)
}

func TestPurgeSelfEdge(t *testing.T) {
	g := relationship.NewGraph(zap.NewNop())

	g.Link("a", "references", "a")

	removed := g.Purge("a")
	assert.Len(t, removed, 1)
	assert.Equal(t, 0, g.Stats().Edges)
}

func TestEdgesIndependentOfRecords(t *testing.T) {
	g := relationship.NewGraph(zap.NewNop())

	// Neither endpoint needs a stored record
	assert.True(t, g.Link("ghost:1", "haunts", "ghost:2"))
	assert.Equal(t, []string{"ghost:2"}, g.Related("ghost:1", "haunts"))
}
