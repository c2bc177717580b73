package graph

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestInsertIsSymmetric(t *testing.T) {
	t.Parallel()

	g := New[int]()
	assert.True(t, g.Insert(1, 2))
	assert.True(t, g.Insert(2, 3))

	assert.Equal(t, []int{2}, g.Neighbours(1))
	assert.Equal(t, []int{1, 3}, g.Neighbours(2))
	assert.Equal(t, []int{2}, g.Neighbours(3))
	assert.True(t, g.Has(1, 2))
	assert.True(t, g.Has(2, 1))
	assert.False(t, g.Has(1, 3))
	assert.Equal(t, 2, g.EdgeCount())
	assert.Equal(t, 3, g.Len())
}

func TestInsertIdempotent(t *testing.T) {
	t.Parallel()

	g := New[string]()
	assert.True(t, g.Insert("a", "b"))
	assert.False(t, g.Insert("a", "b"))
	assert.False(t, g.Insert("b", "a"))
	assert.Equal(t, 1, g.EdgeCount())
	assert.Equal(t, [][2]string{{"a", "b"}}, g.Edges())
}

func TestSelfLoopIgnored(t *testing.T) {
	t.Parallel()

	g := New[int]()
	assert.False(t, g.Insert(4, 4))
	assert.Equal(t, 0, g.Len())
	assert.Equal(t, 0, g.EdgeCount())
	assert.False(t, g.Contains(4))
}

func TestEraseCascades(t *testing.T) {
	t.Parallel()

	g := New[int]()
	g.Insert(1, 2)
	g.Insert(1, 3)
	g.Insert(2, 3)
	g.Insert(3, 4)

	former := g.Erase(3)
	assert.Equal(t, []int{1, 2, 4}, former)

	for _, v := range g.Vertices() {
		assert.NotContains(t, g.Neighbours(v), 3)
	}
	assert.False(t, g.Contains(3))
	assert.False(t, g.Contains(4), "isolated vertex should disappear")
	assert.Equal(t, 1, g.EdgeCount())
	assert.Equal(t, [][2]int{{1, 2}}, g.Edges())
}

func TestEraseMissingIsNoop(t *testing.T) {
	t.Parallel()

	g := New[int]()
	g.Insert(1, 2)
	assert.Nil(t, g.Erase(9))
	assert.Equal(t, 1, g.EdgeCount())
}

func TestNeighboursOfMissingVertex(t *testing.T) {
	t.Parallel()

	g := New[int]()
	assert.Empty(t, g.Neighbours(5))
}

func TestEdgesSorted(t *testing.T) {
	t.Parallel()

	g := New[int]()
	g.Insert(5, 1)
	g.Insert(3, 2)
	g.Insert(1, 3)

	want := [][2]int{{1, 3}, {1, 5}, {2, 3}}
	if diff := cmp.Diff(want, g.Edges()); diff != "" {
		t.Errorf("Edges() mismatch (-want +got):\n%s", diff)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()

	g := New[int]()
	g.Insert(1, 2)
	g.Insert(2, 3)

	c := g.Clone()
	c.Erase(2)
	c.Insert(7, 8)

	assert.Equal(t, 2, g.EdgeCount())
	assert.Equal(t, []int{1, 3}, g.Neighbours(2))
	assert.Equal(t, [][2]int{{7, 8}}, c.Edges())
}

func TestClear(t *testing.T) {
	t.Parallel()

	g := New[int]()
	g.Insert(1, 2)
	g.Clear()
	assert.Equal(t, 0, g.Len())
	assert.Equal(t, 0, g.EdgeCount())
	assert.Empty(t, g.Edges())
	assert.True(t, g.Insert(1, 2))
}
