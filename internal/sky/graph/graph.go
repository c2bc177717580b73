// Package graph provides a small undirected adjacency structure.
package graph

import (
	"cmp"
	"slices"
)

// Graph is an undirected graph without self loops. Edges are stored in
// both directions, so Neighbours(a) contains b exactly when
// Neighbours(b) contains a. A vertex exists only while it has an edge.
// The zero value is not usable; call New.
type Graph[T cmp.Ordered] struct {
	edges map[T]map[T]struct{}
	count int
}

// New returns an empty graph.
func New[T cmp.Ordered]() *Graph[T] {
	return &Graph[T]{edges: make(map[T]map[T]struct{})}
}

// Insert adds the edge a-b. Inserting an existing edge or a self loop is a
// no-op. It reports whether the edge is new.
func (g *Graph[T]) Insert(a, b T) bool {
	if a == b || g.Has(a, b) {
		return false
	}
	g.link(a, b)
	g.link(b, a)
	g.count++
	return true
}

func (g *Graph[T]) link(from, to T) {
	set, ok := g.edges[from]
	if !ok {
		set = make(map[T]struct{})
		g.edges[from] = set
	}
	set[to] = struct{}{}
}

// Erase removes v and every edge touching it. A missing vertex is ignored.
// It returns the former neighbours of v in ascending order.
func (g *Graph[T]) Erase(v T) []T {
	set, ok := g.edges[v]
	if !ok {
		return nil
	}
	former := make([]T, 0, len(set))
	for n := range set {
		former = append(former, n)
		peer := g.edges[n]
		delete(peer, v)
		if len(peer) == 0 {
			delete(g.edges, n)
		}
	}
	g.count -= len(set)
	delete(g.edges, v)
	slices.Sort(former)
	return former
}

// Has reports whether the edge a-b exists.
func (g *Graph[T]) Has(a, b T) bool {
	_, ok := g.edges[a][b]
	return ok
}

// Contains reports whether v has at least one edge.
func (g *Graph[T]) Contains(v T) bool {
	_, ok := g.edges[v]
	return ok
}

// Neighbours returns the vertices adjacent to v in ascending order.
func (g *Graph[T]) Neighbours(v T) []T {
	set := g.edges[v]
	out := make([]T, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Vertices returns every vertex with at least one edge, ascending.
func (g *Graph[T]) Vertices() []T {
	out := make([]T, 0, len(g.edges))
	for v := range g.edges {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of vertices.
func (g *Graph[T]) Len() int { return len(g.edges) }

// EdgeCount returns the number of undirected edges.
func (g *Graph[T]) EdgeCount() int { return g.count }

// Edges returns every edge once as {lo, hi}, sorted.
func (g *Graph[T]) Edges() [][2]T {
	out := make([][2]T, 0, g.count)
	for a, set := range g.edges {
		for b := range set {
			if a < b {
				out = append(out, [2]T{a, b})
			}
		}
	}
	slices.SortFunc(out, func(x, y [2]T) int {
		if c := cmp.Compare(x[0], y[0]); c != 0 {
			return c
		}
		return cmp.Compare(x[1], y[1])
	})
	return out
}

// Clear removes every vertex and edge.
func (g *Graph[T]) Clear() {
	clear(g.edges)
	g.count = 0
}

// Clone returns an independent copy.
func (g *Graph[T]) Clone() *Graph[T] {
	c := New[T]()
	for v, set := range g.edges {
		cs := make(map[T]struct{}, len(set))
		for n := range set {
			cs[n] = struct{}{}
		}
		c.edges[v] = cs
	}
	c.count = g.count
	return c
}
