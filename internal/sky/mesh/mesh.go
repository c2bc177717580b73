// Package mesh maintains an incremental Delaunay triangulation of points in
// the plane.
//
// The triangulation is enclosed by a large sentinel triangle whose three
// corners carry negative VertexIDs. Sentinels are artifacts of the
// construction and are never reported as neighbours, edges or triangles.
//
// Every real vertex carries an int64 reference chosen by the caller, which
// is how the mesh points back at whatever the vertex represents without
// owning it. VertexIDs are never reused, so a handle held by a caller
// either names the same vertex or no vertex at all.
package mesh

import (
	"cmp"
	"fmt"
	"math"
	"slices"
)

// VertexID is a stable handle to a mesh vertex.
type VertexID int64

// NoVertex is the zero handle; it never names a vertex.
const NoVertex VertexID = 0

// IsSentinel reports whether id names one of the enclosing corners.
func (id VertexID) IsSentinel() bool { return id < 0 }

// Point is a position in the plane.
type Point struct {
	X float64
	Y float64
}

// Rect is an axis-aligned bounding box.
type Rect struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

// Contains reports whether p lies inside r, edges included.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.MinX && p.X <= r.MaxX && p.Y >= r.MinY && p.Y <= r.MaxY
}

// Union returns the smallest Rect containing r and p.
func (r Rect) Union(p Point) Rect {
	return Rect{
		MinX: math.Min(r.MinX, p.X),
		MinY: math.Min(r.MinY, p.Y),
		MaxX: math.Max(r.MaxX, p.X),
		MaxY: math.Max(r.MaxY, p.Y),
	}
}

// sentinelMargin scales the enclosing triangle relative to the bounds.
const sentinelMargin = 16

type vertex struct {
	p   Point
	ref int64
}

// triangle vertices are stored counter-clockwise.
type triangle [3]VertexID

func (t triangle) finite() bool {
	return t[0] > 0 && t[1] > 0 && t[2] > 0
}

func (t triangle) has(id VertexID) bool {
	return t[0] == id || t[1] == id || t[2] == id
}

// Mesh is a Delaunay triangulation with stable vertex handles.
// It is not safe for concurrent use.
type Mesh struct {
	bounds   Rect
	sentinel [3]Point
	verts    map[VertexID]vertex
	byPoint  map[Point]VertexID
	tris     []triangle
	nextID   VertexID
}

// New returns an empty mesh sized for points inside bounds. Points outside
// bounds are still accepted; the mesh grows and rebuilds when one arrives.
func New(bounds Rect) *Mesh {
	if bounds.MaxX < bounds.MinX {
		bounds.MinX, bounds.MaxX = bounds.MaxX, bounds.MinX
	}
	if bounds.MaxY < bounds.MinY {
		bounds.MinY, bounds.MaxY = bounds.MaxY, bounds.MinY
	}
	m := &Mesh{
		bounds:  bounds,
		verts:   make(map[VertexID]vertex),
		byPoint: make(map[Point]VertexID),
		nextID:  1,
	}
	m.resetSentinels()
	return m
}

// Bounds returns the region the sentinel triangle is currently sized for.
func (m *Mesh) Bounds() Rect { return m.bounds }

func (m *Mesh) resetSentinels() {
	cx := (m.bounds.MinX + m.bounds.MaxX) / 2
	cy := (m.bounds.MinY + m.bounds.MaxY) / 2
	size := math.Max(m.bounds.MaxX-m.bounds.MinX, m.bounds.MaxY-m.bounds.MinY)
	if size < 1 {
		size = 1
	}
	d := size * sentinelMargin
	m.sentinel = [3]Point{
		{X: cx - 2*d, Y: cy - d},
		{X: cx + 2*d, Y: cy - d},
		{X: cx, Y: cy + 2*d},
	}
	m.tris = []triangle{{-1, -2, -3}}
}

func (m *Mesh) pos(id VertexID) Point {
	if id < 0 {
		return m.sentinel[-id-1]
	}
	return m.verts[id].p
}

// Len returns the number of real vertices.
func (m *Mesh) Len() int { return len(m.verts) }

// Locate returns the vertex at exactly p, if there is one.
func (m *Mesh) Locate(p Point) (VertexID, bool) {
	id, ok := m.byPoint[p]
	return id, ok
}

// Insert adds a vertex at p carrying ref. If a vertex already sits at p it
// is returned with inserted=false and ref is ignored.
func (m *Mesh) Insert(p Point, ref int64) (id VertexID, inserted bool) {
	if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
		panic(fmt.Sprintf("mesh: non-finite point %v", p))
	}
	if id, ok := m.byPoint[p]; ok {
		return id, false
	}

	id = m.nextID
	m.nextID++
	m.verts[id] = vertex{p: p, ref: ref}
	m.byPoint[p] = id

	if !m.bounds.Contains(p) {
		m.grow(p)
		m.rebuild()
		return id, true
	}
	m.add(id)
	return id, true
}

// grow widens the bounds to cover p with room to spare, so a slowly
// drifting point set does not rebuild on every insert.
func (m *Mesh) grow(p Point) {
	r := m.bounds.Union(p)
	padX := (r.MaxX - r.MinX) / 4
	padY := (r.MaxY - r.MinY) / 4
	if p.X < m.bounds.MinX {
		r.MinX -= padX
	}
	if p.X > m.bounds.MaxX {
		r.MaxX += padX
	}
	if p.Y < m.bounds.MinY {
		r.MinY -= padY
	}
	if p.Y > m.bounds.MaxY {
		r.MaxY += padY
	}
	m.bounds = r
}

// add runs one Bowyer-Watson step for an already registered vertex.
func (m *Mesh) add(id VertexID) {
	p := m.pos(id)

	bad := make([]bool, len(m.tris))
	nbad := 0
	for i, t := range m.tris {
		if inCircle(m.pos(t[0]), m.pos(t[1]), m.pos(t[2]), p) > 0 {
			bad[i] = true
			nbad++
		}
	}
	if nbad == 0 {
		// Only reachable through floating point trouble; fall back to the
		// triangle that contains p.
		for i, t := range m.tris {
			if contains(m.pos(t[0]), m.pos(t[1]), m.pos(t[2]), p) {
				bad[i] = true
				nbad++
				break
			}
		}
		if nbad == 0 {
			panic(fmt.Sprintf("mesh: no triangle contains %v", p))
		}
	}

	// Boundary edges of the cavity appear in exactly one bad triangle.
	type edge struct{ a, b VertexID }
	count := make(map[edge]int)
	var boundary []edge
	for i, t := range m.tris {
		if !bad[i] {
			continue
		}
		for k := 0; k < 3; k++ {
			e := edge{t[k], t[(k+1)%3]}
			count[edge{min(e.a, e.b), max(e.a, e.b)}]++
			boundary = append(boundary, e)
		}
	}

	kept := make([]triangle, 0, len(m.tris)-nbad+len(boundary))
	for i, t := range m.tris {
		if !bad[i] {
			kept = append(kept, t)
		}
	}
	for _, e := range boundary {
		if count[edge{min(e.a, e.b), max(e.a, e.b)}] != 1 {
			continue
		}
		kept = append(kept, triangle{e.a, e.b, id})
	}
	m.tris = kept
}

// rebuild re-triangulates every vertex from scratch in handle order.
func (m *Mesh) rebuild() {
	m.resetSentinels()
	for _, id := range m.Vertices() {
		m.add(id)
	}
}

// Remove deletes the vertex and every edge incident on it. It reports
// whether the vertex existed.
func (m *Mesh) Remove(id VertexID) bool {
	v, ok := m.verts[id]
	if !ok {
		return false
	}
	delete(m.verts, id)
	delete(m.byPoint, v.p)
	m.rebuild()
	return true
}

// Clear drops every vertex. Handles issued before Clear are never reissued.
func (m *Mesh) Clear() {
	clear(m.verts)
	clear(m.byPoint)
	m.resetSentinels()
}

// Ref returns the caller reference stored with the vertex.
func (m *Mesh) Ref(id VertexID) (int64, bool) {
	v, ok := m.verts[id]
	return v.ref, ok
}

// Position returns where the vertex was inserted.
func (m *Mesh) Position(id VertexID) (Point, bool) {
	v, ok := m.verts[id]
	return v.p, ok
}

// Vertices returns every real vertex handle in ascending order.
func (m *Mesh) Vertices() []VertexID {
	ids := make([]VertexID, 0, len(m.verts))
	for id := range m.verts {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Neighbours returns the real vertices sharing an edge with id, ascending.
func (m *Mesh) Neighbours(id VertexID) []VertexID {
	if _, ok := m.verts[id]; !ok {
		return nil
	}
	seen := make(map[VertexID]struct{})
	for _, t := range m.tris {
		if !t.has(id) {
			continue
		}
		for _, v := range t {
			if v != id && v > 0 {
				seen[v] = struct{}{}
			}
		}
	}
	out := make([]VertexID, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// Adjacent reports whether a and b share an edge.
func (m *Mesh) Adjacent(a, b VertexID) bool {
	if a == b || a <= 0 || b <= 0 {
		return false
	}
	for _, t := range m.tris {
		if t.has(a) && t.has(b) {
			return true
		}
	}
	return false
}

// Edges returns every edge between real vertices as {lo, hi}, sorted.
func (m *Mesh) Edges() [][2]VertexID {
	seen := make(map[[2]VertexID]struct{})
	for _, t := range m.tris {
		for k := 0; k < 3; k++ {
			a, b := t[k], t[(k+1)%3]
			if a <= 0 || b <= 0 {
				continue
			}
			seen[[2]VertexID{min(a, b), max(a, b)}] = struct{}{}
		}
	}
	out := make([][2]VertexID, 0, len(seen))
	for e := range seen {
		out = append(out, e)
	}
	slices.SortFunc(out, compareEdge)
	return out
}

// Triangles returns every triangle whose corners are all real vertices,
// counter-clockwise.
func (m *Mesh) Triangles() [][3]VertexID {
	var out [][3]VertexID
	for _, t := range m.tris {
		if t.finite() {
			out = append(out, [3]VertexID(t))
		}
	}
	slices.SortFunc(out, func(a, b [3]VertexID) int {
		for i := range a {
			if c := cmp.Compare(a[i], b[i]); c != 0 {
				return c
			}
		}
		return 0
	})
	return out
}

func compareEdge(a, b [2]VertexID) int {
	if c := cmp.Compare(a[0], b[0]); c != 0 {
		return c
	}
	return cmp.Compare(a[1], b[1])
}
