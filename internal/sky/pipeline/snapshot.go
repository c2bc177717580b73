package pipeline

import (
	"time"

	"github.com/banshee-data/starfield/internal/sky/feature"
	"github.com/banshee-data/starfield/internal/sky/heaven"
	"github.com/banshee-data/starfield/internal/sky/trackedmesh"
)

// FeatureView is one active feature as published to readers.
type FeatureView struct {
	ID     feature.ID    `json:"id"`
	Slot   int           `json:"slot"`
	X      float64       `json:"x"`
	Y      float64       `json:"y"`
	Weight int           `json:"weight"`
	State  feature.State `json:"state"`
	Age    int           `json:"age"`
	Star   bool          `json:"star"`
}

// Edge joins two features, with their image coordinates.
type Edge struct {
	A  feature.ID `json:"a"`
	B  feature.ID `json:"b"`
	X1 float64    `json:"x1"`
	Y1 float64    `json:"y1"`
	X2 float64    `json:"x2"`
	Y2 float64    `json:"y2"`
}

// ConstellationView is a registered constellation.
type ConstellationView struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Created time.Time    `json:"created"`
	Stars   []feature.ID `json:"stars"`
	Edges   []Edge       `json:"edges"`
}

// Snapshot is the state published after a frame. It is never modified
// once published.
type Snapshot struct {
	Frame          int64               `json:"frame"`
	Timestamp      time.Time           `json:"timestamp"`
	Width          int                 `json:"width"`
	Height         int                 `json:"height"`
	OffsetX        float64             `json:"offset_x"`
	OffsetY        float64             `json:"offset_y"`
	Active         int                 `json:"active"`
	Stars          int                 `json:"stars"`
	Auto           bool                `json:"auto"`
	Paused         bool                `json:"paused"`
	Features       []FeatureView       `json:"features"`
	MeshEdges      []Edge              `json:"mesh_edges"`
	Constellations []ConstellationView `json:"constellations"`
}

// Constellation returns the named constellation view, or nil.
func (s *Snapshot) Constellation(name string) *ConstellationView {
	for i := range s.Constellations {
		if s.Constellations[i].Name == name {
			return &s.Constellations[i]
		}
	}
	return nil
}

type position struct{ x, y float64 }

func buildSnapshot(tm *trackedmesh.TrackedMesh, b *heaven.Builder, frame int64, ts time.Time, w, h int, auto, paused bool) *Snapshot {
	stars := make(map[feature.ID]bool)
	for _, id := range tm.Stars() {
		stars[id] = true
	}

	pos := make(map[feature.ID]position)
	feats := tm.Features()
	views := make([]FeatureView, 0, len(feats))
	for _, f := range feats {
		x, y := float64(f.X()), float64(f.Y())
		pos[f.ID()] = position{x, y}
		views = append(views, FeatureView{
			ID:     f.ID(),
			Slot:   f.Slot(),
			X:      x,
			Y:      y,
			Weight: f.Weight(),
			State:  f.State(),
			Age:    f.Age(),
			Star:   stars[f.ID()],
		})
	}

	edge := func(a, z feature.ID) Edge {
		pa, pz := pos[a], pos[z]
		return Edge{A: a, B: z, X1: pa.x, Y1: pa.y, X2: pz.x, Y2: pz.y}
	}

	meshEdges := tm.MeshEdges()
	mv := make([]Edge, 0, len(meshEdges))
	for _, e := range meshEdges {
		mv = append(mv, edge(e[0], e[1]))
	}

	cs := b.Constellations()
	cv := make([]ConstellationView, 0, len(cs))
	for _, c := range cs {
		ce := c.Edges()
		edges := make([]Edge, 0, len(ce))
		for _, e := range ce {
			edges = append(edges, edge(e[0], e[1]))
		}
		cv = append(cv, ConstellationView{
			ID:      c.ID.String(),
			Name:    c.Name,
			Created: c.Created,
			Stars:   c.Stars(),
			Edges:   edges,
		})
	}

	offX, offY := tm.Offset()
	return &Snapshot{
		Frame:          frame,
		Timestamp:      ts,
		Width:          w,
		Height:         h,
		OffsetX:        offX,
		OffsetY:        offY,
		Active:         tm.Active(),
		Stars:          len(stars),
		Auto:           auto,
		Paused:         paused,
		Features:       views,
		MeshEdges:      mv,
		Constellations: cv,
	}
}
