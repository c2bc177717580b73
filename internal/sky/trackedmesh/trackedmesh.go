// Package trackedmesh couples the feature tracker to a planar mesh over
// the mature features and estimates ego-motion from their drift.
//
// Mesh vertices are inserted at stabilised coordinates: the feature's live
// position minus the accumulated ego-motion offset. Vertices are placed
// once, when a feature matures, and only move again on ReTriangulate.
package trackedmesh

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/banshee-data/starfield/internal/config"
	"github.com/banshee-data/starfield/internal/monitoring"
	"github.com/banshee-data/starfield/internal/sky/feature"
	"github.com/banshee-data/starfield/internal/sky/klt"
	"github.com/banshee-data/starfield/internal/sky/mesh"
	"github.com/banshee-data/starfield/internal/sky/tracker"
	"github.com/banshee-data/starfield/internal/sky/weighted"
)

// StarObserver is told when a feature joins or leaves the mesh.
type StarObserver interface {
	AddStar(id feature.ID)
	RemoveStar(id feature.ID)
}

type nopObserver struct{}

func (nopObserver) AddStar(feature.ID)    {}
func (nopObserver) RemoveStar(feature.ID) {}

// DefaultBounds covers a 640x480 frame.
var DefaultBounds = mesh.Rect{MinX: 0, MinY: 0, MaxX: 640, MaxY: 480}

// Config configures a TrackedMesh.
type Config struct {
	Tracker tracker.Config
	Bounds  mesh.Rect // initial mesh extent; zero uses DefaultBounds
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig, bounds mesh.Rect) Config {
	return Config{Tracker: tracker.ConfigFromTuning(cfg), Bounds: bounds}
}

// TrackedMesh is a feature tracker whose mature features form a mesh.
// It is not safe for concurrent use.
type TrackedMesh struct {
	engine   tracker.FlowEngine
	tracker  *tracker.Tracker
	mesh     *mesh.Mesh
	features map[feature.ID]*feature.Feature
	stars    map[feature.ID]struct{}
	observer StarObserver

	offX, offY float64
}

// New returns an empty TrackedMesh driving engine.
func New(engine tracker.FlowEngine, cfg Config) *TrackedMesh {
	bounds := cfg.Bounds
	if bounds == (mesh.Rect{}) {
		bounds = DefaultBounds
	}
	tm := &TrackedMesh{
		engine:   engine,
		mesh:     mesh.New(bounds),
		features: make(map[feature.ID]*feature.Feature),
		stars:    make(map[feature.ID]struct{}),
		observer: nopObserver{},
	}
	tm.tracker = tracker.New(engine, cfg.Tracker, tm)
	return tm
}

// SetObserver registers the star pool listener. Stars already in the mesh
// are announced to it immediately.
func (tm *TrackedMesh) SetObserver(o StarObserver) {
	if o == nil {
		o = nopObserver{}
	}
	tm.observer = o
	for _, id := range tm.Stars() {
		o.AddStar(id)
	}
}

// FeatureAdded implements tracker.Hooks.
func (tm *TrackedMesh) FeatureAdded(f *feature.Feature) {
	tm.features[f.ID()] = f
}

// FeatureMatured implements tracker.Hooks.
func (tm *TrackedMesh) FeatureMatured(f *feature.Feature) {
	tm.addToMesh(f)
}

// FeatureRemoved implements tracker.Hooks.
func (tm *TrackedMesh) FeatureRemoved(f *feature.Feature) {
	if h := f.Handle(); h != mesh.NoVertex {
		tm.mesh.Remove(h)
		f.SetHandle(mesh.NoVertex)
	}
	if _, ok := tm.stars[f.ID()]; ok {
		delete(tm.stars, f.ID())
		tm.observer.RemoveStar(f.ID())
	}
	delete(tm.features, f.ID())
}

func (tm *TrackedMesh) stabilised(f *feature.Feature) mesh.Point {
	return mesh.Point{X: float64(f.X()) - tm.offX, Y: float64(f.Y()) - tm.offY}
}

// addToMesh inserts f unless a vertex already occupies its position.
func (tm *TrackedMesh) addToMesh(f *feature.Feature) {
	p := tm.stabilised(f)
	if _, ok := tm.mesh.Locate(p); ok {
		monitoring.Debugf("[TrackedMesh] feature %d coincides with an existing vertex at (%.2f,%.2f)", f.ID(), p.X, p.Y)
		return
	}
	h, _ := tm.mesh.Insert(p, int64(f.ID()))
	f.SetHandle(h)
	tm.stars[f.ID()] = struct{}{}
	tm.observer.AddStar(f.ID())
}

// Update tracks img and folds the weighted mean displacement of the
// mature features into the ego-motion offset.
func (tm *TrackedMesh) Update(img klt.Image) error {
	if err := tm.tracker.Update(img); err != nil {
		return err
	}

	var dxs, dys, ws []float64
	for _, f := range tm.tracker.Features() {
		if f.State() != feature.StateMature {
			continue
		}
		dxs = append(dxs, float64(f.DeltaX()))
		dys = append(dys, float64(f.DeltaY()))
		ws = append(ws, float64(f.Weight()))
	}
	mx, okX := weighted.Mean(dxs, ws)
	my, okY := weighted.Mean(dys, ws)
	if okX && okY {
		tm.offX += mx
		tm.offY += my
	}
	return nil
}

// Zero resets the ego-motion offset.
func (tm *TrackedMesh) Zero() {
	tm.offX, tm.offY = 0, 0
}

// Offset returns the accumulated ego-motion.
func (tm *TrackedMesh) Offset() (x, y float64) {
	return tm.offX, tm.offY
}

// ReTriangulate discards the mesh and rebuilds it from every mature
// feature's live stabilised position. Features that land on an occupied
// position are left without a vertex and leave the star pool until a later
// rebuild places them.
func (tm *TrackedMesh) ReTriangulate() {
	tm.mesh.Clear()

	placed := make(map[feature.ID]struct{})
	for _, f := range tm.tracker.Features() {
		f.SetHandle(mesh.NoVertex)
		if f.State() != feature.StateMature {
			continue
		}
		p := tm.stabilised(f)
		if _, ok := tm.mesh.Locate(p); ok {
			continue
		}
		h, _ := tm.mesh.Insert(p, int64(f.ID()))
		f.SetHandle(h)
		placed[f.ID()] = struct{}{}
	}

	for _, id := range tm.Stars() {
		if _, ok := placed[id]; !ok {
			delete(tm.stars, id)
			tm.observer.RemoveStar(id)
		}
	}
	ids := make([]feature.ID, 0, len(placed))
	for id := range placed {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if _, ok := tm.stars[id]; !ok {
			tm.stars[id] = struct{}{}
			tm.observer.AddStar(id)
		}
	}
}

// Neighbours returns the features adjacent to id in the mesh, ascending.
// Features without a vertex have no neighbours.
func (tm *TrackedMesh) Neighbours(id feature.ID) []feature.ID {
	f, ok := tm.features[id]
	if !ok || f.Handle() == mesh.NoVertex {
		return nil
	}
	vs := tm.mesh.Neighbours(f.Handle())
	out := make([]feature.ID, 0, len(vs))
	for _, v := range vs {
		ref, ok := tm.mesh.Ref(v)
		if !ok {
			continue
		}
		out = append(out, feature.ID(ref))
	}
	slices.Sort(out)
	return out
}

// Weight returns the tracker confidence of id, or 0 when it is unknown.
func (tm *TrackedMesh) Weight(id feature.ID) int {
	if f, ok := tm.features[id]; ok {
		return f.Weight()
	}
	return 0
}

// Feature returns the live feature with id, or nil.
func (tm *TrackedMesh) Feature(id feature.ID) *feature.Feature {
	return tm.features[id]
}

// Features returns the live features in slot order.
func (tm *TrackedMesh) Features() []*feature.Feature {
	return tm.tracker.Features()
}

// Active returns the number of live features.
func (tm *TrackedMesh) Active() int { return tm.tracker.Active() }

// SetNumFeatures resizes the tracker. Every feature is dropped, so the mesh
// and star pool empty too.
func (tm *TrackedMesh) SetNumFeatures(minFeatures, maxFeatures int) {
	tm.tracker.SetNumFeatures(minFeatures, maxFeatures)
}

// Limits returns the tracker's min and max feature counts.
func (tm *TrackedMesh) Limits() (minFeatures, maxFeatures int) {
	return tm.tracker.Min(), tm.tracker.Max()
}

// Stars returns the IDs of features that own a mesh vertex, ascending.
func (tm *TrackedMesh) Stars() []feature.ID {
	out := make([]feature.ID, 0, len(tm.stars))
	for id := range tm.stars {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// MeshEdges returns the mesh edges as feature ID pairs {lo, hi}, sorted.
func (tm *TrackedMesh) MeshEdges() [][2]feature.ID {
	edges := tm.mesh.Edges()
	out := make([][2]feature.ID, 0, len(edges))
	for _, e := range edges {
		a, okA := tm.mesh.Ref(e[0])
		b, okB := tm.mesh.Ref(e[1])
		if !okA || !okB {
			continue
		}
		out = append(out, [2]feature.ID{feature.ID(min(a, b)), feature.ID(max(a, b))})
	}
	slices.SortFunc(out, func(x, y [2]feature.ID) int {
		if c := cmp.Compare(x[0], y[0]); c != 0 {
			return c
		}
		return cmp.Compare(x[1], y[1])
	})
	return out
}

// Triangles returns the finite mesh faces as feature ID triples.
func (tm *TrackedMesh) Triangles() [][3]feature.ID {
	tris := tm.mesh.Triangles()
	out := make([][3]feature.ID, 0, len(tris))
	for _, t := range tris {
		var ft [3]feature.ID
		for i, v := range t {
			ref, _ := tm.mesh.Ref(v)
			ft[i] = feature.ID(ref)
		}
		out = append(out, ft)
	}
	return out
}

// MeshPosition returns where the mesh placed id, in image coordinates.
func (tm *TrackedMesh) MeshPosition(id feature.ID) (x, y float64, ok bool) {
	f, found := tm.features[id]
	if !found || f.Handle() == mesh.NoVertex {
		return 0, 0, false
	}
	p, ok := tm.mesh.Position(f.Handle())
	if !ok {
		return 0, 0, false
	}
	return p.X + tm.offX, p.Y + tm.offY, true
}

// Border returns the engine's selection margin, or zeros when the engine
// does not expose one.
func (tm *TrackedMesh) Border() (x, y int) {
	if b, ok := tm.engine.(interface {
		BorderX() int
		BorderY() int
	}); ok {
		return b.BorderX(), b.BorderY()
	}
	return 0, 0
}

// CheckInvariants verifies that the mesh and the mature features agree:
// every vertex belongs to a live mature feature holding that vertex, every
// star owns a vertex, and no immature feature holds one.
func (tm *TrackedMesh) CheckInvariants() error {
	for _, v := range tm.mesh.Vertices() {
		ref, _ := tm.mesh.Ref(v)
		f, ok := tm.features[feature.ID(ref)]
		if !ok {
			return fmt.Errorf("vertex %d refers to unknown feature %d", v, ref)
		}
		if f.State() != feature.StateMature {
			return fmt.Errorf("vertex %d refers to %s feature %d", v, f.State(), ref)
		}
		if f.Handle() != v {
			return fmt.Errorf("feature %d holds vertex %d, mesh says %d", ref, f.Handle(), v)
		}
	}
	for _, f := range tm.tracker.Features() {
		_, star := tm.stars[f.ID()]
		hasVertex := f.Handle() != mesh.NoVertex
		if f.State() != feature.StateMature && hasVertex {
			return fmt.Errorf("%s feature %d holds vertex %d", f.State(), f.ID(), f.Handle())
		}
		if star != hasVertex {
			return fmt.Errorf("feature %d star=%v but vertex=%d", f.ID(), star, f.Handle())
		}
	}
	if len(tm.stars) != tm.mesh.Len() {
		return fmt.Errorf("%d stars but %d mesh vertices", len(tm.stars), tm.mesh.Len())
	}
	return nil
}
