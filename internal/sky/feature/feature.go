// Package feature holds the per-point state machine for tracked features.
package feature

import (
	"fmt"

	"github.com/banshee-data/starfield/internal/sky/mesh"
)

// DefaultAdulthood is the number of updates a feature must survive before
// it matures.
const DefaultAdulthood = 10

// ID is a tracker-assigned key, unique for the life of the tracker. Other
// components refer to features by ID rather than by pointer.
type ID int64

// State represents the lifecycle state of a feature.
type State string

const (
	StateNew    State = "new"    // Recently detected, not yet trusted
	StateMature State = "mature" // Survived long enough to join the mesh
	StateDead   State = "dead"   // Removed; terminal

	// StateFloating is part of the lifecycle vocabulary but no transition
	// in this package produces it. IsTracked treats it like Dead.
	StateFloating State = "floating"
)

// Feature is one tracked point. It is owned by the tracker slot that
// created it.
type Feature struct {
	id   ID
	slot int

	initX, initY float32
	x, y         float32
	prevX, prevY float32

	age       int
	val       int
	adulthood int
	state     State
	handle    mesh.VertexID
}

// New returns a feature first seen at (x, y) with tracker confidence val.
// A non-positive adulthood uses DefaultAdulthood.
func New(id ID, slot int, x, y float32, val, adulthood int) *Feature {
	if adulthood <= 0 {
		adulthood = DefaultAdulthood
	}
	return &Feature{
		id:        id,
		slot:      slot,
		initX:     x,
		initY:     y,
		x:         x,
		y:         y,
		prevX:     x,
		prevY:     y,
		val:       val,
		adulthood: adulthood,
		state:     StateNew,
	}
}

// Update records a new position. It returns true on the single update that
// promotes the feature from New to Mature. Dead features ignore
// updates.
func (f *Feature) Update(x, y float32) bool {
	if !f.IsTracked() {
		return false
	}
	f.age++

	f.prevX, f.prevY = f.x, f.y
	f.x, f.y = x, y

	if f.age > f.adulthood && f.state == StateNew {
		f.state = StateMature
		return true
	}
	return false
}

// Kill marks the feature dead. It cannot be revived.
func (f *Feature) Kill() { f.state = StateDead }

// IsTracked reports whether the tracker is still updating the feature.
func (f *Feature) IsTracked() bool {
	return f.state != StateDead && f.state != StateFloating
}

func (f *Feature) ID() ID         { return f.id }
func (f *Feature) Slot() int      { return f.slot }
func (f *Feature) X() float32     { return f.x }
func (f *Feature) Y() float32     { return f.y }
func (f *Feature) InitX() float32 { return f.initX }
func (f *Feature) InitY() float32 { return f.initY }
func (f *Feature) PrevX() float32 { return f.prevX }
func (f *Feature) PrevY() float32 { return f.prevY }
func (f *Feature) Age() int       { return f.age }
func (f *Feature) State() State   { return f.state }

// Weight is the tracker confidence recorded when the feature was detected.
func (f *Feature) Weight() int { return f.val }

// DeltaX is the horizontal movement over the last update.
func (f *Feature) DeltaX() float32 { return f.x - f.prevX }

// DeltaY is the vertical movement over the last update.
func (f *Feature) DeltaY() float32 { return f.y - f.prevY }

// Handle is the feature's mesh vertex, or mesh.NoVertex.
func (f *Feature) Handle() mesh.VertexID { return f.handle }

// SetHandle records the feature's mesh vertex.
func (f *Feature) SetHandle(h mesh.VertexID) { f.handle = h }

func (f *Feature) String() string {
	return fmt.Sprintf("feature %d slot=%d (%.1f,%.1f) age=%d val=%d %s",
		f.id, f.slot, f.x, f.y, f.age, f.val, f.state)
}
