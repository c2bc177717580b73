package klt

// Slot values. Non-negative values mean the slot holds a live feature (the
// selection score, or Tracked after a successful track); negative values
// carry the reason the slot was lost.
const (
	Tracked       = 0
	NotFound      = -1
	SmallDet      = -2
	MaxIterations = -3
	OutOfBounds   = -4
	LargeResidual = -5
)

// Slot is one fixed position in the engine's feature array.
type Slot struct {
	X   float32
	Y   float32
	Val int
}

// Alive reports whether the slot currently holds a feature.
func (s Slot) Alive() bool { return s.Val >= 0 }

// Lost allocates n slots all marked NotFound.
func Lost(n int) []Slot {
	slots := make([]Slot, n)
	for i := range slots {
		slots[i] = Slot{X: -1, Y: -1, Val: NotFound}
	}
	return slots
}

// ReasonString names a slot value for logs.
func ReasonString(val int) string {
	switch {
	case val >= 0:
		return "tracked"
	case val == NotFound:
		return "not_found"
	case val == SmallDet:
		return "small_det"
	case val == MaxIterations:
		return "max_iterations"
	case val == OutOfBounds:
		return "out_of_bounds"
	case val == LargeResidual:
		return "large_residual"
	default:
		return "unknown"
	}
}
