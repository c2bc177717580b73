package pipeline

import (
	"errors"
	"fmt"

	"github.com/banshee-data/starfield/internal/sky/heaven"
)

// ErrQueueFull is returned by Submit when the command queue has no room.
var ErrQueueFull = errors.New("pipeline: command queue full")

// ErrUnknownConstellation is the result of removing a name that is not
// registered.
var ErrUnknownConstellation = errors.New("pipeline: no such constellation")

// CommandKind selects what a Command does.
type CommandKind int

const (
	// AddConstellation retriangulates and grows one constellation, using
	// the retry-then-clear policy.
	AddConstellation CommandKind = iota
	// RemoveConstellation removes the constellation called Name.
	RemoveConstellation
	// ClearConstellations removes every constellation.
	ClearConstellations
	// ReTriangulate rebuilds the mesh from live positions.
	ReTriangulate
	// Zero resets the ego-motion offset.
	Zero
	// Capture writes the next frame to the capture directory.
	Capture
	// SetNumFeatures resizes the tracker to Min..Max.
	SetNumFeatures
	// ToggleAuto flips automatic constellation growth.
	ToggleAuto
	// TogglePause stops or resumes tracking. Commands still run while
	// paused.
	TogglePause
	// ToggleNormalise flips contrast expansion.
	ToggleNormalise
)

var commandNames = [...]string{
	AddConstellation:    "add_constellation",
	RemoveConstellation: "remove_constellation",
	ClearConstellations: "clear_constellations",
	ReTriangulate:       "retriangulate",
	Zero:                "zero",
	Capture:             "capture",
	SetNumFeatures:      "set_num_features",
	ToggleAuto:          "toggle_auto",
	TogglePause:         "toggle_pause",
	ToggleNormalise:     "toggle_normalise",
}

func (k CommandKind) String() string {
	if k >= 0 && int(k) < len(commandNames) {
		return commandNames[k]
	}
	return fmt.Sprintf("CommandKind(%d)", int(k))
}

// Command is a request executed between frames.
type Command struct {
	Kind CommandKind
	Name string // RemoveConstellation
	Min  int    // SetNumFeatures
	Max  int    // SetNumFeatures

	// Reply, if set, receives exactly one Result. It should be buffered.
	Reply chan Result
}

// Result reports what a command did.
type Result struct {
	Kind    CommandKind    `json:"-"`
	Outcome heaven.Outcome `json:"-"`
	// Name is the constellation formed or removed.
	Name string `json:"name,omitempty"`
	// Path is the file written by Capture.
	Path string `json:"path,omitempty"`
	// State is the new value of a toggle.
	State bool  `json:"state"`
	Err   error `json:"-"`
}
