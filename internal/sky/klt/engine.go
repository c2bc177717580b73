// Package klt implements a Kanade-Lucas-Tomasi point tracker over a
// fixed-capacity slot array.
//
// The engine is stateless apart from its parameters. Callers own the slot
// slice and pass it to every call; the engine rewrites slots in place:
//
//   - SelectGoodFeatures fills every slot from scratch with the strongest
//     corners in the image (min-eigenvalue score, greedy MinDist spacing).
//   - TrackFeatures moves every alive slot from the previous frame to the
//     current one with iterative Lucas-Kanade, or marks it lost with a
//     reason code.
//   - ReplaceLostFeatures fills only the lost slots, keeping MinDist
//     spacing against the survivors.
package klt

import (
	"fmt"

	"github.com/banshee-data/starfield/internal/config"
)

// Params controls selection and tracking.
type Params struct {
	WindowWidth     int     // odd, >= 3
	WindowHeight    int     // odd, >= 3
	MinDist         int     // minimum pixel spacing between selected features
	MinEigenvalue   int     // candidates scoring below this are ignored
	MaxIterations   int     // Lucas-Kanade iterations per feature
	MinDisplacement float64 // stop iterating once |d| falls below this
	MaxResidual     float64 // mean absolute window residual above this loses the feature
	MinDeterminant  float64 // gradient matrices below this are untrackable
	Border          int     // extra margin excluded from selection; 0 uses the window half-size
	SmoothSigma     float64 // Gaussian pre-smoothing; 0 disables
}

// DefaultParams returns the parameters used when no tuning file overrides
// them.
func DefaultParams() Params {
	return Params{
		WindowWidth:     7,
		WindowHeight:    7,
		MinDist:         15,
		MinEigenvalue:   1,
		MaxIterations:   10,
		MinDisplacement: 0.1,
		MaxResidual:     10,
		MinDeterminant:  0.01,
		SmoothSigma:     0.7,
	}
}

// Validate checks the parameters for values the engine cannot work with.
func (p Params) Validate() error {
	if p.WindowWidth < 3 || p.WindowWidth%2 == 0 {
		return fmt.Errorf("klt: window width must be odd and >= 3, got %d", p.WindowWidth)
	}
	if p.WindowHeight < 3 || p.WindowHeight%2 == 0 {
		return fmt.Errorf("klt: window height must be odd and >= 3, got %d", p.WindowHeight)
	}
	if p.MinDist < 0 {
		return fmt.Errorf("klt: min dist must be non-negative, got %d", p.MinDist)
	}
	if p.MaxIterations < 1 {
		return fmt.Errorf("klt: max iterations must be at least 1, got %d", p.MaxIterations)
	}
	if p.Border < 0 {
		return fmt.Errorf("klt: border must be non-negative, got %d", p.Border)
	}
	return nil
}

// Engine is a KLT tracker configured by Params.
type Engine struct {
	p Params
}

// NewEngine returns an engine for p. Invalid parameters are an error.
func NewEngine(p Params) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Engine{p: p}, nil
}

// Params returns a copy of the engine's parameters.
func (e *Engine) Params() Params { return e.p }

// WindowWidth is the tracking window width in pixels.
func (e *Engine) WindowWidth() int { return e.p.WindowWidth }

// WindowHeight is the tracking window height in pixels.
func (e *Engine) WindowHeight() int { return e.p.WindowHeight }

// BorderX is the horizontal margin inside which features are never
// selected.
func (e *Engine) BorderX() int {
	if e.p.Border > e.p.WindowWidth/2 {
		return e.p.Border
	}
	return e.p.WindowWidth / 2
}

// BorderY is the vertical counterpart of BorderX.
func (e *Engine) BorderY() int {
	if e.p.Border > e.p.WindowHeight/2 {
		return e.p.Border
	}
	return e.p.WindowHeight / 2
}

// CountRemaining returns the number of alive slots.
func (e *Engine) CountRemaining(slots []Slot) int {
	n := 0
	for _, s := range slots {
		if s.Alive() {
			n++
		}
	}
	return n
}

// ParamsFromTuning builds Params from a loaded TuningConfig.
func ParamsFromTuning(cfg *config.TuningConfig) Params {
	return Params{
		WindowWidth:     cfg.GetWindowSize(),
		WindowHeight:    cfg.GetWindowSize(),
		MinDist:         cfg.GetMinDist(),
		MinEigenvalue:   cfg.GetMinEigenvalue(),
		MaxIterations:   cfg.GetMaxIterations(),
		MinDisplacement: cfg.GetMinDisplacement(),
		MaxResidual:     cfg.GetMaxResidual(),
		MinDeterminant:  cfg.GetMinDeterminant(),
		SmoothSigma:     cfg.GetSmoothSigma(),
	}
}
