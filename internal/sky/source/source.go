// Package source supplies luminance frames to the sky pipeline: a seeded
// synthetic scene, a directory of PGM files, and the helpers the frame
// loop applies to them (contrast expansion and capture to disk).
package source

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"time"

	"github.com/banshee-data/starfield/internal/sky/klt"
	"github.com/banshee-data/starfield/internal/timeutil"
)

// Frame is one luminance image with its sequence number.
type Frame struct {
	Index     int64
	Image     klt.Image
	Timestamp time.Time
}

// Source yields frames in order. Next returns io.EOF after the last frame.
type Source interface {
	Next(ctx context.Context) (*Frame, error)
	Close() error
}

// SyntheticConfig describes a generated scene.
type SyntheticConfig struct {
	Width, Height int
	// Spacing is the mean distance between blob centres.
	Spacing int
	// VX, VY is the scene drift in pixels per frame.
	VX, VY float64
	// Jitter is the amplitude of per-frame random shake, in pixels.
	Jitter float64
	// Frames limits the sequence length; zero means unlimited.
	Frames int64
	Seed   uint64
	Clock  timeutil.Clock
}

// DefaultSyntheticConfig returns a 320x240 scene drifting slowly right.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Width:   320,
		Height:  240,
		Spacing: 24,
		VX:      0.5,
		VY:      0.2,
		Jitter:  0.3,
		Seed:    1,
		Clock:   timeutil.RealClock{},
	}
}

type blob struct {
	x, y, amp, sigma float64
}

// Synthetic renders a field of Gaussian blobs that drifts each frame.
// The same config always produces the same frames.
type Synthetic struct {
	cfg    SyntheticConfig
	rng    *rand.Rand
	blobs  []blob
	index  int64
	dx, dy float64
}

// NewSynthetic lays out the blob field.
func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	def := DefaultSyntheticConfig()
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = def.Width, def.Height
	}
	if cfg.Spacing <= 0 {
		cfg.Spacing = def.Spacing
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x5eed))

	// The field is laid out wider than the frame so drifting content
	// keeps entering from the edges.
	margin := float64(cfg.Spacing * 4)
	var blobs []blob
	for y := -margin; y < float64(cfg.Height)+margin; y += float64(cfg.Spacing) {
		for x := -margin; x < float64(cfg.Width)+margin; x += float64(cfg.Spacing) {
			blobs = append(blobs, blob{
				x:     x + (rng.Float64()-0.5)*float64(cfg.Spacing)*0.6,
				y:     y + (rng.Float64()-0.5)*float64(cfg.Spacing)*0.6,
				amp:   60 + rng.Float64()*150,
				sigma: 1.5 + rng.Float64()*2.5,
			})
		}
	}
	return &Synthetic{cfg: cfg, rng: rng, blobs: blobs}
}

// Next renders the next frame.
func (s *Synthetic) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.cfg.Frames > 0 && s.index >= s.cfg.Frames {
		return nil, io.EOF
	}
	jx := (s.rng.Float64()*2 - 1) * s.cfg.Jitter
	jy := (s.rng.Float64()*2 - 1) * s.cfg.Jitter
	img := s.render(s.dx+jx, s.dy+jy)

	f := &Frame{Index: s.index, Image: img, Timestamp: s.cfg.Clock.Now()}
	s.index++
	s.dx += s.cfg.VX
	s.dy += s.cfg.VY
	return f, nil
}

func (s *Synthetic) render(dx, dy float64) klt.Image {
	w, h := s.cfg.Width, s.cfg.Height
	acc := make([]float64, w*h)
	for i := range acc {
		acc[i] = 30
	}
	for _, b := range s.blobs {
		cx, cy := b.x+dx, b.y+dy
		r := 3 * b.sigma
		x0, x1 := int(math.Floor(cx-r)), int(math.Ceil(cx+r))
		y0, y1 := int(math.Floor(cy-r)), int(math.Ceil(cy+r))
		if x1 < 0 || y1 < 0 || x0 >= w || y0 >= h {
			continue
		}
		x0, y0 = max(x0, 0), max(y0, 0)
		x1, y1 = min(x1, w-1), min(y1, h-1)
		k := -1 / (2 * b.sigma * b.sigma)
		for y := y0; y <= y1; y++ {
			ddy := float64(y) - cy
			for x := x0; x <= x1; x++ {
				ddx := float64(x) - cx
				acc[y*w+x] += b.amp * math.Exp((ddx*ddx+ddy*ddy)*k)
			}
		}
	}

	img := klt.NewImage(w, h)
	for i, v := range acc {
		img.Pix[i] = uint8(min(v, 255) + 0.5)
	}
	return img
}

// Drift returns the accumulated scene displacement so far, excluding
// jitter.
func (s *Synthetic) Drift() (dx, dy float64) { return s.dx, s.dy }

// Close is a no-op.
func (s *Synthetic) Close() error { return nil }
