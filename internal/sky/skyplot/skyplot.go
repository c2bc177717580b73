// Package skyplot renders pipeline snapshots with gonum/plot.
package skyplot

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/starfield/internal/sky/feature"
	"github.com/banshee-data/starfield/internal/sky/pipeline"
)

// ErrNoSnapshot is returned when there is nothing to draw.
var ErrNoSnapshot = errors.New("skyplot: nil snapshot")

// Options controls a rendering. Zero values use the defaults.
type Options struct {
	Width  vg.Length
	Height vg.Length
	Title  string
	// HideMesh omits the Delaunay edges.
	HideMesh bool
	// HideLabels omits constellation names.
	HideLabels bool
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = 8 * vg.Inch
	}
	if o.Height <= 0 {
		o.Height = 6 * vg.Inch
	}
	return o
}

var meshColour = color.RGBA{R: 90, G: 90, B: 110, A: 255}

var stateColours = map[feature.State]color.Color{
	feature.StateNew:    color.RGBA{R: 120, G: 180, B: 255, A: 255},
	feature.StateMature: color.RGBA{R: 255, G: 230, B: 120, A: 255},
}

// Mature features are drawn last so they sit on top.
var stateOrder = []feature.State{feature.StateNew, feature.StateMature}

// Render builds a plot of s in image coordinates, y growing downward.
func Render(s *pipeline.Snapshot, o Options) (*plot.Plot, error) {
	if s == nil {
		return nil, ErrNoSnapshot
	}
	o = o.withDefaults()

	p := plot.New()
	p.Title.Text = o.Title
	if p.Title.Text == "" {
		p.Title.Text = fmt.Sprintf("frame %d", s.Frame)
	}
	p.X.Label.Text = "x (px)"
	p.Y.Label.Text = "y (px)"
	p.Y.Scale = plot.InvertedScale{Normalizer: plot.LinearScale{}}
	p.Legend.Top = true
	p.Legend.Left = false

	if !o.HideMesh && len(s.MeshEdges) > 0 {
		m := &segments{edges: s.MeshEdges, style: draw.LineStyle{Color: meshColour, Width: vg.Points(0.5)}}
		p.Add(m)
		p.Legend.Add("mesh", m)
	}

	colours := generateColors(len(s.Constellations))
	for i, c := range s.Constellations {
		seg := &segments{edges: c.Edges, style: draw.LineStyle{Color: colours[i], Width: vg.Points(1.5)}}
		p.Add(seg)
		p.Legend.Add(c.Name, seg)
	}

	for _, st := range stateOrder {
		var pts plotter.XYs
		for _, f := range s.Features {
			if f.State == st {
				pts = append(pts, plotter.XY{X: f.X, Y: f.Y})
			}
		}
		if len(pts) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, fmt.Errorf("%s features: %w", st, err)
		}
		sc.GlyphStyle.Color = stateColours[st]
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		sc.GlyphStyle.Radius = vg.Points(1.5)
		if st == feature.StateMature {
			sc.GlyphStyle.Radius = vg.Points(2.5)
		}
		p.Add(sc)
		p.Legend.Add(string(st), sc)
	}

	if !o.HideLabels && len(s.Constellations) > 0 {
		var xyl plotter.XYLabels
		for _, c := range s.Constellations {
			x, y, ok := centroid(c.Edges)
			if !ok {
				continue
			}
			xyl.XYs = append(xyl.XYs, plotter.XY{X: x, Y: y})
			xyl.Labels = append(xyl.Labels, c.Name)
		}
		if len(xyl.Labels) > 0 {
			labels, err := plotter.NewLabels(xyl)
			if err != nil {
				return nil, fmt.Errorf("constellation labels: %w", err)
			}
			p.Add(labels)
		}
	}

	w, h := float64(s.Width), float64(s.Height)
	if w <= 0 || h <= 0 {
		w, h = math.Max(p.X.Max, 1), math.Max(p.Y.Max, 1)
	}
	p.X.Min, p.X.Max = 0, w
	p.Y.Min, p.Y.Max = 0, h
	return p, nil
}

// WritePNG renders s and writes it to w as PNG.
func WritePNG(w io.Writer, s *pipeline.Snapshot, o Options) error {
	o = o.withDefaults()
	p, err := Render(s, o)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(o.Width, o.Height, "png")
	if err != nil {
		return fmt.Errorf("png canvas: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}

// centroid is the mean position of the distinct stars touched by edges.
func centroid(edges []pipeline.Edge) (x, y float64, ok bool) {
	seen := make(map[feature.ID]bool)
	n := 0
	add := func(id feature.ID, px, py float64) {
		if seen[id] {
			return
		}
		seen[id] = true
		x += px
		y += py
		n++
	}
	for _, e := range edges {
		add(e.A, e.X1, e.Y1)
		add(e.B, e.X2, e.Y2)
	}
	if n == 0 {
		return 0, 0, false
	}
	return x / float64(n), y / float64(n), true
}

// segments draws disjoint line segments, one per edge.
type segments struct {
	edges []pipeline.Edge
	style draw.LineStyle
}

func (s *segments) Plot(c draw.Canvas, p *plot.Plot) {
	trX, trY := p.Transforms(&c)
	lines := make([][]vg.Point, 0, len(s.edges))
	for _, e := range s.edges {
		lines = append(lines, []vg.Point{
			{X: trX(e.X1), Y: trY(e.Y1)},
			{X: trX(e.X2), Y: trY(e.Y2)},
		})
	}
	c.StrokeLines(s.style, c.ClipLinesXY(lines...)...)
}

func (s *segments) DataRange() (xmin, xmax, ymin, ymax float64) {
	xmin, ymin = math.Inf(1), math.Inf(1)
	xmax, ymax = math.Inf(-1), math.Inf(-1)
	for _, e := range s.edges {
		xmin = math.Min(xmin, math.Min(e.X1, e.X2))
		xmax = math.Max(xmax, math.Max(e.X1, e.X2))
		ymin = math.Min(ymin, math.Min(e.Y1, e.Y2))
		ymax = math.Max(ymax, math.Max(e.Y1, e.Y2))
	}
	return xmin, xmax, ymin, ymax
}

func (s *segments) Thumbnail(c *draw.Canvas) {
	y := c.Center().Y
	c.StrokeLine2(s.style, c.Min.X, y, c.Max.X, y)
}

// generateColors spreads n hues evenly around the colour wheel.
func generateColors(n int) []color.Color {
	colours := make([]color.Color, n)
	for i := range n {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.55)
		colours[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colours
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	q := l + s - l*s
	if l < 0.5 {
		q = l * (1 + s)
	}
	p := 2*l - q
	return uint8(hueToRGB(p, q, h+1.0/3.0) * 255),
		uint8(hueToRGB(p, q, h) * 255),
		uint8(hueToRGB(p, q, h-1.0/3.0) * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
